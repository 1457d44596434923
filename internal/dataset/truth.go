package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mwiater/voxeval/internal/errs"
)

// ParseTruth reads truth.jsonl records. Blank lines are skipped. A line that
// cannot be used still yields a Sample with Err set so the failure is
// reported per sample; only a read error is returned. The first sample for a
// wav name keeps the ID derived from it; duplicates and malformed lines get
// IDs that collide with no other sample.
func ParseTruth(r io.Reader, datasetDir string) ([]Sample, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var samples []Sample
	taken := make(map[string]int)
	var owner []bool
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s := parseLine(line, lineNo, datasetDir)
		derived := s.WavName != "" && s.ID == SampleID(s.WavName)
		claimed := false
		if derived {
			if prev, dup := taken[s.ID]; dup {
				if s.Err == nil {
					s.Err = errs.Configf("parse truth", s.WavName, "sample id %q already defined on line %d", s.ID, prev)
				}
			} else {
				taken[s.ID] = lineNo
				claimed = true
			}
		}
		samples = append(samples, s)
		owner = append(owner, claimed)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for i := range samples {
		if owner[i] {
			continue
		}
		s := &samples[i]
		base := "line-" + strconv.Itoa(s.Line)
		if s.ID != base {
			base = s.ID + "-" + base
		}
		s.ID = uniqueID(base, taken)
		taken[s.ID] = s.Line
	}
	return samples, nil
}

func uniqueID(base string, taken map[string]int) string {
	id := base
	for n := 2; ; n++ {
		if _, ok := taken[id]; !ok {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

func parseLine(line []byte, lineNo int, datasetDir string) Sample {
	s := Sample{ID: "line-" + strconv.Itoa(lineNo), Line: lineNo}

	var doc map[string]any
	if err := json.Unmarshal(line, &doc); err != nil {
		s.Err = errs.Configf("parse truth", s.ID, "malformed JSON: %v", err)
		return s
	}
	if err := Validate(TruthSchema, line); err != nil {
		if name, ok := doc["wav_name"].(string); ok && name != "" {
			s.WavName = name
		}
		s.Err = errs.Config("parse truth", s.ID, err)
		return s
	}

	s.WavName = doc["wav_name"].(string)
	s.ID = SampleID(s.WavName)

	clean := path.Clean(filepath.ToSlash(s.WavName))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		s.Err = errs.Configf("parse truth", s.WavName, "wav_name must be relative to the dataset directory")
		return s
	}
	s.WavPath = filepath.Join(datasetDir, filepath.FromSlash(clean))

	// Canonical form: encoding/json sorts map keys.
	raw, _ := json.Marshal(doc)
	s.Truth = Truth{Text: truthText(doc), Intent: ParseIntent(doc), Raw: raw}

	info, err := os.Stat(s.WavPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.Err = errs.Configf("check audio", s.WavName, "no audio file at %s", s.WavPath)
	case err != nil:
		s.Err = errs.Config("check audio", s.WavName, err)
	case info.IsDir():
		s.Err = errs.Configf("check audio", s.WavName, "%s is a directory", s.WavPath)
	}
	return s
}

// SampleID derives a sample identifier from a wav name: the cleaned path
// relative to the wav/ directory (or the dataset root) without its
// extension, with separators replaced by underscores.
func SampleID(wavName string) string {
	clean := strings.TrimPrefix(path.Clean(filepath.ToSlash(wavName)), WavDir+"/")
	clean = strings.TrimSuffix(clean, path.Ext(clean))
	return strings.ReplaceAll(clean, "/", "_")
}

func truthText(doc map[string]any) string {
	if s, ok := doc["text"].(string); ok {
		return s
	}
	if s, ok := doc["raw_text"].(string); ok {
		return s
	}
	return ""
}

// ParseIntent extracts the intent name and slots from an engine-style JSON
// object. Slots come from the "slots" object when present, otherwise from
// the "entities" list.
func ParseIntent(doc map[string]any) Intent {
	var in Intent
	if obj, ok := doc["intent"].(map[string]any); ok {
		in.Name, _ = obj["name"].(string)
	}

	slots := make(map[string]string)
	if obj, ok := doc["slots"].(map[string]any); ok && len(obj) > 0 {
		for k, v := range obj {
			slots[k] = stringify(v)
		}
	} else if list, ok := doc["entities"].([]any); ok {
		for _, item := range list {
			ent, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := ent["entity"].(string)
			if name == "" {
				continue
			}
			slots[name] = stringify(ent["value"])
		}
	}
	if len(slots) > 0 {
		in.Slots = slots
	}
	return in
}

// SlotNames returns the intent's slot names sorted.
func (i Intent) SlotNames() []string {
	names := make([]string, 0, len(i.Slots))
	for k := range i.Slots {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
