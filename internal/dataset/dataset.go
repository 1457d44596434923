// Package dataset loads evaluation datasets from the fixed on-disk layout:
//
//	<root>/<dataset>/truth.jsonl
//	<root>/<dataset>/wav/<sample>.wav
//	<root>/<dataset>/profiles/<profile>/bin/<operation>
//	<root>/<dataset>/profiles/<profile>/profile.yml
//
// Everything returned is read-only after loading.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/mwiater/voxeval/internal/errs"
)

const (
	TruthFile   = "truth.jsonl"
	ProfilesDir = "profiles"
	// WavDir is the conventional audio directory inside a dataset.
	WavDir = "wav"
)

// Intent is an intent name plus its slot values.
type Intent struct {
	Name  string            `json:"name"`
	Slots map[string]string `json:"slots,omitempty"`
}

// Truth is the expected output for one sample.
type Truth struct {
	Text   string `json:"text"`
	Intent Intent `json:"intent"`
	// Raw is the canonical JSON of the ground-truth line.
	Raw []byte `json:"-"`
}

// Sample is one audio recording with its ground truth.
type Sample struct {
	ID      string
	WavName string
	WavPath string
	Truth   Truth
	Line    int
	// Err is set when the sample cannot be evaluated, for example a
	// malformed truth line or missing audio.
	Err error
}

// Dataset is a directory of samples evaluated by a set of profiles.
type Dataset struct {
	Name     string
	Dir      string
	Samples  []Sample
	Profiles []*Profile
}

// Filter restricts discovery to named datasets and profiles. Empty means all.
type Filter struct {
	Datasets []string
	Profiles []string
}

func (f Filter) allows(list []string, name string) bool {
	if len(list) == 0 {
		return true
	}
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// Catalog is the result of discovery: the loaded datasets plus non-fatal
// problems found along the way.
type Catalog struct {
	Root     string
	Datasets []*Dataset
	Issues   []error
}

// Discover loads every dataset under root that passes filter. A missing or
// unreadable root is fatal; problems inside a single dataset are recorded as
// issues or as per-sample errors.
func Discover(root string, filter Filter) (*Catalog, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errs.Config("read datasets", root, err)
	}

	cat := &Catalog{Root: root}
	found := make(map[string]bool)
	for _, e := range entries {
		if !e.IsDir() || !filter.allows(filter.Datasets, e.Name()) {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, TruthFile)); errors.Is(err, fs.ErrNotExist) {
			if len(filter.Datasets) > 0 {
				cat.Issues = append(cat.Issues, errs.Configf("load dataset", e.Name(), "missing %s", TruthFile))
			}
			continue
		}
		ds, err := Load(dir, filter)
		if err != nil {
			return nil, err
		}
		found[ds.Name] = true
		if len(ds.Profiles) == 0 {
			cat.Issues = append(cat.Issues, errs.Configf("load dataset", ds.Name, "no profiles"))
		}
		cat.Datasets = append(cat.Datasets, ds)
	}

	for _, name := range filter.Datasets {
		if !found[name] {
			cat.Issues = append(cat.Issues, errs.Configf("load dataset", name, "dataset directory not found under %s", root))
		}
	}
	sort.Slice(cat.Datasets, func(i, j int) bool { return cat.Datasets[i].Name < cat.Datasets[j].Name })
	return cat, nil
}

// Load reads a single dataset directory.
func Load(dir string, filter Filter) (*Dataset, error) {
	ds := &Dataset{Name: filepath.Base(dir), Dir: dir}

	f, err := os.Open(filepath.Join(dir, TruthFile))
	if err != nil {
		return nil, errs.Config("read truth", ds.Name, err)
	}
	defer f.Close()

	samples, err := ParseTruth(f, dir)
	if err != nil {
		return nil, errs.Config("read truth", ds.Name, err)
	}
	ds.Samples = samples

	profiles, err := LoadProfiles(ds, filter)
	if err != nil {
		return nil, err
	}
	ds.Profiles = profiles
	return ds, nil
}

// SampleErrors returns the samples that carry a configuration error.
func (d *Dataset) SampleErrors() []Sample {
	var out []Sample
	for _, s := range d.Samples {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// String identifies the dataset in logs.
func (d *Dataset) String() string {
	return fmt.Sprintf("%s (%d samples, %d profiles)", d.Name, len(d.Samples), len(d.Profiles))
}
