package executor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mwiater/voxeval/internal/dataset"
)

// ParseTranscription reads transcribe-wav output: a JSON object with a
// "text" key, or plain text. The first non-empty line is used.
func ParseTranscription(stdout []byte) (*Transcription, error) {
	line := firstLine(stdout)
	if len(line) == 0 {
		raw, _ := json.Marshal("")
		return &Transcription{Raw: raw}, nil
	}
	if line[0] != '{' {
		text := strings.TrimSpace(string(line))
		raw, _ := json.Marshal(text)
		return &Transcription{Text: text, Raw: raw}, nil
	}

	var doc struct {
		Text              *string `json:"text"`
		TranscribeSeconds float64 `json:"transcribe_seconds"`
		WavSeconds        float64 `json:"wav_seconds"`
	}
	if err := json.Unmarshal(line, &doc); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}
	if doc.Text == nil {
		return nil, errors.New("decode transcription: missing \"text\"")
	}
	return &Transcription{
		Text:              strings.TrimSpace(*doc.Text),
		TranscribeSeconds: doc.TranscribeSeconds,
		WavSeconds:        doc.WavSeconds,
		Raw:               compact(line),
	}, nil
}

// ParseIntentResult reads recognize-intent output and validates it against
// the intent schema.
func ParseIntentResult(stdout []byte) (*IntentResult, error) {
	line := firstLine(stdout)
	if len(line) == 0 {
		return nil, errors.New("decode intent: empty output")
	}
	var doc map[string]any
	if err := json.Unmarshal(line, &doc); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	if err := dataset.Validate(dataset.IntentSchema, line); err != nil {
		return nil, err
	}
	r := &IntentResult{Intent: dataset.ParseIntent(doc), Raw: compact(line)}
	r.Text, _ = doc["text"].(string)
	if secs, ok := doc["recognize_seconds"].(float64); ok {
		r.RecognizeSeconds = secs
	}
	return r, nil
}

// TrainingSeconds finds "training completed in N" in the engine's output.
// It returns 0 when the line is absent.
func TrainingSeconds(outputs ...[]byte) float64 {
	for _, out := range outputs {
		scanner := bufio.NewScanner(bytes.NewReader(out))
		for scanner.Scan() {
			line := strings.ToLower(strings.TrimSpace(scanner.Text()))
			idx := strings.Index(line, "training completed in")
			if idx < 0 {
				continue
			}
			fields := strings.Fields(line[idx:])
			if len(fields) < 4 {
				continue
			}
			secs, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "s"), 64)
			if err == nil {
				return secs
			}
		}
	}
	return 0
}

func firstLine(out []byte) []byte {
	for _, line := range bytes.Split(out, []byte("\n")) {
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			return trimmed
		}
	}
	return nil
}

func compact(line []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, line); err != nil {
		return append(json.RawMessage(nil), line...)
	}
	return buf.Bytes()
}
