// Package report aggregates per-sample score records into per-profile
// reports and the cross-profile summary, and renders them as JSON, Markdown,
// HTML, CSV and terminal tables. Rendered reports carry no timestamps, so
// unchanged inputs reproduce identical bytes.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/mwiater/voxeval/internal/metrics"
	"github.com/mwiater/voxeval/internal/util"
)

// Per-profile artifact names.
const (
	JSONFile     = "report.json"
	MarkdownFile = "report.md"
	HTMLFile     = "report.html"
	ScoresFile   = "scores.jsonl"
)

// ProfileReport aggregates one profile's scores within one dataset.
type ProfileReport struct {
	Dataset                  string  `json:"dataset"`
	Profile                  string  `json:"profile"`
	Strictness               string  `json:"strictness"`
	NumSamples               int     `json:"num_samples"`
	MeanWER                  float64 `json:"mean_wer"`
	IntentAccuracy           float64 `json:"intent_accuracy"`
	TranscriptionAccuracy    float64 `json:"transcription_accuracy"`
	IntentSlotAccuracy       float64 `json:"intent_slot_accuracy"`
	TrainingSeconds          float64 `json:"training_seconds"`
	AverageTranscribeSeconds float64 `json:"average_transcribe_seconds"`
	AverageRecognizeSeconds  float64 `json:"average_recognize_seconds"`
	// AverageSpeedup is wav seconds over transcribe seconds, averaged over
	// samples where the engine reported both.
	AverageSpeedup float64               `json:"average_transcription_speedup"`
	WordErrors     metrics.WordErrors    `json:"word_errors"`
	Records        []metrics.ScoreRecord `json:"records"`
}

// Aggregate rolls score records into a profile report. Records are sorted by
// sample ID so the result does not depend on completion order.
func Aggregate(datasetName, profileName string, strictness metrics.Strictness, records []metrics.ScoreRecord, trainingSeconds float64) ProfileReport {
	recs := append([]metrics.ScoreRecord(nil), records...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Sample < recs[j].Sample })

	r := ProfileReport{
		Dataset:         datasetName,
		Profile:         profileName,
		Strictness:      string(strictness),
		NumSamples:      len(recs),
		TrainingSeconds: trainingSeconds,
		Records:         recs,
	}
	if len(recs) == 0 {
		r.Records = []metrics.ScoreRecord{}
		return r
	}

	var werSum, transcribeSum, recognizeSum, speedupSum float64
	var intents, intentSlots, speedups int
	for _, rec := range recs {
		werSum += rec.WER
		transcribeSum += rec.TranscribeSeconds
		recognizeSum += rec.RecognizeSeconds
		if rec.IntentMatch {
			intents++
		}
		if rec.IntentSlotMatch {
			intentSlots++
		}
		if rec.TranscribeSeconds > 0 && rec.WavSeconds > 0 {
			speedupSum += rec.WavSeconds / rec.TranscribeSeconds
			speedups++
		}
		r.WordErrors.Substitutions += rec.WordErrors.Substitutions
		r.WordErrors.Deletions += rec.WordErrors.Deletions
		r.WordErrors.Insertions += rec.WordErrors.Insertions
		r.WordErrors.ReferenceWords += rec.WordErrors.ReferenceWords
	}

	n := float64(len(recs))
	r.MeanWER = werSum / n
	r.IntentAccuracy = float64(intents) / n
	r.IntentSlotAccuracy = float64(intentSlots) / n
	r.AverageTranscribeSeconds = transcribeSum / n
	r.AverageRecognizeSeconds = recognizeSum / n
	if speedups > 0 {
		r.AverageSpeedup = speedupSum / float64(speedups)
	}
	r.TranscriptionAccuracy = 1 - r.WordErrors.WER()
	if r.TranscriptionAccuracy < 0 {
		r.TranscriptionAccuracy = 0
	}
	return r
}

// Files returns the artifact paths written by WriteProfile under dir.
func Files(dir string) []string {
	return []string{
		filepath.Join(dir, JSONFile),
		filepath.Join(dir, MarkdownFile),
		filepath.Join(dir, HTMLFile),
		filepath.Join(dir, ScoresFile),
	}
}

// WriteProfile writes every per-profile artifact into dir.
func WriteProfile(dir string, r ProfileReport) error {
	if err := util.WriteJSON(filepath.Join(dir, JSONFile), r); err != nil {
		return fmt.Errorf("write %s: %w", JSONFile, err)
	}

	md, err := RenderMarkdown(r)
	if err != nil {
		return err
	}
	if err := util.WriteFile(filepath.Join(dir, MarkdownFile), md); err != nil {
		return fmt.Errorf("write %s: %w", MarkdownFile, err)
	}

	html, err := RenderHTML(r)
	if err != nil {
		return err
	}
	if err := util.WriteFile(filepath.Join(dir, HTMLFile), html); err != nil {
		return fmt.Errorf("write %s: %w", HTMLFile, err)
	}

	var scores bytes.Buffer
	for _, rec := range r.Records {
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		scores.Write(line)
		scores.WriteByte('\n')
	}
	if err := util.WriteFile(filepath.Join(dir, ScoresFile), scores.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", ScoresFile, err)
	}
	return nil
}

// ReadProfile loads a report.json written by WriteProfile.
func ReadProfile(dir string) (ProfileReport, error) {
	var r ProfileReport
	if err := util.ReadJSON(filepath.Join(dir, JSONFile), &r); err != nil {
		return r, fmt.Errorf("read report %s: %w", dir, err)
	}
	return r, nil
}
