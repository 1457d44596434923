// Package metrics scores one sample's transcription and intent against its
// ground truth.
package metrics

import (
	"sort"
	"strings"

	"github.com/mwiater/voxeval/internal/dataset"
	"github.com/mwiater/voxeval/internal/executor"
)

// Strictness decides whether extra predicted slots fail an intent match.
type Strictness string

const (
	// Tolerant reports extra slots but still counts the intent as matched.
	Tolerant Strictness = "tolerant"
	// Strict fails the match when any extra slot is predicted.
	Strict Strictness = "strict"
)

// ParseStrictness converts a config value, defaulting to Tolerant.
func ParseStrictness(s string) Strictness {
	if Strictness(s) == Strict {
		return Strict
	}
	return Tolerant
}

// SlotStatus classifies one slot comparison.
type SlotStatus string

const (
	SlotMatched    SlotStatus = "matched"
	SlotMismatched SlotStatus = "mismatched"
	SlotMissing    SlotStatus = "missing"
	SlotExtra      SlotStatus = "extra"
)

// SlotResult compares one slot.
type SlotResult struct {
	Name     string     `json:"name"`
	Expected string     `json:"expected,omitempty"`
	Actual   string     `json:"actual,omitempty"`
	Status   SlotStatus `json:"status"`
}

// Options control scoring.
type Options struct {
	CaseSensitive bool
	Strictness    Strictness
}

// ScoreRecord is the scored outcome of one sample for one profile.
type ScoreRecord struct {
	Dataset    string     `json:"dataset"`
	Profile    string     `json:"profile"`
	Sample     string     `json:"sample"`
	WavName    string     `json:"wav_name"`
	WordErrors WordErrors `json:"word_errors"`
	WER        float64    `json:"wer"`
	Reference  []string   `json:"reference"`
	Hypothesis []string   `json:"hypothesis"`

	// TranscriptMatch is true when the hypothesis equals the reference.
	TranscriptMatch bool   `json:"transcript_match"`
	ExpectedIntent  string `json:"expected_intent"`
	ActualIntent    string `json:"actual_intent"`
	IntentMatch     bool   `json:"intent_match"`

	// IntentSlotMatch requires the intent and every slot to match with no
	// extra slots, regardless of strictness.
	IntentSlotMatch   bool         `json:"intent_slot_match"`
	Slots             []SlotResult `json:"slots,omitempty"`
	TranscribeSeconds float64      `json:"transcribe_seconds"`
	WavSeconds        float64      `json:"wav_seconds"`
	RecognizeSeconds  float64      `json:"recognize_seconds"`
}

// Severity orders records for reports: 2 when the intent is wrong, 1 when
// only slots or words differ, 0 for a full match.
func (r ScoreRecord) Severity() int {
	switch {
	case !r.IntentMatch:
		return 2
	case !r.IntentSlotMatch || !r.TranscriptMatch:
		return 1
	default:
		return 0
	}
}

// MatchIntent compares names exactly and slot values after trimming, folding
// case unless caseSensitive. Slot results are sorted by name.
func MatchIntent(expected, actual dataset.Intent, opts Options) (bool, []SlotResult) {
	var slots []SlotResult
	allExpected := true
	extras := false

	for _, name := range expected.SlotNames() {
		want := expected.Slots[name]
		got, ok := actual.Slots[name]
		switch {
		case !ok:
			slots = append(slots, SlotResult{Name: name, Expected: want, Status: SlotMissing})
			allExpected = false
		case equalValue(want, got, opts.CaseSensitive):
			slots = append(slots, SlotResult{Name: name, Expected: want, Actual: got, Status: SlotMatched})
		default:
			slots = append(slots, SlotResult{Name: name, Expected: want, Actual: got, Status: SlotMismatched})
			allExpected = false
		}
	}
	for _, name := range actual.SlotNames() {
		if _, ok := expected.Slots[name]; !ok {
			slots = append(slots, SlotResult{Name: name, Actual: actual.Slots[name], Status: SlotExtra})
			extras = true
		}
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Name < slots[j].Name })

	match := expected.Name == actual.Name && allExpected
	if opts.Strictness == Strict && extras {
		match = false
	}
	return match, slots
}

func equalValue(a, b string, caseSensitive bool) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// Score produces the record for one sample.
func Score(datasetName string, s dataset.Sample, t *executor.Transcription, r *executor.IntentResult, opts Options) ScoreRecord {
	rec := ScoreRecord{
		Dataset:        datasetName,
		Profile:        t.Profile,
		Sample:         s.ID,
		WavName:        s.WavName,
		Reference:      Tokenize(s.Truth.Text, opts.CaseSensitive),
		Hypothesis:     Tokenize(t.Text, opts.CaseSensitive),
		ExpectedIntent: s.Truth.Intent.Name,
		ActualIntent:   r.Intent.Name,

		TranscribeSeconds: t.TranscribeSeconds,
		WavSeconds:        t.WavSeconds,
		RecognizeSeconds:  r.RecognizeSeconds,
	}
	rec.WordErrors = Align(rec.Reference, rec.Hypothesis)
	rec.WER = rec.WordErrors.WER()
	rec.TranscriptMatch = rec.WordErrors.Errors() == 0

	rec.IntentMatch, rec.Slots = MatchIntent(s.Truth.Intent, r.Intent, opts)
	rec.IntentSlotMatch = rec.ExpectedIntent == rec.ActualIntent
	for _, slot := range rec.Slots {
		if slot.Status != SlotMatched {
			rec.IntentSlotMatch = false
			break
		}
	}
	return rec
}
