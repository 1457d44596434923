package metrics

import (
	"math"
	"testing"

	"github.com/mwiater/voxeval/internal/dataset"
	"github.com/mwiater/voxeval/internal/executor"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		name     string
		ref, hyp string
		want     WordErrors
		wantWER  float64
	}{
		{"identity", "set a timer for five minutes", "set a timer for five minutes", WordErrors{ReferenceWords: 6}, 0},
		{"one substitution of five", "what time is it now", "what time was it now", WordErrors{Substitutions: 1, ReferenceWords: 5}, 0.2},
		{"deletion", "turn on the light", "turn on light", WordErrors{Deletions: 1, ReferenceWords: 4}, 0.25},
		{"insertion", "turn on the light", "turn on the the light", WordErrors{Insertions: 1, ReferenceWords: 4}, 0.25},
		{"empty hypothesis", "hello world", "", WordErrors{Deletions: 2, ReferenceWords: 2}, 1},
		{"empty reference", "", "uh hello", WordErrors{Insertions: 2}, 2},
		{"both empty", "", "", WordErrors{}, 0},
		{"case folded", "Turn ON", "turn on", WordErrors{ReferenceWords: 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Align(Tokenize(tt.ref, false), Tokenize(tt.hyp, false))
			if got != tt.want {
				t.Fatalf("Align = %+v, want %+v", got, tt.want)
			}
			if math.Abs(got.WER()-tt.wantWER) > 1e-9 {
				t.Fatalf("WER = %v, want %v", got.WER(), tt.wantWER)
			}
		})
	}
}

func TestAlignIsAsymmetric(t *testing.T) {
	ref := Tokenize("a b c", true)
	hyp := Tokenize("a b c d e", true)
	forward := Align(ref, hyp)
	backward := Align(hyp, ref)
	if forward.Insertions != 2 || backward.Deletions != 2 {
		t.Fatalf("unexpected edits: forward %+v backward %+v", forward, backward)
	}
	if forward.WER() == backward.WER() {
		t.Fatal("WER should depend on which side is the reference")
	}
}

func TestAlignInvariantUnderRelabeling(t *testing.T) {
	a := Align(Tokenize("x y z w", true), Tokenize("x q z", true))
	b := Align(Tokenize("one two three four", true), Tokenize("one five three", true))
	if a != b {
		t.Fatalf("relabeled sequences should align identically: %+v vs %+v", a, b)
	}
}

func TestCaseSensitiveTokenize(t *testing.T) {
	got := Align(Tokenize("Turn ON", true), Tokenize("turn on", true))
	if got.Substitutions != 2 {
		t.Fatalf("expected case-sensitive substitutions, got %+v", got)
	}
}

func TestMatchIntent(t *testing.T) {
	truth := dataset.Intent{Name: "SetTimer", Slots: map[string]string{"duration": "5 minutes"}}
	withExtra := dataset.Intent{Name: "SetTimer", Slots: map[string]string{"duration": "5 minutes", "unit": "extra"}}

	match, slots := MatchIntent(truth, withExtra, Options{Strictness: Tolerant})
	if !match {
		t.Fatal("extra slot must be tolerated")
	}
	if len(slots) != 2 || slots[0].Status != SlotMatched || slots[1].Status != SlotExtra || slots[1].Name != "unit" {
		t.Fatalf("unexpected slot results %+v", slots)
	}

	if match, _ := MatchIntent(truth, withExtra, Options{Strictness: Strict}); match {
		t.Fatal("strict mode must reject extra slots")
	}

	tests := []struct {
		name   string
		actual dataset.Intent
		want   bool
		status SlotStatus
	}{
		{"wrong name", dataset.Intent{Name: "GetTime", Slots: map[string]string{"duration": "5 minutes"}}, false, SlotMatched},
		{"missing slot", dataset.Intent{Name: "SetTimer"}, false, SlotMissing},
		{"mismatched slot", dataset.Intent{Name: "SetTimer", Slots: map[string]string{"duration": "10 minutes"}}, false, SlotMismatched},
		{"case folded value", dataset.Intent{Name: "SetTimer", Slots: map[string]string{"duration": " 5 Minutes"}}, true, SlotMatched},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, slots := MatchIntent(truth, tt.actual, Options{})
			if match != tt.want {
				t.Fatalf("match = %v, want %v", match, tt.want)
			}
			if slots[0].Status != tt.status {
				t.Fatalf("slot status = %s, want %s", slots[0].Status, tt.status)
			}
		})
	}
}

func TestScore(t *testing.T) {
	s := dataset.Sample{
		ID:      "s1",
		WavName: "wav/s1.wav",
		Truth: dataset.Truth{
			Text:   "set a timer for five minutes",
			Intent: dataset.Intent{Name: "SetTimer", Slots: map[string]string{"duration": "5 minutes"}},
		},
	}
	tr := &executor.Transcription{Profile: "kaldi", Text: "set a timer for nine minutes", TranscribeSeconds: 0.4, WavSeconds: 2}
	ir := &executor.IntentResult{Intent: dataset.Intent{Name: "SetTimer", Slots: map[string]string{"duration": "5 minutes", "unit": "extra"}}, RecognizeSeconds: 0.1}

	rec := Score("timers", s, tr, ir, Options{Strictness: Tolerant})
	if rec.Dataset != "timers" || rec.Profile != "kaldi" || rec.Sample != "s1" {
		t.Fatalf("identity fields wrong: %+v", rec)
	}
	if rec.WordErrors.Substitutions != 1 || math.Abs(rec.WER-1.0/6) > 1e-9 || rec.TranscriptMatch {
		t.Fatalf("unexpected word errors %+v (WER %v)", rec.WordErrors, rec.WER)
	}
	if !rec.IntentMatch {
		t.Fatal("tolerant intent match expected")
	}
	if rec.IntentSlotMatch {
		t.Fatal("extra slot must fail the full intent+slot match")
	}
	if rec.Severity() != 1 {
		t.Fatalf("severity = %d, want 1", rec.Severity())
	}
}

func TestParseStrictness(t *testing.T) {
	if ParseStrictness("strict") != Strict || ParseStrictness("") != Tolerant || ParseStrictness("bogus") != Tolerant {
		t.Fatal("unexpected strictness parsing")
	}
}
