package report

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/mwiater/voxeval/internal/errs"
	"github.com/mwiater/voxeval/internal/fingerprint"
	"github.com/mwiater/voxeval/internal/metrics"
	"github.com/mwiater/voxeval/internal/taskgraph"
	"github.com/mwiater/voxeval/internal/util"
)

func records() []metrics.ScoreRecord {
	return []metrics.ScoreRecord{
		{
			Sample: "s2", ExpectedIntent: "GetTime", ActualIntent: "SetTimer",
			WordErrors: metrics.WordErrors{Substitutions: 1, ReferenceWords: 4}, WER: 0.25,
			Reference: []string{"what", "time", "is", "it"}, Hypothesis: []string{"what", "timer", "is", "it"},
			TranscribeSeconds: 1, WavSeconds: 2, RecognizeSeconds: 0.2,
		},
		{
			Sample: "s1", ExpectedIntent: "SetTimer", ActualIntent: "SetTimer",
			IntentMatch: true, IntentSlotMatch: true, TranscriptMatch: true,
			WordErrors: metrics.WordErrors{ReferenceWords: 6},
			Reference: []string{"set", "a", "timer", "for", "five", "minutes"}, Hypothesis: []string{"set", "a", "timer", "for", "five", "minutes"},
			Slots:             []metrics.SlotResult{{Name: "duration", Expected: "5 minutes", Actual: "5 minutes", Status: metrics.SlotMatched}},
			TranscribeSeconds: 3, WavSeconds: 3, RecognizeSeconds: 0.4,
		},
	}
}

func TestAggregate(t *testing.T) {
	r := Aggregate("timers", "kaldi", metrics.Tolerant, records(), 12.5)
	if r.NumSamples != 2 || r.Records[0].Sample != "s1" {
		t.Fatalf("records should be sorted by sample: %+v", r.Records)
	}
	checks := map[string][2]float64{
		"mean wer":           {r.MeanWER, 0.125},
		"intent accuracy":    {r.IntentAccuracy, 0.5},
		"intent+slot":        {r.IntentSlotAccuracy, 0.5},
		"transcription acc.": {r.TranscriptionAccuracy, 0.9},
		"avg transcribe":     {r.AverageTranscribeSeconds, 2},
		"avg recognize":      {r.AverageRecognizeSeconds, 0.3},
		"speedup":            {r.AverageSpeedup, 1.5},
		"training":           {r.TrainingSeconds, 12.5},
	}
	for name, c := range checks {
		if math.Abs(c[0]-c[1]) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, c[0], c[1])
		}
	}
}

func TestAggregateEmpty(t *testing.T) {
	r := Aggregate("timers", "kaldi", metrics.Strict, nil, 0)
	if r.NumSamples != 0 || r.MeanWER != 0 || r.Records == nil {
		t.Fatalf("unexpected empty report %+v", r)
	}
}

func TestWriteProfileIsDeterministic(t *testing.T) {
	r := Aggregate("timers", "kaldi", metrics.Tolerant, records(), 1)
	dirA, dirB := t.TempDir(), t.TempDir()
	if err := WriteProfile(dirA, r); err != nil {
		t.Fatalf("WriteProfile: %v", err)
	}
	// Completion order must not matter.
	reversed := records()
	reversed[0], reversed[1] = reversed[1], reversed[0]
	if err := WriteProfile(dirB, Aggregate("timers", "kaldi", metrics.Tolerant, reversed, 1)); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{JSONFile, MarkdownFile, HTMLFile, ScoresFile} {
		a, err := os.ReadFile(filepath.Join(dirA, name))
		if err != nil {
			t.Fatal(err)
		}
		b, _ := os.ReadFile(filepath.Join(dirB, name))
		if !bytes.Equal(a, b) {
			t.Errorf("%s differs between equivalent runs", name)
		}
	}

	html, _ := os.ReadFile(filepath.Join(dirA, HTMLFile))
	if idx2, idx1 := bytes.Index(html, []byte(">s2<")), bytes.Index(html, []byte(">s1<")); idx2 < 0 || idx1 < 0 || idx2 > idx1 {
		t.Fatal("HTML rows should list the failing sample first")
	}
	if !bytes.Contains(html, []byte(`class="error"`)) || !bytes.Contains(html, []byte(`class="match"`)) {
		t.Fatal("HTML rows should carry severity classes")
	}

	scores, _ := os.ReadFile(filepath.Join(dirA, ScoresFile))
	if n := bytes.Count(scores, []byte("\n")); n != 2 {
		t.Fatalf("expected 2 score lines, got %d", n)
	}

	back, err := ReadProfile(dirA)
	if err != nil || back.MeanWER != r.MeanWER || len(back.Records) != 2 {
		t.Fatalf("ReadProfile round trip failed: %v", err)
	}
}

func TestSummary(t *testing.T) {
	s := NewSummary([]ProfileReport{
		{Dataset: "weather", Profile: "kaldi", NumSamples: 3, MeanWER: 0.1},
		{Dataset: "timers", Profile: "pocketsphinx", NumSamples: 2},
		{Dataset: "timers", Profile: "kaldi", NumSamples: 1, IntentAccuracy: 1, Records: records()},
	})
	data, err := s.CSV()
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != strings.Join(SummaryColumns, ",") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "kaldi,timers,1,0.0000,1.0000") ||
		!strings.HasPrefix(lines[2], "kaldi,weather,3,0.1000") ||
		!strings.HasPrefix(lines[3], "pocketsphinx,timers,2") {
		t.Fatalf("rows not sorted by profile then dataset:\n%s", data)
	}
	if s.Rows[0].Records != nil {
		t.Fatal("summary rows should drop per-sample records")
	}

	dir := t.TempDir()
	if err := WriteSummary(dir, s); err != nil {
		t.Fatal(err)
	}
	md, _ := os.ReadFile(filepath.Join(dir, SummaryMarkdown))
	if !bytes.Contains(md, []byte("| profile | dataset |")) {
		t.Fatalf("markdown summary missing header:\n%s", md)
	}
	if out := RenderTable(s); !strings.Contains(out, "pocketsphinx") {
		t.Fatal("terminal table should list every row")
	}
}

func TestRunStatus(t *testing.T) {
	res := &taskgraph.Result{
		RunID: "run-1",
		Nodes: []taskgraph.NodeResult{
			{ID: "transcribe:timers/kaldi:s1", Kind: taskgraph.KindTranscribe, Status: taskgraph.StatusFailed, Executed: true,
				Err: errs.External("transcribe-wav", "wav/s1.wav", errors.New("exit status 1")), Detail: "boom\nmore"},
			{ID: "score:timers/kaldi:s1", Kind: taskgraph.KindScore, Status: taskgraph.StatusFailed, Err: errs.Upstream("transcribe:timers/kaldi:s1")},
			{ID: "transcribe:timers/kaldi:s2", Kind: taskgraph.KindTranscribe, Status: taskgraph.StatusFresh},
		},
	}
	st := NewRunStatus(res)
	if st.OK || st.Failed != 2 || st.Fresh != 1 || st.Executed != 1 {
		t.Fatalf("unexpected counts %+v", st)
	}
	if st.Nodes[0].ErrorKind != "external" || st.Nodes[1].ErrorKind != "upstream" {
		t.Fatalf("unexpected error kinds %+v", st.Nodes)
	}

	dir := t.TempDir()
	if err := WriteRunStatus(dir, st); err != nil {
		t.Fatal(err)
	}
	var back RunStatus
	if err := util.ReadJSON(filepath.Join(dir, RunStatusFile), &back); err != nil || back.RunID != "run-1" {
		t.Fatalf("run status not persisted: %v", err)
	}

	color.NoColor = true
	var buf bytes.Buffer
	PrintRunSummary(&buf, st)
	out := buf.String()
	if !strings.Contains(out, "FAIL transcribe:timers/kaldi:s1") || !strings.Contains(out, "     boom") {
		t.Fatalf("unexpected summary output:\n%s", out)
	}
	if !strings.Contains(out, "1 fresh, 2 failed, 0 not run, 1 executed") {
		t.Fatalf("missing totals:\n%s", out)
	}
}

func TestPrintPlan(t *testing.T) {
	g := taskgraph.New()
	noop := taskgraph.TaskFunc(func(context.Context) error { return nil })
	if err := g.Add(&taskgraph.Node{ID: "train:timers/kaldi", Kind: taskgraph.KindTrain, Task: noop}); err != nil {
		t.Fatal(err)
	}
	plan, err := taskgraph.Compute(g, fingerprint.NewMemoryStore(), fingerprint.ModeHash)
	if err != nil {
		t.Fatal(err)
	}

	color.NoColor = true
	var buf bytes.Buffer
	PrintPlan(&buf, plan, false)
	out := buf.String()
	if !strings.Contains(out, "STALE train:timers/kaldi: never run") || !strings.Contains(out, "0 fresh, 1 stale") {
		t.Fatalf("unexpected plan output:\n%s", out)
	}
}
