package taskgraph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwiater/voxeval/internal/errs"
	"github.com/mwiater/voxeval/internal/fingerprint"
)

// recorder counts executions per node and writes each node's output file.
type recorder struct {
	mu    sync.Mutex
	runs  map[string]int
	order []string
}

func newRecorder() *recorder { return &recorder{runs: make(map[string]int)} }

func (r *recorder) task(id, out string, fail error) Task {
	return TaskFunc(func(ctx context.Context) error {
		r.mu.Lock()
		r.runs[id]++
		r.order = append(r.order, id)
		r.mu.Unlock()
		if fail != nil {
			return fail
		}
		return os.WriteFile(out, []byte(id), 0o644)
	})
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

// chain builds input -> a -> b -> c with a sibling d depending on input only.
func chain(t *testing.T, dir string, rec *recorder, failing map[string]error) *Graph {
	t.Helper()
	input := filepath.Join(dir, "input.txt")
	if _, err := os.Stat(input); os.IsNotExist(err) {
		if err := os.WriteFile(input, []byte("v1"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	out := func(id string) string { return filepath.Join(dir, id+".out") }

	g := New()
	add := func(id string, kind Kind, deps ...string) {
		inputs := []Input{FileInput(input)}
		for _, d := range deps {
			inputs = append(inputs, FileInput(out(d)))
		}
		n := &Node{ID: id, Kind: kind, Inputs: inputs, Outputs: []string{out(id)}, Deps: deps, Task: rec.task(id, out(id), failing[id])}
		if err := g.Add(n); err != nil {
			t.Fatal(err)
		}
	}
	add("a", KindTranscribe)
	add("b", KindRecognize, "a")
	add("c", KindScore, "b")
	add("d", KindTranscribe)
	return g
}

func TestLevelsAndCycleDetection(t *testing.T) {
	g := New()
	for _, n := range []*Node{
		{ID: "score", Deps: []string{"recognize"}},
		{ID: "transcribe"},
		{ID: "recognize", Deps: []string{"transcribe"}},
		{ID: "train"},
	} {
		if err := g.Add(n); err != nil {
			t.Fatal(err)
		}
	}
	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	got := make([]string, len(levels))
	for i, l := range levels {
		got[i] = strings.Join(l, ",")
	}
	want := []string{"train,transcribe", "recognize", "score"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("levels = %v, want %v", got, want)
	}

	if err := g.Add(&Node{ID: "train"}); err == nil {
		t.Fatal("expected duplicate id error")
	}

	cyclic := New()
	_ = cyclic.Add(&Node{ID: "x", Deps: []string{"y"}})
	_ = cyclic.Add(&Node{ID: "y", Deps: []string{"x"}})
	if _, err := cyclic.Levels(); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}

	unknown := New()
	_ = unknown.Add(&Node{ID: "x", Deps: []string{"missing"}})
	if _, err := unknown.Levels(); err == nil {
		t.Fatal("expected unknown dependency error")
	}
}

func TestRunExecutesInOrderThenSkipsFresh(t *testing.T) {
	dir := t.TempDir()
	store := fingerprint.NewMemoryStore()
	rec := newRecorder()
	g := chain(t, dir, rec, nil)

	res, err := NewScheduler(store, WithJobs(2)).Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected all fresh, got %+v", res.Nodes)
	}
	pos := make(map[string]int)
	for i, id := range rec.order {
		pos[id] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("dependency order violated: %v", rec.order)
	}

	rec2 := newRecorder()
	g2 := chain(t, dir, rec2, nil)
	res2, err := NewScheduler(store).Run(context.Background(), g2)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(res2.Executed()); n != 0 {
		t.Fatalf("second run executed %d nodes: %v", n, res2.Executed())
	}
	if !res2.OK() {
		t.Fatal("expected second run to be fresh")
	}
}

func TestInputChangePropagatesDownstream(t *testing.T) {
	dir := t.TempDir()
	store := fingerprint.NewMemoryStore()
	if _, err := NewScheduler(store).Run(context.Background(), chain(t, dir, newRecorder(), nil)); err != nil {
		t.Fatal(err)
	}

	// Rewriting a's output with new content makes a stale and, transitively, b and c.
	if err := os.WriteFile(filepath.Join(dir, "a.out"), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	g := chain(t, dir, newRecorder(), nil)
	plan, err := Compute(g, store, fingerprint.ModeHash)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]Status{"a": StatusStale, "b": StatusStale, "c": StatusStale, "d": StatusFresh}
	for id, st := range want {
		np, _ := plan.Get(id)
		if np.Status != st {
			t.Errorf("%s: status %s (%s), want %s", id, np.Status, np.Reason, st)
		}
	}
	if np, _ := plan.Get("a"); !strings.HasPrefix(np.Reason, "output changed") {
		t.Errorf("unexpected reason for a: %q", np.Reason)
	}
}

func TestMissingOutputIsStale(t *testing.T) {
	dir := t.TempDir()
	store := fingerprint.NewMemoryStore()
	if _, err := NewScheduler(store).Run(context.Background(), chain(t, dir, newRecorder(), nil)); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "c.out")); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	res, err := NewScheduler(store).Run(context.Background(), chain(t, dir, rec, nil))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(res.Executed(), ","); got != "c" {
		t.Fatalf("expected only c to re-run, got %q", got)
	}
}

// manifestNode writes a manifest naming model.bin and the model itself; the
// model is only known to the graph through the manifest.
func manifestNode(dir string, rec *recorder) *Node {
	manifest := filepath.Join(dir, "manifest.txt")
	model := filepath.Join(dir, "model.bin")
	return &Node{
		ID:      "fetch",
		Kind:    KindDownload,
		Outputs: []string{manifest},
		ListOutputs: func() ([]string, error) {
			data, err := os.ReadFile(manifest)
			if os.IsNotExist(err) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			var paths []string
			for _, name := range strings.Fields(string(data)) {
				paths = append(paths, filepath.Join(dir, name))
			}
			return paths, nil
		},
		Task: TaskFunc(func(ctx context.Context) error {
			if err := rec.task("fetch", model, nil).Run(ctx); err != nil {
				return err
			}
			return os.WriteFile(manifest, []byte("model.bin\n"), 0o644)
		}),
	}
}

func TestListedOutputsAreTracked(t *testing.T) {
	dir := t.TempDir()
	store := fingerprint.NewMemoryStore()
	rec := newRecorder()
	run := func() *Result {
		t.Helper()
		g := New()
		if err := g.Add(manifestNode(dir, rec)); err != nil {
			t.Fatal(err)
		}
		res, err := NewScheduler(store).Run(context.Background(), g)
		if err != nil || !res.OK() {
			t.Fatalf("run failed: %v", err)
		}
		return res
	}

	run()
	if r, _ := store.Get("fetch"); len(r.Outputs) != 2 {
		t.Fatalf("expected manifest and model recorded, got %v", r.Outputs)
	}
	if n := len(run().Executed()); n != 0 {
		t.Fatalf("expected no work on rerun, got %d", n)
	}

	if err := os.Remove(filepath.Join(dir, "model.bin")); err != nil {
		t.Fatal(err)
	}
	g := New()
	_ = g.Add(manifestNode(dir, rec))
	plan, err := Compute(g, store, fingerprint.ModeHash)
	if err != nil {
		t.Fatal(err)
	}
	if np, _ := plan.Get("fetch"); np.Status != StatusStale || !strings.Contains(np.Reason, "model.bin") {
		t.Fatalf("deleted model should make fetch stale, got %+v", np)
	}
	run()
	if rec.count("fetch") != 2 {
		t.Fatalf("fetch ran %d times, want 2", rec.count("fetch"))
	}
	if _, err := os.Stat(filepath.Join(dir, "model.bin")); err != nil {
		t.Fatalf("model not restored: %v", err)
	}
}

func TestFailurePropagatesAndSiblingsContinue(t *testing.T) {
	dir := t.TempDir()
	store := fingerprint.NewMemoryStore()
	rec := newRecorder()
	boom := errs.External("transcribe", "a.wav", errors.New("exit status 2")).WithDetail("engine exploded")
	g := chain(t, dir, rec, map[string]error{"a": boom})

	res, err := NewScheduler(store, WithJobs(1)).Run(context.Background(), g)
	if err != nil {
		t.Fatalf("node failure must not fail the run call: %v", err)
	}
	if res.OK() {
		t.Fatal("run with a failed node must not be OK")
	}

	a, _ := res.Get("a")
	if a.Status != StatusFailed || a.Detail != "engine exploded" || !a.Executed {
		t.Fatalf("unexpected result for a: %+v", a)
	}
	for _, id := range []string{"b", "c"} {
		r, _ := res.Get(id)
		if r.Status != StatusFailed || r.Executed {
			t.Fatalf("%s should be failed without running: %+v", id, r)
		}
		if !errs.Is(r.Err, errs.KindUpstream) || !strings.Contains(r.Err.Error(), "a") {
			t.Fatalf("%s should carry an upstream error, got %v", id, r.Err)
		}
		if rec.count(id) != 0 {
			t.Fatalf("%s must not execute", id)
		}
	}
	if d, _ := res.Get("d"); d.Status != StatusFresh {
		t.Fatalf("independent sibling should complete, got %+v", d)
	}
	if _, ok := store.Get("a"); ok {
		t.Fatal("failed node must not be committed")
	}
	_, _, failed := res.Counts()
	if failed != 3 {
		t.Fatalf("expected 3 failed nodes, got %d", failed)
	}
}

func TestNodeWithoutOutputFails(t *testing.T) {
	dir := t.TempDir()
	g := New()
	_ = g.Add(&Node{
		ID:      "lazy",
		Outputs: []string{filepath.Join(dir, "never.json")},
		Task:    TaskFunc(func(context.Context) error { return nil }),
	})
	res, err := NewScheduler(fingerprint.NewMemoryStore()).Run(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}
	if r, _ := res.Get("lazy"); r.Status != StatusFailed {
		t.Fatalf("expected failure for missing output, got %+v", r)
	}
}

func TestCancellationLeavesNodesStale(t *testing.T) {
	dir := t.TempDir()
	store := fingerprint.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	g := New()
	_ = g.Add(&Node{
		ID:      "slow",
		Outputs: []string{filepath.Join(dir, "slow.out")},
		Task: TaskFunc(func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}),
	})
	_ = g.Add(&Node{
		ID:      "after",
		Deps:    []string{"slow"},
		Outputs: []string{filepath.Join(dir, "after.out")},
		Task:    TaskFunc(func(context.Context) error { t.Error("dependent must not run"); return nil }),
	})

	go func() {
		<-started
		cancel()
	}()
	res, err := NewScheduler(store).Run(ctx, g)
	if !errs.Is(err, errs.KindCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if res == nil || !res.Cancelled {
		t.Fatal("expected populated, cancelled result")
	}
	for _, id := range []string{"slow", "after"} {
		if r, _ := res.Get(id); r.Status != StatusStale {
			t.Fatalf("%s: expected stale after cancel, got %s", id, r.Status)
		}
	}
	if _, ok := store.Get("slow"); ok {
		t.Fatal("interrupted node must not be committed")
	}
}

func TestJobsBoundsConcurrency(t *testing.T) {
	dir := t.TempDir()
	var running, peak int32
	g := New()
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5", "n6"} {
		out := filepath.Join(dir, id)
		_ = g.Add(&Node{ID: id, Outputs: []string{out}, Task: TaskFunc(func(context.Context) error {
			cur := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return os.WriteFile(out, nil, 0o644)
		})})
	}
	res, err := NewScheduler(fingerprint.NewMemoryStore(), WithJobs(2)).Run(context.Background(), g)
	if err != nil || !res.OK() {
		t.Fatalf("run failed: %v", err)
	}
	if peak > 2 {
		t.Fatalf("peak concurrency %d exceeds limit 2", peak)
	}
}

func TestResetForcesFullRecompute(t *testing.T) {
	dir := t.TempDir()
	store := fingerprint.NewMemoryStore()
	if _, err := NewScheduler(store).Run(context.Background(), chain(t, dir, newRecorder(), nil)); err != nil {
		t.Fatal(err)
	}
	if err := store.Reset(); err != nil {
		t.Fatal(err)
	}
	res, err := NewScheduler(store).Run(context.Background(), chain(t, dir, newRecorder(), nil))
	if err != nil {
		t.Fatal(err)
	}
	if n := len(res.Executed()); n != 4 {
		t.Fatalf("expected all 4 nodes to re-run, got %d", n)
	}
}

type eventLog struct {
	planned  int
	started  []string
	finished []string
}

func (e *eventLog) RunPlanned(*Plan)             { e.planned++ }
func (e *eventLog) NodeStarted(id string, _ Kind) { e.started = append(e.started, id) }
func (e *eventLog) NodeFinished(r NodeResult)    { e.finished = append(e.finished, r.ID) }

func TestObserverEvents(t *testing.T) {
	dir := t.TempDir()
	events := &eventLog{}
	_, err := NewScheduler(fingerprint.NewMemoryStore(), WithObserver(events), WithRunID("run-x")).
		Run(context.Background(), chain(t, dir, newRecorder(), map[string]error{"b": errors.New("nope")}))
	if err != nil {
		t.Fatal(err)
	}
	if events.planned != 1 {
		t.Fatalf("expected one plan event, got %d", events.planned)
	}
	if len(events.started) != 3 {
		t.Fatalf("expected a, b, d to start, got %v", events.started)
	}
	if len(events.finished) != 4 {
		t.Fatalf("expected finish events for every node, got %v", events.finished)
	}
}

type startLog struct {
	mu      sync.Mutex
	started []string
}

func (l *startLog) RunPlanned(*Plan)       {}
func (l *startLog) NodeFinished(NodeResult) {}

func (l *startLog) NodeStarted(id string, _ Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, id)
}

func (l *startLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.started)
}

func TestQueuedNodesAreNotReportedStarted(t *testing.T) {
	dir := t.TempDir()
	running := make(chan string, 2)
	release := make(chan struct{})
	g := New()
	for _, id := range []string{"x", "y"} {
		out := filepath.Join(dir, id)
		_ = g.Add(&Node{ID: id, Outputs: []string{out}, Task: TaskFunc(func(context.Context) error {
			running <- id
			<-release
			return os.WriteFile(out, nil, 0o644)
		})})
	}
	events := &startLog{}
	done := make(chan error, 1)
	go func() {
		_, err := NewScheduler(fingerprint.NewMemoryStore(), WithJobs(1), WithObserver(events)).Run(context.Background(), g)
		done <- err
	}()

	<-running
	time.Sleep(50 * time.Millisecond)
	if n := events.count(); n != 1 {
		close(release)
		t.Fatalf("with one worker busy, %d nodes were reported started", n)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := events.count(); n != 2 {
		t.Fatalf("expected both nodes started, got %d", n)
	}
}

func TestNodeID(t *testing.T) {
	cases := []struct {
		kind          Kind
		scope, sample string
		want          string
	}{
		{KindTranscribe, "timers/kaldi", "s1", "transcribe:timers/kaldi:s1"},
		{KindAggregateProfile, "timers/kaldi", "", "aggregate:timers/kaldi"},
		{KindAggregateAll, "", "", "aggregate-all"},
	}
	for _, c := range cases {
		if got := NodeID(c.kind, c.scope, c.sample); got != c.want {
			t.Errorf("NodeID(%s,%s,%s) = %q, want %q", c.kind, c.scope, c.sample, got, c.want)
		}
	}
}
