package taskgraph

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mwiater/voxeval/internal/errs"
	"github.com/mwiater/voxeval/internal/fingerprint"
)

// Observer receives scheduler events. Calls may arrive from the scheduler
// goroutine only, never concurrently.
type Observer interface {
	RunPlanned(plan *Plan)
	NodeStarted(id string, kind Kind)
	NodeFinished(res NodeResult)
}

// NodeResult is the outcome of one node after a run.
type NodeResult struct {
	ID       string
	Kind     Kind
	Status   Status
	Executed bool
	// Reason is why the planner considered the node stale.
	Reason   string
	Err      error
	Detail   string
	Duration time.Duration
}

// Result summarizes a run.
type Result struct {
	RunID     string
	Nodes     []NodeResult
	Cancelled bool
	Duration  time.Duration
	byID      map[string]int
}

// Get returns the result for id.
func (r *Result) Get(id string) (NodeResult, bool) {
	i, ok := r.byID[id]
	if !ok {
		return NodeResult{}, false
	}
	return r.Nodes[i], true
}

// OK reports whether every node ended Fresh.
func (r *Result) OK() bool {
	for _, n := range r.Nodes {
		if n.Status != StatusFresh {
			return false
		}
	}
	return true
}

// Executed returns the IDs of nodes whose action ran, in topological order.
func (r *Result) Executed() []string {
	var out []string
	for _, n := range r.Nodes {
		if n.Executed {
			out = append(out, n.ID)
		}
	}
	return out
}

// Counts tallies final statuses.
func (r *Result) Counts() (fresh, stale, failed int) {
	for _, n := range r.Nodes {
		switch n.Status {
		case StatusFresh:
			fresh++
		case StatusFailed:
			failed++
		default:
			stale++
		}
	}
	return fresh, stale, failed
}

// Scheduler plans and executes a graph against a fingerprint store.
type Scheduler struct {
	store     fingerprint.Store
	mode      fingerprint.Mode
	jobs      int
	runID     string
	observers []Observer
	log       zerolog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJobs bounds the number of nodes executing at once.
func WithJobs(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.jobs = n
		}
	}
}

// WithMode selects the fingerprint mode for file inputs.
func WithMode(m fingerprint.Mode) Option {
	return func(s *Scheduler) { s.mode = m }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(s *Scheduler) { s.runID = id }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithLogger sets the scheduler's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// NewScheduler creates a scheduler bound to store. The store must already be
// loaded.
func NewScheduler(store fingerprint.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store: store,
		mode:  fingerprint.ModeHash,
		jobs:  runtime.NumCPU(),
		runID: uuid.NewString(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunID returns the identifier recorded in committed fingerprints.
func (s *Scheduler) RunID() string { return s.runID }

// Plan computes node statuses without executing anything.
func (s *Scheduler) Plan(g *Graph) (*Plan, error) {
	return Compute(g, s.store, s.mode)
}

type completion struct {
	idx      int
	err      error
	duration time.Duration
}

// Run executes every stale node in dependency order. Node failures are
// recorded in the result, not returned. The returned error is non-nil only
// when the graph is invalid or ctx was cancelled; the result is still
// populated on cancellation.
func (s *Scheduler) Run(ctx context.Context, g *Graph) (*Result, error) {
	start := time.Now()
	plan, err := s.Plan(g)
	if err != nil {
		return nil, err
	}
	for _, o := range s.observers {
		o.RunPlanned(plan)
	}

	results := make([]NodeResult, len(g.nodes))
	status := make([]Status, len(g.nodes))
	pending := make([]int, len(g.nodes))
	var ready []int
	staleCount := 0

	for _, np := range plan.Nodes {
		i := g.index[np.ID]
		status[i] = np.Status
		results[i] = NodeResult{ID: np.ID, Kind: np.Kind, Status: np.Status, Reason: np.Reason}
	}
	for _, np := range plan.Nodes {
		i := g.index[np.ID]
		if status[i] != StatusStale {
			continue
		}
		staleCount++
		for _, d := range g.deps[i] {
			if status[d] != StatusFresh {
				pending[i]++
			}
		}
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}

	s.log.Info().Str("run_id", s.runID).Int("nodes", len(g.nodes)).Int("stale", staleCount).Int("jobs", s.jobs).Msg("run planned")

	done := make(chan completion, staleCount)
	var eg errgroup.Group
	eg.SetLimit(s.jobs)
	inflight := 0

	for {
		for len(ready) > 0 && ctx.Err() == nil {
			i := ready[0]
			ready = ready[1:]
			inflight++
			// Go blocks until a worker slot is free, so the node is running
			// by the time observers hear about it.
			eg.Go(func() error {
				begin := time.Now()
				err := s.execute(ctx, g, i)
				done <- completion{idx: i, err: err, duration: time.Since(begin)}
				return nil
			})
			for _, o := range s.observers {
				o.NodeStarted(g.nodes[i].ID, g.nodes[i].Kind)
			}
		}
		if inflight == 0 {
			break
		}

		c := <-done
		inflight--
		n := g.nodes[c.idx]
		res := &results[c.idx]
		res.Executed = true
		res.Duration = c.duration

		switch {
		case c.err == nil:
			status[c.idx] = StatusFresh
			res.Status = StatusFresh
			res.Reason = ""
			s.log.Debug().Str("node", n.ID).Dur("duration", c.duration).Msg("node fresh")
			for _, dep := range g.dependents[c.idx] {
				if status[dep] != StatusStale {
					continue
				}
				pending[dep]--
				if pending[dep] == 0 {
					ready = append(ready, dep)
				}
			}
		case errs.Is(c.err, errs.KindCancelled):
			res.Status = StatusStale
			res.Err = c.err
			s.log.Warn().Str("node", n.ID).Msg("node interrupted")
		default:
			status[c.idx] = StatusFailed
			res.Status = StatusFailed
			res.Err = c.err
			res.Detail = errs.DetailOf(c.err)
			s.log.Error().Err(c.err).Str("node", n.ID).Msg("node failed")
			s.propagateFailure(g, c.idx, status, results)
		}
		for _, o := range s.observers {
			o.NodeFinished(*res)
		}
	}
	_ = eg.Wait()

	out := &Result{RunID: s.runID, Nodes: make([]NodeResult, 0, len(plan.Nodes)), byID: make(map[string]int, len(plan.Nodes))}
	for _, np := range plan.Nodes {
		out.byID[np.ID] = len(out.Nodes)
		out.Nodes = append(out.Nodes, results[g.index[np.ID]])
	}
	out.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		out.Cancelled = true
		return out, errs.Cancelled("run", err)
	}
	return out, nil
}

// propagateFailure marks every transitive stale dependent of failed as Failed.
func (s *Scheduler) propagateFailure(g *Graph, failed int, status []Status, results []NodeResult) {
	root := g.nodes[failed].ID
	queue := append([]int(nil), g.dependents[failed]...)
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		if status[i] != StatusStale {
			continue
		}
		status[i] = StatusFailed
		results[i].Status = StatusFailed
		results[i].Err = errs.Upstream(root)
		for _, o := range s.observers {
			o.NodeFinished(results[i])
		}
		queue = append(queue, g.dependents[i]...)
	}
}

// execute runs one node's action and commits its fingerprints on success.
func (s *Scheduler) execute(ctx context.Context, g *Graph, i int) error {
	n := g.nodes[i]
	if err := s.store.Invalidate(n.ID); err != nil {
		return errs.Integrity("invalidate", n.ID, err)
	}
	inputs, err := currentInputs(g, i, s.store, s.mode)
	if err != nil {
		return errs.Config("fingerprint inputs", n.ID, err)
	}
	if n.Task == nil {
		return errs.Configf("run", n.ID, "node has no action")
	}

	if err := n.Task.Run(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return errs.Cancelled(n.ID, err)
		}
		return err
	}
	if ctx.Err() != nil {
		return errs.Cancelled(n.ID, ctx.Err())
	}

	outputs, missing, err := n.outputFingerprints(s.mode)
	if err != nil {
		return errs.Config("fingerprint outputs", n.ID, err)
	}
	if len(missing) > 0 {
		return errs.Configf("run", n.ID, "did not produce %s", strings.Join(missing, ", "))
	}

	rec := fingerprint.Record{Kind: string(n.Kind), Inputs: inputs, Outputs: outputs, RunID: s.runID}
	if err := s.store.Commit(n.ID, rec); err != nil {
		return errs.Integrity("commit", n.ID, err)
	}
	return nil
}
