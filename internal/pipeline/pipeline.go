// Package pipeline assembles an evaluation run: it discovers datasets,
// builds the task graph binding engine, scoring and report work to nodes,
// and drives the scheduler against the persistent fingerprint store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mwiater/voxeval/internal/appconfig"
	"github.com/mwiater/voxeval/internal/dataset"
	"github.com/mwiater/voxeval/internal/errs"
	"github.com/mwiater/voxeval/internal/executor"
	"github.com/mwiater/voxeval/internal/fingerprint"
	"github.com/mwiater/voxeval/internal/report"
	"github.com/mwiater/voxeval/internal/taskgraph"
)

// EngineFactory selects the engine for a profile.
type EngineFactory func(p *dataset.Profile, datasetDir string, settings executor.Settings) executor.Engine

// Pipeline runs evaluations for one configuration.
type Pipeline struct {
	cfg       appconfig.Config
	datasets  string
	layout    Layout
	settings  executor.Settings
	log       zerolog.Logger
	observers []taskgraph.Observer
	runID     string
	newEngine EngineFactory

	profiles []profileReport
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for run events.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithObserver adds a progress observer.
func WithObserver(o taskgraph.Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// WithRunID fixes the run identifier.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// WithHTTPClient sets the client used for profile downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.settings.HTTPClient = c }
}

// WithEngineFactory replaces the engine selection.
func WithEngineFactory(f EngineFactory) Option {
	return func(p *Pipeline) { p.newEngine = f }
}

// New creates a pipeline from cfg. Configured directories are resolved
// against the current directory here, since engine commands run elsewhere.
func New(cfg appconfig.Config, opts ...Option) *Pipeline {
	work := absolute(cfg.WorkPath())
	p := &Pipeline{
		cfg:      cfg,
		datasets: absolute(cfg.DatasetsPath()),
		layout: Layout{
			Work:    work,
			Results: absolute(cfg.ResultsPath()),
			State:   absolute(cfg.StatePath()),
		},
		settings: executor.Settings{
			Binary:      engineBinary(cfg.EngineBinary()),
			Args:        cfg.Engine.Args,
			WorkRoot:    work,
			Timeout:     cfg.EngineTimeout(),
			GracePeriod: cfg.GracePeriod(),
		},
		log:       zerolog.Nop(),
		newEngine: executor.ForProfile,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func absolute(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// engineBinary leaves bare command names to PATH lookup and anchors paths.
func engineBinary(bin string) string {
	if !strings.ContainsRune(bin, filepath.Separator) {
		return bin
	}
	return absolute(bin)
}

// Layout returns the artifact layout.
func (p *Pipeline) Layout() Layout { return p.layout }

func (p *Pipeline) filter() dataset.Filter {
	return dataset.Filter{Datasets: p.cfg.Datasets, Profiles: p.cfg.Profiles}
}

// Discover loads the configured datasets and logs non-fatal issues.
func (p *Pipeline) Discover() (*dataset.Catalog, error) {
	cat, err := dataset.Discover(p.datasets, p.filter())
	if err != nil {
		return nil, err
	}
	for _, issue := range cat.Issues {
		p.log.Warn().Err(issue).Msg("dataset issue")
	}
	for _, ds := range cat.Datasets {
		for _, s := range ds.SampleErrors() {
			p.log.Warn().Err(s.Err).Str("dataset", ds.Name).Str("sample", s.ID).Msg("sample cannot be evaluated")
		}
		for _, prof := range ds.Profiles {
			if prof.Err != nil {
				p.log.Warn().Err(prof.Err).Str("profile", prof.Key()).Msg("profile misconfigured")
			}
		}
	}
	return cat, nil
}

// openStore loads the fingerprint store. A corrupt store is reset and the
// run continues from scratch.
func (p *Pipeline) openStore() (*fingerprint.FileStore, error) {
	store := fingerprint.NewFileStore(p.layout.State)
	if err := store.Load(); err != nil {
		if !errs.Is(err, errs.KindIntegrity) {
			return nil, err
		}
		p.log.Warn().Err(err).Str("store", store.Dir()).Msg("fingerprint store unreadable, recomputing everything")
	}
	return store, nil
}

func (p *Pipeline) prepare() (*taskgraph.Graph, *fingerprint.FileStore, error) {
	cat, err := p.Discover()
	if err != nil {
		return nil, nil, err
	}
	g, err := p.Build(cat)
	if err != nil {
		return nil, nil, err
	}
	store, err := p.openStore()
	if err != nil {
		return nil, nil, err
	}
	return g, store, nil
}

// Outcome is what a run produced.
type Outcome struct {
	Result *taskgraph.Result
	Status report.RunStatus
	// Summary covers every profile whose report is current, including ones
	// that were fresh and did not run.
	Summary report.Summary
}

// Run executes every stale node and writes run-status.json. Node failures
// are reported in the outcome; the error is non-nil only for configuration
// problems that prevent a run or for cancellation, in which case the
// outcome is still returned.
func (p *Pipeline) Run(ctx context.Context) (*Outcome, error) {
	g, store, err := p.prepare()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	opts := []taskgraph.Option{
		taskgraph.WithJobs(p.cfg.JobCount()),
		taskgraph.WithMode(fingerprint.ParseMode(p.cfg.FingerprintMode())),
		taskgraph.WithLogger(p.log),
		taskgraph.WithObserver(newLogObserver(p.log)),
	}
	if p.runID != "" {
		opts = append(opts, taskgraph.WithRunID(p.runID))
	}
	for _, o := range p.observers {
		opts = append(opts, taskgraph.WithObserver(o))
	}
	sched := taskgraph.NewScheduler(store, opts...)

	res, runErr := sched.Run(ctx, g)
	if res == nil {
		return nil, runErr
	}
	out := &Outcome{Result: res, Status: report.NewRunStatus(res)}
	if err := report.WriteRunStatus(p.layout.Results, out.Status); err != nil {
		return out, fmt.Errorf("write run status: %w", err)
	}
	if err := store.Close(); err != nil {
		return out, errs.Integrity("close store", store.Dir(), err)
	}
	current, err := p.retireReports(res)
	if err != nil {
		return out, err
	}
	summary, err := report.LoadSummary(current)
	if err != nil {
		return out, fmt.Errorf("load summary: %w", err)
	}
	out.Summary = summary
	return out, runErr
}

// retireReports removes the reports of profiles whose aggregate did not end
// fresh, and the cross-profile summary if it did not, so no stale numbers
// stay on disk. It returns the report directories that are current.
func (p *Pipeline) retireReports(res *taskgraph.Result) ([]string, error) {
	var current []string
	for _, pr := range p.profiles {
		if nr, ok := res.Get(pr.aggregateID); ok && nr.Status == taskgraph.StatusFresh {
			current = append(current, pr.dir)
			continue
		}
		if err := removeFiles(report.Files(pr.dir)); err != nil {
			return nil, err
		}
	}
	if nr, ok := res.Get(taskgraph.NodeID(taskgraph.KindAggregateAll, "", "")); !ok || nr.Status != taskgraph.StatusFresh {
		if err := removeFiles(report.SummaryFiles(p.layout.Results)); err != nil {
			return nil, err
		}
	}
	return current, nil
}

func removeFiles(paths []string) error {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale report: %w", err)
		}
	}
	return nil
}

// Status computes the plan without executing anything.
func (p *Pipeline) Status() (*taskgraph.Plan, error) {
	g, store, err := p.prepare()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return taskgraph.Compute(g, store, fingerprint.ParseMode(p.cfg.FingerprintMode()))
}

// Clean forgets every fingerprint so the next run recomputes everything.
// With removeResults it also deletes the results directory.
func (p *Pipeline) Clean(removeResults bool) error {
	store := fingerprint.NewFileStore(p.layout.State)
	if err := store.Reset(); err != nil {
		return err
	}
	p.log.Info().Str("store", store.Dir()).Msg("fingerprint store reset")
	if removeResults {
		if err := os.RemoveAll(p.layout.Results); err != nil {
			return fmt.Errorf("remove results: %w", err)
		}
		p.log.Info().Str("results", p.layout.Results).Msg("results removed")
	}
	return nil
}
