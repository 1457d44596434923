package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mwiater/voxeval/internal/dataset"
	"github.com/mwiater/voxeval/internal/executor"
	"github.com/mwiater/voxeval/internal/metrics"
	"github.com/mwiater/voxeval/internal/report"
	"github.com/mwiater/voxeval/internal/taskgraph"
	"github.com/mwiater/voxeval/internal/util"
)

type trainTiming struct {
	Seconds float64 `json:"seconds"`
}

// profileReport ties a profile's aggregate node to its report directory.
type profileReport struct {
	aggregateID string
	dir         string
}

// Build turns a catalog into the evaluation graph. Per profile it adds
// download, train and aggregate nodes; per sample it adds transcribe,
// recognize and score nodes. A single aggregate-all node closes the graph.
func (p *Pipeline) Build(cat *dataset.Catalog) (*taskgraph.Graph, error) {
	g := taskgraph.New()
	var aggregates []string
	var profiles []profileReport

	for _, ds := range cat.Datasets {
		for _, prof := range ds.Profiles {
			id, err := p.addProfile(g, ds, prof)
			if err != nil {
				return nil, err
			}
			aggregates = append(aggregates, id)
			profiles = append(profiles, profileReport{aggregateID: id, dir: p.layout.ProfileResults(prof)})
		}
	}

	p.profiles = profiles
	dirs := make([]string, len(profiles))
	for i, pr := range profiles {
		dirs[i] = pr.dir
	}
	if err := g.Add(&taskgraph.Node{
		ID:      taskgraph.NodeID(taskgraph.KindAggregateAll, "", ""),
		Kind:    taskgraph.KindAggregateAll,
		Inputs:  []taskgraph.Input{taskgraph.ParamInput("profiles", []byte(strings.Join(aggregates, "\n")))},
		Outputs: report.SummaryFiles(p.layout.Results),
		Deps:    aggregates,
		Task: taskgraph.TaskFunc(func(ctx context.Context) error {
			reports := make([]report.ProfileReport, 0, len(dirs))
			for _, dir := range dirs {
				r, err := report.ReadProfile(dir)
				if err != nil {
					return err
				}
				reports = append(reports, r)
			}
			return report.WriteSummary(p.layout.Results, report.NewSummary(reports))
		}),
	}); err != nil {
		return nil, err
	}
	return g, nil
}

// commandInputs fingerprints how op is invoked for prof, including the
// override executable's content.
func (p *Pipeline) commandInputs(prof *dataset.Profile, op dataset.Operation) []taskgraph.Input {
	in := []taskgraph.Input{taskgraph.ParamInput("command", []byte(executor.CommandLine(prof, p.settings, op)))}
	if override, ok := prof.Override(op); ok {
		in = append(in, taskgraph.FileInput(override))
	}
	return in
}

func (p *Pipeline) strictness(prof *dataset.Profile) metrics.Strictness {
	if prof.Descriptor.Strictness != "" {
		return metrics.ParseStrictness(prof.Descriptor.Strictness)
	}
	return metrics.ParseStrictness(p.cfg.StrictnessLevel())
}

// addProfile adds one profile's subgraph and returns its aggregate node ID.
func (p *Pipeline) addProfile(g *taskgraph.Graph, ds *dataset.Dataset, prof *dataset.Profile) (string, error) {
	scope := prof.Key()
	eng := p.newEngine(prof, ds.Dir, p.settings)

	downloadID := taskgraph.NodeID(taskgraph.KindDownload, scope, "")
	manifest := p.layout.Manifest(prof)
	workDir := executor.WorkDir(p.layout.Work, prof)
	if err := g.Add(&taskgraph.Node{
		ID:      downloadID,
		Kind:    taskgraph.KindDownload,
		Inputs:  p.commandInputs(prof, dataset.OpDownload),
		Outputs: []string{manifest},
		ListOutputs: func() ([]string, error) {
			data, err := os.ReadFile(manifest)
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return executor.ManifestFiles(workDir, data), nil
		},
		Task: taskgraph.TaskFunc(func(ctx context.Context) error {
			d, err := eng.Download(ctx)
			if err != nil {
				return err
			}
			return util.WriteFile(manifest, d.Manifest())
		}),
	}); err != nil {
		return "", err
	}

	trainID := taskgraph.NodeID(taskgraph.KindTrain, scope, "")
	trainOut, trainTime := p.layout.TrainOutput(prof), p.layout.TrainTiming(prof)
	trainInputs := p.commandInputs(prof, dataset.OpTrain)
	files, err := prof.InputFiles()
	if err != nil {
		return "", fmt.Errorf("list profile files %s: %w", scope, err)
	}
	for _, f := range files {
		trainInputs = append(trainInputs, taskgraph.FileInput(f))
	}
	trainOutputs := []string{trainOut, trainTime}
	for _, a := range prof.Descriptor.Artifacts {
		trainOutputs = append(trainOutputs, filepath.Join(workDir, filepath.FromSlash(a)))
	}
	if err := g.Add(&taskgraph.Node{
		ID:      trainID,
		Kind:    taskgraph.KindTrain,
		Inputs:  trainInputs,
		Outputs: trainOutputs,
		Deps:    []string{downloadID},
		Task: taskgraph.TaskFunc(func(ctx context.Context) error {
			t, err := eng.Train(ctx)
			if err != nil {
				return err
			}
			if err := util.WriteFile(trainOut, t.Output); err != nil {
				return err
			}
			return util.WriteJSON(trainTime, trainTiming{Seconds: t.Seconds})
		}),
	}); err != nil {
		return "", err
	}

	opts := metrics.Options{CaseSensitive: p.cfg.CaseSensitive, Strictness: p.strictness(prof)}
	scoring := []byte(fmt.Sprintf("strictness=%s case_sensitive=%t", opts.Strictness, opts.CaseSensitive))

	aggDeps := []string{trainID}
	sampleIDs := make([]string, 0, len(ds.Samples))
	scorePaths := make([]string, 0, len(ds.Samples))
	for _, s := range ds.Samples {
		scoreID, err := p.addSample(g, ds, prof, eng, s, trainID, opts, scoring)
		if err != nil {
			return "", err
		}
		aggDeps = append(aggDeps, scoreID)
		sampleIDs = append(sampleIDs, s.ID)
		scorePaths = append(scorePaths, p.layout.Score(prof, s.ID))
	}

	aggID := taskgraph.NodeID(taskgraph.KindAggregateProfile, scope, "")
	resultsDir := p.layout.ProfileResults(prof)
	dsName, profName := ds.Name, prof.Name
	if err := g.Add(&taskgraph.Node{
		ID:   aggID,
		Kind: taskgraph.KindAggregateProfile,
		Inputs: []taskgraph.Input{
			taskgraph.ParamInput("samples", []byte(strings.Join(sampleIDs, "\n"))),
			taskgraph.ParamInput("scoring", scoring),
		},
		Outputs: report.Files(resultsDir),
		Deps:    aggDeps,
		Task: taskgraph.TaskFunc(func(ctx context.Context) error {
			records := make([]metrics.ScoreRecord, 0, len(scorePaths))
			for _, path := range scorePaths {
				var rec metrics.ScoreRecord
				if err := util.ReadJSON(path, &rec); err != nil {
					return err
				}
				records = append(records, rec)
			}
			var timing trainTiming
			if err := util.ReadJSON(trainTime, &timing); err != nil {
				return err
			}
			r := report.Aggregate(dsName, profName, opts.Strictness, records, timing.Seconds)
			return report.WriteProfile(resultsDir, r)
		}),
	}); err != nil {
		return "", err
	}
	return aggID, nil
}

// addSample adds the transcribe, recognize and score nodes for one sample
// and returns the score node's ID.
func (p *Pipeline) addSample(g *taskgraph.Graph, ds *dataset.Dataset, prof *dataset.Profile, eng executor.Engine, s dataset.Sample, trainID string, opts metrics.Options, scoring []byte) (string, error) {
	scope := prof.Key()
	transcription := p.layout.Transcription(prof, s.ID)
	intent := p.layout.Intent(prof, s.ID)
	score := p.layout.Score(prof, s.ID)

	transcribeID := taskgraph.NodeID(taskgraph.KindTranscribe, scope, s.ID)
	inputs := p.commandInputs(prof, dataset.OpTranscribe)
	if s.WavPath != "" {
		inputs = append(inputs, taskgraph.FileInput(s.WavPath))
	}
	if err := g.Add(&taskgraph.Node{
		ID:      transcribeID,
		Kind:    taskgraph.KindTranscribe,
		Inputs:  inputs,
		Outputs: []string{transcription},
		Deps:    []string{trainID},
		Task: taskgraph.TaskFunc(func(ctx context.Context) error {
			t, err := eng.Transcribe(ctx, s)
			if err != nil {
				return err
			}
			return util.WriteJSON(transcription, t)
		}),
	}); err != nil {
		return "", err
	}

	recognizeID := taskgraph.NodeID(taskgraph.KindRecognize, scope, s.ID)
	if err := g.Add(&taskgraph.Node{
		ID:      recognizeID,
		Kind:    taskgraph.KindRecognize,
		Inputs:  p.commandInputs(prof, dataset.OpRecognize),
		Outputs: []string{intent},
		Deps:    []string{transcribeID, trainID},
		Task: taskgraph.TaskFunc(func(ctx context.Context) error {
			var t executor.Transcription
			if err := util.ReadJSON(transcription, &t); err != nil {
				return err
			}
			r, err := eng.Recognize(ctx, s, &t)
			if err != nil {
				return err
			}
			return util.WriteJSON(intent, r)
		}),
	}); err != nil {
		return "", err
	}

	scoreID := taskgraph.NodeID(taskgraph.KindScore, scope, s.ID)
	dsName := ds.Name
	if err := g.Add(&taskgraph.Node{
		ID:   scoreID,
		Kind: taskgraph.KindScore,
		Inputs: []taskgraph.Input{
			taskgraph.ParamInput("truth", s.Truth.Raw),
			taskgraph.ParamInput("scoring", scoring),
		},
		Outputs: []string{score},
		Deps:    []string{transcribeID, recognizeID},
		Task: taskgraph.TaskFunc(func(ctx context.Context) error {
			var t executor.Transcription
			if err := util.ReadJSON(transcription, &t); err != nil {
				return err
			}
			var r executor.IntentResult
			if err := util.ReadJSON(intent, &r); err != nil {
				return err
			}
			return util.WriteJSON(score, metrics.Score(dsName, s, &t, &r, opts))
		}),
	}); err != nil {
		return "", err
	}
	return scoreID, nil
}
