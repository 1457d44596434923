// Package executor invokes a profile's recognition engine. Each operation
// runs either the profile's override executable from bin/ or the default
// engine binary, with the argument framing the engine expects.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwiater/voxeval/internal/dataset"
	"github.com/mwiater/voxeval/internal/errs"
	"github.com/mwiater/voxeval/internal/process"
	"github.com/mwiater/voxeval/internal/util"
)

// Separator divides engine-level arguments from operation arguments when an
// override executable is invoked.
const Separator = "--"

// Engine is the capability set of one profile.
type Engine interface {
	Download(ctx context.Context) (*Downloads, error)
	Train(ctx context.Context) (*Training, error)
	Transcribe(ctx context.Context, s dataset.Sample) (*Transcription, error)
	Recognize(ctx context.Context, s dataset.Sample, t *Transcription) (*IntentResult, error)
}

// Settings control how engines are invoked.
type Settings struct {
	// Binary is the default engine used when a profile has no override.
	Binary string
	// Args are engine-level arguments appended after --profile.
	Args        []string
	WorkRoot    string
	Timeout     time.Duration
	GracePeriod time.Duration
	HTTPClient  *http.Client
}

// Transcription is the output of transcribing one sample.
type Transcription struct {
	Sample            string          `json:"sample"`
	Profile           string          `json:"profile"`
	WavName           string          `json:"wav_name"`
	Text              string          `json:"text"`
	TranscribeSeconds float64         `json:"transcribe_seconds"`
	WavSeconds        float64         `json:"wav_seconds"`
	Raw               json.RawMessage `json:"raw"`
}

// IntentResult is the output of recognizing one transcription.
type IntentResult struct {
	Sample           string          `json:"sample"`
	Profile          string          `json:"profile"`
	Text             string          `json:"text"`
	Intent           dataset.Intent  `json:"intent"`
	RecognizeSeconds float64         `json:"recognize_seconds"`
	Raw              json.RawMessage `json:"raw"`
}

// Training is the output of training a profile.
type Training struct {
	// Output is the engine's stdout, saved as train-profile.txt.
	Output  []byte
	Seconds float64
}

// profileEngine implements Engine for a dataset profile.
type profileEngine struct {
	profile    *dataset.Profile
	datasetDir string
	workDir    string
	settings   Settings
}

// ForProfile selects the engine for a profile. Overrides are resolved per
// operation, so a profile may override only some of them.
func ForProfile(p *dataset.Profile, datasetDir string, settings Settings) Engine {
	if settings.Binary == "" {
		settings.Binary = "voice2json"
	}
	if settings.HTTPClient == nil {
		settings.HTTPClient = http.DefaultClient
	}
	return &profileEngine{
		profile:    p,
		datasetDir: datasetDir,
		workDir:    WorkDir(settings.WorkRoot, p),
		settings:   settings,
	}
}

// WorkDir is where a profile's staged files and downloads live.
func WorkDir(root string, p *dataset.Profile) string {
	return filepath.Join(root, p.Dataset, p.Name)
}

// EngineArgs returns the engine-level arguments for a profile.
func EngineArgs(workDir string, settings Settings, p *dataset.Profile) []string {
	args := []string{"--profile", workDir}
	args = append(args, settings.Args...)
	return append(args, p.Descriptor.EngineArgs...)
}

// Frame builds the argv for one operation. An override receives engine
// arguments, the separator, then operation arguments. The default engine
// receives engine arguments, the operation name, then operation arguments.
func Frame(override string, engine string, op dataset.Operation, engineArgs, opArgs []string) (string, []string) {
	if override != "" {
		args := append(append([]string{}, engineArgs...), Separator)
		return override, append(args, opArgs...)
	}
	args := append(append([]string{}, engineArgs...), string(op))
	return engine, append(args, opArgs...)
}

// Invocation resolves the binary and argv for op.
func (e *profileEngine) Invocation(op dataset.Operation, extraEngineArgs []string, opArgs []string) (string, []string) {
	override, _ := e.profile.Override(op)
	engineArgs := append(EngineArgs(e.workDir, e.settings, e.profile), extraEngineArgs...)
	return Frame(override, e.settings.Binary, op, engineArgs, opArgs)
}

// CommandLine renders the invocation of op for a profile without per-sample
// arguments. It is fingerprinted so that changing an override or the engine
// arguments makes the affected nodes stale.
func CommandLine(p *dataset.Profile, settings Settings, op dataset.Operation) string {
	if settings.Binary == "" {
		settings.Binary = "voice2json"
	}
	override, _ := p.Override(op)
	bin, args := Frame(override, settings.Binary, op, EngineArgs(WorkDir(settings.WorkRoot, p), settings, p), nil)
	return strings.Join(append([]string{bin}, args...), " ")
}

func (e *profileEngine) run(ctx context.Context, op dataset.Operation, subject string, cmd process.Command) (*process.Result, error) {
	if _, isOverride := e.profile.Override(op); !isOverride {
		if _, err := exec.LookPath(cmd.Binary); err != nil {
			return nil, errs.External(string(op), subject, fmt.Errorf("no override in %s and default engine unavailable: %w", filepath.Join(e.profile.Dir, "bin"), err))
		}
	}
	cmd.GracePeriod = e.settings.GracePeriod
	cmd.Timeout = e.settings.Timeout

	res, err := process.Run(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return res, errs.Cancelled(string(op), err)
		}
		xerr := errs.External(string(op), subject, err)
		if res != nil {
			xerr.WithDetail(strings.TrimSpace(string(res.Stderr)))
		}
		return res, xerr
	}
	return res, nil
}

func (e *profileEngine) Train(ctx context.Context) (*Training, error) {
	if e.profile.Err != nil {
		return nil, e.profile.Err
	}
	if err := Stage(e.profile, e.workDir); err != nil {
		return nil, errs.Config("stage profile", e.profile.Key(), err)
	}
	bin, args := e.Invocation(dataset.OpTrain, []string{"--debug"}, nil)
	res, err := e.run(ctx, dataset.OpTrain, e.profile.Key(), process.Command{Binary: bin, Args: args, Dir: e.workDir})
	if err != nil {
		return nil, err
	}
	return &Training{Output: res.Stdout, Seconds: TrainingSeconds(res.Stdout, res.Stderr)}, nil
}

func (e *profileEngine) Transcribe(ctx context.Context, s dataset.Sample) (*Transcription, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	bin, args := e.Invocation(dataset.OpTranscribe, nil, []string{"--relative-directory", e.datasetDir, s.WavName})
	res, err := e.run(ctx, dataset.OpTranscribe, s.WavName, process.Command{Binary: bin, Args: args, Dir: e.datasetDir})
	if err != nil {
		return nil, err
	}
	t, err := ParseTranscription(res.Stdout)
	if err != nil {
		return nil, errs.External(string(dataset.OpTranscribe), s.WavName, err).WithDetail(util.TruncateRunes(string(res.Stdout), 2000))
	}
	t.Sample = s.ID
	t.Profile = e.profile.Name
	t.WavName = s.WavName
	if t.TranscribeSeconds == 0 {
		t.TranscribeSeconds = res.Duration.Seconds()
	}
	return t, nil
}

func (e *profileEngine) Recognize(ctx context.Context, s dataset.Sample, t *Transcription) (*IntentResult, error) {
	if t == nil {
		return nil, errors.New("recognize: transcription is required")
	}
	line, err := json.Marshal(map[string]any{"text": t.Text, "wav_name": t.WavName})
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	bin, args := e.Invocation(dataset.OpRecognize, nil, nil)
	res, err := e.run(ctx, dataset.OpRecognize, s.WavName, process.Command{
		Binary: bin,
		Args:   args,
		Dir:    e.workDir,
		Stdin:  bytes.NewReader(line),
	})
	if err != nil {
		return nil, err
	}
	r, err := ParseIntentResult(res.Stdout)
	if err != nil {
		return nil, errs.External(string(dataset.OpRecognize), s.WavName, err).WithDetail(util.TruncateRunes(string(res.Stdout), 2000))
	}
	r.Sample = s.ID
	r.Profile = e.profile.Name
	if r.RecognizeSeconds == 0 {
		r.RecognizeSeconds = res.Duration.Seconds()
	}
	return r, nil
}
