package pipeline

import (
	"path/filepath"

	"github.com/mwiater/voxeval/internal/dataset"
	"github.com/mwiater/voxeval/internal/executor"
)

const (
	// DownloadManifest is written into a profile's working directory.
	DownloadManifest = "downloads.txt"
	// TrainOutput holds the engine's training stdout.
	TrainOutput = "train-profile.txt"
	// TrainTiming holds the training duration reported by the engine.
	TrainTiming = "training.json"

	transcriptionsDir = "transcriptions"
	intentsDir        = "intents"
	scoresDir         = "scores"
)

// Layout resolves where every artifact of a run lives.
type Layout struct {
	Work    string
	Results string
	State   string
}

// ProfileResults is results/<dataset>/<profile>.
func (l Layout) ProfileResults(p *dataset.Profile) string {
	return filepath.Join(l.Results, p.Dataset, p.Name)
}

func (l Layout) Manifest(p *dataset.Profile) string {
	return filepath.Join(executor.WorkDir(l.Work, p), DownloadManifest)
}

func (l Layout) TrainOutput(p *dataset.Profile) string {
	return filepath.Join(l.ProfileResults(p), TrainOutput)
}

func (l Layout) TrainTiming(p *dataset.Profile) string {
	return filepath.Join(l.ProfileResults(p), TrainTiming)
}

func (l Layout) Transcription(p *dataset.Profile, sample string) string {
	return filepath.Join(l.ProfileResults(p), transcriptionsDir, sample+".json")
}

func (l Layout) Intent(p *dataset.Profile, sample string) string {
	return filepath.Join(l.ProfileResults(p), intentsDir, sample+".json")
}

func (l Layout) Score(p *dataset.Profile, sample string) string {
	return filepath.Join(l.ProfileResults(p), scoresDir, sample+".json")
}
