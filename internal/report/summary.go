package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mwiater/voxeval/internal/util"
)

// Summary artifact names under the results directory.
const (
	SummaryCSV      = "summary.csv"
	SummaryMarkdown = "summary.md"
)

// SummaryColumns is the fixed column order of the cross-profile summary.
var SummaryColumns = []string{
	"profile",
	"dataset",
	"num_samples",
	"mean_wer",
	"intent_accuracy",
	"transcription_accuracy",
	"intent_slot_accuracy",
	"training_seconds",
	"average_transcribe_seconds",
	"average_recognize_seconds",
}

// Summary is one row per (dataset, profile), sorted by profile then dataset.
type Summary struct {
	Rows []ProfileReport
}

// NewSummary builds a summary from profile reports. Per-sample records are
// dropped; the summary only needs aggregates.
func NewSummary(reports []ProfileReport) Summary {
	rows := make([]ProfileReport, 0, len(reports))
	for _, r := range reports {
		r.Records = nil
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Profile != rows[j].Profile {
			return rows[i].Profile < rows[j].Profile
		}
		return rows[i].Dataset < rows[j].Dataset
	})
	return Summary{Rows: rows}
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// Cells renders a row's values in SummaryColumns order.
func Cells(r ProfileReport) []string {
	return []string{
		r.Profile,
		r.Dataset,
		strconv.Itoa(r.NumSamples),
		formatFloat(r.MeanWER, 4),
		formatFloat(r.IntentAccuracy, 4),
		formatFloat(r.TranscriptionAccuracy, 4),
		formatFloat(r.IntentSlotAccuracy, 4),
		formatFloat(r.TrainingSeconds, 2),
		formatFloat(r.AverageTranscribeSeconds, 4),
		formatFloat(r.AverageRecognizeSeconds, 4),
	}
}

// CSV renders the summary with a header row.
func (s Summary) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(SummaryColumns); err != nil {
		return nil, err
	}
	for _, r := range s.Rows {
		if err := w.Write(Cells(r)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Markdown renders the summary as a Markdown table.
func (s Summary) Markdown() []byte {
	var buf bytes.Buffer
	buf.WriteString("# Evaluation summary\n\n")
	fmt.Fprintf(&buf, "| %s |\n", strings.Join(SummaryColumns, " | "))
	fmt.Fprintf(&buf, "|%s\n", strings.Repeat("---|", len(SummaryColumns)))
	for _, r := range s.Rows {
		cells := Cells(r)
		for i := range cells {
			cells[i] = mdEscape(cells[i])
		}
		fmt.Fprintf(&buf, "| %s |\n", strings.Join(cells, " | "))
	}
	return buf.Bytes()
}

// LoadSummary reads report.json from each profile results directory.
// Profiles that have not produced a report yet are skipped.
func LoadSummary(dirs []string) (Summary, error) {
	reports := make([]ProfileReport, 0, len(dirs))
	for _, dir := range dirs {
		r, err := ReadProfile(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Summary{}, err
		}
		reports = append(reports, r)
	}
	return NewSummary(reports), nil
}

// SummaryFiles returns the paths WriteSummary produces under resultsDir.
func SummaryFiles(resultsDir string) []string {
	return []string{filepath.Join(resultsDir, SummaryCSV), filepath.Join(resultsDir, SummaryMarkdown)}
}

// WriteSummary writes summary.csv and summary.md into resultsDir.
func WriteSummary(resultsDir string, s Summary) error {
	data, err := s.CSV()
	if err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	if err := util.WriteFile(filepath.Join(resultsDir, SummaryCSV), data); err != nil {
		return fmt.Errorf("write %s: %w", SummaryCSV, err)
	}
	if err := util.WriteFile(filepath.Join(resultsDir, SummaryMarkdown), s.Markdown()); err != nil {
		return fmt.Errorf("write %s: %w", SummaryMarkdown, err)
	}
	return nil
}
