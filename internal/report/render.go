package report

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	texttemplate "text/template"

	"github.com/mwiater/voxeval/internal/metrics"
)

type htmlRow struct {
	Class  string
	Sample string
	Record metrics.ScoreRecord
	Star   bool
	Slots  string
	Errors string
}

type htmlData struct {
	Title  string
	Report ProfileReport
	Rows   []htmlRow
}

// byImportance orders records most severe first, then by sample.
func byImportance(records []metrics.ScoreRecord) []metrics.ScoreRecord {
	out := append([]metrics.ScoreRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		if si, sj := out[i].Severity(), out[j].Severity(); si != sj {
			return si > sj
		}
		return out[i].Sample < out[j].Sample
	})
	return out
}

func rowClass(rec metrics.ScoreRecord) string {
	switch rec.Severity() {
	case 2:
		return "error"
	case 1:
		return "warn"
	default:
		return "match"
	}
}

func slotSummary(rec metrics.ScoreRecord) string {
	var parts []string
	for _, s := range rec.Slots {
		switch s.Status {
		case metrics.SlotMatched:
			parts = append(parts, fmt.Sprintf("%s=%s", s.Name, s.Actual))
		case metrics.SlotMissing:
			parts = append(parts, fmt.Sprintf("%s missing (want %s)", s.Name, s.Expected))
		case metrics.SlotMismatched:
			parts = append(parts, fmt.Sprintf("%s=%s (want %s)", s.Name, s.Actual, s.Expected))
		case metrics.SlotExtra:
			parts = append(parts, fmt.Sprintf("%s=%s (extra)", s.Name, s.Actual))
		}
	}
	return strings.Join(parts, ", ")
}

func errorSummary(rec metrics.ScoreRecord) string {
	w := rec.WordErrors
	if w.Errors() == 0 {
		return ""
	}
	return fmt.Sprintf("%d sub, %d del, %d ins", w.Substitutions, w.Deletions, w.Insertions)
}

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

var templateFuncs = map[string]any{
	"pct":  pct,
	"join": func(words []string) string { return strings.Join(words, " ") },
	"f2":   func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"f4":   func(v float64) string { return fmt.Sprintf("%.4f", v) },
}

// RenderHTML renders the per-profile drill-down page: one expected row and
// one actual row per sample, most severe first.
func RenderHTML(r ProfileReport) ([]byte, error) {
	data := htmlData{Title: r.Dataset + "_" + r.Profile, Report: r}
	for _, rec := range byImportance(r.Records) {
		data.Rows = append(data.Rows, htmlRow{
			Class:  rowClass(rec),
			Sample: rec.Sample,
			Record: rec,
			Star:   rec.TranscriptMatch,
			Slots:  slotSummary(rec),
			Errors: errorSummary(rec),
		})
	}
	var buf bytes.Buffer
	if err := profileHTMLTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderMarkdown renders a narrative summary followed by a per-sample table.
func RenderMarkdown(r ProfileReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := profileMarkdownTemplate.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	for _, rec := range byImportance(r.Records) {
		fmt.Fprintf(&buf, "| %s | %s | %s | %.4f | %s | %s |\n",
			mdEscape(rec.Sample),
			mdEscape(rec.ExpectedIntent),
			mdEscape(rec.ActualIntent),
			rec.WER,
			mdEscape(strings.Join(rec.Hypothesis, " ")),
			mdEscape(slotSummary(rec)),
		)
	}
	return buf.Bytes(), nil
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

var profileMarkdownTemplate = texttemplate.Must(texttemplate.New("profile-md").Funcs(texttemplate.FuncMap(templateFuncs)).Parse(profileMarkdownText))

const profileMarkdownText = `# {{ .Dataset }} / {{ .Profile }}

- Samples: {{ .NumSamples }}
- Mean WER: {{ f4 .MeanWER }}
- Intent accuracy: {{ pct .IntentAccuracy }} ({{ .Strictness }})
- Intent + slot accuracy: {{ pct .IntentSlotAccuracy }}
- Transcription accuracy: {{ pct .TranscriptionAccuracy }}
- Training seconds: {{ f2 .TrainingSeconds }}
- Average transcribe seconds: {{ f4 .AverageTranscribeSeconds }}
- Average recognize seconds: {{ f4 .AverageRecognizeSeconds }}
- Average transcription speed-up: {{ f2 .AverageSpeedup }}x

| Sample | Expected intent | Actual intent | WER | Hypothesis | Slots |
|---|---|---|---|---|---|
`

var profileHTMLTemplate = template.Must(template.New("profile-report").Funcs(template.FuncMap(templateFuncs)).Parse(profileHTMLText))

const profileHTMLText = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{ .Title }}</title>
  <style>
    body { font-family: sans-serif; margin: 2em; }
    .pure-table { border-collapse: collapse; border: 1px solid #cbcbcb; }
    .pure-table td, .pure-table th { border: 1px solid #cbcbcb; padding: 0.4em 1em; text-align: left; }
    .pure-table thead { background-color: #e0e0e0; }
    tr.match { background-color: #dff0d8; }
    tr.warn { background-color: #fcf8e3; }
    tr.error { background-color: #f2dede; }
    tt { white-space: pre-wrap; }
  </style>
</head>
<body>
  <h1>{{ .Title }}</h1>
  <p>Samples: {{ .Report.NumSamples }}</p>
  <p>Mean WER: {{ f4 .Report.MeanWER }}</p>
  <p>Intent Accuracy ({{ .Report.Strictness }}): {{ pct .Report.IntentAccuracy }}</p>
  <p>Intent/Slot Accuracy: {{ pct .Report.IntentSlotAccuracy }}</p>
  <p>Transcription Accuracy: {{ pct .Report.TranscriptionAccuracy }}</p>
  <p>Average Transcription Speed-Up: {{ f2 .Report.AverageSpeedup }}x</p>
  <table class="pure-table pure-table-bordered">
    <thead>
      <tr><th>Key</th><th>Intent</th><th>Text</th><th>Errors</th></tr>
    </thead>
    <tbody>
    {{- range .Rows }}
      <tr>
        <td>{{ .Sample }}</td>
        <td>{{ .Record.ExpectedIntent }}</td>
        <td><tt>{{ join .Record.Reference }}</tt></td>
        <td></td>
      </tr>
      <tr class="{{ .Class }}">
        <td>{{ if .Star }}&#9733;{{ end }}</td>
        <td>{{ .Record.ActualIntent }}</td>
        <td><tt>{{ join .Record.Hypothesis }}</tt><br>{{ .Slots }}</td>
        <td>{{ .Errors }}</td>
      </tr>
    {{- end }}
    </tbody>
  </table>
</body>
</html>
`
