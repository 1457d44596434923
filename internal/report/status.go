package report

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"

	"github.com/mwiater/voxeval/internal/errs"
	"github.com/mwiater/voxeval/internal/taskgraph"
	"github.com/mwiater/voxeval/internal/util"
)

// RunStatusFile is written to the results directory after every run.
const RunStatusFile = "run-status.json"

// NodeStatus is one node's final state in run-status.json.
type NodeStatus struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Executed  bool   `json:"executed"`
	Reason    string `json:"reason,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// RunStatus is the machine-readable outcome of a run.
type RunStatus struct {
	RunID     string       `json:"run_id"`
	OK        bool         `json:"ok"`
	Cancelled bool         `json:"cancelled"`
	Fresh     int          `json:"fresh"`
	Stale     int          `json:"stale"`
	Failed    int          `json:"failed"`
	Executed  int          `json:"executed"`
	Nodes     []NodeStatus `json:"nodes"`
}

// NewRunStatus converts a scheduler result.
func NewRunStatus(res *taskgraph.Result) RunStatus {
	st := RunStatus{RunID: res.RunID, OK: res.OK() && !res.Cancelled, Cancelled: res.Cancelled}
	st.Fresh, st.Stale, st.Failed = res.Counts()
	st.Executed = len(res.Executed())
	for _, n := range res.Nodes {
		ns := NodeStatus{
			ID:       n.ID,
			Kind:     string(n.Kind),
			Status:   n.Status.String(),
			Executed: n.Executed,
			Detail:   n.Detail,
		}
		if n.Status != taskgraph.StatusFresh {
			ns.Reason = n.Reason
		}
		if n.Err != nil {
			ns.Error = n.Err.Error()
			ns.ErrorKind = string(errs.KindOf(n.Err))
		}
		st.Nodes = append(st.Nodes, ns)
	}
	return st
}

// WriteRunStatus writes run-status.json into resultsDir.
func WriteRunStatus(resultsDir string, st RunStatus) error {
	return util.WriteJSON(filepath.Join(resultsDir, RunStatusFile), st)
}

var (
	passLabel = color.New(color.FgGreen, color.Bold).SprintFunc()
	failLabel = color.New(color.FgRed, color.Bold).SprintFunc()
	warnLabel = color.New(color.FgYellow).SprintFunc()
)

// PrintRunSummary writes a colored pass/fail line per failed or unfinished
// node, then the overall counts.
func PrintRunSummary(w io.Writer, st RunStatus) {
	for _, n := range st.Nodes {
		switch n.Status {
		case taskgraph.StatusFailed.String():
			fmt.Fprintf(w, "%s %s: %s\n", failLabel("FAIL"), n.ID, n.Error)
			if n.Detail != "" {
				fmt.Fprintf(w, "     %s\n", util.TruncateRunes(util.FirstLine(n.Detail), 200))
			}
		case taskgraph.StatusStale.String():
			fmt.Fprintf(w, "%s %s: not run\n", warnLabel("SKIP"), n.ID)
		}
	}
	label := passLabel("PASS")
	if !st.OK {
		label = failLabel("FAIL")
	}
	fmt.Fprintf(w, "%s %d fresh, %d failed, %d not run, %d executed\n", label, st.Fresh, st.Failed, st.Stale, st.Executed)
}

// PrintPlan writes one line per stale node with the reason it must run, or
// every node when all is set, followed by the counts.
func PrintPlan(w io.Writer, plan *taskgraph.Plan, all bool) {
	for _, n := range plan.Nodes {
		switch {
		case n.Status == taskgraph.StatusStale:
			fmt.Fprintf(w, "%s %s: %s\n", warnLabel("STALE"), n.ID, n.Reason)
		case all:
			fmt.Fprintf(w, "%s %s\n", passLabel("FRESH"), n.ID)
		}
	}
	fresh, stale := plan.Counts()
	fmt.Fprintf(w, "%d fresh, %d stale\n", fresh, stale)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// RenderTable renders the summary as a terminal table.
func RenderTable(s Summary) string {
	rows := make([][]string, 0, len(s.Rows))
	for _, r := range s.Rows {
		rows = append(rows, Cells(r))
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(SummaryColumns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}
