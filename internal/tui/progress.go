// internal/tui/progress.go
package tui

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/voxeval/internal/taskgraph"
)

// maxFailures is how many recent failures the view keeps on screen.
const maxFailures = 5

// Messages sent from the scheduler goroutine to the program.
type (
	planMsg     struct{ stale int }
	startedMsg  struct{ id string }
	finishedMsg struct{ result taskgraph.NodeResult }
	doneMsg     struct{ err error }
)

// Model renders run progress: a bar over stale nodes, the nodes currently
// executing, and the most recent failures.
type Model struct {
	bar     progress.Model
	spinner spinner.Model

	total    int
	done     int
	failed   int
	running  map[string]time.Time
	failures []string

	cancel     context.CancelFunc
	cancelling bool
	finished   bool
	err        error
}

// NewModel creates the progress model. cancel is invoked when the user
// presses ctrl+c or q.
func NewModel(cancel context.CancelFunc) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return &Model{
		bar:     progress.New(progress.WithDefaultGradient()),
		spinner: s,
		running: make(map[string]time.Time),
		cancel:  cancel,
	}
}

// Init satisfies the tea.Model interface.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update routes incoming messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, msg.Width-20)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.cancelling && m.cancel != nil {
				m.cancel()
			}
			m.cancelling = true
		}
	case planMsg:
		m.total = msg.stale
	case startedMsg:
		m.running[msg.id] = time.Now()
	case finishedMsg:
		m.finish(msg.result)
	case doneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) finish(r taskgraph.NodeResult) {
	delete(m.running, r.ID)
	m.done++
	if r.Status != taskgraph.StatusFailed {
		return
	}
	m.failed++
	m.failures = append(m.failures, fmt.Sprintf("%s: %v", r.ID, r.Err))
	if len(m.failures) > maxFailures {
		m.failures = m.failures[len(m.failures)-maxFailures:]
	}
}

// Percent is the share of stale nodes that have finished. Nodes skipped
// because a dependency failed never finish, so a failed run stays short of 1.
func (m *Model) Percent() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.done) / float64(m.total)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	faintStyle = lipgloss.NewStyle().Faint(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// View renders the progress screen.
func (m *Model) View() string {
	var b strings.Builder
	status := "Evaluating"
	if m.cancelling {
		status = "Cancelling, waiting for running nodes"
	}
	if m.finished {
		status = "Done"
	}
	fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), titleStyle.Render(status))
	fmt.Fprintf(&b, "%s %d/%d nodes, %d failed\n", m.bar.ViewAs(m.Percent()), m.done, m.total, m.failed)

	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		elapsed := time.Since(m.running[id]).Truncate(100 * time.Millisecond)
		fmt.Fprintf(&b, "  %s %s\n", id, faintStyle.Render(elapsed.String()))
	}
	for _, f := range m.failures {
		b.WriteString(errorStyle.Render("  ✗ "+f) + "\n")
	}
	if !m.finished {
		b.WriteString(faintStyle.Render("q/ctrl+c cancel") + "\n")
	}
	return b.String()
}

// Observer forwards scheduler events to a running program.
type Observer struct {
	program *tea.Program
}

func (o *Observer) RunPlanned(plan *taskgraph.Plan) {
	_, stale := plan.Counts()
	o.program.Send(planMsg{stale: stale})
}

func (o *Observer) NodeStarted(id string, _ taskgraph.Kind) {
	o.program.Send(startedMsg{id: id})
}

func (o *Observer) NodeFinished(r taskgraph.NodeResult) {
	o.program.Send(finishedMsg{result: r})
}

// Run shows live progress on out while work executes. work receives a
// context cancelled by the user and the observer to hand to the scheduler.
// The screen stays up until work returns.
func Run(ctx context.Context, out io.Writer, work func(ctx context.Context, obs taskgraph.Observer) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewModel(cancel)
	p := tea.NewProgram(m, tea.WithOutput(out))
	obs := &Observer{program: p}

	errc := make(chan error, 1)
	go func() {
		err := work(ctx, obs)
		errc <- err
		p.Send(doneMsg{err: err})
	}()

	_, runErr := p.Run()
	workErr := <-errc
	if workErr == nil && runErr != nil {
		return fmt.Errorf("progress display: %w", runErr)
	}
	return workErr
}
