package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/foreman/types"
)

// pollInterval is how often the watch view refreshes run state.
const pollInterval = 2 * time.Second

// RunView is one polled snapshot of a run: its order rows and, once the
// run has finalized, the done marker.
type RunView struct {
	RunID  string
	Orders []*types.OrderRecord
	Done   *types.DoneMarker
}

// Fetch loads the current RunView. The watch model owns the polling
// cadence; implementations just read.
type Fetch func(ctx context.Context) (*RunView, error)

// WatchModel is a Bubble Tea model that polls a run until it finalizes.
type WatchModel struct {
	fetch    Fetch
	view     *RunView
	spin     spinner.Model
	err      error
	width    int
	quitting bool
}

// NewWatchModel creates a watch model over a fetch function.
func NewWatchModel(fetch Fetch) WatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = WarningStyle
	return WatchModel{fetch: fetch, spin: sp}
}

// pollMsg carries one fetch result into the update loop.
type pollMsg struct {
	view *RunView
	err  error
}

func (m WatchModel) poll() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollInterval)
		defer cancel()
		view, err := fetch(ctx)
		return pollMsg{view: view, err: err}
	}
}

func pollLater() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollTickMsg{} })
}

type pollTickMsg struct{}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.poll())
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, watchKeys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case pollMsg:
		m.err = msg.err
		if msg.view != nil {
			m.view = msg.view
			if msg.view.Done != nil {
				m.quitting = true
				return m, tea.Quit
			}
		}
		return m, pollLater()

	case pollTickMsg:
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting && m.view != nil && m.view.Done == nil {
		return ""
	}

	var b strings.Builder
	if m.view == nil {
		b.WriteString(m.spin.View())
		b.WriteString(" loading run...\n")
		if m.err != nil {
			b.WriteString(ErrorStyle.Render(m.err.Error()))
			b.WriteString("\n")
		}
		return b.String()
	}

	b.WriteString(TitleStyle.Render(fmt.Sprintf("Run %s", m.view.RunID)))
	b.WriteString("\n")

	for _, rec := range m.view.Orders {
		line := fmt.Sprintf("%s  %-20s %s",
			rec.OrderNum,
			rec.OrderName,
			StatusStyle(string(rec.Status)).Render(string(rec.Status)))
		if rec.FailureReason != "" {
			line += "  " + ErrorStyle.Render(rec.FailureReason)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.view.Done != nil {
		b.WriteString("\n")
		b.WriteString(BoxStyle.Render(fmt.Sprintf("done: %s",
			StatusStyle(string(m.view.Done.Status)).Render(string(m.view.Done.Status)))))
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
		b.WriteString(m.spin.View())
		b.WriteString(" waiting for orders to finish")
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(ErrorStyle.Render("poll: " + m.err.Error()))
			b.WriteString("\n")
		}
	}

	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

// watchKeyMap defines key bindings for the watch view.
type watchKeyMap struct {
	Quit key.Binding
}

var watchKeys = watchKeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// RunWatchTUI runs the watch view until the run finalizes or the user
// quits.
func RunWatchTUI(fetch Fetch) error {
	p := tea.NewProgram(NewWatchModel(fetch))
	_, err := p.Run()
	return err
}
