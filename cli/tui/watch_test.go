package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/foreman/types"
)

func staticFetch(view *RunView) Fetch {
	return func(context.Context) (*RunView, error) {
		return view, nil
	}
}

func TestWatchModelRendersOrders(t *testing.T) {
	view := &RunView{
		RunID: "r1",
		Orders: []*types.OrderRecord{
			{OrderNum: "0001", OrderName: "build", Status: types.StatusSucceeded},
			{OrderNum: "0002", OrderName: "test", Status: types.StatusRunning},
		},
	}

	m := NewWatchModel(staticFetch(view))
	next, _ := m.Update(pollMsg{view: view})
	out := next.View()

	for _, want := range []string{"Run r1", "build", "test", "succeeded", "running"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
}

func TestWatchModelQuitsWhenDone(t *testing.T) {
	view := &RunView{
		RunID:  "r1",
		Orders: []*types.OrderRecord{{OrderNum: "0001", OrderName: "build", Status: types.StatusSucceeded}},
		Done:   &types.DoneMarker{Status: types.StatusSucceeded},
	}

	m := NewWatchModel(staticFetch(view))
	next, cmd := m.Update(pollMsg{view: view})
	if cmd == nil {
		t.Fatal("expected quit command after done marker")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("cmd produced %T, want tea.QuitMsg", msg)
	}
	if !strings.Contains(next.View(), "done") {
		t.Errorf("final view should show done marker:\n%s", next.View())
	}
}

func TestWatchModelQuitKey(t *testing.T) {
	m := NewWatchModel(staticFetch(nil))
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if next.View() != "" {
		wm := next.(WatchModel)
		if !wm.quitting {
			t.Error("model should be quitting after q")
		}
	}
}

func TestWatchModelShowsPollError(t *testing.T) {
	m := NewWatchModel(staticFetch(nil))
	next, _ := m.Update(pollMsg{err: context.DeadlineExceeded})
	if !strings.Contains(next.View(), "deadline") {
		t.Errorf("view should surface the poll error:\n%s", next.View())
	}
}
