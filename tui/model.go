// Package tui renders live progress of an export run in the terminal.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/progress"
)

// Tracker provides the live run state
type Tracker interface {
	Snapshot() progress.Snapshot
}

// JobFilter narrows the jobs tab
type JobFilter int

const (
	FilterAll JobFilter = iota
	FilterInFlight
	FilterFailed
)

func (f JobFilter) String() string {
	switch f {
	case FilterInFlight:
		return "in flight"
	case FilterFailed:
		return "failed"
	default:
		return "all"
	}
}

// Model is the TUI application model
type Model struct {
	tracker      Tracker
	abort        func()
	ceiling      int
	exitOnFinish bool

	// Data
	snap progress.Snapshot

	// UI state
	width     int
	height    int
	activeTab int
	jobScroll int
	filter    JobFilter
	aborting  bool

	// Refresh
	lastRefresh time.Time
}

// ModelConfig holds the wiring for the TUI model
type ModelConfig struct {
	Tracker Tracker
	Ceiling int
	// Abort cancels the run; the first quit key calls it and waits for the
	// run to wind down, a second one leaves immediately
	Abort        func()
	ExitOnFinish bool
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	m := Model{
		tracker:      cfg.Tracker,
		abort:        cfg.Abort,
		ceiling:      cfg.Ceiling,
		exitOnFinish: cfg.ExitOnFinish,
	}
	if m.tracker != nil {
		m.snap = m.tracker.Snapshot()
	}
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
