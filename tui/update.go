package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/progress"
)

const tabCount = 2

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.snap.Done() || m.aborting || m.abort == nil {
				return m, tea.Quit
			}
			m.aborting = true
			m.abort()
			return m, nil
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.jobScroll = 0
		case "j", "down":
			if m.jobScroll < len(m.visibleJobs())-1 {
				m.jobScroll++
			}
		case "k", "up":
			if m.jobScroll > 0 {
				m.jobScroll--
			}
		case "f":
			m.filter = (m.filter + 1) % 3
			m.jobScroll = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		m.refresh(time.Time(msg))
		if m.snap.Done() && m.exitOnFinish {
			return m, tea.Quit
		}
		return m, tickCmd()
	}

	return m, nil
}

func (m *Model) refresh(now time.Time) {
	if m.tracker != nil {
		m.snap = m.tracker.Snapshot()
	}
	m.lastRefresh = now
}

// visibleJobs returns the jobs matching the current filter
func (m Model) visibleJobs() []progress.Job {
	var out []progress.Job
	for _, j := range m.snap.Jobs {
		switch m.filter {
		case FilterInFlight:
			if j.ID == "" || j.Status.IsTerminal() {
				continue
			}
		case FilterFailed:
			if j.ID != "" && j.Status != domain.StatusFailed {
				continue
			}
		}
		out = append(out, j)
	}
	return out
}
