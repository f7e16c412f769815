package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/domain"
	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/progress"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	completedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	inProgressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pendingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	failedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimmedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	s := m.snap

	batch := string(s.BatchID)
	if batch == "" {
		batch = "starting"
	}
	header := fmt.Sprintf(" Mailbox Export │ %s │ %s │ In flight: %d/%d │ Poll errors: %d ",
		batch, s.Phase, s.InFlight, m.ceiling, s.PollErrors)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case 0:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderSummary()))
		b.WriteString("\n")
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderActivity()))
		b.WriteString("\n")
	case 1:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderJobs()))
		b.WriteString("\n")
	}

	var bar string
	switch {
	case s.Done():
		bar = " Run finished. [tab]switch [q]uit "
	case m.aborting:
		bar = " Aborting: waiting for the final refresh and cleanup... [q]uit now "
	case m.activeTab == 1:
		bar = fmt.Sprintf(" [tab]switch [f]ilter (%s) [j/k]scroll [q]abort ", m.filter)
	default:
		bar = " [tab]switch [q]abort "
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(bar))

	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []string{"Dashboard", "Jobs"}
	var parts []string
	for i, t := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(t))
		} else {
			parts = append(parts, tabInactiveStyle.Render(t))
		}
	}
	return " " + strings.Join(parts, "  ")
}

func (m Model) renderSummary() string {
	s := m.snap
	var b strings.Builder

	b.WriteString(titleStyle.Render("PROGRESS"))
	b.WriteString("\n")
	b.WriteString(progressBar(s.Percent(), m.width-10))
	b.WriteString(fmt.Sprintf(" %3.0f%%\n", s.Percent()*100))

	total := "?"
	if s.Total > 0 {
		total = humanize.Comma(int64(s.Total))
	}
	b.WriteString(fmt.Sprintf("Submitted %s of %s", humanize.Comma(int64(s.Submitted)), total))
	if s.Rejected > 0 {
		b.WriteString(failedStyle.Render(fmt.Sprintf("  (%d rejected)", s.Rejected)))
	}
	b.WriteString("\n")
	b.WriteString(completedStyle.Render(fmt.Sprintf("%d completed", s.Completed)))
	b.WriteString("  ")
	b.WriteString(failedStyle.Render(fmt.Sprintf("%d failed", s.Failed)))
	b.WriteString("  ")
	b.WriteString(dimmedStyle.Render(fmt.Sprintf("%d removed", s.Removed)))
	b.WriteString("\n")

	if !s.StartedAt.IsZero() {
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("Started %s", humanize.Time(s.StartedAt))))
		if s.Done() {
			b.WriteString(dimmedStyle.Render(fmt.Sprintf(", took %s", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))))
		}
		b.WriteString("\n")
	}
	if s.Error != "" {
		b.WriteString(failedStyle.Render("Error: " + s.Error))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderActivity() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RECENT"))
	b.WriteString("\n")

	recent := m.snap.Recent(m.listHeight())
	if len(recent) == 0 {
		b.WriteString(dimmedStyle.Render("No jobs yet"))
		return b.String()
	}
	for _, j := range recent {
		b.WriteString(renderJob(j))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderJobs() string {
	var b strings.Builder
	jobs := m.visibleJobs()
	b.WriteString(titleStyle.Render(fmt.Sprintf("JOBS (%d, %s)", len(jobs), m.filter)))
	b.WriteString("\n")

	if len(jobs) == 0 {
		b.WriteString(dimmedStyle.Render("Nothing to show"))
		return b.String()
	}

	start := m.jobScroll
	end := start + m.listHeight()
	if end > len(jobs) {
		end = len(jobs)
	}
	for _, j := range jobs[start:end] {
		b.WriteString(renderJob(j))
		b.WriteString("\n")
	}
	if end < len(jobs) {
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("... %d more", len(jobs)-end)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) listHeight() int {
	h := m.height - 16
	if h < 5 {
		h = 5
	}
	return h
}

func renderJob(j progress.Job) string {
	status := statusLabel(j)
	line := fmt.Sprintf("%-40s %s", truncate(j.Mailbox, 40), status)
	if j.Error != "" {
		line += dimmedStyle.Render("  " + truncate(j.Error, 60))
	}
	return line
}

func statusLabel(j progress.Job) string {
	if j.ID == "" {
		return failedStyle.Render("✗ rejected")
	}
	label := string(j.Status)
	if j.Removed {
		label += " (removed)"
	}
	switch j.Status {
	case domain.StatusCompleted:
		return completedStyle.Render("✓ " + label)
	case domain.StatusFailed:
		return failedStyle.Render("✗ " + label)
	case domain.StatusInProgress:
		return inProgressStyle.Render("● " + label)
	default:
		return pendingStyle.Render("○ " + label)
	}
}

func progressBar(fraction float64, width int) string {
	if width < 10 {
		width = 10
	}
	if width > 60 {
		width = 60
	}
	filled := int(fraction * float64(width))
	if filled > width {
		filled = width
	}
	return completedStyle.Render(strings.Repeat("█", filled)) + dimmedStyle.Render(strings.Repeat("░", width-filled))
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
