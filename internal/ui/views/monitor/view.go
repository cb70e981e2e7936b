package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	sessiondto "biomon/internal/modules/session/dto"
	"biomon/internal/ui/theme"
)

// SnapshotMsg carries a fresh session snapshot into the view.
type SnapshotMsg struct {
	Snapshot sessiondto.Snapshot
}

type Model struct {
	snap    sessiondto.Snapshot
	hasSnap bool
	bar     progress.Model
	width   int
	height  int
}

func New() Model {
	bar := progress.New(progress.WithGradient(string(theme.Sapphire), string(theme.Lavender)))
	return Model{bar: bar}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(msg.Width-24, 10)
	case SnapshotMsg:
		m.snap = msg.Snapshot
		m.hasSnap = msg.Snapshot.SessionID != ""
	}
	return m, nil
}

func (m Model) Snapshot() (sessiondto.Snapshot, bool) { return m.snap, m.hasSnap }

func (m Model) View() string {
	if !m.hasSnap {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			theme.Muted.Render("No session. Press : and run start <port> or replay <file>."))
	}
	s := m.snap
	sections := []string{
		m.renderHeader(),
		m.renderCards(),
		m.renderClassification(),
	}
	if s.Summary != nil {
		sections = append(sections, renderSummary(*s.Summary))
	}
	sections = append(sections, m.renderRaw())
	if s.LastError != "" {
		sections = append(sections, theme.Error.Render("error: "+s.LastError))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	s := m.snap
	who := s.Subject.Name
	if who == "" {
		who = "anonymous"
	}
	phase := strings.ToUpper(s.Phase)
	if s.Phase == "baseline" {
		phase = "BASELINE (keep still)"
	}
	title := theme.Title.Render("Session "+shortID(s.SessionID)) + "  " + theme.Muted.Render(who) + "  " + theme.Hot.Render(phase)
	timing := fmt.Sprintf("%s %s  %.1fs elapsed  %.1fs left", m.bar.ViewAs(s.Progress), theme.Muted.Render(s.Policy), s.Elapsed, s.Remaining)
	return title + "\n" + timing + "\n"
}

func (m Model) renderCards() string {
	cardW := max((m.width-6)/3, 18)
	cards := make([]string, 0, len(m.snap.Readings))
	for _, r := range m.snap.Readings {
		value := theme.Muted.Render("--")
		if r.HasValue {
			value = theme.Value.Render(fmt.Sprintf("%.1f %s", r.Value, r.Unit))
		}
		body := theme.Title.Render(r.Label) + "\n" +
			value + "\n" +
			theme.Muted.Render(fmt.Sprintf("baseline %.1f  n=%d", r.Baseline, r.Count))
		cards = append(cards, theme.Pane.Width(cardW).Render(body))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func (m Model) renderClassification() string {
	s := m.snap
	if s.Classification == "" {
		return theme.Muted.Render("stress level: waiting for active readings")
	}
	return "stress level: " + theme.Severity(s.Severity).Render(s.Classification) +
		theme.Muted.Render(fmt.Sprintf("  (%d data points, %d parse errors)", s.DataPoints, s.ParseErrors))
}

func (m Model) renderRaw() string {
	lines := m.snap.RawTail
	var sb strings.Builder
	sb.WriteString(theme.Muted.Render("raw data") + "\n")
	if len(lines) == 0 {
		sb.WriteString(theme.Muted.Render("  (nothing received yet)"))
		return sb.String()
	}
	for _, l := range lines {
		sb.WriteString("  " + l + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderSummary(s sessiondto.SummaryOutput) string {
	status := theme.Severity(0).Render("completed")
	if !s.Completed {
		status = theme.Severity(1).Render("ended early")
	}
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Summary") + "  " + status + "\n")
	sb.WriteString(theme.Muted.Render(fmt.Sprintf("%-20s %10s %10s %10s %10s", "metric", "baseline", "final", "change", "% change")) + "\n")
	for _, ms := range s.Metrics {
		sb.WriteString(fmt.Sprintf("%-20s %10.2f %10.2f %+10.2f %+9.2f%%\n", ms.Label, ms.Baseline, ms.Final, ms.Change, ms.PercentChange))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
