package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	sessiondto "biomon/internal/modules/session/dto"
	"biomon/internal/ui/theme"
)

type HistoryPort interface {
	History(ctx context.Context, limit int) ([]sessiondto.SummaryOutput, error)
}

type LoadedMsg struct {
	Items []sessiondto.SummaryOutput
	Err   error
}

type sessionItem struct {
	summary sessiondto.SummaryOutput
}

func (i sessionItem) Title() string {
	name := i.summary.Subject.Name
	if name == "" {
		name = "anonymous"
	}
	return i.summary.StartedAt.Local().Format("2006-01-02 15:04") + "  " + name
}

func (i sessionItem) Description() string {
	status := "completed"
	if !i.summary.Completed {
		status = "ended early"
	}
	return fmt.Sprintf("%s  %.0fs  %d points", status, i.summary.Duration, i.summary.DataPoints)
}

func (i sessionItem) FilterValue() string { return i.summary.Subject.Name + " " + i.summary.SessionID }

type Model struct {
	port    HistoryPort
	list    list.Model
	preview viewport.Model
	spinner spinner.Model
	loading bool
	width   int
	height  int
}

func New(port HistoryPort) Model {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(theme.Lavender).BorderForeground(theme.Lavender)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(theme.Sapphire).BorderForeground(theme.Lavender)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "History"
	l.Styles.Title = theme.Title
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	vp := viewport.New(0, 0)
	vp.Style = lipgloss.NewStyle().Background(theme.Mantle).Foreground(theme.Text).Padding(1)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Lavender)

	return Model{port: port, list: l, preview: vp, spinner: sp, loading: true}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.Reload(), m.spinner.Tick)
}

// Reload fetches the most recent sessions.
func (m Model) Reload() tea.Cmd {
	return func() tea.Msg {
		if m.port == nil {
			return LoadedMsg{}
		}
		items, err := m.port.History(context.Background(), 50)
		return LoadedMsg{Items: items, Err: err}
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
	case LoadedMsg:
		m.loading = false
		if msg.Err != nil {
			m.list.Title = "History: " + msg.Err.Error()
			return m, nil
		}
		items := make([]list.Item, len(msg.Items))
		for i, s := range msg.Items {
			items[i] = sessionItem{summary: s}
		}
		cmds = append(cmds, m.list.SetItems(items))
		m.refreshPreview()
	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	if !m.loading {
		prev := m.list.Index()
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		cmds = append(cmds, cmd)
		if m.list.Index() != prev {
			m.refreshPreview()
		}
		m.preview, cmd = m.preview.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.loading {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.spinner.View()+" Loading history…")
	}
	listW := m.width * 4 / 10
	listPane := lipgloss.NewStyle().Width(listW).Height(m.height).Render(m.list.View())
	detailPane := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.Surface1).
		Width(m.width - listW - 2).
		Height(m.height - 2).
		Render(m.preview.View())
	return lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)
}

// SelectedSessionID returns the highlighted session, if any.
func (m Model) SelectedSessionID() (string, bool) {
	if item, ok := m.list.SelectedItem().(sessionItem); ok {
		return item.summary.SessionID, true
	}
	return "", false
}

func (m Model) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

func (m *Model) resize() {
	listW := m.width * 4 / 10
	m.list.SetSize(listW, m.height)
	m.preview.Width = m.width - listW - 4
	m.preview.Height = m.height - 4
}

func (m *Model) refreshPreview() {
	item, ok := m.list.SelectedItem().(sessionItem)
	if !ok {
		m.preview.SetContent(theme.Muted.Render("No stored sessions yet"))
		return
	}
	s := item.summary
	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Session "+s.SessionID) + "\n\n")
	if s.Subject.Name != "" {
		sb.WriteString(fmt.Sprintf("%s%s, %d, %s\n", theme.Muted.Render("subject: "), s.Subject.Name, s.Subject.Age, s.Subject.Gender))
	}
	sb.WriteString(theme.Muted.Render("policy:  ") + s.Policy + "\n")
	sb.WriteString(fmt.Sprintf("%s%.1fs, %d data points, %d parse errors\n", theme.Muted.Render("run:     "), s.Duration, s.DataPoints, s.ParseErrors))
	if s.LastError != "" {
		sb.WriteString(theme.Error.Render("error:   "+s.LastError) + "\n")
	}
	sb.WriteString("\n")
	for _, ms := range s.Metrics {
		sb.WriteString(fmt.Sprintf("%-18s %8.2f -> %8.2f  (%+.2f%%)\n", ms.Label, ms.Baseline, ms.Final, ms.PercentChange))
	}
	sb.WriteString("\n" + theme.Muted.Render("e: export selected session"))
	m.preview.SetContent(sb.String())
}
