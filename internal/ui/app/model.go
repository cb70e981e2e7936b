package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	sessiondto "biomon/internal/modules/session/dto"
	apperrors "biomon/internal/platform/errors"
	"biomon/internal/ui/components"
	"biomon/internal/ui/theme"
	historyview "biomon/internal/ui/views/history"
	monitorview "biomon/internal/ui/views/monitor"
)

// ─── ports ───────────────────────────────────────────────────────────────────

type sessionPort interface {
	Ports(ctx context.Context) ([]sessiondto.PortOutput, error)
	Start(ctx context.Context, port string, replay bool, subject sessiondto.SubjectInput) (sessiondto.StartOutput, error)
	Stop(ctx context.Context) (sessiondto.Snapshot, error)
	Clear(ctx context.Context) error
	Current(ctx context.Context) (sessiondto.Snapshot, error)
	Subscribe(ctx context.Context) (<-chan sessiondto.Snapshot, error)
	Export(ctx context.Context, sessionID string, kind sessiondto.ExportKind) (sessiondto.ExportOutput, error)
	History(ctx context.Context, limit int) ([]sessiondto.SummaryOutput, error)
}

// ─── tab index ───────────────────────────────────────────────────────────────

type tabID int

const (
	tabMonitor tabID = iota
	tabHistory
	tabCount
)

var tabLabels = [tabCount]string{"Monitor", "History"}

// ─── async messages ───────────────────────────────────────────────────────────

type subscribedMsg struct {
	updates <-chan sessiondto.Snapshot
	err     error
}

type statusMsg struct {
	text string
	err  error
}

// currentMsg replaces the monitor snapshot without re-arming the stream reader.
type currentMsg struct {
	snap sessiondto.Snapshot
}

// ─── key bindings ─────────────────────────────────────────────────────────────

type keyMap struct {
	Tab     key.Binding
	Help    key.Binding
	Palette key.Binding
	Stop    key.Binding
	Clear   key.Binding
	Export  key.Binding
	Quit    key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Tab:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next tab")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Palette: key.NewBinding(key.WithKeys(":"), key.WithHelp(":", "palette")),
		Stop:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop session")),
		Clear:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear finished session")),
		Export:  key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "export csv")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "stop and quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Stop, k.Export, k.Palette, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.Help, k.Palette},
		{k.Stop, k.Clear, k.Export},
		{k.Quit},
	}
}

// ─── model ───────────────────────────────────────────────────────────────────

// Model is the root Bubble Tea model. It follows the current session through
// the snapshot stream and leaves every state change to the session port.
type Model struct {
	session   sessionPort
	exportDir string
	ctx       context.Context
	cancel    context.CancelFunc
	updates   <-chan sessiondto.Snapshot

	monitor monitorview.Model
	history historyview.Model

	activeTab tabID
	keys      keyMap
	help      help.Model
	showHelp  bool
	palette   components.Palette
	status    string
	width     int
	height    int
}

func NewModel(session sessionPort, exportDir string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		session:   session,
		exportDir: exportDir,
		ctx:       ctx,
		cancel:    cancel,
		monitor:   monitorview.New(),
		history:   historyview.New(session),
		activeTab: tabMonitor,
		keys:      defaultKeys(),
		help:      help.New(),
		palette:   components.NewPalette(),
		status:    "ready",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.subscribeCmd(), m.history.Init())
}

// ─── update ───────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.palette.Visible() {
		var cmd tea.Cmd
		m.palette, cmd = m.palette.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.palette.SetWidth(min(m.width-4, 80))
		m.help.Width = m.width
		m.propagateSize()

	case subscribedMsg:
		if msg.err != nil {
			m.status = "subscribe: " + msg.err.Error()
			return m, nil
		}
		m.updates = msg.updates
		return m, m.nextSnapshotCmd()

	case monitorview.SnapshotMsg:
		prev, had := m.monitor.Snapshot()
		m.monitor, _ = m.monitor.Update(msg)
		cmds = append(cmds, m.nextSnapshotCmd())
		if had && prev.Running && !msg.Snapshot.Running && msg.Snapshot.SessionID == prev.SessionID {
			m.status = "session ended: " + msg.Snapshot.Phase
			cmds = append(cmds, m.history.Reload())
		}
		return m, tea.Batch(cmds...)

	case currentMsg:
		m.monitor, _ = m.monitor.Update(monitorview.SnapshotMsg{Snapshot: msg.snap})
		return m, nil

	case statusMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		} else {
			m.status = msg.text
		}
		return m, m.refreshCurrentCmd()

	case components.PaletteSubmitMsg:
		return m.executePalette(msg.Input)

	case components.PaletteCancelMsg:
		m.status = "ready"

	case tea.KeyMsg:
		if m.showHelp {
			if msg.String() == "?" || msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}
		if m.activeTab == tabHistory && m.history.Filtering() {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			return m, tea.Quit
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "shift+tab":
			m.activeTab = (m.activeTab + tabCount - 1) % tabCount
			return m, nil
		case "?":
			m.showHelp = !m.showHelp
			return m, nil
		case ":":
			return m, m.palette.Open()
		case "s":
			return m, m.stopCmd()
		case "c":
			return m, m.clearCmd()
		case "e":
			return m, m.exportCmd(m.exportTarget(), allKinds...)
		}
	}

	if m.activeTab == tabHistory {
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		cmds = append(cmds, cmd)
	} else if _, ok := msg.(historyview.LoadedMsg); ok {
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// ─── view ────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	tabBar := m.renderTabBar()
	statusBar := m.renderStatusBar()
	contentH := max(m.height-lipgloss.Height(tabBar)-lipgloss.Height(statusBar), 1)

	var content string
	switch {
	case m.showHelp:
		content = lipgloss.NewStyle().Width(m.width).Height(contentH).Render(m.help.View(m.keys))
	case m.palette.Visible():
		content = lipgloss.Place(m.width, contentH, lipgloss.Center, lipgloss.Center, m.palette.View())
	case m.activeTab == tabHistory:
		content = m.history.View()
	default:
		content = m.monitor.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, tabBar, content, statusBar)
}

func (m Model) renderTabBar() string {
	parts := make([]string, tabCount)
	for i := tabID(0); i < tabCount; i++ {
		if i == m.activeTab {
			parts[i] = theme.Hot.Render(" " + tabLabels[i] + " ")
		} else {
			parts[i] = theme.Muted.Render(" " + tabLabels[i] + " ")
		}
	}
	bar := "biomon  " + strings.Join(parts, theme.Muted.Render(" │ "))
	return lipgloss.NewStyle().Background(theme.Mantle).Width(m.width).Render(bar) + "\n"
}

func (m Model) renderStatusBar() string {
	left := m.status
	if snap, ok := m.monitor.Snapshot(); ok && snap.Running {
		left = theme.Hot.Render("● "+snap.Phase) + "  " + left
	}
	right := theme.Muted.Render("?:help  s:stop  e:export  :::palette  q:quit")
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	bar := left + strings.Repeat(" ", gap) + right
	return "\n" + lipgloss.NewStyle().Background(theme.Mantle).Width(m.width).Render(bar)
}

// ─── palette execution ────────────────────────────────────────────────────────

var allKinds = []sessiondto.ExportKind{sessiondto.ExportProcessed, sessiondto.ExportSummary, sessiondto.ExportRaw}

func (m Model) executePalette(input string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return m, nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(input, parts[0]))

	switch parts[0] {
	case "start", "replay":
		if len(parts) < 2 {
			m.status = "usage: " + parts[0] + " <port> [subject name]"
			return m, nil
		}
		name := strings.TrimSpace(strings.TrimPrefix(rest, parts[1]))
		m.activeTab = tabMonitor
		return m, m.startCmd(parts[1], parts[0] == "replay", name)
	case "stop":
		return m, m.stopCmd()
	case "clear":
		return m, m.clearCmd()
	case "export":
		kinds := allKinds
		if len(parts) > 1 {
			kinds = []sessiondto.ExportKind{sessiondto.ExportKind(parts[1])}
		}
		return m, m.exportCmd(m.exportTarget(), kinds...)
	case "history":
		m.activeTab = tabHistory
		return m, m.history.Reload()
	case "ports":
		return m, m.portsCmd()
	default:
		m.status = "unknown command: " + parts[0]
	}
	return m, nil
}

// exportTarget picks the highlighted stored session on the History tab and
// the current session otherwise.
func (m Model) exportTarget() string {
	if m.activeTab == tabHistory {
		if id, ok := m.history.SelectedSessionID(); ok {
			return id
		}
	}
	return ""
}

func (m *Model) propagateSize() {
	sz := tea.WindowSizeMsg{Width: m.width, Height: m.height - 3}
	m.monitor, _ = m.monitor.Update(sz)
	m.history, _ = m.history.Update(sz)
}

// ─── async commands ───────────────────────────────────────────────────────────

func (m Model) subscribeCmd() tea.Cmd {
	return func() tea.Msg {
		updates, err := m.session.Subscribe(m.ctx)
		return subscribedMsg{updates: updates, err: err}
	}
}

func (m Model) nextSnapshotCmd() tea.Cmd {
	updates := m.updates
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return monitorview.SnapshotMsg{Snapshot: snap}
	}
}

// refreshCurrentCmd re-reads the current snapshot after commands that change
// it without a run publishing, such as clear.
func (m Model) refreshCurrentCmd() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.session.Current(context.Background())
		if err != nil {
			return currentMsg{}
		}
		return currentMsg{snap: snap}
	}
}

func (m Model) startCmd(port string, replay bool, name string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.session.Start(context.Background(), port, replay, sessiondto.SubjectInput{Name: name})
		if err != nil {
			return statusMsg{err: fmt.Errorf("start: %w", err)}
		}
		return statusMsg{text: "session " + out.SessionID + " started on " + out.Port}
	}
}

func (m Model) stopCmd() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.session.Stop(context.Background())
		if err != nil {
			return statusMsg{err: fmt.Errorf("stop: %w", err)}
		}
		return statusMsg{text: "session stopped at " + fmt.Sprintf("%.1fs", snap.Elapsed)}
	}
}

func (m Model) clearCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.session.Clear(context.Background()); err != nil {
			if errors.Is(err, apperrors.ErrSessionActive) {
				return statusMsg{text: "stop the session before clearing it"}
			}
			return statusMsg{err: fmt.Errorf("clear: %w", err)}
		}
		return statusMsg{text: "cleared"}
	}
}

func (m Model) exportCmd(sessionID string, kinds ...sessiondto.ExportKind) tea.Cmd {
	return func() tea.Msg {
		if err := os.MkdirAll(m.exportDir, 0o755); err != nil {
			return statusMsg{err: fmt.Errorf("export: %w", err)}
		}
		var written []string
		for _, kind := range kinds {
			out, err := m.session.Export(context.Background(), sessionID, kind)
			if err != nil {
				return statusMsg{err: fmt.Errorf("export %s: %w", kind, err)}
			}
			path := filepath.Join(m.exportDir, out.Filename)
			if err := os.WriteFile(path, out.Content, 0o644); err != nil {
				return statusMsg{err: fmt.Errorf("export %s: %w", kind, err)}
			}
			written = append(written, out.Filename)
		}
		return statusMsg{text: "exported " + strings.Join(written, ", ")}
	}
}

func (m Model) portsCmd() tea.Cmd {
	return func() tea.Msg {
		ports, err := m.session.Ports(context.Background())
		if err != nil {
			return statusMsg{err: fmt.Errorf("ports: %w", err)}
		}
		names := make([]string, 0, len(ports))
		for _, p := range ports {
			names = append(names, p.Name)
		}
		return statusMsg{text: "ports: " + strings.Join(names, ", ")}
	}
}
