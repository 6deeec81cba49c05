// Package tui is the terminal dashboard: a tabbed Bubble Tea program over
// an in-process session.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/eventlog"
	"github.com/mil-ad/blemanager/internal/gateway"
	"github.com/mil-ad/blemanager/internal/watchdog"
)

// Session is the connection state the dashboard drives.
type Session interface {
	Snapshot() ble.Snapshot
	Subscribe() (<-chan ble.Snapshot, func())
	ScanForDevices(ctx context.Context) error
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context) error
	ClearError()
}

// Deps are the dashboard's collaborators. Only Session is required.
type Deps struct {
	Session  Session
	Events   *eventlog.Log
	Watchdog gateway.Reporter
	Info     gateway.Info
	Picker   *Picker
}

type snapshotMsg ble.Snapshot

type tickMsg time.Time

type opDoneMsg struct {
	op  string
	err error
}

const refreshInterval = time.Second

// Model is the root dashboard model.
type Model struct {
	ctx  context.Context
	deps Deps

	tabs    tabBar
	snap    ble.Snapshot
	snaps   <-chan ble.Snapshot
	unsub   func()
	cursor  int
	spinner spinner.Model
	pick    *pickerView

	logView  viewport.Model
	docsView viewport.Model
	docsW    int
	report   watchdog.Report
	hasRep   bool

	width  int
	height int
}

// New subscribes to the session. Call Close (or quit the program) to
// release the subscription.
func New(ctx context.Context, deps Deps) *Model {
	snaps, unsub := deps.Session.Subscribe()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &Model{
		ctx:      ctx,
		deps:     deps,
		snap:     deps.Session.Snapshot(),
		snaps:    snaps,
		unsub:    unsub,
		spinner:  sp,
		logView:  viewport.New(80, 20),
		docsView: viewport.New(80, 20),
	}
}

// Close releases the session subscription.
func (m *Model) Close() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
}

// Run starts the dashboard and blocks until the user quits.
func Run(ctx context.Context, deps Deps) error {
	m := New(ctx, deps)
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if deps.Picker != nil {
		deps.Picker.Attach(p.Send)
	}
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.snaps), tick(), m.spinner.Tick)
}

func waitForSnapshot(ch <-chan ble.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(s)
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case snapshotMsg:
		m.snap = ble.Snapshot(msg)
		m.clampCursor()
		return m, waitForSnapshot(m.snaps)

	case tickMsg:
		m.refresh()
		return m, tick()

	case opDoneMsg:
		// Failures already live in the snapshot's last error.
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pickerOpenMsg:
		if m.pick != nil {
			m.pick.answer(pickResult{err: ble.ErrUserCancelled})
		}
		m.pick = newPickerView(msg.req, m.width, m.contentHeight())
		m.tabs.set(tabManager)
		return m, nil

	case pickerCandidateMsg:
		if m.pick != nil && m.pick.req == msg.req {
			return m, m.pick.add(msg.c)
		}
		return m, nil

	case pickerCloseMsg:
		if m.pick != nil && m.pick.req == msg.req {
			m.pick = nil
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.Close()
		return m, tea.Quit
	}
	if m.pick != nil {
		done, cmd := m.pick.update(msg)
		if done {
			m.pick = nil
		}
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.Close()
		return m, tea.Quit
	case "tab":
		m.tabs.next()
		return m, nil
	case "shift+tab":
		m.tabs.prev()
		return m, nil
	case "1", "2", "3", "4", "5":
		m.tabs.set(tabID(msg.Runes[0] - '1'))
		m.refresh()
		return m, nil
	}

	switch m.tabs.active {
	case tabManager:
		return m, m.managerKey(msg)
	case tabLog:
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd
	case tabDocs:
		var cmd tea.Cmd
		m.docsView, cmd = m.docsView.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) managerKey(msg tea.KeyMsg) tea.Cmd {
	s := m.deps.Session
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.snap.Devices)-1 {
			m.cursor++
		}
	case "s":
		if m.snap.Scanning || !m.snap.Supported {
			return nil
		}
		return m.run("scan", s.ScanForDevices)
	case "enter", "c":
		dev, ok := m.selected()
		if !ok || m.snap.ConnectBlocked(dev.ID) {
			return nil
		}
		return m.run("connect", func(ctx context.Context) error { return s.Connect(ctx, dev.ID) })
	case "d":
		if m.snap.Active == nil || !m.snap.Supported {
			return nil
		}
		return m.run("disconnect", s.Disconnect)
	case "x":
		if m.snap.LastError != "" {
			s.ClearError()
		}
	}
	return nil
}

func (m *Model) selected() (ble.Device, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Devices) {
		return ble.Device{}, false
	}
	return m.snap.Devices[m.cursor], true
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.snap.Devices) {
		m.cursor = len(m.snap.Devices) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// refresh pulls the polled sources: event log and watchdog.
func (m *Model) refresh() {
	if m.deps.Events != nil {
		atBottom := m.logView.AtBottom()
		m.logView.SetContent(renderEvents(m.deps.Events.Entries()))
		if atBottom {
			m.logView.GotoBottom()
		}
	}
	if m.deps.Watchdog != nil {
		m.report, m.hasRep = m.deps.Watchdog.Last()
	}
}

func (m *Model) contentHeight() int {
	h := m.height - 2
	if h < 5 {
		h = 5
	}
	return h
}

func (m *Model) layout() {
	m.tabs.width = m.width
	h := m.contentHeight()
	m.logView.Width, m.logView.Height = m.width, h
	m.docsView.Width, m.docsView.Height = m.width, h
	if m.pick != nil {
		m.pick.list.SetSize(m.width, h)
	}
	if m.docsW != m.width {
		m.docsW = m.width
		m.docsView.SetContent(renderDocs(m.width))
	}
	m.refresh()
}

func (m *Model) View() string {
	if m.width == 0 {
		return "  Initializing..."
	}

	var content string
	switch {
	case m.pick != nil:
		content = m.pick.View()
	case m.tabs.active == tabManager:
		content = m.managerView()
	case m.tabs.active == tabInfo:
		content = m.infoView()
	case m.tabs.active == tabLog:
		content = m.logView.View()
	case m.tabs.active == tabWatchdog:
		content = m.watchdogView()
	case m.tabs.active == tabDocs:
		content = m.docsView.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left, m.tabs.View(), content, m.footer())
}

func (m *Model) footer() string {
	hints := "tab: switch  1-5: jump  q: quit"
	if m.tabs.active == tabManager && m.pick == nil {
		hints = "s: scan  ↑/↓: select  enter: connect  d: disconnect  x: dismiss error  " + hints
	}
	return styleDim.Render(hints)
}
