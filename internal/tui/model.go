package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"res-watch/internal/models"
	"res-watch/internal/state"
	"res-watch/internal/sysinfo"
)

const (
	defaultRefresh = time.Second
	tuiActor       = "tui"
)

type viewTab int

const (
	tabProcesses viewTab = iota
	tabConnections
)

// Terminator 是界面结束进程所需的能力
type Terminator interface {
	Terminate(ctx context.Context, req models.TerminateRequest) sysinfo.TerminateResult
}

// Model 只读取快照存储，从不直接触发采样
type Model struct {
	store      *state.SnapshotStore
	terminator Terminator
	refresh    time.Duration

	tab     viewTab
	cursor  int
	width   int
	height  int
	message string
	busy    bool

	info        sysinfo.HostInfo
	host        state.HostSnapshot
	hasHost     bool
	processes   state.ProcessSnapshot
	connections state.ConnectionSnapshot
}

type tickMsg time.Time

type terminateMsg struct {
	result sysinfo.TerminateResult
}

// NewModel 创建界面模型，refresh 为 0 时每秒刷新
func NewModel(store *state.SnapshotStore, terminator Terminator, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	return Model{
		store:      store,
		terminator: terminator,
		refresh:    refresh,
	}
}

// Init 立即读取一次快照并开始定时刷新
func (m Model) Init() tea.Cmd {
	return tea.Batch(readNow(), tickCmd(m.refresh))
}

// Run 在当前终端运行界面，直到用户退出或 ctx 结束
func Run(ctx context.Context, store *state.SnapshotStore, terminator Terminator, refresh time.Duration) error {
	p := tea.NewProgram(NewModel(store, terminator, refresh), tea.WithAltScreen())
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Quit()
		case <-done:
		}
	}()
	_, err := p.Run()
	return err
}

// pull 从快照存储读取最新值
func (m *Model) pull() {
	if info, ok := m.store.HostInfo(); ok {
		m.info = info
	}
	m.host, m.hasHost = m.store.Host()
	m.processes, _ = m.store.Processes()
	m.connections, _ = m.store.Connections()
	m.clampCursor()
}

func (m *Model) rows() int {
	if m.tab == tabConnections {
		return len(m.connections.Connections)
	}
	return len(m.processes.Processes)
}

func (m *Model) clampCursor() {
	n := m.rows()
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// selectedPID 返回当前选中行对应的 pid
func (m Model) selectedPID() (int32, string, bool) {
	switch m.tab {
	case tabConnections:
		if m.cursor < len(m.connections.Connections) {
			c := m.connections.Connections[m.cursor]
			return c.PID, c.ProcessName, c.PID > 0
		}
	default:
		if m.cursor < len(m.processes.Processes) {
			p := m.processes.Processes[m.cursor]
			return p.PID, p.Name, true
		}
	}
	return 0, "", false
}
