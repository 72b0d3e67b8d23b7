package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages and updates the model state
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "tab":
			if m.tab == tabProcesses {
				m.tab = tabConnections
			} else {
				m.tab = tabProcesses
			}
			m.cursor = 0
			m.message = ""

		case "up":
			if m.cursor > 0 {
				m.cursor--
			}

		case "down":
			if m.cursor < m.rows()-1 {
				m.cursor++
			}

		case "k", "K":
			return m.requestTerminate(msg.String() == "K")
		}

	case tickMsg:
		m.pull()
		// 零值 tick 来自 readNow，不再续订定时器
		if time.Time(msg).IsZero() {
			return m, nil
		}
		return m, tickCmd(m.refresh)

	case terminateMsg:
		m.busy = false
		r := msg.result
		if r.OK() {
			m.message = fmt.Sprintf("已结束 pid=%d %s (%s)", r.PID, r.Name, r.Signal)
		} else {
			m.message = fmt.Sprintf("结束 pid=%d 失败: %s %s", r.PID, r.Outcome, r.Error)
		}
		m.pull()
	}

	return m, nil
}

func (m Model) requestTerminate(force bool) (tea.Model, tea.Cmd) {
	if m.terminator == nil {
		m.message = "当前模式不支持结束进程"
		return m, nil
	}
	if m.busy {
		m.message = "上一个结束请求仍在处理"
		return m, nil
	}
	pid, name, ok := m.selectedPID()
	if !ok {
		m.message = "未选中可结束的进程"
		return m, nil
	}
	m.busy = true
	mode := "TERM"
	if force {
		mode = "KILL"
	}
	m.message = fmt.Sprintf("正在结束 pid=%d %s (%s)...", pid, name, mode)
	return m, terminateProcess(m.terminator, pid, force)
}
