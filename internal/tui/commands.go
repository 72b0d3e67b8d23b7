package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"res-watch/internal/models"
)

const terminateTimeout = 5 * time.Second

// tickCmd 按刷新间隔发送 tick
func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// readNow 立即触发一次快照读取
func readNow() tea.Cmd {
	return func() tea.Msg {
		return tickMsg(time.Time{})
	}
}

// terminateProcess 在后台结束进程，避免阻塞界面
func terminateProcess(t Terminator, pid int32, force bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
		defer cancel()
		result := t.Terminate(ctx, models.TerminateRequest{PID: pid, Force: force, Actor: tuiActor})
		return terminateMsg{result: result}
	}
}
