package tui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"res-watch/internal/models"
	"res-watch/internal/state"
	"res-watch/internal/sysinfo"
)

type fakeTerminator struct {
	mu       sync.Mutex
	requests []models.TerminateRequest
	outcome  sysinfo.TerminateOutcome
}

func (f *fakeTerminator) Terminate(ctx context.Context, req models.TerminateRequest) sysinfo.TerminateResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return sysinfo.TerminateResult{PID: req.PID, Name: "worker", Signal: "TERM", Outcome: f.outcome}
}

func seededStore() *state.SnapshotStore {
	store := state.NewSnapshotStore()
	store.SetHostInfo(sysinfo.HostInfo{Hostname: "unit-host", OS: "linux"})
	store.PublishHost(sysinfo.HostMetrics{CPUPercent: 91, MemoryPercent: 75, DiskPath: "/"}, nil)
	store.PublishProcesses([]sysinfo.ProcessEntry{
		{PID: 42, Name: "worker", CPUPercent: 6.25},
		{PID: 7, Name: "shell"},
	}, 4, nil)
	store.PublishConnections([]sysinfo.ConnectionEntry{
		{Protocol: "tcp", LocalAddress: "10.0.0.2", LocalPort: 5000, RemoteAddress: "1.1.1.1", RemotePort: 443, ProcessName: sysinfo.UnknownOwner},
	}, nil)
	return store
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	if !ok {
		t.Fatalf("Update 返回类型不匹配: %T", next)
	}
	return out, cmd
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestModelRendersSnapshots(t *testing.T) {
	m := NewModel(seededStore(), nil, 0)
	m, cmd := update(t, m, tickMsg(time.Now()))
	if cmd == nil {
		t.Fatalf("定时 tick 应续订下一次刷新")
	}

	view := m.View()
	for _, want := range []string{"unit-host", "worker", "6.25", "进程 (2)"} {
		if !strings.Contains(view, want) {
			t.Fatalf("界面缺少 %q:\n%s", want, view)
		}
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	view = m.View()
	if !strings.Contains(view, "连接 (1)") || !strings.Contains(view, "1.1.1.1:443") {
		t.Fatalf("连接视图不匹配:\n%s", view)
	}
}

func TestModelEmptyStore(t *testing.T) {
	m := NewModel(state.NewSnapshotStore(), nil, time.Second)
	m, cmd := update(t, m, tickMsg(time.Time{}))
	if cmd != nil {
		t.Fatalf("立即读取不应续订定时器")
	}
	view := m.View()
	if !strings.Contains(view, "等待主机指标") || !strings.Contains(view, "暂无进程数据") {
		t.Fatalf("空存储界面不匹配:\n%s", view)
	}
}

func TestModelCursorBounds(t *testing.T) {
	m := NewModel(seededStore(), nil, 0)
	m, _ = update(t, m, tickMsg(time.Now()))

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.cursor != 0 {
		t.Fatalf("光标不应小于 0: %d", m.cursor)
	}
	for i := 0; i < 5; i++ {
		m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	}
	if m.cursor != 1 {
		t.Fatalf("光标不应超过行数: %d", m.cursor)
	}
	if pid, _, ok := m.selectedPID(); !ok || pid != 7 {
		t.Fatalf("选中进程不匹配: pid=%d ok=%v", pid, ok)
	}
}

func TestModelTerminateSelected(t *testing.T) {
	term := &fakeTerminator{outcome: sysinfo.TerminateOK}
	m := NewModel(seededStore(), term, 0)
	m, _ = update(t, m, tickMsg(time.Now()))

	m, cmd := update(t, m, runeKey('K'))
	if cmd == nil || !m.busy {
		t.Fatalf("按 K 应发起结束请求")
	}
	// 处理中再次按键不会重复发起
	if _, again := update(t, m, runeKey('k')); again != nil {
		t.Fatalf("处理中不应重复发起结束请求")
	}

	msg := cmd()
	m, _ = update(t, m, msg)
	if m.busy || !strings.Contains(m.message, "已结束 pid=42") {
		t.Fatalf("结束结果未展示: busy=%v message=%q", m.busy, m.message)
	}
	if len(term.requests) != 1 {
		t.Fatalf("请求次数不匹配: %+v", term.requests)
	}
	req := term.requests[0]
	if req.PID != 42 || !req.Force || req.Actor != tuiActor {
		t.Fatalf("请求不匹配: %+v", req)
	}
}

func TestModelTerminateUnknownOwner(t *testing.T) {
	term := &fakeTerminator{outcome: sysinfo.TerminateOK}
	m := NewModel(seededStore(), term, 0)
	m, _ = update(t, m, tickMsg(time.Now()))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})

	m, cmd := update(t, m, runeKey('k'))
	if cmd != nil {
		t.Fatalf("所属进程未知的连接不应触发结束")
	}
	if !strings.Contains(m.message, "未选中") {
		t.Fatalf("提示不匹配: %q", m.message)
	}
}

func TestModelTerminateFailureMessage(t *testing.T) {
	term := &fakeTerminator{outcome: sysinfo.TerminatePermissionDenied}
	m := NewModel(seededStore(), term, 0)
	m, _ = update(t, m, tickMsg(time.Now()))
	m, cmd := update(t, m, runeKey('k'))
	m, _ = update(t, m, cmd())
	if !strings.Contains(m.message, "permission_denied") {
		t.Fatalf("失败提示不匹配: %q", m.message)
	}
	if term.requests[0].Force {
		t.Fatalf("k 应为普通结束")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefgh", 6); got != "abc..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 6); got != "abc" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abcdef", 2); got != "ab" {
		t.Fatalf("truncate = %q", got)
	}
}
