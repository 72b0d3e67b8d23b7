package sysinfo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type fakeHandle struct {
	name         string
	exited       bool
	ignoreTerm   bool
	terminateErr error
	killErr      error
	terminated   int
	killed       int
}

func (h *fakeHandle) NameWithContext(ctx context.Context) (string, error) {
	return h.name, nil
}

func (h *fakeHandle) IsRunningWithContext(ctx context.Context) (bool, error) {
	return !h.exited, nil
}

func (h *fakeHandle) TerminateWithContext(ctx context.Context) error {
	h.terminated++
	if h.terminateErr != nil {
		return h.terminateErr
	}
	if !h.ignoreTerm {
		h.exited = true
	}
	return nil
}

func (h *fakeHandle) KillWithContext(ctx context.Context) error {
	h.killed++
	if h.killErr != nil {
		return h.killErr
	}
	h.exited = true
	return nil
}

func newTestTerminator(handle *fakeHandle, openErr error) *Terminator {
	return &Terminator{
		open: func(ctx context.Context, pid int32) (processHandle, error) {
			if openErr != nil {
				return nil, openErr
			}
			return handle, nil
		},
		selfPID: 1,
		grace:   30 * time.Millisecond,
		poll:    5 * time.Millisecond,
	}
}

func TestTerminatorOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		pid     int32
		force   bool
		handle  *fakeHandle
		openErr error
		want    TerminateOutcome
		signal  string
	}{
		{name: "invalid pid", pid: 0, handle: &fakeHandle{}, want: TerminateInvalidPID, signal: "TERM"},
		{name: "self", pid: 1, handle: &fakeHandle{}, want: TerminateSelf, signal: "TERM"},
		{name: "not running", pid: 50, openErr: process.ErrorProcessNotRunning, want: TerminateNotFound, signal: "TERM"},
		{name: "already exited", pid: 50, handle: &fakeHandle{exited: true}, want: TerminateNotFound, signal: "TERM"},
		{name: "graceful", pid: 50, handle: &fakeHandle{name: "svc"}, want: TerminateOK, signal: "TERM"},
		{name: "escalates to kill", pid: 50, handle: &fakeHandle{name: "stubborn", ignoreTerm: true}, want: TerminateOK, signal: "KILL"},
		{name: "forced", pid: 50, force: true, handle: &fakeHandle{name: "svc"}, want: TerminateOK, signal: "KILL"},
		{name: "permission", pid: 50, handle: &fakeHandle{terminateErr: errors.New("operation not permitted")}, want: TerminatePermissionDenied, signal: "TERM"},
		{name: "other failure", pid: 50, force: true, handle: &fakeHandle{killErr: errors.New("boom")}, want: TerminateFailed, signal: "KILL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			term := newTestTerminator(tc.handle, tc.openErr)
			result := term.Terminate(context.Background(), tc.pid, tc.force)
			if result.Outcome != tc.want {
				t.Fatalf("结果不匹配: got=%s want=%s err=%v", result.Outcome, tc.want, result.Err)
			}
			if result.Signal != tc.signal {
				t.Fatalf("信号不匹配: got=%s want=%s", result.Signal, tc.signal)
			}
			if result.OK() != (tc.want == TerminateOK) {
				t.Fatalf("OK 与结果不一致: %+v", result)
			}
			if !result.OK() && result.Error == "" {
				t.Fatalf("失败结果应带错误信息: %+v", result)
			}
		})
	}
}

func TestTerminatorForcedSkipsTerm(t *testing.T) {
	handle := &fakeHandle{name: "svc"}
	result := newTestTerminator(handle, nil).Terminate(context.Background(), 99, true)
	if !result.OK() || !result.Forced {
		t.Fatalf("强制结束失败: %+v", result)
	}
	if handle.terminated != 0 || handle.killed != 1 {
		t.Fatalf("强制结束应直接 KILL: term=%d kill=%d", handle.terminated, handle.killed)
	}
	if result.Name != "svc" {
		t.Fatalf("进程名不匹配: %s", result.Name)
	}
}

func TestTerminatorCancelledWait(t *testing.T) {
	handle := &fakeHandle{ignoreTerm: true}
	term := newTestTerminator(handle, nil)
	term.grace = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	result := term.Terminate(ctx, 99, false)
	if result.OK() {
		t.Fatalf("上下文取消后不应报告成功")
	}
	if handle.killed != 0 {
		t.Fatalf("上下文取消后不应再 KILL")
	}
}
