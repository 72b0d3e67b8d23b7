package sysinfo

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

var (
	ErrInvalidPID                = errors.New("invalid pid")
	ErrProcessNotFound           = errors.New("process not found")
	ErrTerminatePermissionDenied = errors.New("permission denied")
	ErrTerminateSelf             = errors.New("refusing to terminate the monitor itself")
)

// TerminateOutcome 表示结束进程请求的结果类别
type TerminateOutcome string

const (
	TerminateOK               TerminateOutcome = "ok"
	TerminateInvalidPID       TerminateOutcome = "invalid_pid"
	TerminateNotFound         TerminateOutcome = "not_found"
	TerminatePermissionDenied TerminateOutcome = "permission_denied"
	TerminateSelf             TerminateOutcome = "self"
	TerminateFailed           TerminateOutcome = "failed"
)

const (
	defaultTerminateGrace = 2 * time.Second
	defaultTerminatePoll  = 120 * time.Millisecond
)

type TerminateResult struct {
	PID     int32            `json:"pid"`
	Name    string           `json:"name,omitempty"`
	Signal  string           `json:"signal"`
	Forced  bool             `json:"forced"`
	Outcome TerminateOutcome `json:"outcome"`
	Error   string           `json:"error,omitempty"`
	Err     error            `json:"-"`
}

// OK 表示进程已被结束
func (r TerminateResult) OK() bool {
	return r.Outcome == TerminateOK
}

type processHandle interface {
	NameWithContext(ctx context.Context) (string, error)
	IsRunningWithContext(ctx context.Context) (bool, error)
	TerminateWithContext(ctx context.Context) error
	KillWithContext(ctx context.Context) error
}

// Terminator 负责结束进程：先 TERM，超过宽限期仍存活再 KILL
type Terminator struct {
	open    func(ctx context.Context, pid int32) (processHandle, error)
	selfPID int32
	grace   time.Duration
	poll    time.Duration
}

// NewTerminator 创建基于 gopsutil 的进程终结器
func NewTerminator() *Terminator {
	return &Terminator{
		open: func(ctx context.Context, pid int32) (processHandle, error) {
			return process.NewProcessWithContext(ctx, pid)
		},
		selfPID: int32(os.Getpid()),
		grace:   defaultTerminateGrace,
		poll:    defaultTerminatePoll,
	}
}

// Terminate 结束进程，失败以 Outcome 返回
func (t *Terminator) Terminate(ctx context.Context, pid int32, force bool) TerminateResult {
	result := TerminateResult{
		PID:    pid,
		Signal: "TERM",
	}
	if pid <= 0 {
		return result.fail(ErrInvalidPID)
	}
	if pid == t.selfPID {
		return result.fail(ErrTerminateSelf)
	}

	proc, err := t.open(ctx, pid)
	if err != nil {
		return result.fail(normalizeTerminateErr(err))
	}
	if name, nameErr := proc.NameWithContext(ctx); nameErr == nil {
		result.Name = name
	}

	running, err := proc.IsRunningWithContext(ctx)
	if err != nil {
		return result.fail(normalizeTerminateErr(err))
	}
	if !running {
		return result.fail(ErrProcessNotFound)
	}

	if force {
		result.Signal = "KILL"
		result.Forced = true
		if err := proc.KillWithContext(ctx); err != nil {
			return result.fail(normalizeTerminateErr(err))
		}
		return result.succeed()
	}

	if err := proc.TerminateWithContext(ctx); err != nil {
		return result.fail(normalizeTerminateErr(err))
	}
	exited, waitErr := t.waitExit(ctx, proc)
	if waitErr != nil {
		return result.fail(normalizeTerminateErr(waitErr))
	}
	if exited {
		return result.succeed()
	}

	result.Signal = "KILL"
	result.Forced = true
	if err := proc.KillWithContext(ctx); err != nil {
		return result.fail(normalizeTerminateErr(err))
	}
	return result.succeed()
}

func (r TerminateResult) succeed() TerminateResult {
	r.Outcome = TerminateOK
	return r
}

func (r TerminateResult) fail(err error) TerminateResult {
	r.Err = err
	r.Error = err.Error()
	switch {
	case errors.Is(err, ErrInvalidPID):
		r.Outcome = TerminateInvalidPID
	case errors.Is(err, ErrTerminateSelf):
		r.Outcome = TerminateSelf
	case errors.Is(err, ErrProcessNotFound):
		r.Outcome = TerminateNotFound
	case errors.Is(err, ErrTerminatePermissionDenied):
		r.Outcome = TerminatePermissionDenied
	default:
		r.Outcome = TerminateFailed
	}
	return r
}

func (t *Terminator) waitExit(ctx context.Context, proc processHandle) (bool, error) {
	grace := t.grace
	if grace <= 0 {
		grace = defaultTerminateGrace
	}
	poll := t.poll
	if poll <= 0 {
		poll = defaultTerminatePoll
	}
	deadline := time.Now().Add(grace)
	for {
		running, err := proc.IsRunningWithContext(ctx)
		if err != nil {
			if isProcessMissingErr(err) {
				return true, nil
			}
			return false, err
		}
		if !running {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func normalizeTerminateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, process.ErrorProcessNotRunning) || isProcessMissingErr(err) {
		return ErrProcessNotFound
	}
	if errors.Is(err, os.ErrPermission) || isPermissionErr(err) {
		return ErrTerminatePermissionDenied
	}
	return err
}

func isProcessMissingErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "no such process") ||
		strings.Contains(msg, "process does not exist") ||
		strings.Contains(msg, "process not found") ||
		strings.Contains(msg, "not found")
}

func isPermissionErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "operation not permitted") ||
		strings.Contains(msg, "access is denied")
}
