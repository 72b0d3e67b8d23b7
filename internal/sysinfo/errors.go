// 本文件用于采集失败的分类与有界调用
package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// FailureKind 表示单次采样失败的类别
type FailureKind string

const (
	FailureTransient       FailureKind = "transient"
	FailurePermission      FailureKind = "permission_denied"
	FailureEnumerationRace FailureKind = "enumeration_race"
	FailureClockAnomaly    FailureKind = "clock_anomaly"
	FailureTimeout         FailureKind = "timeout"
	FailureInit            FailureKind = "init"
	FailurePanic           FailureKind = "panic"
)

var (
	// ErrCallTimeout 表示系统调用超过采集器设定的上限
	ErrCallTimeout = errors.New("sample call timed out")
	// ErrClockAnomaly 表示两次采样的时间差不为正
	ErrClockAnomaly = errors.New("non-positive sample interval")
)

// Failure 表示一次被采集器吸收的失败
type Failure struct {
	Collector string      `json:"collector"`
	Metric    string      `json:"metric"`
	Kind      FailureKind `json:"kind"`
	Err       error       `json:"-"`
}

func (f Failure) String() string {
	if f.Err == nil {
		return fmt.Sprintf("%s/%s: %s", f.Collector, f.Metric, f.Kind)
	}
	return fmt.Sprintf("%s/%s: %s: %v", f.Collector, f.Metric, f.Kind, f.Err)
}

// Report 汇总单个采样周期内的失败，失败不会越过采集器向外传播
type Report struct {
	Collector string
	Failures  []Failure
}

func newReport(collector string) Report {
	return Report{Collector: collector}
}

// Add 记录一次失败，按错误内容自动归类
func (r *Report) Add(metric string, err error) {
	if err == nil {
		return
	}
	r.AddKind(metric, Classify(err), err)
}

// AddKind 以指定类别记录失败
func (r *Report) AddKind(metric string, kind FailureKind, err error) {
	r.Failures = append(r.Failures, Failure{
		Collector: r.Collector,
		Metric:    metric,
		Kind:      kind,
		Err:       err,
	})
}

// OK 表示本周期没有任何失败
func (r Report) OK() bool {
	return len(r.Failures) == 0
}

// Count 返回指定类别的失败次数
func (r Report) Count(kind FailureKind) int {
	n := 0
	for _, f := range r.Failures {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

// Classify 把底层错误映射到失败类别
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCallTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrClockAnomaly):
		return FailureClockAnomaly
	case errors.Is(err, ErrProcessNotFound), errors.Is(err, os.ErrNotExist), isProcessMissingErr(err):
		return FailureEnumerationRace
	case errors.Is(err, ErrTerminatePermissionDenied), errors.Is(err, os.ErrPermission), isPermissionErr(err):
		return FailurePermission
	default:
		return FailureTransient
	}
}

// isUnsupportedErr 判断错误是否表示当前平台没有该子系统
// gopsutil 在未实现的平台上返回 "not implemented yet"
func isUnsupportedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrUnsupported) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not implemented") || strings.Contains(msg, "not supported")
}

// boundedTimeout 保存有界调用的上限，热加载时由其他协程更新
type boundedTimeout struct {
	v atomic.Int64
}

func (t *boundedTimeout) Load() time.Duration {
	return time.Duration(t.v.Load())
}

func (t *boundedTimeout) Store(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.v.Store(int64(d))
}

// callBounded 在独立协程中执行可能阻塞的系统调用，超时后放弃等待
// fn 只允许返回原始数据，不得修改采集器状态，超时后遗留的协程因此不会与下一周期竞争
func callBounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("sample call panic: %v", r)}
			}
		}()
		val, err := fn(callCtx)
		done <- result{val: val, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, ErrCallTimeout
	}
}

// Failed 表示指定子指标在本周期失败
func (r Report) Failed(metric string) bool {
	for _, f := range r.Failures {
		if f.Metric == metric {
			return true
		}
	}
	return false
}
