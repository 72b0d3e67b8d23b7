package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want FailureKind
	}{
		{nil, ""},
		{ErrCallTimeout, FailureTimeout},
		{context.DeadlineExceeded, FailureTimeout},
		{fmt.Errorf("cpu: %w", ErrClockAnomaly), FailureClockAnomaly},
		{fmt.Errorf("pid 3: %w", ErrProcessNotFound), FailureEnumerationRace},
		{fmt.Errorf("open /proc/3/stat: %w", os.ErrNotExist), FailureEnumerationRace},
		{errors.New("no such process"), FailureEnumerationRace},
		{os.ErrPermission, FailurePermission},
		{errors.New("Access is denied."), FailurePermission},
		{errors.New("counter not ready"), FailureTransient},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("分类不匹配: err=%v got=%s want=%s", tc.err, got, tc.want)
		}
	}
}

func TestCallBoundedReturnsValue(t *testing.T) {
	got, err := callBounded(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || got != 7 {
		t.Fatalf("结果不匹配: got=%d err=%v", got, err)
	}
}

func TestCallBoundedTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	_, err := callBounded(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("期望超时错误: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("超时后应立即返回")
	}
}

func TestCallBoundedCancelledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := callBounded(ctx, time.Second, func(ctx context.Context) (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("父上下文取消后不应执行: err=%v called=%v", err, called)
	}
}

func TestCallBoundedRecoversPanic(t *testing.T) {
	_, err := callBounded(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		panic("driver crashed")
	})
	if err == nil {
		t.Fatalf("期望 panic 转换为错误")
	}
}

func TestReportHelpers(t *testing.T) {
	report := newReport("host")
	report.Add(metricCPU, nil)
	if !report.OK() {
		t.Fatalf("nil 错误不应记录")
	}
	report.Add(metricDisk, ErrCallTimeout)
	report.AddKind(metricCPU, FailureClockAnomaly, ErrClockAnomaly)
	if report.OK() || !report.Failed(metricDisk) || report.Failed(metricMemory) {
		t.Fatalf("失败记录不匹配: %v", report.Failures)
	}
	if report.Count(FailureTimeout) != 1 || report.Failures[0].Collector != "host" {
		t.Fatalf("失败分类不匹配: %v", report.Failures)
	}
}

func TestIsUnsupportedErr(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("not implemented yet"), true},
		{fmt.Errorf("connections: %w", errors.ErrUnsupported), true},
		{errors.New("operation not supported on this platform"), true},
		{errors.New("table unavailable"), false},
		{os.ErrPermission, false},
	}
	for _, tc := range cases {
		if got := isUnsupportedErr(tc.err); got != tc.want {
			t.Fatalf("判断不匹配: err=%v got=%v want=%v", tc.err, got, tc.want)
		}
	}
}

func TestBoundedTimeoutClampsNegative(t *testing.T) {
	var bt boundedTimeout
	bt.Store(-time.Second)
	if bt.Load() != 0 {
		t.Fatalf("负值应归零: got=%v", bt.Load())
	}
	bt.Store(800 * time.Millisecond)
	if bt.Load() != 800*time.Millisecond {
		t.Fatalf("上限不匹配: got=%v", bt.Load())
	}
}
