// 本文件用于采集任务调度：每个任务独立协程，采样、发布、等待严格串行
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"res-watch/internal/logger"
	"res-watch/internal/metrics"
	"res-watch/internal/sysinfo"
)

var (
	ErrSchedulerRunning = errors.New("scheduler already running")
	ErrUnknownTask      = errors.New("unknown task")
	ErrInvalidInterval  = errors.New("interval must be positive")
)

// Job 表示一个采集任务
// RunOnce 负责采样并发布快照，返回本周期被吸收的失败
type Job interface {
	Name() string
	Init(ctx context.Context) error
	RunOnce(ctx context.Context) sysinfo.Report
	Reset()
}

// TaskState 表示任务的运行状态
type TaskState string

const (
	TaskIdle       TaskState = "idle"
	TaskRunning    TaskState = "running"
	TaskInitFailed TaskState = "init_failed"
	TaskStopped    TaskState = "stopped"
)

// TaskStatus 表示任务的运行状态快照
type TaskStatus struct {
	Name         string            `json:"name"`
	State        TaskState         `json:"state"`
	Interval     string            `json:"interval"`
	Runs         uint64            `json:"runs"`
	Panics       uint64            `json:"panics"`
	LastRunAt    time.Time         `json:"lastRunAt"`
	LastDuration string            `json:"lastDuration"`
	LastFailures []sysinfo.Failure `json:"lastFailures,omitempty"`
	InitError    string            `json:"initError,omitempty"`
}

type task struct {
	job      Job
	interval atomic.Int64
	wake     chan struct{}

	mu     sync.Mutex
	status TaskStatus
}

func (t *task) setInterval(d time.Duration) {
	t.interval.Store(int64(d))
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *task) updateStatus(fn func(s *TaskStatus)) {
	t.mu.Lock()
	fn(&t.status)
	t.mu.Unlock()
}

func (t *task) snapshot() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.status
	out.Interval = time.Duration(t.interval.Load()).String()
	out.LastFailures = append([]sysinfo.Failure(nil), t.status.LastFailures...)
	return out
}

// Scheduler 按各自间隔驱动采集任务
// 单个任务的失败、超时与 panic 只影响该任务自己的周期
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*task
	byName  map[string]*task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	metrics *metrics.Collector
	active  atomic.Int64
}

// NewScheduler 创建调度器，collector 为 nil 时不记录指标
func NewScheduler(collector *metrics.Collector) *Scheduler {
	return &Scheduler{
		byName:  make(map[string]*task),
		metrics: collector,
	}
}

// Add 注册任务，必须在 Start 之前调用
func (s *Scheduler) Add(job Job, interval time.Duration) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if interval <= 0 {
		return fmt.Errorf("%s: %w", job.Name(), ErrInvalidInterval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	if _, exists := s.byName[job.Name()]; exists {
		return fmt.Errorf("duplicate task: %s", job.Name())
	}
	t := &task{job: job, wake: make(chan struct{}, 1)}
	t.interval.Store(int64(interval))
	t.status = TaskStatus{Name: job.Name(), State: TaskIdle}
	s.tasks = append(s.tasks, t)
	s.byName[job.Name()] = t
	return nil
}

// Start 为每个任务启动独立协程
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(runCtx, t)
	}
	logger.Info("采集调度已启动，任务数: %d", len(s.tasks))
	return nil
}

// Stop 取消全部任务并等待其退出，随后丢弃各任务的前次读数
// 返回后不会再有任何快照发布
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	logger.Info("正在停止采集调度...")
	s.cancel()
	s.wg.Wait()
	for _, t := range s.tasks {
		t.job.Reset()
		t.updateStatus(func(st *TaskStatus) {
			if st.State != TaskInitFailed {
				st.State = TaskStopped
			}
		})
	}
	s.running = false
	s.cancel = nil
	s.metrics.SetRunningTasks(0)
	logger.Info("采集调度已停止")
}

// Running 表示调度器是否处于运行中
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetInterval 调整任务间隔，在下一次等待时生效
func (s *Scheduler) SetInterval(name string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%s: %w", name, ErrInvalidInterval)
	}
	s.mu.Lock()
	t, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownTask)
	}
	if time.Duration(t.interval.Load()) == interval {
		return nil
	}
	t.setInterval(interval)
	logger.Info("采集任务 %s 间隔已调整为 %s", name, interval)
	return nil
}

// Status 返回全部任务的状态，按注册顺序排列
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	tasks := append([]*task(nil), s.tasks...)
	s.mu.Unlock()
	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.snapshot())
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()
	name := t.job.Name()

	if err := s.initTask(ctx, t); err != nil {
		if ctx.Err() != nil {
			return
		}
		// 初始化失败只记录一次，不在循环中反复重试
		logger.Error("采集任务 %s 初始化失败，该任务不会启动: %v", name, err)
		s.metrics.IncInitFailure(name)
		t.updateStatus(func(st *TaskStatus) {
			st.State = TaskInitFailed
			st.InitError = err.Error()
		})
		return
	}
	t.updateStatus(func(st *TaskStatus) {
		st.State = TaskRunning
		st.InitError = ""
	})
	s.metrics.SetRunningTasks(int(s.active.Add(1)))
	defer func() {
		s.metrics.SetRunningTasks(int(s.active.Add(-1)))
	}()
	logger.Info("采集任务 %s 已启动，间隔: %s", name, time.Duration(t.interval.Load()))

	for {
		s.runOnce(ctx, t)
		if !wait(ctx, t) {
			logger.Debug("采集任务 %s 已退出", name)
			return
		}
	}
}

func (s *Scheduler) initTask(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init panic: %v", r)
		}
	}()
	return t.job.Init(ctx)
}

// runOnce 执行一个采样周期，panic 被转换为 panic 类失败
func (s *Scheduler) runOnce(ctx context.Context, t *task) {
	name := t.job.Name()
	start := time.Now()
	report := func() (report sysinfo.Report) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("采集任务 %s 发生 panic: %v\n%s", name, r, debug.Stack())
				report = sysinfo.Report{Collector: name}
				report.AddKind("cycle", sysinfo.FailurePanic, fmt.Errorf("panic: %v", r))
			}
		}()
		return t.job.RunOnce(ctx)
	}()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		// 停止过程中被取消的周期不计入统计
		return
	}
	s.metrics.ObserveSample(name, elapsed)
	panics := uint64(report.Count(sysinfo.FailurePanic))
	for _, failure := range report.Failures {
		s.metrics.ObserveFailure(failure.Collector, string(failure.Kind))
		logFailure(failure)
	}
	t.updateStatus(func(st *TaskStatus) {
		st.Runs++
		st.Panics += panics
		st.LastRunAt = start
		st.LastDuration = elapsed.String()
		st.LastFailures = append([]sysinfo.Failure(nil), report.Failures...)
	})
}

// wait 等待下一个周期，间隔调整时按新间隔重新计时
func wait(ctx context.Context, t *task) bool {
	timer := time.NewTimer(time.Duration(t.interval.Load()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-t.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(time.Duration(t.interval.Load()))
		}
	}
}

// logFailure 按类别选择日志级别，权限与枚举竞争属于常态，只在调试级别输出
func logFailure(f sysinfo.Failure) {
	switch f.Kind {
	case sysinfo.FailurePermission, sysinfo.FailureEnumerationRace:
		logger.Debug("采集失败: %s", f)
	case sysinfo.FailurePanic:
		logger.Error("采集失败: %s", f)
	default:
		logger.Warn("采集失败: %s", f)
	}
}
