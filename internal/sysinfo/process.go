// 本文件用于进程表采集：按 pid 保留前次 CPU 累计时间并换算占用率
package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"res-watch/internal/logger"
)

const (
	processCollectorName = "process"

	// MetricEnumerate 表示进程枚举本身失败，此时不应发布新的进程表
	MetricEnumerate = "enumerate"
	metricProcess   = "process"
)

// ProcessOptions 用于配置进程采集器
type ProcessOptions struct {
	// Limit 限制发布的进程数量，0 表示不限制；前次读数始终覆盖全部进程
	Limit       int
	CallTimeout time.Duration
	Clock       Clock
	Terminator  *Terminator
}

// ProcessCollector 负责进程表采样
// prev 只由采样协程读写，每个周期整体替换；rate 字段保存上次的占用率
type ProcessCollector struct {
	source         ProcessSource
	clock          Clock
	callTimeout    boundedTimeout
	limit          int
	processorCount int
	terminator     *Terminator

	prev map[int32]trackedRate
	last []ProcessEntry
}

// NewProcessCollector 创建进程采集器
func NewProcessCollector(source ProcessSource, opts ProcessOptions) *ProcessCollector {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}
	terminator := opts.Terminator
	if terminator == nil {
		terminator = NewTerminator()
	}
	limit := opts.Limit
	if limit < 0 {
		limit = 0
	}
	c := &ProcessCollector{
		source:     source,
		clock:      clock,
		limit:      limit,
		terminator: terminator,
		prev:       make(map[int32]trackedRate),
	}
	c.callTimeout.Store(opts.CallTimeout)
	return c
}

// SetCallTimeout 调整单次调用上限，下一次调用生效
func (c *ProcessCollector) SetCallTimeout(d time.Duration) {
	c.callTimeout.Store(d)
}

// Name 返回采集器名称
func (c *ProcessCollector) Name() string {
	return processCollectorName
}

// Init 探测一次进程枚举并读取逻辑 CPU 数
// 平台不支持进程枚举时返回错误，其余失败留给采样周期处理
func (c *ProcessCollector) Init(ctx context.Context) error {
	if c.source == nil {
		return errors.New("process source is nil")
	}
	if _, err := callBounded(ctx, c.callTimeout.Load(), c.source.Processes); err != nil {
		if isUnsupportedErr(err) {
			return fmt.Errorf("process enumeration unavailable: %w", err)
		}
		logger.Warn("进程枚举探测失败，将在采样时重试: %v", err)
	}
	count, err := callBounded(ctx, c.callTimeout.Load(), c.source.ProcessorCount)
	if err != nil || count <= 0 {
		count = runtime.NumCPU()
	}
	if count < 1 {
		count = 1
	}
	c.processorCount = count
	return nil
}

// ProcessorCount 返回计算占用率使用的逻辑 CPU 数
func (c *ProcessCollector) ProcessorCount() int {
	return c.processorCount
}

// Tracked 返回当前保存前次读数的进程数量
func (c *ProcessCollector) Tracked() int {
	return len(c.prev)
}

// Sample 枚举一次进程并生成新的进程表
// 枚举本身失败时返回上一次的表，并在 Report 中记录 enumerate 失败
func (c *ProcessCollector) Sample(ctx context.Context) ([]ProcessEntry, Report) {
	report := newReport(processCollectorName)
	if c.processorCount < 1 {
		c.processorCount = 1
	}
	infos, err := callBounded(ctx, c.callTimeout.Load(), c.source.Processes)
	if err != nil {
		report.Add(MetricEnumerate, err)
		return c.last, report
	}
	now := c.clock.Now()

	next := make(map[int32]trackedRate, len(infos))
	entries := make([]ProcessEntry, 0, len(infos))
	seen := make(map[int32]struct{}, len(infos))
	var (
		gone, denied           int
		firstGone, firstDenied error
	)
	for _, info := range infos {
		if _, dup := seen[info.PID]; dup {
			continue
		}
		if info.Gone {
			gone++
			if firstGone == nil {
				firstGone = fmt.Errorf("pid %d: %w", info.PID, ErrProcessNotFound)
			}
			continue
		}
		seen[info.PID] = struct{}{}

		entry := ProcessEntry{
			PID:            info.PID,
			Name:           info.Name,
			MemoryBytes:    info.MemoryBytes,
			ExecutablePath: info.Exe,
		}
		if entry.Name == "" {
			entry.Name = fmt.Sprintf("pid-%d", info.PID)
		}
		if info.MemErr != nil {
			entry.MemoryBytes = 0
		}
		if info.ExeErr != nil {
			entry.ExecutablePath = ""
		}
		if fieldErr := firstNonNil(info.CPUErr, info.MemErr); fieldErr != nil {
			denied++
			if firstDenied == nil {
				firstDenied = fmt.Errorf("pid %d: %w", info.PID, fieldErr)
			}
		}

		if info.CPUErr == nil {
			at := info.At
			if at.IsZero() {
				at = now
			}
			tracked := c.observeCPU(info.PID, Reading{Value: info.CPUSeconds, At: at})
			next[info.PID] = tracked
			entry.CPUPercent = tracked.rate
		}
		entries = append(entries, entry)
	}
	if gone > 0 {
		report.AddKind(metricProcess, FailureEnumerationRace, fmt.Errorf("%d processes exited during enumeration, first %w", gone, firstGone))
	}
	if denied > 0 {
		report.AddKind(metricProcess, Classify(firstDenied), fmt.Errorf("%d processes with unreadable fields, first %w", denied, firstDenied))
	}

	// 只保留本周期出现过的 pid，已退出进程的读数随之丢弃
	c.prev = next

	sortProcessEntries(entries)
	if c.limit > 0 && len(entries) > c.limit {
		entries = entries[:c.limit]
	}
	c.last = entries
	return entries, report
}

// Terminate 结束指定进程，结果以值返回而不是向调用方抛出错误
func (c *ProcessCollector) Terminate(ctx context.Context, pid int32, force bool) TerminateResult {
	return c.terminator.Terminate(ctx, pid, force)
}

// Reset 在停止监控时丢弃全部前次读数
func (c *ProcessCollector) Reset() {
	c.prev = make(map[int32]trackedRate)
	c.last = nil
}

// observeCPU 根据前次读数得到本周期的读数与占用率
// 时间差不为正时沿用前次读数与占用率；计数器回退时以新读数为基线
func (c *ProcessCollector) observeCPU(pid int32, curr Reading) trackedRate {
	prev, ok := c.prev[pid]
	if !ok {
		return trackedRate{reading: curr}
	}
	if !curr.At.After(prev.reading.At) {
		return prev
	}
	return trackedRate{reading: curr, rate: processCPUPercent(prev.reading, curr, c.processorCount)}
}

// processCPUPercent 由累计 CPU 时间差 / 墙钟时间差 / 逻辑 CPU 数得到占用率
func processCPUPercent(prev, curr Reading, processors int) float64 {
	rate, ok := DeriveRate(prev, curr)
	if !ok {
		return 0
	}
	if processors < 1 {
		processors = 1
	}
	return clampPct(rate / float64(processors) * 100)
}

func sortProcessEntries(entries []ProcessEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CPUPercent == entries[j].CPUPercent {
			return entries[i].PID < entries[j].PID
		}
		return entries[i].CPUPercent > entries[j].CPUPercent
	})
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
