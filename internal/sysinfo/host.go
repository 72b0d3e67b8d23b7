// 本文件用于主机级指标采集：CPU、内存、系统卷与网络速率
package sysinfo

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"res-watch/internal/logger"
)

const (
	hostCollectorName = "host"

	metricCPU     = "cpu"
	metricMemory  = "memory"
	metricDisk    = "disk"
	metricNetwork = "network"
	metricLoad    = "load"

	rateKeyRecv = "rx"
	rateKeySent = "tx"
)

// HostOptions 用于配置主机采集器
type HostOptions struct {
	// DiskPath 指定系统卷挂载点，为空时按平台自动选择
	DiskPath    string
	CallTimeout time.Duration
	Clock       Clock
}

// HostCollector 负责主机级指标采样
// 所有前次读数只由采样协程访问，对外只发布不可变的 HostMetrics 值
type HostCollector struct {
	source      HostSource
	clock       Clock
	callTimeout boundedTimeout

	diskPath    string
	memoryTotal uint64
	diskTotal   uint64
	loopback    map[string]bool
	info        HostInfo

	lastCPU CPUTimes
	hasCPU  bool
	rates   *RateTracker
	last    HostMetrics
}

// NewHostCollector 创建主机采集器
func NewHostCollector(source HostSource, opts HostOptions) *HostCollector {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}
	c := &HostCollector{
		source:   source,
		clock:    clock,
		diskPath: strings.TrimSpace(opts.DiskPath),
		rates:    NewRateTracker(),
		loopback: map[string]bool{},
	}
	c.callTimeout.Store(opts.CallTimeout)
	return c
}

// SetCallTimeout 调整单次调用上限，下一次调用生效
func (c *HostCollector) SetCallTimeout(d time.Duration) {
	c.callTimeout.Store(d)
}

// CallTimeout 返回当前的单次调用上限
func (c *HostCollector) CallTimeout() time.Duration {
	return c.callTimeout.Load()
}

// Name 返回采集器名称
func (c *HostCollector) Name() string {
	return hostCollectorName
}

// Init 在启动时确定系统卷并缓存内存/磁盘总量
// 所有探测均失败视为主机计数器整体不可用
func (c *HostCollector) Init(ctx context.Context) error {
	if c.source == nil {
		return errors.New("host source is nil")
	}
	if c.diskPath == "" {
		c.diskPath = systemVolume()
	}

	info, infoErr := callBounded(ctx, c.callTimeout.Load(), c.source.Info)
	info.DiskPath = c.diskPath
	c.info = info

	memStat, memErr := callBounded(ctx, c.callTimeout.Load(), c.source.Memory)
	if memErr == nil {
		c.memoryTotal = memStat.Total
	}
	diskStat, diskErr := callBounded(ctx, c.callTimeout.Load(), func(ctx context.Context) (DiskStat, error) {
		return c.source.DiskUsage(ctx, c.diskPath)
	})
	if diskErr == nil {
		c.diskTotal = diskStat.Total
	}
	loopback, loErr := callBounded(ctx, c.callTimeout.Load(), c.source.LoopbackInterfaces)
	if loErr == nil && loopback != nil {
		c.loopback = loopback
	}

	if infoErr != nil && memErr != nil && diskErr != nil {
		return errors.Join(infoErr, memErr, diskErr)
	}
	if memErr != nil {
		logger.Warn("读取内存总量失败，将在采样时重试: %v", memErr)
	}
	if diskErr != nil {
		logger.Warn("读取系统卷 %s 失败，将在采样时重试: %v", c.diskPath, diskErr)
	}
	logger.Info("主机采集器已初始化: host=%s disk=%s cpu=%s", c.info.Hostname, c.diskPath, c.info.CPULabel)
	return nil
}

// Info 返回启动时缓存的主机静态信息
func (c *HostCollector) Info() HostInfo {
	return c.info
}

type hostReadings struct {
	cpu     CPUTimes
	cpuErr  error
	mem     MemoryStat
	memErr  error
	disk    DiskStat
	diskErr error
	net     []NetCounter
	netErr  error
	load    LoadStat
	loadErr error
}

// Sample 执行一次主机采样
// 各子指标并发读取且分别设有上限，任一子指标失败只保留其上次的值
func (c *HostCollector) Sample(ctx context.Context) (HostMetrics, Report) {
	report := newReport(hostCollectorName)
	readings := c.read(ctx)
	now := c.clock.Now()

	next := c.last
	next.SampledAt = now
	next.DiskPath = c.diskPath

	c.applyCPU(&next, readings, &report)
	c.applyMemory(&next, readings, &report)
	c.applyDisk(&next, readings, &report)
	c.applyNetwork(&next, readings, now, &report)
	if readings.loadErr != nil {
		report.Add(metricLoad, readings.loadErr)
	} else {
		next.Load1 = nonNegative(readings.load.Load1)
		next.Load5 = nonNegative(readings.load.Load5)
		next.Load15 = nonNegative(readings.load.Load15)
	}

	c.last = next
	return next, report
}

func (c *HostCollector) read(ctx context.Context) hostReadings {
	var (
		out hostReadings
		wg  sync.WaitGroup
	)
	wg.Add(5)
	go func() {
		defer wg.Done()
		out.cpu, out.cpuErr = callBounded(ctx, c.callTimeout.Load(), c.source.CPUTimes)
	}()
	go func() {
		defer wg.Done()
		out.mem, out.memErr = callBounded(ctx, c.callTimeout.Load(), c.source.Memory)
	}()
	go func() {
		defer wg.Done()
		out.disk, out.diskErr = callBounded(ctx, c.callTimeout.Load(), func(ctx context.Context) (DiskStat, error) {
			return c.source.DiskUsage(ctx, c.diskPath)
		})
	}()
	go func() {
		defer wg.Done()
		out.net, out.netErr = callBounded(ctx, c.callTimeout.Load(), c.source.NetCounters)
	}()
	go func() {
		defer wg.Done()
		out.load, out.loadErr = callBounded(ctx, c.callTimeout.Load(), c.source.Load)
	}()
	wg.Wait()
	return out
}

// applyCPU 基于两次 CPU 累计时间的差值计算使用率，无效值沿用上次结果
func (c *HostCollector) applyCPU(next *HostMetrics, r hostReadings, report *Report) {
	if r.cpuErr != nil {
		report.Add(metricCPU, r.cpuErr)
		return
	}
	prev, hadPrev := c.lastCPU, c.hasCPU
	c.lastCPU, c.hasCPU = r.cpu, true
	if !hadPrev {
		return
	}
	deltaTotal := r.cpu.Total - prev.Total
	deltaBusy := r.cpu.Busy - prev.Busy
	if deltaTotal <= 0 {
		report.AddKind(metricCPU, FailureClockAnomaly, ErrClockAnomaly)
		return
	}
	pct := deltaBusy / deltaTotal * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) || pct < 0 {
		return
	}
	next.CPUPercent = clampPct(pct)
}

func (c *HostCollector) applyMemory(next *HostMetrics, r hostReadings, report *Report) {
	if r.memErr != nil {
		report.Add(metricMemory, r.memErr)
		return
	}
	if c.memoryTotal == 0 {
		// 启动时未拿到总量，本周期补齐
		c.memoryTotal = r.mem.Total
	}
	total := c.memoryTotal
	if total == 0 {
		next.MemoryPercent = 0
		next.MemoryTotalBytes = 0
		next.MemoryUsedBytes = 0
		next.MemoryFreeBytes = 0
		return
	}
	free := r.mem.Available
	if free > total {
		free = total
	}
	used := total - free
	next.MemoryTotalBytes = total
	next.MemoryFreeBytes = free
	next.MemoryUsedBytes = used
	next.MemoryPercent = usagePercent(used, total)
}

func (c *HostCollector) applyDisk(next *HostMetrics, r hostReadings, report *Report) {
	if r.diskErr != nil {
		report.Add(metricDisk, r.diskErr)
		return
	}
	if c.diskTotal == 0 {
		c.diskTotal = r.disk.Total
	}
	total := c.diskTotal
	if total == 0 {
		next.DiskPercent = 0
		return
	}
	free := r.disk.Free
	if free > total {
		free = total
	}
	used := r.disk.Used
	if used == 0 || used > total {
		used = total - free
	}
	next.DiskTotalBytes = total
	next.DiskFreeBytes = free
	next.DiskUsedBytes = used
	next.DiskPercent = usagePercent(used, total)
}

// applyNetwork 汇总非回环网卡的累计字节并换算为每秒速率
func (c *HostCollector) applyNetwork(next *HostMetrics, r hostReadings, now time.Time, report *Report) {
	if r.netErr != nil {
		report.Add(metricNetwork, r.netErr)
		return
	}
	var recv, sent uint64
	usable := 0
	for _, counter := range r.net {
		if c.isLoopback(counter.Name) {
			continue
		}
		usable++
		recv += counter.BytesRecv
		sent += counter.BytesSent
	}
	if usable == 0 {
		c.rates.Reset()
		next.NetDownloadBytesPerSec = 0
		next.NetUploadBytesPerSec = 0
		return
	}
	next.NetDownloadBytesPerSec = c.rates.Observe(rateKeyRecv, float64(recv), now)
	next.NetUploadBytesPerSec = c.rates.Observe(rateKeySent, float64(sent), now)
	c.rates.Retain()
}

func (c *HostCollector) isLoopback(name string) bool {
	if c.loopback[name] {
		return true
	}
	lower := strings.ToLower(name)
	return lower == "lo" || strings.HasPrefix(lower, "lo0") || strings.HasPrefix(lower, "loopback")
}

// Reset 在停止监控时丢弃全部前次读数
func (c *HostCollector) Reset() {
	c.lastCPU = CPUTimes{}
	c.hasCPU = false
	c.rates.Reset()
	c.last = HostMetrics{}
}

// systemVolume 返回承载操作系统的卷
func systemVolume() string {
	if runtime.GOOS == "windows" {
		drive := strings.TrimSpace(os.Getenv("SystemDrive"))
		if drive == "" {
			drive = "C:"
		}
		return drive + `\`
	}
	return string(filepath.Separator)
}

func usagePercent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return clampPct(float64(used) / float64(total) * 100)
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
