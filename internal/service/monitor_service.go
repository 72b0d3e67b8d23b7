package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"res-watch/internal/audit"
	"res-watch/internal/config"
	"res-watch/internal/logger"
	"res-watch/internal/metrics"
	"res-watch/internal/models"
	"res-watch/internal/state"
	"res-watch/internal/sysinfo"
)

// 任务名称与采集器名称保持一致
const (
	TaskHost       = "host"
	TaskProcess    = "process"
	TaskConnection = "connection"
)

// Sources 聚合三个采集域的数据来源，测试中可替换为假实现
type Sources struct {
	Host       sysinfo.HostSource
	Process    sysinfo.ProcessSource
	Connection sysinfo.ConnectionSource
}

// SystemSources 返回基于 gopsutil 的真实来源
func SystemSources() Sources {
	src := sysinfo.NewSystemSource()
	return Sources{Host: src, Process: src, Connection: src}
}

// Options 用于构建监控服务
type Options struct {
	Sources    Sources
	Terminator *sysinfo.Terminator
	Clock      sysinfo.Clock
	Audit      audit.Store
	Metrics    *metrics.Collector
}

// MonitorService 组装采集器、调度器与快照存储
type MonitorService struct {
	store     *state.SnapshotStore
	scheduler *Scheduler
	host      *sysinfo.HostCollector
	processes *sysinfo.ProcessCollector
	conns     *sysinfo.ConnectionCollector
	audit     audit.Store
	metrics   *metrics.Collector
}

// NewMonitorService 按配置创建监控服务
func NewMonitorService(cfg *models.Config, opts Options) (*MonitorService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	intervals, err := config.ParseIntervals(cfg)
	if err != nil {
		return nil, err
	}
	sources := opts.Sources
	if sources.Host == nil || sources.Process == nil || sources.Connection == nil {
		sources = SystemSources()
	}
	auditStore := opts.Audit
	if auditStore == nil {
		auditStore = audit.NewMemoryStore(0)
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.Global()
	}

	svc := &MonitorService{
		store:     state.NewSnapshotStore(),
		scheduler: NewScheduler(collector),
		audit:     auditStore,
		metrics:   collector,
	}
	svc.host = sysinfo.NewHostCollector(sources.Host, sysinfo.HostOptions{
		DiskPath:    cfg.DiskPath,
		CallTimeout: intervals.CallTimeout,
		Clock:       opts.Clock,
	})
	svc.processes = sysinfo.NewProcessCollector(sources.Process, sysinfo.ProcessOptions{
		Limit:       cfg.ProcessLimit,
		CallTimeout: intervals.CallTimeout,
		Clock:       opts.Clock,
		Terminator:  opts.Terminator,
	})
	svc.conns = sysinfo.NewConnectionCollector(sources.Connection, sysinfo.ConnectionOptions{
		CallTimeout: intervals.CallTimeout,
	})

	jobs := []struct {
		job      Job
		interval time.Duration
	}{
		{&hostJob{collector: svc.host, store: svc.store, metrics: collector}, intervals.Host},
		{&processJob{collector: svc.processes, store: svc.store, metrics: collector}, intervals.Process},
		{&connectionJob{collector: svc.conns, store: svc.store, metrics: collector}, intervals.Connection},
	}
	for _, item := range jobs {
		if err := svc.scheduler.Add(item.job, item.interval); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Start 启动全部采集任务
func (m *MonitorService) Start(ctx context.Context) error {
	logger.Info("启动监控服务...")
	if err := m.scheduler.Start(ctx); err != nil {
		return err
	}
	logger.Info("监控服务启动成功")
	return nil
}

// Stop 同步停止采集，返回后快照不再更新
func (m *MonitorService) Stop() {
	m.scheduler.Stop()
}

// Close 停止采集并关闭审计存储
func (m *MonitorService) Close() error {
	m.Stop()
	if m.audit == nil {
		return nil
	}
	return m.audit.Close()
}

// Store 返回快照存储
func (m *MonitorService) Store() *state.SnapshotStore {
	return m.store
}

// Scheduler 返回调度器
func (m *MonitorService) Scheduler() *Scheduler {
	return m.scheduler
}

// Status 返回各采集任务的运行状态
func (m *MonitorService) Status() []TaskStatus {
	return m.scheduler.Status()
}

// Audit 返回审计存储
func (m *MonitorService) Audit() audit.Store {
	return m.audit
}

// ApplyConfig 热加载可在运行中调整的配置：采样间隔、调用上限与日志级别
func (m *MonitorService) ApplyConfig(cfg *models.Config) error {
	if err := config.ValidateConfig(cfg); err != nil {
		m.metrics.ObserveConfigReload(false)
		return err
	}
	intervals, err := config.ParseIntervals(cfg)
	if err != nil {
		m.metrics.ObserveConfigReload(false)
		return err
	}
	updates := map[string]time.Duration{
		TaskHost:       intervals.Host,
		TaskProcess:    intervals.Process,
		TaskConnection: intervals.Connection,
	}
	for name, interval := range updates {
		if err := m.scheduler.SetInterval(name, interval); err != nil {
			m.metrics.ObserveConfigReload(false)
			return err
		}
	}
	m.host.SetCallTimeout(intervals.CallTimeout)
	m.processes.SetCallTimeout(intervals.CallTimeout)
	m.conns.SetCallTimeout(intervals.CallTimeout)
	logger.SetLogLevel(cfg.LogLevel)
	m.metrics.ObserveConfigReload(true)
	logger.Info("配置已热加载: host=%s process=%s connection=%s timeout=%s level=%s", intervals.Host, intervals.Process, intervals.Connection, intervals.CallTimeout, cfg.LogLevel)
	return nil
}

// Terminate 结束进程并写入审计，结果以值返回
func (m *MonitorService) Terminate(ctx context.Context, req models.TerminateRequest) sysinfo.TerminateResult {
	result := m.processes.Terminate(ctx, req.PID, req.Force)
	m.metrics.ObserveTerminate(string(result.Outcome))

	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = "unknown"
	}
	if result.OK() {
		logger.Info("进程已结束: pid=%d name=%s signal=%s actor=%s", result.PID, result.Name, result.Signal, actor)
	} else {
		logger.Warn("结束进程失败: pid=%d outcome=%s actor=%s err=%s", result.PID, result.Outcome, actor, result.Error)
	}
	record := audit.Record{
		Actor:     actor,
		PID:       result.PID,
		Name:      result.Name,
		Signal:    result.Signal,
		Forced:    result.Forced,
		Outcome:   string(result.Outcome),
		Error:     result.Error,
		CreatedAt: time.Now(),
	}
	if err := m.audit.Append(record); err != nil {
		logger.Error("写入结束进程审计失败: %v", err)
	}
	return result
}

type hostJob struct {
	collector *sysinfo.HostCollector
	store     *state.SnapshotStore
	metrics   *metrics.Collector
}

func (j *hostJob) Name() string { return TaskHost }

func (j *hostJob) Init(ctx context.Context) error {
	if err := j.collector.Init(ctx); err != nil {
		return err
	}
	j.store.SetHostInfo(j.collector.Info())
	return nil
}

func (j *hostJob) RunOnce(ctx context.Context) sysinfo.Report {
	snapshot, report := j.collector.Sample(ctx)
	if ctx.Err() != nil {
		return report
	}
	j.store.PublishHost(snapshot, report.Failures)
	j.metrics.IncPublish(TaskHost)
	return report
}

func (j *hostJob) Reset() { j.collector.Reset() }

type processJob struct {
	collector *sysinfo.ProcessCollector
	store     *state.SnapshotStore
	metrics   *metrics.Collector
}

func (j *processJob) Name() string { return TaskProcess }

func (j *processJob) Init(ctx context.Context) error {
	return j.collector.Init(ctx)
}

// RunOnce 在枚举失败时保留上一份进程表，不重复发布
func (j *processJob) RunOnce(ctx context.Context) sysinfo.Report {
	entries, report := j.collector.Sample(ctx)
	if ctx.Err() != nil || report.Failed(sysinfo.MetricEnumerate) {
		return report
	}
	j.store.PublishProcesses(entries, j.collector.ProcessorCount(), report.Failures)
	j.metrics.IncPublish(TaskProcess)
	j.metrics.SetProcessTable(len(entries), j.collector.Tracked())
	return report
}

func (j *processJob) Reset() { j.collector.Reset() }

type connectionJob struct {
	collector *sysinfo.ConnectionCollector
	store     *state.SnapshotStore
	metrics   *metrics.Collector
}

func (j *connectionJob) Name() string { return TaskConnection }

func (j *connectionJob) Init(ctx context.Context) error {
	return j.collector.Init(ctx)
}

func (j *connectionJob) RunOnce(ctx context.Context) sysinfo.Report {
	entries, report := j.collector.Sample(ctx)
	if ctx.Err() != nil || report.Failed(sysinfo.MetricConnections) {
		return report
	}
	j.store.PublishConnections(entries, report.Failures)
	j.metrics.IncPublish(TaskConnection)
	j.metrics.SetConnectionTable(len(entries))
	return report
}

func (j *connectionJob) Reset() { j.collector.Reset() }
