// 本文件用于 Prometheus 指标聚合与导出 将采集引擎的运行指标统一收口便于监控接入

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var sampleDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2}

// Collector 聚合采集引擎的运行期指标，并以 Prometheus 文本格式输出。
type Collector struct {
	processTableSize    atomic.Int64
	processTracked      atomic.Int64
	connectionTableSize atomic.Int64
	runningTasks        atomic.Int64

	configReloadTotal        atomic.Uint64
	configReloadFailureTotal atomic.Uint64

	mu                 sync.RWMutex
	samplesByCollector map[string]uint64
	publishByCollector map[string]uint64
	initFailures       map[string]uint64
	failuresByKind     map[failureKey]uint64
	terminateByOutcome map[string]uint64
	sampleDurationSec  map[string]*histogram
}

type failureKey struct {
	collector string
	kind      string
}

type histogram struct {
	buckets []float64
	counts  []uint64 // 累计桶计数
	count   uint64
	sum     float64
}

var (
	globalCollector = NewCollector()
)

// Global 返回进程级全局指标收集器。
func Global() *Collector {
	return globalCollector
}

// NewCollector 创建指标收集器。
func NewCollector() *Collector {
	c := &Collector{}
	c.resetMaps()
	return c
}

func (c *Collector) resetMaps() {
	c.samplesByCollector = make(map[string]uint64)
	c.publishByCollector = make(map[string]uint64)
	c.initFailures = make(map[string]uint64)
	c.failuresByKind = make(map[failureKey]uint64)
	c.terminateByOutcome = make(map[string]uint64)
	c.sampleDurationSec = make(map[string]*histogram)
}

func newHistogram(buckets []float64) *histogram {
	clean := make([]float64, 0, len(buckets))
	for _, bucket := range buckets {
		if bucket <= 0 {
			continue
		}
		clean = append(clean, bucket)
	}
	sort.Float64s(clean)
	return &histogram{
		buckets: clean,
		counts:  make([]uint64, len(clean)),
	}
}

func (h *histogram) observe(v float64) {
	if h == nil {
		return
	}
	for idx, bound := range h.buckets {
		if v <= bound {
			h.counts[idx]++
		}
	}
	h.count++
	h.sum += v
}

func (h *histogram) writePrometheus(builder *strings.Builder, metric string, labels map[string]string) {
	if h == nil {
		return
	}
	for idx, bound := range h.buckets {
		bucketLabels := mergeLabels(labels, map[string]string{
			"le": trimFloat(bound),
		})
		builder.WriteString(metric)
		builder.WriteString("_bucket")
		writeLabels(builder, bucketLabels)
		builder.WriteByte(' ')
		builder.WriteString(strconv.FormatUint(h.counts[idx], 10))
		builder.WriteByte('\n')
	}
	infLabels := mergeLabels(labels, map[string]string{
		"le": "+Inf",
	})
	builder.WriteString(metric)
	builder.WriteString("_bucket")
	writeLabels(builder, infLabels)
	builder.WriteByte(' ')
	builder.WriteString(strconv.FormatUint(h.count, 10))
	builder.WriteByte('\n')

	builder.WriteString(metric)
	builder.WriteString("_sum")
	writeLabels(builder, labels)
	builder.WriteByte(' ')
	builder.WriteString(trimFloat(h.sum))
	builder.WriteByte('\n')

	builder.WriteString(metric)
	builder.WriteString("_count")
	writeLabels(builder, labels)
	builder.WriteByte(' ')
	builder.WriteString(strconv.FormatUint(h.count, 10))
	builder.WriteByte('\n')
}

// ObserveSample 记录一次采样周期及其耗时。
func (c *Collector) ObserveSample(collector string, latency time.Duration) {
	if c == nil {
		return
	}
	key := normalizeMetricLabel(collector)
	c.mu.Lock()
	c.samplesByCollector[key]++
	h, ok := c.sampleDurationSec[key]
	if !ok {
		h = newHistogram(sampleDurationBuckets)
		c.sampleDurationSec[key] = h
	}
	h.observe(latency.Seconds())
	c.mu.Unlock()
}

// ObserveFailure 记录一次被采集器吸收的失败。
func (c *Collector) ObserveFailure(collector, kind string) {
	if c == nil {
		return
	}
	key := failureKey{collector: normalizeMetricLabel(collector), kind: normalizeMetricLabel(kind)}
	c.mu.Lock()
	c.failuresByKind[key]++
	c.mu.Unlock()
}

// IncPublish 记录一次快照发布。
func (c *Collector) IncPublish(collector string) {
	if c == nil {
		return
	}
	key := normalizeMetricLabel(collector)
	c.mu.Lock()
	c.publishByCollector[key]++
	c.mu.Unlock()
}

// IncInitFailure 记录采集器初始化失败。
func (c *Collector) IncInitFailure(collector string) {
	if c == nil {
		return
	}
	key := normalizeMetricLabel(collector)
	c.mu.Lock()
	c.initFailures[key]++
	c.mu.Unlock()
}

// ObserveTerminate 记录结束进程请求的结果。
func (c *Collector) ObserveTerminate(outcome string) {
	if c == nil {
		return
	}
	key := normalizeMetricLabel(outcome)
	c.mu.Lock()
	c.terminateByOutcome[key]++
	c.mu.Unlock()
}

// SetProcessTable 刷新进程表规模与保存前次读数的进程数。
func (c *Collector) SetProcessTable(published, tracked int) {
	if c == nil {
		return
	}
	c.processTableSize.Store(int64(published))
	c.processTracked.Store(int64(tracked))
}

// SetConnectionTable 刷新连接列表规模。
func (c *Collector) SetConnectionTable(size int) {
	if c == nil {
		return
	}
	c.connectionTableSize.Store(int64(size))
}

// SetRunningTasks 刷新正在运行的采集任务数。
func (c *Collector) SetRunningTasks(n int) {
	if c == nil {
		return
	}
	c.runningTasks.Store(int64(n))
}

// ObserveConfigReload 记录一次配置热加载。
func (c *Collector) ObserveConfigReload(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.configReloadTotal.Add(1)
		return
	}
	c.configReloadFailureTotal.Add(1)
}

// RenderPrometheus 以 text exposition 格式导出指标。
func (c *Collector) RenderPrometheus() string {
	if c == nil {
		return ""
	}
	builder := strings.Builder{}
	builder.Grow(4096)

	samples := make(map[string]uint64)
	publishes := make(map[string]uint64)
	initFailures := make(map[string]uint64)
	failures := make(map[failureKey]uint64)
	terminates := make(map[string]uint64)
	durations := make(map[string]histogram)
	c.mu.RLock()
	for key, count := range c.samplesByCollector {
		samples[key] = count
	}
	for key, count := range c.publishByCollector {
		publishes[key] = count
	}
	for key, count := range c.initFailures {
		initFailures[key] = count
	}
	for key, count := range c.failuresByKind {
		failures[key] = count
	}
	for key, count := range c.terminateByOutcome {
		terminates[key] = count
	}
	for key, h := range c.sampleDurationSec {
		durations[key] = cloneHistogram(h)
	}
	c.mu.RUnlock()

	writeMetricHeader(&builder, "rmon_samples_total", "counter", "Total sampling cycles grouped by collector.")
	for _, key := range sortedStringKeysFromUintMap(samples) {
		writeCounter(&builder, "rmon_samples_total", samples[key], map[string]string{"collector": key})
	}

	writeMetricHeader(&builder, "rmon_publish_total", "counter", "Total snapshot publications grouped by collector.")
	for _, key := range sortedStringKeysFromUintMap(publishes) {
		writeCounter(&builder, "rmon_publish_total", publishes[key], map[string]string{"collector": key})
	}

	writeMetricHeader(&builder, "rmon_sample_failures_total", "counter", "Sampling failures absorbed by collectors grouped by kind.")
	failureKeys := make([]failureKey, 0, len(failures))
	for key := range failures {
		failureKeys = append(failureKeys, key)
	}
	sort.Slice(failureKeys, func(i, j int) bool {
		if failureKeys[i].collector == failureKeys[j].collector {
			return failureKeys[i].kind < failureKeys[j].kind
		}
		return failureKeys[i].collector < failureKeys[j].collector
	})
	for _, key := range failureKeys {
		writeCounter(&builder, "rmon_sample_failures_total", failures[key], map[string]string{
			"collector": key.collector,
			"kind":      key.kind,
		})
	}

	writeMetricHeader(&builder, "rmon_init_failures_total", "counter", "Collector initialization failures.")
	for _, key := range sortedStringKeysFromUintMap(initFailures) {
		writeCounter(&builder, "rmon_init_failures_total", initFailures[key], map[string]string{"collector": key})
	}

	writeMetricHeader(&builder, "rmon_sample_duration_seconds", "histogram", "Sampling cycle latency distribution in seconds.")
	durationKeys := make([]string, 0, len(durations))
	for key := range durations {
		durationKeys = append(durationKeys, key)
	}
	sort.Strings(durationKeys)
	for _, key := range durationKeys {
		h := durations[key]
		h.writePrometheus(&builder, "rmon_sample_duration_seconds", map[string]string{"collector": key})
	}

	writeMetricHeader(&builder, "rmon_terminate_total", "counter", "Process terminate requests grouped by outcome.")
	// 始终输出 ok 时序，避免零流量时缺失
	if _, ok := terminates["ok"]; !ok {
		terminates["ok"] = 0
	}
	for _, key := range sortedStringKeysFromUintMap(terminates) {
		writeCounter(&builder, "rmon_terminate_total", terminates[key], map[string]string{"outcome": key})
	}

	writeMetricHeader(&builder, "rmon_process_table_size", "gauge", "Processes in the last published table.")
	writeGaugeInt(&builder, "rmon_process_table_size", c.processTableSize.Load(), nil)

	writeMetricHeader(&builder, "rmon_process_tracked", "gauge", "Processes with a retained previous CPU reading.")
	writeGaugeInt(&builder, "rmon_process_tracked", c.processTracked.Load(), nil)

	writeMetricHeader(&builder, "rmon_connection_table_size", "gauge", "Established connections in the last published list.")
	writeGaugeInt(&builder, "rmon_connection_table_size", c.connectionTableSize.Load(), nil)

	writeMetricHeader(&builder, "rmon_running_tasks", "gauge", "Sampling tasks currently running.")
	writeGaugeInt(&builder, "rmon_running_tasks", c.runningTasks.Load(), nil)

	writeMetricHeader(&builder, "rmon_config_reload_total", "counter", "Successful config hot reloads.")
	writeCounter(&builder, "rmon_config_reload_total", c.configReloadTotal.Load(), nil)

	writeMetricHeader(&builder, "rmon_config_reload_failure_total", "counter", "Rejected config hot reloads.")
	writeCounter(&builder, "rmon_config_reload_failure_total", c.configReloadFailureTotal.Load(), nil)

	return builder.String()
}

func cloneHistogram(h *histogram) histogram {
	if h == nil {
		return histogram{}
	}
	copyHist := histogram{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		count:   h.count,
		sum:     h.sum,
	}
	return copyHist
}

func writeMetricHeader(builder *strings.Builder, metric, metricType, help string) {
	builder.WriteString("# HELP ")
	builder.WriteString(metric)
	builder.WriteByte(' ')
	builder.WriteString(help)
	builder.WriteByte('\n')
	builder.WriteString("# TYPE ")
	builder.WriteString(metric)
	builder.WriteByte(' ')
	builder.WriteString(metricType)
	builder.WriteByte('\n')
}

func writeCounter(builder *strings.Builder, metric string, value uint64, labels map[string]string) {
	builder.WriteString(metric)
	writeLabels(builder, labels)
	builder.WriteByte(' ')
	builder.WriteString(strconv.FormatUint(value, 10))
	builder.WriteByte('\n')
}

func writeGaugeInt(builder *strings.Builder, metric string, value int64, labels map[string]string) {
	builder.WriteString(metric)
	writeLabels(builder, labels)
	builder.WriteByte(' ')
	builder.WriteString(strconv.FormatInt(value, 10))
	builder.WriteByte('\n')
}

func writeLabels(builder *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	builder.WriteByte('{')
	for idx, key := range keys {
		if idx > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(key)
		builder.WriteString("=\"")
		builder.WriteString(escapeLabelValue(labels[key]))
		builder.WriteByte('"')
	}
	builder.WriteByte('}')
}

func mergeLabels(base, ext map[string]string) map[string]string {
	if len(base) == 0 && len(ext) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(ext))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range ext {
		merged[key] = value
	}
	return merged
}

func normalizeMetricLabel(value string) string {
	clean := strings.TrimSpace(strings.ToLower(value))
	if clean == "" {
		return "unknown"
	}
	clean = strings.ReplaceAll(clean, "\n", " ")
	clean = strings.ReplaceAll(clean, "\r", " ")
	clean = strings.ReplaceAll(clean, "\t", " ")
	clean = strings.Join(strings.Fields(clean), " ")
	if len(clean) > 120 {
		clean = clean[:120]
	}
	return clean
}

func escapeLabelValue(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
	)
	return replacer.Replace(value)
}

func sortedStringKeysFromUintMap(items map[string]uint64) []string {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func trimFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}


// ResetForTest 仅用于测试，避免跨用例污染。
func (c *Collector) ResetForTest() {
	if c == nil {
		return
	}
	c.processTableSize.Store(0)
	c.processTracked.Store(0)
	c.connectionTableSize.Store(0)
	c.runningTasks.Store(0)
	c.configReloadTotal.Store(0)
	c.configReloadFailureTotal.Store(0)

	c.mu.Lock()
	c.resetMaps()
	c.mu.Unlock()
}

// NewTestCollector 提供已清零的测试 Collector。
func NewTestCollector() *Collector {
	collector := NewCollector()
	collector.ResetForTest()
	return collector
}

// SnapshotString 仅用于本地调试。
func (c *Collector) SnapshotString() string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf(
		"tasks=%d processes=%d tracked=%d connections=%d",
		c.runningTasks.Load(),
		c.processTableSize.Load(),
		c.processTracked.Load(),
		c.connectionTableSize.Load(),
	)
}
