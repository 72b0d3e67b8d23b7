// 本文件用于基于前后两次采样计算速率
package sysinfo

import (
	"math"
	"time"
)

// Clock 抽象当前时间，便于在测试中构造确定的采样间隔
type Clock interface {
	Now() time.Time
}

// RealClock 使用系统时间
type RealClock struct{}

// Now 返回当前时间
func (RealClock) Now() time.Time { return time.Now() }

// Reading 表示某个累计计数器的一次读数及其采样时刻
type Reading struct {
	Value float64
	At    time.Time
}

// DeriveRate 由前后两次读数计算每秒速率
// 首次观测、时间差不为正、计数器回退时 ok 为 false，此时速率为 0 不做外推
func DeriveRate(prev, curr Reading) (float64, bool) {
	if prev.At.IsZero() || curr.At.IsZero() {
		return 0, false
	}
	elapsed := curr.At.Sub(prev.At).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	delta := curr.Value - prev.Value
	if delta < 0 {
		return 0, false
	}
	rate := delta / elapsed
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, false
	}
	return rate, true
}

type trackedRate struct {
	reading Reading
	rate    float64
}

// RateTracker 按 key 维护上一次读数，只能由所属采集器的采样协程访问
type RateTracker struct {
	entries map[string]trackedRate
	seen    map[string]struct{}
}

// NewRateTracker 创建速率跟踪器
func NewRateTracker() *RateTracker {
	return &RateTracker{
		entries: make(map[string]trackedRate),
		seen:    make(map[string]struct{}),
	}
}

// Observe 记录一次累计读数并返回当前速率
// 时间差不为正时保留上一次读数与速率；计数器回退时以新读数为基线并返回 0
func (t *RateTracker) Observe(key string, value float64, at time.Time) float64 {
	t.seen[key] = struct{}{}
	curr := Reading{Value: value, At: at}
	prev, ok := t.entries[key]
	if !ok {
		t.entries[key] = trackedRate{reading: curr}
		return 0
	}
	if !at.After(prev.reading.At) {
		return prev.rate
	}
	rate, valid := DeriveRate(prev.reading, curr)
	if !valid {
		rate = 0
	}
	t.entries[key] = trackedRate{reading: curr, rate: rate}
	return rate
}

// Retain 丢弃本周期未出现的 key，返回被丢弃的数量
func (t *RateTracker) Retain() int {
	dropped := 0
	for key := range t.entries {
		if _, ok := t.seen[key]; !ok {
			delete(t.entries, key)
			dropped++
		}
	}
	t.seen = make(map[string]struct{}, len(t.entries))
	return dropped
}

// Len 返回当前保存的读数数量
func (t *RateTracker) Len() int {
	return len(t.entries)
}

// Reset 清空全部历史读数
func (t *RateTracker) Reset() {
	t.entries = make(map[string]trackedRate)
	t.seen = make(map[string]struct{})
}
