package sysinfo

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestDeriveRateNetworkScenario(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	rate, ok := DeriveRate(
		Reading{Value: 1_000_000, At: t0},
		Reading{Value: 1_500_000, At: t0.Add(2 * time.Second)},
	)
	if !ok {
		t.Fatalf("期望速率有效")
	}
	if !almostEqual(rate, 250_000) {
		t.Fatalf("速率不匹配: got=%v want=250000", rate)
	}
}

func TestDeriveRateRejectsInvalidPairs(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		prev Reading
		curr Reading
	}{
		{name: "first observation", prev: Reading{}, curr: Reading{Value: 10, At: t0}},
		{name: "zero elapsed", prev: Reading{Value: 1, At: t0}, curr: Reading{Value: 5, At: t0}},
		{name: "clock went back", prev: Reading{Value: 1, At: t0}, curr: Reading{Value: 5, At: t0.Add(-time.Second)}},
		{name: "counter reset", prev: Reading{Value: 100, At: t0}, curr: Reading{Value: 3, At: t0.Add(time.Second)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rate, ok := DeriveRate(tc.prev, tc.curr)
			if ok || rate != 0 {
				t.Fatalf("期望无效速率: rate=%v ok=%v", rate, ok)
			}
		})
	}
}

func TestDeriveRateRandomMonotonicSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		at := time.Unix(int64(rng.Intn(1_000_000)), 0)
		value := rng.Float64() * 1e9
		prev := Reading{Value: value, At: at}
		for j := 0; j < 10; j++ {
			step := time.Duration(rng.Intn(5000)+1) * time.Millisecond
			delta := rng.Float64() * 1e7
			curr := Reading{Value: prev.Value + delta, At: prev.At.Add(step)}
			rate, ok := DeriveRate(prev, curr)
			if !ok {
				t.Fatalf("期望速率有效: prev=%+v curr=%+v", prev, curr)
			}
			want := delta / step.Seconds()
			if rate < 0 || math.Abs(rate-want) > math.Max(1e-6, want*1e-9) {
				t.Fatalf("速率不匹配: got=%v want=%v", rate, want)
			}
			prev = curr
		}
	}
}

func TestRateTrackerObserve(t *testing.T) {
	tracker := NewRateTracker()
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	if got := tracker.Observe("rx", 1000, t0); got != 0 {
		t.Fatalf("首次观测应为 0: got=%v", got)
	}
	if got := tracker.Observe("rx", 3000, t0.Add(time.Second)); !almostEqual(got, 2000) {
		t.Fatalf("速率不匹配: got=%v", got)
	}
	// 时间未前进时沿用上次速率且不覆盖基线
	if got := tracker.Observe("rx", 9000, t0.Add(time.Second)); !almostEqual(got, 2000) {
		t.Fatalf("时间未前进应沿用上次速率: got=%v", got)
	}
	if got := tracker.Observe("rx", 5000, t0.Add(2*time.Second)); !almostEqual(got, 2000) {
		t.Fatalf("基线不应被覆盖: got=%v", got)
	}
	// 计数器回退后本周期为 0，下一周期以新基线计算
	if got := tracker.Observe("rx", 10, t0.Add(3*time.Second)); got != 0 {
		t.Fatalf("计数器回退应为 0: got=%v", got)
	}
	if got := tracker.Observe("rx", 110, t0.Add(4*time.Second)); !almostEqual(got, 100) {
		t.Fatalf("新基线速率不匹配: got=%v", got)
	}
}

func TestRateTrackerRetainDropsUnseenKeys(t *testing.T) {
	tracker := NewRateTracker()
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tracker.Observe("a", 1, t0)
	tracker.Observe("b", 1, t0)
	if dropped := tracker.Retain(); dropped != 0 {
		t.Fatalf("不应丢弃: dropped=%d", dropped)
	}
	tracker.Observe("a", 2, t0.Add(time.Second))
	if dropped := tracker.Retain(); dropped != 1 {
		t.Fatalf("应丢弃 1 个 key: dropped=%d", dropped)
	}
	if tracker.Len() != 1 {
		t.Fatalf("剩余数量不匹配: got=%d", tracker.Len())
	}
	tracker.Reset()
	if tracker.Len() != 0 {
		t.Fatalf("Reset 后应为空")
	}
}
