package sysinfo

import (
	"context"
	"math"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeHostSource 的字段由测试直接修改，读方法加锁以便被遗弃的超时协程读取
type fakeHostSource struct {
	mu       sync.Mutex
	info     HostInfo
	infoErr  error
	cpu      CPUTimes
	cpuErr   error
	mem      MemoryStat
	memErr   error
	disk     DiskStat
	diskErr  error
	net      []NetCounter
	netErr   error
	netBlock bool
	loopback map[string]bool
	load     LoadStat
	loadErr  error
}

func (f *fakeHostSource) update(fn func(f *fakeHostSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeHostSource) Info(ctx context.Context) (HostInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, f.infoErr
}

func (f *fakeHostSource) CPUTimes(ctx context.Context) (CPUTimes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cpu, f.cpuErr
}

func (f *fakeHostSource) Memory(ctx context.Context) (MemoryStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem, f.memErr
}

func (f *fakeHostSource) DiskUsage(ctx context.Context, path string) (DiskStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disk, f.diskErr
}

func (f *fakeHostSource) NetCounters(ctx context.Context) ([]NetCounter, error) {
	f.mu.Lock()
	block := f.netBlock
	out := append([]NetCounter(nil), f.net...)
	err := f.netErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return out, err
}

func (f *fakeHostSource) LoopbackInterfaces(ctx context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loopback, nil
}

func (f *fakeHostSource) Load(ctx context.Context) (LoadStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load, f.loadErr
}

type fakeProcessSource struct {
	mu    sync.Mutex
	infos []ProcessInfo
	err   error
	count int
}

func (f *fakeProcessSource) set(infos []ProcessInfo, err error) {
	f.mu.Lock()
	f.infos = infos
	f.err = err
	f.mu.Unlock()
}

func (f *fakeProcessSource) Processes(ctx context.Context) ([]ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]ProcessInfo(nil), f.infos...), nil
}

func (f *fakeProcessSource) ProcessorCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

type fakeConnectionSource struct {
	mu        sync.Mutex
	conns     []RawConnection
	err       error
	names     map[int32]string
	nameErrs  map[int32]error
	nameCalls map[int32]int
}

func (f *fakeConnectionSource) Connections(ctx context.Context) ([]RawConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]RawConnection(nil), f.conns...), nil
}

func (f *fakeConnectionSource) ProcessName(ctx context.Context, pid int32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nameCalls == nil {
		f.nameCalls = make(map[int32]int)
	}
	f.nameCalls[pid]++
	if err := f.nameErrs[pid]; err != nil {
		return "", err
	}
	return f.names[pid], nil
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
