// 本文件用于保存各采集域的最新快照，供界面与接口无锁读取
package state

import (
	"sync/atomic"
	"time"

	"res-watch/internal/sysinfo"
)

// HostSnapshot 表示主机指标的最新快照
type HostSnapshot struct {
	Seq       uint64              `json:"seq"`
	UpdatedAt time.Time           `json:"updatedAt"`
	Metrics   sysinfo.HostMetrics `json:"metrics"`
	Failures  []sysinfo.Failure   `json:"failures,omitempty"`
}

// ProcessSnapshot 表示进程表的最新快照
type ProcessSnapshot struct {
	Seq            uint64                 `json:"seq"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	ProcessorCount int                    `json:"processorCount"`
	Processes      []sysinfo.ProcessEntry `json:"processes"`
	Failures       []sysinfo.Failure      `json:"failures,omitempty"`
}

// ConnectionSnapshot 表示连接列表的最新快照
type ConnectionSnapshot struct {
	Seq         uint64                    `json:"seq"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
	Connections []sysinfo.ConnectionEntry `json:"connections"`
	Failures    []sysinfo.Failure         `json:"failures,omitempty"`
}

// SnapshotStore 为每个采集域保存一个原子指针
// 写入方只有对应采集任务，读取方任意；读取从不阻塞也不会触发采样
type SnapshotStore struct {
	info        atomic.Pointer[sysinfo.HostInfo]
	host        atomic.Pointer[HostSnapshot]
	processes   atomic.Pointer[ProcessSnapshot]
	connections atomic.Pointer[ConnectionSnapshot]

	hostSeq       atomic.Uint64
	processSeq    atomic.Uint64
	connectionSeq atomic.Uint64

	now func() time.Time
}

// NewSnapshotStore 创建空的快照存储，尚未发布的域读取为零值
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{now: time.Now}
}

// SetHostInfo 保存启动时采集的主机静态信息
func (s *SnapshotStore) SetHostInfo(info sysinfo.HostInfo) {
	s.info.Store(&info)
}

// HostInfo 返回主机静态信息
func (s *SnapshotStore) HostInfo() (sysinfo.HostInfo, bool) {
	p := s.info.Load()
	if p == nil {
		return sysinfo.HostInfo{}, false
	}
	return *p, true
}

// PublishHost 发布一次主机指标
func (s *SnapshotStore) PublishHost(metrics sysinfo.HostMetrics, failures []sysinfo.Failure) uint64 {
	seq := s.hostSeq.Add(1)
	s.host.Store(&HostSnapshot{
		Seq:       seq,
		UpdatedAt: s.now(),
		Metrics:   metrics,
		Failures:  cloneFailures(failures),
	})
	return seq
}

// PublishProcesses 发布一次进程表
func (s *SnapshotStore) PublishProcesses(entries []sysinfo.ProcessEntry, processorCount int, failures []sysinfo.Failure) uint64 {
	seq := s.processSeq.Add(1)
	s.processes.Store(&ProcessSnapshot{
		Seq:            seq,
		UpdatedAt:      s.now(),
		ProcessorCount: processorCount,
		Processes:      append([]sysinfo.ProcessEntry(nil), entries...),
		Failures:       cloneFailures(failures),
	})
	return seq
}

// PublishConnections 发布一次连接列表
func (s *SnapshotStore) PublishConnections(entries []sysinfo.ConnectionEntry, failures []sysinfo.Failure) uint64 {
	seq := s.connectionSeq.Add(1)
	s.connections.Store(&ConnectionSnapshot{
		Seq:         seq,
		UpdatedAt:   s.now(),
		Connections: append([]sysinfo.ConnectionEntry(nil), entries...),
		Failures:    cloneFailures(failures),
	})
	return seq
}

// Host 返回主机快照的副本，尚未发布时 ok 为 false
func (s *SnapshotStore) Host() (HostSnapshot, bool) {
	p := s.host.Load()
	if p == nil {
		return HostSnapshot{}, false
	}
	out := *p
	out.Failures = cloneFailures(p.Failures)
	return out, true
}

// Processes 返回进程快照的副本
func (s *SnapshotStore) Processes() (ProcessSnapshot, bool) {
	p := s.processes.Load()
	if p == nil {
		return ProcessSnapshot{}, false
	}
	out := *p
	out.Processes = append([]sysinfo.ProcessEntry(nil), p.Processes...)
	out.Failures = cloneFailures(p.Failures)
	return out, true
}

// Connections 返回连接快照的副本
func (s *SnapshotStore) Connections() (ConnectionSnapshot, bool) {
	p := s.connections.Load()
	if p == nil {
		return ConnectionSnapshot{}, false
	}
	out := *p
	out.Connections = append([]sysinfo.ConnectionEntry(nil), p.Connections...)
	out.Failures = cloneFailures(p.Failures)
	return out, true
}

// Sequences 返回三个域已发布的次数
func (s *SnapshotStore) Sequences() (host, processes, connections uint64) {
	return s.hostSeq.Load(), s.processSeq.Load(), s.connectionSeq.Load()
}

func cloneFailures(failures []sysinfo.Failure) []sysinfo.Failure {
	if len(failures) == 0 {
		return nil
	}
	return append([]sysinfo.Failure(nil), failures...)
}
