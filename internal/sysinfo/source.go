// 本文件用于定义采集器依赖的系统计数器来源
package sysinfo

import (
	"context"
	"time"
)

// CPUTimes 表示全局 CPU 累计时间（秒）
type CPUTimes struct {
	Busy  float64
	Total float64
}

// MemoryStat 表示物理内存读数
type MemoryStat struct {
	Total     uint64
	Available uint64
}

// DiskStat 表示单个卷的容量读数
type DiskStat struct {
	Path  string
	Total uint64
	Free  uint64
	Used  uint64
}

// NetCounter 表示单个网卡的累计字节数
type NetCounter struct {
	Name      string
	BytesRecv uint64
	BytesSent uint64
}

// LoadStat 表示系统平均负载
type LoadStat struct {
	Load1  float64
	Load5  float64
	Load15 float64
}

// HostSource 提供主机级计数器
type HostSource interface {
	Info(ctx context.Context) (HostInfo, error)
	CPUTimes(ctx context.Context) (CPUTimes, error)
	Memory(ctx context.Context) (MemoryStat, error)
	DiskUsage(ctx context.Context, path string) (DiskStat, error)
	NetCounters(ctx context.Context) ([]NetCounter, error)
	LoopbackInterfaces(ctx context.Context) (map[string]bool, error)
	Load(ctx context.Context) (LoadStat, error)
}

// ProcessInfo 表示一次枚举中单个进程的原始读数
// Gone 表示进程在枚举与读取详情之间已退出
type ProcessInfo struct {
	PID         int32
	Name        string
	CPUSeconds  float64
	// At 为读取 CPUSeconds 的时刻，为零时由采集器使用本周期时间
	At          time.Time
	MemoryBytes uint64
	Exe         string
	Gone        bool
	CPUErr      error
	MemErr      error
	ExeErr      error
}

// ProcessSource 提供进程枚举
type ProcessSource interface {
	Processes(ctx context.Context) ([]ProcessInfo, error)
	ProcessorCount(ctx context.Context) (int, error)
}

// RawConnection 表示系统返回的一条连接记录
type RawConnection struct {
	Family     uint32
	Type       uint32
	LocalIP    string
	LocalPort  uint32
	RemoteIP   string
	RemotePort uint32
	Status     string
	PID        int32
}

// ConnectionSource 提供连接枚举与进程名解析
type ConnectionSource interface {
	Connections(ctx context.Context) ([]RawConnection, error)
	ProcessName(ctx context.Context, pid int32) (string, error)
}
