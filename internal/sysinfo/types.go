package sysinfo

import "time"

// UnknownOwner 表示连接的所属进程无法解析
const UnknownOwner = "unknown"

// HostInfo 表示启动时采集一次的主机静态信息
type HostInfo struct {
	Hostname string    `json:"hostname"`
	OS       string    `json:"os"`
	Kernel   string    `json:"kernel"`
	Cores    int       `json:"cores"`
	CPUMHz   float64   `json:"cpuMhz"`
	CPUModel string    `json:"cpuModel"`
	CPULabel string    `json:"cpuLabel"`
	BootTime time.Time `json:"bootTime"`
	DiskPath string    `json:"diskPath"`
}

// HostMetrics 表示一次主机指标采样结果
// 百分比字段始终位于 [0,100]，其余字段均非负
type HostMetrics struct {
	CPUPercent             float64   `json:"cpuPercent"`
	MemoryPercent          float64   `json:"memoryPercent"`
	MemoryUsedBytes        uint64    `json:"memoryUsedBytes"`
	MemoryTotalBytes       uint64    `json:"memoryTotalBytes"`
	MemoryFreeBytes        uint64    `json:"memoryFreeBytes"`
	DiskPercent            float64   `json:"diskPercent"`
	DiskUsedBytes          uint64    `json:"diskUsedBytes"`
	DiskTotalBytes         uint64    `json:"diskTotalBytes"`
	DiskFreeBytes          uint64    `json:"diskFreeBytes"`
	DiskPath               string    `json:"diskPath"`
	NetDownloadBytesPerSec float64   `json:"netDownloadBytesPerSec"`
	NetUploadBytesPerSec   float64   `json:"netUploadBytesPerSec"`
	Load1                  float64   `json:"load1"`
	Load5                  float64   `json:"load5"`
	Load15                 float64   `json:"load15"`
	SampledAt              time.Time `json:"sampledAt"`
}

// ProcessEntry 表示进程表中的一行
type ProcessEntry struct {
	PID            int32   `json:"pid"`
	Name           string  `json:"name"`
	CPUPercent     float64 `json:"cpuPercent"`
	MemoryBytes    uint64  `json:"memoryBytes"`
	ExecutablePath string  `json:"executablePath,omitempty"`
}

// ConnectionEntry 表示一条已建立的网络连接
type ConnectionEntry struct {
	Protocol      string `json:"protocol"`
	LocalAddress  string `json:"localAddress"`
	LocalPort     uint32 `json:"localPort"`
	RemoteAddress string `json:"remoteAddress"`
	RemotePort    uint32 `json:"remotePort"`
	State         string `json:"state"`
	PID           int32  `json:"pid,omitempty"`
	ProcessName   string `json:"processName"`
	TrafficBytes  uint64 `json:"trafficBytes,omitempty"`
}
