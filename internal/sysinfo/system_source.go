// 本文件用于基于 gopsutil 读取真实的系统计数器
package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

var brandMHzPattern = regexp.MustCompile(`(?i)([0-9]+(?:\.[0-9]+)?)\s*ghz`)

// SystemSource 是 HostSource、ProcessSource、ConnectionSource 的 gopsutil 实现
// 自身不保存任何采样状态，前后读数由各采集器持有
type SystemSource struct{}

// NewSystemSource 创建系统计数器来源
func NewSystemSource() *SystemSource {
	return &SystemSource{}
}

// Info 读取主机静态信息
func (s *SystemSource) Info(ctx context.Context) (HostInfo, error) {
	info := HostInfo{Cores: runtime.NumCPU()}
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		name, _ := os.Hostname()
		info.Hostname = fallbackString(name, "--")
		info.OS = runtime.GOOS
		info.Kernel = "--"
	} else {
		info.Hostname = fallbackString(hi.Hostname, "--")
		info.OS = strings.TrimSpace(strings.Join([]string{hi.Platform, hi.PlatformVersion}, " "))
		if info.OS == "" {
			info.OS = runtime.GOOS
		}
		info.Kernel = fallbackString(hi.KernelVersion, "--")
		if hi.BootTime > 0 {
			info.BootTime = time.Unix(int64(hi.BootTime), 0)
		}
	}
	if cores, cerr := cpu.CountsWithContext(ctx, true); cerr == nil && cores > 0 {
		info.Cores = cores
	}
	mhz := detectCPUMHz()
	if infos, ierr := cpu.InfoWithContext(ctx); ierr == nil && len(infos) > 0 {
		info.CPUModel = strings.TrimSpace(infos[0].ModelName)
		if mhz <= 0 {
			mhz = sanitizeMHz(infos[0].Mhz)
		}
		if mhz <= 0 {
			mhz = parseBrandMHz(infos[0].ModelName)
		}
	}
	info.CPUMHz = mhz
	info.CPULabel = buildCPULabel(info.Cores, mhz)
	return info, err
}

// CPUTimes 读取全局 CPU 累计时间
func (s *SystemSource) CPUTimes(ctx context.Context) (CPUTimes, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return CPUTimes{}, err
	}
	if len(times) == 0 {
		return CPUTimes{}, fmt.Errorf("cpu times unavailable")
	}
	total := sumCPUTimes(times[0])
	idle := times[0].Idle + times[0].Iowait
	return CPUTimes{Busy: total - idle, Total: total}, nil
}

// Memory 读取物理内存
func (s *SystemSource) Memory(ctx context.Context) (MemoryStat, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryStat{}, err
	}
	return MemoryStat{Total: vm.Total, Available: vm.Available}, nil
}

// DiskUsage 读取指定卷的容量
func (s *SystemSource) DiskUsage(ctx context.Context, path string) (DiskStat, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return DiskStat{}, err
	}
	return DiskStat{Path: path, Total: usage.Total, Free: usage.Free, Used: usage.Used}, nil
}

// NetCounters 读取每块网卡的累计收发字节
func (s *SystemSource) NetCounters(ctx context.Context) ([]NetCounter, error) {
	stats, err := gnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]NetCounter, 0, len(stats))
	for _, st := range stats {
		out = append(out, NetCounter{Name: st.Name, BytesRecv: st.BytesRecv, BytesSent: st.BytesSent})
	}
	return out, nil
}

// LoopbackInterfaces 返回回环网卡名称集合
func (s *SystemSource) LoopbackInterfaces(ctx context.Context) (map[string]bool, error) {
	ifaces, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, iface := range ifaces {
		for _, flag := range iface.Flags {
			if strings.EqualFold(flag, "loopback") {
				out[iface.Name] = true
				break
			}
		}
	}
	return out, nil
}

// Load 读取平均负载
func (s *SystemSource) Load(ctx context.Context) (LoadStat, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return LoadStat{}, err
	}
	return LoadStat{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}, nil
}

// ProcessorCount 返回逻辑 CPU 数
func (s *SystemSource) ProcessorCount(ctx context.Context) (int, error) {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Processes 枚举全部进程并读取详情
// 单个进程的读取失败只记录在对应字段上，不会中断整个枚举
func (s *SystemSource) Processes(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, proc := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out = append(out, readProcess(ctx, proc))
	}
	return out, nil
}

func readProcess(ctx context.Context, proc *process.Process) ProcessInfo {
	info := ProcessInfo{PID: proc.Pid}
	name, err := proc.NameWithContext(ctx)
	if err != nil && processGone(err) {
		info.Gone = true
		return info
	}
	info.Name = name

	// 受限权限的系统进程可能拿不到 CPU 时间
	times, err := proc.TimesWithContext(ctx)
	switch {
	case err != nil:
		info.CPUErr = err
	case times == nil:
		info.CPUErr = fmt.Errorf("cpu times unavailable")
	default:
		info.CPUSeconds = times.User + times.System
		info.At = time.Now()
	}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	switch {
	case err != nil:
		info.MemErr = err
	case memInfo != nil:
		info.MemoryBytes = memInfo.RSS
	}

	exe, err := proc.ExeWithContext(ctx)
	if err != nil {
		info.ExeErr = err
	} else {
		info.Exe = exe
	}

	if processGone(info.CPUErr) || processGone(info.MemErr) {
		info.Gone = true
	}
	return info
}

// Connections 读取 IPv4/IPv6 连接
func (s *SystemSource) Connections(ctx context.Context) ([]RawConnection, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, err
	}
	out := make([]RawConnection, 0, len(conns))
	for _, c := range conns {
		out = append(out, RawConnection{
			Family:     c.Family,
			Type:       c.Type,
			LocalIP:    c.Laddr.IP,
			LocalPort:  c.Laddr.Port,
			RemoteIP:   c.Raddr.IP,
			RemotePort: c.Raddr.Port,
			Status:     c.Status,
			PID:        c.Pid,
		})
	}
	return out, nil
}

// ProcessName 解析 pid 对应的进程名
func (s *SystemSource) ProcessName(ctx context.Context, pid int32) (string, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", err
	}
	return proc.NameWithContext(ctx)
}

func processGone(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, process.ErrorProcessNotRunning) || errors.Is(err, os.ErrNotExist) || isProcessMissingErr(err)
}

func sumCPUTimes(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal + t.Guest + t.GuestNice
}

func buildCPULabel(cores int, mhz float64) string {
	if mhz <= 0 {
		return fmt.Sprintf("%d 核", cores)
	}
	return fmt.Sprintf("%d 核 · %.1f GHz", cores, mhz/1000)
}

func sanitizeMHz(mhz float64) float64 {
	// 部分平台会返回极小值（如 24 MHz），直接视为未知
	if mhz < 100 {
		return 0
	}
	return mhz
}

func parseBrandMHz(brand string) float64 {
	if strings.TrimSpace(brand) == "" {
		return 0
	}
	matches := brandMHzPattern.FindStringSubmatch(brand)
	if len(matches) < 2 {
		return 0
	}
	val, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0
	}
	return val * 1000
}

func fallbackString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
