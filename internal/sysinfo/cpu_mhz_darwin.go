//go:build darwin

// 本文件用于 macOS 下 CPU 频率读取
package sysinfo

import "golang.org/x/sys/unix"

// detectCPUMHz 依次尝试标称频率与最大频率，Apple Silicon 上两者都可能缺失
func detectCPUMHz() float64 {
	for _, key := range []string{"hw.cpufrequency", "hw.cpufrequency_max"} {
		if freq, err := unix.SysctlUint64(key); err == nil && freq > 0 {
			return float64(freq) / 1e6
		}
	}
	return 0
}
