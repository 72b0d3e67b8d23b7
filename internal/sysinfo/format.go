// 本文件用于提供系统资源格式化与辅助函数
package sysinfo

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FormatBytes 把字节数格式化为带单位的字符串
func FormatBytes(value float64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
		tb = gb * 1024
	)
	switch {
	case math.IsNaN(value) || math.IsInf(value, 0):
		return "--"
	case value >= tb:
		return fmt.Sprintf("%.1f TB", value/tb)
	case value >= gb:
		return fmt.Sprintf("%.1f GB", value/gb)
	case value >= mb:
		return fmt.Sprintf("%.1f MB", value/mb)
	case value >= kb:
		return fmt.Sprintf("%.1f KB", value/kb)
	case value > 0:
		return fmt.Sprintf("%.0f B", value)
	default:
		return "0 B"
	}
}

// FormatRate 把每秒字节数格式化为速率
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec < 0 {
		return "--"
	}
	return FormatBytes(bytesPerSec) + "/s"
}

// FormatUptime 以中文单位展示运行时长
func FormatUptime(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	totalMinutes := int(d.Minutes())
	if totalMinutes <= 0 {
		return "1分"
	}
	days := totalMinutes / (60 * 24)
	hours := (totalMinutes / 60) % 24
	mins := totalMinutes % 60
	if days > 0 {
		return fmt.Sprintf("%d天 %d小时 %d分", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%d小时 %d分", hours, mins)
	}
	return fmt.Sprintf("%d分", mins)
}

// UsageTone 返回占用率对应的展示级别
func UsageTone(pct float64) string {
	switch {
	case pct >= 85:
		return "critical"
	case pct >= 70:
		return "warn"
	default:
		return "normal"
	}
}

// FormatAddr 拼接地址与端口，IPv6 地址加方括号
func FormatAddr(ip string, port uint32) string {
	addr := strings.TrimSpace(ip)
	if addr == "" {
		addr = "*"
	}
	if port == 0 {
		return addr
	}
	if strings.Contains(addr, ":") {
		return fmt.Sprintf("[%s]:%d", addr, port)
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

func clampPct(value float64) float64 {
	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
