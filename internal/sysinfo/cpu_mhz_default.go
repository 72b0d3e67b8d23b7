//go:build !darwin

package sysinfo

// detectCPUMHz 在其他平台交给 cpu.Info 与型号字符串推断
func detectCPUMHz() float64 {
	return 0
}
