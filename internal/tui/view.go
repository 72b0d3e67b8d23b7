package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"res-watch/internal/sysinfo"
)

const (
	minTableRows = 5
	defaultWidth = 100
)

// View renders the whole screen.
func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = defaultWidth
	}
	var s strings.Builder
	s.WriteString(m.renderHeader() + "\n")
	s.WriteString(panelStyle.Width(width-4).Render(m.renderHostPanel()) + "\n")
	if m.tab == tabConnections {
		s.WriteString(m.renderConnections(width))
	} else {
		s.WriteString(m.renderProcesses(width))
	}
	if m.message != "" {
		s.WriteString("\n" + m.message + "\n")
	}
	help := "[↑/↓] 选择  [Tab] 进程/连接  [k] 结束  [K] 强制结束  [q] 退出"
	s.WriteString(helpStyle.Render(help))
	return s.String()
}

func (m Model) renderHeader() string {
	name := m.info.Hostname
	if name == "" {
		name = "--"
	}
	title := titleStyle.Render("res-watch · " + name)
	details := []string{}
	if m.info.OS != "" {
		details = append(details, m.info.OS)
	}
	if m.info.CPULabel != "" {
		details = append(details, m.info.CPULabel)
	}
	if !m.info.BootTime.IsZero() {
		details = append(details, "运行 "+sysinfo.FormatUptime(time.Since(m.info.BootTime)))
	}
	if len(details) == 0 {
		return title
	}
	return title + "  " + labelStyle.Render(strings.Join(details, " | "))
}

func (m Model) renderHostPanel() string {
	if !m.hasHost {
		return "等待主机指标..."
	}
	h := m.host.Metrics
	lines := []string{
		lipgloss.JoinHorizontal(lipgloss.Top,
			gauge("CPU", h.CPUPercent), "   ",
			gauge("内存", h.MemoryPercent),
			labelStyle.Render(fmt.Sprintf(" %s/%s", sysinfo.FormatBytes(float64(h.MemoryUsedBytes)), sysinfo.FormatBytes(float64(h.MemoryTotalBytes)))), "   ",
			gauge("磁盘 "+h.DiskPath, h.DiskPercent),
		),
		fmt.Sprintf("%s %s  %s %s  %s %.2f %.2f %.2f",
			labelStyle.Render("下载"), sysinfo.FormatRate(h.NetDownloadBytesPerSec),
			labelStyle.Render("上传"), sysinfo.FormatRate(h.NetUploadBytesPerSec),
			labelStyle.Render("负载"), h.Load1, h.Load5, h.Load15),
	}
	if n := len(m.host.Failures); n > 0 {
		lines = append(lines, errorStyle.Render(fmt.Sprintf("本周期 %d 项读数失败，显示上次的值", n)))
	}
	return strings.Join(lines, "\n")
}

func gauge(label string, pct float64) string {
	return labelStyle.Render(label+" ") + toneStyle(sysinfo.UsageTone(pct)).Render(fmt.Sprintf("%5.1f%%", pct))
}

func (m Model) visibleRows() int {
	rows := m.height - 14
	if rows < minTableRows {
		rows = minTableRows
	}
	return rows
}

// window 返回保证光标可见的行区间
func (m Model) window(total int) (int, int) {
	rows := m.visibleRows()
	start := 0
	if m.cursor >= rows {
		start = m.cursor - rows + 1
	}
	end := start + rows
	if end > total {
		end = total
	}
	return start, end
}

func (m Model) renderProcesses(width int) string {
	var s strings.Builder
	p := m.processes
	s.WriteString(titleStyle.Render(fmt.Sprintf("进程 (%d)", len(p.Processes))) + "\n")

	nameWidth := 24
	pathWidth := width - nameWidth - 8 - 8 - 12 - 8
	if pathWidth < 10 {
		pathWidth = 10
	}
	header := fmt.Sprintf("%-8s %-*s %7s %11s  %-*s", "PID", nameWidth, "NAME", "CPU%", "MEM", pathWidth, "PATH")
	s.WriteString(headerStyle.Render(header) + "\n")
	if len(p.Processes) == 0 {
		s.WriteString("\n暂无进程数据\n")
		return s.String()
	}
	start, end := m.window(len(p.Processes))
	for i := start; i < end; i++ {
		e := p.Processes[i]
		line := fmt.Sprintf("%-8d %-*s %7.2f %11s  %-*s",
			e.PID,
			nameWidth, truncate(e.Name, nameWidth),
			e.CPUPercent,
			sysinfo.FormatBytes(float64(e.MemoryBytes)),
			pathWidth, truncate(e.ExecutablePath, pathWidth))
		s.WriteString(renderRow(line, i == m.cursor) + "\n")
	}
	return s.String()
}

func (m Model) renderConnections(width int) string {
	var s strings.Builder
	c := m.connections
	s.WriteString(titleStyle.Render(fmt.Sprintf("连接 (%d)", len(c.Connections))) + "\n")

	addrWidth := (width - 6 - 8 - 24 - 6) / 2
	if addrWidth < 16 {
		addrWidth = 16
	}
	header := fmt.Sprintf("%-6s %-*s %-*s %-8s %s", "PROTO", addrWidth, "LOCAL", addrWidth, "REMOTE", "PID", "PROCESS")
	s.WriteString(headerStyle.Render(header) + "\n")
	if len(c.Connections) == 0 {
		s.WriteString("\n暂无已建立的连接\n")
		return s.String()
	}
	start, end := m.window(len(c.Connections))
	for i := start; i < end; i++ {
		e := c.Connections[i]
		pid := "-"
		if e.PID > 0 {
			pid = fmt.Sprintf("%d", e.PID)
		}
		line := fmt.Sprintf("%-6s %-*s %-*s %-8s %s",
			e.Protocol,
			addrWidth, truncate(sysinfo.FormatAddr(e.LocalAddress, e.LocalPort), addrWidth),
			addrWidth, truncate(sysinfo.FormatAddr(e.RemoteAddress, e.RemotePort), addrWidth),
			pid,
			truncate(e.ProcessName, 24))
		s.WriteString(renderRow(line, i == m.cursor) + "\n")
	}
	return s.String()
}

func renderRow(line string, selected bool) string {
	if selected {
		return selectedStyle.Render("> " + line)
	}
	return "  " + line
}

// truncate shortens a string to a maximum length
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
