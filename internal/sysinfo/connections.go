// 本文件用于已建立网络连接的采集与所属进程解析
package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"syscall"
	"time"

	"res-watch/internal/logger"
)

const (
	connectionCollectorName = "connection"

	// MetricConnections 表示连接枚举本身失败
	MetricConnections = "connections"
	metricOwner       = "owner"

	stateEstablished = "ESTABLISHED"
)

// ConnectionOptions 用于配置连接采集器
type ConnectionOptions struct {
	CallTimeout time.Duration
}

// ConnectionCollector 负责连接列表采样
type ConnectionCollector struct {
	source      ConnectionSource
	callTimeout boundedTimeout
	last        []ConnectionEntry
}

// NewConnectionCollector 创建连接采集器
func NewConnectionCollector(source ConnectionSource, opts ConnectionOptions) *ConnectionCollector {
	c := &ConnectionCollector{source: source}
	c.callTimeout.Store(opts.CallTimeout)
	return c
}

// SetCallTimeout 调整单次调用上限，下一次调用生效
func (c *ConnectionCollector) SetCallTimeout(d time.Duration) {
	c.callTimeout.Store(d)
}

// Name 返回采集器名称
func (c *ConnectionCollector) Name() string {
	return connectionCollectorName
}

// Init 探测一次连接枚举，平台不支持时返回错误
// 其余失败只记录日志，由采样周期重试
func (c *ConnectionCollector) Init(ctx context.Context) error {
	if c.source == nil {
		return errors.New("connection source is nil")
	}
	_, err := callBounded(ctx, c.callTimeout.Load(), c.source.Connections)
	if err == nil {
		return nil
	}
	if isUnsupportedErr(err) {
		return fmt.Errorf("connection enumeration unavailable: %w", err)
	}
	logger.Warn("连接枚举探测失败，将在采样时重试: %v", err)
	return nil
}

// Sample 读取连接并只保留 ESTABLISHED 状态
// 所属进程名按 pid 尽力解析，解析不到时填入 UnknownOwner
func (c *ConnectionCollector) Sample(ctx context.Context) ([]ConnectionEntry, Report) {
	report := newReport(connectionCollectorName)
	raw, err := callBounded(ctx, c.callTimeout.Load(), func(ctx context.Context) (ownedConnections, error) {
		return c.readOwned(ctx)
	})
	if err != nil {
		report.Add(MetricConnections, err)
		return c.last, report
	}
	if raw.ownerErrs > 0 {
		report.Add(metricOwner, raw.firstOwnerErr)
	}
	c.last = raw.entries
	return raw.entries, report
}

type ownedConnections struct {
	entries       []ConnectionEntry
	ownerErrs     int
	firstOwnerErr error
}

// readOwned 在有界调用内完成枚举与进程名解析，只返回新值
func (c *ConnectionCollector) readOwned(ctx context.Context) (ownedConnections, error) {
	conns, err := c.source.Connections(ctx)
	if err != nil {
		return ownedConnections{}, err
	}
	out := ownedConnections{entries: make([]ConnectionEntry, 0, len(conns))}
	names := make(map[int32]string)
	for _, conn := range conns {
		state := strings.ToUpper(strings.TrimSpace(conn.Status))
		if state != stateEstablished {
			continue
		}
		entry := ConnectionEntry{
			Protocol:      protocolName(conn.Family, conn.Type),
			LocalAddress:  conn.LocalIP,
			LocalPort:     conn.LocalPort,
			RemoteAddress: conn.RemoteIP,
			RemotePort:    conn.RemotePort,
			State:         state,
			PID:           conn.PID,
			ProcessName:   UnknownOwner,
		}
		if conn.PID > 0 {
			name, ok := names[conn.PID]
			if !ok {
				resolved, nameErr := c.source.ProcessName(ctx, conn.PID)
				if nameErr != nil {
					out.ownerErrs++
					if out.firstOwnerErr == nil {
						out.firstOwnerErr = nameErr
					}
				}
				name = strings.TrimSpace(resolved)
				names[conn.PID] = name
			}
			if name != "" {
				entry.ProcessName = name
			}
		}
		out.entries = append(out.entries, entry)
	}
	sortConnections(out.entries)
	return out, nil
}

// Reset 在停止监控时清空缓存
func (c *ConnectionCollector) Reset() {
	c.last = nil
}

// protocolName 根据地址族与套接字类型给出协议名
func protocolName(family, sockType uint32) string {
	proto := "tcp"
	if sockType == syscall.SOCK_DGRAM {
		proto = "udp"
	}
	if family == syscall.AF_INET6 {
		proto += "6"
	}
	return proto
}

func sortConnections(entries []ConnectionEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		if a.LocalAddress != b.LocalAddress {
			return a.LocalAddress < b.LocalAddress
		}
		if a.LocalPort != b.LocalPort {
			return a.LocalPort < b.LocalPort
		}
		if a.RemoteAddress != b.RemoteAddress {
			return a.RemoteAddress < b.RemoteAddress
		}
		return a.RemotePort < b.RemotePort
	})
}
