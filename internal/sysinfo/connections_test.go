package sysinfo

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestConnectionCollectorFiltersEstablished(t *testing.T) {
	src := &fakeConnectionSource{
		conns: []RawConnection{
			{Family: syscall.AF_INET, Type: syscall.SOCK_STREAM, LocalIP: "10.0.0.2", LocalPort: 51000, RemoteIP: "1.1.1.1", RemotePort: 443, Status: "ESTABLISHED", PID: 300},
			{Family: syscall.AF_INET, Type: syscall.SOCK_STREAM, LocalIP: "0.0.0.0", LocalPort: 22, Status: "LISTEN", PID: 1},
			{Family: syscall.AF_INET6, Type: syscall.SOCK_STREAM, LocalIP: "::1", LocalPort: 8080, RemoteIP: "::1", RemotePort: 52000, Status: "established", PID: 300},
			{Family: syscall.AF_INET, Type: syscall.SOCK_STREAM, LocalIP: "10.0.0.2", LocalPort: 51001, RemoteIP: "8.8.8.8", RemotePort: 53, Status: "TIME_WAIT"},
			{Family: syscall.AF_INET, Type: syscall.SOCK_STREAM, LocalIP: "10.0.0.2", LocalPort: 40000, RemoteIP: "9.9.9.9", RemotePort: 80, Status: "ESTABLISHED", PID: 0},
		},
		names: map[int32]string{300: "browser"},
	}
	c := NewConnectionCollector(src, ConnectionOptions{CallTimeout: time.Second})
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	entries, report := c.Sample(context.Background())
	if !report.OK() {
		t.Fatalf("不应有失败: %v", report.Failures)
	}
	if len(entries) != 3 {
		t.Fatalf("只应保留已建立的连接: %+v", entries)
	}
	// tcp 排在 tcp6 之前，同协议按本地地址与端口排序
	if entries[0].LocalPort != 40000 || entries[1].LocalPort != 51000 || entries[2].Protocol != "tcp6" {
		t.Fatalf("排序不匹配: %+v", entries)
	}
	if entries[0].ProcessName != UnknownOwner {
		t.Fatalf("无 pid 的连接应标记为 unknown: %+v", entries[0])
	}
	if entries[1].ProcessName != "browser" || entries[2].State != "ESTABLISHED" {
		t.Fatalf("连接字段不匹配: %+v", entries)
	}
	if src.nameCalls[300] != 1 {
		t.Fatalf("同一周期内同一 pid 只应解析一次: calls=%d", src.nameCalls[300])
	}
}

func TestConnectionCollectorOwnerFailure(t *testing.T) {
	src := &fakeConnectionSource{
		conns: []RawConnection{
			{Family: syscall.AF_INET, Type: syscall.SOCK_STREAM, LocalIP: "10.0.0.2", LocalPort: 5000, RemoteIP: "1.1.1.1", RemotePort: 443, Status: "ESTABLISHED", PID: 77},
		},
		nameErrs: map[int32]error{77: errors.New("access is denied")},
	}
	c := NewConnectionCollector(src, ConnectionOptions{})
	entries, report := c.Sample(context.Background())
	if len(entries) != 1 || entries[0].ProcessName != UnknownOwner {
		t.Fatalf("无法解析的进程名应为 unknown: %+v", entries)
	}
	if report.Count(FailurePermission) != 1 {
		t.Fatalf("期望记录权限失败: %v", report.Failures)
	}
}

func TestConnectionCollectorEnumerationFailure(t *testing.T) {
	src := &fakeConnectionSource{
		conns: []RawConnection{
			{Family: syscall.AF_INET, Type: syscall.SOCK_DGRAM, LocalIP: "10.0.0.2", LocalPort: 5353, RemoteIP: "224.0.0.251", RemotePort: 5353, Status: "ESTABLISHED"},
		},
	}
	c := NewConnectionCollector(src, ConnectionOptions{})
	first, _ := c.Sample(context.Background())
	if len(first) != 1 || first[0].Protocol != "udp" {
		t.Fatalf("协议解析不匹配: %+v", first)
	}

	src.mu.Lock()
	src.err = errors.New("table unavailable")
	src.mu.Unlock()
	entries, report := c.Sample(context.Background())
	if !report.Failed(MetricConnections) {
		t.Fatalf("期望记录枚举失败: %v", report.Failures)
	}
	if len(entries) != 1 {
		t.Fatalf("应返回上一次的连接列表: %+v", entries)
	}
	c.Reset()
	entries, _ = c.Sample(context.Background())
	if len(entries) != 0 {
		t.Fatalf("Reset 后不应返回旧列表: %+v", entries)
	}
}

func TestProtocolName(t *testing.T) {
	cases := []struct {
		family, sockType uint32
		want             string
	}{
		{syscall.AF_INET, syscall.SOCK_STREAM, "tcp"},
		{syscall.AF_INET6, syscall.SOCK_STREAM, "tcp6"},
		{syscall.AF_INET, syscall.SOCK_DGRAM, "udp"},
		{syscall.AF_INET6, syscall.SOCK_DGRAM, "udp6"},
	}
	for _, tc := range cases {
		if got := protocolName(tc.family, tc.sockType); got != tc.want {
			t.Fatalf("协议名不匹配: family=%d type=%d got=%s want=%s", tc.family, tc.sockType, got, tc.want)
		}
	}
}

func TestConnectionCollectorInitUnsupportedPlatform(t *testing.T) {
	src := &fakeConnectionSource{err: errors.New("not implemented yet")}
	c := NewConnectionCollector(src, ConnectionOptions{CallTimeout: time.Second})
	err := c.Init(context.Background())
	if err == nil {
		t.Fatalf("平台不支持连接枚举时初始化应失败")
	}
}

func TestConnectionCollectorInitToleratesTransientFailure(t *testing.T) {
	src := &fakeConnectionSource{err: errors.New("table unavailable")}
	c := NewConnectionCollector(src, ConnectionOptions{CallTimeout: time.Second})
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("临时失败不应阻止初始化: %v", err)
	}
	_, report := c.Sample(context.Background())
	if !report.Failed(MetricConnections) {
		t.Fatalf("采样时应记录连接枚举失败: %v", report.Failures)
	}
}
