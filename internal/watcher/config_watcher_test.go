// 本文件用于配置监控相关测试
package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"res-watch/internal/models"
)

func TestIsTempFile(t *testing.T) {
	cases := []struct {
		name     string
		filePath string
		want     bool
	}{
		{name: "tmp", filePath: "/tmp/a.tmp", want: true},
		{name: "part", filePath: "a.part", want: true},
		{name: "swp", filePath: ".config.yaml.swp", want: true},
		{name: "backup", filePath: "config.yaml~", want: true},
		{name: "uppercase", filePath: "A.TMP", want: true},
		{name: "yaml", filePath: "/etc/res-watch/config.yaml", want: false},
		{name: "similar", filePath: "a.tmpx", want: false},
		{name: "empty", filePath: "", want: false},
		{name: "root", filePath: "/", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := isTempFile(tc.filePath)
			if got != tc.want {
				t.Fatalf("isTempFile(%q) = %v, want %v", tc.filePath, got, tc.want)
			}
		})
	}
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fn()
}

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("host_interval: \"1s\"\n"), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	var calls atomic.Int32
	var lastHost atomic.Value
	cw, err := NewConfigWatcher(path, func(cfg *models.Config) error {
		calls.Add(1)
		lastHost.Store(cfg.HostInterval)
		return nil
	})
	if err != nil {
		t.Fatalf("创建监控器失败: %v", err)
	}
	cw.SetSettleDuration(50 * time.Millisecond)
	if err := cw.Start(); err != nil {
		t.Fatalf("启动监控失败: %v", err)
	}
	defer cw.Close()

	// 连续多次写入只触发一次加载
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("host_interval: \"500ms\"\n"), 0o644); err != nil {
			t.Fatalf("写入配置失败: %v", err)
		}
	}
	if !waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 1 }) {
		t.Fatalf("配置变化后未触发热加载")
	}
	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("热加载次数不匹配: got=%d", got)
	}
	if got, _ := lastHost.Load().(string); got != "500ms" {
		t.Fatalf("加载的配置不匹配: %q", got)
	}
}

func TestConfigWatcherIgnoresOtherFilesAndBadYaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	var calls atomic.Int32
	cw, err := NewConfigWatcher(path, func(cfg *models.Config) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("创建监控器失败: %v", err)
	}
	cw.SetSettleDuration(30 * time.Millisecond)
	if err := cw.Start(); err != nil {
		t.Fatalf("启动监控失败: %v", err)
	}
	defer cw.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}
	if err := os.WriteFile(path, []byte("log_level: [broken\n"), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("无关文件或无效配置不应触发回调: got=%d", got)
	}
}

func TestConfigWatcherCloseStopsPendingReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	var calls atomic.Int32
	cw, err := NewConfigWatcher(path, func(cfg *models.Config) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("创建监控器失败: %v", err)
	}
	cw.SetSettleDuration(time.Hour)
	if err := cw.Start(); err != nil {
		t.Fatalf("启动监控失败: %v", err)
	}
	cw.scheduleReload()
	if err := cw.Close(); err != nil {
		t.Fatalf("关闭监控失败: %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("重复关闭应无错误: %v", err)
	}
	cw.scheduleReload()
	if calls.Load() != 0 {
		t.Fatalf("关闭后不应触发回调")
	}
}

func TestNewConfigWatcherValidation(t *testing.T) {
	if _, err := NewConfigWatcher("", func(*models.Config) error { return nil }); err == nil {
		t.Fatalf("空路径应报错")
	}
	if _, err := NewConfigWatcher("config.yaml", nil); err == nil {
		t.Fatalf("空回调应报错")
	}
}

func TestConfigWatcherCloseWaitsForInflightReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	cw, err := NewConfigWatcher(path, func(cfg *models.Config) error {
		close(entered)
		<-release
		finished.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("创建监控器失败: %v", err)
	}
	cw.SetSettleDuration(10 * time.Millisecond)
	if err := cw.Start(); err != nil {
		t.Fatalf("启动监控失败: %v", err)
	}
	cw.scheduleReload()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("热加载回调未触发")
	}

	closed := make(chan struct{})
	go func() {
		cw.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatalf("回调进行中时 Close 不应返回")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("回调结束后 Close 应返回")
	}
	if !finished.Load() {
		t.Fatalf("Close 返回时回调应已结束")
	}
}
