// 本文件用于监听配置文件变化并触发热加载
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"res-watch/internal/config"
	"res-watch/internal/logger"
	"res-watch/internal/models"
)

const (
	logThrottleDuration    = 5 * time.Second        // 日志节流时间间隔
	defaultSettleDuration  = 300 * time.Millisecond // 写入完成判定时间
	tempSuffixes           = ".tmp,.part,.swp,.swx,.swpx,.crdownload,.download"
	editorBackupSuffixChar = "~"
)

// ReloadFunc 接收重新解析后的配置
type ReloadFunc func(cfg *models.Config) error

// ConfigWatcher 配置文件监控器
// 监听配置所在目录而不是文件本身，编辑器的原子替换（写临时文件再改名）也能被捕获
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	dir      string
	settle   time.Duration
	onReload ReloadFunc

	stateMutex sync.Mutex
	lastLogged time.Time
	timer      *time.Timer
	closed     bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewConfigWatcher 创建配置文件监控器
func NewConfigWatcher(path string, onReload ReloadFunc) (*ConfigWatcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("配置文件路径不能为空")
	}
	if onReload == nil {
		return nil, errors.New("热加载回调不能为空")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ConfigWatcher{
		watcher:  w,
		path:     filepath.Clean(abs),
		dir:      filepath.Dir(abs),
		settle:   defaultSettleDuration,
		onReload: onReload,
		done:     make(chan struct{}),
	}, nil
}

// SetSettleDuration 调整写入完成判定时间，需在 Start 之前调用
func (cw *ConfigWatcher) SetSettleDuration(d time.Duration) {
	if d > 0 {
		cw.settle = d
	}
}

// Start 启动配置监控
func (cw *ConfigWatcher) Start() error {
	if err := cw.watcher.Add(cw.dir); err != nil {
		logger.Error("添加配置目录监控失败: %s, 错误: %v", cw.dir, err)
		return err
	}
	cw.wg.Add(1)
	go cw.handleEvents()
	logger.Info("开始监控配置文件: %s", cw.path)
	return nil
}

// Close 关闭监控器，等待进行中的热加载结束，返回后不会再触发回调
// 不能在 onReload 回调内调用
func (cw *ConfigWatcher) Close() error {
	cw.stateMutex.Lock()
	if cw.closed {
		cw.stateMutex.Unlock()
		return nil
	}
	cw.closed = true
	if cw.timer != nil && cw.timer.Stop() {
		cw.wg.Done()
	}
	cw.timer = nil
	cw.stateMutex.Unlock()

	close(cw.done)
	err := cw.watcher.Close()
	cw.wg.Wait()
	return err
}

// handleEvents 处理文件事件
func (cw *ConfigWatcher) handleEvents() {
	defer cw.wg.Done()
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handleEvent(event)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("配置监控错误: %v", err)
		}
	}
}

func (cw *ConfigWatcher) handleEvent(event fsnotify.Event) {
	logger.Debug("收到配置目录事件: %s, 操作: %s", event.Name, event.Op.String())
	if !cw.isTargetEvent(event) {
		return
	}
	if cw.shouldLogEvent() {
		logger.Info("检测到配置文件变化: %s, 操作: %s", event.Name, event.Op.String())
	}
	cw.scheduleReload()
}

func (cw *ConfigWatcher) isTargetEvent(event fsnotify.Event) bool {
	if isTempFile(event.Name) {
		return false
	}
	if filepath.Clean(event.Name) != cw.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// scheduleReload 每次事件重新计时，静默 settle 之后才重新加载
func (cw *ConfigWatcher) scheduleReload() {
	cw.stateMutex.Lock()
	defer cw.stateMutex.Unlock()
	if cw.closed {
		return
	}
	if cw.timer != nil && cw.timer.Stop() {
		cw.wg.Done()
	}
	// 回调计入 wg，Close 会等待进行中的热加载结束
	cw.wg.Add(1)
	cw.timer = time.AfterFunc(cw.settle, func() {
		defer cw.wg.Done()
		cw.reload()
	})
}

func (cw *ConfigWatcher) reload() {
	cw.stateMutex.Lock()
	if cw.closed {
		cw.stateMutex.Unlock()
		return
	}
	cw.timer = nil
	cw.stateMutex.Unlock()

	if _, err := os.Stat(cw.path); err != nil {
		// 改名过程中文件可能暂时不存在，等待下一次事件
		logger.Warn("配置文件暂不可读，跳过本次热加载: %v", err)
		return
	}
	cfg, err := config.LoadConfig(cw.path)
	if err != nil {
		logger.Error("重新解析配置失败，保持当前配置: %v", err)
		return
	}
	if err := cw.onReload(cfg); err != nil {
		logger.Error("应用新配置失败，保持当前配置: %v", err)
		return
	}
	logger.Info("配置文件已重新加载: %s", cw.path)
}

// shouldLogEvent 检查是否应该记录配置事件日志
func (cw *ConfigWatcher) shouldLogEvent() bool {
	cw.stateMutex.Lock()
	defer cw.stateMutex.Unlock()
	if time.Since(cw.lastLogged) > logThrottleDuration {
		cw.lastLogged = time.Now()
		return true
	}
	return false
}

func isTempFile(filePath string) bool {
	base := strings.ToLower(filepath.Base(filePath))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return false
	}
	if strings.HasSuffix(base, editorBackupSuffixChar) {
		return true
	}
	for _, suffix := range strings.Split(tempSuffixes, ",") {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}
