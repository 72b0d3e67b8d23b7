package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"res-watch/internal/models"
)

var (
	mu           sync.RWMutex
	activeLogger *log.Logger
	logLevel     = "info"
	logCloser    io.Closer
)

var levelRank = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

// InitLogger 初始化日志系统。
func InitLogger(config *models.Config) error {
	toStd := true
	if config.LogToStd != nil {
		toStd = *config.LogToStd
	}
	logOutput, closer, err := buildLogWriter(config.LogFile, toStd)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if logCloser != nil {
		_ = logCloser.Close()
	}
	activeLogger = log.New(logOutput, "", log.LstdFlags|log.Lshortfile)
	logCloser = closer
	logLevel = normalizeLevel(config.LogLevel)
	return nil
}

func buildLogWriter(logFile string, toStd bool) (io.Writer, io.Closer, error) {
	if logFile == "" {
		return os.Stdout, nil, nil
	}

	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("创建日志目录失败: %w", err)
	}

	logOutput, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	if !toStd {
		return logOutput, logOutput, nil
	}
	return io.MultiWriter(os.Stdout, logOutput), logOutput, nil
}

// SetOutput 替换日志输出，终端界面运行时用于避免日志打乱画面。
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	activeLogger = log.New(w, "", log.LstdFlags|log.Lshortfile)
}

// Close 关闭日志文件。
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logCloser == nil {
		return nil
	}
	err := logCloser.Close()
	logCloser = nil
	activeLogger = nil
	return err
}

// Info 记录信息日志。
func Info(format string, v ...interface{}) {
	logWithLevel("info", format, v...)
}

// Error 记录错误日志。
func Error(format string, v ...interface{}) {
	logWithLevel("error", format, v...)
}

// Warn 记录警告日志。
func Warn(format string, v ...interface{}) {
	logWithLevel("warn", format, v...)
}

// Debug 记录调试日志。
func Debug(format string, v ...interface{}) {
	logWithLevel("debug", format, v...)
}

// SetLogLevel 设置日志级别。
func SetLogLevel(level string) {
	mu.Lock()
	logLevel = normalizeLevel(level)
	mu.Unlock()
}

// GetLogLevel 返回当前日志级别。
func GetLogLevel() string {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel
}

// GetLogger 获取 logger 实例。
func GetLogger() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return activeLogger
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if _, ok := levelRank[level]; !ok {
		return "info"
	}
	return level
}

func logWithLevel(level, format string, v ...interface{}) {
	mu.RLock()
	current := logLevel
	out := activeLogger
	mu.RUnlock()
	if levelRank[level] < levelRank[current] {
		return
	}
	prefix := "[" + strings.ToUpper(level) + "] "
	if out != nil {
		_ = out.Output(3, fmt.Sprintf(prefix+format, v...))
		return
	}
	_ = log.Output(3, fmt.Sprintf(prefix+format, v...))
}
