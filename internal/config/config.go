package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"res-watch/internal/models"
)

const (
	defaultHostInterval       = "1s"
	defaultProcessInterval    = "2s"
	defaultConnectionInterval = "3s"

	minInterval       = 100 * time.Millisecond
	maxDefaultTimeout = 2 * time.Second
)

// Intervals 表示解析后的采样节奏
type Intervals struct {
	Host        time.Duration
	Process     time.Duration
	Connection  time.Duration
	CallTimeout time.Duration
}

// DefaultConfig 返回全部取默认值的配置
func DefaultConfig() *models.Config {
	config := &models.Config{}
	applyDefaults(config)
	return config
}

// LoadConfig 加载配置文件，文件不存在时使用默认配置
func LoadConfig(configFile string) (*models.Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config models.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(config *models.Config) {
	if strings.TrimSpace(config.LogLevel) == "" {
		config.LogLevel = "info"
	}
	if strings.TrimSpace(config.HostInterval) == "" {
		config.HostInterval = defaultHostInterval
	}
	if strings.TrimSpace(config.ProcessInterval) == "" {
		config.ProcessInterval = defaultProcessInterval
	}
	if strings.TrimSpace(config.ConnectionInterval) == "" {
		config.ConnectionInterval = defaultConnectionInterval
	}
	if config.ProcessLimit < 0 {
		config.ProcessLimit = 0
	}
}

// ValidateConfig 验证配置
func ValidateConfig(config *models.Config) error {
	if config == nil {
		return fmt.Errorf("配置不能为空")
	}
	if _, err := ParseIntervals(config); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(config.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("日志级别无效: %s", config.LogLevel)
	}
	if config.ProcessLimit < 0 {
		return fmt.Errorf("进程数上限不能为负数")
	}
	if bind := strings.TrimSpace(config.APIBind); bind != "" {
		if err := validateLoopbackBind(bind); err != nil {
			return err
		}
	}
	return nil
}

// ParseIntervals 解析各采样间隔与调用上限
// call_timeout 未配置时取最短间隔的 80%，且不超过 2s
func ParseIntervals(config *models.Config) (Intervals, error) {
	var out Intervals
	var err error
	if out.Host, err = parseInterval("host_interval", config.HostInterval, defaultHostInterval); err != nil {
		return Intervals{}, err
	}
	if out.Process, err = parseInterval("process_interval", config.ProcessInterval, defaultProcessInterval); err != nil {
		return Intervals{}, err
	}
	if out.Connection, err = parseInterval("connection_interval", config.ConnectionInterval, defaultConnectionInterval); err != nil {
		return Intervals{}, err
	}

	raw := strings.TrimSpace(config.CallTimeout)
	if raw == "" {
		shortest := out.Host
		if out.Process < shortest {
			shortest = out.Process
		}
		if out.Connection < shortest {
			shortest = out.Connection
		}
		out.CallTimeout = shortest * 4 / 5
		if out.CallTimeout > maxDefaultTimeout {
			out.CallTimeout = maxDefaultTimeout
		}
		return out, nil
	}
	timeout, err := time.ParseDuration(raw)
	if err != nil {
		return Intervals{}, fmt.Errorf("call_timeout 格式无效: %s: %w", raw, err)
	}
	if timeout <= 0 {
		return Intervals{}, fmt.Errorf("call_timeout 必须大于 0: %s", raw)
	}
	out.CallTimeout = timeout
	return out, nil
}

func parseInterval(key, raw, fallback string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s 格式无效: %s: %w", key, raw, err)
	}
	if d < minInterval {
		return 0, fmt.Errorf("%s 不能小于 %s: %s", key, minInterval, raw)
	}
	return d, nil
}

// validateLoopbackBind 只允许监听回环地址，引擎不提供远程访问
func validateLoopbackBind(bind string) error {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return fmt.Errorf("api_bind 格式无效: %s: %w", bind, err)
	}
	if port == "" {
		return fmt.Errorf("api_bind 缺少端口: %s", bind)
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("api_bind 只允许回环地址: %s", bind)
	}
	return nil
}
