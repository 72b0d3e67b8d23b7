// 本文件用于定义配置与跨包共享的模型
package models

// Config 配置结构体
// 时间类配置使用 Go duration 字符串（如 "1s"、"500ms"），由 config 包解析
type Config struct {
	LogLevel           string `yaml:"log_level"`
	LogFile            string `yaml:"log_file"`
	LogToStd           *bool  `yaml:"log_to_std"`
	HostInterval       string `yaml:"host_interval"`       // 主机指标采样间隔
	ProcessInterval    string `yaml:"process_interval"`    // 进程表采样间隔
	ConnectionInterval string `yaml:"connection_interval"` // 连接列表采样间隔
	CallTimeout        string `yaml:"call_timeout"`        // 单次系统调用上限
	ProcessLimit       int    `yaml:"process_limit"`       // 发布的进程数上限，0 表示不限制
	DiskPath           string `yaml:"disk_path"`
	APIBind            string `yaml:"api_bind"` // API 服务监听地址，只允许回环
	AuditDB            string `yaml:"audit_db"` // 结束进程审计库，空表示仅内存
	WatchConfig        bool   `yaml:"watch_config"`
}

// TerminateRequest 表示结束进程请求
type TerminateRequest struct {
	PID   int32  `json:"pid"`
	Force bool   `json:"force"`
	Actor string `json:"actor,omitempty"`
}
