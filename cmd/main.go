// 本文件用于程序启动入口
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"res-watch/internal/api"
	"res-watch/internal/audit"
	"res-watch/internal/config"
	"res-watch/internal/logger"
	"res-watch/internal/metrics"
	"res-watch/internal/models"
	"res-watch/internal/service"
	"res-watch/internal/tui"
	"res-watch/internal/watcher"
)

type options struct {
	configPath string
	headless   bool
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("程序退出: %v", err)
	}
}

func run() error {
	opts := parseFlags()
	log.Printf("程序启动，配置文件: %s", opts.configPath)

	cfg, err := loadAndValidateConfig(opts.configPath)
	if err != nil {
		return err
	}
	if !opts.headless {
		// 终端界面独占标准输出
		toStd := false
		cfg.LogToStd = &toStd
	}
	if err := logger.InitLogger(cfg); err != nil {
		return err
	}
	defer logger.Close()
	if !opts.headless && strings.TrimSpace(cfg.LogFile) == "" {
		logger.SetOutput(io.Discard)
	}

	logConfig(cfg, opts)

	auditStore := openAudit(cfg)
	monitor, err := service.NewMonitorService(cfg, service.Options{
		Sources: service.SystemSources(),
		Audit:   auditStore,
		Metrics: metrics.Global(),
	})
	if err != nil {
		_ = auditStore.Close()
		logger.Error("创建监控服务失败: %v", err)
		return err
	}
	defer func() {
		if err := monitor.Close(); err != nil {
			logger.Warn("关闭监控服务失败: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := monitor.Start(ctx); err != nil {
		logger.Error("启动监控服务失败: %v", err)
		return err
	}

	var apiServer *api.Server
	if strings.TrimSpace(cfg.APIBind) != "" {
		apiServer = api.NewServer(cfg.APIBind, monitor, metrics.Global())
		if err := apiServer.Start(); err != nil {
			logger.Error("启动 API 服务失败: %v", err)
			return err
		}
		defer shutdownAPI(apiServer)
	}

	if cfg.WatchConfig {
		cw, err := watcher.NewConfigWatcher(opts.configPath, monitor.ApplyConfig)
		if err != nil {
			logger.Warn("创建配置监控失败，热加载不可用: %v", err)
		} else if err := cw.Start(); err != nil {
			logger.Warn("启动配置监控失败，热加载不可用: %v", err)
			_ = cw.Close()
		} else {
			defer cw.Close()
		}
	}

	if opts.headless {
		<-ctx.Done()
		logger.Info("收到退出信号，正在关闭服务...")
	} else {
		intervals, _ := config.ParseIntervals(cfg)
		if err := tui.Run(ctx, monitor.Store(), monitor, intervals.Host); err != nil {
			logger.Error("终端界面异常退出: %v", err)
			return err
		}
	}
	logger.Info("程序已退出")
	return nil
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", "config.yaml", "配置文件路径")
	flag.BoolVar(&opts.headless, "headless", false, "不启动终端界面，仅运行采集与 API")
	flag.Parse()
	return opts
}

func loadAndValidateConfig(configPath string) (*models.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openAudit 打开审计库，失败时退回内存存储，不影响采集
func openAudit(cfg *models.Config) audit.Store {
	store, err := audit.Open(cfg.AuditDB)
	if err != nil {
		logger.Warn("打开审计库失败，改用内存存储: %v", err)
		return audit.NewMemoryStore(0)
	}
	return store
}

func logConfig(cfg *models.Config, opts options) {
	intervals, _ := config.ParseIntervals(cfg)
	logger.Info("配置加载成功")
	logger.Info("采样间隔: host=%s process=%s connection=%s", intervals.Host, intervals.Process, intervals.Connection)
	logger.Info("单次调用上限: %s", intervals.CallTimeout)
	if cfg.ProcessLimit > 0 {
		logger.Info("进程表上限: %d", cfg.ProcessLimit)
	}
	if cfg.DiskPath != "" {
		logger.Info("系统卷: %s", cfg.DiskPath)
	}
	if cfg.APIBind != "" {
		logger.Info("API 监听: %s", cfg.APIBind)
	}
	if cfg.AuditDB != "" {
		logger.Info("审计库: %s", cfg.AuditDB)
	}
	logger.Info("日志级别: %s", cfg.LogLevel)
	if cfg.LogFile != "" {
		logger.Info("日志文件: %s", cfg.LogFile)
	}
	logger.Info("配置热加载: %v", cfg.WatchConfig)
	logger.Info("终端界面: %v", !opts.headless)
}

func shutdownAPI(apiServer *api.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Warn("关闭 API 服务失败: %v", err)
	}
}
