package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/lisuiheng/duplexvoice/core"
	"github.com/lisuiheng/duplexvoice/logger"
	"github.com/lisuiheng/duplexvoice/metrics"
	"github.com/lisuiheng/duplexvoice/monitor"
	"github.com/lisuiheng/duplexvoice/utils"
)

func main() {
	configPath := flag.String("c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/duplexvoice/config.yaml)")
	debug := flag.Bool("debug", false, "Enable debug logging to stdout")
	flag.Parse()

	// 加载配置
	v := viper.New()
	cfg, err := loadConfig(v, *configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := initLogger(cfg, *debug); err != nil {
		logger.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logger.Close()
	if used := v.ConfigFileUsed(); used != "" {
		logger.Info("Loaded config", "path", used)
	}

	if err := run(cfg); err != nil {
		logger.Error("Service runtime error", "error", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Info("Service shutdown completed")
}

func run(cfg core.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		m   *metrics.Metrics
		reg = prometheus.NewRegistry()
	)
	if cfg.Metrics.Listen != "" {
		m = metrics.New(cfg.Metrics.Namespace, reg)
	}

	// 创建应用客户端
	client, err := core.NewClient(cfg, logger.Logger(), core.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("Failed to close client", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting duplexvoice client", "client_id", cfg.System.ClientID)
		var strategy utils.ReconnectStrategy
		if rc := cfg.System.Reconnect; rc.Enabled {
			strategy = utils.NewExponentialBackoff(rc.InitialDelay, rc.MaxDelay)
		}
		err := client.Serve(gctx, strategy)
		if errors.Is(err, core.ErrConnectionLost) {
			// 未启用重连：会话结束后让监控服务一起退出
			logger.Info("Session ended by server")
			return errSessionEnded
		}
		return err
	})

	if cfg.Metrics.Listen != "" {
		srv := monitor.New(client, m.Handler(), logger.Logger())
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.Metrics.Listen)
		})
	}

	err = g.Wait()
	if errors.Is(err, errSessionEnded) {
		return nil
	}
	return err
}

var errSessionEnded = errors.New("session ended")

// loadConfig 加载配置文件；未指定路径且找不到文件时只使用默认值和环境变量
func loadConfig(v *viper.Viper, configPath string) (core.Config, error) {
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("DUPLEXVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		// 使用命令行指定的路径
		v.SetConfigFile(configPath)
	} else {
		// 默认多路径搜索
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/duplexvoice")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return core.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg core.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return core.Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("system.network.transport", "websocket")
	v.SetDefault("system.network.websocket.url", "")
	v.SetDefault("system.network.websocket.access_token", "")
	v.SetDefault("system.network.websocket.handshake_timeout", 10*time.Second)
	v.SetDefault("system.network.websocket.write_timeout", 5*time.Second)
	v.SetDefault("system.network.websocket.ping_interval", 20*time.Second)
	v.SetDefault("system.network.websocket.send_queue", 32)

	v.SetDefault("system.reconnect.enabled", true)
	v.SetDefault("system.reconnect.initial_delay", time.Second)
	v.SetDefault("system.reconnect.max_delay", 30*time.Second)

	v.SetDefault("audio.input.sample_rate", 16000)
	v.SetDefault("audio.input.block_size", 320)
	v.SetDefault("audio.input.encoding", "float32")
	v.SetDefault("audio.input.echo_cancellation", true)
	v.SetDefault("audio.input.noise_suppression", true)

	v.SetDefault("audio.output.sample_rate", 22050)
	v.SetDefault("audio.output.encoding", "pcm16")
	v.SetDefault("audio.output.buffer_size", 512)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputs", []string{"stdout"})

	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.namespace", "duplexvoice")
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config, debug bool) error {
	logCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
	}

	// 调试模式覆盖配置
	if debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}

	if err := logger.Init(logCfg); err != nil {
		return err
	}
	if debug {
		logger.Debug("Debug mode enabled")
	}
	return nil
}
