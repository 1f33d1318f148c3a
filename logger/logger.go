package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	globalLogger *slog.Logger
	mu           sync.RWMutex
	files        []*os.File
)

type Config struct {
	Level   string   `json:"level" yaml:"level" mapstructure:"level"`       // debug/info/warn/error
	Format  string   `json:"format" yaml:"format" mapstructure:"format"`    // text/json
	Outputs []string `json:"outputs" yaml:"outputs" mapstructure:"outputs"` // stdout/stderr/file path
}

// ParseLevel 把配置中的级别名转换为 slog.Level，未知值按 info 处理
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New 按配置构造 logger，不修改全局状态
func New(cfg Config) (*slog.Logger, []*os.File, error) {
	var (
		writers []io.Writer
		opened  []*os.File
	)
	for _, output := range cfg.Outputs {
		switch output {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			// 确保目录存在
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				closeAll(opened)
				return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
			}
			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				closeAll(opened)
				return nil, nil, fmt.Errorf("failed to open log file: %w", err)
			}
			opened = append(opened, file)
			writers = append(writers, file)
		}
	}

	// 如果没有指定输出，默认使用stdout
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	w := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		closeAll(opened)
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), opened, nil
}

// Init 初始化全局 logger，可重复调用以应用新配置
func Init(cfg Config) error {
	l, opened, err := New(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	old := files
	globalLogger = l
	files = opened
	mu.Unlock()

	closeAll(old)
	return nil
}

// Close 关闭日志文件，全局 logger 回退到 slog.Default
func Close() {
	mu.Lock()
	old := files
	globalLogger = nil
	files = nil
	mu.Unlock()
	closeAll(old)
}

func closeAll(fs []*os.File) {
	for _, f := range fs {
		_ = f.Close()
	}
}

func Debug(msg string, args ...interface{}) {
	Logger().Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	Logger().Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	Logger().Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	Logger().Error(msg, args...)
}

// Logger 返回全局 logger，未初始化时返回 slog.Default
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}
