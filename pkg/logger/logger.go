// 文件: pkg/logger/logger.go
// 服务日志
//
// 计算核心 (shares / rate / pool / risk / concentration) 不打日志，
// 只有外围服务 (monitor / nats / kafka / store / cmd) 通过这里输出结构化日志。

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields 日志字段
type Fields = logrus.Fields

// Options 日志配置
type Options struct {
	Level  string `yaml:"level"`  // debug / info / warn / error
	Format string `yaml:"format"` // json / text
	Output string `yaml:"output"` // stdout / stderr / 文件路径

	// 文件输出时的滚动策略 (lumberjack)
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxAgeDays int  `yaml:"max_age_days"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

var (
	global   *logrus.Logger
	globalMu sync.RWMutex
)

func init() {
	global = New()
}

// New 创建默认 logger: JSON 格式，输出到 stdout，级别取 LOG_LEVEL (默认 info)
func New() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(jsonFormatter())
	l.SetLevel(levelFromEnv(logrus.InfoLevel))
	return l
}

// Configure 按配置创建 logger，LOG_LEVEL 环境变量优先
func Configure(opts Options) (*logrus.Logger, error) {
	level := opts.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s'", level)
	}

	l := logrus.New()
	l.SetLevel(lvl)
	l.SetReportCaller(true)

	switch opts.Format {
	case "json", "":
		l.SetFormatter(jsonFormatter())
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		return nil, fmt.Errorf("invalid log format '%s'", opts.Format)
	}

	out, err := output(opts)
	if err != nil {
		return nil, err
	}
	l.SetOutput(out)
	return l, nil
}

// SetGlobal 替换全局 logger
func SetGlobal(l *logrus.Logger) {
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// L 全局 logger
func L() *logrus.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// WithComponent 带 component 字段的日志入口
func WithComponent(component string) *logrus.Entry {
	return L().WithField("component", component)
}

func output(opts Options) (io.Writer, error) {
	switch opts.Output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.Output), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   opts.Output,
		MaxSize:    maxSize,
		MaxAge:     opts.MaxAgeDays,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
	}, nil
}

func levelFromEnv(def logrus.Level) logrus.Level {
	if lvl, err := logrus.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil {
		return lvl
	}
	return def
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	}
}

func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}
