package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string // debug, info, warn, error
	OutputPath string // stdout, stderr, or file path
	Format     string // json or console
}

// NewLogger builds the service logger. Unknown levels fall back to info;
// file outputs get their directory created.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	zcfg.Sampling = nil
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format != "json" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	out := cfg.OutputPath
	if out == "" {
		out = "stdout"
	}
	if out != "stdout" && out != "stderr" {
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	zcfg.OutputPaths = []string{out}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	return zcfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

// KVLogger adapts zap to the key/value Logger interfaces of the application
// packages
type KVLogger struct {
	sugar *zap.SugaredLogger
}

// NewKVLogger wraps logger, tagging every entry with the component name
func NewKVLogger(logger *zap.Logger, component string) *KVLogger {
	if component != "" {
		logger = logger.Named(component).With(zap.String("component", component))
	}
	return &KVLogger{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *KVLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *KVLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}
