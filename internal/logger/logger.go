package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志配置
type Config struct {
	Service string
	// Debug 对应 server.debug
	Debug bool
	// Logging 对应 server.logging
	Logging bool
}

// Level 根据 debug/logging 开关推导日志级别，PKG_ENV=dev 时强制 debug
func (c Config) Level() zapcore.Level {
	if strings.EqualFold(os.Getenv("PKG_ENV"), "dev") {
		return zapcore.DebugLevel
	}
	switch {
	case c.Debug:
		return zapcore.DebugLevel
	case c.Logging:
		return zapcore.InfoLevel
	default:
		return zapcore.ErrorLevel
	}
}

// New 创建 zap 日志实例
func New(cfg Config) (*zap.Logger, error) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	encoding := "json"
	if cfg.Debug {
		encoding = "console"
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level()),
		Development:      cfg.Debug,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	log, err := zc.Build()
	if err != nil {
		return nil, err
	}
	if cfg.Service != "" {
		log = log.With(zap.String("service", cfg.Service))
	}
	return log, nil
}
