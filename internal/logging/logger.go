package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel string

const (
	Development LogLevel = "development" // debug and above, console encoding
	Production  LogLevel = "production"  // info and above, json encoding
)

// Logger is the logging surface used across the module.
type Logger interface {
	Debug(msg string, tags ...any)
	Info(msg string, tags ...any)
	Warn(msg string, tags ...any)
	Error(msg string, tags ...any)

	Debugf(template string, args ...any)
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)

	With(tags ...any) Logger
}

type ZapLogger struct {
	logger *zap.SugaredLogger
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger builds a console logger. level overrides the env default when non-empty.
func NewZapLogger(env LogLevel, level string) (Logger, error) {
	var cfg zap.Config
	switch env {
	case Production:
		cfg = zap.NewProductionConfig()
	case Development, "":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log env %q", env)
	}
	cfg.OutputPaths = []string{"stderr"}

	if strings.TrimSpace(level) != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return NewZapLoggerByConfig(cfg)
}

// NewZapLoggerByConfig wraps a logger built from an explicit zap config.
func NewZapLoggerByConfig(cfg zap.Config, options ...zap.Option) (Logger, error) {
	l, err := cfg.Build(append(options, zap.AddCallerSkip(1))...)
	if err != nil {
		return nil, err
	}
	return &ZapLogger{logger: l.Sugar()}, nil
}

// NewZapLoggerFrom wraps an existing zap logger (handy with zaptest/observer).
func NewZapLoggerFrom(l *zap.Logger) Logger {
	return &ZapLogger{logger: l.Sugar()}
}

func (z *ZapLogger) Debug(msg string, tags ...any) { z.logger.Debugw(msg, tags...) }
func (z *ZapLogger) Info(msg string, tags ...any)  { z.logger.Infow(msg, tags...) }
func (z *ZapLogger) Warn(msg string, tags ...any)  { z.logger.Warnw(msg, tags...) }
func (z *ZapLogger) Error(msg string, tags ...any) { z.logger.Errorw(msg, tags...) }

func (z *ZapLogger) Debugf(template string, args ...any) { z.logger.Debugf(template, args...) }
func (z *ZapLogger) Infof(template string, args ...any)  { z.logger.Infof(template, args...) }
func (z *ZapLogger) Warnf(template string, args ...any)  { z.logger.Warnf(template, args...) }
func (z *ZapLogger) Errorf(template string, args ...any) { z.logger.Errorf(template, args...) }

func (z *ZapLogger) With(tags ...any) Logger {
	return &ZapLogger{logger: z.logger.With(tags...)}
}

// Sync flushes buffered entries. Safe to ignore the error on stderr.
func (z *ZapLogger) Sync() error {
	return z.logger.Sync()
}
