// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the console format, level, and an optional rotating file.
type Config struct {
	Development bool
	// Level is a zap level name; empty means debug in development and info
	// otherwise.
	Level string
	// File enables a JSON file sink rotated by size. Empty disables it.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a zap.Logger configured for development or production. When
// cfg.File is set, entries are also written as JSON to a rotating file.
func New(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.DisableStacktrace = false
	}
	zc.EncoderConfig.TimeKey = "ts"
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}

	if cfg.File == "" {
		logger, err := zc.Build()
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		return logger, nil
	}

	var console zapcore.Encoder
	if cfg.Development {
		console = zapcore.NewConsoleEncoder(zc.EncoderConfig)
	} else {
		console = zapcore.NewJSONEncoder(zc.EncoderConfig)
	}
	fileEncoder := zap.NewProductionEncoderConfig()
	fileEncoder.TimeKey = "ts"
	fileEncoder.EncodeTime = zapcore.ISO8601TimeEncoder

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	core := zapcore.NewTee(
		zapcore.NewCore(console, zapcore.Lock(os.Stderr), zc.Level),
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoder), zapcore.AddSync(rotator), zc.Level),
	)
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...), nil
}
