// Package logging builds the worker's zap loggers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line.
const ServiceName = "auction-ingest"

// New builds a development or production logger at the preset's default level.
func New(development bool) (*zap.Logger, error) {
	return NewLevel(development, "")
}

// NewLevel builds a development (console, colored levels) or production (JSON)
// logger. An empty level keeps the preset default: debug for development,
// info for production.
func NewLevel(development bool, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	mode := "prod"
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		mode = "dev"
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.InitialFields = map[string]any{"service": ServiceName}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", mode, err)
	}
	return logger, nil
}

// Component returns a child logger named after a subsystem.
func Component(base *zap.Logger, name string) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(name)
}
