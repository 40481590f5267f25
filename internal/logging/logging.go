// Package logging builds the harness logger from configuration.
// This package is internal and should not be imported by external projects.
package logging

import (
	"fmt"

	"github.com/BaSui01/agenteval/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a zap logger from the log configuration.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.DisableCaller = !cfg.EnableCaller
	zapCfg.DisableStacktrace = true
	if len(cfg.OutputPaths) > 0 {
		zapCfg.OutputPaths = cfg.OutputPaths
	}

	switch cfg.Format {
	case "", "console":
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		zapCfg.Encoding = "json"
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
