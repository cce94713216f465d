// Package logging builds the process-wide zap logger, following the
// construction pattern used throughout the teacher repository (every
// component receives a *zap.Logger rather than reaching for a package
// global).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style JSON logger at the given level ("debug",
// "info", "warn", "error"). An empty or unrecognized level defaults to info.
func New(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// NewNop returns a no-op logger, used by tests that don't care about output.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
