// Package logging builds the zap logger shared by the CLI and the pipeline.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger at the given level ("debug", "info", "warn", "error").
// dev switches to the human-readable console encoder.
func New(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	config := zap.NewProductionConfig()
	if dev {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.DisableStacktrace = !dev

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Sentence returns a logger scoped to one sentence and filter.
func Sentence(base *zap.Logger, sen int, filter string) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	l := base.With(zap.Int("sentence", sen))
	if filter != "" {
		l = l.With(zap.String("filter", filter))
	}
	return l
}
