// Package logger builds the zap logger shared by the binaries.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger holds the process logger and its adjustable level.
type Logger struct {
	// Log is the current logger. It is a no-op logger until Init succeeds.
	Log   *zap.Logger
	level zap.AtomicLevel
}

// New returns a Logger with a no-op Log.
func New() *Logger {
	return &Logger{Log: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// Init replaces Log with a production JSON logger at the given level
// ("debug", "info", "warn", "error"; case-insensitive).
func (l *Logger) Init(level string) error {
	if err := l.SetLevel(level); err != nil {
		return err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = l.level
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zl, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	l.Log = zl
	return nil
}

// SetLevel changes the level of a running logger.
func (l *Logger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	l.level.SetLevel(lvl)
	return nil
}

// Level returns the current level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}
