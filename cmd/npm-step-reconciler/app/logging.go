package app

import (
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logLevel is shared by the zap core built in main and the commands that
// learn the configured level later.
var logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// LogLevel returns the level controlling the process logger
func LogLevel() zap.AtomicLevel {
	return logLevel
}

// SetLogLevel applies a configured level name. CRITICAL maps to error; an
// empty name keeps the current level; unknown names fall back to info.
func SetLogLevel(name string) {
	if name == "" {
		return
	}
	level, ok := parseLevel(name)
	if !ok {
		slog.Warn("Invalid log level, using INFO", "value", name)
	}
	logLevel.SetLevel(level)
}

// parseLevel maps level names onto zap levels. slog debug records reach zap
// at their numeric slog level, so debug has to open the core down to -4.
func parseLevel(name string) (zapcore.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return zapcore.Level(slog.LevelDebug), true
	case "INFO":
		return zapcore.InfoLevel, true
	case "WARN", "WARNING":
		return zapcore.WarnLevel, true
	case "ERROR", "CRITICAL":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}
