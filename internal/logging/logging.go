package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the global logger instance for the application
var Logger *zap.SugaredLogger

// helpers backs the package-level Infof/Warnf/... wrappers; it skips their
// frame so entries report the real caller.
var helpers *zap.SugaredLogger

var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

func init() {
	install(build(false))
}

func install(l *zap.SugaredLogger) {
	Logger = l
	helpers = l.WithOptions(zap.AddCallerSkip(1))
}

func build(development bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// Setup rebuilds the global logger. development switches to the console
// encoder used by the CLI.
func Setup(lvl string, development bool) {
	SetLevel(lvl)
	install(build(development))
}

// SetLevel changes the level of the global logger. Unknown names keep the
// current level.
func SetLevel(lvl string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(lvl))); err == nil {
		level.SetLevel(l)
	}
}

// With returns a child logger carrying the given key/value pairs.
func With(args ...interface{}) *zap.SugaredLogger { return Logger.With(args...) }

// Sync flushes buffered entries.
func Sync() { _ = Logger.Sync() }

// Top-level helpers for package alias usage
func Infof(format string, args ...interface{})  { helpers.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { helpers.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { helpers.Errorf(format, args...) }
func Debugf(format string, args ...interface{}) { helpers.Debugf(format, args...) }
func Fatalf(format string, args ...interface{}) { helpers.Fatalf(format, args...) }

// Truncate shortens long payloads such as prompts and raw model output
// before they are logged.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... [truncated]"
}
