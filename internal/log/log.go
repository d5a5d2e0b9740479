package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu     sync.RWMutex
	logger *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Configure (re)builds the global logger. Production selects zap's JSON
// encoder; otherwise a colored console encoder is used.
func Configure(production bool) error {
	l, err := build(newConfig(production))
	if err != nil {
		return err
	}

	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
	return nil
}

func newConfig(production bool) zap.Config {
	var conf zap.Config
	if production {
		conf = zap.NewProductionConfig()
	} else {
		conf = zap.NewDevelopmentConfig()
		conf.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	conf.Level = level
	return conf
}

// build attaches stack traces to ERROR and above only; skipped records are
// logged at WARN and should stay on one line.
func build(conf zap.Config) (*zap.Logger, error) {
	return conf.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Replace installs l as the global logger. Mostly useful in tests.
func Replace(l *zap.Logger) {
	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	if err := Configure(false); err != nil {
		// Fall back to a no-op logger rather than crash on log calls.
		Replace(zap.NewNop())
	}
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLevel changes the minimum level. Unknown values are ignored.
func SetLevel(l Level) {
	switch Level(strings.ToUpper(string(l))) {
	case LevelDebug:
		level.SetLevel(zapcore.DebugLevel)
	case LevelInfo:
		level.SetLevel(zapcore.InfoLevel)
	case LevelWarn:
		level.SetLevel(zapcore.WarnLevel)
	case LevelError:
		level.SetLevel(zapcore.ErrorLevel)
	}
}

func Debug(msg string, kv ...any) {
	current().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Errorw(msg, extended...)
}

// Sync flushes buffered entries.
func Sync() {
	_ = current().Sync()
}

// Logger returns the underlying zap logger, e.g. for http.Server.ErrorLog.
func Logger() *zap.Logger {
	return current().Desugar()
}
