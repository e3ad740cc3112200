// Package logging wires log/slog for the player: one logger per
// pipeline module with runtime-adjustable levels, fanned out to stdout
// (text or json), the systemd journal when available, and an in-memory
// ring buffer that feeds the SSE log stream.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const defaultBufferSize = 1000

// Logger is a duck-typed interface satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mu            sync.RWMutex
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevels  = make(map[string]*slog.LevelVar)
	globalLevel   = &slog.LevelVar{}
	globalConfig  Config
	initialized   bool
	logBuffer     *RingBuffer
	logCallback   LogCallback
)

// Initialize sets up the logging system. Loggers handed out before
// Initialize are recreated so they pick up the full handler chain.
func Initialize(config Config) {
	mu.Lock()
	defer mu.Unlock()

	globalConfig = config
	initialized = true
	logBuffer = NewRingBuffer(defaultBufferSize)
	globalLevel.Set(parseLevel(config.Level, slog.LevelInfo))

	for module, lv := range moduleLevels {
		lv.Set(moduleLevel(config, module))
		moduleLoggers[module] = slog.New(newHandler(config.Format, lv)).With("module", module)
	}

	slog.SetDefault(slog.New(newHandler(config.Format, globalLevel)))
}

// SetLevel adjusts one module's level at runtime (config hot-reload).
func SetLevel(module, level string) {
	mu.Lock()
	defer mu.Unlock()
	if lv, ok := moduleLevels[module]; ok {
		lv.Set(parseLevel(level, slog.LevelInfo))
	}
}

// GetLogger returns a logger for the specified module, creating it if
// needed.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	if logger, ok := moduleLoggers[module]; ok {
		mu.RUnlock()
		return logger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	format := "text"
	if initialized {
		lv.Set(moduleLevel(globalConfig, module))
		format = globalConfig.Format
	} else {
		lv.Set(slog.LevelInfo)
	}

	logger := slog.New(newHandler(format, lv)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevels[module] = lv
	return logger
}

// GetBuffer returns the log ring buffer for reading historical logs.
func GetBuffer() *RingBuffer {
	mu.RLock()
	defer mu.RUnlock()
	return logBuffer
}

// SetLogCallback sets a callback invoked for each new log entry. Used
// to publish log events to the SSE stream without an import cycle.
func SetLogCallback(cb LogCallback) {
	mu.Lock()
	defer mu.Unlock()
	logCallback = cb
}

func moduleLevel(cfg Config, module string) slog.Level {
	level := parseLevel(cfg.Level, slog.LevelInfo)
	if s, ok := cfg.Modules[module]; ok {
		level = parseLevel(s, level)
	}
	return level
}

// newHandler builds the fan-out chain for one logger: stdout, journal
// when running under systemd, and the ring buffer.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	handlers := []slog.Handler{stdout}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
