// Package logging configures the application's structured loggers and
// provides rotating per-service file loggers.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	defaultLogger *slog.Logger
	initOnce      sync.Once

	mu          sync.Mutex
	logDir      string
	logLevel    slog.Level = slog.LevelInfo
	serviceLogs            = map[string]*slog.Logger{}
	closers     []func() error
)

// Init sets up the default slog logger: JSON to stdout. Safe to call more
// than once; only the first call takes effect.
func Init(debug bool) {
	initOnce.Do(func() {
		if debug {
			logLevel = slog.LevelDebug
		}
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
		defaultLogger = slog.New(handler)
		slog.SetDefault(defaultLogger)
	})
}

// EnableFileLogging makes every subsequent ForService logger also write to a
// rotating JSON file under dir, one file per service.
func EnableFileLogging(dir string) {
	mu.Lock()
	defer mu.Unlock()
	logDir = dir
}

// NewFileLogger returns a service-scoped slog.Logger writing JSON to a
// rotating log file, mirrored to the process default handler, plus a closer
// to be called on shutdown.
func NewFileLogger(path, service string, level slog.Leveler) (*slog.Logger, func() error, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("log file path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory %s: %w", dir, err)
		}
	}

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	handler := slog.Handler(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level}))
	if defaultLogger != nil {
		handler = slogmulti.Fanout(defaultLogger.Handler(), handler)
	}
	logger := slog.New(handler).With("service", service)
	return logger, writer.Close, nil
}

// ForService returns the logger for a service name: a rotating file logger
// when file logging is enabled, otherwise a child of the process-wide
// logger. Loggers are created once per service and reused.
func ForService(service string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if logger, ok := serviceLogs[service]; ok {
		return logger
	}

	base := defaultLogger
	if base == nil {
		base = slog.Default()
	}
	if logDir == "" {
		return base.With("service", service)
	}

	logger, closer, err := NewFileLogger(filepath.Join(logDir, service+".log"), service, logLevel)
	if err != nil {
		base.Warn("file logger setup failed, using default handler",
			"service", service, "error", err)
		return base.With("service", service)
	}
	serviceLogs[service] = logger
	closers = append(closers, closer)
	return logger
}

// CloseFileLoggers flushes and closes every rotating file writer opened by
// ForService. Call once on shutdown.
func CloseFileLoggers() {
	mu.Lock()
	defer mu.Unlock()
	for _, c := range closers {
		_ = c()
	}
	closers = nil
	serviceLogs = map[string]*slog.Logger{}
}
