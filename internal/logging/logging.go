// Package logging wraps log/slog with a colored console handler and an
// optional daily JSON file under the logs directory.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Options configures Setup.
type Options struct {
	// Verbose lowers the level to debug.
	Verbose bool
	// Dir receives YYYY-MM-DD.log files. Empty disables file logging.
	Dir string
	// Console defaults to os.Stderr.
	Console io.Writer
}

var (
	disabled atomic.Bool
	level    = new(slog.LevelVar)

	mu     sync.RWMutex
	logger = slog.New(gate{tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: "15:04:05"})})
	file   *DailyFile
)

// Setup installs the console handler and, when Dir is set, the daily file
// handler. It also becomes slog's default logger. Call Close on shutdown.
func Setup(opts Options) error {
	if opts.Verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	noColor := true
	if f, ok := console.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}

	handlers := []slog.Handler{
		tint.NewHandler(console, &tint.Options{Level: level, TimeFormat: "15:04:05", NoColor: noColor}),
	}

	var f *DailyFile
	if opts.Dir != "" {
		f = NewDailyFile(opts.Dir, nil)
		if err := f.open(); err != nil {
			return err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	mu.Lock()
	if file != nil {
		file.Close()
	}
	file = f
	if len(handlers) == 1 {
		logger = slog.New(gate{handlers[0]})
	} else {
		logger = slog.New(gate{fanout(handlers)})
	}
	slog.SetDefault(logger)
	mu.Unlock()
	return nil
}

// Close flushes and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// L returns the current logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// For returns a logger tagged with a user identifier.
func For(user string) *slog.Logger {
	return L().With("user", user)
}

// Disable turns off all logging, including loggers returned by For.
func Disable() {
	disabled.Store(true)
}

// Enable turns logging back on
func Enable() {
	disabled.Store(false)
}

func logf(lvl slog.Level, msg string) {
	L().Log(context.Background(), lvl, msg)
}

// Info logs an info message
func Info(v ...any) { logf(slog.LevelInfo, fmt.Sprint(v...)) }

// Infof logs a formatted info message
func Infof(format string, v ...any) { logf(slog.LevelInfo, fmt.Sprintf(format, v...)) }

// Error logs an error message
func Error(v ...any) { logf(slog.LevelError, fmt.Sprint(v...)) }

// Errorf logs a formatted error message
func Errorf(format string, v ...any) { logf(slog.LevelError, fmt.Sprintf(format, v...)) }

// Warn logs a warning message
func Warn(v ...any) { logf(slog.LevelWarn, fmt.Sprint(v...)) }

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) { logf(slog.LevelWarn, fmt.Sprintf(format, v...)) }

// Debug logs a debug message
func Debug(v ...any) { logf(slog.LevelDebug, fmt.Sprint(v...)) }

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) { logf(slog.LevelDebug, fmt.Sprintf(format, v...)) }

// gate drops every record while logging is disabled.
type gate struct{ slog.Handler }

func (g gate) Enabled(ctx context.Context, l slog.Level) bool {
	return !disabled.Load() && g.Handler.Enabled(ctx, l)
}

func (g gate) Handle(ctx context.Context, r slog.Record) error {
	if disabled.Load() {
		return nil
	}
	return g.Handler.Handle(ctx, r)
}

func (g gate) WithAttrs(attrs []slog.Attr) slog.Handler {
	return gate{g.Handler.WithAttrs(attrs)}
}

func (g gate) WithGroup(name string) slog.Handler {
	return gate{g.Handler.WithGroup(name)}
}

// fanout sends every record to all handlers.
type fanout []slog.Handler

func (h fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, hh := range h {
		if hh.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (h fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, hh := range h {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (h fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(h))
	for i, hh := range h {
		out[i] = hh.WithAttrs(attrs)
	}
	return out
}

func (h fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(h))
	for i, hh := range h {
		out[i] = hh.WithGroup(name)
	}
	return out
}
