package crashlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/neboloop/wplace-painter/internal/logging"
)

// FileName is the crash log inside the logs directory.
const FileName = "crash.jsonl"

// Entry is one line of the crash log.
type Entry struct {
	Time       time.Time         `json:"time"`
	Level      string            `json:"level"`
	Module     string            `json:"module"`
	Message    string            `json:"message"`
	Stacktrace string            `json:"stacktrace,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
}

// Logger appends errors and panics to a JSON lines file.
// Safe for concurrent use from multiple goroutines.
type Logger struct {
	path string
	mu   sync.Mutex
}

var (
	global   *Logger
	globalMu sync.Mutex
)

// Init sets up the global crash logger writing into dir. Call once at startup.
func Init(dir string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = &Logger{path: filepath.Join(dir, FileName)}
}

func current() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// LogPanic records a recovered panic with a full stack trace.
// Safe to call even if Init() was never called (only logs then).
func LogPanic(module string, r any, ctx map[string]string) {
	msg := fmt.Sprintf("%v", r)
	stack := make([]byte, 8192)
	n := runtime.Stack(stack, false)
	stackStr := string(stack[:n])

	logging.Errorf("[PANIC] %s: %s\n%s", module, msg, stackStr)

	if l := current(); l != nil {
		l.insert("panic", module, msg, stackStr, ctx)
	}
}

// LogError records an error with optional context.
func LogError(module string, err error, ctx map[string]string) {
	if err == nil {
		return
	}
	if l := current(); l != nil {
		l.insert("error", module, err.Error(), "", ctx)
	}
}

func (l *Logger) insert(level, module, message, stacktrace string, ctx map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(Entry{
		Time:       time.Now(),
		Level:      level,
		Module:     module,
		Message:    message,
		Stacktrace: stacktrace,
		Context:    ctx,
	})
	if err != nil {
		return
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logging.Warnf("[crashlog] %v", err)
		return
	}
	defer f.Close()
	_, _ = f.Write(append(line, '\n'))
}
