// Package capture contains the instrumentation sources. Each source is an
// independent observer with an idempotent Start/Stop pair that emits
// normalized observations to a single handler; a source's internal failure
// is logged and never propagates into host code.
package capture

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fmarek/bugrelay/event"
)

// CaughtError is a normalized error observation.
type CaughtError struct {
	Name    string
	Message string
	Stack   string
	File    string
	Line    int

	// Source identifies the capture path: panic, goroutine, log, manual.
	Source string

	// Fingerprint groups recurrences of the same failure.
	Fingerprint string

	Metadata map[string]any
}

// ErrorHandler receives normalized errors from a Catcher.
type ErrorHandler func(CaughtError)

// Catcher observes uncaught failures: recovered panics, panics in wrapped
// goroutines, and (optionally) Error-level log entries. Failures matching
// the ignore list are suppressed before the handler runs.
type Catcher struct {
	handler ErrorHandler
	log     *zap.Logger

	mu      sync.Mutex
	active  bool
	ignored []string
}

// NewCatcher creates a stopped catcher.
func NewCatcher(handler ErrorHandler, log *zap.Logger) *Catcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catcher{handler: handler, log: log}
}

// Start begins capturing. Idempotent.
func (c *Catcher) Start() {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
}

// Stop ceases capturing. Idempotent; hooks installed elsewhere (the zap log
// hook, deferred Recover calls) become no-ops rather than being torn out.
func (c *Catcher) Stop() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// Active reports whether the catcher is capturing.
func (c *Catcher) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Ignore appends substring patterns matched against "name: message" or the
// stack trace; matching errors are suppressed.
func (c *Catcher) Ignore(patterns ...string) {
	c.mu.Lock()
	c.ignored = append(c.ignored, patterns...)
	c.mu.Unlock()
}

func (c *Catcher) shouldIgnore(name, message, stack string) bool {
	c.mu.Lock()
	patterns := c.ignored
	c.mu.Unlock()
	if len(patterns) == 0 {
		return false
	}
	line := name + ": " + message
	for _, p := range patterns {
		if strings.Contains(line, p) || (stack != "" && strings.Contains(stack, p)) {
			return true
		}
	}
	return false
}

// Recover is the uncaught-exception hook: defer it at the top of any frame
// whose panics should be reported instead of crashing the host.
//
//	defer catcher.Recover()
func (c *Catcher) Recover() {
	if r := recover(); r != nil {
		c.CapturePanic(r, "panic")
	}
}

// Go runs fn on a new goroutine, reporting instead of crashing on panic —
// the unhandled-rejection analog for background work.
func (c *Catcher) Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.CapturePanic(r, "goroutine")
			}
		}()
		fn()
	}()
}

// CapturePanic normalizes a recovered panic value. Values that carry no
// error or stack detail are still reported, with reduced detail, never
// dropped silently.
func (c *Catcher) CapturePanic(recovered any, source string) {
	if !c.Active() {
		return
	}
	caught := CaughtError{Source: source, Stack: trimStack(debug.Stack())}
	switch v := recovered.(type) {
	case error:
		caught.Name = fmt.Sprintf("%T", v)
		caught.Message = v.Error()
	default:
		caught.Name = "Panic"
		caught.Message = fmt.Sprint(v)
	}
	if _, file, line, ok := runtime.Caller(3); ok {
		caught.File = file
		caught.Line = line
	}
	c.emit(caught)
}

// Capture reports an error the host surfaced explicitly.
func (c *Catcher) Capture(err error, metadata map[string]any) {
	if err == nil || !c.Active() {
		return
	}
	c.emit(CaughtError{
		Name:     fmt.Sprintf("%T", err),
		Message:  err.Error(),
		Source:   "manual",
		Metadata: metadata,
	})
}

// Hook returns a zap hook mirroring Error-and-above log entries into the
// catcher, the log-interception capture path. Install it on the host's
// logger with zap.Hooks(catcher.Hook()).
func (c *Catcher) Hook() func(zapcore.Entry) error {
	return func(entry zapcore.Entry) error {
		if entry.Level < zapcore.ErrorLevel || !c.Active() {
			return nil
		}
		caught := CaughtError{
			Name:    "LogError",
			Message: entry.Message,
			Stack:   entry.Stack,
			Source:  "log",
		}
		if entry.Caller.Defined {
			caught.File = entry.Caller.File
			caught.Line = entry.Caller.Line
		}
		c.emit(caught)
		return nil
	}
}

func (c *Catcher) emit(caught CaughtError) {
	if c.shouldIgnore(caught.Name, caught.Message, caught.Stack) {
		return
	}
	caught.Fingerprint = event.Fingerprint(caught.Name, caught.Message, caught.Stack)
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("error handler panicked", zap.Any("panic", r))
		}
	}()
	c.handler(caught)
}

// trimStack drops the frames belonging to the capture machinery itself so
// the reported stack starts at the panic site.
func trimStack(stack []byte) string {
	lines := strings.Split(string(stack), "\n")
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			// Skip the runtime panic frame pair as well.
			if i+2 < len(lines) {
				return lines[0] + "\n" + strings.Join(lines[i+3:], "\n")
			}
			break
		}
	}
	return string(stack)
}
