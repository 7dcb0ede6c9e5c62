package capture

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type errorSink struct {
	mu     sync.Mutex
	caught []CaughtError
}

func (s *errorSink) handler(e CaughtError) {
	s.mu.Lock()
	s.caught = append(s.caught, e)
	s.mu.Unlock()
}

func (s *errorSink) all() []CaughtError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CaughtError, len(s.caught))
	copy(out, s.caught)
	return out
}

func TestRecoverCapturesPanic(t *testing.T) {
	sink := &errorSink{}
	c := NewCatcher(sink.handler, zap.NewNop())
	c.Start()

	func() {
		defer c.Recover()
		panic(errors.New("database gone"))
	}()

	caught := sink.all()
	if len(caught) != 1 {
		t.Fatalf("expected 1 caught error, got %d", len(caught))
	}
	got := caught[0]
	if got.Message != "database gone" {
		t.Errorf("message = %q", got.Message)
	}
	if got.Source != "panic" {
		t.Errorf("source = %q", got.Source)
	}
	if got.Fingerprint == "" {
		t.Error("fingerprint not set")
	}
	if !strings.Contains(got.Stack, "errors_test") {
		t.Errorf("stack does not reach the panic site:\n%s", got.Stack)
	}
}

// Non-error panic values are still reported, with reduced detail.
func TestRecoverCapturesNonErrorPanic(t *testing.T) {
	sink := &errorSink{}
	c := NewCatcher(sink.handler, zap.NewNop())
	c.Start()

	func() {
		defer c.Recover()
		panic("just a string")
	}()

	caught := sink.all()
	if len(caught) != 1 {
		t.Fatalf("expected 1 caught error, got %d", len(caught))
	}
	if caught[0].Name != "Panic" {
		t.Errorf("name = %q", caught[0].Name)
	}
	if caught[0].Message != "just a string" {
		t.Errorf("message = %q", caught[0].Message)
	}
}

// Go reports goroutine panics instead of crashing the process.
func TestGoReportsGoroutinePanic(t *testing.T) {
	done := make(chan struct{})
	sink := &errorSink{}
	c := NewCatcher(func(e CaughtError) {
		sink.handler(e)
		close(done)
	}, zap.NewNop())
	c.Start()

	c.Go(func() { panic(errors.New("background boom")) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine panic never reported")
	}
	if got := sink.all()[0]; got.Source != "goroutine" {
		t.Errorf("source = %q", got.Source)
	}
}

func TestStoppedCatcherIsNoop(t *testing.T) {
	sink := &errorSink{}
	c := NewCatcher(sink.handler, zap.NewNop())
	// Never started.
	func() {
		defer c.Recover()
		panic("quiet")
	}()
	c.Capture(errors.New("also quiet"), nil)

	if n := len(sink.all()); n != 0 {
		t.Errorf("expected no captures while stopped, got %d", n)
	}
}

func TestIgnoreListSuppresses(t *testing.T) {
	sink := &errorSink{}
	c := NewCatcher(sink.handler, zap.NewNop())
	c.Start()
	c.Ignore("ResizeObserver", "context canceled")

	c.Capture(fmt.Errorf("operation failed: context canceled"), nil)
	c.Capture(errors.New("real failure"), nil)

	caught := sink.all()
	if len(caught) != 1 {
		t.Fatalf("expected 1 caught error, got %d", len(caught))
	}
	if caught[0].Message != "real failure" {
		t.Errorf("wrong error survived: %q", caught[0].Message)
	}
}

func TestCaptureNilError(t *testing.T) {
	sink := &errorSink{}
	c := NewCatcher(sink.handler, zap.NewNop())
	c.Start()
	c.Capture(nil, nil)
	if n := len(sink.all()); n != 0 {
		t.Errorf("expected nil error ignored, got %d captures", n)
	}
}

// The zap hook mirrors Error-level entries; lower levels pass through
// untouched.
func TestLogHookMirrorsErrors(t *testing.T) {
	sink := &errorSink{}
	c := NewCatcher(sink.handler, zap.NewNop())
	c.Start()

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(io.Discard),
		zapcore.DebugLevel,
	)
	logger := zap.New(core, zap.Hooks(c.Hook()))
	logger.Info("just info")
	logger.Warn("just a warning")
	logger.Error("payment failed")

	caught := sink.all()
	if len(caught) != 1 {
		t.Fatalf("expected 1 mirrored entry, got %d", len(caught))
	}
	if caught[0].Name != "LogError" || caught[0].Message != "payment failed" {
		t.Errorf("got %+v", caught[0])
	}
	if caught[0].Source != "log" {
		t.Errorf("source = %q", caught[0].Source)
	}
}

// A panicking handler is contained; the catcher never rethrows into the
// host.
func TestHandlerPanicContained(t *testing.T) {
	c := NewCatcher(func(CaughtError) { panic("handler bug") }, zap.NewNop())
	c.Start()
	c.Capture(errors.New("x"), nil) // must not panic
}

func TestFingerprintGroupsSameFailure(t *testing.T) {
	sink := &errorSink{}
	c := NewCatcher(sink.handler, zap.NewNop())
	c.Start()

	c.Capture(errors.New("conn refused"), nil)
	c.Capture(errors.New("conn refused"), nil)
	c.Capture(errors.New("totally different"), nil)

	caught := sink.all()
	if caught[0].Fingerprint != caught[1].Fingerprint {
		t.Error("same failure produced different fingerprints")
	}
	if caught[0].Fingerprint == caught[2].Fingerprint {
		t.Error("different failures share a fingerprint")
	}
}
