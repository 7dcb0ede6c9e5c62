// Package bugrelay is the embeddable error and telemetry reporter. A Tracker
// owns one user session, captures errors, user actions, network failures and
// performance samples, buffers them in memory, and delivers them to the
// collection API, falling back to a fire-and-forget beacon during shutdown.
package bugrelay

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fmarek/bugrelay/event"
	"github.com/fmarek/bugrelay/internal/buffer"
	"github.com/fmarek/bugrelay/internal/capture"
	"github.com/fmarek/bugrelay/internal/session"
	"github.com/fmarek/bugrelay/internal/storage"
	"github.com/fmarek/bugrelay/internal/transport"
)

// Tracker states. Transitions are one-way: an initialized tracker can only
// move forward to destroyed, and a destroyed tracker stays destroyed.
const (
	stateUninitialized int32 = iota
	stateInitializing
	stateReady
	stateDestroyed
)

// Tracker is the reporter instance. Create with New, start with Initialize,
// stop with Destroy.
type Tracker struct {
	cfg Config
	log *zap.Logger

	state atomic.Int32

	store    *storage.Store
	sessions *session.Manager
	client   *transport.Client
	beacon   *transport.Beacon
	buf      *buffer.Buffer

	catcher *capture.Catcher
	actions *capture.ActionTracker
	network *capture.Monitor
	perf    *capture.PerfMonitor

	sampled bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	processStart time.Time
}

// New validates cfg and creates an uninitialized tracker. Configuration
// problems surface here, not later as silent non-delivery.
func New(cfg Config) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:          cfg,
		log:          cfg.logger(),
		done:         make(chan struct{}),
		processStart: time.Now(),
	}, nil
}

// Initialize brings the tracker to ready: session resumed or created, capture
// sources started, background delivery running. Idempotent; concurrent calls
// after the first return immediately. A failed initialization rolls back to
// uninitialized so a later call can retry.
func (t *Tracker) Initialize() error {
	if !t.state.CompareAndSwap(stateUninitialized, stateInitializing) {
		switch t.state.Load() {
		case stateDestroyed:
			return fmt.Errorf("tracker is destroyed")
		default:
			return nil
		}
	}

	if err := t.initialize(); err != nil {
		t.rollback()
		t.state.Store(stateUninitialized)
		return err
	}
	t.state.Store(stateReady)
	t.log.Debug("tracker ready", zap.Int64("session", t.sessions.Address()))
	return nil
}

func (t *Tracker) initialize() error {
	// Delivery first: the session manager registers through it.
	t.client = transport.NewClient(t.cfg.APIURL, t.cfg.ProjectID, t.cfg.HTTPClient, t.log)
	t.beacon = transport.NewBeacon(t.client, t.cfg.BeaconMaxPayload, t.log)

	dir := t.cfg.StateDir
	if dir == "" {
		dir = storage.DefaultDir()
	}
	t.store = storage.Open(dir, t.log)
	t.sessions = session.NewManager(t.store, t.cfg.SessionTimeout, t.cfg.CheckInterval, t.client.RegisterSession, t.log)
	t.sessions.Initialize()

	// Sampling is decided once per tracker lifetime. Unsampled trackers keep
	// the session alive but drop every event at the gate.
	t.sampled = rand.Float64() < t.cfg.sampleRate()

	t.buf = buffer.New(t.cfg.BufferSize, t.deliver, t.log)

	if err := t.startCapture(); err != nil {
		return err
	}

	t.wg.Add(1)
	go t.flushLoop()
	t.watchShutdown()
	return nil
}

func (t *Tracker) startCapture() error {
	if !t.cfg.DisableErrorCapture {
		t.catcher = capture.NewCatcher(t.onError, t.log)
		t.catcher.Ignore(t.cfg.IgnoreErrors...)
		t.catcher.Start()
	}
	if !t.cfg.DisableActionCapture {
		t.actions = capture.NewActionTracker(t.onAction, t.cfg.IgnoredActions, t.log)
		t.actions.Start()
	}
	if !t.cfg.DisableNetworkCapture {
		monitor, err := capture.NewMonitor(t.onRequest, t.cfg.APIURL, t.cfg.IgnoreURLs, t.cfg.SlowRequestThreshold, t.log)
		if err != nil {
			return fmt.Errorf("network capture: %w", err)
		}
		t.network = monitor
		t.network.Install()
	}
	if !t.cfg.DisablePerfCapture {
		t.perf = capture.NewPerfMonitor(t.onPerf, t.processStart, t.cfg.PerfInterval, t.log)
		t.perf.Start()
	}
	return nil
}

// rollback unwinds a partial initialization.
func (t *Tracker) rollback() {
	t.stopCapture()
	if t.sessions != nil {
		t.sessions.Close()
		t.sessions = nil
	}
}

func (t *Tracker) stopCapture() {
	if t.catcher != nil {
		t.catcher.Stop()
	}
	if t.actions != nil {
		t.actions.Stop()
	}
	if t.network != nil {
		t.network.Uninstall()
	}
	if t.perf != nil {
		t.perf.Stop()
	}
}

// Ready reports whether the tracker is initialized and not destroyed.
func (t *Tracker) Ready() bool { return t.state.Load() == stateReady }

// SessionAddress returns the current session address: the server-assigned id
// when registration has landed, the negative local id until then, zero when
// the tracker is not ready.
func (t *Tracker) SessionAddress() int64 {
	if !t.Ready() {
		return 0
	}
	return t.sessions.Address()
}

// Recover is a deferred panic hook delegating to the error catcher.
//
//	defer tracker.Recover()
func (t *Tracker) Recover() {
	if r := recover(); r != nil && t.catcher != nil {
		t.catcher.CapturePanic(r, "panic")
	}
}

// Go runs fn on a goroutine whose panics are reported instead of crashing.
func (t *Tracker) Go(fn func()) {
	if t.catcher != nil {
		t.catcher.Go(fn)
		return
	}
	go fn()
}

// LogHook returns the zap hook mirroring Error-level entries into capture.
// Returns nil when error capture is disabled. Install it on the host's
// logger with zap.Hooks(tracker.LogHook()).
func (t *Tracker) LogHook() func(zapcore.Entry) error {
	if t.catcher == nil || t.cfg.DisableLogCapture {
		return nil
	}
	return t.catcher.Hook()
}

// CaptureError reports an error the host surfaced explicitly.
func (t *Tracker) CaptureError(err error, metadata map[string]any) {
	if !t.Ready() || t.catcher == nil {
		return
	}
	t.catcher.Capture(err, metadata)
}

// RecordAction reports one user interaction from the host's UI layer.
func (t *Tracker) RecordAction(a capture.Action) {
	if !t.Ready() || t.actions == nil {
		return
	}
	t.actions.Record(a)
}

// TrackEvent enqueues a custom event with caller-supplied metadata.
func (t *Tracker) TrackEvent(name string, metadata map[string]any) {
	if !t.Ready() {
		return
	}
	ev := event.New(event.TypeCustom, name)
	for k, v := range metadata {
		ev.SetMeta(k, v)
	}
	t.enqueue(ev)
}

// Flush synchronously delivers all pending events.
func (t *Tracker) Flush(ctx context.Context) error {
	if !t.Ready() {
		return nil
	}
	t.sessions.EnsureRegistered()
	return t.buf.Flush(ctx)
}

// Suspend delivers pending urgent events over the beacon path. Call when the
// host is about to lose its last chance to send, e.g. before a fast exit.
func (t *Tracker) Suspend() {
	if !t.Ready() {
		return
	}
	pending := t.buf.Snapshot()
	if len(pending) == 0 {
		t.beacon.Heartbeat(t.sessions.Address())
		return
	}
	if !t.buf.HasUrgent() {
		return
	}
	t.buf.Clear()
	t.beacon.Send(t.beaconPayload(pending, ""))
}

// SubmitReport sends a user-initiated bug report with the pending event
// trail, then ends the session and starts a fresh one so follow-up telemetry
// is attributed to a new visit. Not retried on failure; the session is only
// rotated after a successful submission.
func (t *Tracker) SubmitReport(ctx context.Context, comment, email string, tags []string, screenshot []byte) error {
	if !t.Ready() {
		return fmt.Errorf("tracker is not ready")
	}

	// Reports need a server-backed session; give registration a moment.
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	addr, ok := t.sessions.WaitForServer(waitCtx)
	cancel()
	if !ok {
		t.log.Debug("report submitted against local-only session", zap.Int64("session", addr))
	}

	if err := t.Flush(ctx); err != nil {
		t.log.Debug("pre-report flush failed", zap.Error(err))
	}

	report := transport.ReportRequest{
		ProjectID:    t.cfg.ProjectID,
		SessionID:    addr,
		Title:        transport.DeriveTitle(comment),
		Tags:         tags,
		ReportedAt:   time.Now(),
		Comments:     comment,
		UserEmail:    email,
		CurrentURL:   t.currentURL(),
		UserProvided: true,
	}
	if err := t.client.SendBugReport(ctx, report, screenshot); err != nil {
		return err
	}

	// The reported session is complete: rotate so new events start clean.
	t.sessions.EndSession()
	t.sessions.Initialize()
	return nil
}

// Destroy stops capture and background work and delivers pending urgent
// events over the beacon. The persisted session is left intact so a restart
// within the inactivity window resumes it.
func (t *Tracker) Destroy() {
	if !t.state.CompareAndSwap(stateReady, stateDestroyed) {
		t.state.Store(stateDestroyed)
		return
	}
	t.stopCapture()
	t.closeOnce.Do(func() { close(t.done) })
	t.wg.Wait()

	pending := t.buf.Snapshot()
	if len(pending) > 0 {
		t.buf.Clear()
		t.beacon.Send(t.beaconPayload(pending, ""))
	}
	t.sessions.Close()
	t.log.Debug("tracker destroyed")
}

// enqueue runs the pre-send hook and the sampling gate, then buffers.
func (t *Tracker) enqueue(ev event.Event) {
	if !t.sampled {
		return
	}
	if t.cfg.BeforeSend != nil {
		out := t.cfg.BeforeSend(ev)
		if out == nil {
			return
		}
		ev = *out
	}
	t.sessions.Touch()
	t.buf.Add(ev)
}

// deliver is the buffer's flush callback.
func (t *Tracker) deliver(ctx context.Context, events []event.Event) error {
	addr := t.sessions.Address()
	if addr == 0 {
		return transport.ErrSessionUnresolved
	}
	return t.client.SendEvents(ctx, addr, events)
}

func (t *Tracker) beaconPayload(events []event.Event, screenshot string) transport.BeaconPayload {
	addr := t.sessions.Address()
	payload := transport.BeaconPayload{
		SessionID:  addr,
		SentAt:     time.Now(),
		Screenshot: screenshot,
	}
	for _, ev := range events {
		payload.Events = append(payload.Events, transport.EncodeEvent(addr, ev))
	}
	return payload
}

func (t *Tracker) currentURL() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return "file://" + wd
}

// flushLoop drives periodic delivery and session keepalive.
func (t *Tracker) flushLoop() {
	defer t.wg.Done()
	interval := t.cfg.FlushInterval
	if interval <= 0 {
		// Periodic flush disabled; urgency and capacity still deliver.
		<-t.done
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := t.buf.Flush(ctx); err != nil {
				t.log.Debug("periodic flush failed", zap.Error(err))
				t.sessions.EnsureRegistered()
			}
			cancel()
			t.beacon.Heartbeat(t.sessions.Address())
		}
	}
}

// watchShutdown mirrors unload handling: on SIGINT or SIGTERM the pending
// urgent events go out over the beacon, then the signal is re-raised with
// default disposition so the process dies as the user asked.
func (t *Tracker) watchShutdown() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		select {
		case <-t.done:
			signal.Stop(sigc)
		case sig := <-sigc:
			t.Suspend()
			signal.Stop(sigc)
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				p.Signal(sig)
			}
		}
	}()
}

// onError converts a caught error into a buffered event.
func (t *Tracker) onError(caught capture.CaughtError) {
	ev := event.New(event.TypeError, caught.Name)
	ev.Message = caught.Message
	ev.StackTrace = caught.Stack
	ev.File = caught.File
	ev.Line = caught.Line
	ev.URL = t.currentURL()
	ev.SetMeta("source", caught.Source)
	ev.SetMeta("fingerprint", caught.Fingerprint)
	for k, v := range caught.Metadata {
		ev.SetMeta(k, v)
	}
	t.enqueue(ev)
}

// onAction converts a user action into a buffered event.
func (t *Tracker) onAction(a capture.Action) {
	ev := event.New(event.TypeAction, a.Kind)
	ev.TagName = a.TagName
	ev.Path = a.Path
	ev.URL = t.currentURL()
	ev.Attributes = make(map[string]string, len(a.Attrs)+1)
	for k, v := range a.Attrs {
		ev.Attributes[k] = v
	}
	if a.Text != "" {
		ev.Attributes["text"] = a.Text
	}
	t.enqueue(ev)
}

// onRequest converts a network observation into a buffered event.
func (t *Tracker) onRequest(r capture.RequestReport) {
	name := r.FailureKind
	if name == "" {
		name = "slow_request"
	}
	ev := event.New(event.TypeNetwork, name)
	ev.Method = r.Method
	ev.NetworkURL = r.URL
	ev.StatusCode = r.StatusCode
	ev.Duration = r.Duration
	ev.URL = t.currentURL()
	if r.Error != "" {
		ev.Message = r.Error
	}
	if r.BodySnippet != "" {
		ev.SetMeta("bodySnippet", r.BodySnippet)
	}
	ev.SetMeta("connReused", r.ConnReused)
	if r.TimeToFirstB > 0 {
		ev.SetMeta("ttfbMs", r.TimeToFirstB.Milliseconds())
	}
	t.enqueue(ev)
}

// onPerf converts a performance sample into a buffered event.
func (t *Tracker) onPerf(s capture.PerfSample) {
	name := "runtime"
	if s.Startup {
		name = "startup"
	}
	ev := event.New(event.TypePerformance, name)
	ev.URL = t.currentURL()
	if s.Startup {
		ev.SetMeta("startupMs", s.StartupDuration.Milliseconds())
	}
	ev.SetMeta("heapAlloc", s.HeapAlloc)
	ev.SetMeta("heapSys", s.HeapSys)
	ev.SetMeta("numGC", s.NumGC)
	ev.SetMeta("goroutines", s.NumGoroutine)
	t.enqueue(ev)
}
