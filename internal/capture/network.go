package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Failure kinds reported for network observations. Aborts and timeouts are
// distinct kinds, not generic errors.
const (
	FailureNone    = ""
	FailureHTTP    = "http_error"
	FailureNetwork = "network_error"
	FailureTimeout = "timeout"
	FailureAborted = "aborted"
)

// snippetLimit bounds the diagnostic response-body excerpt.
const snippetLimit = 1024

// RequestReport is a normalized network observation.
type RequestReport struct {
	Method      string
	URL         string
	StatusCode  int // 0 for network-level failure
	Duration    time.Duration
	FailureKind string
	Error       string

	// BodySnippet is populated only for failed requests, read without
	// consuming the stream visible to the caller.
	BodySnippet string

	// Low-level trace detail.
	ConnReused   bool
	TimeToFirstB time.Duration
}

// RequestHandler receives network observations from a Monitor.
type RequestHandler func(RequestReport)

// Monitor transparently intercepts the process-wide HTTP transport. The
// original request behavior — return values, body streams, errors — is
// preserved for calling code; observations are reported on the side.
//
// Install stores the pre-patch transport as instance state and Uninstall
// restores it exactly, so independent monitors can coexist and unwind
// cleanly.
type Monitor struct {
	handler RequestHandler
	log     *zap.Logger

	mu            sync.Mutex
	active        bool
	prev          http.RoundTripper
	ignored       []*regexp.Regexp
	selfBase      string
	slowThreshold time.Duration
}

// NewMonitor creates a stopped monitor. selfBaseURL is the monitor's own
// reporting endpoint, always excluded to prevent reporting loops. Each
// ignore pattern is a regular expression matched against the full request
// URL.
func NewMonitor(handler RequestHandler, selfBaseURL string, ignorePatterns []string, slowThreshold time.Duration, log *zap.Logger) (*Monitor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{
		handler:       handler,
		log:           log,
		selfBase:      strings.TrimSuffix(selfBaseURL, "/"),
		slowThreshold: slowThreshold,
	}
	for _, p := range ignorePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		m.ignored = append(m.ignored, re)
	}
	return m, nil
}

// Install patches http.DefaultTransport, keeping the prior implementation so
// Uninstall can return to it exactly. Idempotent.
func (m *Monitor) Install() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return
	}
	m.prev = http.DefaultTransport
	http.DefaultTransport = m.wrap(m.prev)
	m.active = true
}

// Uninstall restores the pre-patch transport. Idempotent.
func (m *Monitor) Uninstall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	http.DefaultTransport = m.prev
	m.prev = nil
	m.active = false
}

// Active reports whether the monitor is installed.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Transport wraps an explicit base transport for clients that do not go
// through http.DefaultTransport. A nil base wraps the pre-patch transport
// while the monitor is installed, so a request is never intercepted twice.
func (m *Monitor) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		m.mu.Lock()
		if m.active {
			base = m.prev
		} else {
			base = http.DefaultTransport
		}
		m.mu.Unlock()
	}
	return m.wrap(base)
}

func (m *Monitor) wrap(base http.RoundTripper) http.RoundTripper {
	return &interceptRT{monitor: m, base: base}
}

func (m *Monitor) shouldIgnore(url string) bool {
	if m.selfBase != "" && strings.HasPrefix(url, m.selfBase) {
		return true
	}
	m.mu.Lock()
	ignored := m.ignored
	m.mu.Unlock()
	for _, re := range ignored {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

type interceptRT struct {
	monitor *Monitor
	base    http.RoundTripper
}

func (rt *interceptRT) RoundTrip(req *http.Request) (*http.Response, error) {
	m := rt.monitor
	if !m.Active() || m.shouldIgnore(req.URL.String()) {
		return rt.base.RoundTrip(req)
	}

	var (
		start     = time.Now()
		firstByte time.Time
		reused    bool
	)
	trace := &httptrace.ClientTrace{
		GotConn:              func(info httptrace.GotConnInfo) { reused = info.Reused },
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := rt.base.RoundTrip(req)
	duration := time.Since(start)

	report := RequestReport{
		Method:     req.Method,
		URL:        req.URL.String(),
		Duration:   duration,
		ConnReused: reused,
	}
	if !firstByte.IsZero() {
		report.TimeToFirstB = firstByte.Sub(start)
	}

	if err != nil {
		report.FailureKind = classifyFailure(req.Context(), err)
		report.Error = err.Error()
		m.emit(report)
		return resp, err
	}

	report.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode >= 400:
		report.FailureKind = FailureHTTP
		report.BodySnippet = peekBody(resp)
		m.emit(report)
	case m.slowThreshold > 0 && duration > m.slowThreshold:
		m.emit(report)
	}
	return resp, nil
}

func (m *Monitor) emit(report RequestReport) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("network handler panicked", zap.Any("panic", r))
		}
	}()
	m.handler(report)
}

// classifyFailure distinguishes caller aborts and deadline expiries from
// genuine network faults.
func classifyFailure(ctx context.Context, err error) string {
	if errors.Is(err, context.Canceled) {
		return FailureAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	_ = ctx
	return FailureNetwork
}

// peekBody reads a bounded diagnostic excerpt of the response body and
// splices the read bytes back so the stream the caller sees is untouched.
func peekBody(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	buf := make([]byte, snippetLimit)
	n, _ := io.ReadFull(resp.Body, buf)
	peeked := buf[:n]
	resp.Body = &splicedBody{
		Reader: io.MultiReader(bytes.NewReader(peeked), resp.Body),
		closer: resp.Body,
	}
	return string(peeked)
}

type splicedBody struct {
	io.Reader
	closer io.Closer
}

func (b *splicedBody) Close() error { return b.closer.Close() }
