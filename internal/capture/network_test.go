package capture

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type reportSink struct {
	mu      sync.Mutex
	reports []RequestReport
}

func (s *reportSink) handler(r RequestReport) {
	s.mu.Lock()
	s.reports = append(s.reports, r)
	s.mu.Unlock()
}

func (s *reportSink) all() []RequestReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RequestReport, len(s.reports))
	copy(out, s.reports)
	return out
}

func newTestMonitor(t *testing.T, sink *reportSink, ignore []string, slow time.Duration) *Monitor {
	t.Helper()
	m, err := NewMonitor(sink.handler, "https://collector.internal", ignore, slow, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	return m
}

// Failed responses are reported with their status and a body snippet, and
// the caller still reads the full body.
func TestMonitorReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"error":"upstream exploded"}`)
	}))
	defer srv.Close()

	sink := &reportSink{}
	m := newTestMonitor(t, sink, nil, 0)
	m.Install()
	defer m.Uninstall()

	client := &http.Client{Transport: m.Transport(nil)}
	resp, err := client.Get(srv.URL + "/items")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	// The caller's view of the body is intact despite the snippet peek.
	if string(body) != `{"error":"upstream exploded"}` {
		t.Errorf("caller body corrupted: %q", body)
	}

	reports := sink.all()
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	got := reports[0]
	if got.StatusCode != http.StatusBadGateway || got.FailureKind != FailureHTTP {
		t.Errorf("report = %+v", got)
	}
	if !strings.Contains(got.BodySnippet, "upstream exploded") {
		t.Errorf("snippet = %q", got.BodySnippet)
	}
	if got.Method != "GET" {
		t.Errorf("method = %q", got.Method)
	}
}

// Successful fast requests are not reported.
func TestMonitorIgnoresSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	sink := &reportSink{}
	m := newTestMonitor(t, sink, nil, 0)
	m.Install()
	defer m.Uninstall()

	client := &http.Client{Transport: m.Transport(nil)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if n := len(sink.all()); n != 0 {
		t.Errorf("expected no reports for a 200, got %d", n)
	}
}

// Slow successes are reported when a threshold is configured.
func TestMonitorReportsSlowSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	sink := &reportSink{}
	m := newTestMonitor(t, sink, nil, 10*time.Millisecond)
	m.Install()
	defer m.Uninstall()

	client := &http.Client{Transport: m.Transport(nil)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	reports := sink.all()
	if len(reports) != 1 {
		t.Fatalf("expected 1 slow report, got %d", len(reports))
	}
	if reports[0].FailureKind != FailureNone || reports[0].StatusCode != 200 {
		t.Errorf("report = %+v", reports[0])
	}
}

// Caller-cancelled requests classify as aborted, expired deadlines as
// timeouts.
func TestMonitorClassifiesAbortAndTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	sink := &reportSink{}
	m := newTestMonitor(t, sink, nil, 0)
	m.Install()
	defer m.Uninstall()

	client := &http.Client{Transport: m.Transport(nil)}

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := client.Do(req); err == nil {
		t.Fatal("expected cancellation error")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	req2, _ := http.NewRequestWithContext(ctx2, http.MethodGet, srv.URL, nil)
	if _, err := client.Do(req2); err == nil {
		t.Fatal("expected timeout error")
	}

	reports := sink.all()
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].FailureKind != FailureAborted {
		t.Errorf("first report kind = %q, want aborted", reports[0].FailureKind)
	}
	if reports[1].FailureKind != FailureTimeout {
		t.Errorf("second report kind = %q, want timeout", reports[1].FailureKind)
	}
}

// The collector's own endpoint and explicitly ignored URLs never produce
// reports.
func TestMonitorIgnoreRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "fail", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := &reportSink{}
	m, err := NewMonitor(sink.handler, srv.URL, []string{`/healthz$`}, 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	m.Install()
	defer m.Uninstall()

	client := &http.Client{Transport: m.Transport(nil)}

	// Self endpoint: excluded even though it fails.
	resp, err := client.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if n := len(sink.all()); n != 0 {
		t.Errorf("self traffic reported: %d reports", n)
	}
}

func TestMonitorRejectsBadIgnorePattern(t *testing.T) {
	if _, err := NewMonitor(func(RequestReport) {}, "", []string{`[unclosed`}, 0, zap.NewNop()); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

// A client built from Transport(nil) while the monitor is installed must
// route around the already-patched shared transport: one request produces
// exactly one observation, never two.
func TestTransportSingleObservationWhileInstalled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := &reportSink{}
	m := newTestMonitor(t, sink, nil, 0)
	m.Install()
	defer m.Uninstall()

	client := &http.Client{Transport: m.Transport(nil)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if n := len(sink.all()); n != 1 {
		t.Fatalf("expected exactly 1 observation, got %d", n)
	}
}

// Install patches the shared transport and Uninstall restores it exactly.
func TestInstallUninstallRestoresTransport(t *testing.T) {
	orig := http.DefaultTransport
	t.Cleanup(func() { http.DefaultTransport = orig })

	sink := &reportSink{}
	m := newTestMonitor(t, sink, nil, 0)

	m.Install()
	if http.DefaultTransport == orig {
		t.Fatal("Install did not patch the transport")
	}
	m.Install() // idempotent

	m.Uninstall()
	if http.DefaultTransport != orig {
		t.Fatal("Uninstall did not restore the original transport")
	}
	m.Uninstall() // idempotent
	if http.DefaultTransport != orig {
		t.Fatal("second Uninstall changed the transport")
	}
}
