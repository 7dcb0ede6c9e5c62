package capture

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPerfMonitorEmitsStartupOnce(t *testing.T) {
	var mu sync.Mutex
	var samples []PerfSample
	p := NewPerfMonitor(func(s PerfSample) {
		mu.Lock()
		samples = append(samples, s)
		mu.Unlock()
	}, time.Now().Add(-250*time.Millisecond), 0, zap.NewNop())

	p.Start()
	p.Stop()
	p.Start() // restart must not repeat the startup sample
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(samples) != 1 {
		t.Fatalf("expected 1 startup sample, got %d", len(samples))
	}
	got := samples[0]
	if !got.Startup {
		t.Error("sample not marked as startup")
	}
	if got.StartupDuration < 250*time.Millisecond {
		t.Errorf("startup duration = %v, want at least the anchor offset", got.StartupDuration)
	}
	if got.HeapAlloc == 0 || got.NumGoroutine == 0 {
		t.Errorf("runtime gauges missing: %+v", got)
	}
}

func TestPerfMonitorOnDemandSample(t *testing.T) {
	var mu sync.Mutex
	count := 0
	p := NewPerfMonitor(func(s PerfSample) {
		mu.Lock()
		count++
		mu.Unlock()
	}, time.Now(), 0, zap.NewNop())

	p.Sample() // inactive: dropped
	p.Start()
	p.Sample()
	p.Stop()
	p.Sample() // stopped again: dropped

	mu.Lock()
	defer mu.Unlock()
	// Startup sample plus the one explicit sample while active.
	if count != 2 {
		t.Errorf("expected 2 samples, got %d", count)
	}
}

func TestPerfMonitorPeriodicSampling(t *testing.T) {
	sampled := make(chan PerfSample, 16)
	p := NewPerfMonitor(func(s PerfSample) {
		select {
		case sampled <- s:
		default:
		}
	}, time.Now(), 10*time.Millisecond, zap.NewNop())

	p.Start()
	defer p.Stop()

	<-sampled // startup
	select {
	case s := <-sampled:
		if s.Startup {
			t.Error("periodic sample marked as startup")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no periodic sample arrived")
	}
}

func TestPerfMonitorHandlerPanicContained(t *testing.T) {
	p := NewPerfMonitor(func(PerfSample) { panic("handler bug") }, time.Now(), 0, zap.NewNop())
	p.Start() // startup emit must not panic
	p.Stop()
}
