package capture

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PerfSample is one snapshot of process health.
type PerfSample struct {
	// Startup timing, reported once.
	StartupDuration time.Duration
	Startup         bool

	// Runtime gauges.
	HeapAlloc     uint64
	HeapSys       uint64
	NumGC         uint32
	PauseTotal    time.Duration
	NumGoroutine  int
	LastGCElapsed time.Duration
}

// PerfHandler receives performance samples from a PerfMonitor.
type PerfHandler func(PerfSample)

// PerfMonitor reports process performance: a one-time startup timing sample
// shortly after Start, then optional periodic runtime samples.
type PerfMonitor struct {
	handler  PerfHandler
	interval time.Duration
	log      *zap.Logger

	startedAt time.Time

	mu     sync.Mutex
	active bool
	done   chan struct{}

	startupOnce sync.Once
}

// NewPerfMonitor creates a stopped monitor. processStart anchors the startup
// timing measurement; a zero interval disables periodic sampling.
func NewPerfMonitor(handler PerfHandler, processStart time.Time, interval time.Duration, log *zap.Logger) *PerfMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	if processStart.IsZero() {
		processStart = time.Now()
	}
	return &PerfMonitor{
		handler:   handler,
		interval:  interval,
		log:       log,
		startedAt: processStart,
	}
}

// Start emits the startup sample and, when an interval is configured, begins
// periodic runtime sampling. Idempotent.
func (p *PerfMonitor) Start() {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return
	}
	p.active = true
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.startupOnce.Do(func() {
		sample := p.runtimeSample()
		sample.Startup = true
		sample.StartupDuration = time.Since(p.startedAt)
		p.emit(sample)
	})

	if p.interval > 0 {
		go p.loop(done)
	}
}

// Stop ceases periodic sampling. Idempotent.
func (p *PerfMonitor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.active = false
	close(p.done)
	p.done = nil
}

// Active reports whether the monitor is running.
func (p *PerfMonitor) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Sample emits one runtime sample on demand.
func (p *PerfMonitor) Sample() {
	if !p.Active() {
		return
	}
	p.emit(p.runtimeSample())
}

func (p *PerfMonitor) loop(done chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.emit(p.runtimeSample())
		}
	}
}

func (p *PerfMonitor) runtimeSample() PerfSample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	sample := PerfSample{
		HeapAlloc:    ms.HeapAlloc,
		HeapSys:      ms.HeapSys,
		NumGC:        ms.NumGC,
		PauseTotal:   time.Duration(ms.PauseTotalNs),
		NumGoroutine: runtime.NumGoroutine(),
	}
	if ms.LastGC > 0 {
		sample.LastGCElapsed = time.Since(time.Unix(0, int64(ms.LastGC)))
	}
	return sample
}

func (p *PerfMonitor) emit(sample PerfSample) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("performance handler panicked", zap.Any("panic", r))
		}
	}()
	p.handler(sample)
}
