package bugrelay

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/fmarek/bugrelay/event"
)

// ConfigError reports a configuration problem detected at construction.
// Misconfiguration fails loudly and immediately instead of surfacing later as
// silent non-delivery.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}

// Config controls a Tracker. The zero value plus ProjectID and APIURL is a
// working configuration.
type Config struct {
	// ProjectID identifies the project server-side. Required.
	ProjectID int64

	// APIURL is the collection endpoint base. Required.
	APIURL string

	// Environment and Release tag every session.
	Environment string
	Release     string

	// BufferSize bounds the in-memory queue; zero means the default of 50.
	BufferSize int

	// FlushInterval drives periodic delivery of pending events. Zero disables
	// the timer; urgency and capacity still trigger flushes.
	FlushInterval time.Duration

	// Per-source capture toggles. Capture is on unless disabled.
	DisableErrorCapture   bool
	DisableActionCapture  bool
	DisableNetworkCapture bool
	DisablePerfCapture    bool
	DisableLogCapture     bool

	// SessionTimeout is the inactivity window ending a session; zero means 30
	// minutes. CheckInterval is the expiry sweep cadence; zero means a minute.
	SessionTimeout time.Duration
	CheckInterval  time.Duration

	// IgnoreURLs are regular expressions; matching request URLs are not
	// captured by the network monitor. IgnoreErrors are substring patterns
	// suppressing matching errors. IgnoredActions suppresses whole action
	// kinds.
	IgnoreURLs     []string
	IgnoreErrors   []string
	IgnoredActions []string

	// SlowRequestThreshold reports successful requests slower than this;
	// zero disables slow-request capture.
	SlowRequestThreshold time.Duration

	// SampleRate keeps the given fraction of sessions, decided once per
	// session. Zero means 1.0 (keep all).
	SampleRate float64

	// BeforeSend inspects and can mutate or veto every event just before it
	// enters the buffer. Returning nil drops the event.
	BeforeSend func(event.Event) *event.Event

	// PerfInterval drives periodic runtime sampling; zero emits only the
	// one-time startup sample.
	PerfInterval time.Duration

	// StateDir overrides where session state persists. Empty uses the
	// user state directory.
	StateDir string

	// BeaconMaxPayload overrides the shutdown-delivery size ceiling.
	// Zero means 64000 bytes.
	BeaconMaxPayload int

	// HTTPClient overrides the reporting client. Nil gets a dedicated
	// client that bypasses any installed transport interception.
	HTTPClient *http.Client

	// Logger receives the tracker's own diagnostics. Nil is silent; Debug
	// switches a nil Logger to a development logger on stderr.
	Logger *zap.Logger
	Debug  bool
}

// validate checks the required fields and normalizes defaults-by-zero.
func (c *Config) validate() error {
	if c.ProjectID <= 0 {
		return &ConfigError{Field: "ProjectID", Reason: "must be a positive project identifier"}
	}
	if c.APIURL == "" {
		return &ConfigError{Field: "APIURL", Reason: "is required"}
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: "APIURL", Reason: fmt.Sprintf("%q is not an absolute URL", c.APIURL)}
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return &ConfigError{Field: "SampleRate", Reason: "must be within [0, 1]"}
	}
	return nil
}

// logger resolves the effective diagnostic logger.
func (c *Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	if c.Debug {
		if l, err := zap.NewDevelopment(); err == nil {
			return l
		}
	}
	return zap.NewNop()
}

// sampleRate resolves the effective sampling rate.
func (c *Config) sampleRate() float64 {
	if c.SampleRate == 0 {
		return 1.0
	}
	return c.SampleRate
}
