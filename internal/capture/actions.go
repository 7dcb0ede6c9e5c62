package capture

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// textLimit truncates free-text and input values before they leave the host.
const textLimit = 100

// throttleDelay suppresses bursts of identical action kinds.
const throttleDelay = 100 * time.Millisecond

// Action is one user interaction reported by the host application's UI
// layer: a click, a form submit, a field change, a key press.
type Action struct {
	Kind    string // click, submit, change, keypress, navigation, ...
	TagName string // control kind: button, form, link, input, ...
	Path    string // position of the control in the UI tree
	Text    string // visible label or content

	// Attrs carries control attributes: href for links, method and action
	// for forms, name/type/value for inputs.
	Attrs map[string]string
}

// ActionHandler receives normalized user actions.
type ActionHandler func(Action)

// ActionTracker observes user interactions delegated to it by the host UI.
// It throttles bursts per action kind, drops ignored kinds, and truncates
// captured text before emitting.
type ActionTracker struct {
	handler ActionHandler
	log     *zap.Logger

	mu       sync.Mutex
	active   bool
	ignored  []string
	lastSeen map[string]time.Time
	now      func() time.Time
}

// NewActionTracker creates a stopped tracker. ignoredKinds suppresses whole
// action kinds (exact match).
func NewActionTracker(handler ActionHandler, ignoredKinds []string, log *zap.Logger) *ActionTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &ActionTracker{
		handler:  handler,
		log:      log,
		ignored:  ignoredKinds,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Start begins accepting actions. Idempotent.
func (t *ActionTracker) Start() {
	t.mu.Lock()
	t.active = true
	t.mu.Unlock()
}

// Stop ceases accepting actions. Idempotent.
func (t *ActionTracker) Stop() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
}

// Active reports whether the tracker accepts actions.
func (t *ActionTracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Record reports one interaction. Inactive trackers, ignored kinds, and
// same-kind bursts inside the throttle window drop the action.
func (t *ActionTracker) Record(a Action) {
	t.mu.Lock()
	if !t.active || t.isIgnoredLocked(a.Kind) {
		t.mu.Unlock()
		return
	}
	now := t.now()
	if last, ok := t.lastSeen[a.Kind]; ok && now.Sub(last) < throttleDelay {
		t.mu.Unlock()
		return
	}
	t.lastSeen[a.Kind] = now
	t.mu.Unlock()

	a.Text = truncate(a.Text, textLimit)
	if v, ok := a.Attrs["value"]; ok {
		a.Attrs["value"] = truncate(v, textLimit)
	}

	defer func() {
		if r := recover(); r != nil {
			t.log.Warn("action handler panicked", zap.Any("panic", r))
		}
	}()
	t.handler(a)
}

func (t *ActionTracker) isIgnoredLocked(kind string) bool {
	for _, k := range t.ignored {
		if strings.EqualFold(k, kind) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
