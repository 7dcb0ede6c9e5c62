// Package event defines the normalized telemetry event model shared by the
// instrumentation sources, the buffer, and the delivery layer.
package event

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies a captured observation.
type Type string

const (
	TypeError       Type = "ERROR"
	TypeAction      Type = "ACTION"
	TypeNetwork     Type = "NETWORK"
	TypePerformance Type = "PERFORMANCE"
	TypeCustom      Type = "CUSTOM"
)

// Urgent reports whether events of this type bypass batching and trigger an
// immediate delivery attempt.
func (t Type) Urgent() bool {
	return t == TypeError || t == TypeAction
}

// Event is a single normalized observation. Events live in memory only; they
// are either transmitted or discarded when the process ends.
type Event struct {
	Type      Type      `json:"type"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"` // logical location of the host app at capture time

	// EventID is a client-generated correlation id, assigned exactly once at
	// creation and carried through to the wire payload.
	EventID string `json:"eventId"`

	// Error details.
	Message    string `json:"message,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`

	// User action details.
	TagName    string            `json:"tagName,omitempty"`
	Path       string            `json:"path,omitempty"` // element path within the UI tree
	Attributes map[string]string `json:"attributes,omitempty"`

	// Network details.
	Method     string        `json:"method,omitempty"`
	NetworkURL string        `json:"networkUrl,omitempty"`
	StatusCode int           `json:"statusCode,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`

	// CustomMetadata carries caller-supplied fields verbatim to the wire.
	CustomMetadata map[string]any `json:"customMetadata,omitempty"`
}

// New creates an event of the given type with a fresh correlation id and the
// current timestamp.
func New(t Type, name string) Event {
	return Event{
		Type:      t,
		Name:      name,
		Timestamp: time.Now(),
		EventID:   uuid.NewString(),
	}
}

// SetMeta stores a custom metadata value, allocating the map on first use.
func (e *Event) SetMeta(key string, value any) {
	if e.CustomMetadata == nil {
		e.CustomMetadata = make(map[string]any)
	}
	e.CustomMetadata[key] = value
}

// Fingerprint produces a stable grouping key for an error from its name and
// the leading stack frames. Two occurrences of the same failure at the same
// site share a fingerprint even when messages embed varying values.
func Fingerprint(name, message, stack string) string {
	h := fnv.New64a()
	h.Write([]byte(name))
	h.Write([]byte(firstLine(message)))
	for i, frame := range strings.Split(stack, "\n") {
		if i >= 6 {
			break
		}
		h.Write([]byte(strings.TrimSpace(frame)))
	}
	return strconv.FormatUint(h.Sum64(), 36)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// String implements fmt.Stringer for debug logging.
func (e Event) String() string {
	return fmt.Sprintf("%s %q (%s)", e.Type, e.Name, e.EventID)
}
