// Package digest builds and renders a point-in-time snapshot of a tracking
// session: identity, environment, pending events, and local diagnostics.
// Digests back the status command's output and ride along with bug reports.
package digest

import (
	"time"

	"github.com/fmarek/bugrelay/event"
	"github.com/fmarek/bugrelay/internal/diagnose"
	"github.com/fmarek/bugrelay/internal/hostinfo"
	"github.com/fmarek/bugrelay/internal/shell"
)

// Digest is the complete, renderable snapshot of a session.
type Digest struct {
	Session        SessionMeta           `json:"session"`
	Context        hostinfo.Context      `json:"context"`
	Events         []event.Event         `json:"events"`
	Git            *diagnose.GitState    `json:"git,omitempty"`
	FailedCommands []shell.FailedCommand `json:"failed_commands,omitempty"`
}

// SessionMeta holds summary metadata about the session.
type SessionMeta struct {
	Address        int64     `json:"address"` // server id, or negative local id
	ServerBacked   bool      `json:"server_backed"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Counts summarizes the event set by type.
func (d *Digest) Counts() map[event.Type]int {
	counts := make(map[event.Type]int)
	for _, ev := range d.Events {
		counts[ev.Type]++
	}
	return counts
}
