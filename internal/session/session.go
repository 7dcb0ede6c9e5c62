// Package session owns session identity and lifecycle: a locally generated
// negative id that is superseded by a server-assigned positive id the moment
// registration succeeds, persisted so sessions survive restarts and are
// shared across processes of the same user.
package session

import (
	"math/rand"
	"time"

	"github.com/fmarek/bugrelay/internal/hostinfo"
	"github.com/fmarek/bugrelay/internal/storage"
)

// Storage keys, namespaced by the storage prefix.
const (
	recordKey = "session"
	serverKey = "server_session"
)

// Record is the persisted session state.
type Record struct {
	LocalID        int64            `json:"local_id"`
	StartedAt      time.Time        `json:"started_at"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	Active         bool             `json:"active"`
	Context        hostinfo.Context `json:"context"`
}

// Expired reports whether the record has seen no activity for longer than
// timeout.
func (r *Record) Expired(timeout time.Duration, now time.Time) bool {
	return now.Sub(r.LastActivityAt) > timeout
}

// newLocalID synthesizes a session id that is guaranteed negative and unique
// within the profile: a monotonic millisecond clock read widened by three
// random digits.
func newLocalID(now time.Time) int64 {
	return -(now.UnixMilli()*1000 + rand.Int63n(1000))
}

// Peek reads the persisted session state without resuming, creating, or
// registering anything. serverID is zero when registration has not landed.
func Peek(store *storage.Store) (rec *Record, serverID int64, ok bool) {
	var r Record
	if !store.Get(recordKey, &r) {
		return nil, 0, false
	}
	var id int64
	store.Get(serverKey, &id)
	return &r, id, true
}
