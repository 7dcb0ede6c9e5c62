package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fmarek/bugrelay/internal/hostinfo"
	"github.com/fmarek/bugrelay/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	return storage.Open(t.TempDir(), zap.NewNop())
}

func TestInitializeCreatesNegativeLocalID(t *testing.T) {
	m := NewManager(newTestStore(t), time.Hour, time.Minute, nil, zap.NewNop())
	defer m.Close()

	addr := m.Initialize()
	if addr >= 0 {
		t.Fatalf("expected negative local id, got %d", addr)
	}
	if m.Address() != addr {
		t.Errorf("Address() = %d, want %d", m.Address(), addr)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	m := NewManager(newTestStore(t), time.Hour, time.Minute, nil, zap.NewNop())
	defer m.Close()

	first := m.Initialize()
	second := m.Initialize()
	if first != second {
		t.Errorf("repeated Initialize changed the id: %d then %d", first, second)
	}
}

// A session within the inactivity window is resumed by a new manager over the
// same store.
func TestResumeWithinTimeout(t *testing.T) {
	store := newTestStore(t)

	m1 := NewManager(store, time.Hour, time.Minute, nil, zap.NewNop())
	id1 := m1.Initialize()
	m1.Close()

	m2 := NewManager(store, time.Hour, time.Minute, nil, zap.NewNop())
	defer m2.Close()
	id2 := m2.Initialize()

	if id1 != id2 {
		t.Errorf("expected resumed session %d, got %d", id1, id2)
	}
}

// An expired session is replaced with a fresh identity.
func TestExpiredSessionNotResumed(t *testing.T) {
	store := newTestStore(t)

	m1 := NewManager(store, time.Hour, time.Minute, nil, zap.NewNop())
	id1 := m1.Initialize()
	m1.Close()

	// Age the persisted record past the timeout.
	rec, _, ok := Peek(store)
	if !ok {
		t.Fatal("expected persisted record")
	}
	rec.LastActivityAt = time.Now().Add(-2 * time.Hour)
	store.Set(recordKey, rec)

	m2 := NewManager(store, time.Hour, time.Minute, nil, zap.NewNop())
	defer m2.Close()
	id2 := m2.Initialize()

	if id1 == id2 {
		t.Error("expected a fresh session id after expiry")
	}
}

func TestEndSessionThenInitializeStartsFresh(t *testing.T) {
	m := NewManager(newTestStore(t), time.Hour, time.Minute, nil, zap.NewNop())
	defer m.Close()

	id1 := m.Initialize()
	m.EndSession()

	if m.Address() != 0 {
		t.Errorf("expected zero address after EndSession, got %d", m.Address())
	}

	id2 := m.Initialize()
	if id2 == 0 || id2 == id1 {
		t.Errorf("expected fresh id after EndSession, got %d (was %d)", id2, id1)
	}
}

// The server id supersedes the local id the instant registration lands, and
// survives manager restarts.
func TestServerAddressSupersedesLocal(t *testing.T) {
	store := newTestStore(t)

	m := NewManager(store, time.Hour, time.Minute, nil, zap.NewNop())
	local := m.Initialize()
	if m.IsServerBacked() {
		t.Fatal("fresh session should not be server-backed")
	}

	m.SetServerAddress(9001)
	if got := m.Address(); got != 9001 {
		t.Errorf("Address() = %d, want 9001", got)
	}
	if !m.IsServerBacked() {
		t.Error("expected server-backed after SetServerAddress")
	}
	if local >= 0 {
		t.Errorf("local id should have been negative, got %d", local)
	}
	m.Close()

	m2 := NewManager(store, time.Hour, time.Minute, nil, zap.NewNop())
	defer m2.Close()
	if got := m2.Initialize(); got != 9001 {
		t.Errorf("restart lost server id: got %d", got)
	}
}

func TestSetServerAddressRejectsNonPositive(t *testing.T) {
	m := NewManager(newTestStore(t), time.Hour, time.Minute, nil, zap.NewNop())
	defer m.Close()
	local := m.Initialize()

	m.SetServerAddress(0)
	m.SetServerAddress(-5)
	if got := m.Address(); got != local {
		t.Errorf("non-positive server id adopted: %d", got)
	}
}

// Registration runs in the background and lands the server id without
// blocking Initialize.
func TestBackgroundRegistration(t *testing.T) {
	var calls atomic.Int32
	register := func(ctx context.Context, hctx hostinfo.Context, startedAt time.Time) (int64, error) {
		calls.Add(1)
		return 777, nil
	}

	m := NewManager(newTestStore(t), time.Hour, time.Minute, register, zap.NewNop())
	defer m.Close()

	addr := m.Initialize()
	if addr >= 0 {
		t.Fatalf("Initialize must return the local id immediately, got %d", addr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, ok := m.WaitForServer(ctx)
	if !ok || got != 777 {
		t.Fatalf("WaitForServer = (%d, %v), want (777, true)", got, ok)
	}
}

// Registration failure leaves the session usable in local-only mode.
func TestRegistrationFailureStaysLocal(t *testing.T) {
	register := func(ctx context.Context, hctx hostinfo.Context, startedAt time.Time) (int64, error) {
		return 0, errors.New("server down")
	}

	m := NewManager(newTestStore(t), time.Hour, time.Minute, register, zap.NewNop())
	defer m.Close()

	local := m.Initialize()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	got, ok := m.WaitForServer(ctx)
	if ok {
		t.Fatal("expected WaitForServer to time out")
	}
	if got != local {
		t.Errorf("expected local id %d, got %d", local, got)
	}
}

func TestTouchDefersExpiry(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store, time.Hour, time.Minute, nil, zap.NewNop())
	defer m.Close()
	m.Initialize()

	before, _, _ := Peek(store)
	time.Sleep(10 * time.Millisecond)
	m.Touch()
	after, _, _ := Peek(store)

	if !after.LastActivityAt.After(before.LastActivityAt) {
		t.Error("Touch did not advance LastActivityAt")
	}
}

func TestRecordExpired(t *testing.T) {
	now := time.Now()
	r := Record{LastActivityAt: now.Add(-31 * time.Minute)}
	if !r.Expired(30*time.Minute, now) {
		t.Error("expected expired past the timeout")
	}
	r.LastActivityAt = now.Add(-29 * time.Minute)
	if r.Expired(30*time.Minute, now) {
		t.Error("expected alive within the timeout")
	}
}
