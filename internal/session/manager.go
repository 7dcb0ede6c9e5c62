package session

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fmarek/bugrelay/internal/hostinfo"
	"github.com/fmarek/bugrelay/internal/storage"
)

// DefaultTimeout is the inactivity window after which a session expires.
const DefaultTimeout = 30 * time.Minute

// DefaultCheckInterval is how often the background cleanup pass runs.
const DefaultCheckInterval = time.Minute

// registerWindow bounds one asynchronous registration campaign.
const registerWindow = 30 * time.Second

// RegisterFunc performs server-side session registration and returns the
// server-assigned positive session id.
type RegisterFunc func(ctx context.Context, hctx hostinfo.Context, startedAt time.Time) (int64, error)

// Manager owns the session record and its lifecycle. The session address it
// hands out is the server id once known, the negative local id until then.
type Manager struct {
	store         *storage.Store
	timeout       time.Duration
	checkInterval time.Duration
	register      RegisterFunc
	log           *zap.Logger

	mu           sync.Mutex
	initialized  bool
	localID      int64
	serverID     int64
	rec          *Record
	lastActivity time.Time

	registering atomic.Bool
	startOnce   sync.Once
	done        chan struct{}
	closeOnce   sync.Once
	watcher     *fsnotify.Watcher
}

// NewManager creates a manager persisting through store. register may be nil,
// in which case the session stays local-only.
func NewManager(store *storage.Store, timeout, checkInterval time.Duration, register RegisterFunc, log *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:         store,
		timeout:       timeout,
		checkInterval: checkInterval,
		register:      register,
		log:           log,
		done:          make(chan struct{}),
	}
}

// Initialize resumes a persisted session that is still within the inactivity
// timeout, or creates a fresh one. It is idempotent after the first
// successful call and never blocks on the network: server registration runs
// in the background and the local id addresses the session until it lands.
func (m *Manager) Initialize() int64 {
	m.mu.Lock()
	if m.initialized {
		addr := m.addressLocked()
		m.mu.Unlock()
		return addr
	}

	now := time.Now()

	var serverID int64
	if m.store.Get(serverKey, &serverID) && serverID > 0 {
		m.serverID = serverID
	}

	var rec Record
	if m.store.Get(recordKey, &rec) && !rec.Expired(m.timeout, now) {
		m.rec = &rec
		m.localID = rec.LocalID
		m.lastActivity = now
		m.touchLocked(now)
		m.log.Debug("session resumed", zap.Int64("local_id", m.localID))
	} else {
		m.createLocked(now)
	}
	m.initialized = true
	needRegister := m.serverID == 0
	addr := m.addressLocked()
	m.mu.Unlock()

	m.startOnce.Do(func() {
		go m.cleanupLoop()
		m.startWatcher()
	})
	if needRegister {
		m.EnsureRegistered()
	}
	return addr
}

// createLocked synthesizes a new local-only session and persists it.
func (m *Manager) createLocked(now time.Time) {
	m.localID = newLocalID(now)
	m.serverID = 0
	m.store.Remove(serverKey)
	m.lastActivity = now
	m.rec = &Record{
		LocalID:        m.localID,
		StartedAt:      now,
		LastActivityAt: now,
		Active:         true,
		Context:        hostinfo.Collect(),
	}
	m.store.Set(recordKey, m.rec)
	m.log.Debug("session created", zap.Int64("local_id", m.localID))
}

// Address returns the current session address: the server id when known,
// the negative local id otherwise, zero when no session exists.
func (m *Manager) Address() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addressLocked()
}

func (m *Manager) addressLocked() int64 {
	if m.serverID != 0 {
		return m.serverID
	}
	return m.localID
}

// Context returns the environment snapshot collected at session creation.
func (m *Manager) Context() hostinfo.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return hostinfo.Context{}
	}
	return m.rec.Context
}

// StartedAt returns the session start time, zero when no session exists.
func (m *Manager) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return time.Time{}
	}
	return m.rec.StartedAt
}

// IsServerBacked reports whether a server-assigned id addresses the session.
func (m *Manager) IsServerBacked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serverID != 0
}

// SetServerAddress records the server-assigned id. From this moment every
// send addresses the session by it; the local id is retired.
func (m *Manager) SetServerAddress(id int64) {
	if id <= 0 {
		return
	}
	m.mu.Lock()
	m.serverID = id
	m.store.Set(serverKey, id)
	m.mu.Unlock()
	m.log.Debug("session registered", zap.Int64("server_id", id))
}

// Touch records activity now, deferring expiry.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return
	}
	m.touchLocked(time.Now())
}

func (m *Manager) touchLocked(now time.Time) {
	m.lastActivity = now
	if m.rec != nil {
		m.rec.LastActivityAt = now
		m.store.Set(recordKey, m.rec)
	}
}

// EndSession clears all persisted and in-memory session state. The next
// Initialize starts clean; an ended session can never silently reactivate.
func (m *Manager) EndSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endLocked()
}

func (m *Manager) endLocked() {
	m.store.Remove(recordKey)
	m.store.Remove(serverKey)
	m.rec = nil
	m.localID = 0
	m.serverID = 0
	m.initialized = false
	m.log.Debug("session ended")
}

// EnsureRegistered opportunistically kicks off server registration when the
// session is still local-only. At most one campaign runs at a time and
// callers are never blocked.
func (m *Manager) EnsureRegistered() {
	if m.register == nil || m.IsServerBacked() {
		return
	}
	if !m.registering.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.registering.Store(false)
		m.registerCampaign()
	}()
}

// registerCampaign retries registration with exponential backoff for a
// bounded window. Exhaustion leaves the session in local-only mode; a later
// flush trigger starts a new campaign.
func (m *Manager) registerCampaign() {
	m.mu.Lock()
	if m.rec == nil {
		m.mu.Unlock()
		return
	}
	hctx := m.rec.Context
	startedAt := m.rec.StartedAt
	m.mu.Unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = registerWindow

	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		id, err := m.register(ctx, hctx, startedAt)
		if err != nil {
			return err
		}
		m.SetServerAddress(id)
		return nil
	}, policy)
	if err != nil {
		m.log.Debug("session registration failed, staying local-only", zap.Error(err))
	}
}

// WaitForServer blocks until a server id is known or ctx expires, kicking a
// registration campaign first. Returns the current address either way; ok
// reports whether it is server-backed.
func (m *Manager) WaitForServer(ctx context.Context) (addr int64, ok bool) {
	m.EnsureRegistered()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.IsServerBacked() {
			return m.Address(), true
		}
		select {
		case <-ctx.Done():
			return m.Address(), false
		case <-ticker.C:
		}
	}
}

// cleanupLoop ends the session automatically once the inactivity timeout
// elapses, checked at a coarse interval.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			if m.rec != nil && now.Sub(m.lastActivity) > m.timeout {
				m.log.Debug("session expired", zap.Int64("local_id", m.localID))
				m.endLocked()
			}
			m.mu.Unlock()
		}
	}
}

// startWatcher replicates the session record across processes of the same
// user: when another process writes a newer record, this one adopts it.
// Last writer wins by creation timestamp; brief staleness between processes
// is tolerated.
func (m *Manager) startWatcher() {
	if !m.store.Available() {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.log.Debug("session watcher unavailable", zap.Error(err))
		return
	}
	if err := watcher.Add(m.store.Dir()); err != nil {
		m.log.Debug("session watcher unavailable", zap.Error(err))
		watcher.Close()
		return
	}
	m.watcher = watcher

	recordFile := m.store.FileName(recordKey)
	serverFile := m.store.FileName(serverKey)

	go func() {
		for {
			select {
			case <-m.done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				switch filepath.Base(ev.Name) {
				case recordFile:
					m.adoptNewerRecord()
				case serverFile:
					m.adoptServerID()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Watcher errors are non-fatal; keep watching.
			}
		}
	}()
}

func (m *Manager) adoptNewerRecord() {
	var loaded Record
	if !m.store.Get(recordKey, &loaded) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec != nil && !loaded.StartedAt.After(m.rec.StartedAt) {
		return
	}
	m.rec = &loaded
	m.localID = loaded.LocalID
	m.lastActivity = loaded.LastActivityAt
	m.log.Debug("adopted session record from peer process", zap.Int64("local_id", m.localID))
}

func (m *Manager) adoptServerID() {
	var id int64
	if !m.store.Get(serverKey, &id) || id <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serverID == 0 {
		m.serverID = id
	}
}

// Close stops the cleanup timer and the replication watcher. It does not end
// the session; the persisted record stays so a restart can resume it.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		if m.watcher != nil {
			m.watcher.Close()
		}
	})
}
