package sessionx

import (
	"log/slog"
	"sync"
	"time"

	"github.com/senosalud/clinicsdk/pkg/slogx"
	"github.com/senosalud/clinicsdk/pkg/tokenx"
)

// ManagerOptions configures a Manager. The zero value uses in-memory
// storage, a discard logger and the wall clock.
type ManagerOptions struct {
	Storage Storage
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Manager tracks the current session as token state changes. It implements
// tokenx.Listener so a single Subscribe call keeps it in lockstep with the
// token store: every token set re-derives the session, every clear drops
// it. The session is persisted through Storage on every change.
type Manager struct {
	store   *tokenx.Store
	storage Storage
	logger  *slog.Logger
	clock   func() time.Time

	mu       sync.RWMutex
	current  *Session
	onChange []func(*Session)
}

// NewManager loads any persisted session, discarding it when expired, and
// subscribes to the token store.
func NewManager(store *tokenx.Store, opts ManagerOptions) *Manager {
	storage := opts.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogx.Nop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	m := &Manager{store: store, storage: storage, logger: logger, clock: clock}

	session, err := storage.Load()
	if err != nil {
		logger.Warn("could not load persisted session", "error", err)
	}
	if session != nil {
		if session.Token == "" || session.Role == "" || session.UserID == 0 {
			session = nil
			storage.Delete() //nolint:errcheck
		} else if session.ExpiresAt != nil && clock().UnixMilli() > *session.ExpiresAt {
			logger.Debug("persisted session expired, discarding")
			session = nil
			storage.Delete() //nolint:errcheck
		}
	}
	m.current = session

	store.Subscribe(m)
	return m
}

// Current returns the active session, nil when signed out.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Can reports whether the current session's role grants perm. False when
// nobody is signed in.
func (m *Manager) Can(perm string) bool {
	return m.Current().Can(perm)
}

// HasAll reports whether the current session's role grants every permission
// in perms. An empty list is vacuously granted, signed in or not.
func (m *Manager) HasAll(perms []string) bool {
	s := m.Current()
	if s == nil {
		return len(perms) == 0
	}
	return HasAll(s.Role, perms)
}

// HasAny reports whether the current session's role grants at least one of
// perms.
func (m *Manager) HasAny(perms []string) bool {
	s := m.Current()
	if s == nil {
		return false
	}
	return HasAny(s.Role, perms)
}

// OnChange registers a callback invoked after every session transition,
// including sign-out (nil session). Callbacks run on the goroutine that
// changed the token state.
func (m *Manager) OnChange(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Restore seeds the token store from a persisted session so a restarted
// process resumes authenticated. Returns true when a session was restored.
func (m *Manager) Restore() bool {
	m.mu.RLock()
	session := m.current
	m.mu.RUnlock()
	if session == nil || session.Token == "" {
		return false
	}
	if _, err := m.store.Set(map[string]any{"token": session.Token}, tokenx.SetOptions{}); err != nil {
		m.logger.Warn("could not restore persisted session", "error", err)
		m.store.Clear(tokenx.ClearOptions{})
		return false
	}
	return true
}

// TokensSet implements tokenx.Listener.
func (m *Manager) TokensSet(rec tokenx.Record) {
	m.mu.Lock()
	next := Derive(&rec, m.store, m.current)
	changed := !m.current.Equal(next)
	m.current = next
	callbacks := m.callbacksLocked(changed)
	m.mu.Unlock()

	if changed {
		m.persist(next)
	}
	for _, fn := range callbacks {
		fn(next)
	}
}

// TokensCleared implements tokenx.Listener.
func (m *Manager) TokensCleared() {
	m.mu.Lock()
	changed := m.current != nil
	m.current = nil
	callbacks := m.callbacksLocked(changed)
	m.mu.Unlock()

	if changed {
		if err := m.storage.Delete(); err != nil {
			m.logger.Warn("could not delete persisted session", "error", err)
		}
	}
	for _, fn := range callbacks {
		fn(nil)
	}
}

func (m *Manager) callbacksLocked(changed bool) []func(*Session) {
	if !changed || len(m.onChange) == 0 {
		return nil
	}
	callbacks := make([]func(*Session), len(m.onChange))
	copy(callbacks, m.onChange)
	return callbacks
}

func (m *Manager) persist(session *Session) {
	var err error
	if session == nil || session.Token == "" || session.Role == "" || session.UserID == 0 {
		err = m.storage.Delete()
	} else {
		err = m.storage.Save(session)
	}
	if err != nil {
		m.logger.Warn("could not persist session", "error", err)
	}
}
