package tokenx

import (
	"log/slog"
	"sync"
	"time"

	"github.com/senosalud/clinicsdk/pkg/slogx"
)

// DefaultExpiryBuffer is subtracted from server-declared token lifetimes so
// the client refreshes shortly before the token actually dies.
const DefaultExpiryBuffer = 60 * time.Second

// secondsScaleCutoff disambiguates epoch values: anything below this is
// treated as seconds and scaled to milliseconds.
const secondsScaleCutoff = 1e12

// Credentials are the login credentials optionally retained to support
// transparent re-login when the backend exposes no refresh endpoint.
type Credentials struct {
	Username string
	Password string
}

// Listener observes committed store transitions. Callbacks run synchronously
// on the goroutine that mutated the store, after the mutation is visible.
type Listener interface {
	TokensSet(rec Record)
	TokensCleared()
}

// RefreshTokenKeeper persists the refresh token across processes. Implemented
// by the keystore package; failures are logged, never fatal to Set.
type RefreshTokenKeeper interface {
	PutRefreshToken(value string) error
	DeleteRefreshToken() error
}

// StoreOptions configures NewStore. The zero value is usable.
type StoreOptions struct {
	// ExpiryBuffer is subtracted when deriving expiry from a TTL or a JWT
	// exp claim. Defaults to DefaultExpiryBuffer.
	ExpiryBuffer time.Duration

	// Keeper, when set, receives the refresh token on opted-in Set calls.
	Keeper RefreshTokenKeeper

	Logger *slog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Store holds the current access/refresh tokens, their expiry deadline, and
// the optionally retained credentials. One Store instance exists per process,
// constructed at the composition root and shared by the auth gateway, the
// request pipeline and the session manager.
//
// Set and Clear are the only mutations. Both are synchronous and
// mutex-guarded, so callers never observe partial state.
type Store struct {
	mu             sync.RWMutex
	accessToken    string
	refreshToken   string
	tokenType      string
	expiresAt      int64 // epoch millis; 0 = no known expiry
	raw            any
	credentials    *Credentials
	persistRefresh bool

	listenersMu sync.Mutex
	listeners   []Listener

	buffer time.Duration
	keeper RefreshTokenKeeper
	logger *slog.Logger
	now    func() time.Time
}

// SetOptions configures a single Set call.
type SetOptions struct {
	// Credentials, when non-nil, are retained for later re-authentication.
	Credentials *Credentials

	// PersistRefreshToken writes the refresh token to the keeper (7-day
	// lifetime) so the session survives process restarts. Opt-in.
	PersistRefreshToken bool

	// ExpiryBuffer overrides the store-level buffer when positive.
	ExpiryBuffer time.Duration
}

// ClearOptions configures Clear.
type ClearOptions struct {
	// KeepCredentials leaves retained credentials in place, so a forced
	// token wipe can still fall back to re-login.
	KeepCredentials bool
}

func NewStore(opts StoreOptions) *Store {
	buffer := opts.ExpiryBuffer
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogx.Nop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Store{
		tokenType: DefaultTokenType,
		buffer:    buffer,
		keeper:    opts.Keeper,
		logger:    logger,
		now:       now,
	}
}

// Subscribe registers a listener for Set/Clear transitions.
func (s *Store) Subscribe(l Listener) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenersMu.Unlock()
}

// Set normalizes payload and commits it as the current token state.
// Fails with ErrMissingAccessToken when the normalized access token is empty;
// the store is untouched in that case.
//
// The expiry deadline is computed in priority order: an explicit expires_at
// from the payload (seconds-scale values are promoted to millis), else
// now + (expires_in − buffer), else the JWT exp claim minus the buffer. When
// none apply the deadline stays unknown and the token is only renewed
// reactively on 401.
func (s *Store) Set(payload any, opts SetOptions) (Record, error) {
	rec := Normalize(payload)
	if rec.AccessToken == "" {
		return Record{}, ErrMissingAccessToken
	}

	buffer := s.buffer
	if opts.ExpiryBuffer > 0 {
		buffer = opts.ExpiryBuffer
	}
	now := s.now()

	var expiresAt int64
	if rec.ExpiresAt != nil && *rec.ExpiresAt > 0 {
		expiresAt = *rec.ExpiresAt
		if expiresAt < secondsScaleCutoff {
			expiresAt *= 1000
		}
	}
	if expiresAt == 0 && rec.ExpiresIn != nil && *rec.ExpiresIn >= 0 {
		effective := *rec.ExpiresIn - buffer.Seconds()
		if effective < 0 {
			effective = 0
		}
		expiresAt = now.UnixMilli() + int64(effective*1000)
	}
	if expiresAt == 0 {
		if exp, ok := DecodeExpiry(rec.AccessToken); ok {
			expiresAt = exp - buffer.Milliseconds()
			if expiresAt < 0 {
				expiresAt = 0
			}
		}
	}

	s.mu.Lock()
	s.accessToken = rec.AccessToken
	// A payload without a refresh token leaves the held one alone; refresh
	// responses routinely rotate only the access token.
	if rec.RefreshToken != "" {
		s.refreshToken = rec.RefreshToken
		s.persistRefresh = opts.PersistRefreshToken
	}
	s.tokenType = rec.TokenType
	if s.tokenType == "" {
		s.tokenType = DefaultTokenType
	}
	s.expiresAt = expiresAt
	s.raw = rec.Raw
	if opts.Credentials != nil {
		creds := *opts.Credentials
		s.credentials = &creds
	}
	s.mu.Unlock()

	if s.keeper != nil && rec.RefreshToken != "" {
		if opts.PersistRefreshToken {
			if err := s.keeper.PutRefreshToken(rec.RefreshToken); err != nil {
				s.logger.Warn("failed to persist refresh token", "error", err)
			}
		} else {
			if err := s.keeper.DeleteRefreshToken(); err != nil {
				s.logger.Warn("failed to clear persisted refresh token", "error", err)
			}
		}
	}

	s.notifySet(rec)
	return rec, nil
}

// Clear wipes the token state. Credentials survive only when requested; the
// persisted refresh token is always removed.
func (s *Store) Clear(opts ClearOptions) {
	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.tokenType = DefaultTokenType
	s.expiresAt = 0
	s.raw = nil
	if !opts.KeepCredentials {
		s.credentials = nil
	}
	s.mu.Unlock()

	if s.keeper != nil {
		if err := s.keeper.DeleteRefreshToken(); err != nil {
			s.logger.Warn("failed to clear persisted refresh token", "error", err)
		}
	}

	s.notifyCleared()
}

// AuthHeader returns the "<scheme> <token>" Authorization value, or false
// when unauthenticated.
func (s *Store) AuthHeader() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accessToken == "" {
		return "", false
	}
	scheme := s.tokenType
	if scheme == "" {
		scheme = DefaultTokenType
	}
	return scheme + " " + s.accessToken, true
}

// IsExpired reports whether the access token is (or will be, within skew)
// past its deadline. Always true when unauthenticated; always false when no
// deadline is known.
func (s *Store) IsExpired(skew time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accessToken == "" {
		return true
	}
	if s.expiresAt == 0 {
		return false
	}
	if skew < 0 {
		skew = 0
	}
	return s.now().UnixMilli()+skew.Milliseconds() >= s.expiresAt
}

// AccessToken returns the current access token, empty when unauthenticated.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// SeedRefreshToken installs a refresh token restored from persistence,
// without touching the rest of the state and without notifying listeners.
// A refresh token from a live Set wins: seeding is a no-op when one is
// already held. A seeded token marks the store as persisting, so later
// rotations keep writing through to the keeper.
func (s *Store) SeedRefreshToken(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	if s.refreshToken == "" {
		s.refreshToken = token
		s.persistRefresh = true
	}
	s.mu.Unlock()
}

// RefreshToken returns the current refresh token, if any.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// HasRefreshToken reports whether a refresh token is held.
func (s *Store) HasRefreshToken() bool {
	return s.RefreshToken() != ""
}

// ExpiresAt returns the expiry deadline in epoch millis, or false when no
// deadline is known.
func (s *Store) ExpiresAt() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expiresAt == 0 {
		return 0, false
	}
	return s.expiresAt, true
}

// Credentials returns the retained login credentials, if any.
func (s *Store) Credentials() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.credentials == nil {
		return Credentials{}, false
	}
	return *s.credentials, true
}

// PersistsRefreshToken reports whether the most recent Set opted into
// refresh-token persistence.
func (s *Store) PersistsRefreshToken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistRefresh
}

func (s *Store) notifySet(rec Record) {
	for _, l := range s.snapshotListeners() {
		l.TokensSet(rec)
	}
}

func (s *Store) notifyCleared() {
	for _, l := range s.snapshotListeners() {
		l.TokensCleared()
	}
}

func (s *Store) snapshotListeners() []Listener {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	out := make([]Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}
