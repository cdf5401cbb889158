package tokenx

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeKeeper records refresh-token persistence calls.
type fakeKeeper struct {
	mu      sync.Mutex
	token   string
	puts    int
	deletes int
	fail    error
}

func (k *fakeKeeper) PutRefreshToken(value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.fail != nil {
		return k.fail
	}
	k.token = value
	k.puts++
	return nil
}

func (k *fakeKeeper) DeleteRefreshToken() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.fail != nil {
		return k.fail
	}
	k.token = ""
	k.deletes++
	return nil
}

// recordingListener captures store notifications.
type recordingListener struct {
	mu      sync.Mutex
	sets    []Record
	cleared int
}

func (l *recordingListener) TokensSet(rec Record) {
	l.mu.Lock()
	l.sets = append(l.sets, rec)
	l.mu.Unlock()
}

func (l *recordingListener) TokensCleared() {
	l.mu.Lock()
	l.cleared++
	l.mu.Unlock()
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestStoreSet(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_000)

	t.Run("rejects payload without access token", func(t *testing.T) {
		s := NewStore(StoreOptions{Clock: fixedClock(now)})
		_, err := s.Set(map[string]any{"refresh_token": "rt"}, SetOptions{})
		require.ErrorIs(t, err, ErrMissingAccessToken)
		require.Empty(t, s.AccessToken())
	})

	t.Run("explicit expires_at in millis wins", func(t *testing.T) {
		s := NewStore(StoreOptions{Clock: fixedClock(now)})
		deadline := now.Add(time.Hour).UnixMilli()
		_, err := s.Set(map[string]any{
			"access_token": "at",
			"expires_at":   float64(deadline),
			"expires_in":   float64(10),
		}, SetOptions{})
		require.NoError(t, err)

		got, ok := s.ExpiresAt()
		require.True(t, ok)
		require.Equal(t, deadline, got)
	})

	t.Run("seconds-scale expires_at is promoted to millis", func(t *testing.T) {
		s := NewStore(StoreOptions{Clock: fixedClock(now)})
		_, err := s.Set(map[string]any{
			"access_token": "at",
			"expires_at":   float64(1_700_003_600),
		}, SetOptions{})
		require.NoError(t, err)

		got, ok := s.ExpiresAt()
		require.True(t, ok)
		require.Equal(t, int64(1_700_003_600_000), got)
	})

	t.Run("expires_in subtracts the buffer", func(t *testing.T) {
		s := NewStore(StoreOptions{Clock: fixedClock(now)})
		_, err := s.Set(map[string]any{
			"access_token": "at",
			"expires_in":   float64(3600),
		}, SetOptions{})
		require.NoError(t, err)

		got, ok := s.ExpiresAt()
		require.True(t, ok)
		require.Equal(t, now.UnixMilli()+(3600-60)*1000, got)
	})

	t.Run("short expires_in clamps to now", func(t *testing.T) {
		s := NewStore(StoreOptions{Clock: fixedClock(now)})
		_, err := s.Set(map[string]any{
			"access_token": "at",
			"expires_in":   float64(10),
		}, SetOptions{})
		require.NoError(t, err)

		got, ok := s.ExpiresAt()
		require.True(t, ok)
		require.Equal(t, now.UnixMilli(), got)
	})

	t.Run("falls back to jwt exp claim", func(t *testing.T) {
		s := NewStore(StoreOptions{Clock: fixedClock(now)})
		exp := now.Add(30 * time.Minute).Unix()
		token := makeJWT(t, map[string]any{"exp": exp})

		_, err := s.Set(map[string]any{"access_token": token}, SetOptions{})
		require.NoError(t, err)

		got, ok := s.ExpiresAt()
		require.True(t, ok)
		require.Equal(t, exp*1000-60_000, got)
	})

	t.Run("no expiry information leaves deadline unknown", func(t *testing.T) {
		s := NewStore(StoreOptions{Clock: fixedClock(now)})
		_, err := s.Set(map[string]any{"access_token": "opaque"}, SetOptions{})
		require.NoError(t, err)

		_, ok := s.ExpiresAt()
		require.False(t, ok)
		require.False(t, s.IsExpired(time.Hour))
	})

	t.Run("retains credentials when asked", func(t *testing.T) {
		s := NewStore(StoreOptions{Clock: fixedClock(now)})
		_, err := s.Set(map[string]any{"access_token": "at"}, SetOptions{
			Credentials: &Credentials{Username: "ana", Password: "pw"},
		})
		require.NoError(t, err)

		creds, ok := s.Credentials()
		require.True(t, ok)
		require.Equal(t, "ana", creds.Username)
	})

	t.Run("notifies listeners after commit", func(t *testing.T) {
		s := NewStore(StoreOptions{Clock: fixedClock(now)})
		rec := &recordingListener{}
		s.Subscribe(rec)

		_, err := s.Set(map[string]any{"access_token": "at"}, SetOptions{})
		require.NoError(t, err)
		require.Len(t, rec.sets, 1)
		require.Equal(t, "at", rec.sets[0].AccessToken)
	})
}

func TestStoreKeeper(t *testing.T) {
	t.Parallel()

	t.Run("persists refresh token on opt-in", func(t *testing.T) {
		keeper := &fakeKeeper{}
		s := NewStore(StoreOptions{Keeper: keeper})
		_, err := s.Set(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
		}, SetOptions{PersistRefreshToken: true})
		require.NoError(t, err)
		require.Equal(t, "rt", keeper.token)
	})

	t.Run("clears persisted token without opt-in", func(t *testing.T) {
		keeper := &fakeKeeper{token: "old"}
		s := NewStore(StoreOptions{Keeper: keeper})
		_, err := s.Set(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
		}, SetOptions{})
		require.NoError(t, err)
		require.Empty(t, keeper.token)
	})

	t.Run("keeper failure does not fail Set", func(t *testing.T) {
		keeper := &fakeKeeper{fail: errors.New("disk full")}
		s := NewStore(StoreOptions{Keeper: keeper})
		_, err := s.Set(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
		}, SetOptions{PersistRefreshToken: true})
		require.NoError(t, err)
		require.Equal(t, "at", s.AccessToken())
	})

	t.Run("clear deletes the persisted token", func(t *testing.T) {
		keeper := &fakeKeeper{}
		s := NewStore(StoreOptions{Keeper: keeper})
		_, err := s.Set(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
		}, SetOptions{PersistRefreshToken: true})
		require.NoError(t, err)

		s.Clear(ClearOptions{})
		require.Empty(t, keeper.token)
		require.Equal(t, 1, keeper.deletes)
	})
}

func TestStoreClear(t *testing.T) {
	t.Parallel()

	t.Run("wipes tokens and credentials", func(t *testing.T) {
		s := NewStore(StoreOptions{})
		_, err := s.Set(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
		}, SetOptions{Credentials: &Credentials{Username: "ana", Password: "pw"}})
		require.NoError(t, err)

		s.Clear(ClearOptions{})
		require.Empty(t, s.AccessToken())
		require.False(t, s.HasRefreshToken())
		_, ok := s.Credentials()
		require.False(t, ok)
		_, ok = s.AuthHeader()
		require.False(t, ok)
	})

	t.Run("keeps credentials when requested", func(t *testing.T) {
		s := NewStore(StoreOptions{})
		_, err := s.Set(map[string]any{"access_token": "at"}, SetOptions{
			Credentials: &Credentials{Username: "ana", Password: "pw"},
		})
		require.NoError(t, err)

		s.Clear(ClearOptions{KeepCredentials: true})
		creds, ok := s.Credentials()
		require.True(t, ok)
		require.Equal(t, "ana", creds.Username)
	})

	t.Run("notifies listeners", func(t *testing.T) {
		s := NewStore(StoreOptions{})
		rec := &recordingListener{}
		s.Subscribe(rec)

		s.Clear(ClearOptions{})
		require.Equal(t, 1, rec.cleared)
	})
}

func TestStoreAuthHeader(t *testing.T) {
	t.Parallel()

	s := NewStore(StoreOptions{})
	_, ok := s.AuthHeader()
	require.False(t, ok)

	_, err := s.Set(map[string]any{"access_token": "at"}, SetOptions{})
	require.NoError(t, err)

	header, ok := s.AuthHeader()
	require.True(t, ok)
	require.Equal(t, "Bearer at", header)

	_, err = s.Set(map[string]any{"access_token": "at2", "token_type": "MAC"}, SetOptions{})
	require.NoError(t, err)

	header, ok = s.AuthHeader()
	require.True(t, ok)
	require.Equal(t, "MAC at2", header)
}

func TestStoreIsExpired(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_000)
	s := NewStore(StoreOptions{Clock: fixedClock(now)})

	// Unauthenticated counts as expired.
	require.True(t, s.IsExpired(0))

	deadline := now.Add(5 * time.Minute).UnixMilli()
	_, err := s.Set(map[string]any{
		"access_token": "at",
		"expires_at":   float64(deadline),
	}, SetOptions{})
	require.NoError(t, err)

	require.False(t, s.IsExpired(0))
	require.False(t, s.IsExpired(4*time.Minute))
	require.True(t, s.IsExpired(5*time.Minute))
	require.True(t, s.IsExpired(time.Hour))
}

func TestStoreSeedRefreshToken(t *testing.T) {
	t.Parallel()

	s := NewStore(StoreOptions{})
	s.SeedRefreshToken("restored")
	require.Equal(t, "restored", s.RefreshToken())
	require.Empty(t, s.AccessToken())

	// A live token wins over a later seed.
	_, err := s.Set(map[string]any{
		"access_token":  "at",
		"refresh_token": "live",
	}, SetOptions{})
	require.NoError(t, err)
	s.SeedRefreshToken("stale")
	require.Equal(t, "live", s.RefreshToken())
}
