package tokenx

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/senosalud/clinicsdk/pkg/slogx"
)

// refreshKey is the singleflight key: the whole process shares one refresh
// slot, which is exactly the invariant we need.
const refreshKey = "refresh"

// RefreshFunc renews tokens against the backend's refresh endpoint.
type RefreshFunc func(ctx context.Context, force bool) (Record, error)

// LoginFunc performs a full re-authentication with retained credentials.
// reason is "refresh" or "force-refresh", for audit logging.
type LoginFunc func(ctx context.Context, creds Credentials, reason string) (Record, error)

// RefreshOptions configures a Coordinator.Refresh call. The zero value asks
// for a non-forced refresh with the credential fallback enabled.
type RefreshOptions struct {
	// Force renews even when the current token still looks fresh, and is
	// propagated to the refresh handler so the backend can rotate eagerly.
	Force bool

	// SkipReauthenticate disables the cached-credential fallback when the
	// refresh handler fails.
	SkipReauthenticate bool
}

// Coordinator serializes token renewal: no matter how many goroutines decide
// the token needs refreshing (pre-emptively or after a 401), at most one
// refresh or re-login operation is in flight, and every caller receives its
// result. Duplicate refresh calls would race each other's Store writes and
// can invalidate freshly-issued refresh tokens server-side, so this is a
// correctness requirement, not an optimization.
type Coordinator struct {
	store *Store

	mu        sync.RWMutex
	refreshFn RefreshFunc
	loginFn   LoginFunc

	group  singleflight.Group
	logger *slog.Logger
}

func NewCoordinator(store *Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slogx.Nop()
	}
	c := &Coordinator{store: store, logger: logger}
	store.Subscribe(coordinatorListener{c})
	return c
}

// SetHandlers registers the refresh and re-login operations, typically the
// auth gateway's. Nil handlers are allowed and simply disable that path.
func (c *Coordinator) SetHandlers(refresh RefreshFunc, login LoginFunc) {
	c.mu.Lock()
	c.refreshFn = refresh
	c.loginFn = login
	c.mu.Unlock()
}

// CanReauthenticate reports whether the credential-fallback path is viable.
func (c *Coordinator) CanReauthenticate() bool {
	c.mu.RLock()
	loginFn := c.loginFn
	c.mu.RUnlock()
	if loginFn == nil {
		return false
	}
	_, ok := c.store.Credentials()
	return ok
}

// Refresh renews the session, collapsing concurrent callers onto a single
// underlying operation.
//
// The refresh handler is tried first. If it fails (and the failure is not a
// context cancellation), the retained credentials are used for a full
// re-login unless opts.SkipReauthenticate is set. With no refresh handler at
// all, re-login is attempted directly. When neither path is viable the call
// fails with ErrNoRefreshPath.
func (c *Coordinator) Refresh(ctx context.Context, opts RefreshOptions) (Record, error) {
	result, err, shared := c.group.Do(refreshKey, func() (any, error) {
		return c.renew(ctx, opts)
	})
	if shared {
		c.logger.Debug("joined in-flight token refresh")
	}
	if err != nil {
		return Record{}, err
	}
	return result.(Record), nil
}

// RefreshIfNeeded refreshes only when it would matter: it is a no-op when
// unauthenticated, or when the token is still fresh (per skew) and force is
// not set. Reports whether a refresh was attempted.
func (c *Coordinator) RefreshIfNeeded(ctx context.Context, skew time.Duration, force bool) (bool, error) {
	if c.store.AccessToken() == "" {
		return false, nil
	}
	if !force && !c.store.IsExpired(skew) {
		return false, nil
	}
	_, err := c.Refresh(ctx, RefreshOptions{Force: force})
	return true, err
}

func (c *Coordinator) renew(ctx context.Context, opts RefreshOptions) (Record, error) {
	c.mu.RLock()
	refreshFn := c.refreshFn
	loginFn := c.loginFn
	c.mu.RUnlock()

	reason := "refresh"
	if opts.Force {
		reason = "force-refresh"
	}

	var lastErr error
	if refreshFn != nil {
		rec, err := refreshFn(ctx, opts.Force)
		if err == nil {
			return rec, nil
		}
		// A cancelled operation is a distinct outcome, not a failure to
		// recover from.
		if ctx.Err() != nil {
			return Record{}, err
		}
		lastErr = err
		c.logger.Debug("refresh handler failed", "error", err, "reason", reason)
		if opts.SkipReauthenticate {
			return Record{}, err
		}
	}

	if !opts.SkipReauthenticate && loginFn != nil {
		if creds, ok := c.store.Credentials(); ok {
			c.logger.Info("re-authenticating with stored credentials", "reason", reason)
			return loginFn(ctx, creds, reason)
		}
	}

	if lastErr != nil {
		return Record{}, lastErr
	}
	return Record{}, ErrNoRefreshPath
}

// coordinatorListener detaches the in-flight refresh slot when the store is
// cleared, so a renewal started before logout cannot satisfy callers that
// arrive after it.
type coordinatorListener struct {
	c *Coordinator
}

func (l coordinatorListener) TokensSet(Record) {}

func (l coordinatorListener) TokensCleared() {
	l.c.group.Forget(refreshKey)
}
