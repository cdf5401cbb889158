// Package authclient issues the login, refresh and logout operations against
// the clinic backend's auth endpoints and feeds their results into the token
// store. Each endpoint is independently configurable (path, HTTP method, body
// encoding) because the deployed backends disagree on all three.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/senosalud/clinicsdk/pkg/httpx"
	"github.com/senosalud/clinicsdk/pkg/slogx"
	"github.com/senosalud/clinicsdk/pkg/tokenx"
)

// BodyMode selects how an endpoint's request body is encoded.
type BodyMode string

const (
	BodyNone BodyMode = ""
	BodyForm BodyMode = "form"
	BodyJSON BodyMode = "json"
)

// Endpoint describes one auth operation's wire configuration.
type Endpoint struct {
	// Path is resolved against the base URL and auth prefix. An empty path
	// disables the endpoint (the refresh endpoint is optional).
	Path   string
	Method string // defaults to POST
	Body   BodyMode
}

func (e Endpoint) method() string {
	if e.Method == "" {
		return http.MethodPost
	}
	return strings.ToUpper(strings.TrimSpace(e.Method))
}

func (e Endpoint) bodyless() bool {
	m := e.method()
	return m == http.MethodGet || m == http.MethodHead
}

// Config configures a Gateway.
type Config struct {
	BaseURL    string
	AuthPrefix string // defaults to "auth"

	Login   Endpoint // defaults to POST auth/login, form-encoded
	Refresh Endpoint // optional; defaults to POST with a JSON body when a path is set
	Logout  Endpoint // defaults to POST auth/logout

	// HTTPClient should carry a cookie jar so backend session cookies ride
	// along with every auth call. Defaults to a 10-second-timeout client.
	HTTPClient *http.Client

	Logger *slog.Logger

	// ReloginEvery throttles the credential-fallback path so a refresh storm
	// cannot hammer the login endpoint. Defaults to one re-login per 2s.
	ReloginEvery time.Duration
}

// Gateway executes the configured auth operations. Construct once at the
// composition root and register on the refresh coordinator via Bind.
type Gateway struct {
	cfg     Config
	store   *tokenx.Store
	http    *http.Client
	logger  *slog.Logger
	relogin *rate.Limiter
}

// LoginOptions configures a Login call.
type LoginOptions struct {
	Username string
	Password string

	// PersistCredentials retains the credentials in the token store so an
	// expired session can transparently re-login.
	PersistCredentials bool

	// RememberRefreshToken persists the issued refresh token to the durable
	// keystore (7-day lifetime).
	RememberRefreshToken bool
}

// LogoutOptions configures a Logout call.
type LogoutOptions struct {
	// WithServerRevoke also asks the backend to revoke the session. Network
	// failures on that call are swallowed: logout always succeeds locally.
	WithServerRevoke bool
}

func New(cfg Config, store *tokenx.Store) *Gateway {
	if cfg.AuthPrefix == "" {
		cfg.AuthPrefix = "auth"
	}
	if cfg.Login.Path == "" {
		cfg.Login.Path = "auth/login"
	}
	if cfg.Login.Body == BodyNone {
		cfg.Login.Body = BodyForm
	}
	if cfg.Refresh.Path != "" && cfg.Refresh.Body == BodyNone {
		cfg.Refresh.Body = BodyJSON
	}
	if cfg.Logout.Path == "" {
		cfg.Logout.Path = "auth/logout"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slogx.Nop()
	}
	every := cfg.ReloginEvery
	if every <= 0 {
		every = 2 * time.Second
	}

	return &Gateway{
		cfg:     cfg,
		store:   store,
		http:    httpClient,
		logger:  logger,
		relogin: rate.NewLimiter(rate.Every(every), 1),
	}
}

// Bind registers the gateway as the coordinator's refresh and re-login
// handlers.
func (g *Gateway) Bind(c *tokenx.Coordinator) {
	c.SetHandlers(
		func(ctx context.Context, force bool) (tokenx.Record, error) {
			return g.Refresh(ctx, force)
		},
		func(ctx context.Context, creds tokenx.Credentials, reason string) (tokenx.Record, error) {
			return g.reloginWithCredentials(ctx, creds, reason)
		},
	)
}

// Login authenticates with the backend and commits the issued tokens to the
// store.
func (g *Gateway) Login(ctx context.Context, opts LoginOptions) (tokenx.Record, error) {
	username := strings.TrimSpace(opts.Username)
	if username == "" || opts.Password == "" {
		return tokenx.Record{}, ErrMissingCredentials
	}
	ep := g.cfg.Login
	if ep.bodyless() {
		return tokenx.Record{}, fmt.Errorf("%w: login via %s", ErrUnsupportedMethod, ep.method())
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", opts.Password)

	reqURL := httpx.BuildURL(g.cfg.BaseURL, g.cfg.AuthPrefix, ep.Path)
	req, err := g.buildRequest(ctx, ep, reqURL, form, map[string]any{
		"username": username,
		"password": opts.Password,
	})
	if err != nil {
		return tokenx.Record{}, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return tokenx.Record{}, fmt.Errorf("authclient: login request: %w", err)
	}
	payload := parseBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Info("login rejected", "status", resp.StatusCode, "username", username)
		return tokenx.Record{}, &AuthError{
			Status:  resp.StatusCode,
			Payload: payload,
			Message: payloadMessage(payload, "login request failed"),
		}
	}

	setOpts := tokenx.SetOptions{PersistRefreshToken: opts.RememberRefreshToken}
	if opts.PersistCredentials {
		setOpts.Credentials = &tokenx.Credentials{Username: username, Password: opts.Password}
	}
	rec, err := g.store.Set(payload, setOpts)
	if err != nil {
		return tokenx.Record{}, err
	}

	g.logger.Info("login succeeded", "username", username)
	return rec, nil
}

// Refresh renews the session using the refresh endpoint. When no endpoint is
// configured or no refresh token is held, it falls back to re-login with the
// retained credentials; with neither available it fails with
// tokenx.ErrNoRefreshPath. A refresh rejected by the server also attempts
// the credential fallback before the original error is propagated.
func (g *Gateway) Refresh(ctx context.Context, force bool) (tokenx.Record, error) {
	ep := g.cfg.Refresh
	refreshToken := g.store.RefreshToken()

	if ep.Path == "" || refreshToken == "" {
		if g.canRelogin() {
			return g.reloginWithStoredCredentials(ctx, "refresh")
		}
		return tokenx.Record{}, tokenx.ErrNoRefreshPath
	}

	jsonPayload := map[string]any{"refresh_token": refreshToken}
	form := url.Values{}
	form.Set("refresh_token", refreshToken)
	if access := g.store.AccessToken(); access != "" {
		jsonPayload["access_token"] = access
		form.Set("access_token", access)
	}
	if force {
		jsonPayload["force"] = true
		form.Set("force", "1")
	}

	reqURL := httpx.BuildURL(g.cfg.BaseURL, g.cfg.AuthPrefix, ep.Path)
	var req *http.Request
	var err error
	if ep.bodyless() {
		// Bodyless methods carry the refresh parameters in the query string.
		req, err = http.NewRequestWithContext(ctx, ep.method(), httpx.AppendQuery(reqURL, form), nil)
	} else {
		req, err = g.buildRequest(ctx, ep, reqURL, form, jsonPayload)
	}
	if err != nil {
		return tokenx.Record{}, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return tokenx.Record{}, fmt.Errorf("authclient: refresh request: %w", err)
	}
	payload := parseBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		refreshErr := &AuthError{
			Status:  resp.StatusCode,
			Payload: payload,
			Message: payloadMessage(payload, "refresh token request failed"),
		}
		if ctx.Err() == nil && g.canRelogin() {
			g.logger.Info("refresh rejected, falling back to re-login", "status", resp.StatusCode)
			if rec, loginErr := g.reloginWithStoredCredentials(ctx, "refresh"); loginErr == nil {
				return rec, nil
			}
		}
		return tokenx.Record{}, refreshErr
	}

	return g.store.Set(payload, tokenx.SetOptions{
		PersistRefreshToken: g.store.PersistsRefreshToken(),
	})
}

// Logout revokes the session server-side (best effort) and unconditionally
// clears the local token state.
func (g *Gateway) Logout(ctx context.Context, opts LogoutOptions) {
	if opts.WithServerRevoke && g.cfg.Logout.Path != "" {
		reqURL := httpx.BuildURL(g.cfg.BaseURL, g.cfg.AuthPrefix, g.cfg.Logout.Path)
		req, err := http.NewRequestWithContext(ctx, g.cfg.Logout.method(), reqURL, nil)
		if err == nil {
			if header, ok := g.store.AuthHeader(); ok {
				req.Header.Set("Authorization", header)
			}
			resp, err := g.http.Do(req)
			if err != nil {
				g.logger.Debug("server-side logout failed", "error", err)
			} else {
				io.Copy(io.Discard, resp.Body) //nolint:errcheck
				resp.Body.Close()
			}
		}
	}

	g.store.Clear(tokenx.ClearOptions{})
	g.logger.Info("logged out")
}

func (g *Gateway) canRelogin() bool {
	_, ok := g.store.Credentials()
	return ok
}

func (g *Gateway) reloginWithStoredCredentials(ctx context.Context, reason string) (tokenx.Record, error) {
	creds, ok := g.store.Credentials()
	if !ok {
		return tokenx.Record{}, tokenx.ErrNoRefreshPath
	}
	return g.reloginWithCredentials(ctx, creds, reason)
}

func (g *Gateway) reloginWithCredentials(ctx context.Context, creds tokenx.Credentials, reason string) (tokenx.Record, error) {
	// Throttled: under a refresh storm only the single-flight winner gets
	// here, but a failing backend could still see rapid-fire re-logins.
	if err := g.relogin.Wait(ctx); err != nil {
		return tokenx.Record{}, err
	}
	g.logger.Info("re-login", "reason", reason, "username", creds.Username)
	return g.Login(ctx, LoginOptions{
		Username:             creds.Username,
		Password:             creds.Password,
		PersistCredentials:   true,
		RememberRefreshToken: g.store.PersistsRefreshToken(),
	})
}

// buildRequest encodes the endpoint body (form or JSON) and sets the
// matching Content-Type.
func (g *Gateway) buildRequest(ctx context.Context, ep Endpoint, reqURL string, form url.Values, jsonPayload map[string]any) (*http.Request, error) {
	var body io.Reader
	contentType := ""

	switch ep.Body {
	case BodyForm:
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case BodyJSON:
		encoded, err := json.Marshal(jsonPayload)
		if err != nil {
			return nil, fmt.Errorf("authclient: encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, ep.method(), reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("authclient: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// parseBody reads and decodes a response body, tolerating non-JSON replies
// by wrapping the raw text as {"message": text}. The body is always closed.
func parseBody(resp *http.Response) any {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err == nil {
		return decoded
	}
	return map[string]any{"message": string(data)}
}

// payloadMessage extracts a human-readable message from a parsed payload.
func payloadMessage(payload any, fallback string) string {
	if obj, ok := payload.(map[string]any); ok {
		if msg, ok := obj["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return fallback
}
