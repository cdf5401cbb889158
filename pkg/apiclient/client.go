// Package apiclient is the HTTP request pipeline every resource call goes
// through: URL resolution against the configured base and prefix, JSON
// serialization, auth-header injection with pre-emptive refresh, and a
// single transparent retry after a 401.
package apiclient

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

	"github.com/senosalud/clinicsdk/pkg/httpx"
	"github.com/senosalud/clinicsdk/pkg/idx"
	"github.com/senosalud/clinicsdk/pkg/slogx"
	"github.com/senosalud/clinicsdk/pkg/tokenx"
)

// ParseMode selects how a response body is interpreted.
type ParseMode string

const (
	// ParseJSON decodes JSON bodies; non-JSON content types fall back to the
	// raw text. The default.
	ParseJSON ParseMode = "json"
	// ParseText always returns the raw body text.
	ParseText ParseMode = "text"
	// ParseResponse hands back the *http.Response unread; the caller owns
	// the body.
	ParseResponse ParseMode = "response"
)

// DefaultRefreshSkew is the pre-emptive refresh window: a token expiring
// within this horizon is renewed before the request goes out.
const DefaultRefreshSkew = 60 * time.Second

// Options configures a single request.
type Options struct {
	Method string // defaults to GET
	Header http.Header

	// Data is JSON-serialized into the request body; for GET/HEAD it is
	// appended to the query string instead.
	Data any

	Query url.Values

	// NoAuth skips pre-emptive refresh, the Authorization header and the
	// 401 retry.
	NoAuth bool

	Parse ParseMode // defaults to ParseJSON

	// NoThrow returns a Result with OK=false for non-2xx responses instead
	// of an *HTTPError.
	NoThrow bool

	// RefreshSkew overrides the client's pre-emptive refresh window.
	RefreshSkew time.Duration
}

// Result is the outcome of a request. Data holds the parsed body (nil for
// 204/empty responses); Response is populated only in ParseResponse mode.
type Result struct {
	OK       bool
	Status   int
	Data     any
	Response *http.Response
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Prefix  string // resource-API path prefix, defaults to "api"

	HTTPClient *http.Client
	Logger     *slog.Logger

	// RefreshSkew defaults to DefaultRefreshSkew.
	RefreshSkew time.Duration
}

// Client is the authenticated HTTP pipeline. Safe for concurrent use.
type Client struct {
	baseURL string
	prefix  string
	http    *http.Client
	store   *tokenx.Store
	coord   *tokenx.Coordinator
	logger  *slog.Logger
	skew    time.Duration
}

func New(cfg Config, store *tokenx.Store, coord *tokenx.Coordinator) *Client {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "api"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slogx.Nop()
	}
	skew := cfg.RefreshSkew
	if skew <= 0 {
		skew = DefaultRefreshSkew
	}
	return &Client{
		baseURL: httpx.SanitizeBaseURL(cfg.BaseURL),
		prefix:  prefix,
		http:    httpClient,
		store:   store,
		coord:   coord,
		logger:  logger,
		skew:    skew,
	}
}

// Do executes one request through the pipeline.
//
// With auth enabled (the default) the token is refreshed pre-emptively when
// near expiry and the Authorization header is attached. A 401 response
// forces one coordinated refresh and replays the request exactly once; a
// second 401 surfaces as a hard failure. If the forced refresh itself fails
// the token store is cleared and a *SessionExpiredError is returned.
func (c *Client) Do(ctx context.Context, path string, opts Options) (*Result, error) {
	return c.do(ctx, path, opts, false)
}

func (c *Client) Get(ctx context.Context, path string, opts Options) (*Result, error) {
	opts.Method = http.MethodGet
	return c.Do(ctx, path, opts)
}

func (c *Client) Post(ctx context.Context, path string, opts Options) (*Result, error) {
	opts.Method = http.MethodPost
	return c.Do(ctx, path, opts)
}

func (c *Client) Put(ctx context.Context, path string, opts Options) (*Result, error) {
	opts.Method = http.MethodPut
	return c.Do(ctx, path, opts)
}

func (c *Client) Patch(ctx context.Context, path string, opts Options) (*Result, error) {
	opts.Method = http.MethodPatch
	return c.Do(ctx, path, opts)
}

func (c *Client) Delete(ctx context.Context, path string, opts Options) (*Result, error) {
	opts.Method = http.MethodDelete
	return c.Do(ctx, path, opts)
}

func (c *Client) do(ctx context.Context, path string, opts Options, isRetry bool) (*Result, error) {
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	parse := opts.Parse
	if parse == "" {
		parse = ParseJSON
	}
	skew := opts.RefreshSkew
	if skew <= 0 {
		skew = c.skew
	}

	reqURL := path
	if !httpx.IsAbsoluteURL(path) {
		reqURL = httpx.BuildURL(c.baseURL, c.prefix, path)
	}
	if len(opts.Query) > 0 {
		reqURL = httpx.AppendQuery(reqURL, opts.Query)
	}

	header := make(http.Header, len(opts.Header)+2)
	for k, vs := range opts.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	var body io.Reader
	bodyless := method == http.MethodGet || method == http.MethodHead
	if opts.Data != nil {
		if bodyless {
			reqURL = httpx.AppendQuery(reqURL, httpx.QueryFromAny(opts.Data))
		} else {
			encoded, err := json.Marshal(opts.Data)
			if err != nil {
				return nil, fmt.Errorf("apiclient: encode request body: %w", err)
			}
			body = bytes.NewReader(encoded)
			if header.Get("Content-Type") == "" {
				header.Set("Content-Type", "application/json")
			}
		}
	}

	if parse == ParseJSON && header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}

	if !opts.NoAuth {
		if _, err := c.coord.RefreshIfNeeded(ctx, skew, false); err != nil {
			return nil, err
		}
		if authHeader, ok := c.store.AuthHeader(); ok {
			header.Set("Authorization", authHeader)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header = header

	// The replay after a 401 keeps the original request id.
	if !isRetry {
		ctx = slogx.WithRequestID(slogx.WithContext(ctx, c.logger), idx.New().String())
	}
	logger := slogx.FromContext(ctx)
	logger.Debug("api request", "method", method, "url", reqURL, "retry", isRetry)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("apiclient: %s %s: %w", method, reqURL, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && !isRetry && !opts.NoAuth {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()

		// A cancelled request is not a refresh trigger.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logger.Debug("got 401, forcing refresh")
		if _, err := c.coord.Refresh(ctx, tokenx.RefreshOptions{Force: true}); err != nil {
			c.store.Clear(tokenx.ClearOptions{})
			return nil, &SessionExpiredError{Status: resp.StatusCode, Err: err}
		}
		return c.do(ctx, path, opts, true)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	if parse == ParseResponse {
		if !ok && !opts.NoThrow {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			resp.Body.Close()
			return nil, &HTTPError{Status: resp.StatusCode}
		}
		return &Result{OK: ok, Status: resp.StatusCode, Response: resp}, nil
	}

	payload, err := parseResponseBody(resp, parse)
	if err != nil {
		return nil, err
	}

	if !ok {
		if !opts.NoThrow {
			return nil, &HTTPError{
				Status:  resp.StatusCode,
				Payload: payload,
				Message: payloadMessage(payload),
			}
		}
		return &Result{OK: false, Status: resp.StatusCode, Data: payload}, nil
	}

	return &Result{OK: true, Status: resp.StatusCode, Data: payload}, nil
}

// parseResponseBody decodes the body per mode and always closes it.
// 204 and empty bodies short-circuit to nil.
func parseResponseBody(resp *http.Response, mode ParseMode) (any, error) {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.Header.Get("Content-Length") == "0" {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: read response body: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if mode == ParseText || !strings.Contains(contentType, "json") {
		return string(data), nil
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("apiclient: decode JSON response: %w", err)
	}
	return decoded, nil
}

func payloadMessage(payload any) string {
	if obj, ok := payload.(map[string]any); ok {
		if msg, ok := obj["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return ""
}
