package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/senosalud/clinicsdk/pkg/authclient"
)

type Config struct {
	BaseURL    string // Backend origin (default: http://localhost:8080)
	APIPrefix  string // Resource API prefix (default: api)
	AuthPrefix string // Auth API prefix (default: auth)

	UseProxy bool   // Route through a local dev proxy instead of the backend origin
	ProxyURL string // Proxy origin, only used when UseProxy is set (default: http://localhost:5173)

	LoginPath    string // Login endpoint path (default: login)
	LoginMethod  string // Login HTTP method (default: POST)
	LoginBody    string // Login body encoding: form or json (default: form)
	RefreshPath  string // Refresh endpoint path; empty disables token refresh
	RefreshMeth  string // Refresh HTTP method (default: POST)
	RefreshBody  string // Refresh body encoding (default: json)
	LogoutPath   string // Logout endpoint path (default: logout)
	LogoutMethod string // Logout HTTP method (default: POST)

	StateDir       string        // Directory for persisted session and keystore files (default: ~/.clinic)
	KeystoreSecret string        // Secret for the encrypted refresh-token keystore; empty disables persistence
	RequestTimeout time.Duration // Per-request HTTP timeout (default: 10s)
	RefreshSkew    time.Duration // Pre-emptive refresh window (default: 60s)

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: text)
}

// LoadConfig reads configuration from the environment, after loading a
// .env file when one is present.
func LoadConfig() Config {
	godotenv.Load() //nolint:errcheck

	cfg := Config{
		BaseURL:    getEnvOrDefault("CLINIC_API_BASE_URL", "http://localhost:8080"),
		APIPrefix:  getEnvOrDefault("CLINIC_API_PREFIX", "api"),
		AuthPrefix: getEnvOrDefault("CLINIC_AUTH_PREFIX", "auth"),

		UseProxy: getEnvBoolOrDefault("CLINIC_USE_API_PROXY", false),
		ProxyURL: getEnvOrDefault("CLINIC_PROXY_URL", "http://localhost:5173"),

		LoginPath:    getEnvOrDefault("CLINIC_AUTH_LOGIN_PATH", "login"),
		LoginMethod:  getEnvOrDefault("CLINIC_AUTH_LOGIN_METHOD", "POST"),
		LoginBody:    getEnvOrDefault("CLINIC_AUTH_LOGIN_BODY", "form"),
		RefreshPath:  getEnvOrDefault("CLINIC_AUTH_REFRESH_PATH", "refresh"),
		RefreshMeth:  getEnvOrDefault("CLINIC_AUTH_REFRESH_METHOD", "POST"),
		RefreshBody:  getEnvOrDefault("CLINIC_AUTH_REFRESH_BODY", "json"),
		LogoutPath:   getEnvOrDefault("CLINIC_AUTH_LOGOUT_PATH", "logout"),
		LogoutMethod: getEnvOrDefault("CLINIC_AUTH_LOGOUT_METHOD", "POST"),

		StateDir:       os.Getenv("CLINIC_STATE_DIR"),
		KeystoreSecret: os.Getenv("CLINIC_KEYSTORE_SECRET"),
		RequestTimeout: getEnvDurationOrDefault("CLINIC_REQUEST_TIMEOUT", 10*time.Second),
		RefreshSkew:    getEnvDurationOrDefault("CLINIC_REFRESH_SKEW", 60*time.Second),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if cfg.StateDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.StateDir = filepath.Join(home, ".clinic")
		} else {
			cfg.StateDir = ".clinic"
		}
	}

	return cfg
}

// Origin is the effective backend origin, honouring the dev-proxy toggle.
func (c Config) Origin() string {
	if c.UseProxy {
		return c.ProxyURL
	}
	return c.BaseURL
}

func (c Config) loginEndpoint() authclient.Endpoint {
	return authclient.Endpoint{
		Path:   c.LoginPath,
		Method: c.LoginMethod,
		Body:   bodyMode(c.LoginBody, authclient.BodyForm),
	}
}

func (c Config) refreshEndpoint() authclient.Endpoint {
	return authclient.Endpoint{
		Path:   c.RefreshPath,
		Method: c.RefreshMeth,
		Body:   bodyMode(c.RefreshBody, authclient.BodyJSON),
	}
}

func (c Config) logoutEndpoint() authclient.Endpoint {
	return authclient.Endpoint{Path: c.LogoutPath, Method: c.LogoutMethod}
}

func bodyMode(raw string, fallback authclient.BodyMode) authclient.BodyMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "form":
		return authclient.BodyForm
	case "json":
		return authclient.BodyJSON
	case "none":
		return authclient.BodyNone
	}
	return fallback
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
