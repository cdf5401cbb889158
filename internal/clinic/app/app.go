// Package app wires the token store, refresh coordinator, auth gateway,
// request pipeline and session manager into one application object.
package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"

	"github.com/senosalud/clinicsdk/pkg/apiclient"
	"github.com/senosalud/clinicsdk/pkg/authclient"
	"github.com/senosalud/clinicsdk/pkg/keystore"
	"github.com/senosalud/clinicsdk/pkg/sessionx"
	"github.com/senosalud/clinicsdk/pkg/slogx"
	"github.com/senosalud/clinicsdk/pkg/tokenx"
)

const BuildVersion = "v0.1.0"

// refreshTokenEntry names the keystore slot for the persisted refresh
// token, mirroring the cookie name the backend uses.
const refreshTokenEntry = "clinic_refresh_token"

// Application bundles the authenticated-client stack.
type Application struct {
	cfg    Config
	logger *slog.Logger

	store    *tokenx.Store
	coord    *tokenx.Coordinator
	auth     *authclient.Gateway
	api      *apiclient.Client
	sessions *sessionx.Manager
}

// New builds the full stack from configuration. The refresh-token keystore
// is only enabled when a keystore secret is configured; without one,
// refresh tokens live in memory for the life of the process.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "clinicsdk",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	keeper, err := app.initKeeper()
	if err != nil {
		return nil, err
	}

	storeOpts := tokenx.StoreOptions{Logger: app.logger}
	if keeper != nil {
		storeOpts.Keeper = keeper
	}
	app.store = tokenx.NewStore(storeOpts)
	if keeper != nil {
		if token, ok := keeper.RestoreRefreshToken(); ok {
			app.store.SeedRefreshToken(token)
		}
	}

	storage, err := sessionx.NewFileStorage(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("init session storage: %w", err)
	}
	app.sessions = sessionx.NewManager(app.store, sessionx.ManagerOptions{
		Storage: storage,
		Logger:  app.logger,
	})

	app.coord = tokenx.NewCoordinator(app.store, app.logger)

	// Backend session cookies must ride along with auth calls, so both the
	// gateway and the pipeline share one cookie-jar client.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("init cookie jar: %w", err)
	}
	httpClient := &http.Client{Jar: jar, Timeout: cfg.RequestTimeout}

	app.auth = authclient.New(authclient.Config{
		BaseURL:    cfg.Origin(),
		AuthPrefix: cfg.AuthPrefix,
		Login:      cfg.loginEndpoint(),
		Refresh:    cfg.refreshEndpoint(),
		Logout:     cfg.logoutEndpoint(),
		HTTPClient: httpClient,
		Logger:     app.logger,
	}, app.store)
	app.auth.Bind(app.coord)

	app.api = apiclient.New(apiclient.Config{
		BaseURL:     cfg.Origin(),
		Prefix:      cfg.APIPrefix,
		HTTPClient:  httpClient,
		Logger:      app.logger,
		RefreshSkew: cfg.RefreshSkew,
	}, app.store, app.coord)

	app.sessions.Restore()

	return app, nil
}

func (app *Application) initKeeper() (*keystoreKeeper, error) {
	if app.cfg.KeystoreSecret == "" {
		app.logger.Warn("no keystore secret configured, refresh tokens will not persist across restarts")
		return nil, nil
	}
	ks, err := keystore.Open(keystore.Options{
		Dir:    app.cfg.StateDir,
		Secret: []byte(app.cfg.KeystoreSecret),
	})
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	return &keystoreKeeper{store: ks}, nil
}

func (app *Application) Logger() *slog.Logger          { return app.logger }
func (app *Application) Store() *tokenx.Store          { return app.store }
func (app *Application) Auth() *authclient.Gateway     { return app.auth }
func (app *Application) API() *apiclient.Client        { return app.api }
func (app *Application) Sessions() *sessionx.Manager   { return app.sessions }
func (app *Application) Coordinator() *tokenx.Coordinator {
	return app.coord
}

// keystoreKeeper adapts the encrypted keystore to the token store's
// refresh-token persistence hook.
type keystoreKeeper struct {
	store *keystore.Store
}

func (k *keystoreKeeper) PutRefreshToken(token string) error {
	return k.store.Put(refreshTokenEntry, token)
}

func (k *keystoreKeeper) DeleteRefreshToken() error {
	return k.store.Delete(refreshTokenEntry)
}

// RestoreRefreshToken loads a previously persisted refresh token into the
// keeper-aware store path. Returns false when none is stored.
func (k *keystoreKeeper) RestoreRefreshToken() (string, bool) {
	token, ok, err := k.store.Get(refreshTokenEntry)
	if err != nil || !ok {
		return "", false
	}
	return token, true
}
