// Package app wires the access layer together: stores, credential cipher,
// provider registry, token manager, limiter, gateway and the ops HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/audit"
	"github.com/masatokaneko/ledgerlink/internal/access/cache"
	"github.com/masatokaneko/ledgerlink/internal/access/credential"
	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/internal/access/gateway"
	httpapi "github.com/masatokaneko/ledgerlink/internal/access/http"
	"github.com/masatokaneko/ledgerlink/internal/access/obs"
	"github.com/masatokaneko/ledgerlink/internal/access/provider"
	"github.com/masatokaneko/ledgerlink/internal/access/ratelimit"
	"github.com/masatokaneko/ledgerlink/internal/access/retry"
	"github.com/masatokaneko/ledgerlink/internal/access/service"
	"github.com/masatokaneko/ledgerlink/internal/access/store/drivers/sqlite"
	"github.com/masatokaneko/ledgerlink/internal/access/token"
	"github.com/masatokaneko/ledgerlink/pkg/cryptox"
	"github.com/masatokaneko/ledgerlink/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the access layer with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	cacheStore *sqlite.CacheStore
	auditStore *sqlite.AuditStore
	creds      *credential.FileStore
	providers  *provider.Registry

	// Services
	cacheService        *cache.Service
	auditService        *audit.Service
	tokenManager        *token.Manager
	limiter             *ratelimit.Registry
	gateway             *gateway.Gateway
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates an Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "access-layer",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	obs.Init()

	if err := app.initDatabases(); err != nil {
		return nil, err
	}
	if err := app.initCredentials(); err != nil {
		return nil, err
	}
	if err := app.initProviders(); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		return nil, err
	}
	if err := app.bootstrapCredentials(); err != nil {
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Gateway returns the invocation entry point for embedding callers.
func (app *Application) Gateway() *gateway.Gateway {
	return app.gateway
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("access layer starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"providers", app.providers.Names(),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down access layer...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	var firstErr error
	for name, closer := range map[string]interface{ Close() error }{
		"cache database": app.cacheStore,
		"audit database": app.auditStore,
	} {
		if err := closer.Close(); err != nil {
			app.logger.Error("error closing "+name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	app.logger.Info("access layer stopped")
	return firstErr
}

// initDatabases opens both SQLite files and applies their migrations.
func (app *Application) initDatabases() error {
	cacheStore, err := sqlite.NewCacheStore(dsn(app.cfg.CacheDatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := cacheStore.ApplyMigrations(); err != nil {
		_ = cacheStore.Close()
		return fmt.Errorf("failed to apply cache migrations: %w", err)
	}
	app.cacheStore = cacheStore

	auditStore, err := sqlite.NewAuditStore(dsn(app.cfg.AuditDatabaseFile))
	if err != nil {
		_ = cacheStore.Close()
		return fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := auditStore.ApplyMigrations(); err != nil {
		_ = cacheStore.Close()
		_ = auditStore.Close()
		return fmt.Errorf("failed to apply audit migrations: %w", err)
	}
	app.auditStore = auditStore

	app.logger.Info("database migrations applied successfully")
	return nil
}

func dsn(file string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", file)
}

func (app *Application) initCredentials() error {
	cipher, err := cryptox.NewCipherFromFile(app.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize credential cipher: %w", err)
	}
	app.creds = credential.NewFileStore(app.cfg.CredentialFile, cipher)

	// Fail fast on a corrupt blob rather than at first token use.
	if _, err := app.creds.Load(); err != nil {
		return fmt.Errorf("failed to load credential store: %w", err)
	}
	return nil
}

// initProviders builds the registry from the built-in provider definitions,
// overlaid with the configured client credentials and endpoint overrides.
func (app *Application) initProviders() error {
	if len(app.cfg.Providers) == 0 {
		return errors.New("no providers configured: set at least one <PROVIDER>_CLIENT_ID")
	}

	defs := make([]provider.Provider, 0, len(app.cfg.Providers))
	for name, pc := range app.cfg.Providers {
		p, ok := provider.Defaults(name)
		if !ok {
			return fmt.Errorf("unknown provider %q", name)
		}
		p.ClientID = pc.ClientID
		p.ClientSecret = pc.ClientSecret
		if pc.CompanyID != "" {
			p.DefaultCompanyID = pc.CompanyID
		}
		if pc.BaseURL != "" {
			p.BaseURL = pc.BaseURL
		}
		if pc.TokenURL != "" {
			p.TokenURL = pc.TokenURL
		}
		defs = append(defs, p)
	}

	providers, err := provider.NewRegistry(defs...)
	if err != nil {
		return fmt.Errorf("failed to build provider registry: %w", err)
	}
	app.providers = providers
	return nil
}

func (app *Application) initServices() error {
	limiter, err := ratelimit.NewRegistry(app.providers)
	if err != nil {
		return fmt.Errorf("failed to build rate limiters: %w", err)
	}
	app.limiter = limiter

	app.cacheService = &cache.Service{Store: app.cacheStore}
	app.auditService = &audit.Service{Store: app.auditStore}
	app.tokenManager = &token.Manager{
		Store:     app.creds,
		Providers: app.providers,
	}

	app.gateway = &gateway.Gateway{
		Providers:  app.providers,
		Tokens:     app.tokenManager,
		Limiter:    app.limiter,
		Cache:      app.cacheService,
		Audit:      app.auditService,
		Retry:      retry.DefaultPolicy(),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.cacheService,
		app.auditService,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// bootstrapCredentials seeds the credential store from the environment on
// first run. Stored credentials always win; the seed is only consulted for
// providers with nothing persisted yet.
func (app *Application) bootstrapCredentials() error {
	for name, pc := range app.cfg.Providers {
		if pc.AccessToken == "" && pc.RefreshToken == "" {
			continue
		}
		if _, err := app.creds.Get(name); err == nil {
			continue
		} else if !errors.Is(err, credential.ErrNotFound) {
			return fmt.Errorf("failed to read credential for %s: %w", name, err)
		}

		now := time.Now()
		cred := domain.Credential{
			AccessToken:  pc.AccessToken,
			RefreshToken: pc.RefreshToken,
			CompanyID:    pc.CompanyID,
			// Without an explicit validity the seed token counts as already
			// stale, forcing a refresh on first use.
			ExpiresAt: now.Add(pc.TokenExpiresIn).UnixMilli(),
			CreatedAt: now.UnixMilli(),
		}
		if err := app.creds.Put(name, cred); err != nil {
			return fmt.Errorf("failed to seed credential for %s: %w", name, err)
		}
		app.logger.Info("seeded credential from environment", "provider", name)
	}
	return nil
}

func (app *Application) initHTTP() {
	app.router = httpapi.NewRouter(BuildVersion, app.cacheStore, app.auditStore, app.logger)
	app.router.CacheService = app.cacheService
	app.router.AuditService = app.auditService
	app.router.ApplyRoutes()

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
