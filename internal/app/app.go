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

	httpapi "github.com/examforge/authd/internal/http"
	"github.com/examforge/authd/internal/notify"
	"github.com/examforge/authd/internal/service"
	"github.com/examforge/authd/internal/store"
	"github.com/examforge/authd/internal/store/drivers/sqlite"
	"github.com/examforge/authd/pkg/cryptox"
	"github.com/examforge/authd/pkg/jwtx"
	"github.com/examforge/authd/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the auth service together: store, hasher, token
// issuer, services, HTTP server.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db     store.Store
	hasher *cryptox.Hasher
	issuer *jwtx.Issuer

	sessionService      *service.SessionService
	resetService        *service.ResetService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authd",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initCrypto(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("authd starting", "port", app.cfg.Port, "version", BuildVersion)

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

// Shutdown drains in-flight requests, stops the housekeeping worker and
// closes the database.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authd...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("authd stopped")
	return nil
}

func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initCrypto() error {
	pepper, err := cryptox.LoadOrGeneratePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}

	params := cryptox.Params{
		MemoryKiB:   uint32(app.cfg.ArgonMemoryKiB),
		Iterations:  uint32(app.cfg.ArgonIterations),
		Parallelism: uint8(app.cfg.ArgonParallelism),
	}
	hasher, err := cryptox.NewHasher(params, pepper)
	if err != nil {
		return fmt.Errorf("failed to initialize password hasher: %w", err)
	}
	app.hasher = hasher

	accessSecret, refreshSecret := app.cfg.AccessSecret, app.cfg.RefreshSecret
	if accessSecret == "" || refreshSecret == "" {
		app.logger.Warn("signing secrets not configured, generating ephemeral secrets; tokens will not survive a restart")
		if accessSecret == "" {
			if accessSecret, err = cryptox.GenerateToken(cryptox.TokenSize256); err != nil {
				return fmt.Errorf("failed to generate access secret: %w", err)
			}
		}
		if refreshSecret == "" {
			if refreshSecret, err = cryptox.GenerateToken(cryptox.TokenSize256); err != nil {
				return fmt.Errorf("failed to generate refresh secret: %w", err)
			}
		}
	}

	issuer, err := jwtx.NewIssuer(jwtx.IssuerConfig{
		AccessSecret:  []byte(accessSecret),
		RefreshSecret: []byte(refreshSecret),
		AccessTTL:     app.cfg.AccessTTL,
		RefreshTTL:    app.cfg.RefreshTTL,
		Issuer:        app.cfg.Issuer,
		Audience:      []string{app.cfg.Audience},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token issuer: %w", err)
	}
	app.issuer = issuer

	return nil
}

func (app *Application) initServices() {
	notifier := &notify.LogNotifier{Logger: app.logger}

	app.sessionService = &service.SessionService{
		Store:            app.db,
		Hasher:           app.hasher,
		Issuer:           app.issuer,
		Notifier:         notifier,
		LockoutThreshold: app.cfg.LockoutThreshold,
		LockoutDuration:  app.cfg.LockoutDuration,
	}

	app.resetService = &service.ResetService{
		Store:        app.db,
		Hasher:       app.hasher,
		Notifier:     notifier,
		ResetBaseURL: app.cfg.ResetBaseURL,
		TokenTTL:     app.cfg.ResetTTL,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

func (app *Application) initHTTP() {
	app.router = httpapi.NewRouter(app.issuer, BuildVersion, app.db, app.logger)
	app.router.Sessions = app.sessionService
	app.router.Resets = app.resetService
	app.router.ApplyRoutes()

	app.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.cfg.Port),
		Handler: app.router,
	}
}
