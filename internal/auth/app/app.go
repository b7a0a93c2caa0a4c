package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/CrazyForks/melody-auth/internal/auth/engine"
	httpapi "github.com/CrazyForks/melody-auth/internal/auth/http"
	"github.com/CrazyForks/melody-auth/internal/auth/kv"
	"github.com/CrazyForks/melody-auth/internal/auth/notify"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
	"github.com/CrazyForks/melody-auth/internal/auth/store/drivers/sqlite"
	"github.com/CrazyForks/melody-auth/pkg/cryptox"
	"github.com/CrazyForks/melody-auth/pkg/jwtx"
	"github.com/CrazyForks/melody-auth/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the auth engine together: storage, session cache,
// signing key, notification senders and the HTTP surface.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db     store.Store
	kv     kv.Store
	signer *jwtx.Signer

	sessions   *engine.SessionService
	apps       *engine.AppService
	users      *engine.UserService
	mfa        *engine.MFAService
	passkeys   *engine.PasskeyService
	recovery   *engine.RecoveryService
	consents   *engine.ConsentService
	tokens     *engine.TokenService
	authorizer *engine.Authorizer

	housekeeping *engine.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "melody-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initKV(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initSigner(); err != nil {
		_ = app.kv.Close()
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		_ = app.kv.Close()
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("auth engine starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
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

// Shutdown drains in-flight requests, stops housekeeping and closes the
// storage backends.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth engine...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	if err := app.kv.Close(); err != nil {
		app.logger.Error("error closing session cache", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth engine stopped")
	return nil
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
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

func (app *Application) initKV() error {
	kvStore, err := kv.New(kv.Config{
		Driver:   app.cfg.KVDriver,
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
		Prefix:   app.cfg.KVPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session cache: %w", err)
	}
	app.kv = kvStore

	app.logger.Info("session cache ready", "driver", app.cfg.KVDriver)
	return nil
}

// initSigner loads the signing key from disk, or generates an ephemeral
// one when no key file is configured. Ephemeral keys invalidate all
// outstanding tokens on restart.
func (app *Application) initSigner() error {
	var pemKey []byte
	if app.cfg.SigningKeyFile != "" {
		data, err := os.ReadFile(app.cfg.SigningKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read signing key: %w", err)
		}
		pemKey = data
	} else {
		data, err := jwtx.GenerateKey(app.cfg.Algorithm, app.cfg.RSABits)
		if err != nil {
			return fmt.Errorf("failed to generate signing key: %w", err)
		}
		pemKey = data
		app.logger.Warn("no signing key file configured, using an ephemeral key")
	}

	signer, err := jwtx.NewSigner(app.cfg.Algorithm, app.cfg.KeyID, pemKey)
	if err != nil {
		return fmt.Errorf("failed to initialize signer: %w", err)
	}
	app.signer = signer
	return nil
}

func (app *Application) initServices() error {
	var email notify.EmailSender
	if app.cfg.SMTPHost != "" {
		email = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     app.cfg.SMTPHost,
			Port:     app.cfg.SMTPPort,
			From:     app.cfg.SMTPFrom,
			Username: app.cfg.SMTPUsername,
			Password: app.cfg.SMTPPassword,
			TLSMode:  app.cfg.SMTPTLSMode,
		}, app.logger)
	} else {
		email = &notify.LogEmailSender{Logger: app.logger}
		app.logger.Warn("no SMTP host configured, emails go to the log")
	}

	// No SMS gateway ships with the engine; wire a real one by replacing
	// this sender.
	sms := &notify.LogSMSSender{Logger: app.logger}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: app.cfg.RPDisplayName,
		RPID:          app.cfg.RPID,
		RPOrigins:     app.cfg.RPOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize webauthn: %w", err)
	}

	app.sessions = &engine.SessionService{KV: app.kv, TTL: app.cfg.SessionTTL}
	app.apps = &engine.AppService{Store: app.db}
	app.users = &engine.UserService{
		Store:                   app.db,
		KV:                      app.kv,
		Email:                   email,
		EnableEmailVerification: app.cfg.EnableEmailVerification,
	}
	app.mfa = &engine.MFAService{
		Store:             app.db,
		KV:                app.kv,
		Email:             email,
		SMS:               sms,
		OTPIssuer:         app.cfg.RPDisplayName,
		RememberDeviceTTL: app.cfg.RememberDeviceTTL,
	}
	app.passkeys = &engine.PasskeyService{Store: app.db, KV: app.kv, WebAuthn: wa}
	app.recovery = &engine.RecoveryService{Store: app.db}
	app.consents = &engine.ConsentService{Store: app.db}
	app.tokens = &engine.TokenService{
		Store:               app.db,
		Sessions:            app.sessions,
		Signer:              app.signer,
		Issuer:              app.cfg.Issuer,
		AccessTokenTTL:      app.cfg.AccessTokenTTL,
		RefreshTokenTTL:     app.cfg.RefreshTokenTTL,
		IDTokenTTL:          app.cfg.IDTokenTTL,
		RotateRefreshTokens: app.cfg.RotateRefreshTokens,
	}
	app.authorizer = &engine.Authorizer{Store: app.db, Sessions: app.sessions}

	app.housekeeping = engine.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.kv, app.logger)

	router.Sessions = app.sessions
	router.Apps = app.apps
	router.Users = app.users
	router.MFA = app.mfa
	router.Passkeys = app.passkeys
	router.Recovery = app.recovery
	router.Consents = app.consents
	router.Tokens = app.tokens
	router.Authorizer = app.authorizer
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
