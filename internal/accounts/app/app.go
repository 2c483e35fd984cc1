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

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/accounts/internal/accounts/attempts"
	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/geo"
	httpapi "github.com/aussiebroadwan/accounts/internal/accounts/http"
	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/notify"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/internal/accounts/store/drivers/sqlite"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application owns the accounts service and everything it depends on.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db         store.Store
	keyManager *jwtx.KeyManager
	hasher     *cryptox.Hasher
	metrics    *metrics.Metrics

	// Optional infrastructure
	nats  *nats.Conn
	redis *redis.Client

	// Ambient sinks
	dispatcher *audit.Dispatcher
	tracker    attempts.Tracker
	notifier   notify.Notifier
	geo        geo.Resolver

	// Services
	accountService      *service.AccountService
	authService         *service.AuthService
	sessionService      *service.SessionService
	tokenService        *service.TokenService
	secondFactorService *service.SecondFactorService
	riskService         *service.RiskService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates an Application with every dependency initialised. Optional
// backends (Redis, NATS, geo table) are connected only when configured.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "accounts-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		metrics: metrics.New(),
	}

	pepper, err := cryptox.LoadOrGeneratePepper(cfg.PepperFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}
	app.hasher = cryptox.NewHasher(pepper, cfg.BcryptCost)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	keyManager, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{
		Issuer:   cfg.Service.Issuer,
		Audience: cfg.Service.Audience,
		KeyFile:  cfg.KeyFile,
		NumKeys:  cfg.NumKeys,
	})
	if err != nil {
		app.closeBackends()
		return nil, fmt.Errorf("failed to initialize JWT keys: %w", err)
	}
	app.keyManager = keyManager
	app.logger.Info("signing keys ready", "count", keyManager.SignerCount(), "persistent", cfg.KeyFile != "")

	if err := app.initBackends(); err != nil {
		app.closeBackends()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("accounts service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.housekeepingService.Stop()
			app.closeBackends()
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

// Shutdown drains in-flight requests, stops background work, flushes
// queued audit events and closes every backend.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down accounts service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.closeBackends(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("accounts service stopped")
	return nil
}

// Handler exposes the routed HTTP handler, mainly for tests.
func (app *Application) Handler() http.Handler { return app.router }

// initDatabase opens the database and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.FileDSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		app.db = nil
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initBackends picks the attempt tracker, audit sinks, notifier and geo
// resolver from the configuration.
func (app *Application) initBackends() error {
	retention := 2 * app.cfg.Service.Risk.AttemptWindow

	if app.cfg.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.tracker = attempts.NewRedis(app.redis, "accounts:attempts", retention)
		app.logger.Info("using redis attempt tracker", "addr", app.cfg.RedisAddr)
	} else {
		app.tracker = attempts.NewMemory(retention)
	}

	sinks := audit.MultiSink{audit.SlogSink{Logger: app.logger}}
	var delivery notify.Notifier = notify.LogNotifier{Logger: app.logger}

	if app.cfg.NATSURL != "" {
		nc, err := nats.Connect(app.cfg.NATSURL, nats.Name("accounts-service"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		app.nats = nc
		sinks = append(sinks, audit.NewNATSSink(nc, "accounts.audit", app.logger))
		delivery = notify.NewNATSNotifier(nc, "accounts.notify")
		app.logger.Info("connected to NATS", "url", nc.ConnectedUrl())
	}

	app.dispatcher = audit.NewDispatcher(sinks, app.cfg.AuditBuffer)
	app.metrics.WatchDropped("audit_events_dropped_total", "Audit events dropped because the queue was full.", app.dispatcher.Dropped)
	app.notifier = notify.NewThrottled(delivery, app.cfg.NotifyInterval, app.cfg.NotifyBurst)

	if app.cfg.GeoTableFile != "" {
		table, err := geo.LoadTable(app.cfg.GeoTableFile)
		if err != nil {
			return fmt.Errorf("failed to load geo table: %w", err)
		}
		app.geo = table
	}

	return nil
}

// closeBackends releases whatever has been opened so far. It tolerates a
// partially initialised Application.
func (app *Application) closeBackends() error {
	if app.dispatcher != nil {
		app.dispatcher.Close()
	}
	if app.nats != nil {
		if err := app.nats.Drain(); err != nil {
			app.logger.Error("error draining NATS", "error", err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
		}
	}
	if app.db != nil {
		return app.db.Close()
	}
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	sc := app.cfg.Service

	app.sessionService = &service.SessionService{
		Store:   app.db,
		Config:  sc,
		Audit:   app.dispatcher,
		Metrics: app.metrics,
	}
	app.tokenService = &service.TokenService{
		Signers: app.keyManager,
		Store:   app.db,
		Config:  sc,
		Audit:   app.dispatcher,
		Metrics: app.metrics,
	}
	app.secondFactorService = &service.SecondFactorService{
		Store:    app.db,
		Issuer:   sc.TOTPIssuer,
		Notifier: app.notifier,
		Audit:    app.dispatcher,
	}
	app.riskService = &service.RiskService{
		History:  app.db.Sessions(),
		Attempts: app.tracker,
		Geo:      app.geo,
		Audit:    app.dispatcher,
		Metrics:  app.metrics,
		Config:   sc.Risk,
	}
	app.accountService = &service.AccountService{
		Store:    app.db,
		Hasher:   app.hasher,
		Notifier: app.notifier,
		Config:   sc,
		Audit:    app.dispatcher,
		Metrics:  app.metrics,
	}
	app.authService = &service.AuthService{
		Store:        app.db,
		Hasher:       app.hasher,
		SecondFactor: app.secondFactorService,
		Sessions:     app.sessionService,
		Tokens:       app.tokenService,
		Risk:         app.riskService,
		Config:       sc,
		Audit:        app.dispatcher,
		Metrics:      app.metrics,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.sessionService,
		app.riskService,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.SweepInterval,
	)
	app.housekeepingService.Metrics = app.metrics
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.TrustProxy = app.cfg.TrustProxy
	router.Metrics = app.metrics
	router.Auth = app.authService
	router.Accounts = app.accountService
	router.SecondFactor = app.secondFactorService
	router.Sessions = app.sessionService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
