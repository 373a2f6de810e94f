// Package server wires the token authority together: storage, the session
// services, the auth HTTP API and the gRPC health endpoint. It runs both
// listeners until the context is cancelled or a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/cryptox"
	"github.com/dmitrijs2005/authservice/internal/logging"
	"github.com/dmitrijs2005/authservice/internal/server/auth"
	"github.com/dmitrijs2005/authservice/internal/server/config"
	"github.com/dmitrijs2005/authservice/internal/server/httpapi"
	"github.com/dmitrijs2005/authservice/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authservice/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	gs "github.com/dmitrijs2005/authservice/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	sessions    *services.SessionService
	httpServer  *http.Server
	health      *gs.HealthServer
}

// NewApp validates c, opens the database handle and builds every component.
// No connection is made until Run.
func NewApp(c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := newApp(c, db, repomanager.NewPostgresRepositoryManager(), logger, cryptox.DefaultParams)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(c *config.Config, db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger, params cryptox.Params) (*App, error) {
	keys, err := auth.NewKeyMaterial(c.SecretKey, c.AccessTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("key material: %w", err)
	}

	var opts []auth.CodecOption
	if c.TokenIssuer != "" {
		opts = append(opts, auth.WithIssuer(c.TokenIssuer))
	}
	codec := auth.NewTokenCodec(keys, opts...)

	store, err := services.NewRefreshTokenStore(db, m, c.RefreshTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("refresh token store: %w", err)
	}

	sessions := services.NewSessionService(db, m,
		services.NewPasswordAuthenticator(db, m, params),
		codec, store, services.NewAttachmentSigner(c))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cookie := httpapi.CookieConfig{
		Name:   c.RefreshCookieName,
		Path:   common.RefreshCookiePath,
		Secure: c.RefreshCookieSecure,
		MaxAge: c.RefreshTokenValidityDuration,
	}
	h := httpapi.NewHandler(sessions, codec, cookie, httpapi.NewMetrics(reg), logger)

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		repomanager: m,
		sessions:    sessions,
		httpServer: &http.Server{
			Addr:              c.EndpointAddrHTTP,
			Handler:           httpapi.NewRouter(h, reg),
			ReadHeaderTimeout: 5 * time.Second,
		},
		health: gs.NewHealthServer(c.EndpointAddrGRPC, logger),
	}, nil
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	go func() {
		<-ctx.Done()
		app.logger.Info(context.Background(), "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(sctx); err != nil {
			app.logger.Error(sctx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.health.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run applies migrations and serves until ctx is done, SIGINT/SIGTERM/SIGQUIT
// arrives or a listener fails. The database handle is closed on return.
func (app *App) Run(ctx context.Context) error {
	defer app.db.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	<-ctx.Done()
	app.health.SetServing(false)
	wg.Wait()

	app.logger.Info(context.Background(), "App stopped")
	return nil
}
