package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/themis-pm/collab-relay/internal/auth"
	"github.com/themis-pm/collab-relay/internal/callengine"
	"github.com/themis-pm/collab-relay/internal/callengine/livekit"
	"github.com/themis-pm/collab-relay/internal/calls"
	"github.com/themis-pm/collab-relay/internal/chat"
	"github.com/themis-pm/collab-relay/internal/config"
	"github.com/themis-pm/collab-relay/internal/docs"
	"github.com/themis-pm/collab-relay/internal/metrics"
	"github.com/themis-pm/collab-relay/internal/store"
	"github.com/themis-pm/collab-relay/internal/store/sqlite"
	transporthttp "github.com/themis-pm/collab-relay/internal/transport/http"
)

// App wires together the relays, storage and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	relays          transporthttp.Relays
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	return NewWithStore(st, cfg, logger), nil
}

// NewWithStore builds the application on an already prepared store.
func NewWithStore(st store.Store, cfg *config.Config, logger *zerolog.Logger) *App {
	m := metrics.New()

	var authService *auth.Service
	if cfg.Auth.JWTSecret != "" {
		authService = auth.NewService(&auth.JWTConfig{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Issuer:   cfg.Auth.JWTIssuer,
			Audience: cfg.Auth.JWTAudience,
		})
		logger.Info().Msg("token verification enabled")
	}

	var engine callengine.Engine
	if cfg.LiveKit.Enabled() {
		engine = livekit.New(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.URL)
		logger.Info().Str("url", cfg.LiveKit.URL).Msg("sfu fallback enabled")
	}

	relays := transporthttp.Relays{
		Chat: chat.NewRelay(st, logger, chat.Options{
			PersistTimeout: cfg.Docs.PersistTimeout,
			HistoryLimit:   cfg.Chat.HistoryLimit,
			Metrics:        m,
		}),
		Docs: docs.NewRelay(st, logger, docs.Options{
			AutosaveDelay:  cfg.Docs.AutosaveDelay,
			PersistTimeout: cfg.Docs.PersistTimeout,
			Metrics:        m,
		}),
		Calls: calls.NewRelay(st, logger, calls.Options{
			PersistTimeout: cfg.Docs.PersistTimeout,
			Engine:         engine,
			Metrics:        m,
		}),
	}

	return &App{
		server:          transporthttp.NewServer(relays, authService, m, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		relays:          relays,
		store:           st,
		log:             logger,
	}
}

// Run starts the relays and the HTTP server and blocks until context cancellation or fatal error.
// On shutdown the server stops accepting first, then open documents are saved, then the relays stop.
func (a *App) Run(ctx context.Context) error {
	loopCtx, stopLoops := context.WithCancel(context.Background())
	var loops sync.WaitGroup
	for _, run := range []func(context.Context){a.relays.Chat.Run, a.relays.Docs.Run, a.relays.Calls.Run} {
		loops.Add(1)
		go func(run func(context.Context)) {
			defer loops.Done()
			run(loopCtx)
		}(run)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("starting http server")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			runErr = err
		} else {
			runErr = <-serverErr
		}

		if err := a.relays.Docs.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("failed to save open documents")
			runErr = errors.Join(runErr, err)
		}
	}

	stopLoops()
	loops.Wait()
	a.cleanup()
	return runErr
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
