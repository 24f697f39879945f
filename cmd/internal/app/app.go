// Package app wires the chirp server runtime: config, logging, storage,
// HTTP routes, realtime push and housekeeping.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"chirp/cmd/identity"
	authapi "chirp/cmd/internal/auth/api"
	"chirp/cmd/internal/auth/session"
	"chirp/cmd/internal/invite"
	"chirp/cmd/internal/migrations"
	"chirp/cmd/internal/realtime"
	"chirp/cmd/security/password"
	"chirp/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the chirp server runtime: it owns the HTTP server, the session
// authority and the realtime gateway.
type App struct {
	cfg Config
	log Logger

	backend backend

	registry  *prometheus.Registry
	authority *session.Authority
	ws        *realtime.WSGateway
	auth      *authapi.Handler
	sweeper   *Sweeper
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	hasher, err := NewTokenHasher(cfg)
	if err != nil {
		return nil, err
	}

	be, err := newBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a, err := wire(cfg, log, be, sessCfg, apiCfg, pwCfg, hasher)
	if err != nil {
		be.close()
		return nil, err
	}
	return a, nil
}

func wire(cfg Config, log Logger, be backend, sessCfg session.Config, apiCfg authapi.Config, pwCfg password.Config, hasher token.Hasher) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := session.NewMetrics(registry)
	clock := session.SystemClock{}

	accounts, err := identity.NewAccounts(be.users, pwCfg, clock)
	if err != nil {
		return nil, err
	}
	codec, err := session.NewAccessTokenCodec(sessCfg, clock)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log)
	authority, err := session.NewAuthority(sessCfg, session.Deps{
		Store:    be.sessions,
		Users:    accounts,
		Hasher:   hasher,
		Codec:    codec,
		Clock:    clock,
		Notifier: hub,
		Logger:   log,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	invites, err := invite.NewService(be.invites, invite.WithHasher(hasher))
	if err != nil {
		return nil, err
	}

	auth, err := authapi.NewHandler(apiCfg, authapi.Deps{
		Authority: authority,
		Guard:     session.NewGuard(accounts, sessCfg, log, metrics),
		Accounts:  accounts,
		Audit:     be.audit,
		Invites:   invites,
		Clock:     clock,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		backend:   be,
		registry:  registry,
		authority: authority,
		ws:        realtime.NewWSGateway(cfg.WS, log, hub, authority),
		auth:      auth,
		sweeper:   NewSweeper(authority, cfg.SweepInterval, log),
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.backend.pool, a.backend.pool != nil, a.registry, a.ws, a.auth)
	return buildHandler(mux, a.cfg, a.log)
}

// Run starts the HTTP server and the sweeper and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.backend.pool != nil)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweeper.Run(sweepCtx)
	}()
	defer func() {
		stopSweep()
		wg.Wait()
		a.backend.close()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// backend groups the storage implementations for one process.
type backend struct {
	users    identity.Store
	sessions session.Store
	audit    authapi.AuditLog
	invites  invite.Store
	pool     *pgxpool.Pool
}

func (b backend) close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

func memoryBackend() backend {
	return backend{
		users:    identity.NewMemoryStore(),
		sessions: session.NewMemoryStore(),
		audit:    authapi.NewMemoryAuditLog(),
		invites:  invite.NewMemoryStore(),
	}
}

// newBackend decides between Postgres-backed persistence and in-memory dev stores.
func newBackend(ctx context.Context, cfg Config, log Logger) (backend, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled.inmemory_store")
		return memoryBackend(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return backend{}, err
	}

	if cfg.MigrateOnStart {
		version, err := migrations.Up(ctx, pool)
		if err != nil {
			pool.Close()
			return backend{}, err
		}
		log.Info("db.migrations.applied", "version", version)
	}

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return backend{}, err
	}

	invites, err := invite.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return backend{}, err
	}

	log.Info("db.enabled.postgres_store")
	return backend{
		users:    users,
		sessions: session.NewPostgresStore(pool),
		audit:    authapi.NewPostgresAuditLog(pool),
		invites:  invites,
		pool:     pool,
	}, nil
}
