// Package app wires the Fitlink realtime server: config, logging, metrics,
// the HTTP surface, and the realtime gateway with its stores.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fitlink/cmd/internal/auth/session"
	"fitlink/cmd/internal/events"
	"fitlink/cmd/internal/friends"
	"fitlink/cmd/internal/metrics"
	"fitlink/cmd/internal/realtime"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Fitlink server runtime: it owns HTTP wiring and the realtime
// gateway's dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	registry *prometheus.Registry

	ws *realtime.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	st, dbPool, dbEnabled, friendStore, eventStore, authzStore, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	ws := realtime.NewGateway(log, realtime.NewCache(log), friendStore, eventStore, authzStore, tokens, m)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		registry:  registry,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.registry, a.ws)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

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

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
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

// newStores decides between Postgres-backed persistence and in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, friends.Store, events.Store, session.AuthzStore, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false,
			friends.NewInMemoryStore(), events.NewInMemoryStore(), session.NewInMemoryAuthzStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, nil, nil, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - the stores' Close() methods are no-ops
	friendStore, err := friends.NewPostgresStore(pool) // default schema "fitlink"
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, nil, err
	}
	eventStore, err := events.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, nil, err
	}
	authzStore, err := session.NewPostgresAuthzStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, nil, err
	}

	st := dbStore{pool: pool, friends: friendStore, events: eventStore}
	return st, pool, true, friendStore, eventStore, authzStore, nil
}

type dbStore struct {
	pool    *pgxpool.Pool
	friends friends.Store
	events  events.Store
}

func (s dbStore) Close(_ context.Context) error {
	if s.friends != nil {
		_ = s.friends.Close()
	}
	if s.events != nil {
		_ = s.events.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
