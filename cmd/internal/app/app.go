// Package app wires the chattrack server runtime: config, logging, HTTP routes, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chattrack/cmd/internal/chat"
	"chattrack/cmd/internal/httpapi"
	"chattrack/cmd/internal/metrics"
	"chattrack/cmd/internal/realtime"
	"chattrack/cmd/internal/tally"
	"chattrack/cmd/internal/tracker"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// App is the chattrack server runtime: it owns HTTP server wiring and the
// tracker, tally store and gateway behind it.
type App struct {
	cfg Config
	log Logger

	store   Store
	tallies tally.Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *metrics.Metrics
	tracker *tracker.Tracker
	chat    *chat.Service

	ws  *realtime.WSGateway
	api *httpapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	trOpts := []tracker.Option{tracker.WithLogger(log)}
	if cfg.MetricsEnabled {
		m = metrics.New()
		trOpts = append(trOpts, tracker.WithObserver(m))
	}

	tr, err := tracker.New(cfg.Buckets, trOpts...)
	if err != nil {
		return nil, err
	}

	st, tallies, dbPool, dbEnabled, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	svc, err := chat.NewService(tr, tallies, chat.WithLogger(log))
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}

	var sessions realtime.SessionObserver
	if m != nil {
		sessions = m
	}
	ws, err := realtime.NewWSGateway(log, realtime.NewHub(log), svc, wsConfig(cfg.WS), sessions)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}

	api, err := httpapi.NewHandler(log, svc, httpapi.WithAnnouncer(ws))
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}

	log.Info("app.wired",
		"buckets", cfg.Buckets,
		"db_enabled", dbEnabled,
		"metrics_enabled", cfg.MetricsEnabled,
	)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		tallies:   tallies,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		metrics:   m,
		tracker:   tr,
		chat:      svc,
		ws:        ws,
		api:       api,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.api, a.metrics)

	var obs HTTPObserver
	if a.metrics != nil {
		obs = a.metrics
	}
	return WithRequestLogging(WithSecurityHeaders(mux), a.log, obs)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
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
		_ = a.Close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	stats := a.tracker.Stats()
	a.log.Info("server.stopped", "live", stats.Live, "departed", stats.Departed)
	return nil
}

// Close releases store resources (pool etc).
func (a *App) Close(ctx context.Context) error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close(ctx)
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

func wsConfig(c WSConfig) realtime.Config {
	return realtime.Config{
		DevInsecure:       c.DevInsecure,
		OriginRequired:    c.OriginRequired,
		AllowedOrigins:    c.AllowedOrigins,
		WriteTimeout:      c.WriteTimeout,
		ReadIdleTimeout:   c.ReadIdleTimeout,
		SendQueueSize:     c.SendQueueSize,
		HeartbeatInterval: c.HeartbeatInterval,
		HeartbeatTimeout:  c.HeartbeatTimeout,
		RateEvents:        c.RateEvents,
		RateWindow:        c.RateWindow,
	}
}

// newStore decides between the Postgres tally store and the in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, tally.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		mem := tally.NewInMemoryStore()
		return dbStore{tallies: mem}, mem, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, nil, false, err
	}

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	pg, err := tally.NewPostgresStore(pool, tally.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, nil, false, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return dbStore{pool: pool, tallies: pg}, pg, pool, true, nil
}

type dbStore struct {
	pool    *pgxpool.Pool
	tallies tally.Store
}

func (s dbStore) Close(_ context.Context) error {
	var err error
	if s.tallies != nil {
		err = s.tallies.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
