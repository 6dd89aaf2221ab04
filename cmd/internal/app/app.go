// Package app wires the ShelfSwap messaging runtime: config, logging, the
// conversation service, HTTP routes, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"shelfswap/cmd/internal/auth"
	"shelfswap/cmd/internal/messaging"
	"shelfswap/cmd/internal/realtime"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the messaging server runtime: it owns HTTP wiring, the conversation
// service, and the realtime gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	verifier auth.Verifier

	svc *messaging.Service
	msg *messaging.Handler

	dispatcher *realtime.Dispatcher
	ws         *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	verifier, err := newVerifier(cfg, log)
	if err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, convs, msgs, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	dispatcher := realtime.NewDispatcher(log)

	svc := messaging.NewService(log, convs, msgs,
		messaging.WithNotifier(realtime.NewNotifier(dispatcher)),
	)

	var handlerOpts []messaging.HandlerOption
	if dbEnabled && dbPool != nil {
		dir, err := messaging.NewPostgresDirectory(log, dbPool, cfg.DBSchema)
		if err != nil {
			return nil, err
		}
		handlerOpts = append(handlerOpts, messaging.WithDirectory(dir))
	}
	msgHandler := messaging.NewHandler(log, svc, handlerOpts...)

	ws := realtime.NewWSGateway(log, dispatcher, verifier)

	return &App{
		cfg:        cfg,
		log:        log,
		store:      st,
		dbPool:     dbPool,
		dbEnabled:  dbEnabled,
		verifier:   verifier,
		svc:        svc,
		msg:        msgHandler,
		dispatcher: dispatcher,
		ws:         ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.verifier, a.msg, a.ws)

	handler := WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
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

	// Close store resources (pool etc).
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

// newVerifier picks the bearer-token verifier per security policy.
func newVerifier(cfg Config, log Logger) (auth.Verifier, error) {
	if cfg.AuthDevInsecure {
		log.Warn("auth.dev_insecure", "detail", "tokens are treated as bare user ids")
		return auth.InsecureVerifier{}, nil
	}

	v, err := auth.NewHMACVerifierFromEnv()
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrKeyMissing):
			return nil, errors.New("security policy: " + auth.HMACEnvKey + " is missing (or set SHELFSWAP_AUTH_DEV_INSECURE=true for dev)")
		case errors.Is(err, auth.ErrKeyTooShort):
			return nil, errors.New("security policy: " + auth.HMACEnvKey + " is too short (min 32 bytes)")
		default:
			return nil, err
		}
	}
	return v, nil
}

// newStore decides between Postgres-backed persistence and in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, messaging.ConversationStore, messaging.MessageStore, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		mem := messaging.NewMemoryStore()
		return nopStore{}, nil, false, mem, mem, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore holds a borrowed pool and has no Close of its own
	pg, err := messaging.NewPostgresStore(pool, messaging.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}

	return dbStore{pool: pool}, pool, true, pg, pg, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
