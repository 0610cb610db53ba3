// Package app wires the Courier server runtime: config, logging, the chat store
// backend, HTTP routes, metrics and realtime push.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"courier/cmd/internal/chat"
	chatapi "courier/cmd/internal/chat/api"
	"courier/cmd/internal/metrics"
	"courier/cmd/internal/realtime"

	"github.com/gocql/gocql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
)

// Store is the app-level lifecycle of the chat backend: readiness and shutdown.
type Store interface {
	Backend() string
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// memoryStore is used for the in-memory backend; it has nothing to ping or close.
type memoryStore struct{}

func (memoryStore) Backend() string               { return BackendMemory }
func (memoryStore) Ping(_ context.Context) error  { return nil }
func (memoryStore) Close(_ context.Context) error { return nil }

// App is the Courier server runtime: it owns the backend connections, HTTP server
// wiring and realtime dependencies.
type App struct {
	cfg Config
	log Logger

	store   Store
	metrics *metrics.Metrics

	svc *chat.Service
	api *chatapi.Handler
	hub *realtime.Hub
	ws  *realtime.WSGateway

	nc    *nats.Conn
	relay *realtime.NATSRelay
}

// New constructs a fully wired App instance from config and logger.
// ctx bounds backend connection and migration at startup.
func New(ctx context.Context, cfg Config, log Logger) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	m := metrics.New()

	chatStore, lifecycle, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a = &App{cfg: cfg, log: log, store: lifecycle, metrics: m}
	defer func() {
		if err != nil {
			a.closeResources(context.Background())
		}
	}()

	a.hub = realtime.NewHub(log, realtime.WithHubMetrics(m))

	var notifier chat.Notifier = a.hub
	if cfg.NATSURL != "" {
		a.nc, err = nats.Connect(cfg.NATSURL,
			nats.Name("courier"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, derr error) {
				log.Warn("relay.nats.disconnected", "err", derr)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info("relay.nats.reconnected", "url", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("app: nats connect: %w", err)
		}
		a.relay, err = realtime.NewNATSRelay(a.nc, a.hub, cfg.NATSSubjectPrefix, log)
		if err != nil {
			return nil, err
		}
		if err = a.relay.Start(); err != nil {
			return nil, err
		}
		notifier = a.relay
		log.Info("relay.nats.enabled", "url", cfg.NATSURL, "prefix", cfg.NATSSubjectPrefix)
	}

	a.svc = chat.NewService(
		chat.Instrument(chatStore, m),
		chat.WithLogger(log),
		chat.WithNotifier(notifier),
		chat.WithPageLimits(cfg.DefaultPageLimit, cfg.MaxPageLimit),
	)

	a.api, err = chatapi.NewHandler(log, a.svc, chatapi.Config{
		MaxBodyBytes:   int64(cfg.MaxBodyBytes),
		SendRateEvents: cfg.SendRateEvents,
		SendRateWindow: cfg.SendRateWindow,
	}, chatapi.WithSendObserver(m))
	if err != nil {
		return nil, err
	}

	wsCfg := realtime.DefaultGatewayConfig()
	wsCfg.AllowedOrigins = cfg.WSAllowedOrigins
	wsCfg.OriginRequired = cfg.WSOriginRequired
	wsCfg.HeartbeatInterval = nonZeroDuration(cfg.WSHeartbeatInterval, wsCfg.HeartbeatInterval)
	wsCfg.SendQueueSize = nonZeroInt(cfg.WSSendQueueSize, wsCfg.SendQueueSize)
	a.ws = realtime.NewWSGateway(log, a.hub, wsCfg)

	return a, nil
}

// Handler returns the fully wrapped HTTP handler of the app.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.store, a.metrics.Handler(), a.api, a.ws)
	return WithRequestLogging(mux, a.log, a.metrics)
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

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "backend", a.store.Backend(), "nats", a.nc != nil)

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
		a.closeResources(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.closeResources(shutdownCtx)

	a.log.Info("server.stopped")
	return nil
}

// closeResources releases the relay, the NATS connection and the store, in that order.
func (a *App) closeResources(ctx context.Context) {
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.log.Error("relay.close.fail", "err", err)
		}
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
	}
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

// newStore opens the configured backend and returns the chat store together with
// the lifecycle handle the app closes on shutdown.
func newStore(ctx context.Context, cfg Config, log Logger) (chat.Store, Store, error) {
	switch cfg.Backend() {
	case BackendPostgres:
		return newPostgresStore(ctx, cfg, log)
	case BackendCassandra:
		return newCassandraStore(ctx, cfg, log)
	default:
		log.Info("store.memory.enabled")
		return chat.NewInMemoryStore(), memoryStore{}, nil
	}
}

func newPostgresStore(ctx context.Context, cfg Config, log Logger) (chat.Store, Store, error) {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	st, err := chat.NewPostgresStore(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if cfg.DBAutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("store.postgres.migrated", "schema", cfg.DBSchema)
	}

	log.Info("store.postgres.enabled", "schema", cfg.DBSchema)
	return st, pgStore{pool: pool, store: st}, nil
}

type pgStore struct {
	pool  *pgxpool.Pool
	store chat.Store
}

func (s pgStore) Backend() string { return BackendPostgres }

func (s pgStore) Ping(ctx context.Context) error {
	return PingDB(ctx, s.pool, 2*time.Second)
}

func (s pgStore) Close(_ context.Context) error {
	err := s.store.Close()
	s.pool.Close()
	return err
}

func newCassandraStore(ctx context.Context, cfg Config, log Logger) (chat.Store, Store, error) {
	session, err := NewCassandraSession(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	st, err := chat.NewCassandraStore(session, nil)
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	if cfg.CassandraAutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			session.Close()
			return nil, nil, err
		}
		log.Info("store.cassandra.migrated", "keyspace", cfg.CassandraKeyspace)
	}

	log.Info("store.cassandra.enabled", "hosts", cfg.CassandraHosts, "keyspace", cfg.CassandraKeyspace)
	return st, cassandraStore{session: session, store: st}, nil
}

type cassandraStore struct {
	session *gocql.Session
	store   chat.Store
}

func (s cassandraStore) Backend() string { return BackendCassandra }

func (s cassandraStore) Ping(ctx context.Context) error {
	return PingCassandra(ctx, s.session, 2*time.Second)
}

func (s cassandraStore) Close(_ context.Context) error {
	err := s.store.Close()
	s.session.Close()
	return err
}
