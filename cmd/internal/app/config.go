package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store backends.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendCassandra = "cassandra"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int

	// StoreBackend selects the chat store. Empty picks postgres when DatabaseURL is
	// set, cassandra when CassandraHosts is set, memory otherwise.
	StoreBackend string

	DatabaseURL         string
	DBMaxConns          int32
	DBMinConns          int32
	DBMaxConnLifetime   time.Duration
	DBHealthCheckPeriod time.Duration
	DBConnectTimeout    time.Duration
	DBSchema            string
	DBAutoMigrate       bool

	CassandraHosts       []string
	CassandraKeyspace    string
	CassandraConsistency string
	CassandraTimeout     time.Duration
	CassandraAutoMigrate bool

	NATSURL           string
	NATSSubjectPrefix string

	WSAllowedOrigins    []string
	WSOriginRequired    bool
	WSHeartbeatInterval time.Duration
	WSSendQueueSize     int

	// If true:
	// - /readyz returns 503 unless a durable backend is configured and reachable.
	ReadinessRequireDB bool

	DefaultPageLimit int
	MaxPageLimit     int

	SendRateEvents int
	SendRateWindow time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("COURIER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("COURIER_LOG_LEVEL", "info"),
		LogFormat: EnvString("COURIER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("COURIER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("COURIER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("COURIER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("COURIER_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("COURIER_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:   EnvInt("COURIER_HTTP_MAX_BODY_BYTES", 1<<20),

		StoreBackend: strings.ToLower(EnvString("COURIER_STORE_BACKEND", "")),

		DatabaseURL:         EnvString("COURIER_DATABASE_URL", ""),
		DBMaxConns:          EnvInt32("COURIER_DB_MAX_CONNS", 10),
		DBMinConns:          EnvInt32("COURIER_DB_MIN_CONNS", 0),
		DBMaxConnLifetime:   EnvDuration("COURIER_DB_MAX_CONN_LIFETIME", 30*time.Minute),
		DBHealthCheckPeriod: EnvDuration("COURIER_DB_HEALTH_CHECK_PERIOD", 30*time.Second),
		DBConnectTimeout:    EnvDuration("COURIER_DB_CONNECT_TIMEOUT", 3*time.Second),
		DBSchema:            EnvString("COURIER_DB_SCHEMA", "courier"),
		DBAutoMigrate:       EnvBool("COURIER_DB_AUTO_MIGRATE", false),

		CassandraHosts:       EnvCSV("COURIER_CASSANDRA_HOSTS", nil),
		CassandraKeyspace:    EnvString("COURIER_CASSANDRA_KEYSPACE", "courier"),
		CassandraConsistency: EnvString("COURIER_CASSANDRA_CONSISTENCY", "QUORUM"),
		CassandraTimeout:     EnvDuration("COURIER_CASSANDRA_TIMEOUT", 5*time.Second),
		CassandraAutoMigrate: EnvBool("COURIER_CASSANDRA_AUTO_MIGRATE", false),

		NATSURL:           EnvString("COURIER_NATS_URL", ""),
		NATSSubjectPrefix: EnvString("COURIER_NATS_SUBJECT_PREFIX", "courier"),

		WSAllowedOrigins:    EnvCSV("COURIER_WS_ALLOWED_ORIGINS", []string{"http://localhost", "http://127.0.0.1"}),
		WSOriginRequired:    EnvBool("COURIER_WS_ORIGIN_REQUIRED", true),
		WSHeartbeatInterval: EnvDuration("COURIER_WS_HEARTBEAT_INTERVAL", 25*time.Second),
		WSSendQueueSize:     EnvInt("COURIER_WS_SEND_QUEUE", 256),

		ReadinessRequireDB: EnvBool("COURIER_READINESS_REQUIRE_DB", false),

		DefaultPageLimit: EnvInt("COURIER_DEFAULT_PAGE_LIMIT", 20),
		MaxPageLimit:     EnvInt("COURIER_MAX_PAGE_LIMIT", 100),

		SendRateEvents: EnvInt("COURIER_SEND_RATE_EVENTS", 120),
		SendRateWindow: EnvDuration("COURIER_SEND_RATE_WINDOW", 10*time.Second),
	}
}

// Backend resolves the effective store backend.
func (c Config) Backend() string {
	if c.StoreBackend != "" {
		return c.StoreBackend
	}
	switch {
	case c.DatabaseURL != "":
		return BackendPostgres
	case len(c.CassandraHosts) > 0:
		return BackendCassandra
	default:
		return BackendMemory
	}
}

// Validate rejects configurations that cannot start.
func (c Config) Validate() error {
	var errs []error

	switch c.Backend() {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("COURIER_DATABASE_URL is required for the postgres backend"))
		}
	case BackendCassandra:
		if len(c.CassandraHosts) == 0 {
			errs = append(errs, errors.New("COURIER_CASSANDRA_HOSTS is required for the cassandra backend"))
		}
		if strings.TrimSpace(c.CassandraKeyspace) == "" {
			errs = append(errs, errors.New("COURIER_CASSANDRA_KEYSPACE must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown COURIER_STORE_BACKEND %q", c.StoreBackend))
	}

	if c.DefaultPageLimit > c.MaxPageLimit {
		errs = append(errs, fmt.Errorf("COURIER_DEFAULT_PAGE_LIMIT (%d) exceeds COURIER_MAX_PAGE_LIMIT (%d)", c.DefaultPageLimit, c.MaxPageLimit))
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("unknown COURIER_LOG_FORMAT %q", c.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: invalid config: %w", err)
	}
	return nil
}
