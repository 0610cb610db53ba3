package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

// NewCassandraSession connects to the configured cluster and keyspace.
//
// When CassandraAutoMigrate is set the keyspace is created first (SimpleStrategy,
// replication factor 1), which is only suitable for development clusters.
func NewCassandraSession(ctx context.Context, cfg Config) (*gocql.Session, error) {
	consistency, err := gocql.ParseConsistencyWrapper(strings.ToUpper(strings.TrimSpace(cfg.CassandraConsistency)))
	if err != nil {
		return nil, fmt.Errorf("app: cassandra consistency: %w", err)
	}
	if !isValidCQLIdent(cfg.CassandraKeyspace) {
		return nil, fmt.Errorf("app: invalid cassandra keyspace %q", cfg.CassandraKeyspace)
	}

	if cfg.CassandraAutoMigrate {
		if err := ensureKeyspace(ctx, cfg); err != nil {
			return nil, err
		}
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.CassandraKeyspace
	cluster.Consistency = consistency

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("app: cassandra connect: %w", err)
	}
	return session, nil
}

// PingCassandra runs a trivial local read within timeout.
func PingCassandra(parent context.Context, session *gocql.Session, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	var release string
	return session.Query(`SELECT release_version FROM system.local`).WithContext(ctx).Scan(&release)
}

func newCluster(cfg Config) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.CassandraHosts...)
	timeout := nonZeroDuration(cfg.CassandraTimeout, 5*time.Second)
	cluster.Timeout = timeout
	cluster.ConnectTimeout = timeout
	return cluster
}

func ensureKeyspace(ctx context.Context, cfg Config) error {
	cluster := newCluster(cfg)
	cluster.Consistency = gocql.One

	admin, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("app: cassandra connect: %w", err)
	}
	defer admin.Close()

	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`,
		cfg.CassandraKeyspace,
	)
	if err := admin.Query(stmt).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("app: create keyspace: %w", err)
	}
	return nil
}

func isValidCQLIdent(s string) bool {
	if s == "" || len(s) > 48 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
