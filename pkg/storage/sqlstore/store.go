// Package sqlstore implements storage.Store and invitations.Repository on
// database/sql. It runs against PostgreSQL (lib/pq) in production and
// SQLite (go-sqlite3) in tests and single node deployments; every query is
// written in the dialect both accept.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/scope"
	"github.com/platinummonkey/tenantguard/pkg/storage"
)

// Supported database/sql driver names
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var _ storage.Store = (*Store)(nil)

// Store is a SQL backed storage.Store
type Store struct {
	conns    *ConnectionManager
	notifier scope.Notifier
	logger   *observability.Logger
}

// Option configures a Store
type Option func(*Store)

// WithNotifier sets the notifier relationship writes are reported to
func WithNotifier(n scope.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open connects using cfg and, when cfg.Migrate is set, brings the schema
// up to date
func Open(ctx context.Context, cfg storage.Config, opts ...Option) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.Default()
	}

	conns, err := NewConnectionManager(ctx, ConnectionConfig{
		Driver:      cfg.Driver,
		PrimaryDSN:  cfg.DSN,
		ReplicaDSNs: cfg.ReplicaDSNs,
		MaxConns:    cfg.MaxOpenConns,
		MinConns:    cfg.MaxIdleConns,
		Timeout:     cfg.Timeout,
		MaxLifetime: cfg.ConnMaxLifetime,
		MaxIdleTime: cfg.ConnMaxIdleTime,
	}, s.logger)
	if err != nil {
		return nil, err
	}
	s.conns = conns

	if cfg.Migrate {
		if err := Migrate(ctx, conns.Primary()); err != nil {
			conns.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps an open database. The schema is not touched.
func New(db *sql.DB, driver string, opts ...Option) *Store {
	s := &Store{conns: NewConnectionManagerFromDB(db, driver)}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.Default()
	}
	return s
}

// DB returns the primary connection
func (s *Store) DB() *sql.DB {
	return s.conns.Primary()
}

// Connections returns the connection manager
func (s *Store) Connections() *ConnectionManager {
	return s.conns
}

// SetNotifier replaces the notifier after construction
func (s *Store) SetNotifier(n scope.Notifier) {
	s.notifier = n
}

func (s *Store) notify(ctx context.Context, ev scope.ChangeEvent) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, ev)
	}
}

// HealthCheck implements storage.HealthChecker
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

// Close closes every connection
func (s *Store) Close() error {
	return s.conns.Close()
}

// isUniqueViolation reports whether err is a unique constraint failure on
// either driver
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// placeholders returns "$from, $from+1, ..." for n parameters
func placeholders(from, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", from+i)
	}
	return b.String()
}

func stringArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
