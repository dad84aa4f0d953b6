// Package postgres provides Postgres-backed site and event stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Tables          Tables
}

// Tables names the tables used by the stores.
type Tables struct {
	Sites  string
	Events string
}

// DefaultTables are the names the embedded migrations create.
var DefaultTables = Tables{Sites: "sites", Events: "events"}

func (t Tables) withDefaults() (Tables, error) {
	if t.Sites == "" {
		t.Sites = DefaultTables.Sites
	}
	if t.Events == "" {
		t.Events = DefaultTables.Events
	}
	for _, name := range []string{t.Sites, t.Events} {
		if !validTableName.MatchString(name) {
			return t, fmt.Errorf("invalid table name %q", name)
		}
	}
	return t, nil
}

// DB is the subset of pgxpool.Pool used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements the crawler site and event interfaces on Postgres.
type Store struct {
	db     DB
	pool   *pgxpool.Pool
	tables Tables
}

// Open connects a pool using cfg and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	tables, err := cfg.Tables.withDefaults()
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: pool, pool: pool, tables: tables}, nil
}

// NewWithDB constructs a store from an existing connection (primarily for testing).
func NewWithDB(db DB, tables Tables) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	tables, err := tables.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Store{db: db, tables: tables}, nil
}

// Pool exposes the underlying pool for migrations. It is nil for stores
// built with NewWithDB.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
