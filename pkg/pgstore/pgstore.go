// Package pgstore keeps accounts and audit records in PostgreSQL.
//
// It is the shared backend for deployments that run more than one server
// process: lockout counters and audit queries must see every process's
// writes, which the embedded Badger store cannot offer. The catalog and
// rate-limit counters stay in Badger either way.
//
// Lockout transitions are single conditional UPDATE ... RETURNING
// statements, so concurrent failed logins never lose an increment.
//
// Example Usage:
//
//	store, err := pgstore.Open(ctx, "postgres://shop:secret@db:5432/shop", pgstore.DefaultOptions(), logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	if err := pgstore.Migrate("postgres://shop:secret@db:5432/shop", logger); err != nil {
//		log.Fatal(err)
//	}
//
//	authenticator, _ := auth.NewAuthenticator(store, tokens, auth.DefaultAuthConfig(), logger)
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// PingTimeout bounds the connectivity check in Open.
	PingTimeout time.Duration
}

// DefaultOptions returns pool settings sized for an admin backend.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: 15 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// Store implements auth.AccountStore and audit.Store over database/sql.
type Store struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// Open connects to dsn through the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string, opts Options, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := New(db, logger)
	s.log.Info("postgres connected", slog.Int("max_open_conns", opts.MaxOpenConns))
	return s, nil
}

// New wraps an existing handle. Tests pass a sqlmock connection.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:  db,
		log: logger.With(slog.String("component", "pgstore")),
		now: time.Now,
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
