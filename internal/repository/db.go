package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localhub/internal/logger"
	"github.com/localhub/migrations"
)

var ErrNotFound = errors.New("not found")

// WithConn acquires a connection from the pool, runs fn and always releases it.
func WithConn(ctx context.Context, pool *pgxpool.Pool, fn func(*pgxpool.Conn) error) error {
	return pool.AcquireFunc(ctx, fn)
}

// WithTx runs fn in a transaction; it commits when fn returns nil and rolls back otherwise.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, pool, fn)
}

// isForeignKeyViolation reports whether err is a Postgres FK violation (the referenced row is gone).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// Migrate applies the embedded migrations in order. Every migration is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	defer logger.DeferLogDuration("repo.Migrate", time.Now())()
	names, err := migrations.Ordered()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	return WithConn(ctx, pool, func(conn *pgxpool.Conn) error {
		for _, name := range names {
			data, err := migrations.Files.ReadFile(name)
			if err != nil {
				return fmt.Errorf("read migration %s: %w", name, err)
			}
			if _, err := conn.Exec(ctx, string(data)); err != nil {
				return fmt.Errorf("run migration %s: %w", name, err)
			}
		}
		return nil
	})
}
