// Package postgres owns the relational connection pool and its schema migrations.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mittalrahul074/picklist/internal/platform/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB bundles the pool with a squirrel builder that emits $n placeholders.
type DB struct {
	Pool    *pgxpool.Pool
	Builder sq.StatementBuilderType
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &DB{
		Pool:    pool,
		Builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Migrate applies the embedded goose migrations.
func (db *DB) Migrate(ctx context.Context) error {
	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	defer sqlDB.Close()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("postgres: apply migrations: %w", err)
	}
	return nil
}

// Ping is used by readiness probes.
func (db *DB) Ping(ctx context.Context) error {
	if db == nil || db.Pool == nil {
		return errors.New("postgres: pool is nil")
	}
	return db.Pool.Ping(ctx)
}

// Close releases every pooled connection.
func (db *DB) Close(context.Context) error {
	if db != nil && db.Pool != nil {
		db.Pool.Close()
	}
	return nil
}
