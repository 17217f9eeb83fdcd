package kv

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MaxConns int
	MinConns int
	Table    string
}

// PostgresEngine stores values in a two-column table
type PostgresEngine struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

// NewPostgresEngine creates the connection pool, verifies it and ensures
// the backing table exists.
func NewPostgresEngine(ctx context.Context, cfg *PostgresConfig, logger *zap.Logger) (*PostgresEngine, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.MaxConns, cfg.MinConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "kv"
	}
	e := &PostgresEngine{pool: pool, table: pgx.Identifier{table}.Sanitize(), logger: logger}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	if err := e.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return e, nil
}

func (e *PostgresEngine) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key   TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		)
	`, e.table)

	if _, err := e.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", e.table, err)
	}
	return nil
}

func (e *PostgresEngine) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, e.table)

	var value []byte
	err := e.pool.QueryRow(ctx, query, key).Scan(&value)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (e *PostgresEngine) Put(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, e.table)

	if _, err := e.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Close closes the connection pool
func (e *PostgresEngine) Close() error {
	e.pool.Close()
	return nil
}
