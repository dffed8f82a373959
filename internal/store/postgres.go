package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresConfig configures the Postgres connection pool.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	MaxConns int    `yaml:"max_conns"`
}

func (c *PostgresConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
}

// PostgresDB wraps the pgxpool connection.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB creates a Postgres connection pool and verifies it.
func NewPostgresDB(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	cfg.applyDefaults()

	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.MaxConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Database).
		Int("max_conns", cfg.MaxConns).
		Msg("postgres pool created")

	return &PostgresDB{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database is reachable.
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close closes the connection pool.
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Migrate creates the schema if it does not exist yet.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS snipers (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			wallet_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			config JSONB NOT NULL,
			filters JSONB NOT NULL,
			stats JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snipers_user
			ON snipers (user_id) WHERE deleted_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			sniper_id UUID NOT NULL,
			user_id TEXT NOT NULL,
			wallet_id TEXT NOT NULL,
			token_mint TEXT NOT NULL,
			pool_address TEXT NOT NULL,
			dex TEXT NOT NULL,
			entry_price_usd NUMERIC NOT NULL,
			entry_amount_sol NUMERIC NOT NULL,
			entry_token_amount NUMERIC NOT NULL,
			entry_market_cap_usd NUMERIC NOT NULL,
			current_token_amount NUMERIC NOT NULL,
			current_price_usd NUMERIC NOT NULL,
			highest_price_usd NUMERIC NOT NULL,
			pnl_pct DOUBLE PRECISION NOT NULL,
			pnl_sol NUMERIC NOT NULL,
			exit_sol NUMERIC NOT NULL,
			cover_initials_done BOOLEAN NOT NULL DEFAULT FALSE,
			plan JSONB NOT NULL,
			buy_signature TEXT NOT NULL DEFAULT '',
			sell_signature TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			exit_reason TEXT NOT NULL DEFAULT '',
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_sniper ON positions (sniper_id)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_user ON positions (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			address TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			last_balance_sol NUMERIC NOT NULL DEFAULT 0,
			last_checked_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallets_user ON wallets (user_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	log.Info().Msg("postgres schema up to date")
	return nil
}
