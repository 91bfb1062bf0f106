package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore persists the ledger in two tables, trades and positions.
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sqlx.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}
}

// Schema returns the DDL for the ledger tables.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS trades (
	id         UUID PRIMARY KEY,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	quantity   DOUBLE PRECISION NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	commission DOUBLE PRECISION NOT NULL,
	signal_id  TEXT,
	ts         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_symbol_ts_idx ON trades (symbol, ts DESC);

CREATE TABLE IF NOT EXISTS positions (
	symbol        TEXT PRIMARY KEY,
	quantity      DOUBLE PRECISION NOT NULL,
	avg_price     DOUBLE PRECISION NOT NULL,
	current_price DOUBLE PRECISION NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);`
}

// Migrate creates the ledger tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, Schema()); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// SaveTrade inserts one fill.
func (s *PostgresStore) SaveTrade(ctx context.Context, trade Trade) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO trades (id, symbol, side, quantity, price, commission, signal_id, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		trade.ID, trade.Symbol, trade.Side, trade.Quantity,
		trade.Price, trade.Commission, trade.SignalID, trade.Timestamp)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate trade %s: %w", trade.ID, err)
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// UpsertPosition writes the holding, replacing any previous row.
func (s *PostgresStore) UpsertPosition(ctx context.Context, pos Position) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO positions (symbol, quantity, avg_price, current_price, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			avg_price = EXCLUDED.avg_price,
			current_price = EXCLUDED.current_price,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query,
		pos.Symbol, pos.Quantity, pos.AvgPrice, pos.CurrentPrice, pos.UpdatedAt); err != nil {
		return fmt.Errorf("upsert position %s: %w", pos.Symbol, err)
	}
	return nil
}

// DeletePosition removes a closed holding.
func (s *PostgresStore) DeletePosition(ctx context.Context, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("delete position %s: %w", symbol, err)
	}
	return nil
}

// ListTrades returns the most recent fills for a symbol, newest first.
func (s *PostgresStore) ListTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT id, symbol, side, quantity, price, commission, COALESCE(signal_id, '') AS signal_id, ts
		FROM trades
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT $2`

	var trades []Trade
	if err := s.db.SelectContext(ctx, &trades, query, symbol, limit); err != nil {
		return nil, fmt.Errorf("list trades %s: %w", symbol, err)
	}
	return trades, nil
}

// LoadPositions reads all open holdings, for ledger recovery at startup.
func (s *PostgresStore) LoadPositions(ctx context.Context) ([]Position, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT symbol, quantity, avg_price, current_price, updated_at
		FROM positions
		ORDER BY symbol`

	var positions []Position
	if err := s.db.SelectContext(ctx, &positions, query); err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	return positions, nil
}
