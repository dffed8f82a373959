// Package store provides durable persistence: Postgres for snipers,
// positions and wallets, ClickHouse for the append-only activity log
// and migration archive.
package store

import (
	"context"
	"errors"

	"github.com/gradient-trading/gradient/internal/position"
	"github.com/gradient-trading/gradient/internal/sniper"
)

// ErrNotFound is returned when the requested record does not exist
// (or has been soft-deleted).
var ErrNotFound = errors.New("record not found")

// SniperStore persists sniper configurations. Soft-deleted snipers are
// invisible to reads but keep their row so historical positions stay
// attributable.
type SniperStore interface {
	Create(ctx context.Context, s *sniper.Sniper) error
	Get(ctx context.Context, id string) (*sniper.Sniper, error)
	ListByUser(ctx context.Context, userID string) ([]*sniper.Sniper, error)
	ListActive(ctx context.Context) ([]*sniper.Sniper, error)
	Update(ctx context.Context, s *sniper.Sniper) error
	// SoftDelete hides the sniper but keeps the row. Used when the
	// sniper still holds open positions.
	SoftDelete(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// PositionStore persists positions across restarts. Open positions are
// reloaded into the position manager at startup.
type PositionStore interface {
	Create(ctx context.Context, p *position.Position) error
	Update(ctx context.Context, p *position.Position) error
	Get(ctx context.Context, id string) (*position.Position, error)
	ListOpen(ctx context.Context) ([]*position.Position, error)
	ListByUser(ctx context.Context, userID string) ([]*position.Position, error)
	ListBySniper(ctx context.Context, sniperID string) ([]*position.Position, error)
	// ListClosed returns the most recently closed positions, newest first.
	// Feeds the public top-performers aggregation.
	ListClosed(ctx context.Context, limit int) ([]*position.Position, error)
}
