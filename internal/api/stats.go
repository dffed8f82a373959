package api

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gradient-trading/gradient/internal/store"
)

// MigrationSource serves archived migration rows for the public endpoints.
// Implemented by store.MigrationReader.
type MigrationSource interface {
	Recent(ctx context.Context, limit int) ([]store.MigrationRow, error)
}

// Legitimacy thresholds for publicly displayed migrations. Thin or lopsided
// markets are hidden from the public feed; a manual verification overrides
// everything, a flag hides the token no matter how good the numbers look.
const (
	minPublicVolumeUSD    = 10_000.0
	minPublicHolders      = 50
	minPublicTxns24h      = 100
	minPublicBuySellRatio = 0.2
	maxPublicBuySellRatio = 5.0
)

// legitimate reports whether a migration may appear on public endpoints.
func legitimate(m store.MigrationRow) bool {
	if m.Verified {
		return true
	}
	if m.Flagged {
		return false
	}
	return m.VolumeUSD24h >= minPublicVolumeUSD &&
		m.HolderCount >= minPublicHolders &&
		m.Txns24h >= minPublicTxns24h &&
		m.BuySellRatio >= minPublicBuySellRatio &&
		m.BuySellRatio <= maxPublicBuySellRatio
}

// PlatformStats is the public aggregate over recent migrations and closed
// trades.
type PlatformStats struct {
	MigrationsDetected    int             `json:"migrations_detected"`
	MigrationsDisplayed   int             `json:"migrations_displayed"`
	AvgDetectionLatencyMs int64           `json:"avg_detection_latency_ms"`
	TotalTrades           int             `json:"total_trades"`
	WinRatePct            float64         `json:"win_rate_pct"`
	TotalPnLSOL           decimal.Decimal `json:"total_pnl_sol"`
	TotalVolumeSOL        decimal.Decimal `json:"total_volume_sol"`
	GeneratedAt           time.Time       `json:"generated_at"`
}

// TopPerformer is one sniper's aggregate over its closed positions.
type TopPerformer struct {
	SniperID    string          `json:"sniper_id"`
	SniperName  string          `json:"sniper_name,omitempty"`
	Trades      int             `json:"trades"`
	Wins        int             `json:"wins"`
	WinRatePct  float64         `json:"win_rate_pct"`
	TotalPnLSOL decimal.Decimal `json:"total_pnl_sol"`
}

// StatsService computes the public aggregates with a short-TTL Redis cache
// in front. The sample window is the most recent N rows per source, not a
// strict time window; the public numbers are indicative, not accounting.
type StatsService struct {
	migrations MigrationSource
	positions  store.PositionStore
	snipers    store.SniperStore
	cache      *Cache

	sampleSize int
}

// NewStatsService creates the stats service. cache may be nil.
func NewStatsService(migrations MigrationSource, positions store.PositionStore,
	snipers store.SniperStore, cache *Cache) *StatsService {
	return &StatsService{
		migrations: migrations,
		positions:  positions,
		snipers:    snipers,
		cache:      cache,
		sampleSize: 500,
	}
}

// PlatformStats returns the public platform aggregate.
func (s *StatsService) PlatformStats(ctx context.Context) (*PlatformStats, error) {
	const key = "gradient:stats:platform"

	var cached PlatformStats
	if found, err := s.cache.Get(ctx, key, &cached); err != nil {
		log.Warn().Err(err).Msg("stats cache read failed")
	} else if found {
		return &cached, nil
	}

	migrations, err := s.migrations.Recent(ctx, s.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("load recent migrations: %w", err)
	}
	closed, err := s.positions.ListClosed(ctx, s.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("load closed positions: %w", err)
	}

	stats := PlatformStats{
		MigrationsDetected: len(migrations),
		TotalTrades:        len(closed),
		TotalPnLSOL:        decimal.Zero,
		TotalVolumeSOL:     decimal.Zero,
		GeneratedAt:        time.Now().UTC(),
	}

	var latencySum int64
	for _, m := range migrations {
		latencySum += m.DetectionLatencyMs
		if legitimate(m) {
			stats.MigrationsDisplayed++
		}
	}
	if len(migrations) > 0 {
		stats.AvgDetectionLatencyMs = latencySum / int64(len(migrations))
	}

	wins := 0
	for _, p := range closed {
		stats.TotalPnLSOL = stats.TotalPnLSOL.Add(p.PnLSOL)
		stats.TotalVolumeSOL = stats.TotalVolumeSOL.Add(p.EntryAmountSOL)
		if p.PnLSOL.IsPositive() {
			wins++
		}
	}
	if len(closed) > 0 {
		stats.WinRatePct = float64(wins) / float64(len(closed)) * 100
	}

	if err := s.cache.Set(ctx, key, &stats); err != nil {
		log.Warn().Err(err).Msg("stats cache write failed")
	}
	return &stats, nil
}

// TopPerformers aggregates closed positions per sniper, best PnL first.
func (s *StatsService) TopPerformers(ctx context.Context, limit int) ([]TopPerformer, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	key := fmt.Sprintf("gradient:stats:top:%d", limit)

	var cached []TopPerformer
	if found, err := s.cache.Get(ctx, key, &cached); err != nil {
		log.Warn().Err(err).Msg("stats cache read failed")
	} else if found {
		return cached, nil
	}

	closed, err := s.positions.ListClosed(ctx, s.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("load closed positions: %w", err)
	}

	bySniper := make(map[string]*TopPerformer)
	for _, p := range closed {
		perf, ok := bySniper[p.SniperID]
		if !ok {
			perf = &TopPerformer{SniperID: p.SniperID, TotalPnLSOL: decimal.Zero}
			bySniper[p.SniperID] = perf
		}
		perf.Trades++
		perf.TotalPnLSOL = perf.TotalPnLSOL.Add(p.PnLSOL)
		if p.PnLSOL.IsPositive() {
			perf.Wins++
		}
	}

	out := make([]TopPerformer, 0, len(bySniper))
	for _, perf := range bySniper {
		if perf.Trades > 0 {
			perf.WinRatePct = float64(perf.Wins) / float64(perf.Trades) * 100
		}
		// Archived snipers drop out of Get; their rows stay nameless.
		if sn, err := s.snipers.Get(ctx, perf.SniperID); err == nil {
			perf.SniperName = sn.Name
		}
		out = append(out, *perf)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TotalPnLSOL.GreaterThan(out[j].TotalPnLSOL)
	})
	if len(out) > limit {
		out = out[:limit]
	}

	if err := s.cache.Set(ctx, key, out); err != nil {
		log.Warn().Err(err).Msg("stats cache write failed")
	}
	return out, nil
}

// RecentMigrations returns the latest migrations that pass the legitimacy
// filter, newest first.
func (s *StatsService) RecentMigrations(ctx context.Context, limit int) ([]store.MigrationRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	key := fmt.Sprintf("gradient:migrations:recent:%d", limit)

	var cached []store.MigrationRow
	if found, err := s.cache.Get(ctx, key, &cached); err != nil {
		log.Warn().Err(err).Msg("stats cache read failed")
	} else if found {
		return cached, nil
	}

	// Over-fetch so the legitimacy filter still leaves a full page.
	rows, err := s.migrations.Recent(ctx, limit*5)
	if err != nil {
		return nil, fmt.Errorf("load recent migrations: %w", err)
	}

	out := make([]store.MigrationRow, 0, limit)
	for _, m := range rows {
		if legitimate(m) {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}

	if err := s.cache.Set(ctx, key, out); err != nil {
		log.Warn().Err(err).Msg("stats cache write failed")
	}
	return out, nil
}
