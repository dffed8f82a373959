package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ActivityRow is one durable activity-log entry. Every lifecycle event
// except price:update is written here before it is fanned out, so a crash
// between persistence and publish is recoverable by replay.
type ActivityRow struct {
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"ts"`
	EventType   string    `json:"event_type"`
	UserID      string    `json:"user_id"`
	SniperID    string    `json:"sniper_id"`
	PositionID  string    `json:"position_id"`
	TokenMint   string    `json:"token_mint"`
	PayloadJSON string    `json:"payload_json"`
}

// MigrationRow archives a detected migration with the enrichment snapshot
// at detection time. Feeds the recent-migrations and platform-stats queries.
type MigrationRow struct {
	TokenMint          string    `json:"token_mint"`
	PoolAddress        string    `json:"pool_address"`
	DEX                string    `json:"dex"`
	TokenName          string    `json:"token_name"`
	TokenSymbol        string    `json:"token_symbol"`
	MigratedAt         time.Time `json:"migrated_at"`
	DetectedAt         time.Time `json:"detected_at"`
	DetectionLatencyMs int64     `json:"detection_latency_ms"`
	VolumeUSD24h       float64   `json:"volume_usd_24h"`
	Txns24h            int64     `json:"txns_24h"`
	HolderCount        int64     `json:"holder_count"`
	MarketCapUSD       float64   `json:"market_cap_usd"`
	PriceUSD           float64   `json:"price_usd"`
	BuySellRatio       float64   `json:"buy_sell_ratio"`
	Flagged            bool      `json:"flagged"`
	Verified           bool      `json:"verified"`
}

// ActivityWriter batches activity-log and migration-archive rows for
// ClickHouse, flushing on size or interval.
type ActivityWriter struct {
	client        *ClickHouseClient
	dbPrefix      string
	batchSize     int
	flushInterval time.Duration

	mu           sync.Mutex
	activityBuf  []ActivityRow
	migrationBuf []MigrationRow
	closed       bool

	flushCount atomic.Int64
	errorCount atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}

	// flushHook replaces real writes during testing.
	flushHook func(ctx context.Context, table string, rows [][]any) error
}

// NewActivityWriter creates an activity batch writer.
func NewActivityWriter(client *ClickHouseClient, dbPrefix string, batchSize int, flushInterval time.Duration) *ActivityWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &ActivityWriter{
		client:        client,
		dbPrefix:      dbPrefix,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		activityBuf:   make([]ActivityRow, 0, batchSize),
		migrationBuf:  make([]MigrationRow, 0, 256),
	}
}

func (w *ActivityWriter) tableName(name string) string {
	if w.dbPrefix == "" {
		return name
	}
	return w.dbPrefix + "." + name
}

// WriteActivity adds an activity row to the buffer. A full buffer triggers
// a synchronous flush so persist-then-publish callers get durability before
// returning.
func (w *ActivityWriter) WriteActivity(ctx context.Context, row ActivityRow) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("activity writer is closed")
	}
	w.activityBuf = append(w.activityBuf, row)
	needsFlush := len(w.activityBuf) >= w.batchSize
	w.mu.Unlock()

	if needsFlush {
		return w.Flush(ctx)
	}
	return nil
}

// WriteMigration adds a migration archive row to the buffer.
func (w *ActivityWriter) WriteMigration(ctx context.Context, row MigrationRow) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("activity writer is closed")
	}
	w.migrationBuf = append(w.migrationBuf, row)
	needsFlush := len(w.migrationBuf) >= w.batchSize
	w.mu.Unlock()

	if needsFlush {
		return w.Flush(ctx)
	}
	return nil
}

// Start begins the background flush loop.
func (w *ActivityWriter) Start(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()

		log.Info().
			Str("prefix", w.dbPrefix).
			Int("batch_size", w.batchSize).
			Dur("flush_interval", w.flushInterval).
			Msg("activity writer started")

		for {
			select {
			case <-bgCtx.Done():
				if err := w.Flush(context.Background()); err != nil {
					log.Error().Err(err).Msg("activity writer: final flush error")
				}
				return
			case <-ticker.C:
				if err := w.Flush(bgCtx); err != nil {
					log.Error().Err(err).Msg("activity writer: periodic flush error")
				}
			}
		}
	}()
}

// Flush writes all buffered rows to ClickHouse.
func (w *ActivityWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	activity := w.activityBuf
	migrations := w.migrationBuf
	w.activityBuf = make([]ActivityRow, 0, w.batchSize)
	w.migrationBuf = make([]MigrationRow, 0, 256)
	w.mu.Unlock()

	if len(activity) == 0 && len(migrations) == 0 {
		return nil
	}

	var firstErr error

	if len(activity) > 0 {
		if err := w.flushActivity(ctx, activity); err != nil {
			log.Error().Err(err).Int("count", len(activity)).Msg("activity writer: flush activity failed")
			w.errorCount.Add(1)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(migrations) > 0 {
		if err := w.flushMigrations(ctx, migrations); err != nil {
			log.Error().Err(err).Int("count", len(migrations)).Msg("activity writer: flush migrations failed")
			w.errorCount.Add(1)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	w.flushCount.Add(1)
	log.Debug().
		Int("activity_rows", len(activity)).
		Int("migration_rows", len(migrations)).
		Msg("activity writer flushed")

	return firstErr
}

func (w *ActivityWriter) flushActivity(ctx context.Context, rows []ActivityRow) error {
	if w.flushHook != nil {
		generic := make([][]any, len(rows))
		for i, r := range rows {
			generic[i] = []any{
				r.EventID, r.Timestamp, r.EventType, r.UserID,
				r.SniperID, r.PositionID, r.TokenMint, r.PayloadJSON,
			}
		}
		return w.flushHook(ctx, w.tableName("activity_log"), generic)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (event_id, ts, event_type, user_id, sniper_id, position_id, token_mint, payload_json)",
		w.tableName("activity_log"))

	batch, err := w.client.Conn().PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare activity batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.EventID, r.Timestamp, r.EventType, r.UserID,
			r.SniperID, r.PositionID, r.TokenMint, r.PayloadJSON,
		); err != nil {
			return fmt.Errorf("append activity row: %w", err)
		}
	}

	return batch.Send()
}

func (w *ActivityWriter) flushMigrations(ctx context.Context, rows []MigrationRow) error {
	if w.flushHook != nil {
		generic := make([][]any, len(rows))
		for i, r := range rows {
			generic[i] = []any{
				r.TokenMint, r.PoolAddress, r.DEX, r.TokenName, r.TokenSymbol,
				r.MigratedAt, r.DetectedAt, r.DetectionLatencyMs,
				r.VolumeUSD24h, r.Txns24h, r.HolderCount,
				r.MarketCapUSD, r.PriceUSD, r.BuySellRatio,
				r.Flagged, r.Verified,
			}
		}
		return w.flushHook(ctx, w.tableName("migrations"), generic)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (token_mint, pool_address, dex, token_name, token_symbol, "+
			"migrated_at, detected_at, detection_latency_ms, volume_usd_24h, txns_24h, "+
			"holder_count, market_cap_usd, price_usd, buy_sell_ratio, flagged, verified)",
		w.tableName("migrations"))

	batch, err := w.client.Conn().PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare migration batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.TokenMint, r.PoolAddress, r.DEX, r.TokenName, r.TokenSymbol,
			r.MigratedAt, r.DetectedAt, r.DetectionLatencyMs,
			r.VolumeUSD24h, r.Txns24h, r.HolderCount,
			r.MarketCapUSD, r.PriceUSD, r.BuySellRatio,
			r.Flagged, r.Verified,
		); err != nil {
			return fmt.Errorf("append migration row: %w", err)
		}
	}

	return batch.Send()
}

// Close stops the background loop and performs a final flush.
func (w *ActivityWriter) Close() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	if err := w.Flush(context.Background()); err != nil {
		log.Error().Err(err).Msg("activity writer: final flush on close failed")
		return err
	}

	log.Info().
		Int64("flushes", w.flushCount.Load()).
		Int64("errors", w.errorCount.Load()).
		Msg("activity writer closed")
	return nil
}

// Stats returns writer statistics.
func (w *ActivityWriter) Stats() (flushCount, errorCount int64, pendingActivity, pendingMigrations int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushCount.Load(), w.errorCount.Load(), len(w.activityBuf), len(w.migrationBuf)
}

// SetFlushHook sets a test hook. Intended for testing only.
func (w *ActivityWriter) SetFlushHook(hook func(ctx context.Context, table string, rows [][]any) error) {
	w.flushHook = hook
}
