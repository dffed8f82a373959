package store

import (
	"context"
	"fmt"
)

// MigrationReader serves the archived migration rows back out of ClickHouse
// for the public stats endpoints.
type MigrationReader struct {
	client   *ClickHouseClient
	dbPrefix string
}

// NewMigrationReader creates a reader over the migrations archive table.
func NewMigrationReader(client *ClickHouseClient, dbPrefix string) *MigrationReader {
	return &MigrationReader{client: client, dbPrefix: dbPrefix}
}

func (r *MigrationReader) tableName() string {
	if r.dbPrefix == "" {
		return "migrations"
	}
	return r.dbPrefix + ".migrations"
}

// Recent returns the most recently detected migrations, newest first.
func (r *MigrationReader) Recent(ctx context.Context, limit int) ([]MigrationRow, error) {
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT token_mint, pool_address, dex, token_name, token_symbol,
			migrated_at, detected_at, detection_latency_ms,
			volume_usd_24h, txns_24h, holder_count,
			market_cap_usd, price_usd, buy_sell_ratio, flagged, verified
		FROM %s
		ORDER BY detected_at DESC
		LIMIT %d`, r.tableName(), limit)

	rows, err := r.client.Conn().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query recent migrations: %w", err)
	}
	defer rows.Close()

	out := make([]MigrationRow, 0, limit)
	for rows.Next() {
		var m MigrationRow
		if err := rows.Scan(
			&m.TokenMint, &m.PoolAddress, &m.DEX, &m.TokenName, &m.TokenSymbol,
			&m.MigratedAt, &m.DetectedAt, &m.DetectionLatencyMs,
			&m.VolumeUSD24h, &m.Txns24h, &m.HolderCount,
			&m.MarketCapUSD, &m.PriceUSD, &m.BuySellRatio, &m.Flagged, &m.Verified,
		); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
