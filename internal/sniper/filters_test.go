package sniper

import (
	"testing"

	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func i64(v int64) *int64    { return &v }
func f64(v float64) *float64 { return &v }
func b(v bool) *bool        { return &v }
func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func enrichedEvent() *feed.MigrationEvent {
	return &feed.MigrationEvent{
		TokenMint:          solana.Pubkey("MintAAAA111111111111111111111111111111111111"),
		DEX:                "raydium",
		DetectionLatencyMs: 800,
		Enrichment: feed.Enrichment{
			VolumeUSD24h:     dec(30000),
			Txns24h:          i64(500),
			Buys24h:          i64(300),
			Sells24h:         i64(200),
			HolderCount:      i64(250),
			DevHoldingsPct:   f64(4.0),
			Top10HoldingsPct: f64(28.0),
			HasTwitter:       b(true),
			HasTelegram:      b(false),
			HasWebsite:       b(true),
			TwitterFollowers: i64(5000),
			CreatorScore:     f64(0.7),
			LiquidityLocked:  b(true),
			DexScreenerPaid:  b(false),
			PriceUSD:         dec(0.0003),
			MarketCapUSD:     dec(300000),
		},
	}
}

func TestFilterSet_Evaluate(t *testing.T) {
	tests := []struct {
		name       string
		filters    FilterSet
		mutate     func(*feed.MigrationEvent)
		wantPass   bool
		wantFailed string
	}{
		{name: "empty filter set passes everything", filters: FilterSet{}, wantPass: true},
		{
			name:     "all thresholds met",
			filters:  FilterSet{MinVolumeUSD24h: dec(10000), MinHolderCount: i64(100), MaxDevHoldingsPct: f64(10)},
			wantPass: true,
		},
		{
			name:       "volume below minimum",
			filters:    FilterSet{MinVolumeUSD24h: dec(50000)},
			wantPass:   false,
			wantFailed: "min_volume",
		},
		{
			name:       "holders below minimum",
			filters:    FilterSet{MinHolderCount: i64(1000)},
			wantPass:   false,
			wantFailed: "min_holders",
		},
		{
			name:       "dev holdings too high",
			filters:    FilterSet{MaxDevHoldingsPct: f64(2)},
			wantPass:   false,
			wantFailed: "max_dev_holdings",
		},
		{
			name:       "top10 concentration too high",
			filters:    FilterSet{MaxTop10HoldingsPct: f64(20)},
			wantPass:   false,
			wantFailed: "max_top10_holdings",
		},
		{
			name:       "telegram required but absent",
			filters:    FilterSet{RequireTelegram: true},
			wantPass:   false,
			wantFailed: "require_telegram",
		},
		{
			name:     "twitter required and present",
			filters:  FilterSet{RequireTwitter: true},
			wantPass: true,
		},
		{
			name:       "detection too slow",
			filters:    FilterSet{MaxDetectionLatencyMs: i64(500)},
			wantPass:   false,
			wantFailed: "max_detection_latency",
		},
		{
			name:     "detection fast enough",
			filters:  FilterSet{MaxDetectionLatencyMs: i64(1500)},
			wantPass: true,
		},
		{
			name:       "wrong dex",
			filters:    FilterSet{DEXs: []string{"pumpswap"}},
			wantPass:   false,
			wantFailed: "dex",
		},
		{
			name:     "dex in allow list",
			filters:  FilterSet{DEXs: []string{"pumpswap", "raydium"}},
			wantPass: true,
		},
		{
			name:       "market cap above ceiling",
			filters:    FilterSet{MaxMarketCapUSD: dec(100000)},
			wantPass:   false,
			wantFailed: "max_market_cap",
		},
		{
			name:       "creator score too low",
			filters:    FilterSet{MinCreatorScore: f64(0.9)},
			wantPass:   false,
			wantFailed: "min_creator_score",
		},
		{
			name:       "paid listing required but absent",
			filters:    FilterSet{RequireDexScreenerPaid: true},
			wantPass:   false,
			wantFailed: "require_dexscreener_paid",
		},
		{
			name:    "unknown fields pass strict thresholds",
			filters: FilterSet{MinVolumeUSD24h: dec(1_000_000), MinHolderCount: i64(100_000), RequireTelegram: true},
			mutate: func(ev *feed.MigrationEvent) {
				ev.Enrichment = feed.Enrichment{}
			},
			wantPass: true,
		},
		{
			name:    "partially known fields checked, missing ones pass",
			filters: FilterSet{MinVolumeUSD24h: dec(50000), MinHolderCount: i64(1)},
			mutate: func(ev *feed.MigrationEvent) {
				ev.Enrichment = feed.Enrichment{VolumeUSD24h: dec(30000)}
			},
			wantPass:   false,
			wantFailed: "min_volume",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := enrichedEvent()
			if tt.mutate != nil {
				tt.mutate(ev)
			}
			pass, failed := tt.filters.Evaluate(ev)
			assert.Equal(t, tt.wantPass, pass, "failed filters: %v", failed)
			if tt.wantFailed != "" {
				assert.Contains(t, failed, tt.wantFailed)
			}
		})
	}
}

func TestFilterSet_MultipleFailuresReported(t *testing.T) {
	ev := enrichedEvent()
	filters := FilterSet{
		MinVolumeUSD24h: dec(100000),
		MinHolderCount:  i64(10000),
		RequireTelegram: true,
	}
	pass, failed := filters.Evaluate(ev)
	assert.False(t, pass)
	assert.Len(t, failed, 3)
}
