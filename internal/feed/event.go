package feed

import (
	"time"

	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/shopspring/decimal"
)

// EventSource identifies which upstream stream reported a migration.
type EventSource string

const (
	SourcePumpPortal EventSource = "pumpportal"
	SourceRaydiumWS  EventSource = "raydium_ws"
	SourceGeyser     EventSource = "geyser"
)

// MigrationEvent is the immutable fact of a token's graduation from its
// bonding curve to open DEX liquidity. Created once by the feed; enrichment
// fields are filled in append-only by the enricher and never overwritten.
type MigrationEvent struct {
	TokenMint          solana.Pubkey `json:"token_mint"`
	PoolAddress        solana.Pubkey `json:"pool_address"`
	Source             EventSource   `json:"source"`
	DEX                string        `json:"dex"` // raydium|pumpswap|meteora
	Signature          string        `json:"signature"`
	Slot               uint64        `json:"slot"`
	Name               string        `json:"name,omitempty"`
	Symbol             string        `json:"symbol,omitempty"`
	LaunchedAt         time.Time     `json:"launched_at,omitempty"` // bonding curve creation, if known
	DetectedAt         time.Time     `json:"detected_at"`
	DetectionLatencyMs int64         `json:"detection_latency_ms"`

	Enrichment Enrichment `json:"enrichment"`
}

// Clone returns a copy safe to hand to another goroutine. Enrichment pointer
// fields are shared with the original, but pointees are write-once, so the
// copy is a stable snapshot of everything known at clone time.
func (ev *MigrationEvent) Clone() *MigrationEvent {
	c := *ev
	return &c
}

// Enrichment holds market metadata filled in asynchronously. Nil pointer
// means "not yet known"; filters referencing unknown fields pass by default.
type Enrichment struct {
	VolumeUSD24h     *decimal.Decimal `json:"volume_usd_24h,omitempty"`
	Txns24h          *int64           `json:"txns_24h,omitempty"`
	Buys24h          *int64           `json:"buys_24h,omitempty"`
	Sells24h         *int64           `json:"sells_24h,omitempty"`
	HolderCount      *int64           `json:"holder_count,omitempty"`
	DevHoldingsPct   *float64         `json:"dev_holdings_pct,omitempty"`
	Top10HoldingsPct *float64         `json:"top10_holdings_pct,omitempty"`
	HasTwitter       *bool            `json:"has_twitter,omitempty"`
	HasTelegram      *bool            `json:"has_telegram,omitempty"`
	HasWebsite       *bool            `json:"has_website,omitempty"`
	TwitterFollowers *int64           `json:"twitter_followers,omitempty"`
	CreatorScore     *float64         `json:"creator_score,omitempty"`
	LiquidityLocked  *bool            `json:"liquidity_locked,omitempty"`
	DexScreenerPaid  *bool            `json:"dexscreener_paid,omitempty"`
	PriceUSD         *decimal.Decimal `json:"price_usd,omitempty"`
	MarketCapUSD     *decimal.Decimal `json:"market_cap_usd,omitempty"`
	EnrichedAt       *time.Time       `json:"enriched_at,omitempty"`
}

// Complete reports whether every enrichment field has been populated.
// Once complete, further enrichment passes are no-ops.
func (e *Enrichment) Complete() bool {
	return e.VolumeUSD24h != nil &&
		e.Txns24h != nil &&
		e.Buys24h != nil &&
		e.Sells24h != nil &&
		e.HolderCount != nil &&
		e.DevHoldingsPct != nil &&
		e.Top10HoldingsPct != nil &&
		e.HasTwitter != nil &&
		e.HasTelegram != nil &&
		e.HasWebsite != nil &&
		e.TwitterFollowers != nil &&
		e.CreatorScore != nil &&
		e.LiquidityLocked != nil &&
		e.DexScreenerPaid != nil &&
		e.PriceUSD != nil &&
		e.MarketCapUSD != nil
}

// Merge copies non-nil fields from other into e, never overwriting a field
// that is already set. Returns true if anything changed.
func (e *Enrichment) Merge(other Enrichment) bool {
	changed := false
	if e.VolumeUSD24h == nil && other.VolumeUSD24h != nil {
		e.VolumeUSD24h = other.VolumeUSD24h
		changed = true
	}
	if e.Txns24h == nil && other.Txns24h != nil {
		e.Txns24h = other.Txns24h
		changed = true
	}
	if e.Buys24h == nil && other.Buys24h != nil {
		e.Buys24h = other.Buys24h
		changed = true
	}
	if e.Sells24h == nil && other.Sells24h != nil {
		e.Sells24h = other.Sells24h
		changed = true
	}
	if e.HolderCount == nil && other.HolderCount != nil {
		e.HolderCount = other.HolderCount
		changed = true
	}
	if e.DevHoldingsPct == nil && other.DevHoldingsPct != nil {
		e.DevHoldingsPct = other.DevHoldingsPct
		changed = true
	}
	if e.Top10HoldingsPct == nil && other.Top10HoldingsPct != nil {
		e.Top10HoldingsPct = other.Top10HoldingsPct
		changed = true
	}
	if e.HasTwitter == nil && other.HasTwitter != nil {
		e.HasTwitter = other.HasTwitter
		changed = true
	}
	if e.HasTelegram == nil && other.HasTelegram != nil {
		e.HasTelegram = other.HasTelegram
		changed = true
	}
	if e.HasWebsite == nil && other.HasWebsite != nil {
		e.HasWebsite = other.HasWebsite
		changed = true
	}
	if e.TwitterFollowers == nil && other.TwitterFollowers != nil {
		e.TwitterFollowers = other.TwitterFollowers
		changed = true
	}
	if e.CreatorScore == nil && other.CreatorScore != nil {
		e.CreatorScore = other.CreatorScore
		changed = true
	}
	if e.LiquidityLocked == nil && other.LiquidityLocked != nil {
		e.LiquidityLocked = other.LiquidityLocked
		changed = true
	}
	if e.DexScreenerPaid == nil && other.DexScreenerPaid != nil {
		e.DexScreenerPaid = other.DexScreenerPaid
		changed = true
	}
	if e.PriceUSD == nil && other.PriceUSD != nil {
		e.PriceUSD = other.PriceUSD
		changed = true
	}
	if e.MarketCapUSD == nil && other.MarketCapUSD != nil {
		e.MarketCapUSD = other.MarketCapUSD
		changed = true
	}
	if changed {
		now := time.Now()
		e.EnrichedAt = &now
	}
	return changed
}

// RawEvent is a migration candidate as parsed by a single upstream source,
// before dedup.
type RawEvent struct {
	Source      EventSource
	TokenMint   solana.Pubkey
	PoolAddress solana.Pubkey
	DEX         string
	Signature   string
	Slot        uint64
	Name        string
	Symbol      string
	LaunchedAt  time.Time
	ObservedAt  time.Time // upstream-reported time, used for latency accounting
	ReceivedAt  time.Time
}
