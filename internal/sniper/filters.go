package sniper

import (
	"fmt"

	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/shopspring/decimal"
)

// FilterSet is the match side of a sniper. Every field is optional; set
// filters AND together. A filter whose enrichment field is still unknown
// passes — speed beats completeness for fresh migrations, and the matcher
// re-evaluates when enrichment lands.
type FilterSet struct {
	// Skip migrations detected later than this after the on-chain event.
	MaxDetectionLatencyMs *int64 `json:"max_detection_latency_ms,omitempty"`

	// Only match these DEXs (raydium, pumpswap, meteora). Empty = any.
	DEXs []string `json:"dexs,omitempty"`

	MinVolumeUSD24h     *decimal.Decimal `json:"min_volume_usd_24h,omitempty"`
	MinTxns24h          *int64           `json:"min_txns_24h,omitempty"`
	MinHolderCount      *int64           `json:"min_holder_count,omitempty"`
	MaxDevHoldingsPct   *float64         `json:"max_dev_holdings_pct,omitempty"`
	MaxTop10HoldingsPct *float64         `json:"max_top10_holdings_pct,omitempty"`

	MinMarketCapUSD *decimal.Decimal `json:"min_market_cap_usd,omitempty"`
	MaxMarketCapUSD *decimal.Decimal `json:"max_market_cap_usd,omitempty"`

	RequireTwitter  bool `json:"require_twitter,omitempty"`
	RequireTelegram bool `json:"require_telegram,omitempty"`
	RequireWebsite  bool `json:"require_website,omitempty"`

	MinTwitterFollowers *int64   `json:"min_twitter_followers,omitempty"`
	MinCreatorScore     *float64 `json:"min_creator_score,omitempty"`

	RequireLiquidityLocked bool `json:"require_liquidity_locked,omitempty"`
	RequireDexScreenerPaid bool `json:"require_dexscreener_paid,omitempty"`
}

// Validate rejects nonsensical threshold combinations.
func (f FilterSet) Validate() error {
	if f.MaxDetectionLatencyMs != nil && *f.MaxDetectionLatencyMs <= 0 {
		return fmt.Errorf("%w: max detection latency must be positive", ErrInvalidConfig)
	}
	if f.MinMarketCapUSD != nil && f.MaxMarketCapUSD != nil &&
		f.MinMarketCapUSD.GreaterThan(*f.MaxMarketCapUSD) {
		return fmt.Errorf("%w: min market cap above max", ErrInvalidConfig)
	}
	if f.MaxDevHoldingsPct != nil && (*f.MaxDevHoldingsPct < 0 || *f.MaxDevHoldingsPct > 100) {
		return fmt.Errorf("%w: max dev holdings outside [0, 100]", ErrInvalidConfig)
	}
	if f.MaxTop10HoldingsPct != nil && (*f.MaxTop10HoldingsPct < 0 || *f.MaxTop10HoldingsPct > 100) {
		return fmt.Errorf("%w: max top10 holdings outside [0, 100]", ErrInvalidConfig)
	}
	return nil
}

// Evaluate checks a migration against the filter set. Returns whether it
// passes and the names of the filters that rejected it.
func (f FilterSet) Evaluate(ev *feed.MigrationEvent) (bool, []string) {
	var failed []string
	en := &ev.Enrichment

	if f.MaxDetectionLatencyMs != nil && ev.DetectionLatencyMs > *f.MaxDetectionLatencyMs {
		failed = append(failed, "max_detection_latency")
	}

	if len(f.DEXs) > 0 {
		ok := false
		for _, d := range f.DEXs {
			if d == ev.DEX {
				ok = true
				break
			}
		}
		if !ok {
			failed = append(failed, "dex")
		}
	}

	if f.MinVolumeUSD24h != nil && en.VolumeUSD24h != nil &&
		en.VolumeUSD24h.LessThan(*f.MinVolumeUSD24h) {
		failed = append(failed, "min_volume")
	}
	if f.MinTxns24h != nil && en.Txns24h != nil && *en.Txns24h < *f.MinTxns24h {
		failed = append(failed, "min_txns")
	}
	if f.MinHolderCount != nil && en.HolderCount != nil && *en.HolderCount < *f.MinHolderCount {
		failed = append(failed, "min_holders")
	}
	if f.MaxDevHoldingsPct != nil && en.DevHoldingsPct != nil &&
		*en.DevHoldingsPct > *f.MaxDevHoldingsPct {
		failed = append(failed, "max_dev_holdings")
	}
	if f.MaxTop10HoldingsPct != nil && en.Top10HoldingsPct != nil &&
		*en.Top10HoldingsPct > *f.MaxTop10HoldingsPct {
		failed = append(failed, "max_top10_holdings")
	}

	if f.MinMarketCapUSD != nil && en.MarketCapUSD != nil &&
		en.MarketCapUSD.LessThan(*f.MinMarketCapUSD) {
		failed = append(failed, "min_market_cap")
	}
	if f.MaxMarketCapUSD != nil && en.MarketCapUSD != nil &&
		en.MarketCapUSD.GreaterThan(*f.MaxMarketCapUSD) {
		failed = append(failed, "max_market_cap")
	}

	if f.RequireTwitter && en.HasTwitter != nil && !*en.HasTwitter {
		failed = append(failed, "require_twitter")
	}
	if f.RequireTelegram && en.HasTelegram != nil && !*en.HasTelegram {
		failed = append(failed, "require_telegram")
	}
	if f.RequireWebsite && en.HasWebsite != nil && !*en.HasWebsite {
		failed = append(failed, "require_website")
	}

	if f.MinTwitterFollowers != nil && en.TwitterFollowers != nil &&
		*en.TwitterFollowers < *f.MinTwitterFollowers {
		failed = append(failed, "min_twitter_followers")
	}
	if f.MinCreatorScore != nil && en.CreatorScore != nil &&
		*en.CreatorScore < *f.MinCreatorScore {
		failed = append(failed, "min_creator_score")
	}

	if f.RequireLiquidityLocked && en.LiquidityLocked != nil && !*en.LiquidityLocked {
		failed = append(failed, "require_liquidity_locked")
	}
	if f.RequireDexScreenerPaid && en.DexScreenerPaid != nil && !*en.DexScreenerPaid {
		failed = append(failed, "require_dexscreener_paid")
	}

	return len(failed) == 0, failed
}
