package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Provider fetches market metadata for a token mint from one external data
// source. Implementations must be safe for concurrent use.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, mint solana.Pubkey) (feed.Enrichment, error)
}

// ---------------------------------------------------------------------------
// DexScreener provider — volume, txn counts, socials, paid listing
// ---------------------------------------------------------------------------

// DexScreenerConfig configures the DexScreener provider.
type DexScreenerConfig struct {
	BaseURL      string  `yaml:"base_url"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	TimeoutMs    int     `yaml:"timeout_ms"`
}

// DexScreenerProvider reads the public pairs endpoint.
type DexScreenerProvider struct {
	config     DexScreenerConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewDexScreenerProvider creates the provider with its rate limiter.
func NewDexScreenerProvider(config DexScreenerConfig) *DexScreenerProvider {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.dexscreener.com"
	}
	if config.RateLimitRPS <= 0 {
		config.RateLimitRPS = 4
	}
	timeout := time.Duration(config.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &DexScreenerProvider{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimitRPS), 1),
	}
}

func (p *DexScreenerProvider) Name() string { return "dexscreener" }

// Fetch reads pair data for the mint.
func (p *DexScreenerProvider) Fetch(ctx context.Context, mint solana.Pubkey) (feed.Enrichment, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return feed.Enrichment{}, err
	}

	url := fmt.Sprintf("%s/latest/dex/tokens/%s", p.config.BaseURL, mint)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return feed.Enrichment{}, fmt.Errorf("dexscreener: create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return feed.Enrichment{}, fmt.Errorf("dexscreener: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return feed.Enrichment{}, fmt.Errorf("dexscreener: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return feed.Enrichment{}, fmt.Errorf("dexscreener: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Pairs []struct {
			PriceUSD string `json:"priceUsd"`
			Volume   struct {
				H24 float64 `json:"h24"`
			} `json:"volume"`
			Txns struct {
				H24 struct {
					Buys  int64 `json:"buys"`
					Sells int64 `json:"sells"`
				} `json:"h24"`
			} `json:"txns"`
			MarketCap float64 `json:"marketCap"`
			Info      *struct {
				Socials []struct {
					Type string `json:"type"`
					URL  string `json:"url"`
				} `json:"socials"`
				Websites []struct {
					URL string `json:"url"`
				} `json:"websites"`
			} `json:"info"`
			Boosts *struct {
				Active int `json:"active"`
			} `json:"boosts"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return feed.Enrichment{}, fmt.Errorf("dexscreener: parse response: %w", err)
	}
	if len(payload.Pairs) == 0 {
		return feed.Enrichment{}, fmt.Errorf("dexscreener: no pairs for %s", mint)
	}

	pair := payload.Pairs[0]
	vol := decimal.NewFromFloat(pair.Volume.H24)
	txns := pair.Txns.H24.Buys + pair.Txns.H24.Sells
	buys := pair.Txns.H24.Buys
	sells := pair.Txns.H24.Sells
	mcap := decimal.NewFromFloat(pair.MarketCap)
	paid := pair.Boosts != nil && pair.Boosts.Active > 0

	out := feed.Enrichment{
		VolumeUSD24h:    &vol,
		Txns24h:         &txns,
		Buys24h:         &buys,
		Sells24h:        &sells,
		MarketCapUSD:    &mcap,
		DexScreenerPaid: &paid,
	}

	if price, err := decimal.NewFromString(pair.PriceUSD); err == nil {
		out.PriceUSD = &price
	}

	hasTwitter, hasTelegram, hasWebsite := false, false, false
	if pair.Info != nil {
		for _, s := range pair.Info.Socials {
			switch s.Type {
			case "twitter":
				hasTwitter = true
			case "telegram":
				hasTelegram = true
			}
		}
		hasWebsite = len(pair.Info.Websites) > 0
	}
	out.HasTwitter = &hasTwitter
	out.HasTelegram = &hasTelegram
	out.HasWebsite = &hasWebsite

	return out, nil
}

// ---------------------------------------------------------------------------
// Holder-scan provider — holder count, dev/top10 concentration, creator score
// ---------------------------------------------------------------------------

// HolderScanConfig configures the holder-scan provider.
type HolderScanConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	TimeoutMs    int     `yaml:"timeout_ms"`
}

// HolderScanProvider reads a holder-analytics API (helius-style).
type HolderScanProvider struct {
	config     HolderScanConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHolderScanProvider creates the provider with its rate limiter.
func NewHolderScanProvider(config HolderScanConfig) *HolderScanProvider {
	if config.RateLimitRPS <= 0 {
		config.RateLimitRPS = 2
	}
	timeout := time.Duration(config.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HolderScanProvider{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimitRPS), 1),
	}
}

func (p *HolderScanProvider) Name() string { return "holderscan" }

// Fetch reads holder distribution for the mint.
func (p *HolderScanProvider) Fetch(ctx context.Context, mint solana.Pubkey) (feed.Enrichment, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return feed.Enrichment{}, err
	}

	url := fmt.Sprintf("%s/v0/tokens/%s/holders", p.config.BaseURL, mint)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return feed.Enrichment{}, fmt.Errorf("holderscan: create request: %w", err)
	}
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return feed.Enrichment{}, fmt.Errorf("holderscan: HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return feed.Enrichment{}, fmt.Errorf("holderscan: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return feed.Enrichment{}, fmt.Errorf("holderscan: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		HolderCount      int64   `json:"holder_count"`
		DevHoldingsPct   float64 `json:"dev_holdings_pct"`
		Top10HoldingsPct float64 `json:"top10_holdings_pct"`
		CreatorScore     float64 `json:"creator_score"`
		TwitterFollowers int64   `json:"twitter_followers"`
		LiquidityLocked  bool    `json:"liquidity_locked"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return feed.Enrichment{}, fmt.Errorf("holderscan: parse response: %w", err)
	}

	return feed.Enrichment{
		HolderCount:      &payload.HolderCount,
		DevHoldingsPct:   &payload.DevHoldingsPct,
		Top10HoldingsPct: &payload.Top10HoldingsPct,
		CreatorScore:     &payload.CreatorScore,
		TwitterFollowers: &payload.TwitterFollowers,
		LiquidityLocked:  &payload.LiquidityLocked,
	}, nil
}

// ---------------------------------------------------------------------------
// Stub provider (tests)
// ---------------------------------------------------------------------------

// StubProvider returns canned enrichment per mint.
type StubProvider struct {
	name    string
	mu      sync.Mutex
	results map[solana.Pubkey]feed.Enrichment
	errs    map[solana.Pubkey]error
	calls   map[solana.Pubkey]int
	delay   time.Duration
}

// NewStubProvider creates a stub provider.
func NewStubProvider(name string) *StubProvider {
	return &StubProvider{
		name:    name,
		results: make(map[solana.Pubkey]feed.Enrichment),
		errs:    make(map[solana.Pubkey]error),
		calls:   make(map[solana.Pubkey]int),
	}
}

func (p *StubProvider) Name() string { return p.name }

// SetResult registers the enrichment returned for a mint.
func (p *StubProvider) SetResult(mint solana.Pubkey, e feed.Enrichment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[mint] = e
}

// SetError makes Fetch fail for a mint.
func (p *StubProvider) SetError(mint solana.Pubkey, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[mint] = err
}

// SetDelay adds artificial latency to every fetch.
func (p *StubProvider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Calls returns how many times a mint was fetched.
func (p *StubProvider) Calls(mint solana.Pubkey) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[mint]
}

func (p *StubProvider) Fetch(ctx context.Context, mint solana.Pubkey) (feed.Enrichment, error) {
	p.mu.Lock()
	p.calls[mint]++
	delay := p.delay
	result, ok := p.results[mint]
	err := p.errs[mint]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return feed.Enrichment{}, ctx.Err()
		}
	}
	if err != nil {
		return feed.Enrichment{}, err
	}
	if !ok {
		return feed.Enrichment{}, fmt.Errorf("stub: no data for %s", mint)
	}
	return result, nil
}
