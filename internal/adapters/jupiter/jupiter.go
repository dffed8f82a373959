package jupiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Jupiter swap venue — aggregated routing over every Solana DEX, with a
// direct-route mode for freshly-graduated single-pool tokens
// ---------------------------------------------------------------------------

// Quote is a venue-neutral swap quote. Amounts are in base units.
type Quote struct {
	InputMint      solana.Pubkey
	OutputMint     solana.Pubkey
	AmountIn       decimal.Decimal
	ExpectedOut    decimal.Decimal
	PriceImpactPct string
	raw            *QuoteResponse
}

// Config configures the Jupiter venue.
type Config struct {
	WalletPubkey string `yaml:"wallet_pubkey"`
	// DirectRoutesOnly restricts routing to single-hop routes.
	DirectRoutesOnly bool `yaml:"direct_routes_only"`
}

// Venue is the swap-building capability consumed by the trade executor.
type Venue struct {
	config Config
	api    *APIClient

	mu        sync.RWMutex
	connected bool

	quotes atomic.Int64
	builds atomic.Int64
}

// New creates a new Jupiter venue.
func New(config Config, rpc solana.RPCClient) (*Venue, error) {
	if config.WalletPubkey == "" {
		return nil, fmt.Errorf("jupiter: wallet pubkey is required")
	}
	v := &Venue{
		config: config,
		api:    NewAPIClient(config.WalletPubkey),
	}
	if rpc != nil {
		if err := rpc.Health(context.Background()); err != nil {
			log.Warn().Err(err).Msg("jupiter: RPC health check failed at startup")
		}
	}
	v.connected = true
	return v, nil
}

// Name identifies the venue.
func (v *Venue) Name() string { return "jupiter" }

// Quote fetches a fresh quote for the swap. directOnly forces single-hop
// routing regardless of config (used for just-graduated tokens).
func (v *Venue) Quote(ctx context.Context, params solana.SwapParams, directOnly bool) (*Quote, error) {
	resp, err := v.api.GetQuote(ctx, params, directOnly || v.config.DirectRoutesOnly)
	if err != nil {
		return nil, err
	}
	v.quotes.Add(1)
	return &Quote{
		InputMint:      params.InputMint,
		OutputMint:     params.OutputMint,
		AmountIn:       params.AmountIn,
		ExpectedOut:    resp.OutAmountDecimal(),
		PriceImpactPct: resp.PriceImpactPct,
		raw:            resp,
	}, nil
}

// BuildSwapTx builds the base64 swap transaction for a previously fetched
// quote. Quotes go stale within a slot or two; callers re-quote per attempt.
func (v *Venue) BuildSwapTx(ctx context.Context, quote *Quote, priorityFee uint64) (string, error) {
	if quote == nil || quote.raw == nil {
		return "", fmt.Errorf("jupiter: nil quote")
	}
	tx, err := v.api.BuildSwapTx(ctx, quote.raw, priorityFee)
	if err != nil {
		return "", err
	}
	v.builds.Add(1)
	return tx, nil
}

// PriceUSD returns the current USD price for a mint. Used by the position
// manager's tick poller.
func (v *Venue) PriceUSD(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	return v.api.GetPriceUSD(ctx, mint)
}

// ---------------------------------------------------------------------------
// Stub venue (tests)
// ---------------------------------------------------------------------------

// StubVenue returns canned quotes and transactions for tests.
type StubVenue struct {
	mu         sync.Mutex
	Prices     map[solana.Pubkey]decimal.Decimal
	OutPerSOL  decimal.Decimal // tokens received per SOL on buys
	FailQuote  bool
	quoteCalls int
}

// NewStubVenue creates a stub with a flat 1000-tokens-per-SOL rate.
func NewStubVenue() *StubVenue {
	return &StubVenue{
		Prices:    make(map[solana.Pubkey]decimal.Decimal),
		OutPerSOL: decimal.NewFromInt(1000),
	}
}

func (s *StubVenue) Name() string { return "stub" }

func (s *StubVenue) Quote(_ context.Context, params solana.SwapParams, _ bool) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailQuote {
		return nil, fmt.Errorf("stub: simulated quote failure")
	}
	s.quoteCalls++
	return &Quote{
		InputMint:   params.InputMint,
		OutputMint:  params.OutputMint,
		AmountIn:    params.AmountIn,
		ExpectedOut: params.AmountIn.Mul(s.OutPerSOL),
		raw:         &QuoteResponse{},
	}, nil
}

func (s *StubVenue) BuildSwapTx(_ context.Context, quote *Quote, _ uint64) (string, error) {
	if quote == nil {
		return "", fmt.Errorf("stub: nil quote")
	}
	return "c3R1Yi1zd2FwLXR4", nil
}

func (s *StubVenue) PriceUSD(_ context.Context, mint solana.Pubkey) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.Prices[mint]; ok {
		return p, nil
	}
	return decimal.Zero, fmt.Errorf("stub: no price for %s", mint)
}

// QuoteCalls returns how many quotes were requested.
func (s *StubVenue) QuoteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quoteCalls
}
