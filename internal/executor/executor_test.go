package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gradient-trading/gradient/internal/adapters/jupiter"
	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/gradient-trading/gradient/internal/sniper"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures snipe lifecycle events.
type recorder struct {
	mu        sync.Mutex
	started   []*Snipe
	submitted []*Snipe
	retrying  []int // attempt numbers
	succeeded []*Snipe
	failed    []string
}

func (r *recorder) SnipeStarted(sn *Snipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, sn)
}

func (r *recorder) SnipeSubmitted(sn *Snipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, sn)
}

func (r *recorder) SnipeRetrying(_ *Snipe, attempt, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retrying = append(r.retrying, attempt)
}

func (r *recorder) SnipeSucceeded(sn *Snipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.succeeded = append(r.succeeded, sn)
}

func (r *recorder) SnipeFailed(_ *Snipe, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, reason)
}

type stubOpener struct {
	mu     sync.Mutex
	opened []*Snipe
}

func (o *stubOpener) OnBuyConfirmed(_ context.Context, sn *Snipe) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, sn)
}

func testSniper(t *testing.T, protected bool) *sniper.Sniper {
	t.Helper()
	s, err := sniper.New("user-1", "wallet-1", "test", sniper.Config{
		BuyAmountSOL:        decimal.NewFromFloat(0.5),
		SlippageBps:         300,
		PriorityFeeLamports: 100_000,
		MEVProtection:       protected,
		TakeProfitPct:       100,
		StopLossPct:         50,
	}, sniper.FilterSet{})
	require.NoError(t, err)
	s.Status = sniper.StatusActive
	return s
}

func testMigration() *feed.MigrationEvent {
	return &feed.MigrationEvent{
		TokenMint:   solana.Pubkey("MintEXEC111111111111111111111111111111111111"),
		PoolAddress: solana.Pubkey("PoolEXEC111111111111111111111111111111111111"),
		DEX:         "raydium",
		DetectedAt:  time.Now(),
	}
}

func fastConfig() Config {
	return Config{MaxAttempts: 3, ConfirmTimeoutMs: 500, ConfirmPollMs: 10, PlatformFeeBps: 100}
}

func TestExecuteBuy_StandardPathConfirms(t *testing.T) {
	venue := jupiter.NewStubVenue()
	rpc := solana.NewStubRPCClient()
	events := &recorder{}
	opener := &stubOpener{}

	var resultMu sync.Mutex
	results := map[string]bool{}
	e := New(fastConfig(), venue, rpc, nil, events, opener,
		func(id string, ok bool) {
			resultMu.Lock()
			results[id] = ok
			resultMu.Unlock()
		})

	s := testSniper(t, false)
	sn := e.ExecuteBuy(context.Background(), s, testMigration())

	require.Equal(t, StateConfirmed, sn.CurrentState())
	assert.Equal(t, 1, sn.Attempts)
	assert.NotEmpty(t, sn.Signature)
	assert.Empty(t, sn.BundleID)

	// 0.5 SOL * 1000 tokens/SOL
	assert.True(t, sn.AmountOut.Equal(decimal.NewFromInt(500)))

	// 1% platform fee on the confirmed buy
	assert.True(t, sn.PlatformFeeSOL.Equal(decimal.NewFromFloat(0.005)),
		"platform fee = %s", sn.PlatformFeeSOL)
	// one submission: 5000 base + 100k priority lamports
	assert.True(t, sn.NetworkFeeSOL.Equal(solana.LamportsToSOL(105_000)))

	require.Len(t, opener.opened, 1)
	require.Len(t, events.started, 1, "started fires when the buy is accepted")
	require.Len(t, events.submitted, 1)
	require.Len(t, events.succeeded, 1)
	assert.Empty(t, events.failed)
	resultMu.Lock()
	assert.True(t, results[s.ID])
	resultMu.Unlock()
	assert.Equal(t, int64(1), e.Stats().ConfirmedBuys)
}

func TestExecuteBuy_ProtectedPathLands(t *testing.T) {
	venue := jupiter.NewStubVenue()
	rpc := solana.NewStubRPCClient()
	bundles := solana.NewStubBundleSubmitter()

	e := New(fastConfig(), venue, rpc, bundles, nil, nil, nil)

	s := testSniper(t, true)
	sn := e.ExecuteBuy(context.Background(), s, testMigration())

	require.Equal(t, StateConfirmed, sn.CurrentState())
	assert.NotEmpty(t, sn.BundleID)
	assert.Equal(t, int64(1), bundles.SentCount())
	assert.Equal(t, 0, rpc.SendCount(), "protected landing must not touch RPC")
	assert.Equal(t, int64(0), e.Stats().Fallbacks)
}

func TestExecuteBuy_ProtectedTimeoutFallsBack(t *testing.T) {
	venue := jupiter.NewStubVenue()
	rpc := solana.NewStubRPCClient()
	bundles := solana.NewStubBundleSubmitter()
	bundles.TimeOut = true

	events := &recorder{}
	e := New(fastConfig(), venue, rpc, bundles, events, nil, nil)

	s := testSniper(t, true)
	sn := e.ExecuteBuy(context.Background(), s, testMigration())

	require.Equal(t, StateConfirmed, sn.CurrentState())
	assert.NotEmpty(t, sn.Signature, "fallback submission carries the RPC signature")
	assert.Equal(t, 1, rpc.SendCount())
	assert.Equal(t, int64(1), e.Stats().Fallbacks)
	assert.Equal(t, 2, sn.Attempts, "fallback counts as a fresh attempt")
	assert.Equal(t, []int{2}, events.retrying)
	assert.Len(t, events.submitted, 1, "submitted fires once across bundle and fallback")

	// two submissions consumed network fees: bundle + fallback
	assert.True(t, sn.NetworkFeeSOL.Equal(solana.LamportsToSOL(210_000)))
}

func TestExecuteBuy_RetriesRequoteThenFail(t *testing.T) {
	venue := jupiter.NewStubVenue()
	venue.FailQuote = true
	rpc := solana.NewStubRPCClient()
	events := &recorder{}

	var resultMu sync.Mutex
	results := map[string]bool{}
	e := New(fastConfig(), venue, rpc, nil, events, nil,
		func(id string, ok bool) {
			resultMu.Lock()
			results[id] = ok
			resultMu.Unlock()
		})

	s := testSniper(t, false)
	sn := e.ExecuteBuy(context.Background(), s, testMigration())

	require.Equal(t, StateFailed, sn.CurrentState())
	assert.Equal(t, 3, sn.Attempts)
	assert.Equal(t, []int{2, 3}, events.retrying)
	require.Len(t, events.failed, 1)
	assert.Contains(t, events.failed[0], "quote")
	assert.Len(t, events.started, 1)
	assert.Empty(t, events.submitted, "nothing reached the network")

	// fee invariant: no platform fee, no network fee (nothing submitted)
	assert.True(t, sn.PlatformFeeSOL.IsZero())
	assert.True(t, sn.NetworkFeeSOL.IsZero())

	resultMu.Lock()
	assert.False(t, results[s.ID])
	resultMu.Unlock()
	assert.Equal(t, int64(1), e.Stats().FailedBuys)
	assert.Equal(t, int64(2), e.Stats().Retries)
}

func TestExecuteBuy_TransientSendFailureRecovers(t *testing.T) {
	venue := jupiter.NewStubVenue()
	rpc := solana.NewStubRPCClient()
	rpc.SetFailNext()
	events := &recorder{}

	e := New(fastConfig(), venue, rpc, nil, events, nil, nil)

	s := testSniper(t, false)
	sn := e.ExecuteBuy(context.Background(), s, testMigration())

	require.Equal(t, StateConfirmed, sn.CurrentState())
	assert.Equal(t, 2, sn.Attempts)
	assert.Equal(t, []int{2}, events.retrying)
	require.Len(t, events.succeeded, 1)

	// each attempt re-quotes
	assert.Equal(t, 2, venue.QuoteCalls())
	// only the successful submission accrued network fee
	assert.True(t, sn.NetworkFeeSOL.Equal(solana.LamportsToSOL(105_000)))
	assert.True(t, sn.PlatformFeeSOL.Equal(decimal.NewFromFloat(0.005)))
}

func TestExecuteSell_Confirms(t *testing.T) {
	venue := jupiter.NewStubVenue()
	venue.OutPerSOL = decimal.NewFromFloat(0.001) // SOL per token on the way out
	rpc := solana.NewStubRPCClient()

	e := New(fastConfig(), venue, rpc, nil, nil, nil, nil)

	sn, err := e.ExecuteSell(context.Background(), SellRequest{
		PositionID:          "pos-1",
		SniperID:            "sniper-1",
		TokenMint:           "MintSELL111111111111111111111111111111111111",
		DEX:                 "raydium",
		AmountTokens:        decimal.NewFromInt(500),
		SlippageBps:         300,
		PriorityFeeLamports: 50_000,
		Reason:              "take_profit",
	})
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, sn.CurrentState())
	assert.Equal(t, "sell", sn.Side)
	assert.True(t, sn.AmountOut.Equal(decimal.NewFromFloat(0.5)))
	// sells never carry a platform fee
	assert.True(t, sn.PlatformFeeSOL.IsZero())
	assert.Equal(t, int64(1), e.Stats().ConfirmedSells)
}

func TestExecuteSell_ExhaustedRetriesReturnsError(t *testing.T) {
	venue := jupiter.NewStubVenue()
	venue.FailQuote = true
	rpc := solana.NewStubRPCClient()

	e := New(fastConfig(), venue, rpc, nil, nil, nil, nil)

	sn, err := e.ExecuteSell(context.Background(), SellRequest{
		PositionID:   "pos-2",
		TokenMint:    "MintSELL222222222222222222222222222222222222",
		AmountTokens: decimal.NewFromInt(100),
		SlippageBps:  300,
		Reason:       "stop_loss",
	})
	require.Error(t, err)
	assert.Equal(t, StateFailed, sn.CurrentState())
	assert.Equal(t, int64(1), e.Stats().FailedSells)
}

func TestSnipe_InvalidTransitionRejected(t *testing.T) {
	sn := newSellSnipe(SellRequest{TokenMint: "m", AmountTokens: decimal.NewFromInt(1)})

	require.Equal(t, StateBuilding, sn.CurrentState())
	assert.Error(t, sn.Transition(EventConfirm), "cannot confirm before submission")
	assert.Error(t, sn.Transition(EventRetry), "cannot retry before failure")

	require.NoError(t, sn.Transition(EventSubmitProtected))
	require.NoError(t, sn.Transition(EventSubmitFallback))
	require.NoError(t, sn.Transition(EventConfirm))
	assert.Error(t, sn.Transition(EventFail), "confirmed is terminal")
	assert.NotNil(t, sn.ConfirmedAt)
}

func TestExecuteBuy_SerializedPerSniper(t *testing.T) {
	venue := jupiter.NewStubVenue()
	rpc := solana.NewStubRPCClient()
	e := New(fastConfig(), venue, rpc, nil, nil, nil, nil)

	s := testSniper(t, false)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.ExecuteBuy(context.Background(), s, testMigration())
		}()
	}
	wg.Wait()

	// all four ran to completion, one at a time
	assert.Equal(t, int64(4), e.Stats().Buys)
	assert.Equal(t, int64(4), e.Stats().ConfirmedBuys)
	assert.Equal(t, 4, rpc.SendCount())
}
