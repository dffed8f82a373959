package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gradient-trading/gradient/internal/adapters/jupiter"
	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/gradient-trading/gradient/internal/sniper"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Trade Executor — protected-first swap submission with bounded retries
// ---------------------------------------------------------------------------

// baseFeeLamports is the flat Solana signature fee per submitted transaction.
const baseFeeLamports = 5000

// SwapVenue is the quote/build capability the executor swaps through.
// Implementations: jupiter.Venue, jupiter.StubVenue.
type SwapVenue interface {
	Quote(ctx context.Context, params solana.SwapParams, directOnly bool) (*jupiter.Quote, error)
	BuildSwapTx(ctx context.Context, quote *jupiter.Quote, priorityFee uint64) (string, error)
	PriceUSD(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error)
	Name() string
}

// Events receives snipe lifecycle notifications for publication.
type Events interface {
	SnipeStarted(sn *Snipe)
	SnipeSubmitted(sn *Snipe)
	SnipeRetrying(sn *Snipe, attempt, maxAttempts int)
	SnipeSucceeded(sn *Snipe)
	SnipeFailed(sn *Snipe, reason string)
}

// PositionOpener is called with every confirmed buy, strictly before the
// success event goes out.
type PositionOpener interface {
	OnBuyConfirmed(ctx context.Context, sn *Snipe)
}

// ResultFunc reports buy outcomes back to the matcher for auto-pause
// accounting.
type ResultFunc func(sniperID string, success bool)

// SellRequest is a sell order from the position manager or a manual close.
type SellRequest struct {
	PositionID          string
	SniperID            string
	UserID              string
	WalletID            string
	TokenMint           solana.Pubkey
	DEX                 string
	AmountTokens        decimal.Decimal
	SlippageBps         int
	PriorityFeeLamports uint64
	Protected           bool
	Reason              string
}

// Config controls executor behavior.
type Config struct {
	MaxAttempts      int `yaml:"max_attempts"`
	ConfirmTimeoutMs int `yaml:"confirm_timeout_ms"`
	ConfirmPollMs    int `yaml:"confirm_poll_ms"`
	// Platform fee in bps, charged on confirmed buys only.
	PlatformFeeBps int `yaml:"platform_fee_bps"`
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.ConfirmTimeoutMs <= 0 {
		c.ConfirmTimeoutMs = 15000
	}
	if c.ConfirmPollMs <= 0 {
		c.ConfirmPollMs = 500
	}
	if c.PlatformFeeBps < 0 {
		c.PlatformFeeBps = 0
	}
}

// Executor submits swaps: Jito-protected first when the sniper asks for MEV
// protection, plain RPC otherwise or as fallback. Each retry re-quotes before
// rebuilding. One in-flight buy per sniper, enforced with a keyed mutex.
type Executor struct {
	config   Config
	venue    SwapVenue
	rpc      solana.RPCClient
	bundles  solana.BundleSubmitter
	events   Events
	opener   PositionOpener
	onResult ResultFunc

	mu       sync.Mutex
	buyLocks map[string]*sync.Mutex

	buys           atomic.Int64
	confirmedBuys  atomic.Int64
	failedBuys     atomic.Int64
	sells          atomic.Int64
	confirmedSells atomic.Int64
	failedSells    atomic.Int64
	fallbacks      atomic.Int64
	retries        atomic.Int64
}

// New creates an executor. events, opener, onResult may be nil; bundles may
// be nil when the protected path is disabled.
func New(config Config, venue SwapVenue, rpc solana.RPCClient, bundles solana.BundleSubmitter,
	events Events, opener PositionOpener, onResult ResultFunc) *Executor {
	config.applyDefaults()
	return &Executor{
		config:   config,
		venue:    venue,
		rpc:      rpc,
		bundles:  bundles,
		events:   events,
		opener:   opener,
		onResult: onResult,
		buyLocks: make(map[string]*sync.Mutex),
	}
}

// SetOpener attaches the position opener after construction. The opener
// needs the executor for its sell path, so one side is wired late. Must be
// called before the first buy request.
func (e *Executor) SetOpener(opener PositionOpener) {
	e.opener = opener
}

// lockFor returns the per-sniper buy mutex.
func (e *Executor) lockFor(sniperID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.buyLocks[sniperID]
	if !ok {
		l = &sync.Mutex{}
		e.buyLocks[sniperID] = l
	}
	return l
}

// RequestBuy accepts a buy intent from the matcher. Runs asynchronously so
// matcher workers are never blocked on chain latency.
func (e *Executor) RequestBuy(ctx context.Context, s *sniper.Sniper, ev *feed.MigrationEvent) {
	go e.ExecuteBuy(ctx, s, ev)
}

// ExecuteBuy runs the full buy flow synchronously: quote, build, submit,
// confirm, with bounded retries. Exposed for tests and manual snipes.
func (e *Executor) ExecuteBuy(ctx context.Context, s *sniper.Sniper, ev *feed.MigrationEvent) *Snipe {
	lock := e.lockFor(s.ID)
	lock.Lock()
	defer lock.Unlock()

	e.buys.Add(1)
	sn := newBuySnipe(s, ev)

	log.Info().
		Str("snipe_id", sn.ID).
		Str("sniper_id", s.ID).
		Str("mint", string(sn.TokenMint)).
		Str("amount_sol", sn.AmountIn.String()).
		Bool("protected", sn.Protected).
		Msg("executor: EXECUTING BUY")

	if e.events != nil {
		e.events.SnipeStarted(sn)
	}

	for sn.Attempts < e.config.MaxAttempts {
		sn.Attempts++
		if sn.Attempts > 1 {
			e.retries.Add(1)
			if e.events != nil {
				e.events.SnipeRetrying(sn, sn.Attempts, e.config.MaxAttempts)
			}
			if err := sn.Transition(EventRetry); err != nil {
				break
			}
		}

		if err := e.attemptSwap(ctx, sn); err != nil {
			log.Warn().Err(err).
				Str("snipe_id", sn.ID).
				Int("attempt", sn.Attempts).
				Int("max_attempts", e.config.MaxAttempts).
				Msg("executor: buy attempt failed")
			sn.Error = err.Error()
			continue
		}

		// Confirmed: platform fee applies now and only now.
		if e.config.PlatformFeeBps > 0 {
			sn.PlatformFeeSOL = sn.AmountIn.
				Mul(decimal.NewFromInt(int64(e.config.PlatformFeeBps))).
				Div(decimal.NewFromInt(10000))
		}
		sn.Error = ""
		e.confirmedBuys.Add(1)

		if price, err := e.venue.PriceUSD(ctx, sn.TokenMint); err == nil {
			sn.EntryPriceUSD = price
		} else if ev.Enrichment.PriceUSD != nil {
			sn.EntryPriceUSD = *ev.Enrichment.PriceUSD
		}

		log.Info().
			Str("snipe_id", sn.ID).
			Str("signature", string(sn.Signature)).
			Str("tokens", sn.AmountOut.String()).
			Str("platform_fee_sol", sn.PlatformFeeSOL.String()).
			Msg("executor: buy CONFIRMED")

		if e.opener != nil {
			e.opener.OnBuyConfirmed(ctx, sn)
		}
		if e.events != nil {
			e.events.SnipeSucceeded(sn)
		}
		if e.onResult != nil {
			e.onResult(s.ID, true)
		}
		return sn
	}

	e.failedBuys.Add(1)
	log.Error().
		Str("snipe_id", sn.ID).
		Str("sniper_id", s.ID).
		Str("error", sn.Error).
		Msg("executor: buy FAILED, retries exhausted")

	if e.events != nil {
		e.events.SnipeFailed(sn, sn.Error)
	}
	if e.onResult != nil {
		e.onResult(s.ID, false)
	}
	return sn
}

// ExecuteSell runs a sell synchronously. Used by the position manager's exit
// engine and by manual closes; the caller owns position status transitions.
func (e *Executor) ExecuteSell(ctx context.Context, req SellRequest) (*Snipe, error) {
	e.sells.Add(1)
	sn := newSellSnipe(req)

	log.Info().
		Str("snipe_id", sn.ID).
		Str("position_id", req.PositionID).
		Str("mint", string(sn.TokenMint)).
		Str("amount_tokens", sn.AmountIn.String()).
		Str("reason", req.Reason).
		Msg("executor: EXECUTING SELL")

	for sn.Attempts < e.config.MaxAttempts {
		sn.Attempts++
		if sn.Attempts > 1 {
			e.retries.Add(1)
			if err := sn.Transition(EventRetry); err != nil {
				break
			}
		}

		if err := e.attemptSwap(ctx, sn); err != nil {
			log.Warn().Err(err).
				Str("snipe_id", sn.ID).
				Int("attempt", sn.Attempts).
				Msg("executor: sell attempt failed")
			sn.Error = err.Error()
			continue
		}

		sn.Error = ""
		e.confirmedSells.Add(1)
		log.Info().
			Str("snipe_id", sn.ID).
			Str("sol_out", sn.AmountOut.String()).
			Msg("executor: sell CONFIRMED")
		return sn, nil
	}

	e.failedSells.Add(1)
	return sn, fmt.Errorf("executor: sell failed after %d attempts: %s",
		sn.Attempts, sn.Error)
}

// attemptSwap runs one quote→build→submit→confirm cycle, driving the state
// machine. A nil return means the snipe is CONFIRMED.
func (e *Executor) attemptSwap(ctx context.Context, sn *Snipe) error {
	params := solana.SwapParams{
		InputMint:   solana.SOLMint,
		OutputMint:  sn.TokenMint,
		AmountIn:    sn.AmountIn,
		SlippageBps: sn.SlippageBps,
		PriorityFee: sn.PriorityFeeLamports,
	}
	if sn.Side == "sell" {
		params.InputMint = sn.TokenMint
		params.OutputMint = solana.SOLMint
	}

	// Just-graduated tokens have exactly one pool; direct routing skips
	// aggregator detours through stale routes.
	directOnly := sn.DEX == "pumpswap"

	quote, err := e.venue.Quote(ctx, params, directOnly)
	if err != nil {
		_ = sn.Transition(EventFail)
		return fmt.Errorf("quote: %w", err)
	}

	tx, err := e.venue.BuildSwapTx(ctx, quote, sn.PriorityFeeLamports)
	if err != nil {
		_ = sn.Transition(EventFail)
		return fmt.Errorf("build swap: %w", err)
	}

	if sn.Protected && e.bundles != nil && e.bundles.Enabled() {
		if err := e.submitProtected(ctx, sn, tx); err == nil {
			sn.AmountOut = quote.ExpectedOut
			return nil
		}
		// Window elapsed or block engine rejected: standard path with the
		// same built transaction, counted as a fresh attempt.
		e.fallbacks.Add(1)
		sn.Attempts++
		if e.events != nil {
			e.events.SnipeRetrying(sn, sn.Attempts, e.config.MaxAttempts)
		}
		log.Warn().Str("snipe_id", sn.ID).Int("attempt", sn.Attempts).
			Msg("executor: protected path missed, falling back to RPC")
	}

	if err := e.submitFallback(ctx, sn, tx); err != nil {
		return err
	}
	sn.AmountOut = quote.ExpectedOut
	return nil
}

// submitProtected sends the transaction as a Jito bundle and waits for it to
// land within the confirmation window.
func (e *Executor) submitProtected(ctx context.Context, sn *Snipe, tx string) error {
	status, err := e.bundles.SendBundle(ctx, []string{tx})
	if err != nil {
		return fmt.Errorf("send bundle: %w", err)
	}
	if err := sn.Transition(EventSubmitProtected); err != nil {
		return err
	}
	sn.BundleID = status.BundleID
	e.accrueNetworkFee(sn)
	e.noteSubmitted(sn)

	landed, err := e.bundles.WaitForLanding(ctx, status.BundleID)
	if err != nil {
		_ = sn.Transition(EventSubmitFallback)
		return fmt.Errorf("bundle landing: %w", err)
	}

	if err := sn.Transition(EventConfirm); err != nil {
		return err
	}
	log.Info().
		Str("snipe_id", sn.ID).
		Str("bundle_id", landed.BundleID).
		Uint64("slot", landed.Slot).
		Msg("executor: bundle landed")
	return nil
}

// submitFallback sends via plain RPC and polls signature status until
// confirmation or timeout.
func (e *Executor) submitFallback(ctx context.Context, sn *Snipe, tx string) error {
	sig, err := e.rpc.SendTransaction(ctx, tx)
	if err != nil {
		_ = sn.Transition(EventFail)
		return fmt.Errorf("send transaction: %w", err)
	}
	if sn.CurrentState() == StateBuilding {
		if err := sn.Transition(EventSubmitFallback); err != nil {
			return err
		}
	}
	sn.Signature = sig
	e.accrueNetworkFee(sn)
	e.noteSubmitted(sn)

	deadline := time.Now().Add(time.Duration(e.config.ConfirmTimeoutMs) * time.Millisecond)
	poll := time.Duration(e.config.ConfirmPollMs) * time.Millisecond

	for time.Now().Before(deadline) {
		status, err := e.rpc.GetTransactionStatus(ctx, sig)
		if err == nil {
			switch status {
			case "confirmed", "finalized":
				return sn.Transition(EventConfirm)
			case "failed":
				_ = sn.Transition(EventFail)
				return fmt.Errorf("transaction %s failed on chain", sig)
			}
		}
		select {
		case <-ctx.Done():
			_ = sn.Transition(EventFail)
			return ctx.Err()
		case <-time.After(poll):
		}
	}

	_ = sn.Transition(EventFail)
	return fmt.Errorf("transaction %s not confirmed within %dms", sig, e.config.ConfirmTimeoutMs)
}

// noteSubmitted fires the submitted event the first time this snipe's
// transaction reaches the network, across retries and fallbacks.
func (e *Executor) noteSubmitted(sn *Snipe) {
	if sn.submitted {
		return
	}
	sn.submitted = true
	if e.events != nil {
		e.events.SnipeSubmitted(sn)
	}
}

// accrueNetworkFee charges the signature fee + priority fee for one submitted
// attempt. Failed buys consume network fees only; the platform fee is charged
// on confirmation alone.
func (e *Executor) accrueNetworkFee(sn *Snipe) {
	sn.NetworkFeeSOL = sn.NetworkFeeSOL.Add(
		solana.LamportsToSOL(baseFeeLamports + sn.PriorityFeeLamports))
}

// ExecutorStats is a snapshot of executor counters.
type ExecutorStats struct {
	Buys           int64 `json:"buys"`
	ConfirmedBuys  int64 `json:"confirmedBuys"`
	FailedBuys     int64 `json:"failedBuys"`
	Sells          int64 `json:"sells"`
	ConfirmedSells int64 `json:"confirmedSells"`
	FailedSells    int64 `json:"failedSells"`
	Fallbacks      int64 `json:"fallbacks"`
	Retries        int64 `json:"retries"`
}

// Stats returns current counters.
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Buys:           e.buys.Load(),
		ConfirmedBuys:  e.confirmedBuys.Load(),
		FailedBuys:     e.failedBuys.Load(),
		Sells:          e.sells.Load(),
		ConfirmedSells: e.confirmedSells.Load(),
		FailedSells:    e.failedSells.Load(),
		Fallbacks:      e.fallbacks.Load(),
		Retries:        e.retries.Load(),
	}
}
