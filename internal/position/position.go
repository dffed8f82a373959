package position

import (
	"time"

	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Position model — one held token per sniper, with its exit plan
// ---------------------------------------------------------------------------

// Status represents the state of a position.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusSelling Status = "SELLING"
	StatusClosed  Status = "CLOSED"
)

// Exit reasons, in trigger priority order.
const (
	ExitManual        = "manual"
	ExitStopLoss      = "stop_loss"
	ExitTrailingStop  = "trailing_stop"
	ExitCoverInitials = "cover_initials"
	ExitTakeProfit    = "take_profit"
)

// ExitPlan is the sniper's exit config frozen at open time, so later sniper
// edits never change a live position's behavior.
type ExitPlan struct {
	TakeProfitPct       float64 `json:"take_profit_pct"`
	StopLossPct         float64 `json:"stop_loss_pct"`
	TrailingStopEnabled bool    `json:"trailing_stop_enabled"`
	TrailingStopPct     float64 `json:"trailing_stop_pct"`
	CoverInitials       bool    `json:"cover_initials"`
	SlippageBps         int     `json:"slippage_bps"`
	PriorityFeeLamports uint64  `json:"priority_fee_lamports"`
	Protected           bool    `json:"protected"`
}

// Position tracks a confirmed buy until it is fully sold. All mutation goes
// through the manager's per-position lock.
type Position struct {
	ID       string `json:"id"`
	SniperID string `json:"sniper_id"`
	UserID   string `json:"user_id"`
	WalletID string `json:"wallet_id"`

	TokenMint   solana.Pubkey `json:"token_mint"`
	PoolAddress solana.Pubkey `json:"pool_address"`
	DEX         string        `json:"dex"`

	EntryPriceUSD     decimal.Decimal `json:"entry_price_usd"`
	EntryAmountSOL    decimal.Decimal `json:"entry_amount_sol"`
	EntryTokenAmount  decimal.Decimal `json:"entry_token_amount"`
	EntryMarketCapUSD decimal.Decimal `json:"entry_market_cap_usd"`

	CurrentTokenAmount decimal.Decimal `json:"current_token_amount"`
	CurrentPriceUSD    decimal.Decimal `json:"current_price_usd"`
	HighestPriceUSD    decimal.Decimal `json:"highest_price_usd"`
	PnLPct             float64         `json:"pnl_pct"`
	PnLSOL             decimal.Decimal `json:"pnl_sol"`

	// SOL realized from sells so far.
	ExitSOL decimal.Decimal `json:"exit_sol"`

	// One-shot: half the position sold at 2x entry market cap.
	CoverInitialsDone bool `json:"cover_initials_done"`

	Plan ExitPlan `json:"plan"`

	BuySignature  solana.Signature `json:"buy_signature,omitempty"`
	SellSignature solana.Signature `json:"sell_signature,omitempty"`

	Status     Status     `json:"status"`
	ExitReason string     `json:"exit_reason,omitempty"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// ExitDecision is what a tick evaluation wants to do with a position.
type ExitDecision struct {
	Sell      bool
	Amount    decimal.Decimal
	Reason    string
	FullClose bool
}

// evaluateExits checks automatic exit triggers against the already-updated
// current price, in fixed priority: stop loss, trailing stop, cover-initials,
// take profit. Manual closes bypass this entirely and outrank everything.
func evaluateExits(p *Position) ExitDecision {
	if p.Status != StatusOpen || !p.EntryPriceUSD.IsPositive() {
		return ExitDecision{}
	}

	if p.Plan.StopLossPct > 0 {
		slPrice := p.EntryPriceUSD.Mul(decimal.NewFromFloat(1.0 - p.Plan.StopLossPct/100.0))
		if p.CurrentPriceUSD.LessThanOrEqual(slPrice) {
			return ExitDecision{
				Sell:      true,
				Amount:    p.CurrentTokenAmount,
				Reason:    ExitStopLoss,
				FullClose: true,
			}
		}
	}

	if p.Plan.TrailingStopEnabled && p.HighestPriceUSD.IsPositive() {
		trailDist := p.HighestPriceUSD.Mul(decimal.NewFromFloat(p.Plan.TrailingStopPct / 100.0))
		trailStop := p.HighestPriceUSD.Sub(trailDist)
		if p.CurrentPriceUSD.LessThanOrEqual(trailStop) {
			return ExitDecision{
				Sell:      true,
				Amount:    p.CurrentTokenAmount,
				Reason:    ExitTrailingStop,
				FullClose: true,
			}
		}
	}

	if p.Plan.CoverInitials && !p.CoverInitialsDone && p.marketCapDoubled() {
		half := p.CurrentTokenAmount.Div(decimal.NewFromInt(2))
		return ExitDecision{
			Sell:   true,
			Amount: half,
			Reason: ExitCoverInitials,
		}
	}

	if p.Plan.TakeProfitPct > 0 {
		tpPrice := p.EntryPriceUSD.Mul(decimal.NewFromFloat(1.0 + p.Plan.TakeProfitPct/100.0))
		if p.CurrentPriceUSD.GreaterThanOrEqual(tpPrice) {
			return ExitDecision{
				Sell:      true,
				Amount:    p.CurrentTokenAmount,
				Reason:    ExitTakeProfit,
				FullClose: true,
			}
		}
	}

	return ExitDecision{}
}

// marketCapDoubled reports whether market cap reached 2x entry. Supply is
// fixed after graduation, so the price ratio tracks the mcap ratio exactly.
func (p *Position) marketCapDoubled() bool {
	return p.CurrentPriceUSD.GreaterThanOrEqual(
		p.EntryPriceUSD.Mul(decimal.NewFromInt(2)))
}

// applyTick folds a fresh price into the position: monotonic high watermark
// and recomputed unrealized PnL.
func (p *Position) applyTick(price decimal.Decimal) {
	p.CurrentPriceUSD = price
	if price.GreaterThan(p.HighestPriceUSD) {
		p.HighestPriceUSD = price
	}
	if p.EntryPriceUSD.IsPositive() {
		pnl := price.Sub(p.EntryPriceUSD).Div(p.EntryPriceUSD).Mul(decimal.NewFromInt(100))
		p.PnLPct, _ = pnl.Float64()
	}
	if p.EntryPriceUSD.IsPositive() && p.EntryTokenAmount.IsPositive() {
		// The tick stream carries token prices only, so the remaining stack is
		// valued at the entry-time SOL price. At zero remaining tokens this
		// matches the realized figure the close path computes.
		valueSOL := p.EntryAmountSOL.
			Mul(price).Div(p.EntryPriceUSD).
			Mul(p.CurrentTokenAmount).Div(p.EntryTokenAmount)
		p.PnLSOL = p.ExitSOL.Add(valueSOL).Sub(p.EntryAmountSOL)
	}
}
