package sniper

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Sniper model — user-configured auto-buy rule for fresh migrations
// ---------------------------------------------------------------------------

// Status represents the lifecycle state of a sniper.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusArchived Status = "ARCHIVED"
)

// ErrInvalidConfig marks configuration errors rejected at creation time.
var ErrInvalidConfig = errors.New("invalid sniper config")

// MinBuySOL is the smallest allowed snipe size.
var MinBuySOL = decimal.NewFromFloat(0.01)

// MinSlippageBps is the smallest allowed slippage tolerance. Fresh pools move
// fast; anything tighter just burns the buy on price impact.
const MinSlippageBps = 50

// ActivationBufferSOL is added on top of buy amount + priority fee when
// checking wallet balance at activation. Advisory only; the authoritative
// check is on-chain at submission.
var ActivationBufferSOL = decimal.NewFromFloat(0.01)

// Config is the trade side of a sniper: how much to buy and how to exit.
type Config struct {
	// SOL spent per snipe.
	BuyAmountSOL decimal.Decimal `json:"buy_amount_sol" yaml:"buy_amount_sol"`

	// Slippage tolerance in bps.
	SlippageBps int `json:"slippage_bps" yaml:"slippage_bps"`

	// Priority fee in lamports attached to the swap.
	PriorityFeeLamports uint64 `json:"priority_fee_lamports" yaml:"priority_fee_lamports"`

	// Route the buy through a Jito bundle for MEV protection.
	MEVProtection bool `json:"mev_protection" yaml:"mev_protection"`

	// Take profit threshold as percent gain (100 = sell at 2x). 0 = disabled.
	TakeProfitPct float64 `json:"take_profit_pct" yaml:"take_profit_pct"`

	// Stop loss threshold as percent drop (50 = sell at -50%). 0 = disabled.
	StopLossPct float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`

	// Trailing stop distance in percent off the highest observed price.
	TrailingStopEnabled bool    `json:"trailing_stop_enabled" yaml:"trailing_stop_enabled"`
	TrailingStopPct     float64 `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`

	// Sell half the position once market cap doubles, recovering the
	// initial outlay. One-shot.
	CoverInitials bool `json:"cover_initials" yaml:"cover_initials"`
}

// Validate rejects configs the executor cannot safely act on.
func (c Config) Validate() error {
	if c.BuyAmountSOL.LessThan(MinBuySOL) {
		return fmt.Errorf("%w: buy amount %s below minimum %s SOL",
			ErrInvalidConfig, c.BuyAmountSOL, MinBuySOL)
	}
	if c.SlippageBps < MinSlippageBps {
		return fmt.Errorf("%w: slippage %d bps below minimum %d",
			ErrInvalidConfig, c.SlippageBps, MinSlippageBps)
	}
	if c.TakeProfitPct < 0 || c.TakeProfitPct > 1000 {
		return fmt.Errorf("%w: take profit %.1f%% outside (0, 1000]",
			ErrInvalidConfig, c.TakeProfitPct)
	}
	if c.StopLossPct < 0 || c.StopLossPct > 100 {
		return fmt.Errorf("%w: stop loss %.1f%% outside (0, 100]",
			ErrInvalidConfig, c.StopLossPct)
	}
	if c.TrailingStopEnabled && (c.TrailingStopPct <= 0 || c.TrailingStopPct >= 100) {
		return fmt.Errorf("%w: trailing stop %.1f%% outside (0, 100)",
			ErrInvalidConfig, c.TrailingStopPct)
	}
	return nil
}

// Stats are per-sniper lifetime counters, persisted with the sniper.
type Stats struct {
	Matches     int64           `json:"matches"`
	Snipes      int64           `json:"snipes"`
	Successes   int64           `json:"successes"`
	Failures    int64           `json:"failures"`
	TotalSpent  decimal.Decimal `json:"total_spent_sol"`
	TotalPnLSOL decimal.Decimal `json:"total_pnl_sol"`
}

// Sniper is one user-configured rule: filters decide which migrations match,
// Config decides how the buy and exits run.
type Sniper struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	WalletID string `json:"wallet_id"`
	Name     string `json:"name"`
	Status   Status `json:"status"`

	Config  Config    `json:"config"`
	Filters FilterSet `json:"filters"`
	Stats   Stats     `json:"stats"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// New builds a validated sniper in paused state. Activation is a separate
// step because it requires a wallet balance check.
func New(userID, walletID, name string, config Config, filters FilterSet) (*Sniper, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidConfig)
	}
	if walletID == "" {
		return nil, fmt.Errorf("%w: missing wallet id", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Sniper{
		ID:        uuid.New().String(),
		UserID:    userID,
		WalletID:  walletID,
		Name:      name,
		Status:    StatusPaused,
		Config:    config,
		Filters:   filters,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// RequiredBalanceSOL is what the wallet must hold before activation:
// buy amount + priority fee + buffer.
func (s *Sniper) RequiredBalanceSOL() decimal.Decimal {
	fee := decimal.NewFromInt(int64(s.Config.PriorityFeeLamports)).
		Div(decimal.NewFromInt(1_000_000_000))
	return s.Config.BuyAmountSOL.Add(fee).Add(ActivationBufferSOL)
}

// Active reports whether the matcher should evaluate this sniper.
func (s *Sniper) Active() bool {
	return s.Status == StatusActive && s.DeletedAt == nil
}
