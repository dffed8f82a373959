package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/gradient-trading/gradient/internal/sniper"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/shopspring/decimal"
)

// State represents the current lifecycle state of a snipe submission.
type State string

const (
	StateBuilding           State = "BUILDING"
	StateSubmittedProtected State = "SUBMITTED_PROTECTED"
	StateSubmittedFallback  State = "SUBMITTED_FALLBACK"
	StateConfirmed          State = "CONFIRMED"
	StateFailed             State = "FAILED"
)

// Event represents an event that triggers a state transition.
type Event string

const (
	EventSubmitProtected Event = "SUBMIT_PROTECTED"
	EventSubmitFallback  Event = "SUBMIT_FALLBACK"
	EventConfirm         Event = "CONFIRM"
	EventFail            Event = "FAIL"
	EventRetry           Event = "RETRY"
)

// transition defines an allowed state machine edge.
type transition struct {
	from  State
	event Event
}

// transitions is the authoritative transition table. Every valid
// (currentState, event) pair maps to exactly one target state.
var transitions = map[transition]State{
	{StateBuilding, EventSubmitProtected}: StateSubmittedProtected,
	{StateBuilding, EventSubmitFallback}:  StateSubmittedFallback,
	{StateBuilding, EventFail}:            StateFailed,
	// Bundle landed within the confirmation window.
	{StateSubmittedProtected, EventConfirm}: StateConfirmed,
	// Window elapsed or block engine rejected: fall back to plain RPC.
	{StateSubmittedProtected, EventSubmitFallback}: StateSubmittedFallback,
	{StateSubmittedProtected, EventFail}:           StateFailed,
	{StateSubmittedFallback, EventConfirm}:         StateConfirmed,
	{StateSubmittedFallback, EventFail}:            StateFailed,
	// Bounded retry re-quotes and rebuilds from scratch.
	{StateFailed, EventRetry}: StateBuilding,
}

// Snipe tracks one buy or sell submission through the state machine. All
// monetary values use shopspring/decimal. Safe for concurrent access via its
// embedded mutex.
type Snipe struct {
	mu sync.Mutex

	// set once the first submission reaches the network; gates the
	// submitted event across retries
	submitted bool

	ID       string `json:"id"`
	SniperID string `json:"sniper_id"`
	UserID   string `json:"user_id"`
	WalletID string `json:"wallet_id"`
	Side     string `json:"side"` // buy|sell

	TokenMint   solana.Pubkey `json:"token_mint"`
	PoolAddress solana.Pubkey `json:"pool_address"`
	DEX         string        `json:"dex"`

	AmountIn            decimal.Decimal `json:"amount_in"` // SOL for buys, tokens for sells
	SlippageBps         int             `json:"slippage_bps"`
	PriorityFeeLamports uint64          `json:"priority_fee_lamports"`
	Protected           bool            `json:"protected"`

	State    State  `json:"state"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`

	Signature solana.Signature `json:"signature,omitempty"`
	BundleID  string           `json:"bundle_id,omitempty"`

	// Filled on confirmation.
	AmountOut      decimal.Decimal `json:"amount_out"` // tokens for buys, SOL for sells
	EntryPriceUSD  decimal.Decimal `json:"entry_price_usd"`
	PlatformFeeSOL decimal.Decimal `json:"platform_fee_sol"`
	NetworkFeeSOL  decimal.Decimal `json:"network_fee_sol"`

	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`

	// Migration that triggered the buy. Nil on sells.
	Event *feed.MigrationEvent `json:"-"`
}

// newBuySnipe creates a buy submission in the BUILDING state.
func newBuySnipe(s *sniper.Sniper, ev *feed.MigrationEvent) *Snipe {
	return &Snipe{
		ID:                  uuid.New().String(),
		SniperID:            s.ID,
		UserID:              s.UserID,
		WalletID:            s.WalletID,
		Side:                "buy",
		TokenMint:           ev.TokenMint,
		PoolAddress:         ev.PoolAddress,
		DEX:                 ev.DEX,
		AmountIn:            s.Config.BuyAmountSOL,
		SlippageBps:         s.Config.SlippageBps,
		PriorityFeeLamports: s.Config.PriorityFeeLamports,
		Protected:           s.Config.MEVProtection,
		State:               StateBuilding,
		PlatformFeeSOL:      decimal.Zero,
		NetworkFeeSOL:       decimal.Zero,
		CreatedAt:           time.Now(),
		Event:               ev,
	}
}

// newSellSnipe creates a sell submission in the BUILDING state.
func newSellSnipe(req SellRequest) *Snipe {
	return &Snipe{
		ID:                  uuid.New().String(),
		SniperID:            req.SniperID,
		UserID:              req.UserID,
		WalletID:            req.WalletID,
		Side:                "sell",
		TokenMint:           req.TokenMint,
		DEX:                 req.DEX,
		AmountIn:            req.AmountTokens,
		SlippageBps:         req.SlippageBps,
		PriorityFeeLamports: req.PriorityFeeLamports,
		Protected:           req.Protected,
		State:               StateBuilding,
		PlatformFeeSOL:      decimal.Zero,
		NetworkFeeSOL:       decimal.Zero,
		CreatedAt:           time.Now(),
	}
}

// Transition advances the snipe through the state machine. Invalid
// (state, event) pairs are rejected.
func (sn *Snipe) Transition(event Event) error {
	sn.mu.Lock()
	defer sn.mu.Unlock()

	next, ok := transitions[transition{sn.State, event}]
	if !ok {
		return fmt.Errorf("executor: invalid transition %s + %s", sn.State, event)
	}
	sn.State = next
	if next == StateConfirmed {
		now := time.Now()
		sn.ConfirmedAt = &now
	}
	return nil
}

// CurrentState returns the state under lock.
func (sn *Snipe) CurrentState() State {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	return sn.State
}

// Confirmed reports whether the submission landed.
func (sn *Snipe) Confirmed() bool { return sn.CurrentState() == StateConfirmed }
