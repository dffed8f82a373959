package position

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gradient-trading/gradient/internal/executor"
	"github.com/gradient-trading/gradient/internal/sniper"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Seller executes exit swaps. Implemented by the trade executor.
type Seller interface {
	ExecuteSell(ctx context.Context, req executor.SellRequest) (*executor.Snipe, error)
}

// PriceSource is the market-data lookup the tick poller reads from.
type PriceSource interface {
	PriceUSD(ctx context.Context, mint solana.Pubkey) (decimal.Decimal, error)
}

// Events receives position lifecycle notifications for publication.
type Events interface {
	PositionOpened(p *Position)
	PositionUpdated(p *Position)
	PositionClosed(p *Position)
	PriceUpdate(mint solana.Pubkey, price decimal.Decimal)
}

// Config controls the position manager.
type Config struct {
	PriceCheckIntervalMs int `yaml:"price_check_interval_ms"`
}

func (c *Config) applyDefaults() {
	if c.PriceCheckIntervalMs <= 0 {
		c.PriceCheckIntervalMs = 3000
	}
}

// Manager tracks every open position and drives exits off price ticks.
// Tick evaluation is serialized per position via a keyed mutex; a position
// in SELLING is excluded from evaluation until its sell resolves, so a
// trigger can never double-fire.
type Manager struct {
	config Config
	seller Seller
	prices PriceSource
	events Events

	// sniperLookup resolves the exit plan for a fresh buy.
	sniperLookup func(id string) *sniper.Sniper

	mu        sync.RWMutex
	positions map[string]*Position
	locks     map[string]*sync.Mutex
	byPair    map[string]string // sniperID|mint -> positionID while not closed

	startMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	opened       atomic.Int64
	closed       atomic.Int64
	partialSells atomic.Int64
	ticks        atomic.Int64
	sellFailures atomic.Int64
}

// NewManager creates a position manager. events may be nil.
func NewManager(config Config, seller Seller, prices PriceSource, events Events,
	sniperLookup func(id string) *sniper.Sniper) *Manager {
	config.applyDefaults()
	return &Manager{
		config:       config,
		seller:       seller,
		prices:       prices,
		events:       events,
		sniperLookup: sniperLookup,
		positions:    make(map[string]*Position),
		locks:        make(map[string]*sync.Mutex),
		byPair:       make(map[string]string),
	}
}

// Start launches the price poller.
func (m *Manager) Start(ctx context.Context) {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.pollLoop(ctx)
	log.Info().Int("interval_ms", m.config.PriceCheckIntervalMs).Msg("Position manager started")
}

// Stop halts the poller. In-flight sells run to completion.
func (m *Manager) Stop() {
	m.startMu.Lock()
	if !m.started {
		m.startMu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.startMu.Unlock()

	cancel()
	m.wg.Wait()
}

func pairKey(sniperID string, mint solana.Pubkey) string {
	return sniperID + "|" + string(mint)
}

// OnBuyConfirmed creates a position from a confirmed buy. Implements the
// executor's PositionOpener.
func (m *Manager) OnBuyConfirmed(_ context.Context, sn *executor.Snipe) {
	p := &Position{
		ID:                 uuid.New().String(),
		SniperID:           sn.SniperID,
		UserID:             sn.UserID,
		WalletID:           sn.WalletID,
		TokenMint:          sn.TokenMint,
		PoolAddress:        sn.PoolAddress,
		DEX:                sn.DEX,
		EntryPriceUSD:      sn.EntryPriceUSD,
		EntryAmountSOL:     sn.AmountIn,
		EntryTokenAmount:   sn.AmountOut,
		CurrentTokenAmount: sn.AmountOut,
		CurrentPriceUSD:    sn.EntryPriceUSD,
		HighestPriceUSD:    sn.EntryPriceUSD,
		ExitSOL:            decimal.Zero,
		PnLSOL:             decimal.Zero,
		BuySignature:       sn.Signature,
		Status:             StatusOpen,
		OpenedAt:           time.Now(),
	}
	if sn.Event != nil && sn.Event.Enrichment.MarketCapUSD != nil {
		p.EntryMarketCapUSD = *sn.Event.Enrichment.MarketCapUSD
	}

	if s := m.lookupSniper(sn.SniperID); s != nil {
		p.Plan = ExitPlan{
			TakeProfitPct:       s.Config.TakeProfitPct,
			StopLossPct:         s.Config.StopLossPct,
			TrailingStopEnabled: s.Config.TrailingStopEnabled,
			TrailingStopPct:     s.Config.TrailingStopPct,
			CoverInitials:       s.Config.CoverInitials,
			SlippageBps:         s.Config.SlippageBps,
			PriorityFeeLamports: s.Config.PriorityFeeLamports,
			Protected:           s.Config.MEVProtection,
		}
	} else {
		p.Plan = ExitPlan{SlippageBps: sn.SlippageBps, PriorityFeeLamports: sn.PriorityFeeLamports}
		log.Warn().Str("sniper_id", sn.SniperID).Str("position_id", p.ID).
			Msg("Sniper gone at position open, no automatic exits")
	}

	m.mu.Lock()
	m.positions[p.ID] = p
	m.locks[p.ID] = &sync.Mutex{}
	m.byPair[pairKey(p.SniperID, p.TokenMint)] = p.ID
	m.mu.Unlock()

	m.opened.Add(1)
	log.Info().
		Str("position_id", p.ID).
		Str("sniper_id", p.SniperID).
		Str("mint", string(p.TokenMint)).
		Str("tokens", p.EntryTokenAmount.String()).
		Str("entry_price", p.EntryPriceUSD.String()).
		Msg("Position OPENED")

	if m.events != nil {
		m.events.PositionOpened(p)
	}
}

func (m *Manager) lookupSniper(id string) *sniper.Sniper {
	if m.sniperLookup == nil {
		return nil
	}
	return m.sniperLookup(id)
}

// HasOpenPosition implements the matcher's duplicate-buy guard. Open and
// selling both count.
func (m *Manager) HasOpenPosition(sniperID string, mint solana.Pubkey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byPair[pairKey(sniperID, mint)]
	return ok
}

// Get returns a position by ID, or nil.
func (m *Manager) Get(id string) *Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[id]
}

// Restore loads previously persisted positions into the manager, typically
// open positions reloaded at startup before the poller runs. Closed
// positions are skipped.
func (m *Manager) Restore(positions []*Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	restored := 0
	for _, p := range positions {
		if p == nil || p.Status == StatusClosed {
			continue
		}
		m.positions[p.ID] = p
		m.locks[p.ID] = &sync.Mutex{}
		m.byPair[pairKey(p.SniperID, p.TokenMint)] = p.ID
		restored++
	}
	if restored > 0 {
		log.Info().Int("positions", restored).Msg("Open positions restored")
	}
}

// List returns all tracked positions.
func (m *Manager) List() []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// Open returns positions that are not yet closed.
func (m *Manager) Open() []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Position
	for _, p := range m.positions {
		if p.Status != StatusClosed {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) lockFor(positionID string) *sync.Mutex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locks[positionID]
}

// setStatus publishes a status change. The poller, Open, and Stats read
// status under m.mu while the per-position lock serializes ticks, so every
// write takes m.mu as well. Callers hold the position lock.
func (m *Manager) setStatus(p *Position, s Status) {
	m.mu.Lock()
	p.Status = s
	m.mu.Unlock()
}

// pollLoop fetches prices for every held mint and runs tick evaluation.
func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	interval := time.Duration(m.config.PriceCheckIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) {
	mints := make(map[solana.Pubkey]struct{})
	m.mu.RLock()
	for _, p := range m.positions {
		if p.Status == StatusOpen {
			mints[p.TokenMint] = struct{}{}
		}
	}
	m.mu.RUnlock()

	for mint := range mints {
		price, err := m.prices.PriceUSD(ctx, mint)
		if err != nil {
			log.Debug().Err(err).Str("mint", string(mint)).Msg("Price lookup failed")
			continue
		}
		if m.events != nil {
			m.events.PriceUpdate(mint, price)
		}
		m.UpdatePrice(ctx, mint, price)
	}
}

// UpdatePrice runs one tick for every open position holding the mint.
func (m *Manager) UpdatePrice(ctx context.Context, mint solana.Pubkey, price decimal.Decimal) {
	m.mu.RLock()
	var ids []string
	for id, p := range m.positions {
		if p.TokenMint == mint && p.Status == StatusOpen {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.tick(ctx, id, price)
	}
}

func (m *Manager) tick(ctx context.Context, positionID string, price decimal.Decimal) {
	lock := m.lockFor(positionID)
	if lock == nil {
		return
	}
	lock.Lock()

	p := m.Get(positionID)
	if p == nil || p.Status != StatusOpen {
		lock.Unlock()
		return
	}

	m.ticks.Add(1)
	p.applyTick(price)

	decision := evaluateExits(p)
	if !decision.Sell {
		lock.Unlock()
		return
	}

	m.setStatus(p, StatusSelling)
	p.ExitReason = decision.Reason
	lock.Unlock()

	// Sell off the tick path; SELLING excludes the position from further
	// evaluation until resolved.
	go m.executeExit(ctx, p, decision)
}

// executeExit runs the sell and applies the outcome under the position lock.
func (m *Manager) executeExit(ctx context.Context, p *Position, decision ExitDecision) {
	log.Info().
		Str("position_id", p.ID).
		Str("mint", string(p.TokenMint)).
		Str("reason", decision.Reason).
		Str("amount", decision.Amount.String()).
		Bool("full_close", decision.FullClose).
		Float64("pnl_pct", p.PnLPct).
		Msg("Exit triggered")

	sn, err := m.seller.ExecuteSell(ctx, executor.SellRequest{
		PositionID:          p.ID,
		SniperID:            p.SniperID,
		UserID:              p.UserID,
		WalletID:            p.WalletID,
		TokenMint:           p.TokenMint,
		DEX:                 p.DEX,
		AmountTokens:        decision.Amount,
		SlippageBps:         p.Plan.SlippageBps,
		PriorityFeeLamports: p.Plan.PriorityFeeLamports,
		Protected:           p.Plan.Protected,
		Reason:              decision.Reason,
	})

	lock := m.lockFor(p.ID)
	lock.Lock()
	defer lock.Unlock()

	if err != nil {
		// Back to open; the next tick re-evaluates.
		m.sellFailures.Add(1)
		m.setStatus(p, StatusOpen)
		p.ExitReason = ""
		log.Warn().Err(err).Str("position_id", p.ID).Msg("Exit sell failed, position stays open")
		return
	}

	p.SellSignature = sn.Signature
	p.ExitSOL = p.ExitSOL.Add(sn.AmountOut)

	if decision.FullClose {
		m.closeLocked(p)
		return
	}

	// Partial: reduce holdings, mark the one-shot, back to open.
	p.CurrentTokenAmount = p.CurrentTokenAmount.Sub(decision.Amount)
	if decision.Reason == ExitCoverInitials {
		p.CoverInitialsDone = true
	}
	m.setStatus(p, StatusOpen)
	p.ExitReason = ""
	m.partialSells.Add(1)

	log.Info().
		Str("position_id", p.ID).
		Str("remaining_tokens", p.CurrentTokenAmount.String()).
		Str("realized_sol", p.ExitSOL.String()).
		Msg("Partial exit completed")

	if m.events != nil {
		m.events.PositionUpdated(p)
	}
}

// closeLocked finalizes a fully-sold position. Caller holds the position lock.
func (m *Manager) closeLocked(p *Position) {
	now := time.Now()
	p.ClosedAt = &now
	p.CurrentTokenAmount = decimal.Zero
	p.PnLSOL = p.ExitSOL.Sub(p.EntryAmountSOL)

	m.mu.Lock()
	p.Status = StatusClosed
	delete(m.byPair, pairKey(p.SniperID, p.TokenMint))
	m.mu.Unlock()

	m.closed.Add(1)
	log.Info().
		Str("position_id", p.ID).
		Str("reason", p.ExitReason).
		Str("pnl_sol", p.PnLSOL.String()).
		Float64("pnl_pct", p.PnLPct).
		Msg("Position CLOSED")

	if m.events != nil {
		m.events.PositionClosed(p)
	}
}

// CloseManual sells the full position immediately. Manual outranks every
// automatic trigger; a close on a non-open position is an invariant
// violation, dropped with a warning.
func (m *Manager) CloseManual(ctx context.Context, positionID string) error {
	lock := m.lockFor(positionID)
	if lock == nil {
		return fmt.Errorf("position %s not found", positionID)
	}
	lock.Lock()

	p := m.Get(positionID)
	if p == nil {
		lock.Unlock()
		return fmt.Errorf("position %s not found", positionID)
	}
	if p.Status != StatusOpen {
		lock.Unlock()
		log.Warn().
			Str("position_id", positionID).
			Str("status", string(p.Status)).
			Msg("Manual close on non-open position dropped")
		return fmt.Errorf("position %s is %s, not open", positionID, p.Status)
	}

	m.setStatus(p, StatusSelling)
	p.ExitReason = ExitManual
	amount := p.CurrentTokenAmount
	lock.Unlock()

	m.executeExit(ctx, p, ExitDecision{
		Sell:      true,
		Amount:    amount,
		Reason:    ExitManual,
		FullClose: true,
	})

	lock.Lock()
	completed := p.Status == StatusClosed
	lock.Unlock()
	if !completed {
		return fmt.Errorf("manual close of %s did not complete", positionID)
	}
	return nil
}

// ManagerStats is a snapshot of manager counters.
type ManagerStats struct {
	Tracked      int   `json:"tracked"`
	Open         int   `json:"open"`
	Opened       int64 `json:"opened"`
	Closed       int64 `json:"closed"`
	PartialSells int64 `json:"partialSells"`
	Ticks        int64 `json:"ticks"`
	SellFailures int64 `json:"sellFailures"`
}

// Stats returns current counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	tracked := len(m.positions)
	open := 0
	for _, p := range m.positions {
		if p.Status != StatusClosed {
			open++
		}
	}
	m.mu.RUnlock()
	return ManagerStats{
		Tracked:      tracked,
		Open:         open,
		Opened:       m.opened.Load(),
		Closed:       m.closed.Load(),
		PartialSells: m.partialSells.Load(),
		Ticks:        m.ticks.Load(),
		SellFailures: m.sellFailures.Load(),
	}
}
