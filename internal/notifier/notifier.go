// Package notifier turns stage callbacks into durable, fanned-out
// lifecycle events. Ordering contract: the activity-log write happens
// strictly before the Kafka publish and the WebSocket fan-out, so a crash
// between the two is recoverable by replaying the log. price:update is
// volatile and skips persistence entirely.
package notifier

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gradient-trading/gradient/internal/bus"
	"github.com/gradient-trading/gradient/internal/executor"
	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/gradient-trading/gradient/internal/position"
	"github.com/gradient-trading/gradient/internal/sniper"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/gradient-trading/gradient/internal/store"
)

// ActivityLog is the durable sink for lifecycle events.
type ActivityLog interface {
	WriteActivity(ctx context.Context, row store.ActivityRow) error
	WriteMigration(ctx context.Context, row store.MigrationRow) error
}

// Broadcaster pushes events to connected WebSocket clients.
type Broadcaster interface {
	// SendToUser delivers to one user's channels.
	SendToUser(userID string, event bus.EventType, payload any)
	// Broadcast delivers to the admin channel and public subscribers.
	Broadcast(event bus.EventType, payload any)
}

const publishTimeout = 5 * time.Second

// Notifier implements executor.Events and position.Events. Any of the
// three sinks may be nil; a nil sink is skipped.
type Notifier struct {
	producer bus.Producer
	activity ActivityLog
	streams  Broadcaster

	instance      string
	schemaVersion string

	published   atomic.Int64
	persistErrs atomic.Int64
	publishErrs atomic.Int64
}

// New creates a notifier publishing under the given producer identity.
func New(producer bus.Producer, activity ActivityLog, streams Broadcaster, instance string) *Notifier {
	if instance == "" {
		instance = "gradient-core"
	}
	return &Notifier{
		producer:      producer,
		activity:      activity,
		streams:       streams,
		instance:      instance,
		schemaVersion: "1.0.0",
	}
}

func (n *Notifier) base(typ bus.EventType) bus.BaseEvent {
	return bus.NewBaseEvent(typ, n.instance, n.schemaVersion)
}

// ---------- migration events ----------

// MigrationDetected publishes a detected migration and archives it.
func (n *Notifier) MigrationDetected(ev *feed.MigrationEvent) {
	event := bus.MigrationDetected{
		BaseEvent:          n.base(bus.EventMigrationDetected),
		TokenMint:          string(ev.TokenMint),
		PoolAddress:        string(ev.PoolAddress),
		DEX:                ev.DEX,
		TokenName:          ev.Name,
		TokenSymbol:        ev.Symbol,
		MigratedAt:         ev.LaunchedAt,
		DetectionLatencyMs: ev.DetectionLatencyMs,
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if n.activity != nil {
		row := store.MigrationRow{
			TokenMint:          string(ev.TokenMint),
			PoolAddress:        string(ev.PoolAddress),
			DEX:                ev.DEX,
			TokenName:          ev.Name,
			TokenSymbol:        ev.Symbol,
			MigratedAt:         ev.LaunchedAt,
			DetectedAt:         ev.DetectedAt,
			DetectionLatencyMs: ev.DetectionLatencyMs,
		}
		e := ev.Enrichment
		if e.VolumeUSD24h != nil {
			row.VolumeUSD24h = e.VolumeUSD24h.InexactFloat64()
		}
		if e.Txns24h != nil {
			row.Txns24h = *e.Txns24h
		}
		if e.HolderCount != nil {
			row.HolderCount = *e.HolderCount
		}
		if e.MarketCapUSD != nil {
			row.MarketCapUSD = e.MarketCapUSD.InexactFloat64()
		}
		if e.PriceUSD != nil {
			row.PriceUSD = e.PriceUSD.InexactFloat64()
		}
		if e.Buys24h != nil && e.Sells24h != nil && *e.Sells24h > 0 {
			row.BuySellRatio = float64(*e.Buys24h) / float64(*e.Sells24h)
		}
		if err := n.activity.WriteMigration(ctx, row); err != nil {
			n.persistErrs.Add(1)
			log.Error().Err(err).Str("mint", string(ev.TokenMint)).Msg("archive migration failed")
		}
	}

	n.emit(ctx, event.BaseEvent, string(ev.TokenMint), "", "", "", event)
}

// MigrationMatched satisfies sniper.MatchFunc.
func (n *Notifier) MigrationMatched(s *sniper.Sniper, ev *feed.MigrationEvent) {
	event := bus.MigrationMatched{
		BaseEvent: n.base(bus.EventMigrationMatched),
		SniperID:  s.ID,
		UserID:    s.UserID,
		TokenMint: string(ev.TokenMint),
		DEX:       ev.DEX,
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	n.emit(ctx, event.BaseEvent, string(ev.TokenMint), s.UserID, s.ID, "", event)
}

// SniperPaused notifies the owner that a sniper was auto-paused after
// repeated failures. Stream-only: the pause itself is persisted with the
// sniper row.
func (n *Notifier) SniperPaused(s *sniper.Sniper) {
	if n.streams == nil {
		return
	}
	n.streams.SendToUser(s.UserID, bus.EventSnipeFailed, map[string]string{
		"sniper_id": s.ID,
		"reason":    "auto-paused after repeated failures",
	})
}

// ---------- executor.Events ----------

// SnipeStarted marks the executor accepting a buy, before the first
// submission attempt.
func (n *Notifier) SnipeStarted(sn *executor.Snipe) {
	event := n.snipeEvent(bus.EventSnipeStarted, sn)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	n.emit(ctx, event.BaseEvent, event.TokenMint, sn.UserID, sn.SniperID, "", event)
}

// SnipeSubmitted fires once per snipe, when the transaction first reaches
// the network.
func (n *Notifier) SnipeSubmitted(sn *executor.Snipe) {
	event := n.snipeEvent(bus.EventSnipeSubmitted, sn)
	event.Attempt = sn.Attempts
	event.Signature = string(sn.Signature)
	event.BundleID = sn.BundleID

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	n.emit(ctx, event.BaseEvent, event.TokenMint, sn.UserID, sn.SniperID, "", event)
}

func (n *Notifier) SnipeRetrying(sn *executor.Snipe, attempt, maxAttempts int) {
	event := n.snipeEvent(bus.EventSnipeRetrying, sn)
	event.Attempt = attempt
	event.MaxAttempts = maxAttempts
	event.Error = sn.Error

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	n.emit(ctx, event.BaseEvent, event.TokenMint, sn.UserID, sn.SniperID, "", event)
}

func (n *Notifier) SnipeSucceeded(sn *executor.Snipe) {
	event := n.snipeEvent(bus.EventSnipeSuccess, sn)
	event.AmountOutTokens = sn.AmountOut
	event.EntryPriceUSD = sn.EntryPriceUSD
	event.Signature = string(sn.Signature)
	event.BundleID = sn.BundleID
	event.PlatformFeeSOL = sn.PlatformFeeSOL
	event.NetworkFeeSOL = sn.NetworkFeeSOL

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	n.emit(ctx, event.BaseEvent, event.TokenMint, sn.UserID, sn.SniperID, "", event)
}

func (n *Notifier) SnipeFailed(sn *executor.Snipe, reason string) {
	event := n.snipeEvent(bus.EventSnipeFailed, sn)
	event.Attempt = sn.Attempts
	event.Error = reason
	event.NetworkFeeSOL = sn.NetworkFeeSOL

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	n.emit(ctx, event.BaseEvent, event.TokenMint, sn.UserID, sn.SniperID, "", event)
}

func (n *Notifier) snipeEvent(typ bus.EventType, sn *executor.Snipe) bus.SnipeEvent {
	return bus.SnipeEvent{
		BaseEvent:   n.base(typ),
		SnipeID:     sn.ID,
		SniperID:    sn.SniperID,
		UserID:      sn.UserID,
		TokenMint:   string(sn.TokenMint),
		Side:        sn.Side,
		DEX:         sn.DEX,
		AmountInSOL: sn.AmountIn,
	}
}

// ---------- position.Events ----------

func (n *Notifier) PositionOpened(p *position.Position) {
	n.positionEmit(bus.EventPositionOpened, p)
}

func (n *Notifier) PositionUpdated(p *position.Position) {
	n.positionEmit(bus.EventPositionUpdated, p)
}

// PositionClosed maps the exit reason to its specific lifecycle event
// (position:take_profit, position:stop_loss, ...).
func (n *Notifier) PositionClosed(p *position.Position) {
	n.positionEmit(bus.ExitEventType(p.ExitReason), p)
}

func (n *Notifier) positionEmit(typ bus.EventType, p *position.Position) {
	event := bus.PositionEvent{
		BaseEvent:          n.base(typ),
		PositionID:         p.ID,
		SniperID:           p.SniperID,
		UserID:             p.UserID,
		TokenMint:          string(p.TokenMint),
		Status:             string(p.Status),
		EntryAmountSOL:     p.EntryAmountSOL,
		EntryPriceUSD:      p.EntryPriceUSD,
		EntryMarketCapUSD:  p.EntryMarketCapUSD,
		CurrentTokenAmount: p.CurrentTokenAmount,
		CurrentPriceUSD:    p.CurrentPriceUSD,
		PnLPct:             p.PnLPct,
		PnLSOL:             p.PnLSOL,
		ExitSOL:            p.ExitSOL,
		ExitReason:         p.ExitReason,
	}
	if p.ClosedAt != nil {
		event.HoldDurationMs = p.ClosedAt.Sub(p.OpenedAt).Milliseconds()
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	n.emit(ctx, event.BaseEvent, event.TokenMint, p.UserID, p.SniperID, p.ID, event)
}

// PriceUpdate streams the latest poll for a tracked token. Fire-and-forget:
// async produce, no activity log.
func (n *Notifier) PriceUpdate(mint solana.Pubkey, price decimal.Decimal) {
	event := bus.PriceUpdate{
		BaseEvent: n.base(bus.EventPriceUpdate),
		TokenMint: string(mint),
		PriceUSD:  price,
	}

	if n.producer != nil {
		data, err := json.Marshal(event)
		if err == nil {
			_ = n.producer.ProduceAsync(context.Background(), bus.Topics.Prices(), []byte(mint), data)
		}
	}
	if n.streams != nil {
		n.streams.Broadcast(bus.EventPriceUpdate, event)
	}
	n.published.Add(1)
}

// ---------- plumbing ----------

// emit runs persist-then-publish-then-fanout for one durable event.
// A failed activity write is logged and counted but does not suppress the
// live notification: the underlying state change already happened.
func (n *Notifier) emit(ctx context.Context, base bus.BaseEvent, tokenMint, userID, sniperID, positionID string, event any) {
	if n.activity != nil && base.Type.Durable() {
		payload, err := json.Marshal(event)
		if err == nil {
			err = n.activity.WriteActivity(ctx, store.ActivityRow{
				EventID:     base.EventID,
				Timestamp:   base.Timestamp,
				EventType:   string(base.Type),
				UserID:      userID,
				SniperID:    sniperID,
				PositionID:  positionID,
				TokenMint:   tokenMint,
				PayloadJSON: string(payload),
			})
		}
		if err != nil {
			n.persistErrs.Add(1)
			log.Error().Err(err).
				Str("event_type", string(base.Type)).
				Str("mint", tokenMint).
				Msg("activity log write failed")
		}
	}

	if n.producer != nil {
		if err := n.producer.PublishEvent(ctx, base.Type, tokenMint, event); err != nil {
			n.publishErrs.Add(1)
			log.Error().Err(err).
				Str("event_type", string(base.Type)).
				Str("mint", tokenMint).
				Msg("event publish failed")
		}
	}

	if n.streams != nil {
		if userID != "" {
			n.streams.SendToUser(userID, base.Type, event)
		} else {
			n.streams.Broadcast(base.Type, event)
		}
	}

	n.published.Add(1)
}

// NotifierStats is a point-in-time snapshot of notifier counters.
type NotifierStats struct {
	Published   int64 `json:"published"`
	PersistErrs int64 `json:"persist_errors"`
	PublishErrs int64 `json:"publish_errors"`
}

// Stats returns a snapshot of notifier counters.
func (n *Notifier) Stats() NotifierStats {
	return NotifierStats{
		Published:   n.published.Load(),
		PersistErrs: n.persistErrs.Load(),
		PublishErrs: n.publishErrs.Load(),
	}
}
