package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------- event taxonomy ----------

// EventType identifies a lifecycle event published on the bus.
// The stream layer forwards these verbatim as WebSocket message types.
type EventType string

const (
	EventMigrationDetected EventType = "migration:detected"
	EventMigrationMatched  EventType = "migration:matched"

	EventSnipeStarted   EventType = "snipe:started"
	EventSnipeSubmitted EventType = "snipe:submitted"
	EventSnipeRetrying  EventType = "snipe:retrying"
	EventSnipeSuccess   EventType = "snipe:success"
	EventSnipeFailed    EventType = "snipe:failed"

	EventPositionOpened       EventType = "position:opened"
	EventPositionUpdated      EventType = "position:updated"
	EventPositionTakeProfit   EventType = "position:take_profit"
	EventPositionStopLoss     EventType = "position:stop_loss"
	EventPositionTrailingStop EventType = "position:trailing_stop"
	EventPositionManualSell   EventType = "position:manual_sell"
	EventPositionClosed       EventType = "position:closed"

	EventPriceUpdate EventType = "price:update"
)

// ExitEventType maps a position exit reason to its lifecycle event.
// Unknown reasons fall back to position:closed.
func ExitEventType(reason string) EventType {
	switch reason {
	case "take_profit":
		return EventPositionTakeProfit
	case "stop_loss":
		return EventPositionStopLoss
	case "trailing_stop":
		return EventPositionTrailingStop
	case "manual":
		return EventPositionManualSell
	default:
		return EventPositionClosed
	}
}

// Durable reports whether events of this type are written to the activity
// log before fan-out. price:update is a volatile stream, not an audit record.
func (t EventType) Durable() bool {
	return t != EventPriceUpdate
}

// BaseEvent contains fields common to all events.
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"ts"`
	SchemaVersion string    `json:"schema_version"`
	Producer      string    `json:"producer"`
	TraceID       string    `json:"trace_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
}

// NewBaseEvent creates a new BaseEvent with generated IDs.
func NewBaseEvent(typ EventType, producer, schemaVersion string) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		Type:          typ,
		Timestamp:     time.Now(),
		SchemaVersion: schemaVersion,
		Producer:      producer,
		TraceID:       uuid.New().String()[:16],
	}
}

// --- Migration Events ---

type MigrationDetected struct {
	BaseEvent
	TokenMint          string    `json:"token_mint"`
	PoolAddress        string    `json:"pool_address"`
	DEX                string    `json:"dex"`
	TokenName          string    `json:"token_name,omitempty"`
	TokenSymbol        string    `json:"token_symbol,omitempty"`
	MigratedAt         time.Time `json:"migrated_at"`
	DetectionLatencyMs int64     `json:"detection_latency_ms"`
}

type MigrationMatched struct {
	BaseEvent
	SniperID  string `json:"sniper_id"`
	UserID    string `json:"user_id"`
	TokenMint string `json:"token_mint"`
	DEX       string `json:"dex"`
}

// --- Snipe Events ---

type SnipeEvent struct {
	BaseEvent
	SnipeID         string          `json:"snipe_id"`
	SniperID        string          `json:"sniper_id"`
	UserID          string          `json:"user_id"`
	TokenMint       string          `json:"token_mint"`
	Side            string          `json:"side"` // buy|sell
	DEX             string          `json:"dex,omitempty"`
	AmountInSOL     decimal.Decimal `json:"amount_in_sol"`
	AmountOutTokens decimal.Decimal `json:"amount_out_tokens,omitempty"`
	EntryPriceUSD   decimal.Decimal `json:"entry_price_usd,omitempty"`
	Signature       string          `json:"signature,omitempty"`
	BundleID        string          `json:"bundle_id,omitempty"`
	PlatformFeeSOL  decimal.Decimal `json:"platform_fee_sol,omitempty"`
	NetworkFeeSOL   decimal.Decimal `json:"network_fee_sol,omitempty"`
	Attempt         int             `json:"attempt,omitempty"`
	MaxAttempts     int             `json:"max_attempts,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// --- Position Events ---

type PositionEvent struct {
	BaseEvent
	PositionID         string          `json:"position_id"`
	SniperID           string          `json:"sniper_id"`
	UserID             string          `json:"user_id"`
	TokenMint          string          `json:"token_mint"`
	TokenSymbol        string          `json:"token_symbol,omitempty"`
	Status             string          `json:"status"`
	EntryAmountSOL     decimal.Decimal `json:"entry_amount_sol"`
	EntryPriceUSD      decimal.Decimal `json:"entry_price_usd"`
	EntryMarketCapUSD  decimal.Decimal `json:"entry_market_cap_usd,omitempty"`
	CurrentTokenAmount decimal.Decimal `json:"current_token_amount"`
	CurrentPriceUSD    decimal.Decimal `json:"current_price_usd,omitempty"`
	PnLPct             float64         `json:"pnl_pct"`
	PnLSOL             decimal.Decimal `json:"pnl_sol,omitempty"`
	ExitSOL            decimal.Decimal `json:"exit_sol,omitempty"`
	ExitReason         string          `json:"exit_reason,omitempty"`
	HoldDurationMs     int64           `json:"hold_duration_ms,omitempty"`
}

// --- Price Stream ---

type PriceUpdate struct {
	BaseEvent
	TokenMint string          `json:"token_mint"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
}

// ---------- topic naming ----------

// TopicNaming provides canonical topic names.
// Pattern: grad.<entity>. Partition key is always the token mint, so
// consumers see an order-preserving stream per token.
type TopicNaming struct{}

func (TopicNaming) Migrations() string { return "grad.migrations" }
func (TopicNaming) Snipes() string     { return "grad.snipes" }
func (TopicNaming) Positions() string  { return "grad.positions" }
func (TopicNaming) Prices() string     { return "grad.prices" }
func (TopicNaming) Activity() string   { return "grad.activity" }

// ForType returns the topic an event type is published on.
func (n TopicNaming) ForType(t EventType) string {
	switch t {
	case EventMigrationDetected, EventMigrationMatched:
		return n.Migrations()
	case EventSnipeStarted, EventSnipeSubmitted, EventSnipeRetrying, EventSnipeSuccess, EventSnipeFailed:
		return n.Snipes()
	case EventPriceUpdate:
		return n.Prices()
	default:
		return n.Positions()
	}
}

// Topics is the global topic naming instance.
var Topics = TopicNaming{}

// TopicRetention maps topics to their retention in hours.
var TopicRetention = map[string]int{
	"grad.migrations": 720,
	"grad.snipes":     2160,
	"grad.positions":  2160,
	"grad.prices":     24,
	"grad.activity":   8760,
}

// AllTopics returns every topic for provisioning.
func AllTopics() []string {
	return []string{
		Topics.Migrations(),
		Topics.Snipes(),
		Topics.Positions(),
		Topics.Prices(),
		Topics.Activity(),
	}
}

// StreamTopics returns the topics a follower instance tails to mirror
// another core's live event stream. Activity is an archive topic, not a
// live one.
func StreamTopics() []string {
	return []string{
		Topics.Migrations(),
		Topics.Snipes(),
		Topics.Positions(),
		Topics.Prices(),
	}
}

// UserChannel returns the per-user stream channel name used by the
// WebSocket fan-out layer.
func UserChannel(userID string) string {
	return fmt.Sprintf("user.%s", userID)
}
