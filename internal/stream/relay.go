package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/gradient-trading/gradient/internal/bus"
)

// Sink is where relayed events land. Satisfied by Hub.
type Sink interface {
	SendToUser(userID string, event bus.EventType, payload any)
	Broadcast(event bus.EventType, payload any)
}

// Relay feeds bus records from other core instances into the local fan-out,
// so clients connected here see lifecycle events no matter which instance
// executed them. Events this instance produced already went out through the
// notifier and are skipped by producer identity.
type Relay struct {
	sink     Sink
	instance string

	forwarded atomic.Int64
	skipped   atomic.Int64
	malformed atomic.Int64
}

// NewRelay creates a relay for the given instance identity.
func NewRelay(sink Sink, instance string) *Relay {
	return &Relay{sink: sink, instance: instance}
}

// relayEnvelope is the slice of every event payload the relay needs for
// routing. Payloads embed BaseEvent, so type and producer sit at the top
// level; user_id is present on user-scoped events.
type relayEnvelope struct {
	Type     bus.EventType `json:"type"`
	Producer string        `json:"producer"`
	UserID   string        `json:"user_id"`
}

// Handle implements bus.MessageHandler. User-scoped events route to their
// owner's channels; the rest broadcast.
func (r *Relay) Handle(_ context.Context, msg bus.Message) error {
	var env relayEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		r.malformed.Add(1)
		return fmt.Errorf("relay decode %s: %w", msg.Topic, err)
	}
	if env.Type == "" {
		env.Type = msg.EventType()
	}
	if env.Type == "" {
		r.malformed.Add(1)
		return fmt.Errorf("relay: record on %s has no event type", msg.Topic)
	}

	if env.Producer == r.instance {
		r.skipped.Add(1)
		return nil
	}

	// Forward the payload as-is; re-marshaling would only churn bytes.
	payload := json.RawMessage(msg.Value)
	if env.UserID != "" {
		r.sink.SendToUser(env.UserID, env.Type, payload)
	} else {
		r.sink.Broadcast(env.Type, payload)
	}
	r.forwarded.Add(1)

	log.Debug().
		Str("event_type", string(env.Type)).
		Str("producer", env.Producer).
		Str("mint", msg.Key).
		Msg("relayed event")
	return nil
}

// RelayStats is a snapshot of relay counters.
type RelayStats struct {
	Forwarded int64 `json:"forwarded"`
	Skipped   int64 `json:"skipped"`
	Malformed int64 `json:"malformed"`
}

// Stats returns current counters.
func (r *Relay) Stats() RelayStats {
	return RelayStats{
		Forwarded: r.forwarded.Load(),
		Skipped:   r.skipped.Load(),
		Malformed: r.malformed.Load(),
	}
}
