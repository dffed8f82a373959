package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradient-trading/gradient/internal/bus"
)

// recordingSink captures relayed deliveries.
type recordingSink struct {
	mu        sync.Mutex
	toUser    map[string][]bus.EventType
	broadcast []bus.EventType
}

func newRecordingSink() *recordingSink {
	return &recordingSink{toUser: make(map[string][]bus.EventType)}
}

func (s *recordingSink) SendToUser(userID string, event bus.EventType, _ any) {
	s.mu.Lock()
	s.toUser[userID] = append(s.toUser[userID], event)
	s.mu.Unlock()
}

func (s *recordingSink) Broadcast(event bus.EventType, _ any) {
	s.mu.Lock()
	s.broadcast = append(s.broadcast, event)
	s.mu.Unlock()
}

func busRecord(t *testing.T, typ bus.EventType, mint string, event any) bus.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return bus.Message{
		Topic:   bus.Topics.ForType(typ),
		Key:     mint,
		Value:   data,
		Headers: map[string]string{"event_type": string(typ)},
	}
}

func TestRelay_UserEventsRouteToOwner(t *testing.T) {
	sink := newRecordingSink()
	relay := NewRelay(sink, "core-b")

	ev := bus.SnipeEvent{
		BaseEvent:   bus.NewBaseEvent(bus.EventSnipeSuccess, "core-a", "1.0.0"),
		SnipeID:     "snipe-1",
		SniperID:    "sniper-1",
		UserID:      "user-1",
		TokenMint:   "MintAAA",
		Side:        "buy",
		AmountInSOL: decimal.NewFromFloat(0.1),
	}
	require.NoError(t, relay.Handle(context.Background(), busRecord(t, ev.Type, ev.TokenMint, ev)))

	assert.Equal(t, []bus.EventType{bus.EventSnipeSuccess}, sink.toUser["user-1"])
	assert.Empty(t, sink.broadcast)
	assert.Equal(t, int64(1), relay.Stats().Forwarded)
}

func TestRelay_UserlessEventsBroadcast(t *testing.T) {
	sink := newRecordingSink()
	relay := NewRelay(sink, "core-b")

	detected := bus.MigrationDetected{
		BaseEvent: bus.NewBaseEvent(bus.EventMigrationDetected, "core-a", "1.0.0"),
		TokenMint: "MintBBB",
		DEX:       "raydium",
	}
	require.NoError(t, relay.Handle(context.Background(), busRecord(t, detected.Type, detected.TokenMint, detected)))

	price := bus.PriceUpdate{
		BaseEvent: bus.NewBaseEvent(bus.EventPriceUpdate, "core-a", "1.0.0"),
		TokenMint: "MintBBB",
		PriceUSD:  decimal.NewFromFloat(0.0002),
	}
	require.NoError(t, relay.Handle(context.Background(), busRecord(t, price.Type, price.TokenMint, price)))

	assert.Equal(t, []bus.EventType{bus.EventMigrationDetected, bus.EventPriceUpdate}, sink.broadcast)
	assert.Empty(t, sink.toUser)
}

func TestRelay_SkipsOwnEvents(t *testing.T) {
	sink := newRecordingSink()
	relay := NewRelay(sink, "core-a")

	ev := bus.MigrationDetected{
		BaseEvent: bus.NewBaseEvent(bus.EventMigrationDetected, "core-a", "1.0.0"),
		TokenMint: "MintCCC",
	}
	require.NoError(t, relay.Handle(context.Background(), busRecord(t, ev.Type, ev.TokenMint, ev)))

	assert.Empty(t, sink.broadcast)
	assert.Equal(t, int64(1), relay.Stats().Skipped)
	assert.Equal(t, int64(0), relay.Stats().Forwarded)
}

func TestRelay_MalformedRecordReturnsError(t *testing.T) {
	sink := newRecordingSink()
	relay := NewRelay(sink, "core-b")

	err := relay.Handle(context.Background(), bus.Message{
		Topic: bus.Topics.Migrations(),
		Value: []byte("{not json"),
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), relay.Stats().Malformed)
	assert.Empty(t, sink.broadcast)
}
