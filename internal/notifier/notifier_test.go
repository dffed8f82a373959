package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradient-trading/gradient/internal/bus"
	"github.com/gradient-trading/gradient/internal/executor"
	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/gradient-trading/gradient/internal/position"
	"github.com/gradient-trading/gradient/internal/store"
)

// orderLog records persist and publish calls in arrival order.
type orderLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *orderLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *orderLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type stubActivity struct {
	log        *orderLog
	activities []store.ActivityRow
	migrations []store.MigrationRow
	mu         sync.Mutex
}

func (a *stubActivity) WriteActivity(_ context.Context, row store.ActivityRow) error {
	a.mu.Lock()
	a.activities = append(a.activities, row)
	a.mu.Unlock()
	a.log.add("persist:" + row.EventType)
	return nil
}

func (a *stubActivity) WriteMigration(_ context.Context, row store.MigrationRow) error {
	a.mu.Lock()
	a.migrations = append(a.migrations, row)
	a.mu.Unlock()
	a.log.add("persist:migration-archive")
	return nil
}

// orderedProducer wraps the stub producer to record publish ordering.
type orderedProducer struct {
	*bus.StubProducer
	log *orderLog
}

func (p *orderedProducer) PublishEvent(ctx context.Context, typ bus.EventType, tokenMint string, event any) error {
	p.log.add("publish:" + string(typ))
	return p.StubProducer.PublishEvent(ctx, typ, tokenMint, event)
}

type stubBroadcaster struct {
	mu        sync.Mutex
	toUser    map[string][]bus.EventType
	broadcast []bus.EventType
}

func newStubBroadcaster() *stubBroadcaster {
	return &stubBroadcaster{toUser: make(map[string][]bus.EventType)}
}

func (b *stubBroadcaster) SendToUser(userID string, event bus.EventType, _ any) {
	b.mu.Lock()
	b.toUser[userID] = append(b.toUser[userID], event)
	b.mu.Unlock()
}

func (b *stubBroadcaster) Broadcast(event bus.EventType, _ any) {
	b.mu.Lock()
	b.broadcast = append(b.broadcast, event)
	b.mu.Unlock()
}

func testSnipe() *executor.Snipe {
	return &executor.Snipe{
		ID:        "snipe-1",
		SniperID:  "sniper-1",
		UserID:    "user-1",
		Side:      "buy",
		TokenMint: "MintAAA",
		DEX:       "pumpswap",
		AmountIn:  decimal.NewFromFloat(0.1),
	}
}

func TestSnipeSucceeded_PersistsBeforePublish(t *testing.T) {
	log := &orderLog{}
	activity := &stubActivity{log: log}
	producer := &orderedProducer{StubProducer: bus.NewStubProducer(), log: log}
	streams := newStubBroadcaster()

	n := New(producer, activity, streams, "test")
	n.SnipeSucceeded(testSnipe())

	calls := log.all()
	require.Equal(t, []string{"persist:snipe:success", "publish:snipe:success"}, calls)

	require.Len(t, producer.Records, 1)
	assert.Equal(t, "grad.snipes", producer.Records[0].Topic)
	assert.Equal(t, "MintAAA", producer.Records[0].Key)

	assert.Equal(t, []bus.EventType{bus.EventSnipeSuccess}, streams.toUser["user-1"])
}

func TestPriceUpdate_BypassesPersistence(t *testing.T) {
	log := &orderLog{}
	activity := &stubActivity{log: log}
	producer := bus.NewStubProducer()
	streams := newStubBroadcaster()

	n := New(producer, activity, streams, "test")
	n.PriceUpdate("MintAAA", decimal.NewFromFloat(0.00014))

	assert.Empty(t, activity.activities, "price updates are volatile, never persisted")
	require.Len(t, producer.Records, 1)
	assert.Equal(t, "grad.prices", producer.Records[0].Topic)
	assert.Equal(t, []bus.EventType{bus.EventPriceUpdate}, streams.broadcast)
}

func TestPositionClosed_MapsExitReasonToEventType(t *testing.T) {
	producer := bus.NewStubProducer()
	streams := newStubBroadcaster()
	n := New(producer, nil, streams, "test")

	closedAt := time.Now()
	p := &position.Position{
		ID:         "pos-1",
		SniperID:   "sniper-1",
		UserID:     "user-1",
		TokenMint:  "MintAAA",
		Status:     position.StatusClosed,
		ExitReason: position.ExitTakeProfit,
		OpenedAt:   closedAt.Add(-3 * time.Minute),
		ClosedAt:   &closedAt,
	}
	n.PositionClosed(p)

	require.Len(t, producer.Records, 1)
	assert.Equal(t, "grad.positions", producer.Records[0].Topic)

	var got bus.PositionEvent
	require.NoError(t, json.Unmarshal(producer.Records[0].Value, &got))
	assert.Equal(t, bus.EventPositionTakeProfit, got.Type)
	assert.Equal(t, int64(180_000), got.HoldDurationMs)

	assert.Equal(t, []bus.EventType{bus.EventPositionTakeProfit}, streams.toUser["user-1"])
}

func TestMigrationDetected_ArchivesWithEnrichmentSnapshot(t *testing.T) {
	log := &orderLog{}
	activity := &stubActivity{log: log}
	producer := bus.NewStubProducer()

	n := New(producer, activity, nil, "test")

	vol := decimal.NewFromInt(25_000)
	buys, sells := int64(300), int64(100)
	holders := int64(150)
	ev := &feed.MigrationEvent{
		TokenMint:          "MintAAA",
		PoolAddress:        "PoolAAA",
		DEX:                "pumpswap",
		DetectedAt:         time.Now(),
		DetectionLatencyMs: 450,
		Enrichment: feed.Enrichment{
			VolumeUSD24h: &vol,
			Buys24h:      &buys,
			Sells24h:     &sells,
			HolderCount:  &holders,
		},
	}
	n.MigrationDetected(ev)

	require.Len(t, activity.migrations, 1)
	row := activity.migrations[0]
	assert.Equal(t, "MintAAA", row.TokenMint)
	assert.InDelta(t, 25_000.0, row.VolumeUSD24h, 0.001)
	assert.InDelta(t, 3.0, row.BuySellRatio, 0.001)
	assert.Equal(t, int64(150), row.HolderCount)

	// migration:detected also goes into the activity log itself.
	require.Len(t, activity.activities, 1)
	assert.Equal(t, "migration:detected", activity.activities[0].EventType)

	require.Len(t, producer.Records, 1)
	assert.Equal(t, "grad.migrations", producer.Records[0].Topic)
}

func TestSnipeStarted_DurableAndUserScoped(t *testing.T) {
	log := &orderLog{}
	activity := &stubActivity{log: log}
	producer := bus.NewStubProducer()
	streams := newStubBroadcaster()
	n := New(producer, activity, streams, "test")

	n.SnipeStarted(testSnipe())

	require.Len(t, activity.activities, 1)
	assert.Equal(t, "snipe:started", activity.activities[0].EventType)

	recs := producer.OfType(bus.EventSnipeStarted)
	require.Len(t, recs, 1)
	assert.Equal(t, "grad.snipes", recs[0].Topic)
	assert.Equal(t, "MintAAA", recs[0].Key)

	var got bus.SnipeEvent
	require.NoError(t, json.Unmarshal(recs[0].Value, &got))
	assert.Equal(t, bus.EventSnipeStarted, got.Type)
	assert.Equal(t, "buy", got.Side)
	assert.Equal(t, []bus.EventType{bus.EventSnipeStarted}, streams.toUser["user-1"])
}

func TestSnipeSubmitted_CarriesSignature(t *testing.T) {
	log := &orderLog{}
	activity := &stubActivity{log: log}
	producer := bus.NewStubProducer()
	streams := newStubBroadcaster()
	n := New(producer, activity, streams, "test")

	sn := testSnipe()
	sn.Attempts = 1
	sn.Signature = "SIG-0001"
	n.SnipeSubmitted(sn)

	require.Len(t, activity.activities, 1)
	assert.Equal(t, "snipe:submitted", activity.activities[0].EventType)

	recs := producer.OfType(bus.EventSnipeSubmitted)
	require.Len(t, recs, 1)
	var got bus.SnipeEvent
	require.NoError(t, json.Unmarshal(recs[0].Value, &got))
	assert.Equal(t, bus.EventSnipeSubmitted, got.Type)
	assert.Equal(t, "SIG-0001", got.Signature)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, []bus.EventType{bus.EventSnipeSubmitted}, streams.toUser["user-1"])
}

func TestSnipeRetrying_CarriesAttempts(t *testing.T) {
	producer := bus.NewStubProducer()
	n := New(producer, nil, nil, "test")

	sn := testSnipe()
	sn.Attempts = 2
	n.SnipeRetrying(sn, 2, 3)

	require.Len(t, producer.Records, 1)
	var got bus.SnipeEvent
	require.NoError(t, json.Unmarshal(producer.Records[0].Value, &got))
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, bus.EventSnipeRetrying, got.Type)
}

func TestNilSinksAreSkipped(t *testing.T) {
	n := New(nil, nil, nil, "test")

	// None of these should panic.
	n.SnipeFailed(testSnipe(), "slippage exceeded")
	n.PriceUpdate("MintAAA", decimal.NewFromFloat(0.0001))
	n.PositionOpened(&position.Position{ID: "pos-1", TokenMint: "MintAAA"})

	assert.Equal(t, int64(3), n.Stats().Published)
}
