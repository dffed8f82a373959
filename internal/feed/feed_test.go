package feed

import (
	"context"
	"testing"
	"time"

	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func collectEvents(t *testing.T, ch <-chan MigrationEvent, n int, timeout time.Duration) []MigrationEvent {
	t.Helper()
	var events []MigrationEvent
	deadline := time.After(timeout)
	for len(events) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
	return events
}

func TestFeed_EmitsOnePerMint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewStubSource(SourcePumpPortal)
	f := New(DefaultConfig(), src)

	ch, err := f.Start(ctx)
	require.NoError(t, err)

	src.Emit(RawEvent{TokenMint: "MintA", PoolAddress: "PoolA", DEX: "pumpswap"})
	src.Emit(RawEvent{TokenMint: "MintB", PoolAddress: "PoolB", DEX: "pumpswap"})

	events := collectEvents(t, ch, 2, time.Second)
	require.Len(t, events, 2)
	assert.Equal(t, solana.Pubkey("MintA"), events[0].TokenMint)
	assert.Equal(t, solana.Pubkey("MintB"), events[1].TokenMint)
}

func TestFeed_DedupAcrossSources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fast := NewStubSource(SourcePumpPortal)
	slow := NewStubSource(SourceRaydiumWS)
	f := New(DefaultConfig(), fast, slow)

	ch, err := f.Start(ctx)
	require.NoError(t, err)

	fast.Emit(RawEvent{TokenMint: "MintA", PoolAddress: "PoolA"})
	events := collectEvents(t, ch, 1, time.Second)
	require.Len(t, events, 1)
	assert.Equal(t, SourcePumpPortal, events[0].Source)

	// Later duplicate from the second source is suppressed.
	slow.Emit(RawEvent{TokenMint: "MintA", PoolAddress: "PoolA"})
	extra := collectEvents(t, ch, 1, 200*time.Millisecond)
	assert.Empty(t, extra)

	assert.Equal(t, int64(1), f.Stats().Detections)
	assert.Equal(t, int64(1), f.Stats().Duplicates)
}

func TestFeed_RepeatedDuplicatesStillSingleEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewStubSource(SourcePumpPortal)
	f := New(DefaultConfig(), src)

	ch, err := f.Start(ctx)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		src.Emit(RawEvent{TokenMint: "MintA"})
	}

	events := collectEvents(t, ch, 2, 300*time.Millisecond)
	assert.Len(t, events, 1)
	assert.Equal(t, int64(9), f.Stats().Duplicates)
}

func TestFeed_DetectionLatency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewStubSource(SourcePumpPortal)
	f := New(DefaultConfig(), src)

	ch, err := f.Start(ctx)
	require.NoError(t, err)

	observed := time.Now().Add(-150 * time.Millisecond)
	src.Emit(RawEvent{TokenMint: "MintA", ObservedAt: observed, ReceivedAt: time.Now()})

	events := collectEvents(t, ch, 1, time.Second)
	require.Len(t, events, 1)
	assert.GreaterOrEqual(t, events[0].DetectionLatencyMs, int64(100))
}

func TestSeenSet_BoundedEviction(t *testing.T) {
	s := newSeenSet(3)
	assert.False(t, s.Add("a"))
	assert.False(t, s.Add("b"))
	assert.False(t, s.Add("c"))
	assert.True(t, s.Add("a")) // refresh

	assert.False(t, s.Add("d")) // evicts b (least recent)
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Contains("b"))
	assert.True(t, s.Contains("a"))
	assert.True(t, s.Contains("d"))
}

func TestDecodePumpPortal(t *testing.T) {
	t.Run("migration payload", func(t *testing.T) {
		data := []byte(`{"txType":"migrate","mint":"MintA","pool":"PoolA","signature":"sig1","name":"Token A","symbol":"TKA"}`)
		ev, err := decodePumpPortal(data)
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, solana.Pubkey("MintA"), ev.TokenMint)
		assert.Equal(t, "pumpswap", ev.DEX)
		assert.Equal(t, "TKA", ev.Symbol)
	})

	t.Run("non-migration payload skipped", func(t *testing.T) {
		data := []byte(`{"txType":"create","mint":"MintA"}`)
		ev, err := decodePumpPortal(data)
		require.NoError(t, err)
		assert.Nil(t, ev)
	})
}

func TestDecodeRaydiumLogs(t *testing.T) {
	data := []byte(`{
		"method": "logsNotification",
		"params": {
			"result": {
				"value": {
					"signature": "sig2",
					"logs": [
						"Program log: initialize2: InitializeInstruction2",
						"Program log: coin_mint: MintB, amm: PoolB"
					]
				},
				"context": {"slot": 12345}
			}
		}
	}`)
	ev, err := decodeRaydiumLogs(data)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, solana.Pubkey("MintB"), ev.TokenMint)
	assert.Equal(t, solana.Pubkey("PoolB"), ev.PoolAddress)
	assert.Equal(t, uint64(12345), ev.Slot)

	noInit := []byte(`{"method":"logsNotification","params":{"result":{"value":{"logs":["Program log: swap"]}}}}`)
	ev, err = decodeRaydiumLogs(noInit)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestEnrichment_MergeAppendOnly(t *testing.T) {
	holders := int64(120)
	e := Enrichment{HolderCount: &holders}

	newHolders := int64(999)
	vol := decimalFromFloat(25_000)
	changed := e.Merge(Enrichment{HolderCount: &newHolders, VolumeUSD24h: &vol})

	assert.True(t, changed)
	assert.Equal(t, int64(120), *e.HolderCount) // never overwritten
	assert.True(t, e.VolumeUSD24h.Equal(vol))

	// Second identical merge is a no-op.
	changed = e.Merge(Enrichment{HolderCount: &newHolders, VolumeUSD24h: &vol})
	assert.False(t, changed)
}
