package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeActivityRow(i int) ActivityRow {
	return ActivityRow{
		EventID:     uuid.New().String(),
		Timestamp:   time.Now(),
		EventType:   "snipe:success",
		UserID:      "user-1",
		SniperID:    "sniper-1",
		TokenMint:   fmt.Sprintf("Mint%04d", i),
		PayloadJSON: `{"amount_in_sol":"0.1"}`,
	}
}

func makeMigrationRow(i int) MigrationRow {
	return MigrationRow{
		TokenMint:          fmt.Sprintf("Mint%04d", i),
		PoolAddress:        fmt.Sprintf("Pool%04d", i),
		DEX:                "pumpswap",
		MigratedAt:         time.Now(),
		DetectedAt:         time.Now(),
		DetectionLatencyMs: 420,
		VolumeUSD24h:       15000,
		HolderCount:        120,
	}
}

func TestBatchSizeTrigger_Activity(t *testing.T) {
	const batchSize = 10

	var mu sync.Mutex
	var flushed [][]any

	w := NewActivityWriter(nil, "gradient", batchSize, time.Hour)
	w.SetFlushHook(func(_ context.Context, table string, rows [][]any) error {
		mu.Lock()
		flushed = append(flushed, rows...)
		mu.Unlock()
		assert.Equal(t, "gradient.activity_log", table)
		return nil
	})

	ctx := context.Background()
	for i := 0; i < batchSize; i++ {
		require.NoError(t, w.WriteActivity(ctx, makeActivityRow(i)))
	}

	mu.Lock()
	count := len(flushed)
	mu.Unlock()
	assert.Equal(t, batchSize, count, "flush should have been triggered at batchSize")
}

func TestFlushIntervalTrigger_Migrations(t *testing.T) {
	var totalFlushed atomic.Int64

	w := NewActivityWriter(nil, "gradient", 1000, 50*time.Millisecond)
	w.SetFlushHook(func(_ context.Context, _ string, rows [][]any) error {
		totalFlushed.Add(int64(len(rows)))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteMigration(ctx, makeMigrationRow(i)))
	}

	w.Start(ctx)
	time.Sleep(200 * time.Millisecond)
	cancel()
	require.NoError(t, w.Close())

	assert.Equal(t, int64(5), totalFlushed.Load(),
		"periodic flush should have written all 5 rows")
}

func TestFlushEmptySkipsHook(t *testing.T) {
	hookCalled := false

	w := NewActivityWriter(nil, "gradient", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error {
		hookCalled = true
		return nil
	})

	require.NoError(t, w.Flush(context.Background()))
	assert.False(t, hookCalled)
}

func TestClosedWriterRejectsWrites(t *testing.T) {
	w := NewActivityWriter(nil, "gradient", 100, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error { return nil })

	require.NoError(t, w.Close())

	assert.Error(t, w.WriteActivity(context.Background(), makeActivityRow(0)))
	assert.Error(t, w.WriteMigration(context.Background(), makeMigrationRow(0)))
}

func TestConcurrentActivityWrites(t *testing.T) {
	const (
		numGoroutines = 8
		writesPerGo   = 100
		batchSize     = 50
	)

	var totalFlushed atomic.Int64

	w := NewActivityWriter(nil, "gradient", batchSize, time.Hour)
	w.SetFlushHook(func(_ context.Context, _ string, rows [][]any) error {
		totalFlushed.Add(int64(len(rows)))
		return nil
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(gID int) {
			defer wg.Done()
			for i := 0; i < writesPerGo; i++ {
				if gID%2 == 0 {
					_ = w.WriteActivity(ctx, makeActivityRow(i))
				} else {
					_ = w.WriteMigration(ctx, makeMigrationRow(i))
				}
			}
		}(g)
	}
	wg.Wait()

	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, int64(numGoroutines*writesPerGo), totalFlushed.Load())
}

func TestTableNameWithoutPrefix(t *testing.T) {
	var capturedTable string

	w := NewActivityWriter(nil, "", 1, time.Hour)
	w.SetFlushHook(func(_ context.Context, table string, _ [][]any) error {
		capturedTable = table
		return nil
	})

	require.NoError(t, w.WriteMigration(context.Background(), makeMigrationRow(0)))
	assert.Equal(t, "migrations", capturedTable)
}
