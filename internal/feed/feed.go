package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Migration Feed — merges upstream sources, dedups by token mint, and emits
// exactly one MigrationEvent per distinct graduation (first arrival wins)
// ---------------------------------------------------------------------------

// Config configures the migration feed.
type Config struct {
	// DedupCapacity bounds the LRU set of seen token mints.
	DedupCapacity int `yaml:"dedup_capacity"`
	// BufferSize is the capacity of the downstream event channel.
	BufferSize int `yaml:"buffer_size"`
}

// DefaultConfig returns defaults sized for mainnet migration volume.
func DefaultConfig() Config {
	return Config{
		DedupCapacity: 8192,
		BufferSize:    256,
	}
}

// Feed merges one or more Sources into a deduplicated MigrationEvent stream.
type Feed struct {
	config  Config
	sources []Source
	seen    *seenSet
	out     chan MigrationEvent

	closeOnce sync.Once

	detections atomic.Int64
	duplicates atomic.Int64
	dropped    atomic.Int64
}

// New creates a feed over the given sources.
func New(config Config, sources ...Source) *Feed {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	return &Feed{
		config:  config,
		sources: sources,
		seen:    newSeenSet(config.DedupCapacity),
		out:     make(chan MigrationEvent, config.BufferSize),
	}
}

// Start subscribes to every source and returns the merged event channel.
// The channel closes after ctx is cancelled and all sources drain.
func (f *Feed) Start(ctx context.Context) (<-chan MigrationEvent, error) {
	var wg sync.WaitGroup

	for _, src := range f.sources {
		ch, err := src.Subscribe(ctx)
		if err != nil {
			// A single failed source degrades latency, not correctness;
			// keep the rest running.
			log.Error().Err(err).Str("source", src.Name()).Msg("feed: source subscribe failed")
			continue
		}

		wg.Add(1)
		go func(name string, ch <-chan RawEvent) {
			defer wg.Done()
			for raw := range ch {
				f.handleRaw(raw)
			}
			log.Info().Str("source", name).Msg("feed: source drained")
		}(src.Name(), ch)
	}

	go func() {
		wg.Wait()
		f.closeOnce.Do(func() { close(f.out) })
	}()

	return f.out, nil
}

func (f *Feed) handleRaw(raw RawEvent) {
	latency := raw.ReceivedAt.Sub(raw.ObservedAt)

	if f.seen.Add(string(raw.TokenMint)) {
		f.duplicates.Add(1)
		log.Debug().
			Str("mint", string(raw.TokenMint)).
			Str("source", string(raw.Source)).
			Dur("late_by", latency).
			Msg("feed: duplicate report suppressed")
		return
	}

	event := MigrationEvent{
		TokenMint:          raw.TokenMint,
		PoolAddress:        raw.PoolAddress,
		Source:             raw.Source,
		DEX:                raw.DEX,
		Signature:          raw.Signature,
		Slot:               raw.Slot,
		Name:               raw.Name,
		Symbol:             raw.Symbol,
		LaunchedAt:         raw.LaunchedAt,
		DetectedAt:         raw.ReceivedAt,
		DetectionLatencyMs: latency.Milliseconds(),
	}

	select {
	case f.out <- event:
		f.detections.Add(1)
		log.Info().
			Str("mint", string(event.TokenMint)).
			Str("dex", event.DEX).
			Str("source", string(event.Source)).
			Int64("latency_ms", event.DetectionLatencyMs).
			Msg("feed: MIGRATION DETECTED")
	default:
		f.dropped.Add(1)
		log.Warn().Str("mint", string(event.TokenMint)).Msg("feed: output channel full, dropping event")
	}
}

// Seen reports whether a mint has already been observed.
func (f *Feed) Seen(mint string) bool {
	return f.seen.Contains(mint)
}

// Stats is a snapshot of feed counters.
type Stats struct {
	Detections int64         `json:"detections"`
	Duplicates int64         `json:"duplicates"`
	Dropped    int64         `json:"dropped"`
	SeenTokens int           `json:"seen_tokens"`
	Sources    []SourceStats `json:"sources"`
}

// Stats returns feed counters plus per-source stats where available.
func (f *Feed) Stats() Stats {
	s := Stats{
		Detections: f.detections.Load(),
		Duplicates: f.duplicates.Load(),
		Dropped:    f.dropped.Load(),
		SeenTokens: f.seen.Len(),
	}
	for _, src := range f.sources {
		if ws, ok := src.(*WSSource); ok {
			s.Sources = append(s.Sources, ws.Stats())
		}
	}
	return s
}

// ConnectedSources returns how many sources currently report connected.
func (f *Feed) ConnectedSources() int {
	n := 0
	for _, src := range f.sources {
		if src.Connected() {
			n++
		}
	}
	return n
}

// WaitHealthy blocks until at least one source connects or the timeout
// elapses. Used by startup wiring for readiness logging only.
func (f *Feed) WaitHealthy(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.ConnectedSources() > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}
