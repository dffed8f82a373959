package enrich

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/rs/zerolog/log"
)

// UpdateFunc receives a snapshot of an event whose enrichment changed. Each
// call gets its own copy; later refresh rounds never touch a delivered one.
type UpdateFunc func(event *feed.MigrationEvent)

// Config controls the enrichment pipeline.
type Config struct {
	Workers          int `yaml:"workers"`
	FetchTimeoutMs   int `yaml:"fetch_timeout_ms"`
	RefreshDelayMs   int `yaml:"refresh_delay_ms"`
	MaxRefreshRounds int `yaml:"max_refresh_rounds"`
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FetchTimeoutMs <= 0 {
		c.FetchTimeoutMs = 5000
	}
	if c.RefreshDelayMs <= 0 {
		c.RefreshDelayMs = 15000
	}
	if c.MaxRefreshRounds <= 0 {
		c.MaxRefreshRounds = 3
	}
}

// Enricher fans detected events out to metadata providers and merges their
// results into the event's Enrichment. The first pass runs immediately; if
// fields are still missing, up to MaxRefreshRounds delayed passes follow so
// slow indexers (fresh migrations often take seconds to appear) get a chance
// to fill them in.
type Enricher struct {
	config    Config
	providers []Provider
	onUpdate  UpdateFunc

	jobs chan *feed.MigrationEvent
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	// stats
	enriched      atomic.Int64
	partial       atomic.Int64
	failed        atomic.Int64
	providerErrs  atomic.Int64
	refreshPasses atomic.Int64
}

// New creates an enricher. onUpdate may be nil.
func New(config Config, providers []Provider, onUpdate UpdateFunc) *Enricher {
	config.applyDefaults()
	return &Enricher{
		config:    config,
		providers: providers,
		onUpdate:  onUpdate,
		jobs:      make(chan *feed.MigrationEvent, 256),
	}
}

// Start launches the worker pool.
func (e *Enricher) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.config.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
	log.Info().Int("workers", e.config.Workers).Int("providers", len(e.providers)).
		Msg("Enricher started")
}

// Stop shuts the pool down and waits for in-flight jobs.
func (e *Enricher) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

// Submit queues an event for enrichment. The enricher works on its own copy,
// so the caller's event is never written after Submit returns. Non-blocking;
// if the queue is full the event is dropped (the matcher already ran on the
// raw event).
func (e *Enricher) Submit(event *feed.MigrationEvent) {
	select {
	case e.jobs <- event.Clone():
	default:
		e.failed.Add(1)
		log.Warn().Str("mint", string(event.TokenMint)).Msg("Enrichment queue full, dropping")
	}
}

func (e *Enricher) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-e.jobs:
			e.process(ctx, event)
		}
	}
}

func (e *Enricher) process(ctx context.Context, event *feed.MigrationEvent) {
	delay := time.Duration(e.config.RefreshDelayMs) * time.Millisecond

	for round := 0; ; round++ {
		changed := e.fetchAll(ctx, event)
		if changed && e.onUpdate != nil {
			// Snapshot per round: subscribers evaluate on matcher workers
			// while the next round keeps merging into the working copy.
			e.onUpdate(event.Clone())
		}
		if event.Enrichment.Complete() || round >= e.config.MaxRefreshRounds {
			return
		}
		e.refreshPasses.Add(1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// fetchAll queries every provider concurrently and merges results into the
// event. Returns true if any field changed.
func (e *Enricher) fetchAll(ctx context.Context, event *feed.MigrationEvent) bool {
	timeout := time.Duration(e.config.FetchTimeoutMs) * time.Millisecond
	results := make([]feed.Enrichment, len(e.providers))
	errs := make([]error, len(e.providers))

	var wg sync.WaitGroup
	for i, p := range e.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i], errs[i] = p.Fetch(fetchCtx, event.TokenMint)
		}(i, p)
	}
	wg.Wait()

	changed := false
	okCount := 0
	for i := range e.providers {
		if errs[i] != nil {
			e.providerErrs.Add(1)
			log.Debug().Err(errs[i]).Str("provider", e.providers[i].Name()).
				Str("mint", string(event.TokenMint)).Msg("Provider fetch failed")
			continue
		}
		okCount++
		if event.Enrichment.Merge(results[i]) {
			changed = true
		}
	}

	switch {
	case okCount == len(e.providers):
		e.enriched.Add(1)
	case okCount > 0:
		e.partial.Add(1)
	default:
		e.failed.Add(1)
	}
	return changed
}

// Stats is a snapshot of enricher counters.
type Stats struct {
	Enriched      int64 `json:"enriched"`
	Partial       int64 `json:"partial"`
	Failed        int64 `json:"failed"`
	ProviderErrs  int64 `json:"providerErrors"`
	RefreshPasses int64 `json:"refreshPasses"`
	QueueDepth    int   `json:"queueDepth"`
}

// Stats returns current counters.
func (e *Enricher) Stats() Stats {
	return Stats{
		Enriched:      e.enriched.Load(),
		Partial:       e.partial.Load(),
		Failed:        e.failed.Load(),
		ProviderErrs:  e.providerErrs.Load(),
		RefreshPasses: e.refreshPasses.Load(),
		QueueDepth:    len(e.jobs),
	}
}
