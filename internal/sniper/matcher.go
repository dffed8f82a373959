package sniper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/rs/zerolog/log"
)

// OpenPositionIndex answers whether a sniper already holds the token. Open
// and selling positions both count; only a fully closed position frees the
// pair for a new buy.
type OpenPositionIndex interface {
	HasOpenPosition(sniperID string, mint solana.Pubkey) bool
}

// BuyRequester accepts a buy intent for a matched sniper. Implemented by the
// executor; it reports the outcome back via RecordResult.
type BuyRequester interface {
	RequestBuy(ctx context.Context, s *Sniper, ev *feed.MigrationEvent)
}

// MatchFunc observes every match, for event publication.
type MatchFunc func(s *Sniper, ev *feed.MigrationEvent)

// MatcherConfig controls matcher fan-out.
type MatcherConfig struct {
	Workers            int `yaml:"workers"`
	AutoPauseThreshold int `yaml:"auto_pause_threshold"`
}

func (c *MatcherConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.AutoPauseThreshold <= 0 {
		c.AutoPauseThreshold = 3
	}
}

type matchJob struct {
	sniper *Sniper
	event  *feed.MigrationEvent
}

// Matcher fans each migration out across all active snipers. Both fresh
// detections and enrichment updates go through OnEvent; the requested set
// makes re-evaluation idempotent, so a token can trigger at most one buy
// intent per sniper no matter how many passes see it.
type Matcher struct {
	config    MatcherConfig
	positions OpenPositionIndex
	executor  BuyRequester
	onMatched MatchFunc
	onPaused  func(s *Sniper)

	mu        sync.RWMutex
	snipers   map[string]*Sniper
	requested map[string]struct{} // sniperID + "|" + mint
	failRuns  map[string]int      // consecutive failures per sniper

	jobs chan matchJob
	wg   sync.WaitGroup

	startMu sync.Mutex
	started bool
	cancel  context.CancelFunc

	evaluations atomic.Int64
	matches     atomic.Int64
	rejections  atomic.Int64
	autoPauses  atomic.Int64
}

// NewMatcher creates a matcher. onMatched and onPaused may be nil.
func NewMatcher(config MatcherConfig, positions OpenPositionIndex, executor BuyRequester,
	onMatched MatchFunc, onPaused func(s *Sniper)) *Matcher {
	config.applyDefaults()
	return &Matcher{
		config:    config,
		positions: positions,
		executor:  executor,
		onMatched: onMatched,
		onPaused:  onPaused,
		snipers:   make(map[string]*Sniper),
		requested: make(map[string]struct{}),
		failRuns:  make(map[string]int),
		jobs:      make(chan matchJob, 512),
	}
}

// Start launches the evaluation worker pool.
func (m *Matcher) Start(ctx context.Context) {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	for i := 0; i < m.config.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	log.Info().Int("workers", m.config.Workers).Msg("Matcher started")
}

// Stop shuts the pool down.
func (m *Matcher) Stop() {
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

// Upsert registers or replaces a sniper. A status change to paused or
// archived takes effect on the next evaluation.
func (m *Matcher) Upsert(s *Sniper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snipers[s.ID] = s
}

// Remove unregisters a sniper. In-flight buys and open positions are
// unaffected.
func (m *Matcher) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snipers, id)
	delete(m.failRuns, id)
}

// Get returns a registered sniper, or nil.
func (m *Matcher) Get(id string) *Sniper {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snipers[id]
}

// List returns all registered snipers.
func (m *Matcher) List() []*Sniper {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Sniper, 0, len(m.snipers))
	for _, s := range m.snipers {
		out = append(out, s)
	}
	return out
}

// OnEvent queues a migration for evaluation against every active sniper.
// Called on detection and again on each enrichment update.
func (m *Matcher) OnEvent(ev *feed.MigrationEvent) {
	m.mu.RLock()
	active := make([]*Sniper, 0, len(m.snipers))
	for _, s := range m.snipers {
		if s.Active() {
			active = append(active, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range active {
		select {
		case m.jobs <- matchJob{sniper: s, event: ev}:
		default:
			log.Warn().Str("sniper_id", s.ID).Str("mint", string(ev.TokenMint)).
				Msg("Matcher queue full, dropping evaluation")
		}
	}
}

func (m *Matcher) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.jobs:
			m.evaluate(ctx, job.sniper, job.event)
		}
	}
}

func (m *Matcher) evaluate(ctx context.Context, s *Sniper, ev *feed.MigrationEvent) {
	m.evaluations.Add(1)

	key := s.ID + "|" + string(ev.TokenMint)

	m.mu.RLock()
	_, alreadyRequested := m.requested[key]
	active := s.Active()
	m.mu.RUnlock()
	if alreadyRequested || !active {
		return
	}

	pass, failedFilters := s.Filters.Evaluate(ev)
	if !pass {
		m.rejections.Add(1)
		log.Debug().
			Str("sniper_id", s.ID).
			Str("mint", string(ev.TokenMint)).
			Strs("failed", failedFilters).
			Msg("Migration rejected by filters")
		return
	}

	if m.positions != nil && m.positions.HasOpenPosition(s.ID, ev.TokenMint) {
		return
	}

	// Check-and-set under the write lock so two workers evaluating the same
	// pair cannot both dispatch.
	m.mu.Lock()
	if _, dup := m.requested[key]; dup {
		m.mu.Unlock()
		return
	}
	m.requested[key] = struct{}{}
	s.Stats.Matches++
	m.mu.Unlock()

	m.matches.Add(1)
	log.Info().
		Str("sniper_id", s.ID).
		Str("mint", string(ev.TokenMint)).
		Str("dex", ev.DEX).
		Int64("detection_latency_ms", ev.DetectionLatencyMs).
		Msg("Migration MATCHED")

	if m.onMatched != nil {
		m.onMatched(s, ev)
	}
	if m.executor != nil {
		m.executor.RequestBuy(ctx, s, ev)
	}
}

// RecordResult feeds a snipe outcome back for auto-pause accounting: a run
// of consecutive failures pauses the sniper.
func (m *Matcher) RecordResult(sniperID string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.snipers[sniperID]
	if s == nil {
		return
	}

	s.Stats.Snipes++
	if success {
		s.Stats.Successes++
		m.failRuns[sniperID] = 0
		return
	}

	s.Stats.Failures++
	m.failRuns[sniperID]++
	if m.failRuns[sniperID] < m.config.AutoPauseThreshold {
		return
	}

	s.Status = StatusPaused
	s.UpdatedAt = time.Now()
	m.failRuns[sniperID] = 0
	m.autoPauses.Add(1)

	log.Warn().
		Str("sniper_id", sniperID).
		Int("threshold", m.config.AutoPauseThreshold).
		Msg("Sniper auto-paused after consecutive failures")

	if m.onPaused != nil {
		go m.onPaused(s)
	}
}

// MatcherStats is a snapshot of matcher counters.
type MatcherStats struct {
	Snipers     int   `json:"snipers"`
	Evaluations int64 `json:"evaluations"`
	Matches     int64 `json:"matches"`
	Rejections  int64 `json:"rejections"`
	AutoPauses  int64 `json:"autoPauses"`
	QueueDepth  int   `json:"queueDepth"`
}

// Stats returns current counters.
func (m *Matcher) Stats() MatcherStats {
	m.mu.RLock()
	n := len(m.snipers)
	m.mu.RUnlock()
	return MatcherStats{
		Snipers:     n,
		Evaluations: m.evaluations.Load(),
		Matches:     m.matches.Load(),
		Rejections:  m.rejections.Load(),
		AutoPauses:  m.autoPauses.Load(),
		QueueDepth:  len(m.jobs),
	}
}
