package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gradient-trading/gradient/internal/bus"
	"github.com/gradient-trading/gradient/internal/enrich"
	"github.com/gradient-trading/gradient/internal/executor"
	"github.com/gradient-trading/gradient/internal/feed"
	"github.com/gradient-trading/gradient/internal/observability"
	"github.com/gradient-trading/gradient/internal/position"
	"github.com/gradient-trading/gradient/internal/sniper"
	"github.com/gradient-trading/gradient/internal/solana"
	"github.com/gradient-trading/gradient/internal/store"
	"github.com/gradient-trading/gradient/internal/stream"
)

const persistTimeout = 5 * time.Second

// meteredProvider counts enrichment provider calls by outcome.
type meteredProvider struct {
	enrich.Provider
	metrics *observability.Metrics
}

func (p *meteredProvider) Fetch(ctx context.Context, mint solana.Pubkey) (feed.Enrichment, error) {
	data, err := p.Provider.Fetch(ctx, mint)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.metrics.EnrichmentRequests.WithLabelValues(p.Name(), outcome).Inc()
	return data, err
}

// meteredProducer counts bus publishes by topic.
type meteredProducer struct {
	bus.Producer
	metrics *observability.Metrics
}

func (p *meteredProducer) PublishEvent(ctx context.Context, typ bus.EventType, tokenMint string, event any) error {
	p.metrics.EventsPublished.WithLabelValues(bus.Topics.ForType(typ)).Inc()
	return p.Producer.PublishEvent(ctx, typ, tokenMint, event)
}

func (p *meteredProducer) ProduceAsync(ctx context.Context, topic string, key, value []byte) error {
	p.metrics.EventsPublished.WithLabelValues(topic).Inc()
	return p.Producer.ProduceAsync(ctx, topic, key, value)
}

// meteredActivity counts rows accepted into the archive buffers.
type meteredActivity struct {
	*store.ActivityWriter
	metrics *observability.Metrics
}

func (a *meteredActivity) WriteActivity(ctx context.Context, row store.ActivityRow) error {
	err := a.ActivityWriter.WriteActivity(ctx, row)
	if err == nil {
		a.metrics.ActivityRowsTotal.Inc()
	}
	return err
}

func (a *meteredActivity) WriteMigration(ctx context.Context, row store.MigrationRow) error {
	err := a.ActivityWriter.WriteMigration(ctx, row)
	if err == nil {
		a.metrics.ActivityRowsTotal.Inc()
	}
	return err
}

// positionEvents persists position state strictly before the fan-out, so
// the API and a restarted manager never read less than what the stream
// already announced.
type positionEvents struct {
	store   store.PositionStore
	next    position.Events
	metrics *observability.Metrics
}

func (pe *positionEvents) PositionOpened(p *position.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := pe.store.Create(ctx, p); err != nil {
		log.Error().Err(err).Str("position_id", p.ID).Msg("Position persist failed")
	}
	pe.next.PositionOpened(p)
}

func (pe *positionEvents) PositionUpdated(p *position.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := pe.store.Update(ctx, p); err != nil {
		log.Error().Err(err).Str("position_id", p.ID).Msg("Position persist failed")
	}
	pe.next.PositionUpdated(p)
}

func (pe *positionEvents) PositionClosed(p *position.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := pe.store.Update(ctx, p); err != nil {
		log.Error().Err(err).Str("position_id", p.ID).Msg("Position persist failed")
	}
	reason := p.ExitReason
	if reason == "" {
		reason = "manual"
	}
	pe.metrics.ExitsTotal.WithLabelValues(reason).Inc()
	pe.next.PositionClosed(p)
}

func (pe *positionEvents) PriceUpdate(mint solana.Pubkey, price decimal.Decimal) {
	pe.next.PriceUpdate(mint, price)
}

// snipeEvents layers execution metrics over the notifier fan-out.
type snipeEvents struct {
	next    executor.Events
	metrics *observability.Metrics
}

func (se *snipeEvents) SnipeStarted(sn *executor.Snipe) {
	se.next.SnipeStarted(sn)
}

func (se *snipeEvents) SnipeSubmitted(sn *executor.Snipe) {
	se.next.SnipeSubmitted(sn)
}

func (se *snipeEvents) SnipeRetrying(sn *executor.Snipe, attempt, maxAttempts int) {
	se.next.SnipeRetrying(sn, attempt, maxAttempts)
}

func (se *snipeEvents) SnipeSucceeded(sn *executor.Snipe) {
	se.metrics.SnipeAttempts.Observe(float64(sn.Attempts))
	if sn.ConfirmedAt != nil {
		se.metrics.ExecutionLatencyMs.Observe(float64(sn.ConfirmedAt.Sub(sn.CreatedAt).Milliseconds()))
	}
	se.next.SnipeSucceeded(sn)
}

func (se *snipeEvents) SnipeFailed(sn *executor.Snipe, reason string) {
	se.metrics.SnipeAttempts.Observe(float64(sn.Attempts))
	se.next.SnipeFailed(sn, reason)
}

// statsSampler folds cumulative component counters into Prometheus metrics.
// Components keep their own monotonic counters; each sample applies the
// delta since the previous one.
type statsSampler struct {
	metrics *observability.Metrics
	feed    *feed.Feed
	matcher *sniper.Matcher
	manager *position.Manager
	hub     *stream.Hub

	prevDuplicates int64
	prevRejections int64
	prevReconnects map[string]int64
}

func newStatsSampler(metrics *observability.Metrics, f *feed.Feed, m *sniper.Matcher,
	pm *position.Manager, hub *stream.Hub) *statsSampler {
	return &statsSampler{
		metrics:        metrics,
		feed:           f,
		matcher:        m,
		manager:        pm,
		hub:            hub,
		prevReconnects: make(map[string]int64),
	}
}

func (s *statsSampler) sample() {
	fs := s.feed.Stats()
	if d := fs.Duplicates - s.prevDuplicates; d > 0 {
		s.metrics.MigrationsDeduped.Add(float64(d))
	}
	s.prevDuplicates = fs.Duplicates
	for _, src := range fs.Sources {
		if d := src.Reconnects - s.prevReconnects[src.Name]; d > 0 {
			s.metrics.FeedReconnects.WithLabelValues(src.Name).Add(float64(d))
		}
		s.prevReconnects[src.Name] = src.Reconnects
	}

	ms := s.matcher.Stats()
	if d := ms.Rejections - s.prevRejections; d > 0 {
		s.metrics.TokensFiltered.Add(float64(d))
	}
	s.prevRejections = ms.Rejections

	s.metrics.OpenPositions.Set(float64(s.manager.Stats().Open))
	s.metrics.StreamClients.Set(float64(s.hub.Stats().Connected))
}

func (s *statsSampler) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}
