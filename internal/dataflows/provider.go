package dataflows

import (
	"context"
	"errors"
	"time"

	"github.com/dyike/CortexFlow/internal/metrics"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/rs/zerolog"
)

// Provider produces a MarketSnapshot for a trading day from the best source available:
// live statistics, then an estimate from benchmark indices, then neutral defaults.
type Provider struct {
	live    LiveSource
	index   IndexSource
	cache   *CacheManager
	retry   RetryConfig
	metrics metrics.Collector
	log     zerolog.Logger
}

type Option func(*Provider)

func WithLiveSource(s LiveSource) Option {
	return func(p *Provider) { p.live = s }
}

func WithIndexSource(s IndexSource) Option {
	return func(p *Provider) { p.index = s }
}

func WithCache(c *CacheManager) Option {
	return func(p *Provider) { p.cache = c }
}

// WithRetryConfig overrides backoff timing. MaxRetries is taken per call from FetchSnapshot.
func WithRetryConfig(rc RetryConfig) Option {
	return func(p *Provider) { p.retry = rc }
}

func WithMetrics(m metrics.Collector) Option {
	return func(p *Provider) {
		if m != nil {
			p.metrics = m
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.log = l.With().Str("component", "market_data").Logger() }
}

func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		retry:   *DefaultRetryConfig(),
		metrics: metrics.Nop{},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IndexSource returns the benchmark source used for estimates, nil when none is configured.
func (p *Provider) IndexSource() IndexSource { return p.index }

// FetchSnapshot never fails. Each rung of the ladder is tried only when the previous one
// failed or came back empty; a done ctx skips straight to the defaults.
func (p *Provider) FetchSnapshot(ctx context.Context, date time.Time, maxRetries int) models.MarketSnapshot {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	key := DateKey(day)

	if ctx.Err() != nil {
		return p.fallback(day, "context done before fetch")
	}

	var cached models.MarketSnapshot
	if p.cache.Get("snapshot", "fetch", key, &cached) && cached.SourceQuality.Valid() {
		p.log.Debug().Str("date", key).Str("quality", string(cached.SourceQuality)).Msg("snapshot cache hit")
		p.metrics.RecordSnapshot(string(cached.SourceQuality))
		return cached
	}

	if snap, ok := p.fetchLive(ctx, day, maxRetries); ok {
		return p.store(key, snap)
	}
	if ctx.Err() != nil {
		return p.fallback(day, "context done after live query")
	}

	if snap, ok := p.estimate(ctx, day); ok {
		return p.store(key, snap)
	}

	return p.fallback(day, "no source answered")
}

func (p *Provider) fetchLive(ctx context.Context, day time.Time, maxRetries int) (models.MarketSnapshot, bool) {
	if p.live == nil {
		return models.MarketSnapshot{}, false
	}

	rc := p.retry
	rc.MaxRetries = max(maxRetries, 0)

	var snap *models.MarketSnapshot
	err := WithRetry(ctx, &rc, func(ctx context.Context) error {
		s, err := p.live.MarketActivity(ctx, day)
		if errors.Is(err, ErrNoData) {
			// an empty answer will not improve on retry
			return nil
		}
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		p.log.Warn().Err(err).Str("date", DateKey(day)).Msg("live market stats unavailable")
		return models.MarketSnapshot{}, false
	}
	if snap == nil {
		p.log.Info().Str("date", DateKey(day)).Msg("live market stats empty")
		return models.MarketSnapshot{}, false
	}

	snap.AsOfDate = day
	snap.SourceQuality = models.SourceLive
	return *snap, true
}

func (p *Provider) estimate(ctx context.Context, day time.Time) (models.MarketSnapshot, bool) {
	if p.index == nil {
		return models.MarketSnapshot{}, false
	}

	returns, err := p.index.IndexReturns(ctx, day)
	if err != nil {
		p.log.Warn().Err(err).Str("date", DateKey(day)).Msg("index returns unavailable")
		return models.MarketSnapshot{}, false
	}

	snap, ok := EstimateFromIndices(day, returns)
	if ok {
		p.log.Info().Int("indices", len(returns)).Str("date", DateKey(day)).Msg("market snapshot estimated from indices")
	}
	return snap, ok
}

func (p *Provider) store(key string, snap models.MarketSnapshot) models.MarketSnapshot {
	if err := p.cache.Set("snapshot", "fetch", key, snap); err != nil {
		p.log.Warn().Err(err).Str("date", key).Msg("snapshot cache write failed")
	}
	p.metrics.RecordSnapshot(string(snap.SourceQuality))
	return snap
}

func (p *Provider) fallback(day time.Time, reason string) models.MarketSnapshot {
	p.log.Warn().Str("date", DateKey(day)).Str("reason", reason).Msg("using default market snapshot")
	p.metrics.RecordSnapshot(string(models.SourceDefault))
	return DefaultSnapshot(day)
}
