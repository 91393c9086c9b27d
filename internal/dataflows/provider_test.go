package dataflows

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dyike/CortexFlow/internal/heat"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLive struct {
	calls atomic.Int32
	snap  *models.MarketSnapshot
	err   error
}

func (f *fakeLive) MarketActivity(ctx context.Context, date time.Time) (*models.MarketSnapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	s := *f.snap
	return &s, nil
}

type fakeIndex struct {
	returns []models.IndexReturn
	err     error
}

func (f *fakeIndex) IndexReturns(ctx context.Context, date time.Time) ([]models.IndexReturn, error) {
	return f.returns, f.err
}

var tradeDay = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

func fastRetry() Option {
	return WithRetryConfig(RetryConfig{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2})
}

func TestFetchSnapshot_Live(t *testing.T) {
	live := &fakeLive{snap: &models.MarketSnapshot{VolumeRatio: 1.8, LimitUpRatio: 4, TurnoverRate: 9, Breadth: 0.7, Volatility: 2.5, MoneyFlow: 1}}
	p := NewProvider(WithLiveSource(live), fastRetry())

	snap := p.FetchSnapshot(context.Background(), tradeDay, 2)

	assert.Equal(t, models.SourceLive, snap.SourceQuality)
	assert.Equal(t, 1.8, snap.VolumeRatio)
	assert.Equal(t, tradeDay, snap.AsOfDate)
	assert.EqualValues(t, 1, live.calls.Load())
}

func TestFetchSnapshot_LiveFailureFallsBackToEstimate(t *testing.T) {
	live := &fakeLive{err: errors.New("connection refused")}
	index := &fakeIndex{returns: []models.IndexReturn{
		{Symbol: "A", ReturnPct: 1.5},
		{Symbol: "B", ReturnPct: -0.5},
		{Symbol: "C", ReturnPct: 0.8},
		{Symbol: "D", ReturnPct: 2.2},
	}}
	p := NewProvider(WithLiveSource(live), WithIndexSource(index), fastRetry())

	snap := p.FetchSnapshot(context.Background(), tradeDay, 2)

	assert.Equal(t, models.SourceEstimated, snap.SourceQuality)
	assert.EqualValues(t, 3, live.calls.Load(), "one attempt plus two retries")
	assert.InDelta(t, 0.75, snap.Breadth, 1e-9)
	assert.Greater(t, snap.Volatility, 0.0)
	assert.Equal(t, DefaultVolumeRatio, snap.VolumeRatio)
}

func TestFetchSnapshot_EmptyLiveIsNotRetried(t *testing.T) {
	live := &fakeLive{err: ErrNoData}
	p := NewProvider(WithLiveSource(live), fastRetry())

	snap := p.FetchSnapshot(context.Background(), tradeDay, 5)

	assert.Equal(t, models.SourceDefault, snap.SourceQuality)
	assert.EqualValues(t, 1, live.calls.Load())
}

func TestFetchSnapshot_EverythingFailsYieldsNeutralDefaults(t *testing.T) {
	p := NewProvider(
		WithLiveSource(&fakeLive{err: errors.New("timeout")}),
		WithIndexSource(&fakeIndex{err: errors.New("rate limited")}),
		fastRetry(),
	)

	snap := p.FetchSnapshot(context.Background(), tradeDay, 1)

	require.Equal(t, models.SourceDefault, snap.SourceQuality)
	assessment := heat.CalculateHeat(snap)
	assert.Equal(t, 50.0, assessment.Score)
	assert.Equal(t, models.HeatNormal, assessment.Level)
}

func TestFetchSnapshot_NoSourcesConfigured(t *testing.T) {
	snap := NewProvider().FetchSnapshot(context.Background(), tradeDay, 3)
	assert.Equal(t, DefaultSnapshot(tradeDay), snap)
}

func TestFetchSnapshot_CancelledContextSkipsToDefaults(t *testing.T) {
	live := &fakeLive{snap: &models.MarketSnapshot{VolumeRatio: 2}}
	p := NewProvider(WithLiveSource(live), fastRetry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap := p.FetchSnapshot(ctx, tradeDay, 3)

	assert.Equal(t, models.SourceDefault, snap.SourceQuality)
	assert.EqualValues(t, 0, live.calls.Load())
}

func TestFetchSnapshot_SourceQualityAlwaysValid(t *testing.T) {
	cases := []*Provider{
		NewProvider(),
		NewProvider(WithLiveSource(&fakeLive{err: errors.New("x")}), fastRetry()),
		NewProvider(WithIndexSource(&fakeIndex{returns: []models.IndexReturn{{ReturnPct: 1}}})),
		NewProvider(WithLiveSource(&fakeLive{snap: &models.MarketSnapshot{}})),
	}
	for _, p := range cases {
		snap := p.FetchSnapshot(context.Background(), tradeDay, 0)
		assert.True(t, snap.SourceQuality.Valid())
	}
}

func TestFetchSnapshot_CachesPerDate(t *testing.T) {
	cache := NewCacheManager(t.TempDir(), time.Hour)
	live := &fakeLive{snap: &models.MarketSnapshot{VolumeRatio: 1.3, LimitUpRatio: 1, TurnoverRate: 5, Breadth: 0.4, Volatility: 1, MoneyFlow: -1}}
	p := NewProvider(WithLiveSource(live), WithCache(cache), fastRetry())

	first := p.FetchSnapshot(context.Background(), tradeDay.Add(15*time.Hour), 0)
	second := p.FetchSnapshot(context.Background(), tradeDay, 0)

	assert.EqualValues(t, 1, live.calls.Load())
	assert.Equal(t, first.VolumeRatio, second.VolumeRatio)
	assert.Equal(t, models.SourceLive, second.SourceQuality)
}

func TestEstimateFromIndices(t *testing.T) {
	_, ok := EstimateFromIndices(tradeDay, nil)
	assert.False(t, ok)

	snap, ok := EstimateFromIndices(tradeDay, []models.IndexReturn{{ReturnPct: 1.2}})
	require.True(t, ok)
	assert.Equal(t, 1.0, snap.Breadth)
	assert.Equal(t, DefaultVolatility, snap.Volatility, "stddev needs two samples")

	snap, ok = EstimateFromIndices(tradeDay, []models.IndexReturn{{ReturnPct: 1}, {ReturnPct: -1}})
	require.True(t, ok)
	assert.Equal(t, 0.5, snap.Breadth)
	assert.InDelta(t, 1.41421356, snap.Volatility, 1e-6)
	assert.Equal(t, models.SourceEstimated, snap.SourceQuality)
}

func TestWithRetry_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rc := &RetryConfig{MaxRetries: 10, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	calls := 0
	err := WithRetry(ctx, rc, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
