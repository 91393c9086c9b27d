package dataflows

import (
	"time"

	"github.com/dyike/CortexFlow/internal/models"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// Neutral indicator values. Scored together they land exactly on 50.
const (
	DefaultVolumeRatio  = 1.0
	DefaultLimitUpRatio = 2.0
	DefaultTurnoverRate = 6.5
	DefaultBreadth      = 0.5
	DefaultVolatility   = 2.0
	DefaultMoneyFlow    = 0.0
)

// DefaultSnapshot returns the fixed neutral snapshot used when every source failed.
func DefaultSnapshot(date time.Time) models.MarketSnapshot {
	return models.MarketSnapshot{
		VolumeRatio:   DefaultVolumeRatio,
		LimitUpRatio:  DefaultLimitUpRatio,
		TurnoverRate:  DefaultTurnoverRate,
		Breadth:       DefaultBreadth,
		Volatility:    DefaultVolatility,
		MoneyFlow:     DefaultMoneyFlow,
		AsOfDate:      date,
		SourceQuality: models.SourceDefault,
	}
}

// EstimateFromIndices derives breadth and volatility from benchmark index returns.
// Breadth is the fraction of indices that closed up, volatility the sample stddev of
// their returns. Everything else keeps its neutral default. No usable return yields
// false.
func EstimateFromIndices(date time.Time, returns []models.IndexReturn) (models.MarketSnapshot, bool) {
	if len(returns) == 0 {
		return models.MarketSnapshot{}, false
	}

	values := make([]float64, 0, len(returns))
	positive := 0
	for _, r := range returns {
		if !models.Supplied(r.ReturnPct) {
			continue
		}
		values = append(values, r.ReturnPct)
		if r.ReturnPct > 0 {
			positive++
		}
	}
	if len(values) == 0 {
		return models.MarketSnapshot{}, false
	}

	snap := DefaultSnapshot(date)
	snap.Breadth = float64(positive) / float64(len(values))
	if len(values) > 1 {
		snap.Volatility = stat.StdDev(values, nil)
	}
	snap.SourceQuality = models.SourceEstimated
	return snap, true
}

// dailyReturn computes (last-prev)/prev in percent.
func dailyReturn(prev, last decimal.Decimal) (float64, bool) {
	if prev.IsZero() {
		return 0, false
	}
	pct := last.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
	f, _ := pct.Float64()
	return f, true
}
