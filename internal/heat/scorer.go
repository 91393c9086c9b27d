// Package heat scores market activity and derives risk-handling parameters from it.
//
// Everything here is pure: the same snapshot always yields the same assessment, so a job can
// treat the heat-derived debate budget as a constant for its whole lifetime.
package heat

import (
	"fmt"
	"math"

	"github.com/dyike/CortexFlow/internal/models"
)

// Indicator names one of the six scored inputs.
type Indicator string

const (
	VolumeRatio  Indicator = "volume_ratio"
	LimitUpRatio Indicator = "limit_up_ratio"
	TurnoverRate Indicator = "turnover_rate"
	Breadth      Indicator = "breadth"
	Volatility   Indicator = "volatility"
	MoneyFlow    Indicator = "money_flow"
)

// Indicators lists the scored inputs in a fixed order; iteration order matters for
// bit-for-bit reproducible float sums.
var Indicators = []Indicator{VolumeRatio, LimitUpRatio, TurnoverRate, Breadth, Volatility, MoneyFlow}

var weights = map[Indicator]float64{
	VolumeRatio:  0.25,
	LimitUpRatio: 0.20,
	TurnoverRate: 0.20,
	Breadth:      0.15,
	Volatility:   0.10,
	MoneyFlow:    0.10,
}

var curves = map[Indicator]curve{
	VolumeRatio:  volumeCurve,
	LimitUpRatio: limitUpCurve,
	TurnoverRate: turnoverCurve,
	Breadth:      breadthCurve,
	Volatility:   volatilityCurve,
	MoneyFlow:    moneyFlowCurve,
}

// Level thresholds (lower bound inclusive).
const (
	ColdThreshold    = 20.0
	NormalThreshold  = 40.0
	HotThreshold     = 60.0
	BoilingThreshold = 80.0

	// NeutralScore is returned when no indicator is usable.
	NeutralScore = 50.0
)

var riskTable = map[models.HeatLevel]models.RiskAdjustment{
	models.HeatIceCold: {PositionMultiplier: 0.5, StopLossTightness: 0.7, DebateRounds: 1},
	models.HeatCold:    {PositionMultiplier: 0.75, StopLossTightness: 0.85, DebateRounds: 1},
	models.HeatNormal:  {PositionMultiplier: 1.0, StopLossTightness: 1.0, DebateRounds: 1},
	models.HeatHot:     {PositionMultiplier: 1.25, StopLossTightness: 1.2, DebateRounds: 2},
	models.HeatBoiling: {PositionMultiplier: 1.5, StopLossTightness: 1.5, DebateRounds: 2},
}

var levelNarratives = map[models.HeatLevel]string{
	models.HeatIceCold: "market is frozen; trade small and keep stops loose",
	models.HeatCold:    "activity is subdued; reduce exposure",
	models.HeatNormal:  "activity is within its usual range",
	models.HeatHot:     "activity is elevated; extend risk debate and tighten stops",
	models.HeatBoiling: "market is overheated; expect sharp reversals",
}

// CalculateHeat scores a full snapshot. Indicators that are NaN or infinite are skipped and the
// remaining weights re-normalized.
func CalculateHeat(s models.MarketSnapshot) models.HeatAssessment {
	a := CalculateHeatPartial(map[Indicator]float64{
		VolumeRatio:  s.VolumeRatio,
		LimitUpRatio: s.LimitUpRatio,
		TurnoverRate: s.TurnoverRate,
		Breadth:      s.Breadth,
		Volatility:   s.Volatility,
		MoneyFlow:    s.MoneyFlow,
	})
	a.SourceQuality = s.SourceQuality
	if s.SourceQuality != "" && s.SourceQuality != models.SourceLive {
		a.Narrative += fmt.Sprintf(" (data: %s)", s.SourceQuality)
	}
	return a
}

// CalculateHeatPartial scores whichever indicators are supplied.
func CalculateHeatPartial(values map[Indicator]float64) models.HeatAssessment {
	var (
		sum        float64
		usedWeight float64
		components = make(map[string]float64, len(Indicators))
	)
	for _, ind := range Indicators {
		v, ok := values[ind]
		if !ok || !models.Supplied(v) {
			continue
		}
		n := curves[ind].at(v)
		components[string(ind)] = n
		sum += n * weights[ind]
		usedWeight += weights[ind]
	}

	if usedWeight == 0 {
		a := Assess(NeutralScore)
		a.Narrative = fmt.Sprintf("market heat %.1f (%s): no usable indicators, assuming neutral", a.Score, a.Level)
		return a
	}

	a := Assess(sum / usedWeight * 100)
	a.Components = components
	return a
}

// Assess builds an assessment from a score alone. The level is bucketed on the unrounded
// score; only the reported score is rounded to two decimals.
func Assess(score float64) models.HeatAssessment {
	raw := clampScore(score)
	level := LevelFor(raw)
	score = math.Round(raw*100) / 100
	return models.HeatAssessment{
		Score:          score,
		Level:          level,
		RiskAdjustment: riskTable[level],
		Narrative:      fmt.Sprintf("market heat %.1f (%s): %s", score, level, levelNarratives[level]),
	}
}

// LevelFor buckets a score at 20/40/60/80.
func LevelFor(score float64) models.HeatLevel {
	switch {
	case score >= BoilingThreshold:
		return models.HeatBoiling
	case score >= HotThreshold:
		return models.HeatHot
	case score >= NormalThreshold:
		return models.HeatNormal
	case score >= ColdThreshold:
		return models.HeatCold
	default:
		return models.HeatIceCold
	}
}

// RiskAdjustmentFor returns the static risk parameters of a level.
func RiskAdjustmentFor(level models.HeatLevel) models.RiskAdjustment {
	if adj, ok := riskTable[level]; ok {
		return adj
	}
	return riskTable[models.HeatNormal]
}

func clampScore(score float64) float64 {
	if math.IsNaN(score) {
		return NeutralScore
	}
	return math.Max(0, math.Min(100, score))
}
