package models

import (
	"math"
	"time"
)

// SourceQuality tags where a MarketSnapshot came from.
type SourceQuality string

const (
	SourceLive      SourceQuality = "live"
	SourceEstimated SourceQuality = "estimated"
	SourceDefault   SourceQuality = "default"
)

func (q SourceQuality) Valid() bool {
	switch q {
	case SourceLive, SourceEstimated, SourceDefault:
		return true
	}
	return false
}

// MarketSnapshot holds the six market-wide activity indicators for one trading day.
//
// Units:
//   - VolumeRatio: today's volume over the 20-day mean (1.0 = average)
//   - LimitUpRatio: percent of listed stocks closing limit-up
//   - TurnoverRate: market turnover in percent
//   - Breadth: advancing fraction in [0,1]
//   - Volatility: benchmark daily amplitude in percent
//   - MoneyFlow: net main-force inflow as percent of turnover, may be negative
//
// A NaN or infinite indicator is treated as not supplied.
type MarketSnapshot struct {
	VolumeRatio   float64       `json:"volume_ratio"`
	LimitUpRatio  float64       `json:"limit_up_ratio"`
	TurnoverRate  float64       `json:"turnover_rate"`
	Breadth       float64       `json:"breadth"`
	Volatility    float64       `json:"volatility"`
	MoneyFlow     float64       `json:"money_flow"`
	AsOfDate      time.Time     `json:"as_of_date"`
	SourceQuality SourceQuality `json:"source_quality"`
}

// Supplied reports whether v carries a usable indicator value.
func Supplied(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// IndexReturn is the daily return of one benchmark index.
type IndexReturn struct {
	Symbol    string    `json:"symbol"`
	Date      time.Time `json:"date"`
	ReturnPct float64   `json:"return_pct"`
}
