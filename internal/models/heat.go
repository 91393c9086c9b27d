package models

// HeatLevel is the discrete bucket of a heat score.
type HeatLevel string

const (
	HeatIceCold HeatLevel = "ice_cold"
	HeatCold    HeatLevel = "cold"
	HeatNormal  HeatLevel = "normal"
	HeatHot     HeatLevel = "hot"
	HeatBoiling HeatLevel = "boiling"
)

// RiskAdjustment scales downstream risk handling by market heat.
type RiskAdjustment struct {
	PositionMultiplier float64 `json:"position_multiplier"`
	StopLossTightness  float64 `json:"stop_loss_tightness"`
	DebateRounds       int     `json:"debate_rounds"`
}

// HeatAssessment is the scorer output attached to a job at start.
type HeatAssessment struct {
	Score          float64            `json:"score"`
	Level          HeatLevel          `json:"level"`
	RiskAdjustment RiskAdjustment     `json:"risk_adjustment"`
	Narrative      string             `json:"narrative"`
	Components     map[string]float64 `json:"components,omitempty"`
	SourceQuality  SourceQuality      `json:"source_quality,omitempty"`
}
