package progress

import (
	"errors"
	"fmt"
	"math"

	"github.com/dyike/CortexFlow/internal/models"
)

var (
	ErrJobNotFound = errors.New("progress: job not found")
	ErrJobExists   = errors.New("progress: job already initialized")
)

const weightEpsilon = 1e-9

// Stage is one step of the progress plan. Weights of a plan sum to 1.
type Stage struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Indices into DefaultStages.
const (
	StagePreparation = iota
	StageMarketSocial
	StageNewsFundamentals
	StageInvestmentDebate
	StageTrader
	StageRiskDebate
	StageFinalDecision
)

// DefaultStages is the seven-stage plan the pipeline reports against.
func DefaultStages() []Stage {
	return []Stage{
		{Name: "Preparation", Weight: 0.10},
		{Name: "Market & Social Analysis", Weight: 0.15},
		{Name: "News & Fundamentals", Weight: 0.15},
		{Name: "Investment Debate", Weight: 0.10},
		{Name: "Trader", Weight: 0.10},
		{Name: "Risk Debate", Weight: 0.25},
		{Name: "Final Decision", Weight: 0.15},
	}
}

// normalize validates a plan and rescales its weights to sum to 1.
func normalize(stages []Stage) ([]Stage, error) {
	if len(stages) == 0 {
		return nil, errors.New("progress: empty stage plan")
	}
	total := 0.0
	for _, s := range stages {
		if s.Weight < 0 || math.IsNaN(s.Weight) || math.IsInf(s.Weight, 0) {
			return nil, fmt.Errorf("progress: invalid weight %v for stage %q", s.Weight, s.Name)
		}
		total += s.Weight
	}
	if total == 0 {
		return nil, errors.New("progress: stage weights sum to zero")
	}
	if math.Abs(total-1) < weightEpsilon {
		total = 1
	}

	out := make([]Stage, len(stages))
	for i, s := range stages {
		out[i] = Stage{Name: s.Name, Weight: s.Weight / total}
	}
	return out, nil
}

// Options shape the initial duration estimate of a job.
type Options struct {
	AnalystCount  int
	ResearchDepth int
	ProviderSpeed string
}

// View is the externally visible progress of a job.
type View struct {
	JobID                     string           `json:"job_id"`
	Status                    models.JobStatus `json:"status"`
	Percent                   float64          `json:"percent"`
	CurrentStageIndex         int              `json:"current_stage_index"`
	CurrentStageName          string           `json:"current_stage_name"`
	Message                   string           `json:"message"`
	Error                     string           `json:"error,omitempty"`
	ElapsedSeconds            float64          `json:"elapsed_seconds"`
	EstimatedRemainingSeconds float64          `json:"estimated_remaining_seconds"`
}
