package service

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dyike/CortexFlow/consts"
	"github.com/dyike/CortexFlow/internal/models"
)

var (
	ErrJobExists   = errors.New("service: job already running")
	ErrJobNotFound = errors.New("service: job not found")
	ErrClosed      = errors.New("service: manager closed")
)

// JobRequest starts one analysis job.
type JobRequest struct {
	JobID            string    `json:"job_id"`
	Symbol           string    `json:"symbol"`
	TradeDate        time.Time `json:"trade_date"`
	SelectedAnalysts []string  `json:"selected_analysts"`
	// DynamicRiskRounds overrides the configured mode when set.
	DynamicRiskRounds *bool  `json:"dynamic_risk_rounds,omitempty"`
	ResearchDepth     int    `json:"research_depth"`
	ProviderSpeed     string `json:"provider_speed"`
	Prompt            string `json:"prompt,omitempty"`
}

// normalize fills defaults and rejects requests the pipeline cannot run.
func (r JobRequest) normalize(now time.Time) (JobRequest, error) {
	r.JobID = strings.TrimSpace(r.JobID)
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.Symbol == "" {
		return r, fmt.Errorf("symbol is required")
	}
	if r.TradeDate.IsZero() {
		r.TradeDate = now
	}
	y, m, d := r.TradeDate.Date()
	r.TradeDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	if len(r.SelectedAnalysts) == 0 {
		r.SelectedAnalysts = slices.Clone(consts.Analysts)
	}
	seen := make(map[string]bool, len(r.SelectedAnalysts))
	analysts := make([]string, 0, len(r.SelectedAnalysts))
	for _, a := range r.SelectedAnalysts {
		if !slices.Contains(consts.Analysts, a) {
			return r, fmt.Errorf("unknown analyst %q", a)
		}
		if !seen[a] {
			seen[a] = true
			analysts = append(analysts, a)
		}
	}
	r.SelectedAnalysts = analysts

	if r.ResearchDepth == 0 {
		r.ResearchDepth = consts.DepthStandard
	}
	if r.ResearchDepth < consts.DepthQuick || r.ResearchDepth > consts.DepthFull {
		return r, fmt.Errorf("research depth %d out of range %d-%d", r.ResearchDepth, consts.DepthQuick, consts.DepthFull)
	}
	switch r.ProviderSpeed {
	case "":
		r.ProviderSpeed = consts.SpeedNormal
	case consts.SpeedFast, consts.SpeedNormal, consts.SpeedSlow:
	default:
		return r, fmt.Errorf("unknown provider speed %q", r.ProviderSpeed)
	}

	if strings.TrimSpace(r.Prompt) == "" {
		r.Prompt = fmt.Sprintf("Analyze trading opportunities for %s on %s", r.Symbol, r.TradeDate.Format("2006-01-02"))
	}
	return r, nil
}

// Result is how a job ended. Cancellation is a result, not an error.
type Result struct {
	JobID    string                 `json:"job_id"`
	Status   models.JobStatus       `json:"status"`
	Decision string                 `json:"decision,omitempty"`
	Heat     *models.HeatAssessment `json:"heat,omitempty"`
	Err      error                  `json:"-"`
}
