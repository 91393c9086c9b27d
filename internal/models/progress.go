package models

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobProgress is the persisted progress record of one job. Records are treated as
// immutable once published; writers publish a modified copy.
type JobProgress struct {
	JobID             string            `json:"job_id" msgpack:"job_id"`
	Status            JobStatus         `json:"status" msgpack:"status"`
	CurrentStageIndex int               `json:"current_stage_index" msgpack:"current_stage_index"`
	TotalStages       int               `json:"total_stages" msgpack:"total_stages"`
	WeightedPercent   float64           `json:"weighted_percent" msgpack:"weighted_percent"`
	CurrentStageName  string            `json:"current_stage_name" msgpack:"current_stage_name"`
	Message           string            `json:"message" msgpack:"message"`
	Error             string            `json:"error,omitempty" msgpack:"error,omitempty"`
	StageNames        []string          `json:"stage_names" msgpack:"stage_names"`
	StageWeights      []float64         `json:"stage_weights" msgpack:"stage_weights"`
	StageResults      map[string]string `json:"stage_results,omitempty" msgpack:"stage_results,omitempty"`
	EstimatedDuration time.Duration     `json:"estimated_duration" msgpack:"estimated_duration"`
	StartedAt         time.Time         `json:"started_at" msgpack:"started_at"`
	LastUpdatedAt     time.Time         `json:"last_updated_at" msgpack:"last_updated_at"`
	FinishedAt        time.Time         `json:"finished_at,omitempty" msgpack:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to mutate.
func (p *JobProgress) Clone() *JobProgress {
	if p == nil {
		return nil
	}
	c := *p
	c.StageNames = append([]string(nil), p.StageNames...)
	c.StageWeights = append([]float64(nil), p.StageWeights...)
	if p.StageResults != nil {
		c.StageResults = make(map[string]string, len(p.StageResults))
		for k, v := range p.StageResults {
			c.StageResults[k] = v
		}
	}
	return &c
}
