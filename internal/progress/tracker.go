package progress

import (
	"context"
	"errors"
	"time"

	"github.com/dyike/CortexFlow/internal/metrics"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/rs/zerolog"
)

const (
	// maxNonFinalPercent is the ceiling for any report that is not a completion phrase.
	maxNonFinalPercent   = 0.95
	defaultMirrorTimeout = 2 * time.Second
)

// Tracker turns free-text status reports into monotonic weighted progress.
type Tracker struct {
	registry      *Registry
	classifier    *Classifier
	mirror        Mirror
	mirrorTimeout time.Duration
	metrics       metrics.Collector
	log           zerolog.Logger
	now           func() time.Time
}

type TrackerOption func(*Tracker)

// WithMirror copies every published record to m. Mirror errors never fail a report.
func WithMirror(m Mirror) TrackerOption {
	return func(t *Tracker) { t.mirror = m }
}

func WithMirrorTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.mirrorTimeout = d
		}
	}
}

func WithMetrics(c metrics.Collector) TrackerOption {
	return func(t *Tracker) {
		if c != nil {
			t.metrics = c
		}
	}
}

func WithLogger(l zerolog.Logger) TrackerOption {
	return func(t *Tracker) { t.log = l.With().Str("component", "progress").Logger() }
}

func WithClassifier(c *Classifier) TrackerOption {
	return func(t *Tracker) {
		if c != nil {
			t.classifier = c
		}
	}
}

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithRegistry(r *Registry) TrackerOption {
	return func(t *Tracker) {
		if r != nil {
			t.registry = r
		}
	}
}

func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		registry:      NewRegistry(),
		classifier:    DefaultClassifier(),
		mirrorTimeout: defaultMirrorTimeout,
		metrics:       metrics.Nop{},
		log:           zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Registry() *Registry { return t.registry }

// Initialize registers a pending job. A nil plan uses DefaultStages.
func (t *Tracker) Initialize(jobID string, stages []Stage, opts Options) error {
	if jobID == "" {
		return errors.New("progress: empty job id")
	}
	if stages == nil {
		stages = DefaultStages()
	}
	plan, err := normalize(stages)
	if err != nil {
		return err
	}

	now := t.now()
	rec := &models.JobProgress{
		JobID:             jobID,
		Status:            models.JobPending,
		TotalStages:       len(plan),
		CurrentStageName:  plan[0].Name,
		Message:           "Queued",
		StageNames:        make([]string, len(plan)),
		StageWeights:      make([]float64, len(plan)),
		EstimatedDuration: EstimateDuration(opts),
		StartedAt:         now,
		LastUpdatedAt:     now,
	}
	for i, s := range plan {
		rec.StageNames[i] = s.Name
		rec.StageWeights[i] = s.Weight
	}

	if _, ok := t.registry.create(rec); !ok {
		return ErrJobExists
	}
	t.log.Debug().Str("job_id", jobID).Int("stages", len(plan)).Dur("estimate", rec.EstimatedDuration).Msg("job progress initialized")
	t.publish(rec)
	return nil
}

// Report records a status message. An explicit stageIndex wins over the message text.
// Reports for terminal jobs are ignored.
func (t *Tracker) Report(jobID, message string, stageIndex *int) error {
	e, ok := t.registry.get(jobID)
	if !ok {
		return ErrJobNotFound
	}

	kind := "held"
	rec, changed := e.update(func(next *models.JobProgress) bool {
		if next.Status.Terminal() {
			return false
		}
		next.LastUpdatedAt = t.now()
		if stageIndex == nil && IsHeartbeat(message) {
			kind = "heartbeat"
			return true
		}

		if next.Status == models.JobPending {
			next.Status = models.JobRunning
		}
		next.Message = message

		var (
			stage   int
			final   bool
			matched bool
		)
		if stageIndex != nil {
			stage, matched = *stageIndex, true
		} else {
			stage, final, matched = t.classifier.Classify(message)
		}
		if !matched {
			return true
		}
		kind = "stage"
		t.advance(next, stage, final)
		return true
	})
	if !changed {
		return nil
	}

	t.metrics.RecordReport(kind)
	if kind == "held" {
		t.log.Debug().Str("job_id", jobID).Str("message", message).Msg("unclassified status, holding stage")
	}
	t.publish(rec)
	return nil
}

// advance moves rec to stage, never backwards.
func (t *Tracker) advance(rec *models.JobProgress, stage int, final bool) {
	last := rec.TotalStages - 1
	if final {
		stage = last
	}
	stage = max(min(stage, last), 0, rec.CurrentStageIndex)

	percent := cumulative(rec.StageWeights, stage)
	switch {
	case final:
		percent = 1
	case percent >= 1-weightEpsilon:
		percent = maxNonFinalPercent
	}

	rec.CurrentStageIndex = stage
	rec.CurrentStageName = rec.StageNames[stage]
	rec.WeightedPercent = max(percent, rec.WeightedPercent)
}

func cumulative(weights []float64, through int) float64 {
	sum := 0.0
	for i := 0; i <= through && i < len(weights); i++ {
		sum += weights[i]
	}
	return sum
}

// RecordStageResult keeps the latest output of a stage on the record.
func (t *Tracker) RecordStageResult(jobID, name, content string) error {
	e, ok := t.registry.get(jobID)
	if !ok {
		return ErrJobNotFound
	}
	rec, changed := e.update(func(next *models.JobProgress) bool {
		if next.Status.Terminal() {
			return false
		}
		if next.StageResults == nil {
			next.StageResults = make(map[string]string)
		}
		next.StageResults[name] = content
		next.LastUpdatedAt = t.now()
		return true
	})
	if changed {
		t.publish(rec)
	}
	return nil
}

// MarkTerminal finishes a job. Success pins it to 100% on the last stage; failure freezes
// progress where it is. Calling it on a finished job is a no-op.
func (t *Tracker) MarkTerminal(jobID string, success bool) error {
	if success {
		return t.finish(jobID, models.JobCompleted, "Analysis complete", "")
	}
	return t.finish(jobID, models.JobFailed, "Analysis failed", "")
}

func (t *Tracker) Fail(jobID string, err error) error {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return t.finish(jobID, models.JobFailed, "Analysis failed", msg)
}

func (t *Tracker) Cancel(jobID string) error {
	return t.finish(jobID, models.JobCancelled, "Analysis cancelled", "")
}

func (t *Tracker) finish(jobID string, status models.JobStatus, message, errMsg string) error {
	e, ok := t.registry.get(jobID)
	if !ok {
		return ErrJobNotFound
	}
	rec, changed := e.update(func(next *models.JobProgress) bool {
		if next.Status.Terminal() {
			return false
		}
		now := t.now()
		next.Status = status
		next.Message = message
		next.Error = errMsg
		next.LastUpdatedAt = now
		next.FinishedAt = now
		if status == models.JobCompleted {
			last := next.TotalStages - 1
			next.CurrentStageIndex = last
			next.CurrentStageName = next.StageNames[last]
			next.WeightedPercent = 1
		}
		return true
	})
	if !changed {
		return nil
	}

	t.metrics.RecordOutcome(string(status))
	t.log.Info().Str("job_id", jobID).Str("status", string(status)).
		Float64("percent", rec.WeightedPercent).Dur("elapsed", rec.FinishedAt.Sub(rec.StartedAt)).
		Msg("job finished")
	t.publish(rec)
	return nil
}

// Record returns a copy of the full in-process record.
func (t *Tracker) Record(jobID string) (*models.JobProgress, error) {
	rec, ok := t.registry.Get(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}
	return rec.Clone(), nil
}

// Snapshot returns the current view of a job. Jobs unknown to this process are looked up
// in the mirror.
func (t *Tracker) Snapshot(jobID string) (View, error) {
	if rec, ok := t.registry.Get(jobID); ok {
		return t.view(rec), nil
	}
	if t.mirror == nil {
		return View{}, ErrJobNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.mirrorTimeout)
	defer cancel()
	rec, err := t.mirror.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			t.log.Warn().Err(err).Str("job_id", jobID).Msg("progress mirror read failed")
		}
		return View{}, ErrJobNotFound
	}
	return t.view(rec), nil
}

// List returns views of every job held in this process.
func (t *Tracker) List() []View {
	recs := t.registry.List()
	out := make([]View, 0, len(recs))
	for _, rec := range recs {
		out = append(out, t.view(rec))
	}
	return out
}

// Sweep evicts terminal jobs older than retention.
func (t *Tracker) Sweep(retention time.Duration) int {
	n := t.registry.Sweep(t.now(), retention)
	if n > 0 {
		t.log.Debug().Int("evicted", n).Msg("swept finished jobs")
	}
	return n
}

func (t *Tracker) view(rec *models.JobProgress) View {
	end := t.now()
	if rec.Status.Terminal() && !rec.FinishedAt.IsZero() {
		end = rec.FinishedAt
	}
	elapsed := max(end.Sub(rec.StartedAt), 0)

	var left time.Duration
	if !rec.Status.Terminal() {
		left = remaining(elapsed, rec.WeightedPercent, rec.EstimatedDuration)
	}

	return View{
		JobID:                     rec.JobID,
		Status:                    rec.Status,
		Percent:                   rec.WeightedPercent,
		CurrentStageIndex:         rec.CurrentStageIndex,
		CurrentStageName:          rec.CurrentStageName,
		Message:                   rec.Message,
		Error:                     rec.Error,
		ElapsedSeconds:            elapsed.Seconds(),
		EstimatedRemainingSeconds: left.Seconds(),
	}
}

// publish writes rec to the mirror. The in-process record stays authoritative.
func (t *Tracker) publish(rec *models.JobProgress) {
	if t.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.mirrorTimeout)
	defer cancel()
	if err := t.mirror.Put(ctx, rec); err != nil {
		t.metrics.RecordMirrorFailure("put")
		t.log.Warn().Err(err).Str("job_id", rec.JobID).Msg("progress mirror write failed")
	}
}
