package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dyike/CortexFlow/consts"
	"github.com/dyike/CortexFlow/internal/graph"
	"github.com/dyike/CortexFlow/internal/heat"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/dyike/CortexFlow/internal/progress"
	"github.com/dyike/CortexFlow/internal/storage/sqlite"
	"github.com/dyike/CortexFlow/pkg/bridge"
	"github.com/rs/zerolog"
)

const archiveTimeout = 5 * time.Second

// SnapshotSource supplies the market snapshot a job's heat is computed from.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, date time.Time, maxRetries int) models.MarketSnapshot
}

// Archiver stores terminal jobs.
type Archiver interface {
	ArchiveJob(ctx context.Context, job sqlite.JobRecord) error
}

type WorkerConfig struct {
	Settings     graph.Settings
	StageTimeout time.Duration
	FetchRetries int
	MaxSteps     int
}

// Worker executes jobs one node at a time and reports every boundary to the tracker.
type Worker struct {
	cfg     WorkerConfig
	market  SnapshotSource
	runner  graph.StageRunner
	tracker *progress.Tracker
	archive Archiver
	notify  func(topic string, v any)
	root    zerolog.Logger
	log     zerolog.Logger
	now     func() time.Time
}

type WorkerOption func(*Worker)

func WithArchive(a Archiver) WorkerOption {
	return func(w *Worker) { w.archive = a }
}

// WithNotifier replaces the process-wide bridge as the event sink.
func WithNotifier(fn bridge.NotifyFunc) WorkerOption {
	return func(w *Worker) {
		if fn == nil {
			w.notify = func(string, any) {}
			return
		}
		w.notify = func(topic string, v any) {
			payload, err := json.Marshal(v)
			if err == nil {
				fn(topic, string(payload))
			}
		}
	}
}

func WithLogger(l zerolog.Logger) WorkerOption {
	return func(w *Worker) {
		w.root = l
		w.log = l.With().Str("component", "worker").Logger()
	}
}

func NewWorker(cfg WorkerConfig, market SnapshotSource, runner graph.StageRunner, tracker *progress.Tracker, opts ...WorkerOption) *Worker {
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 0
	}
	w := &Worker{
		cfg:     cfg,
		market:  market,
		runner:  runner,
		tracker: tracker,
		notify:  bridge.NotifyJSON,
		root:    zerolog.Nop(),
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Tracker() *progress.Tracker { return w.tracker }

// Initialize validates req and registers it with the tracker. The returned request carries
// the filled-in defaults.
func (w *Worker) Initialize(req JobRequest) (JobRequest, error) {
	req, err := req.normalize(w.now())
	if err != nil {
		return req, err
	}
	if req.JobID == "" {
		return req, errors.New("job id is required")
	}

	err = w.tracker.Initialize(req.JobID, nil, progress.Options{
		AnalystCount:  len(req.SelectedAnalysts),
		ResearchDepth: req.ResearchDepth,
		ProviderSpeed: req.ProviderSpeed,
	})
	if errors.Is(err, progress.ErrJobExists) {
		return req, fmt.Errorf("%s: %w", req.JobID, ErrJobExists)
	}
	return req, err
}

// Run initializes and executes req on the calling goroutine.
func (w *Worker) Run(ctx context.Context, req JobRequest) (Result, error) {
	req, err := w.Initialize(req)
	if err != nil {
		return Result{JobID: req.JobID}, err
	}
	res := w.Execute(ctx, req)
	return res, res.Err
}

// Execute runs an initialized job to a terminal status. Cancellation yields a Cancelled
// result with a nil Err.
func (w *Worker) Execute(ctx context.Context, req JobRequest) Result {
	log := w.log.With().Str("job_id", req.JobID).Str("symbol", req.Symbol).Logger()
	log.Info().Strs("analysts", req.SelectedAnalysts).Str("trade_date", req.TradeDate.Format("2006-01-02")).Msg("job started")
	w.notify("job.started", map[string]string{"job_id": req.JobID, "symbol": req.Symbol})

	state, err := w.execute(ctx, req, log)
	return w.finish(ctx, req, state, err, log)
}

func (w *Worker) execute(ctx context.Context, req JobRequest, log zerolog.Logger) (*models.TradingState, error) {
	state := models.NewTradingState(req.JobID, req.Symbol, req.TradeDate, req.Prompt, req.SelectedAnalysts)
	if err := ctx.Err(); err != nil {
		return state, err
	}

	w.report(req.JobID, "Fetching market heat snapshot", log)
	snap := w.market.FetchSnapshot(ctx, req.TradeDate, w.cfg.FetchRetries)
	assessment := heat.CalculateHeat(snap)
	state.Snapshot = &snap
	state.Heat = &assessment
	if err := w.tracker.RecordStageResult(req.JobID, consts.Agent_MarketHeat, assessment.Narrative); err != nil {
		log.Warn().Err(err).Msg("heat narrative not recorded")
	}
	log.Info().Float64("score", assessment.Score).Str("level", string(assessment.Level)).
		Str("source", string(snap.SourceQuality)).Int("risk_rounds", assessment.RiskAdjustment.DebateRounds).
		Msg("market heat attached")

	settings := w.cfg.Settings
	if req.DynamicRiskRounds != nil {
		settings.DynamicRiskRounds = *req.DynamicRiskRounds
	}
	obs := &progressObserver{jobID: req.JobID, tracker: w.tracker, notify: w.notify, log: log}
	jobLog := w.root.With().Str("job_id", req.JobID).Logger()
	orch, err := graph.NewOrchestrator(ctx, graph.NewSequencer(settings, jobLog), w.runner,
		graph.WithObserver(obs),
		graph.WithStageTimeout(w.cfg.StageTimeout),
		graph.WithMaxSteps(w.cfg.MaxSteps),
		graph.WithLogger(jobLog),
	)
	if err != nil {
		return state, fmt.Errorf("build pipeline: %w", err)
	}

	out, err := orch.Run(ctx, state)
	if out != nil {
		state = out
	}
	return state, err
}

func (w *Worker) report(jobID, msg string, log zerolog.Logger) {
	if err := w.tracker.Report(jobID, msg, nil); err != nil {
		log.Warn().Err(err).Str("message", msg).Msg("progress report failed")
	}
}

func (w *Worker) finish(ctx context.Context, req JobRequest, state *models.TradingState, runErr error, log zerolog.Logger) Result {
	res := Result{JobID: req.JobID, Heat: state.Heat, Decision: decisionOf(state)}

	var err error
	switch {
	case runErr == nil:
		res.Status = models.JobCompleted
		err = w.tracker.MarkTerminal(req.JobID, true)
	case ctx.Err() != nil:
		res.Status = models.JobCancelled
		err = w.tracker.Cancel(req.JobID)
		log.Info().Err(runErr).Msg("job cancelled")
	default:
		res.Status = models.JobFailed
		res.Err = runErr
		err = w.tracker.Fail(req.JobID, runErr)
		log.Error().Err(runErr).Msg("job failed")
	}
	if err != nil {
		log.Warn().Err(err).Msg("terminal status not recorded")
	}

	w.archiveJob(ctx, req, state, log)

	payload := map[string]string{"job_id": req.JobID, "status": string(res.Status)}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	w.notify("job.finished", payload)
	return res
}

// decisionOf is the output of whichever stage ended the pipeline.
func decisionOf(state *models.TradingState) string {
	for _, s := range []string{state.FinalTradeDecision, state.TraderInvestmentPlan, state.InvestmentPlan} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (w *Worker) archiveJob(ctx context.Context, req JobRequest, state *models.TradingState, log zerolog.Logger) {
	if w.archive == nil {
		return
	}
	rec, err := w.tracker.Record(req.JobID)
	if err != nil {
		log.Warn().Err(err).Msg("archive skipped, no progress record")
		return
	}

	job := sqlite.JobRecord{
		ID:           req.JobID,
		Symbol:       req.Symbol,
		TradeDate:    state.TradeDate,
		Status:       string(rec.Status),
		Percent:      rec.WeightedPercent,
		Decision:     decisionOf(state),
		Error:        rec.Error,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		StageResults: rec.StageResults,
	}
	if state.Heat != nil {
		job.HeatScore = state.Heat.Score
		job.HeatLevel = string(state.Heat.Level)
	}
	if state.Snapshot != nil {
		job.SourceQuality = string(state.Snapshot.SourceQuality)
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := w.archive.ArchiveJob(actx, job); err != nil {
		log.Warn().Err(err).Msg("job archive failed")
	}
}
