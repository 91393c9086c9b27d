package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/dyike/CortexFlow/consts"
	"github.com/dyike/CortexFlow/internal/agents"
	"github.com/dyike/CortexFlow/internal/dataflows"
	"github.com/dyike/CortexFlow/internal/graph"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/dyike/CortexFlow/internal/progress"
	"github.com/dyike/CortexFlow/internal/storage/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tradeDay = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

type neutralMarket struct{}

func (neutralMarket) FetchSnapshot(_ context.Context, date time.Time, _ int) models.MarketSnapshot {
	return dataflows.DefaultSnapshot(date)
}

// hookRunner is the offline runner with a hook before every node.
type hookRunner struct {
	agents.OfflineRunner
	mu     sync.Mutex
	ran    []string
	before func(ctx context.Context, node string) error
}

func (h *hookRunner) Run(ctx context.Context, node string, state *models.TradingState) (*schema.Message, error) {
	h.mu.Lock()
	h.ran = append(h.ran, node)
	h.mu.Unlock()
	if h.before != nil {
		if err := h.before(ctx, node); err != nil {
			return nil, err
		}
	}
	return h.OfflineRunner.Run(ctx, node, state)
}

func (h *hookRunner) count(node string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.ran {
		if r == node {
			n++
		}
	}
	return n
}

type memArchive struct {
	mu   sync.Mutex
	jobs []sqlite.JobRecord
}

func (a *memArchive) ArchiveJob(_ context.Context, job sqlite.JobRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, job)
	return nil
}

func (a *memArchive) last(t *testing.T) sqlite.JobRecord {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.jobs)
	return a.jobs[len(a.jobs)-1]
}

type events struct {
	mu     sync.Mutex
	topics []string
}

func (e *events) notify(topic, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.topics = append(e.topics, topic)
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.topics...)
}

type fixture struct {
	worker  *Worker
	tracker *progress.Tracker
	archive *memArchive
	events  *events
}

func newFixture(runner graph.StageRunner, settings graph.Settings) *fixture {
	f := &fixture{tracker: progress.NewTracker(), archive: &memArchive{}, events: &events{}}
	f.worker = NewWorker(WorkerConfig{Settings: settings, FetchRetries: 1}, neutralMarket{}, runner, f.tracker,
		WithArchive(f.archive),
		WithNotifier(f.events.notify),
		WithLogger(zerolog.Nop()),
	)
	return f
}

func request(id string) JobRequest {
	return JobRequest{
		JobID:            id,
		Symbol:           "nvda",
		TradeDate:        tradeDay,
		SelectedAnalysts: []string{consts.MarketAnalyst, consts.NewsAnalyst},
	}
}

func TestWorker_CompletesJob(t *testing.T) {
	runner := &hookRunner{}
	f := newFixture(runner, graph.DefaultSettings())

	res, err := f.worker.Run(context.Background(), request("job-1"))
	require.NoError(t, err)

	assert.Equal(t, models.JobCompleted, res.Status)
	require.NotNil(t, res.Heat)
	assert.Equal(t, 50.0, res.Heat.Score)
	assert.Contains(t, res.Decision, "**HOLD**")
	assert.Equal(t, 3, runner.count(consts.RiskyAnalyst)+runner.count(consts.SafeAnalyst)+runner.count(consts.NeutralAnalyst))

	v, err := f.tracker.Snapshot("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, v.Status)
	assert.Equal(t, 1.0, v.Percent)

	rec := f.archive.last(t)
	assert.Equal(t, "NVDA", rec.Symbol)
	assert.Equal(t, "2024-05-10", rec.TradeDate)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, 1.0, rec.Percent)
	assert.Equal(t, "normal", rec.HeatLevel)
	assert.Equal(t, "default", rec.SourceQuality)
	assert.Contains(t, rec.StageResults, "Market Heat")
	assert.Contains(t, rec.StageResults, "Trader")
	assert.Contains(t, rec.StageResults["Portfolio Manager"], "**HOLD**")

	topics := f.events.list()
	require.NotEmpty(t, topics)
	assert.Equal(t, "job.started", topics[0])
	assert.Equal(t, "job.finished", topics[len(topics)-1])
	assert.Contains(t, topics, "job.stage")
}

func TestWorker_DynamicOverrideUsesFixedBudget(t *testing.T) {
	runner := &hookRunner{}
	settings := graph.DefaultSettings()
	settings.MaxRiskDiscussRounds = 2
	f := newFixture(runner, settings)

	off := false
	req := request("job-fixed")
	req.DynamicRiskRounds = &off
	_, err := f.worker.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, runner.count(consts.NeutralAnalyst))
}

func TestWorker_StageErrorFailsJob(t *testing.T) {
	runner := &hookRunner{before: func(_ context.Context, node string) error {
		if node == consts.Trader {
			return errors.New("model unavailable")
		}
		return nil
	}}
	f := newFixture(runner, graph.DefaultSettings())

	res, err := f.worker.Run(context.Background(), request("job-2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Equal(t, models.JobFailed, res.Status)

	v, _ := f.tracker.Snapshot("job-2")
	assert.Equal(t, models.JobFailed, v.Status)
	assert.InDelta(t, 0.60, v.Percent, 1e-9)
	assert.Contains(t, v.Error, "model unavailable")
	assert.Zero(t, runner.count(consts.RiskyAnalyst))

	rec := f.archive.last(t)
	assert.Equal(t, "failed", rec.Status)
	assert.Contains(t, rec.Error, "model unavailable")
}

func TestWorker_CancellationIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &hookRunner{before: func(_ context.Context, node string) error {
		if node == consts.Trader {
			cancel()
		}
		return nil
	}}
	f := newFixture(runner, graph.DefaultSettings())

	res, err := f.worker.Run(ctx, request("job-3"))
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, res.Status)

	v, _ := f.tracker.Snapshot("job-3")
	assert.Equal(t, models.JobCancelled, v.Status)
	assert.Less(t, v.Percent, 1.0)
	assert.Zero(t, runner.count(consts.RiskyAnalyst))
	assert.Equal(t, "cancelled", f.archive.last(t).Status)
}

func TestWorker_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &hookRunner{}
	f := newFixture(runner, graph.DefaultSettings())

	res, err := f.worker.Run(ctx, request("job-4"))
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, res.Status)
	assert.Empty(t, runner.ran)
}

func TestWorker_StageTimeoutFailsJob(t *testing.T) {
	runner := &hookRunner{before: func(ctx context.Context, node string) error {
		if node == consts.BullResearcher {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}}
	f := newFixture(runner, graph.DefaultSettings())
	f.worker.cfg.StageTimeout = 50 * time.Millisecond

	res, err := f.worker.Run(context.Background(), request("job-5"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), graph.ErrStageTimeout.Error())
	assert.Equal(t, models.JobFailed, res.Status)
}

func TestWorker_RejectsDuplicateAndInvalid(t *testing.T) {
	f := newFixture(&hookRunner{}, graph.DefaultSettings())

	_, err := f.worker.Initialize(request("dup"))
	require.NoError(t, err)
	_, err = f.worker.Initialize(request("dup"))
	assert.ErrorIs(t, err, ErrJobExists)

	_, err = f.worker.Initialize(JobRequest{JobID: "x"})
	assert.Error(t, err)
	_, err = f.worker.Initialize(JobRequest{Symbol: "AAPL"})
	assert.Error(t, err)
}

func TestStatusMessagesClassifyToTheirStage(t *testing.T) {
	c := progress.DefaultClassifier()
	want := map[string]int{
		consts.JobStart:            progress.StagePreparation,
		consts.MarketAnalyst:       progress.StageMarketSocial,
		consts.SocialMediaAnalyst:  progress.StageMarketSocial,
		consts.NewsAnalyst:         progress.StageNewsFundamentals,
		consts.FundamentalsAnalyst: progress.StageNewsFundamentals,
		consts.BullResearcher:      progress.StageInvestmentDebate,
		consts.BearResearcher:      progress.StageInvestmentDebate,
		consts.ResearchManager:     progress.StageInvestmentDebate,
		consts.Trader:              progress.StageTrader,
		consts.RiskyAnalyst:        progress.StageRiskDebate,
		consts.SafeAnalyst:         progress.StageRiskDebate,
		consts.NeutralAnalyst:      progress.StageRiskDebate,
		consts.RiskJudge:           progress.StageFinalDecision,
	}
	for node, stage := range want {
		msg, ok := statusMessage(node)
		require.True(t, ok, node)
		got, final, matched := c.Classify(msg)
		assert.True(t, matched, msg)
		assert.False(t, final, msg)
		assert.Equal(t, stage, got, msg)
	}

	_, ok := statusMessage(consts.ToolsNode(consts.MarketAnalyst))
	assert.False(t, ok)
	msg, _ := statusMessage(consts.Trader)
	assert.True(t, strings.HasPrefix(msg, "Trader"))
}

func TestJobRequest_Normalize(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 4, 5, 0, time.UTC)

	req, err := JobRequest{Symbol: " aapl ", SelectedAnalysts: []string{consts.NewsAnalyst, consts.NewsAnalyst}}.normalize(now)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", req.Symbol)
	assert.Equal(t, tradeDay, req.TradeDate)
	assert.Equal(t, []string{consts.NewsAnalyst}, req.SelectedAnalysts)
	assert.Equal(t, consts.DepthStandard, req.ResearchDepth)
	assert.Equal(t, consts.SpeedNormal, req.ProviderSpeed)
	assert.Contains(t, req.Prompt, "AAPL")

	req, err = JobRequest{Symbol: "AAPL"}.normalize(now)
	require.NoError(t, err)
	assert.Equal(t, consts.Analysts, req.SelectedAnalysts)

	for _, bad := range []JobRequest{
		{},
		{Symbol: "AAPL", SelectedAnalysts: []string{"astrologer"}},
		{Symbol: "AAPL", ResearchDepth: 7},
		{Symbol: "AAPL", ProviderSpeed: "warp"},
	} {
		_, err := bad.normalize(now)
		assert.Error(t, err, "%+v", bad)
	}
}
