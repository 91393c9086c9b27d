package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyike/CortexFlow/config"
	"github.com/dyike/CortexFlow/internal/agents"
	"github.com/dyike/CortexFlow/internal/dataflows"
	"github.com/dyike/CortexFlow/internal/debug"
	"github.com/dyike/CortexFlow/internal/graph"
	"github.com/dyike/CortexFlow/internal/logging"
	"github.com/dyike/CortexFlow/internal/metrics"
	"github.com/dyike/CortexFlow/internal/progress"
	"github.com/dyike/CortexFlow/internal/service"
	"github.com/dyike/CortexFlow/internal/storage/sqlite"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	marketStatsTimeout = 10 * time.Second
	natsConnectTimeout = 5 * time.Second
)

// Engine is one immutable build of the pipeline from a Config. A config change builds a
// new Engine; the old one finishes its jobs and is closed.
type Engine struct {
	Config  config.Config
	BuiltAt time.Time
	Version uint64

	Provider *dataflows.Provider
	Tracker  *progress.Tracker
	Worker   *service.Worker
	Jobs     *service.Manager
	// Archive is nil when no archive path is configured.
	Archive *sqlite.Store
	// Mirror is nil when NATS is not configured or unreachable.
	Mirror *progress.KVMirror

	registry *prometheus.Registry
	log      zerolog.Logger
	closers  []func() error
	once     sync.Once
}

var engineSeq atomic.Uint64

type engineOptions struct {
	log    *zerolog.Logger
	runner graph.StageRunner
	market service.SnapshotSource
}

type EngineOption func(*engineOptions)

// WithLogger overrides the logger otherwise built from the config's level and debug flag.
func WithLogger(l zerolog.Logger) EngineOption {
	return func(o *engineOptions) { o.log = &l }
}

// WithRunner replaces the model-backed stage runner.
func WithRunner(r graph.StageRunner) EngineOption {
	return func(o *engineOptions) { o.runner = r }
}

// WithSnapshotSource replaces the market data provider the worker reads from.
func WithSnapshotSource(s service.SnapshotSource) EngineOption {
	return func(o *engineOptions) { o.market = s }
}

func BuildEngine(cfg config.Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.Debug})
	if o.log != nil {
		log = *o.log
	}

	e := &Engine{
		Config:   cfg,
		BuiltAt:  time.Now(),
		Version:  engineSeq.Add(1),
		registry: prometheus.NewRegistry(),
	}
	e.log = log.With().Uint64("engine", e.Version).Logger()

	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	if cfg.EinoDebug {
		if err := debug.StartDevops(context.Background(), e.log); err != nil {
			e.log.Warn().Err(err).Msg("graph debugger unavailable")
		}
	}

	collector := metrics.NewPrometheus(e.registry, "cortexflow")
	e.Provider = NewProvider(cfg, collector, e.log)

	runner := o.runner
	if runner == nil {
		var err error
		runner, err = buildRunner(cfg, e.Provider, e.log)
		if err != nil {
			return nil, err
		}
	}

	trackerOpts := []progress.TrackerOption{
		progress.WithMetrics(collector),
		progress.WithLogger(e.log),
	}
	if cfg.NATSURL != "" {
		mirror, closeMirror, err := OpenMirror(context.Background(), cfg)
		if err != nil {
			// the in-process registry stays authoritative without the shared copy
			e.log.Warn().Err(err).Str("url", cfg.NATSURL).Msg("progress mirror unavailable")
		} else {
			e.Mirror = mirror
			e.closers = append(e.closers, closeMirror)
			trackerOpts = append(trackerOpts, progress.WithMirror(mirror))
		}
	}
	e.Tracker = progress.NewTracker(trackerOpts...)

	workerOpts := []service.WorkerOption{service.WithLogger(e.log)}
	if cfg.ArchivePath != "" {
		store, err := sqlite.Open(cfg.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("open job archive: %w", err)
		}
		e.Archive = store
		e.closers = append(e.closers, store.Close)
		workerOpts = append(workerOpts, service.WithArchive(store))
	}

	market := o.market
	if market == nil {
		market = e.Provider
	}
	e.Worker = service.NewWorker(service.WorkerConfig{
		Settings: graph.Settings{
			MaxDebateRounds:      cfg.MaxDebateRounds,
			MaxRiskDiscussRounds: cfg.MaxRiskDiscussRounds,
			DynamicRiskRounds:    cfg.DynamicRiskRounds,
			FinalStage:           cfg.FinalStage,
		},
		StageTimeout: cfg.StageTimeout(),
		FetchRetries: cfg.FetchRetries,
		MaxSteps:     cfg.MaxRecurLimit,
	}, market, runner, e.Tracker, workerOpts...)

	jobs, err := service.NewManager(e.Worker, service.ManagerConfig{
		Retention:     cfg.Retention(),
		SweepSchedule: cfg.SweepSchedule,
	}, e.log)
	if err != nil {
		return nil, err
	}
	e.Jobs = jobs

	ok = true
	e.log.Info().Str("llm", cfg.LLMProvider).Bool("mirror", e.Mirror != nil).Bool("archive", e.Archive != nil).Msg("engine built")
	return e, nil
}

// NewProvider builds the market data ladder described by cfg.
func NewProvider(cfg config.Config, collector metrics.Collector, log zerolog.Logger) *dataflows.Provider {
	opts := []dataflows.Option{
		dataflows.WithMetrics(collector),
		dataflows.WithLogger(log),
	}
	if cfg.MarketStatsURL != "" {
		opts = append(opts, dataflows.WithLiveSource(
			dataflows.NewMarketStatsClient(cfg.MarketStatsURL, cfg.MarketStatsAPIKey, marketStatsTimeout)))
	}

	var indices dataflows.MultiIndexSource
	if len(cfg.YahooIndices) > 0 {
		indices = append(indices, dataflows.NewYahooIndexSource(cfg.YahooIndices))
	}
	if cfg.LongportAppKey != "" {
		lp, err := dataflows.NewLongportIndexSource(cfg.LongportAppKey, cfg.LongportAppSecret, cfg.LongportAccessToken, cfg.LongportIndices)
		if err != nil {
			log.Warn().Err(err).Msg("longport index source disabled")
		} else {
			indices = append(indices, lp)
		}
	}
	if len(indices) > 0 {
		opts = append(opts, dataflows.WithIndexSource(indices))
	}

	if cfg.CacheEnabled {
		opts = append(opts, dataflows.WithCache(dataflows.NewCacheManager(cfg.DataCacheDir, cfg.CacheTTL())))
	}
	return dataflows.NewProvider(opts...)
}

func buildRunner(cfg config.Config, provider *dataflows.Provider, log zerolog.Logger) (graph.StageRunner, error) {
	if cfg.LLMProvider == "offline" {
		return &agents.OfflineRunner{}, nil
	}
	cm, err := agents.NewChatModel(context.Background(), agents.ModelConfig{
		Provider:  cfg.LLMProvider,
		APIKey:    cfg.DeepSeekAPIKey,
		BaseURL:   cfg.BackendURL,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return agents.NewChatRunner(cm, provider.IndexSource(), log), nil
}

// OpenMirror connects to NATS and opens the progress bucket named in cfg.
func OpenMirror(ctx context.Context, cfg config.Config) (*progress.KVMirror, func() error, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("cortexflow"),
		nats.Timeout(natsConnectTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, natsConnectTimeout)
	defer cancel()
	mirror, err := progress.NewKVMirror(ctx, js, cfg.ProgressBucket, cfg.ProgressTTL())
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return mirror, func() error { return nc.Drain() }, nil
}

// MetricsHandler serves this engine's collectors.
func (e *Engine) MetricsHandler() http.Handler {
	return metrics.Handler(e.registry)
}

func (e *Engine) Logger() zerolog.Logger { return e.log }

// Retire waits for running jobs to finish, up to ctx, then closes the engine.
func (e *Engine) Retire(ctx context.Context) error {
	if e.Jobs != nil {
		for _, id := range e.Jobs.Active() {
			if _, err := e.Jobs.Wait(ctx, id); err != nil && !errors.Is(err, service.ErrJobNotFound) {
				e.log.Warn().Err(err).Str("job_id", id).Msg("retiring engine with job still running")
				break
			}
		}
	}
	return e.Close()
}

// Close cancels running jobs and releases the archive and NATS connection.
func (e *Engine) Close() error {
	var errs []error
	e.once.Do(func() {
		if e.Jobs != nil {
			e.Jobs.Close()
		}
		for i := len(e.closers) - 1; i >= 0; i-- {
			if err := e.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
