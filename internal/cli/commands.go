package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexFlow/config"
	"github.com/dyike/CortexFlow/internal/heat"
	"github.com/dyike/CortexFlow/internal/logging"
	"github.com/dyike/CortexFlow/internal/metrics"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/dyike/CortexFlow/internal/progress"
	"github.com/dyike/CortexFlow/internal/service"
	"github.com/dyike/CortexFlow/internal/storage/sqlite"
	"github.com/dyike/CortexFlow/pkg/app"
	"github.com/rs/zerolog"
)

// Version is stamped at build time.
var Version = "dev"

type rootOptions struct {
	configPath string
	debug      bool
	logLevel   string
}

// load reads the config file given with --config, or the environment and .env otherwise.
func (o *rootOptions) load() (*config.Config, error) {
	var cfg *config.Config
	if o.configPath != "" {
		mgr, err := config.NewManager(config.WithConfigPath(o.configPath))
		if err != nil {
			return nil, err
		}
		c := mgr.Get()
		cfg = &c
	} else {
		cfg = config.DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if o.debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg *config.Config, w io.Writer) zerolog.Logger {
	return logging.New(logging.Config{Level: cfg.LogLevel, Pretty: true, Output: w})
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "cortexflow",
		Short: "CortexFlow - market-heat aware multi-agent trading analysis",
		Long: `CortexFlow runs a multi-agent trading analysis pipeline. Each job scores the market's
heat first, uses it to size the risk debate, and reports weighted progress while it runs.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: interactive analysis
			return runAnalyze(cmd, opts, &analyzeOptions{interactive: true, interval: time.Second}, nil)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Configuration file path (JSON); environment and .env are used when empty")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error, disabled")

	rootCmd.AddCommand(newHeatCmd(opts))
	rootCmd.AddCommand(newAnalyzeCmd(opts))
	rootCmd.AddCommand(newBatchCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format, use YYYY-MM-DD: %w", err)
	}
	return d, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newHeatCmd(opts *rootOptions) *cobra.Command {
	var (
		date    string
		score   float64
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "heat",
		Short: "Score the market heat for a trading day",
		Long: `Fetch the market snapshot for a day (live statistics, then an index based estimate,
then neutral defaults) and score it. --score skips the fetch and assesses a given score.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var h models.HeatAssessment
			if cmd.Flags().Changed("score") {
				h = heat.Assess(score)
			} else {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				day, err := parseDate(date)
				if err != nil {
					return err
				}
				if day.IsZero() {
					day = time.Now()
				}
				provider := app.NewProvider(*cfg, metrics.Nop{}, opts.logger(cfg, cmd.ErrOrStderr()))
				h = heat.CalculateHeat(provider.FetchSnapshot(cmd.Context(), day, cfg.FetchRetries))
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), h)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHeat(h))
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Trading date in YYYY-MM-DD format (today if not provided)")
	cmd.Flags().Float64Var(&score, "score", 0, "Assess this heat score (0-100) instead of fetching market data")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the assessment as JSON")
	return cmd
}

type analyzeOptions struct {
	date        string
	analysts    []string
	depth       int
	speed       string
	dynamicRisk bool
	jobID       string
	interactive bool
	interval    time.Duration
	jsonOut     bool
}

// newAnalyzeCmd creates the analyze command
func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	ao := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze [SYMBOL]",
		Short: "Run trading analysis for a stock symbol",
		Long: `Run the full analysis pipeline for a ticker and follow its progress.
Example: cortexflow analyze AAPL --date=2024-03-15 --analysts market_analyst,news_analyst`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, opts, ao, args)
		},
	}

	cmd.Flags().StringVar(&ao.date, "date", "", "Analysis date in YYYY-MM-DD format (today if not provided)")
	cmd.Flags().StringSliceVar(&ao.analysts, "analysts", nil, "Analysts to run (default all)")
	cmd.Flags().IntVar(&ao.depth, "depth", 0, "Research depth 1-5 (default 3)")
	cmd.Flags().StringVar(&ao.speed, "speed", "", "LLM provider speed: fast, normal or slow")
	cmd.Flags().BoolVar(&ao.dynamicRisk, "dynamic-risk", true, "Size the risk debate by market heat (overrides config when set)")
	cmd.Flags().StringVar(&ao.jobID, "job-id", "", "Job id (generated when empty)")
	cmd.Flags().BoolVarP(&ao.interactive, "interactive", "i", false, "Prompt for anything not given as a flag")
	cmd.Flags().DurationVar(&ao.interval, "interval", time.Second, "Progress refresh interval")
	cmd.Flags().BoolVar(&ao.jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *rootOptions, ao *analyzeOptions, args []string) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	req := service.JobRequest{
		JobID:            ao.jobID,
		SelectedAnalysts: ao.analysts,
		ResearchDepth:    ao.depth,
		ProviderSpeed:    ao.speed,
	}
	if len(args) > 0 {
		req.Symbol = args[0]
	}
	if req.TradeDate, err = parseDate(ao.date); err != nil {
		return err
	}
	if cmd.Flags().Changed("dynamic-risk") {
		v := ao.dynamicRisk
		req.DynamicRiskRounds = &v
	}
	if ao.interactive || req.Symbol == "" {
		if req, err = PromptForRequest(req); err != nil {
			return err
		}
	}

	log := opts.logger(cfg, cmd.ErrOrStderr())
	engine, err := app.BuildEngine(*cfg, app.WithLogger(log))
	if err != nil {
		return err
	}
	defer engine.Close()

	stopMetrics := serveMetrics(cfg.MetricsAddr, engine.MetricsHandler(), log)
	defer stopMetrics()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := engine.Jobs.Start(req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !ao.jsonOut {
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Analyzing %s (job %s)", req.Symbol, id)))
	}
	var progressOut io.Writer = out
	if ao.jsonOut {
		progressOut = io.Discard
	}
	res, view, err := watchJob(ctx, progressOut, engine.Jobs, engine.Tracker, id, ao.interval)
	if err != nil {
		return err
	}

	if ao.jsonOut {
		if err := writeJSON(out, struct {
			service.Result
			Progress progress.View `json:"progress"`
		}{res, view}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, renderResult(res, view))
	}

	if res.Status == models.JobFailed {
		if res.Err == nil {
			return errors.New("analysis failed")
		}
		return fmt.Errorf("analysis failed: %w", res.Err)
	}
	return nil
}

// watchJob prints a progress line whenever the job moves and returns once it has ended.
// A done ctx cancels the job; the call still waits for it to wind down.
func watchJob(ctx context.Context, out io.Writer, jobs *service.Manager, tracker *progress.Tracker, id string, interval time.Duration) (service.Result, progress.View, error) {
	if interval <= 0 {
		interval = time.Second
	}
	poller := tracker.NewPoller(id)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		res  service.Result
		werr error
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		res, werr = jobs.Wait(context.Background(), id)
	}()

	var (
		last string
		view progress.View
	)
	show := func() {
		v, err := poller.Poll()
		if err != nil {
			return
		}
		view = v
		key := fmt.Sprintf("%s|%d|%.4f|%s", v.Status, v.CurrentStageIndex, v.Percent, v.Message)
		if key != last {
			last = key
			fmt.Fprintln(out, progressLine(v))
		}
	}

	cancelled := ctx.Done()
	for {
		select {
		case <-done:
			show()
			return res, view, werr
		case <-ticker.C:
			show()
		case <-cancelled:
			cancelled = nil
			fmt.Fprintln(out, errorStyle.Render("Interrupted, cancelling job..."))
			if err := jobs.Cancel(id); err != nil && !errors.Is(err, service.ErrJobNotFound) {
				return res, view, err
			}
		}
	}
}

// serveMetrics exposes /metrics on addr until the returned func is called.
func serveMetrics(addr string, handler http.Handler, log zerolog.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "status [JOB_ID]",
		Short: "Show job progress from the shared progress cache and the archive",
		Long: `Without a job id, lists the jobs in the shared progress cache (NATS) and the most
recent archived jobs. With an id, shows that job.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var mirror *progress.KVMirror
			if cfg.NATSURL != "" {
				m, closeMirror, err := app.OpenMirror(ctx, *cfg)
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("progress cache unavailable: "+err.Error()))
				} else {
					mirror = m
					defer closeMirror()
				}
			}
			var store *sqlite.Store
			if cfg.ArchivePath != "" {
				if _, err := os.Stat(cfg.ArchivePath); err == nil {
					if store, err = sqlite.Open(cfg.ArchivePath); err != nil {
						return err
					}
					defer store.Close()
				}
			}
			if mirror == nil && store == nil {
				return errors.New("no progress cache or job archive available")
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				return showJob(ctx, out, mirror, store, args[0], jsonOut)
			}
			return listJobs(ctx, out, mirror, store, limit, jsonOut)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of archived jobs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")
	return cmd
}

func showJob(ctx context.Context, out io.Writer, mirror *progress.KVMirror, store *sqlite.Store, id string, jsonOut bool) error {
	if mirror != nil {
		rec, err := mirror.Get(ctx, id)
		if err == nil {
			if jsonOut {
				return writeJSON(out, rec)
			}
			fmt.Fprintln(out, renderRecord(rec, time.Now()))
			return nil
		}
		if !errors.Is(err, progress.ErrJobNotFound) {
			return err
		}
	}
	if store != nil {
		j, err := store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if j != nil {
			if jsonOut {
				return writeJSON(out, j)
			}
			fmt.Fprintln(out, renderArchived(j))
			return nil
		}
	}
	return fmt.Errorf("job %s not found", id)
}

func listJobs(ctx context.Context, out io.Writer, mirror *progress.KVMirror, store *sqlite.Store, limit int, jsonOut bool) error {
	var (
		live     []*models.JobProgress
		archived []sqlite.JobWithMeta
		err      error
	)
	if mirror != nil {
		if live, err = mirror.List(ctx); err != nil {
			return err
		}
		sort.Slice(live, func(i, j int) bool { return live[i].StartedAt.After(live[j].StartedAt) })
	}
	if store != nil {
		if archived, err = store.ListJobs(ctx, 0, limit); err != nil {
			return err
		}
	}

	if jsonOut {
		return writeJSON(out, map[string]any{"live": live, "archived": archived})
	}
	if mirror != nil {
		fmt.Fprintln(out, titleStyle.Render("Live jobs"))
		if len(live) == 0 {
			fmt.Fprintln(out, pendingStyle.Render("  none"))
		}
		for _, rec := range live {
			fmt.Fprintln(out, recordLine(rec))
		}
	}
	if store != nil {
		fmt.Fprintln(out, titleStyle.Render("Archived jobs"))
		if len(archived) == 0 {
			fmt.Fprintln(out, pendingStyle.Render("  none"))
		}
		for _, j := range archived {
			fmt.Fprintln(out, archivedLine(j))
		}
	}
	return nil
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cortexflow %s\n", Version)
		},
	}
}
