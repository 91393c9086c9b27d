package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexFlow/config"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/dyike/CortexFlow/internal/service"
	"github.com/dyike/CortexFlow/pkg/app"
)

const maxConcurrent = 10

// BatchResult is how one symbol of a batch ended.
type BatchResult struct {
	Symbol   string
	JobID    string
	Status   models.JobStatus
	Decision string
	Error    string
	Duration time.Duration
}

// BatchManager runs several symbols through the current engine of a Runtime. Jobs started
// after a config change run on the rebuilt engine.
type BatchManager struct {
	runtime    *app.Runtime
	concurrent int
	out        io.Writer

	mu sync.Mutex
}

func NewBatchManager(rt *app.Runtime, concurrent int, out io.Writer) *BatchManager {
	if concurrent <= 0 || concurrent > maxConcurrent {
		concurrent = 3
	}
	return &BatchManager{runtime: rt, concurrent: concurrent, out: out}
}

// RunBatchAnalysis runs every request and returns the results in request order.
func (bm *BatchManager) RunBatchAnalysis(ctx context.Context, reqs []service.JobRequest) ([]BatchResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("no symbols provided for batch analysis")
	}

	results := make([]BatchResult, len(reqs))
	semaphore := make(chan struct{}, bm.concurrent)
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req service.JobRequest) {
			defer wg.Done()
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				results[i] = BatchResult{Symbol: strings.ToUpper(req.Symbol), Status: models.JobCancelled}
				return
			}
			defer func() { <-semaphore }()

			results[i] = bm.runOne(ctx, req)
			bm.report(results[i])
		}(i, req)
	}
	wg.Wait()
	return results, nil
}

func (bm *BatchManager) runOne(ctx context.Context, req service.JobRequest) (res BatchResult) {
	res = BatchResult{Symbol: strings.ToUpper(strings.TrimSpace(req.Symbol))}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	engine := bm.runtime.Engine()
	if engine == nil {
		res.Status, res.Error = models.JobFailed, "engine closed"
		return res
	}
	id, err := engine.Jobs.Start(req)
	if err != nil {
		res.Status, res.Error = models.JobFailed, err.Error()
		return res
	}
	res.JobID = id

	out, err := engine.Jobs.Wait(ctx, id)
	if err != nil {
		_ = engine.Jobs.Cancel(id)
		out, err = engine.Jobs.Wait(context.Background(), id)
		if err != nil {
			res.Status, res.Error = models.JobFailed, err.Error()
			return res
		}
	}
	res.Status = out.Status
	res.Decision = out.Decision
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	return res
}

func (bm *BatchManager) report(r BatchResult) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	line := fmt.Sprintf("%-10s %s %s", r.Symbol, statusStyle(r.Status).Render(fmt.Sprintf("%-10s", r.Status)),
		labelStyle.Render(formatDuration(r.Duration)))
	switch {
	case r.Error != "":
		line += " " + errorStyle.Render(truncateString(r.Error, 60))
	case r.Decision != "":
		line += " " + truncateString(firstLine(r.Decision), 60)
	}
	fmt.Fprintln(bm.out, line)
}

func summarize(results []BatchResult) (completed, failed, cancelled int) {
	for _, r := range results {
		switch r.Status {
		case models.JobCompleted:
			completed++
		case models.JobCancelled:
			cancelled++
		default:
			failed++
		}
	}
	return completed, failed, cancelled
}

func newBatchCmd(opts *rootOptions) *cobra.Command {
	var (
		date       string
		concurrent int
		analysts   []string
		depth      int
	)
	cmd := &cobra.Command{
		Use:   "batch SYMBOL...",
		Short: "Analyze several symbols concurrently",
		Long: `Analyze several symbols with a bounded number of concurrent jobs. The config file is
watched while the batch runs; edits apply to jobs that have not started yet.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDate(date)
			if err != nil {
				return err
			}
			initial, err := opts.load()
			if err != nil {
				return err
			}
			log := opts.logger(initial, cmd.ErrOrStderr())

			mgr, err := config.NewManager(
				config.WithConfigPath(opts.configPath),
				config.WithInitialConfig(initial),
				config.WithLogger(log),
			)
			if err != nil {
				return err
			}
			rt, err := app.NewRuntime(mgr,
				app.WithEngineOptions(app.WithLogger(log)),
				app.WithRuntimeLogger(log),
			)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reqs := make([]service.JobRequest, len(args))
			for i, symbol := range args {
				reqs[i] = service.JobRequest{
					Symbol:           symbol,
					TradeDate:        day,
					SelectedAnalysts: analysts,
					ResearchDepth:    depth,
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Batch analysis of %d symbols", len(reqs))))
			results, err := NewBatchManager(rt, concurrent, out).RunBatchAnalysis(ctx, reqs)
			if err != nil {
				return err
			}

			completed, failed, cancelled := summarize(results)
			fmt.Fprintf(out, "%s %d completed, %d failed, %d cancelled\n", titleStyle.Render("Done:"), completed, failed, cancelled)
			if failed > 0 {
				return errors.New("some analyses failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Analysis date in YYYY-MM-DD format (today if not provided)")
	cmd.Flags().IntVarP(&concurrent, "concurrent", "c", 3, "Maximum concurrent analyses (1-10)")
	cmd.Flags().StringSliceVar(&analysts, "analysts", nil, "Analysts to run (default all)")
	cmd.Flags().IntVar(&depth, "depth", 0, "Research depth 1-5 (default 3)")
	return cmd
}
