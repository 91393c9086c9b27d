package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/dyike/CortexFlow/consts"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/rs/zerolog"
)

// ErrStageTimeout is returned when a single stage exceeds its time limit.
var ErrStageTimeout = errors.New("stage timed out")

// StageRunner produces the content of one pipeline node. It may mutate state and
// returns the message the node produced, if any.
type StageRunner interface {
	Run(ctx context.Context, node string, state *models.TradingState) (*schema.Message, error)
}

// StageObserver is told about node boundaries, typically to drive progress reporting.
type StageObserver interface {
	StageStarted(ctx context.Context, state *models.TradingState, node string)
	StageFinished(ctx context.Context, state *models.TradingState, node string, msg *schema.Message)
}

type nopObserver struct{}

func (nopObserver) StageStarted(context.Context, *models.TradingState, string) {}
func (nopObserver) StageFinished(context.Context, *models.TradingState, string, *schema.Message) {
}

// Nodes lists every node id the orchestrator compiles, in pipeline order.
func Nodes() []string {
	nodes := []string{consts.JobStart}
	for _, a := range consts.Analysts {
		nodes = append(nodes, a, consts.ToolsNode(a), consts.ClearNode(a))
	}
	return append(nodes,
		consts.BullResearcher,
		consts.BearResearcher,
		consts.ResearchManager,
		consts.Trader,
		consts.RiskyAnalyst,
		consts.SafeAnalyst,
		consts.NeutralAnalyst,
		consts.RiskJudge,
	)
}

type orchestratorOptions struct {
	observer     StageObserver
	stageTimeout time.Duration
	maxSteps     int
	log          zerolog.Logger
}

type Option func(*orchestratorOptions)

func WithObserver(o StageObserver) Option {
	return func(opts *orchestratorOptions) {
		if o != nil {
			opts.observer = o
		}
	}
}

// WithStageTimeout bounds every single node run. Zero disables the limit.
func WithStageTimeout(d time.Duration) Option {
	return func(opts *orchestratorOptions) { opts.stageTimeout = d }
}

func WithMaxSteps(n int) Option {
	return func(opts *orchestratorOptions) {
		if n > 0 {
			opts.maxSteps = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(opts *orchestratorOptions) { opts.log = l }
}

// Orchestrator runs one job through the compiled stage graph.
type Orchestrator struct {
	runnable compose.Runnable[*models.TradingState, *models.TradingState]
	seq      *Sequencer
	runner   StageRunner
	opts     orchestratorOptions
	log      zerolog.Logger
}

func NewOrchestrator(ctx context.Context, seq *Sequencer, runner StageRunner, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		seq:    seq,
		runner: runner,
		opts: orchestratorOptions{
			observer: nopObserver{},
			maxSteps: 200,
			log:      zerolog.Nop(),
		},
	}
	for _, opt := range opts {
		opt(&o.opts)
	}
	o.log = o.opts.log.With().Str("component", "orchestrator").Logger()

	g := compose.NewGraph[*models.TradingState, *models.TradingState]()

	outMap := map[string]bool{compose.END: true}
	nodes := Nodes()
	for _, node := range nodes[1:] {
		outMap[node] = true
	}

	for _, node := range nodes {
		if err := g.AddLambdaNode(node, compose.InvokableLambdaWithOption(o.stage(node)), compose.WithNodeName(node)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", node, err)
		}
	}
	// branch end nodes must already be in the graph
	for _, node := range nodes {
		if err := g.AddBranch(node, compose.NewGraphBranch(o.route, outMap)); err != nil {
			return nil, fmt.Errorf("add branch %s: %w", node, err)
		}
	}
	if err := g.AddEdge(compose.START, consts.JobStart); err != nil {
		return nil, err
	}

	r, err := g.Compile(ctx,
		compose.WithGraphName("CortexFlow-Pipeline"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(o.opts.maxSteps),
	)
	if err != nil {
		return nil, fmt.Errorf("compile pipeline: %w", err)
	}
	o.runnable = r
	return o, nil
}

func (o *Orchestrator) Sequencer() *Sequencer { return o.seq }

// Run drives state from job_start to END. Cancelling ctx stops the job before the next node.
func (o *Orchestrator) Run(ctx context.Context, state *models.TradingState) (*models.TradingState, error) {
	if state == nil {
		return nil, errors.New("nil job state")
	}
	out, err := o.runnable.Invoke(ctx, state, compose.WithCallbacks(NewLogCallback(o.log)))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return state, ctxErr
		}
		return state, err
	}
	return out, nil
}

func (o *Orchestrator) route(ctx context.Context, state *models.TradingState) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return o.seq.Advance(state), nil
}

func (o *Orchestrator) stage(node string) func(context.Context, *models.TradingState, ...any) (*models.TradingState, error) {
	return func(ctx context.Context, state *models.TradingState, _ ...any) (*models.TradingState, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if state == nil {
			return nil, errors.New("nil job state")
		}

		o.opts.observer.StageStarted(ctx, state, node)

		var msg *schema.Message
		if node != consts.JobStart {
			var err error
			msg, err = o.runStage(ctx, node, state)
			if err != nil {
				o.log.Warn().Err(err).Str("job_id", state.JobID).Str("node", node).Msg("stage failed")
				return nil, err
			}
		}

		// a debate turn counts even when the runner produced no message
		var content string
		if msg != nil {
			content = msg.Content
		}
		o.seq.RecordTurn(state, node, content)
		state.Sender = node
		state.CurrentIteration++

		o.opts.observer.StageFinished(ctx, state, node, msg)
		return state, nil
	}
}

func (o *Orchestrator) runStage(ctx context.Context, node string, state *models.TradingState) (*schema.Message, error) {
	if o.opts.stageTimeout <= 0 {
		return o.runner.Run(ctx, node, state)
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.opts.stageTimeout)
	defer cancel()

	msg, err := o.runner.Run(stageCtx, node, state)
	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s after %s: %w", node, o.opts.stageTimeout, ErrStageTimeout)
	}
	return msg, err
}
