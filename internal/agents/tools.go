package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	t_utils "github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/dyike/CortexFlow/internal/dataflows"
	"github.com/dyike/CortexFlow/internal/models"
)

type MarketHeatInput struct{}

type MarketHeatOutput struct {
	Heat     *models.HeatAssessment `json:"heat,omitempty"`
	Snapshot *models.MarketSnapshot `json:"snapshot,omitempty"`
}

type IndexReturnsInput struct {
	Date string `json:"date"`
}

type IndexReturnsOutput struct {
	Returns []models.IndexReturn `json:"returns"`
}

// NewMarketHeatTool exposes the job's market heat reading to the model.
func NewMarketHeatTool(state *models.TradingState) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name:        "get_market_heat",
			Desc:        "Get the market-wide activity (heat) score, its level and the raw indicators for the trade date",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		func(ctx context.Context, _ MarketHeatInput) (*MarketHeatOutput, error) {
			if state.Heat == nil {
				return nil, errors.New("market heat not available for this job")
			}
			return &MarketHeatOutput{Heat: state.Heat, Snapshot: state.Snapshot}, nil
		},
	)
}

// NewIndexReturnsTool exposes benchmark index daily returns to the model.
func NewIndexReturnsTool(src dataflows.IndexSource, tradeDate string) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: "get_index_returns",
			Desc: "Get daily returns in percent of the major benchmark indices for a date",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"date": {
					Type:     "string",
					Desc:     "Trading date in YYYY-MM-DD format (default: the job's trade date)",
					Required: false,
				},
			}),
		},
		func(ctx context.Context, input IndexReturnsInput) (*IndexReturnsOutput, error) {
			if src == nil {
				return nil, errors.New("no index data source configured")
			}
			date := input.Date
			if date == "" {
				date = tradeDate
			}
			day, err := dataflows.ParseDateString(date)
			if err != nil {
				return nil, err
			}
			returns, err := src.IndexReturns(ctx, day)
			if err != nil {
				return nil, fmt.Errorf("index returns for %s: %w", day.Format(time.DateOnly), err)
			}
			return &IndexReturnsOutput{Returns: returns}, nil
		},
	)
}

// Toolbox resolves tools by name for one node run.
type Toolbox map[string]tool.InvokableTool

func NewToolbox(ctx context.Context, tools ...tool.InvokableTool) (Toolbox, []*schema.ToolInfo, error) {
	box := make(Toolbox, len(tools))
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, nil, err
		}
		box[info.Name] = t
		infos = append(infos, info)
	}
	return box, infos, nil
}

// Execute runs every tool call of msg in order and returns the tool messages. It checks
// ctx between calls so a cancelled job stops mid-batch.
func (b Toolbox) Execute(ctx context.Context, msg *schema.Message) ([]*schema.Message, error) {
	if msg == nil {
		return nil, nil
	}
	out := make([]*schema.Message, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		t, ok := b[call.Function.Name]
		if !ok {
			out = append(out, schema.ToolMessage(fmt.Sprintf("error: unknown tool %q", call.Function.Name), call.ID))
			continue
		}
		args := call.Function.Arguments
		if args == "" {
			args = "{}"
		}
		result, err := t.InvokableRun(ctx, args)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			result = "error: " + err.Error()
		}
		out = append(out, schema.ToolMessage(result, call.ID))
	}
	return out, nil
}
