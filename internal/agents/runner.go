package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/dyike/CortexFlow/consts"
	"github.com/dyike/CortexFlow/internal/dataflows"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/rs/zerolog"
)

// ChatRunner produces node content with a chat model.
type ChatRunner struct {
	model model.ToolCallingChatModel
	index dataflows.IndexSource
	log   zerolog.Logger
}

func NewChatRunner(m model.ToolCallingChatModel, index dataflows.IndexSource, log zerolog.Logger) *ChatRunner {
	return &ChatRunner{
		model: m,
		index: index,
		log:   log.With().Str("component", "agents").Logger(),
	}
}

func (r *ChatRunner) tools(state *models.TradingState, analyst string) []tool.InvokableTool {
	if analyst != consts.MarketAnalyst {
		return nil
	}
	return []tool.InvokableTool{
		NewMarketHeatTool(state),
		NewIndexReturnsTool(r.index, state.TradeDate),
	}
}

func (r *ChatRunner) Run(ctx context.Context, node string, state *models.TradingState) (*schema.Message, error) {
	switch {
	case strings.HasPrefix(node, consts.ClearNodePrefix):
		ClearMessages(state)
		return nil, nil

	case strings.HasPrefix(node, consts.ToolsNodePrefix):
		analyst := strings.TrimPrefix(node, consts.ToolsNodePrefix)
		box, _, err := NewToolbox(ctx, r.tools(state, analyst)...)
		if err != nil {
			return nil, err
		}
		msgs, err := box.Execute(ctx, state.LastMessage())
		state.Messages = append(state.Messages, msgs...)
		return nil, err
	}

	if isAnalyst(node) {
		return r.runAnalyst(ctx, node, state)
	}

	msgs, err := buildMessages(ctx, node, state, debateFor(node, state), []*schema.Message{
		schema.UserMessage(fmt.Sprintf("Proceed with your analysis of %s.", state.CompanyOfInterest)),
	})
	if err != nil {
		return nil, err
	}
	resp, err := r.model.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", node, err)
	}
	ApplyOutput(node, state, resp.Content)
	return resp, nil
}

func (r *ChatRunner) runAnalyst(ctx context.Context, node string, state *models.TradingState) (*schema.Message, error) {
	msgs, err := buildMessages(ctx, node, state, nil, state.Messages)
	if err != nil {
		return nil, err
	}

	cm := r.model
	if tools := r.tools(state, node); len(tools) > 0 {
		_, infos, err := NewToolbox(ctx, tools...)
		if err != nil {
			return nil, err
		}
		if cm, err = r.model.WithTools(infos); err != nil {
			return nil, fmt.Errorf("bind tools for %s: %w", node, err)
		}
	}

	resp, err := cm.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", node, err)
	}
	state.Messages = append(state.Messages, resp)
	if len(resp.ToolCalls) == 0 {
		ApplyOutput(node, state, resp.Content)
	} else {
		r.log.Debug().Str("job_id", state.JobID).Str("node", node).Int("calls", len(resp.ToolCalls)).Msg("tool calls requested")
	}
	return resp, nil
}

func isAnalyst(node string) bool {
	for _, a := range consts.Analysts {
		if a == node {
			return true
		}
	}
	return false
}

func debateFor(node string, state *models.TradingState) *models.DebateState {
	switch node {
	case consts.BullResearcher, consts.BearResearcher, consts.ResearchManager:
		return state.InvestmentDebateState
	case consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst, consts.RiskJudge:
		return state.RiskDebateState
	}
	return nil
}

// ClearMessages drops an analyst's working conversation before the next analyst starts.
func ClearMessages(state *models.TradingState) {
	state.Messages = []*schema.Message{schema.UserMessage("Continue")}
}

// ApplyOutput stores a node's final text in the state field it owns.
func ApplyOutput(node string, state *models.TradingState, content string) {
	switch node {
	case consts.MarketAnalyst:
		state.MarketReport = content
	case consts.SocialMediaAnalyst:
		state.SentimentReport = content
	case consts.NewsAnalyst:
		state.NewsReport = content
	case consts.FundamentalsAnalyst:
		state.FundamentalsReport = content
	case consts.ResearchManager:
		state.InvestmentPlan = content
		if state.InvestmentDebateState != nil {
			state.InvestmentDebateState.JudgeDecision = content
		}
	case consts.Trader:
		state.TraderInvestmentPlan = content
	case consts.RiskJudge:
		state.FinalTradeDecision = content
		if state.RiskDebateState != nil {
			state.RiskDebateState.JudgeDecision = content
		}
	}
}
