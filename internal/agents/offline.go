package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/dyike/CortexFlow/consts"
	"github.com/dyike/CortexFlow/internal/models"
)

// OfflineRunner writes deterministic placeholder content without calling a model.
// It lets the pipeline, progress tracking and archive run end to end with no API key.
type OfflineRunner struct {
	// Delay is slept per node to make progress observable; ctx cancels it.
	Delay time.Duration
}

func (r *OfflineRunner) Run(ctx context.Context, node string, state *models.TradingState) (*schema.Message, error) {
	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	switch {
	case strings.HasPrefix(node, consts.ClearNodePrefix):
		ClearMessages(state)
		return nil, nil
	case strings.HasPrefix(node, consts.ToolsNodePrefix):
		return nil, nil
	}

	name := consts.AgentNames[node]
	if name == "" {
		name = node
	}

	var content string
	switch node {
	case consts.Trader, consts.RiskJudge:
		content = fmt.Sprintf("%s on %s (%s). Market temperature: %s\nFINAL TRANSACTION PROPOSAL: **%s**",
			name, state.CompanyOfInterest, state.TradeDate, HeatSummary(state.Heat), offlineAction(state.Heat))
	default:
		content = fmt.Sprintf("%s notes on %s for %s. Market temperature: %s",
			name, state.CompanyOfInterest, state.TradeDate, HeatSummary(state.Heat))
	}

	msg := schema.AssistantMessage(content, nil)
	msg.Name = node
	if isAnalyst(node) {
		state.Messages = append(state.Messages, msg)
	}
	ApplyOutput(node, state, content)
	return msg, nil
}

func offlineAction(h *models.HeatAssessment) string {
	if h == nil {
		return "HOLD"
	}
	switch h.Level {
	case models.HeatIceCold:
		return "SELL"
	case models.HeatHot, models.HeatBoiling:
		return "BUY"
	}
	return "HOLD"
}
