package agents

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/dyike/CortexFlow/internal/models"
)

//go:embed prompts
var promptFiles embed.FS

// LoadPrompt loads a prompt template from the embedded markdown files
func LoadPrompt(name string) (string, error) {
	content, err := promptFiles.ReadFile(fmt.Sprintf("prompts/%s.md", name))
	if err != nil {
		return "", fmt.Errorf("failed to load prompt %s: %w", name, err)
	}
	return string(content), nil
}

// HeatSummary renders the heat assessment the way prompts quote it.
func HeatSummary(h *models.HeatAssessment) string {
	if h == nil {
		return "unknown (no market data)"
	}
	return fmt.Sprintf("%.1f/100 (%s). %s Position multiplier %.2fx, stop-loss tightness %.2fx.",
		h.Score, h.Level, h.Narrative, h.RiskAdjustment.PositionMultiplier, h.RiskAdjustment.StopLossTightness)
}

func collectReports(state *models.TradingState) string {
	var b strings.Builder
	for _, r := range []struct{ title, body string }{
		{"Market", state.MarketReport},
		{"Sentiment", state.SentimentReport},
		{"News", state.NewsReport},
		{"Fundamentals", state.FundamentalsReport},
	} {
		if r.body == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", r.title, r.body)
	}
	if b.Len() == 0 {
		return "(no analyst reports)"
	}
	return b.String()
}

// promptVars builds the variables every template may reference.
func promptVars(state *models.TradingState, phaseDebate *models.DebateState) map[string]any {
	history, latest := "", ""
	if phaseDebate != nil {
		history = phaseDebate.History
		if phaseDebate.LatestSpeaker != "" {
			latest = strings.TrimSpace(phaseDebate.Transcripts[phaseDebate.LatestSpeaker])
		}
	}
	if history == "" {
		history = "(debate has not started)"
	}
	if latest == "" {
		latest = "(none yet)"
	}

	return map[string]any{
		"ticker":          state.CompanyOfInterest,
		"trade_date":      state.TradeDate,
		"current_date":    time.Now().Format("2006-01-02"),
		"heat_summary":    HeatSummary(state.Heat),
		"reports":         collectReports(state),
		"history":         history,
		"latest_argument": latest,
		"investment_plan": state.InvestmentPlan,
		"trader_plan":     state.TraderInvestmentPlan,
	}
}

// buildMessages formats the node's system prompt followed by conversation.
func buildMessages(ctx context.Context, node string, state *models.TradingState, debate *models.DebateState, conversation []*schema.Message) ([]*schema.Message, error) {
	tpl, err := LoadPrompt(node)
	if err != nil {
		return nil, err
	}

	promptTemp := prompt.FromMessages(schema.FString,
		schema.SystemMessage(tpl),
		schema.MessagesPlaceholder("user_input", true),
	)

	vars := promptVars(state, debate)
	vars["user_input"] = conversation
	return promptTemp.Format(ctx, vars)
}
