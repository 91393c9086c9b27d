package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/dyike/CortexFlow/consts"
	"github.com/dyike/CortexFlow/internal/heat"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	responses []*schema.Message
	inputs    [][]*schema.Message
	tools     []*schema.ToolInfo
}

func (f *fakeModel) Generate(ctx context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, in)
	if len(f.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	f.tools = tools
	return f, nil
}

type staticIndex []models.IndexReturn

func (s staticIndex) IndexReturns(context.Context, time.Time) ([]models.IndexReturn, error) {
	return s, nil
}

func jobState() *models.TradingState {
	st := models.NewTradingState("job-1", "NVDA", time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), "Analyze NVDA", []string{consts.MarketAnalyst})
	h := heat.Assess(66)
	st.Heat = &h
	return st
}

func TestChatRunner_MarketAnalystToolLoop(t *testing.T) {
	fm := &fakeModel{responses: []*schema.Message{
		{
			Role:      schema.Assistant,
			ToolCalls: []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "get_market_heat", Arguments: "{}"}}},
		},
		schema.AssistantMessage("Trend is up, heat is hot.", nil),
	}}
	r := NewChatRunner(fm, staticIndex{{Symbol: "^GSPC", ReturnPct: 1.1}}, zerolog.Nop())
	st := jobState()
	ctx := context.Background()

	msg, err := r.Run(ctx, consts.MarketAnalyst, st)
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Empty(t, st.MarketReport)

	names := []string{}
	for _, info := range fm.tools {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{"get_market_heat", "get_index_returns"}, names)

	system := fm.inputs[0][0]
	assert.Equal(t, schema.System, system.Role)
	assert.Contains(t, system.Content, "NVDA")
	assert.Contains(t, system.Content, "66.0/100 (hot)")

	_, err = r.Run(ctx, consts.ToolsNode(consts.MarketAnalyst), st)
	require.NoError(t, err)
	toolMsg := st.LastMessage()
	assert.Equal(t, schema.Tool, toolMsg.Role)
	assert.Equal(t, "c1", toolMsg.ToolCallID)

	var out MarketHeatOutput
	require.NoError(t, json.Unmarshal([]byte(toolMsg.Content), &out))
	require.NotNil(t, out.Heat)
	assert.Equal(t, models.HeatHot, out.Heat.Level)

	_, err = r.Run(ctx, consts.MarketAnalyst, st)
	require.NoError(t, err)
	assert.Equal(t, "Trend is up, heat is hot.", st.MarketReport)

	_, err = r.Run(ctx, consts.ClearNode(consts.MarketAnalyst), st)
	require.NoError(t, err)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "Continue", st.Messages[0].Content)
}

func TestChatRunner_DecisionNodesStoreOutputs(t *testing.T) {
	fm := &fakeModel{responses: []*schema.Message{
		schema.AssistantMessage("Buy with half size.", nil),
		schema.AssistantMessage("FINAL TRANSACTION PROPOSAL: **BUY**", nil),
		schema.AssistantMessage("Approve, stop at -5%.", nil),
	}}
	r := NewChatRunner(fm, nil, zerolog.Nop())
	st := jobState()
	st.InvestmentDebateState = models.NewDebateState(1)
	st.RiskDebateState = models.NewDebateState(2)

	_, err := r.Run(context.Background(), consts.ResearchManager, st)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), consts.Trader, st)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), consts.RiskJudge, st)
	require.NoError(t, err)

	assert.Equal(t, "Buy with half size.", st.InvestmentPlan)
	assert.Equal(t, st.InvestmentPlan, st.InvestmentDebateState.JudgeDecision)
	assert.Equal(t, "FINAL TRANSACTION PROPOSAL: **BUY**", st.TraderInvestmentPlan)
	assert.Equal(t, "Approve, stop at -5%.", st.FinalTradeDecision)
	assert.Equal(t, st.FinalTradeDecision, st.RiskDebateState.JudgeDecision)
	assert.Nil(t, fm.tools, "only the market analyst binds tools")

	judgePrompt := fm.inputs[2][0].Content
	assert.Contains(t, judgePrompt, "FINAL TRANSACTION PROPOSAL: **BUY**")
}

func TestChatRunner_ModelErrorIsWrapped(t *testing.T) {
	r := NewChatRunner(&fakeModel{}, nil, zerolog.Nop())

	_, err := r.Run(context.Background(), consts.BullResearcher, jobState())
	require.Error(t, err)
	assert.Contains(t, err.Error(), consts.BullResearcher)
}

func TestToolbox_UnknownToolAndCancellation(t *testing.T) {
	st := jobState()
	box, infos, err := NewToolbox(context.Background(), NewMarketHeatTool(st))
	require.NoError(t, err)
	require.Len(t, infos, 1)

	msg := &schema.Message{ToolCalls: []schema.ToolCall{
		{ID: "a", Function: schema.FunctionCall{Name: "rm_rf"}},
		{ID: "b", Function: schema.FunctionCall{Name: "get_market_heat"}},
	}}
	out, err := box.Execute(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Contains(t, out[0].Content, "unknown tool")
	assert.Equal(t, "b", out[1].ToolCallID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err = box.Execute(ctx, msg)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out)
}

func TestIndexReturnsTool(t *testing.T) {
	tl := NewIndexReturnsTool(staticIndex{{Symbol: "^HSI", ReturnPct: -0.4}}, "2024-05-10")

	res, err := tl.InvokableRun(context.Background(), `{}`)
	require.NoError(t, err)

	var out IndexReturnsOutput
	require.NoError(t, json.Unmarshal([]byte(res), &out))
	require.Len(t, out.Returns, 1)
	assert.Equal(t, "^HSI", out.Returns[0].Symbol)
}

func TestLoadPrompt_EveryStageHasATemplate(t *testing.T) {
	for node := range consts.AgentNames {
		tpl, err := LoadPrompt(node)
		require.NoError(t, err, node)
		assert.Contains(t, tpl, "{ticker}", node)
	}

	_, err := LoadPrompt("nope")
	assert.Error(t, err)
}

func TestOfflineRunner(t *testing.T) {
	r := &OfflineRunner{}
	st := jobState()
	st.InvestmentDebateState = models.NewDebateState(1)
	st.RiskDebateState = models.NewDebateState(1)

	for _, node := range []string{consts.MarketAnalyst, consts.ResearchManager, consts.Trader, consts.RiskJudge} {
		_, err := r.Run(context.Background(), node, st)
		require.NoError(t, err)
	}
	assert.Contains(t, st.MarketReport, "Market Analyst")
	assert.NotEmpty(t, st.InvestmentPlan)
	assert.Contains(t, st.FinalTradeDecision, "**BUY**")

	slow := &OfflineRunner{Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := slow.Run(ctx, consts.Trader, st)
	assert.ErrorIs(t, err, context.Canceled)
}
