package graph

import (
	"testing"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/dyike/CortexFlow/consts"
	"github.com/dyike/CortexFlow/internal/heat"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(analysts ...string) *models.TradingState {
	return models.NewTradingState("job-1", "AAPL", time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), "analyze", analysts)
}

// walk drives the sequencer the way the orchestrator does and returns the visited nodes.
func walk(t *testing.T, seq *Sequencer, st *models.TradingState) []string {
	t.Helper()
	var visited []string
	for i := 0; i < 100; i++ {
		next := seq.Advance(st)
		if next == compose.END {
			return visited
		}
		visited = append(visited, next)
		if _, debate := debateRoles[mustPhase(t, next)]; debate {
			seq.RecordTurn(st, next, "argument from "+next)
		}
		st.Sender = next
	}
	t.Fatalf("sequencer did not reach END, visited %v", visited)
	return nil
}

func mustPhase(t *testing.T, node string) Phase {
	p, ok := PhaseOf(node)
	require.True(t, ok, node)
	return p
}

func count(nodes []string, node string) int {
	n := 0
	for _, v := range nodes {
		if v == node {
			n++
		}
	}
	return n
}

func TestSequencer_AnalystsRunInPipelineOrder(t *testing.T) {
	seq := NewSequencer(DefaultSettings(), zerolog.Nop())
	st := newState(consts.NewsAnalyst, consts.MarketAnalyst)

	visited := walk(t, seq, st)

	require.GreaterOrEqual(t, len(visited), 4)
	assert.Equal(t, []string{
		consts.MarketAnalyst, consts.ClearNode(consts.MarketAnalyst),
		consts.NewsAnalyst, consts.ClearNode(consts.NewsAnalyst),
		consts.BullResearcher,
	}, visited[:5])
}

func TestSequencer_ToolCallsLoopThroughToolsNode(t *testing.T) {
	seq := NewSequencer(DefaultSettings(), zerolog.Nop())
	st := newState(consts.MarketAnalyst)
	st.Sender = consts.MarketAnalyst
	st.Messages = append(st.Messages, &schema.Message{
		Role:      schema.Assistant,
		ToolCalls: []schema.ToolCall{{ID: "call-1", Function: schema.FunctionCall{Name: "get_market_heat"}}},
	})

	assert.Equal(t, consts.ToolsNode(consts.MarketAnalyst), seq.Next(st))

	st.Sender = consts.ToolsNode(consts.MarketAnalyst)
	assert.Equal(t, consts.MarketAnalyst, seq.Next(st))

	st.Sender = consts.MarketAnalyst
	st.Messages = append(st.Messages, schema.AssistantMessage("report", nil))
	assert.Equal(t, consts.ClearNode(consts.MarketAnalyst), seq.Next(st))
}

func TestSequencer_NoAnalystsStartsWithDebate(t *testing.T) {
	seq := NewSequencer(DefaultSettings(), zerolog.Nop())
	st := newState()
	st.Sender = consts.JobStart

	assert.Equal(t, consts.BullResearcher, seq.Next(st))
}

func TestSequencer_InvestmentDebateAlternates(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxDebateRounds = 2
	seq := NewSequencer(settings, zerolog.Nop())
	st := newState()

	visited := walk(t, seq, st)

	require.GreaterOrEqual(t, len(visited), 5)
	assert.Equal(t, []string{
		consts.BullResearcher, consts.BearResearcher,
		consts.BullResearcher, consts.BearResearcher,
		consts.ResearchManager,
	}, visited[:5])
	assert.Equal(t, 4, st.InvestmentDebateState.Count)
	assert.Equal(t, 2, st.InvestmentDebateState.CurrentRound)
	assert.Contains(t, st.InvestmentDebateState.History, "Bull Researcher: argument from bull_researcher")
}

func TestSequencer_InvestmentDebateIgnoresHeat(t *testing.T) {
	seq := NewSequencer(DefaultSettings(), zerolog.Nop())
	st := newState()
	boiling := heat.Assess(95)
	st.Heat = &boiling

	visited := walk(t, seq, st)

	assert.Equal(t, 1, count(visited, consts.BullResearcher))
	assert.Equal(t, 1, count(visited, consts.BearResearcher))
}

func TestSequencer_RiskDebateFollowsHeat(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		turns int
	}{
		{"ice cold", 5, 3},
		{"normal", 50, 3},
		{"just below hot", 59.9, 3},
		{"hot", 60, 6},
		{"boiling", 90, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := NewSequencer(DefaultSettings(), zerolog.Nop())
			st := newState()
			assessment := heat.Assess(tt.score)
			st.Heat = &assessment

			visited := walk(t, seq, st)

			risk := 0
			for _, n := range visited {
				if mustPhase(t, n) == PhaseRiskDebate {
					risk++
				}
			}
			assert.Equal(t, tt.turns, risk)
			assert.Equal(t, consts.RiskJudge, visited[len(visited)-1])
		})
	}
}

func TestSequencer_RiskDebateRotatesAllThreeVoices(t *testing.T) {
	seq := NewSequencer(DefaultSettings(), zerolog.Nop())
	st := newState()
	hot := heat.Assess(70)
	st.Heat = &hot

	visited := walk(t, seq, st)

	start := -1
	for i, n := range visited {
		if n == consts.RiskyAnalyst {
			start = i
			break
		}
	}
	require.GreaterOrEqual(t, start, 0)
	assert.Equal(t, []string{
		consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst,
		consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst,
		consts.RiskJudge,
	}, visited[start:])
	assert.Equal(t, 2, st.RiskDebateState.CurrentRound)
}

func TestSequencer_FixedRiskRoundsWhenDynamicOff(t *testing.T) {
	settings := DefaultSettings()
	settings.DynamicRiskRounds = false
	settings.MaxRiskDiscussRounds = 3
	seq := NewSequencer(settings, zerolog.Nop())

	st := newState()
	cold := heat.Assess(10)
	st.Heat = &cold

	visited := walk(t, seq, st)
	assert.Equal(t, 3, count(visited, consts.RiskyAnalyst))
	assert.Equal(t, 9, st.RiskDebateState.Count)
}

func TestSequencer_DynamicWithoutHeatUsesFixedBudget(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxRiskDiscussRounds = 2
	seq := NewSequencer(settings, zerolog.Nop())

	st := newState()
	require.Nil(t, st.Heat)

	assert.Equal(t, 2, seq.RiskRoundBudget(nil))
	visited := walk(t, seq, st)
	assert.Equal(t, 2, count(visited, consts.NeutralAnalyst))
}

func TestSequencer_BudgetFrozenOnPhaseEntry(t *testing.T) {
	seq := NewSequencer(DefaultSettings(), zerolog.Nop())
	st := newState()
	hot := heat.Assess(75)
	st.Heat = &hot
	st.Sender = consts.Trader

	require.Equal(t, consts.RiskyAnalyst, seq.Advance(st))
	require.Equal(t, 2, st.RiskDebateState.RoundBudget)

	// a later heat change must not move the boundary
	cold := heat.Assess(10)
	st.Heat = &cold

	for i := 0; i < 5; i++ {
		seq.RecordTurn(st, seq.Next(st), "x")
		st.Sender = consts.NeutralAnalyst
	}
	assert.Equal(t, 5, st.RiskDebateState.Count)
	assert.Equal(t, consts.NeutralAnalyst, seq.Next(st))

	seq.RecordTurn(st, seq.Next(st), "x")
	assert.Equal(t, consts.RiskJudge, seq.Next(st))
}

func TestSequencer_ConfigurableFinalStage(t *testing.T) {
	for _, final := range []string{consts.ResearchManager, consts.Trader, consts.RiskJudge} {
		settings := DefaultSettings()
		settings.FinalStage = final
		seq := NewSequencer(settings, zerolog.Nop())

		st := newState(consts.MarketAnalyst)
		visited := walk(t, seq, st)

		assert.Equal(t, final, visited[len(visited)-1])
		assert.True(t, st.WorkflowComplete)
		assert.Equal(t, compose.END, st.Goto)
	}
}

func TestSequencer_InvalidFinalStageDefaultsToRiskJudge(t *testing.T) {
	settings := DefaultSettings()
	settings.FinalStage = "bear_researcher"
	seq := NewSequencer(settings, zerolog.Nop())

	assert.Equal(t, consts.RiskJudge, seq.Settings().FinalStage)
}

func TestSequencer_MalformedStateFallsBack(t *testing.T) {
	seq := NewSequencer(DefaultSettings(), zerolog.Nop())

	assert.Equal(t, consts.MarketAnalyst, seq.Next(nil))

	st := newState(consts.SocialMediaAnalyst)
	st.Sender = "portfolio_wizard"
	assert.Equal(t, consts.SocialMediaAnalyst, seq.Next(st))

	st.Sender = consts.BearResearcher
	st.InvestmentDebateState = nil
	assert.Equal(t, consts.BullResearcher, seq.Next(st))
	require.NotNil(t, st.InvestmentDebateState)
	assert.Equal(t, 1, st.InvestmentDebateState.RoundBudget)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "risk_debate", PhaseRiskDebate.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
