package graph

import (
	"slices"

	"github.com/cloudwego/eino/compose"
	"github.com/dyike/CortexFlow/consts"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/rs/zerolog"
)

// Phase groups pipeline nodes that share a transition rule.
type Phase int

const (
	PhaseAnalysis Phase = iota
	PhaseInvestmentDebate
	PhasePlanning
	PhaseRiskDebate
	PhaseDecision
	PhaseDone
)

var phaseNames = [...]string{"analysis", "investment_debate", "planning", "risk_debate", "decision", "done"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// debateRoles is the per-phase speaking order. The speaker for turn n is roles[n%len(roles)].
var debateRoles = map[Phase][]string{
	PhaseInvestmentDebate: {consts.BullResearcher, consts.BearResearcher},
	PhaseRiskDebate:       {consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst},
}

// PhaseOf maps a node id to its phase. ok is false for ids the pipeline does not know.
func PhaseOf(node string) (Phase, bool) {
	switch node {
	case consts.JobStart:
		return PhaseAnalysis, true
	case consts.BullResearcher, consts.BearResearcher:
		return PhaseInvestmentDebate, true
	case consts.ResearchManager, consts.Trader:
		return PhasePlanning, true
	case consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst:
		return PhaseRiskDebate, true
	case consts.RiskJudge:
		return PhaseDecision, true
	case compose.END:
		return PhaseDone, true
	}
	if _, ok := analystOf(node); ok {
		return PhaseAnalysis, true
	}
	return PhaseAnalysis, false
}

// analystOf resolves an analyst, tools_ or clear_ node to its analyst id.
func analystOf(node string) (string, bool) {
	for _, a := range consts.Analysts {
		if node == a || node == consts.ToolsNode(a) || node == consts.ClearNode(a) {
			return a, true
		}
	}
	return "", false
}

// Settings are the sequencer knobs taken from config.
type Settings struct {
	MaxDebateRounds      int
	MaxRiskDiscussRounds int
	DynamicRiskRounds    bool
	// FinalStage is the node after which the pipeline ends: research_manager, trader or risk_judge.
	FinalStage string
}

func DefaultSettings() Settings {
	return Settings{
		MaxDebateRounds:      1,
		MaxRiskDiscussRounds: 1,
		DynamicRiskRounds:    true,
		FinalStage:           consts.RiskJudge,
	}
}

// Sequencer decides which node runs next from the job state alone.
type Sequencer struct {
	settings Settings
	log      zerolog.Logger
}

func NewSequencer(s Settings, log zerolog.Logger) *Sequencer {
	if s.MaxDebateRounds < 1 {
		s.MaxDebateRounds = 1
	}
	if s.MaxRiskDiscussRounds < 1 {
		s.MaxRiskDiscussRounds = 1
	}
	switch s.FinalStage {
	case consts.ResearchManager, consts.Trader, consts.RiskJudge:
	default:
		s.FinalStage = consts.RiskJudge
	}
	return &Sequencer{settings: s, log: log.With().Str("component", "sequencer").Logger()}
}

func (s *Sequencer) Settings() Settings { return s.settings }

// RiskRoundBudget returns the number of risk debate rounds for a job.
func (s *Sequencer) RiskRoundBudget(heat *models.HeatAssessment) int {
	if !s.settings.DynamicRiskRounds {
		return s.settings.MaxRiskDiscussRounds
	}
	if heat == nil || heat.RiskAdjustment.DebateRounds < 1 {
		s.log.Warn().Int("rounds", s.settings.MaxRiskDiscussRounds).Msg("dynamic risk rounds enabled but no heat assessment, using fixed budget")
		return s.settings.MaxRiskDiscussRounds
	}
	return heat.RiskAdjustment.DebateRounds
}

func (s *Sequencer) firstAnalyst(state *models.TradingState) string {
	for _, a := range consts.Analysts {
		if slices.Contains(state.SelectedAnalysts, a) {
			return a
		}
	}
	return consts.BullResearcher
}

// nextAnalyst returns the selected analyst after a in pipeline order, or the debate entry.
func (s *Sequencer) nextAnalyst(state *models.TradingState, a string) string {
	idx := slices.Index(consts.Analysts, a)
	for _, cand := range consts.Analysts[idx+1:] {
		if slices.Contains(state.SelectedAnalysts, cand) {
			return cand
		}
	}
	return consts.BullResearcher
}

// Next returns the node to run after state.Sender. It never fails: missing or unknown
// fields fall back to the earliest applicable node with a warning.
func (s *Sequencer) Next(state *models.TradingState) string {
	if state == nil {
		s.log.Warn().Msg("nil job state, restarting at first analyst")
		return consts.MarketAnalyst
	}

	sender := state.Sender
	switch sender {
	case "", consts.JobStart:
		return s.firstAnalyst(state)
	case consts.ResearchManager:
		if s.settings.FinalStage == consts.ResearchManager {
			return compose.END
		}
		return consts.Trader
	case consts.Trader:
		if s.settings.FinalStage == consts.Trader {
			return compose.END
		}
		return debateRoles[PhaseRiskDebate][0]
	case consts.RiskJudge:
		return compose.END
	}

	phase, known := PhaseOf(sender)
	if !known {
		s.log.Warn().Str("job_id", state.JobID).Str("sender", sender).Msg("unknown sender, restarting at first analyst")
		return s.firstAnalyst(state)
	}

	switch phase {
	case PhaseAnalysis:
		analyst, _ := analystOf(sender)
		switch sender {
		case consts.ToolsNode(analyst):
			return analyst
		case consts.ClearNode(analyst):
			return s.nextAnalyst(state, analyst)
		}
		if last := state.LastMessage(); last != nil && len(last.ToolCalls) > 0 {
			return consts.ToolsNode(analyst)
		}
		return consts.ClearNode(analyst)

	case PhaseInvestmentDebate:
		debate := s.debate(state, phase)
		if debate.Count < 2*debate.RoundBudget {
			return debateRoles[phase][debate.Count%2]
		}
		return consts.ResearchManager

	case PhaseRiskDebate:
		debate := s.debate(state, phase)
		if debate.Count < 3*debate.RoundBudget {
			return debateRoles[phase][debate.Count%3]
		}
		return consts.RiskJudge
	}

	return s.firstAnalyst(state)
}

// debate returns the debate state for phase, creating it with the phase's budget if missing.
func (s *Sequencer) debate(state *models.TradingState, phase Phase) *models.DebateState {
	slot := &state.InvestmentDebateState
	if phase == PhaseRiskDebate {
		slot = &state.RiskDebateState
	}
	if *slot == nil {
		s.log.Warn().Str("job_id", state.JobID).Str("phase", phase.String()).Msg("missing debate state, starting a fresh debate")
		*slot = models.NewDebateState(s.budgetFor(state, phase))
	}
	if (*slot).RoundBudget < 1 {
		(*slot).RoundBudget = s.budgetFor(state, phase)
	}
	return *slot
}

func (s *Sequencer) budgetFor(state *models.TradingState, phase Phase) int {
	if phase == PhaseRiskDebate {
		return s.RiskRoundBudget(state.Heat)
	}
	return s.settings.MaxDebateRounds
}

// Advance picks the next node and applies phase entry: entering a debate resets its
// state and freezes the round budget for the rest of the phase.
func (s *Sequencer) Advance(state *models.TradingState) string {
	next := s.Next(state)
	if state == nil {
		return next
	}

	phase, _ := PhaseOf(next)
	if phase.String() != state.Phase {
		s.enter(state, phase)
	}
	state.Goto = next
	if next == compose.END {
		state.WorkflowComplete = true
	}
	return next
}

func (s *Sequencer) enter(state *models.TradingState, phase Phase) {
	switch phase {
	case PhaseInvestmentDebate:
		state.InvestmentDebateState = models.NewDebateState(s.settings.MaxDebateRounds)
	case PhaseRiskDebate:
		state.RiskDebateState = models.NewDebateState(s.RiskRoundBudget(state.Heat))
		s.log.Debug().Str("job_id", state.JobID).Int("rounds", state.RiskDebateState.RoundBudget).Msg("risk debate budget frozen")
	}
	state.Phase = phase.String()
}

// RecordTurn books a finished debate turn by speaker.
func (s *Sequencer) RecordTurn(state *models.TradingState, speaker, argument string) {
	phase, _ := PhaseOf(speaker)
	roles, ok := debateRoles[phase]
	if !ok {
		return
	}

	debate := s.debate(state, phase)
	debate.Count++
	debate.LatestSpeaker = speaker
	if argument != "" {
		if debate.Transcripts == nil {
			debate.Transcripts = make(map[string]string)
		}
		debate.Transcripts[speaker] += argument + "\n"
		debate.History += consts.AgentNames[speaker] + ": " + argument + "\n"
	}
	if debate.Count%len(roles) == 0 {
		debate.CurrentRound++
	}
}
