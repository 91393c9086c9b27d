package models

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// DebateState tracks one debate phase. The sequencer resets it on phase entry.
type DebateState struct {
	Transcripts   map[string]string `json:"transcripts"`
	History       string            `json:"history"`
	LatestSpeaker string            `json:"latest_speaker"`
	Count         int               `json:"count"`
	RoundBudget   int               `json:"round_budget"`
	CurrentRound  int               `json:"current_round"`
	JudgeDecision string            `json:"judge_decision"`
}

func NewDebateState(roundBudget int) *DebateState {
	return &DebateState{
		Transcripts: make(map[string]string),
		RoundBudget: roundBudget,
	}
}

type TradingState struct {
	JobID             string            `json:"job_id"`
	Messages          []*schema.Message `json:"messages"`
	CompanyOfInterest string            `json:"company_of_interest"`
	TradeDate         string            `json:"trade_date"`
	SelectedAnalysts  []string          `json:"selected_analysts"`

	Snapshot *MarketSnapshot `json:"snapshot,omitempty"`
	Heat     *HeatAssessment `json:"heat,omitempty"`

	MarketReport       string `json:"market_report"`
	SentimentReport    string `json:"sentiment_report"`
	NewsReport         string `json:"news_report"`
	FundamentalsReport string `json:"fundamentals_report"`

	InvestmentDebateState *DebateState `json:"investment_debate_state"`
	RiskDebateState       *DebateState `json:"risk_debate_state"`
	InvestmentPlan        string       `json:"investment_plan"`
	TraderInvestmentPlan  string       `json:"trader_investment_plan"`
	FinalTradeDecision    string       `json:"final_trade_decision"`

	// Sender is the node that produced the latest output; Goto is the node chosen next.
	Sender           string `json:"sender"`
	Goto             string `json:"goto"`
	Phase            string `json:"phase"`
	CurrentIteration int    `json:"current_iteration"`
	WorkflowComplete bool   `json:"workflow_complete"`
}

func NewTradingState(jobID, symbol string, date time.Time, userPrompt string, analysts []string) *TradingState {
	return &TradingState{
		JobID: jobID,
		Messages: []*schema.Message{
			schema.UserMessage(userPrompt),
		},
		CompanyOfInterest: symbol,
		TradeDate:         date.Format("2006-01-02"),
		SelectedAnalysts:  analysts,
	}
}

// LastMessage returns the most recent message or nil.
func (s *TradingState) LastMessage() *schema.Message {
	if s == nil || len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}
