package consts

const (
	// Stage result the heat narrative is filed under
	Agent_MarketHeat = "Market Heat"
	// Analyst Team
	Agent_MarketAnalyst       = "Market Analyst"
	Agent_SocialAnalyst       = "Social Analyst"
	Agent_NewsAnalyst         = "News Analyst"
	Agent_FundamentalsAnalyst = "Fundamentals Analyst"
	// Research Team
	Agent_BullResearcher  = "Bull Researcher"
	Agent_BearResearcher  = "Bear Researcher"
	Agent_ResearchManager = "Research Manager"
	// Trading Team
	Agent_Trader = "Trader"
	// Risk Management Team
	Agent_RiskyAnalyst   = "Risky Analyst"
	Agent_NeutralAnalyst = "Neutral Analyst"
	Agent_SafeAnalyst    = "Safe Analyst"
	// Portfolio Management Team
	Agent_PortfolioManager = "Portfolio Manager"
)

// AgentNames maps node ids to the display name used in status messages.
var AgentNames = map[string]string{
	MarketAnalyst:       Agent_MarketAnalyst,
	SocialMediaAnalyst:  Agent_SocialAnalyst,
	NewsAnalyst:         Agent_NewsAnalyst,
	FundamentalsAnalyst: Agent_FundamentalsAnalyst,
	BullResearcher:      Agent_BullResearcher,
	BearResearcher:      Agent_BearResearcher,
	ResearchManager:     Agent_ResearchManager,
	Trader:              Agent_Trader,
	RiskyAnalyst:        Agent_RiskyAnalyst,
	SafeAnalyst:         Agent_SafeAnalyst,
	NeutralAnalyst:      Agent_NeutralAnalyst,
	RiskJudge:           Agent_PortfolioManager,
}

// Research depth levels (1 = quickest, 5 = most thorough).
const (
	DepthQuick    = 1
	DepthBasic    = 2
	DepthStandard = 3
	DepthDeep     = 4
	DepthFull     = 5
)

// Provider speed hints used for the initial duration estimate.
const (
	SpeedFast   = "fast"
	SpeedNormal = "normal"
	SpeedSlow   = "slow"
)
