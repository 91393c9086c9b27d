package consts

const (
	// 任务入口
	JobStart = "job_start"

	// 分析师节点
	MarketAnalyst       = "market_analyst"
	SocialMediaAnalyst  = "social_media_analyst"
	NewsAnalyst         = "news_analyst"
	FundamentalsAnalyst = "fundamentals_analyst"

	// 研究员节点
	BullResearcher  = "bull_researcher"
	BearResearcher  = "bear_researcher"
	ResearchManager = "research_manager"

	// 交易员节点
	Trader = "trader"

	// 风险分析节点
	RiskyAnalyst   = "risky_analyst"
	SafeAnalyst    = "safe_analyst"
	NeutralAnalyst = "neutral_analyst"
	RiskJudge      = "risk_judge"
)

// 分析师工具调用与消息清理子状态的节点前缀
const (
	ToolsNodePrefix = "tools_"
	ClearNodePrefix = "clear_"
)

// Analysts lists every analyst node in pipeline order.
var Analysts = []string{
	MarketAnalyst,
	SocialMediaAnalyst,
	NewsAnalyst,
	FundamentalsAnalyst,
}

func ToolsNode(analyst string) string { return ToolsNodePrefix + analyst }

func ClearNode(analyst string) string { return ClearNodePrefix + analyst }
