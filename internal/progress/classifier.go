package progress

import (
	"regexp"
	"strings"
)

type rule struct {
	pattern *regexp.Regexp
	stage   int
	final   bool
}

// Classifier maps free-text status messages to stage indices. Rules are tried in order
// and the first match wins, so specific phrases must precede generic ones.
type Classifier struct {
	rules []rule
}

// DefaultClassifier targets DefaultStages. Indices past the end of a shorter plan are
// clamped by the tracker.
func DefaultClassifier() *Classifier {
	return newClassifier(
		finalRule(`^(all stages|pipeline|analysis|job) (complete|completed|finished)\b`),
		finalRule(`final (trade )?decision (complete|completed|ready|made)`),
		stageRule(`portfolio manager|risk judge|final (trade )?decision`, StageFinalDecision),
		stageRule(`(risky|aggressive|safe|conservative|neutral) (risk )?analyst|risk (debate|analysis|discussion)`, StageRiskDebate),
		stageRule(`\btrader\b|trading plan`, StageTrader),
		stageRule(`(bull|bear) researcher|research manager|investment (debate|plan)`, StageInvestmentDebate),
		stageRule(`news|fundamental`, StageNewsFundamentals),
		stageRule(`market analyst|social( media)? analyst|(market|social|sentiment) analysis|sentiment|price action`, StageMarketSocial),
		stageRule(`start|preparing|initiali[sz]|queued|fetching|market heat|snapshot`, StagePreparation),
	)
}

func stageRule(expr string, stage int) rule {
	return rule{pattern: regexp.MustCompile(`(?i)` + expr), stage: stage}
}

func finalRule(expr string) rule {
	return rule{pattern: regexp.MustCompile(`(?i)` + expr), stage: -1, final: true}
}

func newClassifier(rules ...rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the stage a message belongs to. final marks completion phrases, whose
// stage is the last one of the plan (reported as -1). ok is false when nothing matched.
func (c *Classifier) Classify(message string) (stage int, final bool, ok bool) {
	msg := strings.TrimSpace(message)
	for _, r := range c.rules {
		if r.pattern.MatchString(msg) {
			return r.stage, r.final, true
		}
	}
	return 0, false, false
}

var heartbeatPattern = regexp.MustCompile(`(?i)\bheart ?beat\b`)

// IsHeartbeat reports liveness-only messages that must not move progress.
func IsHeartbeat(message string) bool {
	return heartbeatPattern.MatchString(message)
}
