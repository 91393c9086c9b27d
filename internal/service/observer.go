package service

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/dyike/CortexFlow/consts"
	"github.com/dyike/CortexFlow/internal/graph"
	"github.com/dyike/CortexFlow/internal/models"
	"github.com/dyike/CortexFlow/internal/progress"
	"github.com/rs/zerolog"
)

// progressObserver turns node boundaries into tracker reports.
type progressObserver struct {
	jobID   string
	tracker *progress.Tracker
	notify  func(topic string, v any)
	log     zerolog.Logger
}

var _ graph.StageObserver = (*progressObserver)(nil)

// statusMessage is the text reported when node starts. Tool and cleanup sub-steps only
// count as liveness.
func statusMessage(node string) (string, bool) {
	if node == consts.JobStart {
		return "Starting analysis pipeline", true
	}
	if strings.HasPrefix(node, consts.ToolsNodePrefix) || strings.HasPrefix(node, consts.ClearNodePrefix) {
		return "", false
	}
	name, ok := consts.AgentNames[node]
	if !ok {
		return "", false
	}
	return name + " started", true
}

func (o *progressObserver) StageStarted(_ context.Context, _ *models.TradingState, node string) {
	msg, ok := statusMessage(node)
	if !ok {
		msg = "heartbeat"
	}
	if err := o.tracker.Report(o.jobID, msg, nil); err != nil {
		o.log.Warn().Err(err).Str("node", node).Msg("progress report failed")
	}
}

func (o *progressObserver) StageFinished(_ context.Context, _ *models.TradingState, node string, msg *schema.Message) {
	name, ok := consts.AgentNames[node]
	if !ok || msg == nil || len(msg.ToolCalls) > 0 || strings.TrimSpace(msg.Content) == "" {
		return
	}
	if err := o.tracker.RecordStageResult(o.jobID, name, msg.Content); err != nil {
		o.log.Warn().Err(err).Str("node", node).Msg("stage result not recorded")
		return
	}

	view, err := o.tracker.Snapshot(o.jobID)
	if err != nil {
		return
	}
	o.notify("job.stage", map[string]any{
		"job_id":  o.jobID,
		"node":    node,
		"stage":   view.CurrentStageName,
		"percent": view.Percent,
	})
}
