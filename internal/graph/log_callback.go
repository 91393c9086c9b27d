package graph

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

// LogCallback traces graph and node lifecycle events to a zerolog logger.
type LogCallback struct {
	log zerolog.Logger
}

func NewLogCallback(log zerolog.Logger) *LogCallback {
	return &LogCallback{log: log}
}

func (cb *LogCallback) event(info *callbacks.RunInfo) *zerolog.Event {
	e := cb.log.Debug()
	if info != nil {
		e = e.Str("node", info.Name).Str("type", info.Type).Str("kind", string(info.Component))
	}
	return e
}

func (cb *LogCallback) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	cb.event(info).Msg("start")
	return ctx
}

func (cb *LogCallback) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	cb.event(info).Msg("end")
	return ctx
}

func (cb *LogCallback) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	name := ""
	if info != nil {
		name = info.Name
	}
	cb.log.Warn().Err(err).Str("node", name).Msg("node error")
	return ctx
}

func (cb *LogCallback) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	return ctx
}

func (cb *LogCallback) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}
