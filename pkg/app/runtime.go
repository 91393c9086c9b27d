package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dyike/CortexFlow/config"
	"github.com/dyike/CortexFlow/pkg/bridge"
	"github.com/rs/zerolog"
)

const retireTimeout = 30 * time.Minute

type EngineBuilder func(config.Config) (*Engine, error)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

// WithEngineOptions passes opts to the default builder on every reload.
func WithEngineOptions(opts ...EngineOption) Option {
	return func(r *Runtime) {
		r.builder = func(cfg config.Config) (*Engine, error) {
			return BuildEngine(cfg, opts...)
		}
	}
}

func WithNotifier(fn bridge.NotifyFunc) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

func WithRuntimeLogger(l zerolog.Logger) Option {
	return func(r *Runtime) {
		r.log = l.With().Str("component", "runtime").Logger()
	}
}

// Runtime keeps the current Engine in step with the config file.
type Runtime struct {
	cfgMgr *config.Manager
	engine atomic.Pointer[Engine]

	builder EngineBuilder
	notify  bridge.NotifyFunc
	log     zerolog.Logger
	cancel  context.CancelFunc
	retire  time.Duration
}

func NewRuntime(cfgMgr *config.Manager, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}

	rt := &Runtime{
		cfgMgr: cfgMgr,
		notify: bridge.Notify,
		log:    zerolog.Nop(),
		retire: retireTimeout,
	}
	rt.builder = func(cfg config.Config) (*Engine, error) { return BuildEngine(cfg) }

	for _, opt := range opts {
		opt(rt)
	}

	if err := rt.reload(cfgMgr.Get(), nil); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	if err := cfgMgr.Watch(ctx, func(c config.Change) {
		if err := rt.reload(c.Current, c.Fields); err != nil {
			rt.log.Error().Err(err).Strs("fields", c.Fields).Msg("engine reload failed, keeping current engine")
		}
	}); err != nil {
		cancel()
		rt.Close()
		return nil, err
	}

	return rt, nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

// Close stops watching the config and closes the current engine.
func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if e := r.engine.Swap(nil); e != nil {
		if err := e.Close(); err != nil {
			r.log.Warn().Err(err).Msg("engine close failed")
		}
	}
}

func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.UpdateFromJSON(jsonStr)
}

// reload builds an engine for cfg and swaps it in. changed lists the config
// keys behind the reload and is empty for the initial build.
func (r *Runtime) reload(cfg config.Config, changed []string) error {
	engine, err := r.builder(cfg)
	if err != nil {
		r.notifyFailure(err, changed)
		return err
	}
	old := r.engine.Swap(engine)
	r.notifySuccess(engine, changed)
	if old != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), r.retire)
			defer cancel()
			if err := old.Retire(ctx); err != nil {
				r.log.Warn().Err(err).Uint64("version", old.Version).Msg("retired engine close failed")
			}
		}()
	}
	return nil
}

func (r *Runtime) notifySuccess(engine *Engine, changed []string) {
	r.log.Info().Uint64("version", engine.Version).Strs("changed", changed).Msg("engine reloaded")
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"version":  engine.Version,
		"built_at": engine.BuiltAt.UTC().Format(time.RFC3339),
		"changed":  nonNil(changed),
		"sections": sectionsOf(changed),
	})
	r.notify("engine.reloaded", string(payload))
}

func (r *Runtime) notifyFailure(err error, changed []string) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"error":   err.Error(),
		"changed": nonNil(changed),
	})
	r.notify("engine.reload_failed", string(payload))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func sectionsOf(fields []string) []config.Section {
	out := config.Change{Fields: fields}.Sections()
	if out == nil {
		return []config.Section{}
	}
	return out
}
