package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	sourceUpdate = "update"
	sourceFile   = "file"
)

// Manager owns the config file. Writes through Update and edits made on
// disk both surface as a Change to the Watch callback.
type Manager struct {
	path     string
	debounce time.Duration
	log      zerolog.Logger

	// commitMu serializes write+apply so a reload never races an Update.
	commitMu sync.Mutex

	mu       sync.RWMutex
	cfg      Config
	onChange func(Change)
	watching bool
}

type managerOptions struct {
	configPath    string
	initialConfig *Config
	debounce      time.Duration
	log           zerolog.Logger
}

type ManagerOption func(*managerOptions)

func NewManager(opts ...ManagerOption) (*Manager, error) {
	options := managerOptions{
		debounce: 300 * time.Millisecond,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	path := options.configPath
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	cfg, err := openConfig(path, options.initialConfig)
	if err != nil {
		return nil, err
	}

	return &Manager{
		path:     path,
		cfg:      cfg,
		debounce: options.debounce,
		log:      options.log.With().Str("component", "config").Logger(),
	}, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Path() string {
	return m.path
}

// UpdateFromJSON merges the keys present in jsonStr over the current config.
func (m *Manager) UpdateFromJSON(jsonStr string) error {
	cfg := m.Get()
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return fmt.Errorf("parse config json: %w", err)
	}
	return m.Update(cfg)
}

// Update validates cfg, persists it and notifies the watcher callback.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	change := m.diffLocked(cfg, sourceUpdate)
	if change.Empty() {
		return nil
	}
	if err := writeConfigFile(m.path, cfg); err != nil {
		return err
	}
	m.apply(change)
	return nil
}

// Watch follows the config file until ctx ends. onChange receives every
// accepted transition; calling Watch again only replaces the callback.
func (m *Manager) Watch(ctx context.Context, onChange func(Change)) error {
	m.mu.Lock()
	m.onChange = onChange
	if m.watching {
		m.mu.Unlock()
		return nil
	}
	m.watching = true
	m.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.setWatching(false)
		return err
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		m.setWatching(false)
		return fmt.Errorf("watch config dir: %w", err)
	}

	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) setWatching(v bool) {
	m.mu.Lock()
	m.watching = v
	m.mu.Unlock()
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	defer m.setWatching(false)

	// a stopped timer whose channel is drained; armed on each matching event
	pending := time.NewTimer(time.Hour)
	if !pending.Stop() {
		<-pending.C
	}
	defer pending.Stop()

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if m.touchesConfig(evt) {
				pending.Reset(m.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn().Err(err).Msg("config watcher error")
		case <-pending.C:
			m.reloadFromDisk()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) touchesConfig(evt fsnotify.Event) bool {
	if filepath.Clean(evt.Name) != filepath.Clean(m.path) {
		return false
	}
	return evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// reloadFromDisk applies the file's contents. Our own writes produce an empty
// diff and are dropped here.
func (m *Manager) reloadFromDisk() {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	cfg, err := readConfig(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// the file was removed; put the current config back
		if err := writeConfigFile(m.path, m.Get()); err != nil {
			m.log.Error().Err(err).Str("path", m.path).Msg("config recreate failed")
		}
		return
	case err != nil:
		m.log.Error().Err(err).Str("path", m.path).Msg("config reload failed")
		return
	}
	if err := cfg.Validate(); err != nil {
		m.log.Error().Err(err).Msg("config validation failed, keeping current config")
		return
	}

	change := m.diffLocked(cfg, sourceFile)
	if change.Empty() {
		return
	}
	m.apply(change)
}

func (m *Manager) diffLocked(cfg Config, source string) Change {
	prev := m.Get()
	return Change{Previous: prev, Current: cfg, Fields: Diff(prev, cfg), Source: source}
}

func (m *Manager) apply(change Change) {
	m.mu.Lock()
	m.cfg = change.Current
	cb := m.onChange
	m.mu.Unlock()

	evt := m.log.Info().Str("source", change.Source).Strs("fields", change.Fields)
	if change.Touches(SectionSequencer) {
		cur := change.Current
		evt = evt.Int("max_debate_rounds", cur.MaxDebateRounds).
			Int("max_risk_rounds", cur.MaxRiskDiscussRounds).
			Bool("dynamic_risk_rounds", cur.DynamicRiskRounds)
	}
	if change.Touches(SectionTracker) {
		evt = evt.Int("retention_minutes", change.Current.RetentionMinutes).
			Str("sweep_schedule", change.Current.SweepSchedule)
	}
	evt.Msg("config changed")

	if cb != nil {
		cb(change)
	}
}

// openConfig loads path over the defaults, or seeds it from initial when absent.
func openConfig(path string, initial *Config) (Config, error) {
	cfg, err := readConfig(path)
	if err == nil {
		return cfg, cfg.Validate()
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg = *DefaultConfigWithRoot(filepath.Dir(path))
	if initial != nil {
		cfg = *initial
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := writeConfigFile(path, cfg); err != nil {
		return Config{}, fmt.Errorf("write initial config: %w", err)
	}
	return cfg, nil
}

// readConfig decodes path over the defaults rooted at its directory, so keys
// missing from the file keep their default values.
func readConfig(path string) (Config, error) {
	cfg := *DefaultConfigWithRoot(filepath.Dir(path))
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(string(data)) == "" {
		// editors truncate before writing; wait for the next event
		return Config{}, fmt.Errorf("parse %s: empty file", path)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "CortexFlow", "config.json"), nil
}

// writeConfigFile replaces path atomically.
func writeConfigFile(path string, cfg Config) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err = enc.Encode(&cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("flush config: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func WithConfigDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		if dir != "" {
			o.configPath = filepath.Join(dir, "config.json")
		}
	}
}

func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.configPath = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

func WithInitialConfig(cfg *Config) ManagerOption {
	return func(o *managerOptions) {
		o.initialConfig = cfg
	}
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(o *managerOptions) {
		o.log = l
	}
}
