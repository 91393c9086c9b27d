package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type ManagerConfig struct {
	// Retention is how long finished jobs stay queryable in this process.
	Retention time.Duration
	// SweepSchedule is a cron expression, "@every 1m" by default.
	SweepSchedule string
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{Retention: time.Hour, SweepSchedule: "@every 1m"}
}

type runningJob struct {
	req      JobRequest
	cancel   context.CancelFunc
	done     chan struct{}
	result   Result
	finished time.Time
}

func (j *runningJob) isDone() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Manager runs jobs in the background, one goroutine each.
type Manager struct {
	worker *Worker
	cfg    ManagerConfig
	jobs   *xsync.Map[string, *runningJob]
	cron   *cron.Cron
	log    zerolog.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
	// mu orders wg.Add in Start against wg.Wait in Close.
	mu     sync.Mutex
	closed bool
	now    func() time.Time
}

func NewManager(worker *Worker, cfg ManagerConfig, log zerolog.Logger) (*Manager, error) {
	def := DefaultManagerConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = def.SweepSchedule
	}

	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		worker: worker,
		cfg:    cfg,
		jobs:   xsync.NewMap[string, *runningJob](),
		cron:   cron.New(),
		log:    log.With().Str("component", "manager").Logger(),
		base:   base,
		stop:   stop,
		now:    time.Now,
	}

	if _, err := m.cron.AddFunc(cfg.SweepSchedule, func() { m.Sweep() }); err != nil {
		stop()
		return nil, fmt.Errorf("schedule sweep %q: %w", cfg.SweepSchedule, err)
	}
	m.cron.Start()
	m.log.Info().Str("schedule", cfg.SweepSchedule).Dur("retention", cfg.Retention).Msg("job manager started")
	return m, nil
}

// Start validates req and runs it in the background. A missing job id is generated.
func (m *Manager) Start(req JobRequest) (string, error) {
	if m.isClosed() {
		return "", ErrClosed
	}
	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(m.base)
	j := &runningJob{cancel: cancel, done: make(chan struct{})}
	if _, loaded := m.jobs.LoadOrStore(req.JobID, j); loaded {
		cancel()
		return "", fmt.Errorf("%s: %w", req.JobID, ErrJobExists)
	}

	req, err := m.worker.Initialize(req)
	if err != nil {
		m.jobs.Delete(req.JobID)
		cancel()
		return "", err
	}
	j.req = req

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = m.worker.Tracker().Cancel(req.JobID)
		m.jobs.Delete(req.JobID)
		cancel()
		return "", ErrClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.wg.Done()
		defer cancel()
		j.result = m.worker.Execute(ctx, req)
		j.finished = m.now()
		close(j.done)
	}()
	return req.JobID, nil
}

// Cancel stops a running job before its next stage. Cancelling a finished job is a no-op.
func (m *Manager) Cancel(jobID string) error {
	j, ok := m.jobs.Load(jobID)
	if !ok {
		return ErrJobNotFound
	}
	j.cancel()
	return nil
}

// Wait blocks until the job ends or ctx is done.
func (m *Manager) Wait(ctx context.Context, jobID string) (Result, error) {
	j, ok := m.jobs.Load(jobID)
	if !ok {
		return Result{}, ErrJobNotFound
	}
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Active lists the ids of jobs still running.
func (m *Manager) Active() []string {
	var ids []string
	m.jobs.Range(func(id string, j *runningJob) bool {
		if !j.isDone() {
			ids = append(ids, id)
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

// Sweep forgets jobs finished longer than the retention window, here and in the tracker.
func (m *Manager) Sweep() int {
	now := m.now()
	var expired []string
	m.jobs.Range(func(id string, j *runningJob) bool {
		if j.isDone() && now.Sub(j.finished) > m.cfg.Retention {
			expired = append(expired, id)
		}
		return true
	})
	for _, id := range expired {
		m.jobs.Delete(id)
	}
	evicted := m.worker.Tracker().Sweep(m.cfg.Retention)
	if len(expired) > 0 || evicted > 0 {
		m.log.Debug().Int("jobs", len(expired)).Int("records", evicted).Msg("retention sweep")
	}
	return len(expired)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close cancels every running job and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
	<-m.cron.Stop().Done()
	m.log.Info().Msg("job manager stopped")
}
