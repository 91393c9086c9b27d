package progress

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyike/CortexFlow/internal/models"
	"github.com/puzpuzpuz/xsync/v4"
)

// entry holds one job's record. Writers serialize on mu and publish a fresh copy;
// readers load the pointer without locking.
type entry struct {
	mu  sync.Mutex
	rec atomic.Pointer[models.JobProgress]
}

func (e *entry) load() *models.JobProgress {
	return e.rec.Load()
}

// update applies fn to a copy of the current record and publishes it. fn returns false
// to leave the record untouched.
func (e *entry) update(fn func(next *models.JobProgress) bool) (*models.JobProgress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.rec.Load().Clone()
	if !fn(next) {
		return e.rec.Load(), false
	}
	e.rec.Store(next)
	return next, true
}

// Registry is the in-process store of job progress records.
type Registry struct {
	jobs *xsync.Map[string, *entry]
}

func NewRegistry() *Registry {
	return &Registry{jobs: xsync.NewMap[string, *entry]()}
}

// create registers rec under its job id. It fails if the id is taken.
func (r *Registry) create(rec *models.JobProgress) (*entry, bool) {
	e := &entry{}
	e.rec.Store(rec)
	actual, loaded := r.jobs.LoadOrStore(rec.JobID, e)
	return actual, !loaded
}

func (r *Registry) get(jobID string) (*entry, bool) {
	return r.jobs.Load(jobID)
}

// Get returns the current record of a job.
func (r *Registry) Get(jobID string) (*models.JobProgress, bool) {
	e, ok := r.jobs.Load(jobID)
	if !ok {
		return nil, false
	}
	return e.load(), true
}

func (r *Registry) Len() int {
	return r.jobs.Size()
}

// List returns all records ordered by start time.
func (r *Registry) List() []*models.JobProgress {
	out := make([]*models.JobProgress, 0, r.jobs.Size())
	r.jobs.Range(func(_ string, e *entry) bool {
		out = append(out, e.load())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Sweep evicts terminal records that finished more than retention before now and returns
// how many were removed. Running jobs are never evicted.
func (r *Registry) Sweep(now time.Time, retention time.Duration) int {
	var expired []string
	r.jobs.Range(func(id string, e *entry) bool {
		rec := e.load()
		if rec.Status.Terminal() && !rec.FinishedAt.IsZero() && now.Sub(rec.FinishedAt) > retention {
			expired = append(expired, id)
		}
		return true
	})
	for _, id := range expired {
		r.jobs.Delete(id)
	}
	return len(expired)
}
