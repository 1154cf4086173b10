package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/terrain.report/internal/terrain"
	"github.com/banshee-data/terrain.report/internal/timeutil"
)

// JobState tracks an asynchronous acquisition or derivation job.
type JobState string

const (
	JobPending  JobState = "pending"
	JobRunning  JobState = "running"
	JobDone     JobState = "done"
	JobFailed   JobState = "failed"
	JobCanceled JobState = "canceled"
)

// Job is the API view of one background task. Events accumulate in emit
// order; Result is populated on success, Error on failure.
type Job struct {
	ID        string                  `json:"id"`
	Kind      string                  `json:"kind"`
	State     JobState                `json:"state"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	Events    []terrain.ProgressEvent `json:"events"`
	Result    interface{}             `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// jobTracker is an in-memory registry of background jobs. It doubles as the
// manager's progress sink: events are routed to jobs by their JobID.
type jobTracker struct {
	mu    sync.RWMutex
	clock timeutil.Clock
	jobs  map[string]*Job

	// maxJobs bounds memory; oldest finished jobs are evicted first.
	maxJobs int
}

func newJobTracker(clock timeutil.Clock) *jobTracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &jobTracker{
		clock:   clock,
		jobs:    make(map[string]*Job),
		maxJobs: 256,
	}
}

// create registers a new pending job and returns its id.
func (t *jobTracker) create(kind string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()
	id := uuid.NewString()
	now := t.clock.Now()
	t.jobs[id] = &Job{
		ID:        id,
		Kind:      kind,
		State:     JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id
}

// Progress implements terrain.ProgressFunc. Events for unknown job ids are
// dropped silently so internally generated manager jobs do not accumulate.
func (t *jobTracker) Progress(ev terrain.ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[ev.JobID]
	if !ok {
		return
	}
	j.Events = append(j.Events, ev)
	j.UpdatedAt = t.clock.Now()
}

func (t *jobTracker) setState(id string, state JobState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[id]; ok {
		j.State = state
		j.UpdatedAt = t.clock.Now()
	}
}

func (t *jobTracker) finish(id string, result interface{}, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return
	}
	j.UpdatedAt = t.clock.Now()
	if err != nil {
		j.State = JobFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			j.State = JobCanceled
		}
		j.Error = err.Error()
		return
	}
	j.State = JobDone
	j.Result = result
}

// get returns a copy of the job so callers can serialise without holding
// the tracker lock.
func (t *jobTracker) get(id string) (Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, false
	}
	cp := *j
	cp.Events = append([]terrain.ProgressEvent(nil), j.Events...)
	return cp, true
}

// list returns copies of all jobs, most recently created first.
func (t *jobTracker) list() []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		cp := *j
		cp.Events = append([]terrain.ProgressEvent(nil), j.Events...)
		out = append(out, cp)
	}
	for i := 0; i < len(out); i++ {
		for k := i + 1; k < len(out); k++ {
			if out[k].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[k] = out[k], out[i]
			}
		}
	}
	return out
}

// evictLocked drops the oldest finished jobs once the map exceeds maxJobs.
// Caller holds the write lock.
func (t *jobTracker) evictLocked() {
	if len(t.jobs) < t.maxJobs {
		return
	}
	var oldestID string
	var oldest time.Time
	for id, j := range t.jobs {
		if j.State == JobPending || j.State == JobRunning {
			continue
		}
		if oldestID == "" || j.UpdatedAt.Before(oldest) {
			oldestID = id
			oldest = j.UpdatedAt
		}
	}
	if oldestID != "" {
		delete(t.jobs, oldestID)
	}
}
