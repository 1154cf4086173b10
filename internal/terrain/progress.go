package terrain

import "sync"

// Stage names an acquisition phase for progress reporting.
type Stage string

const (
	StageSelectingProvider Stage = "selecting_provider"
	StageDownloading       Stage = "downloading"
	StageStandardizing     Stage = "standardizing"
	StageCaching           Stage = "caching"
)

// ProgressEvent is an advisory progress update. Events are delivered
// at-least-once per stage; consumers must tolerate duplicates. Percent is
// monotonically non-decreasing within a job.
type ProgressEvent struct {
	JobID   string  `json:"job_id"`
	Stage   Stage   `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// ProgressFunc receives progress events. Implementations must not block;
// slow consumers should buffer or drop.
type ProgressFunc func(ProgressEvent)

// progressTracker enforces per-job percent monotonicity on top of an
// arbitrary sink.
type progressTracker struct {
	mu    sync.Mutex
	jobID string
	last  float64
	sink  ProgressFunc
}

func newProgressTracker(jobID string, sink ProgressFunc) *progressTracker {
	return &progressTracker{jobID: jobID, sink: sink}
}

// emit forwards an event, clamping percent so it never regresses.
func (p *progressTracker) emit(stage Stage, percent float64, message string) {
	if p == nil || p.sink == nil {
		return
	}
	p.mu.Lock()
	if percent < p.last {
		percent = p.last
	}
	p.last = percent
	p.mu.Unlock()
	p.sink(ProgressEvent{JobID: p.jobID, Stage: stage, Percent: percent, Message: message})
}
