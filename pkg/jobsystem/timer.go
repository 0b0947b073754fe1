package jobsystem

import (
	"sync"
	"time"
)

// TimerJob is a Job that only becomes ready for execution once a fixed
// interval has elapsed since it was first checked. The interval is
// restarted the moment it is first observed (not at construction time),
// mirroring the source's RestartTimer-on-first-check behavior: a TimerJob
// sitting in a queue before the scheduler ever looks at it does not burn
// down its interval early.
type TimerJob struct {
	*Job

	interval time.Duration

	mu      sync.Mutex
	started bool
	startAt time.Time
}

// NewTimerJob creates a TimerJob that fires its workload no more often
// than once per interval.
func NewTimerJob(phase Phase, interval time.Duration, workload Workload, opts ...Option) *TimerJob {
	return &TimerJob{
		Job:      NewJob(phase, workload, opts...),
		interval: interval,
	}
}

// IsReadyForExecution overrides Job's always-ready check: the timer starts
// on first call and the job only becomes ready once interval has elapsed,
// at which point the timer resets so a Requeue starts a fresh interval.
func (t *TimerJob) IsReadyForExecution(ctx *JobContext) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		t.started = true
		t.startAt = time.Now()
		return false
	}

	if time.Since(t.startAt) < t.interval {
		return false
	}

	t.started = false
	return true
}
