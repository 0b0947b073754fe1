package jobsystem

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Phase is one of the three queues a Job executes in during a cycle.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseMain
	PhaseCleanUp
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseMain:
		return "main"
	case PhaseCleanUp:
		return "clean_up"
	default:
		return "unknown"
	}
}

// State is a Job's lifecycle state. States only advance in the order
// given below; Failed is terminal.
type State int32

const (
	StateDetached State = iota
	StateQueued
	StateAwaitingExecution
	StateInExecution
	StateExecutionFinished
	StateFailed
)

// Continuation is what a Workload asks the scheduler to do once it returns.
type Continuation int

const (
	// Dispose means the job will not run again.
	Dispose Continuation = iota
	// Requeue moves the job to the next cycle's queue for its phase.
	Requeue
)

// Workload is the function body of a Job. It receives the JobContext for
// the cycle it is running in and returns what should happen next.
type Workload func(ctx *JobContext) Continuation

// Waitable is anything WaitForCompletion can block on: a JobCounter or a
// future.Future from another package (satisfied structurally).
type Waitable interface {
	IsFinished() bool
}

// Runnable is the capability set the Manager schedules against. *Job
// implements it directly; *TimerJob embeds *Job and overrides
// IsReadyForExecution, which is Go's stand-in for the virtual dispatch the
// donor's CRTP-based execution strategy used.
type Runnable interface {
	ID() string
	Phase() Phase
	IsAsync() bool
	State() State
	SetState(State)
	AddCounter(c *JobCounter)
	IsReadyForExecution(ctx *JobContext) bool
	Execute(ctx *JobContext) Continuation
}

// Job is a single unit of cooperative work.
type Job struct {
	id       string
	phase    Phase
	async    bool
	workload Workload

	stateMu sync.Mutex
	state   State

	countersMu sync.Mutex
	counters   []*JobCounter
}

// Option configures a Job at construction time.
type Option func(*Job)

// Async marks the job as long-running / suspending, matching the source's
// advisory "workloads exceeding ~1s should be marked async".
func Async() Option {
	return func(j *Job) { j.async = true }
}

// WithID overrides the generated UUID, e.g. to give a well-known job a
// stable identity so it can be detached and replaced later.
func WithID(id string) Option {
	return func(j *Job) { j.id = id }
}

// NewJob creates a detached Job for the given phase. Its id is a random
// UUID unless overridden with WithID.
func NewJob(phase Phase, workload Workload, opts ...Option) *Job {
	j := &Job{
		id:       uuid.NewString(),
		phase:    phase,
		workload: workload,
		state:    StateDetached,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Job) ID() string    { return j.id }
func (j *Job) Phase() Phase  { return j.phase }
func (j *Job) IsAsync() bool { return j.async }

func (j *Job) State() State {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	return j.state
}

func (j *Job) SetState(s State) {
	j.stateMu.Lock()
	j.state = s
	j.stateMu.Unlock()
}

// AddCounter attaches a counter to this job, incrementing it immediately.
// The counter is decremented exactly once when the job finishes, success
// or failure, regardless of how many counters are attached.
func (j *Job) AddCounter(c *JobCounter) {
	c.Increase()
	j.countersMu.Lock()
	j.counters = append(j.counters, c)
	j.countersMu.Unlock()
}

// IsReadyForExecution is always true for a plain Job. TimerJob overrides
// this to gate on elapsed wall-clock time.
func (j *Job) IsReadyForExecution(_ *JobContext) bool { return true }

// Execute runs the workload, recovering from any panic so that one failing
// workload can never take down the scheduler (the one place this module
// still uses a catch-all, per the job-scheduler boundary rule in the
// source's re-architecture guidance). Counters are always decremented
// exactly once on the way out.
func (j *Job) Execute(ctx *JobContext) (continuation Continuation) {
	j.SetState(StateInExecution)

	defer func() {
		if r := recover(); r != nil {
			j.SetState(StateFailed)
			continuation = Dispose
		}
		j.finish()
	}()

	continuation = j.workload(ctx)
	if j.State() != StateFailed {
		j.SetState(StateExecutionFinished)
	}
	return continuation
}

func (j *Job) finish() {
	j.countersMu.Lock()
	counters := j.counters
	j.counters = nil
	j.countersMu.Unlock()

	for _, c := range counters {
		c.Decrease()
	}
}

// JobCounter is a synchronization object counting outstanding jobs. Every
// Increase (via AddCounter) is paired with exactly one Decrease once the
// holding job finishes.
type JobCounter struct {
	n atomic.Int64
}

func NewJobCounter() *JobCounter { return &JobCounter{} }

func (c *JobCounter) Increase() { c.n.Add(1) }
func (c *JobCounter) Decrease() { c.n.Add(-1) }
func (c *JobCounter) Count() int64 { return c.n.Load() }

// IsFinished reports whether the counter has returned to zero.
func (c *JobCounter) IsFinished() bool { return c.n.Load() <= 0 }
