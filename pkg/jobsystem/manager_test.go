package jobsystem

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(4)
	m.StartExecution()
	t.Cleanup(m.StopExecution)
	return m
}

// TestAllPhasesRunInOrder checks that a job kicked into each phase runs
// within one cycle and that phases observe strict ordering: every INIT job
// finishes before any MAIN job starts, and every MAIN job finishes before
// any CLEAN_UP job starts.
func TestAllPhasesRunInOrder(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	var order []string

	record := func(name string) Workload {
		return func(ctx *JobContext) Continuation {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return Dispose
		}
	}

	m.KickJob(NewJob(PhaseInit, record("init")))
	m.KickJob(NewJob(PhaseMain, record("main")))
	m.KickJob(NewJob(PhaseCleanUp, record("cleanup")))

	m.InvokeCycleAndWait()

	require.Equal(t, []string{"init", "main", "cleanup"}, order)
}

// TestMultipleJobsPerPhase checks that several jobs kicked into the same
// phase all run before that phase's cycle completes.
func TestMultipleJobsPerPhase(t *testing.T) {
	m := newTestManager(t)

	var n atomic.Int32
	for i := 0; i < 50; i++ {
		m.KickJob(NewJob(PhaseMain, func(ctx *JobContext) Continuation {
			n.Add(1)
			return Dispose
		}))
	}

	m.InvokeCycleAndWait()

	assert.EqualValues(t, 50, n.Load())
}

// TestAutoRequeue checks that a job returning Requeue runs again on the
// next cycle without being re-kicked explicitly.
func TestAutoRequeue(t *testing.T) {
	m := newTestManager(t)

	var n atomic.Int32
	var job *Job
	job = NewJob(PhaseMain, func(ctx *JobContext) Continuation {
		if n.Add(1) < 3 {
			return Requeue
		}
		return Dispose
	})
	m.KickJob(job)

	m.InvokeCycleAndWait()
	m.InvokeCycleAndWait()
	m.InvokeCycleAndWait()

	assert.EqualValues(t, 3, n.Load())
}

// TestTimerJobWaitsForInterval checks that a TimerJob does not fire before
// its interval elapses and does fire once it has.
func TestTimerJobWaitsForInterval(t *testing.T) {
	m := newTestManager(t)

	var n atomic.Int32
	tj := NewTimerJob(PhaseMain, 30*time.Millisecond, func(ctx *JobContext) Continuation {
		n.Add(1)
		return Dispose
	})
	m.KickJob(tj)

	m.InvokeCycleAndWait()
	assert.EqualValues(t, 0, n.Load(), "timer starts on first check and should not fire yet")

	time.Sleep(40 * time.Millisecond)
	m.InvokeCycleAndWait()
	assert.EqualValues(t, 1, n.Load(), "timer should fire once interval has elapsed")
}

// TestJobsKickingJobs checks that a job scheduling another job from inside
// its own workload is honored within the same manager.
func TestJobsKickingJobs(t *testing.T) {
	m := newTestManager(t)

	var child atomic.Bool
	parent := NewJob(PhaseInit, func(ctx *JobContext) Continuation {
		ctx.KickJob(NewJob(PhaseMain, func(ctx *JobContext) Continuation {
			child.Store(true)
			return Dispose
		}))
		return Dispose
	})
	m.KickJob(parent)

	m.InvokeCycleAndWait()

	assert.True(t, child.Load())
}

// TestDetachJobPreventsExecution checks that detaching a kicked-but-not-yet
// -run job removes it from its queue so it never executes.
func TestDetachJobPreventsExecution(t *testing.T) {
	m := newTestManager(t)

	var ran atomic.Bool
	j := NewJob(PhaseMain, func(ctx *JobContext) Continuation {
		ran.Store(true)
		return Dispose
	}, WithID("detach-me"))

	m.KickJob(j)
	m.DetachJob("detach-me")
	m.InvokeCycleAndWait()

	assert.False(t, ran.Load())
}

// TestKickAfterDetachReattaches checks that re-kicking a job id that was
// detached this cycle clears the blacklist entry and lets it run.
func TestKickAfterDetachReattaches(t *testing.T) {
	m := newTestManager(t)

	var ran atomic.Bool
	j := NewJob(PhaseMain, func(ctx *JobContext) Continuation {
		ran.Store(true)
		return Dispose
	}, WithID("re-kicked"))

	m.KickJob(j)
	m.DetachJob("re-kicked")
	m.KickJob(j)
	m.InvokeCycleAndWait()

	assert.True(t, ran.Load())
}

// TestWaitForCompletionFromExternalCaller checks that external code can
// wait on a JobCounter populated by jobs run through the manager.
func TestWaitForCompletionFromExternalCaller(t *testing.T) {
	m := newTestManager(t)

	counter := NewJobCounter()
	j := NewJob(PhaseMain, func(ctx *JobContext) Continuation {
		time.Sleep(10 * time.Millisecond)
		return Dispose
	})
	j.AddCounter(counter)
	m.KickJob(j)

	go m.InvokeCycleAndWait()

	m.WaitForCompletion(counter)
	assert.True(t, counter.IsFinished())
}

func TestSingleThreadedWaitForCompletionDeadlockGuard(t *testing.T) {
	s := NewSingleThreadedManager()
	s.StartExecution()
	defer s.StopExecution()

	counter := NewJobCounter()
	blocked := make(chan error, 1)

	j := NewJob(PhaseMain, func(ctx *JobContext) Continuation {
		blocked <- s.WaitForCompletion(NewJobCounter())
		return Dispose
	})
	j.AddCounter(counter)
	s.KickJob(j)

	go s.InvokeCycleAndWait()

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrWouldDeadlock)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deadlock guard to trip")
	}
}
