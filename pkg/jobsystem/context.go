package jobsystem

import "runtime"

// JobContext is handed to a Workload while it runs and is the only handle
// a workload has back onto the scheduler. Holding a *JobContext is what
// distinguishes "code running inside a job" from external caller code.
// JobContext.WaitForCompletion and Manager.WaitForCompletion currently
// wait the same way: both poll with runtime.Gosched (see yieldUntil).
type JobContext struct {
	manager *Manager
	cycle   uint64
}

// Manager returns the scheduler driving this job.
func (c *JobContext) Manager() *Manager { return c.manager }

// Cycle returns the cycle number the job is currently executing within.
func (c *JobContext) Cycle() uint64 { return c.cycle }

// KickJob schedules a new job into the current or a future cycle from
// within a running workload ("jobs kicking jobs").
func (c *JobContext) KickJob(j Runnable) {
	c.manager.KickJob(j)
}

// WaitForCompletion polls w until it is finished, yielding the processor
// with runtime.Gosched between checks. The calling worker goroutine takes
// no other task while it polls; queued jobs are run only by the remaining
// workers, so when every worker is waiting this way no queued job runs.
func (c *JobContext) WaitForCompletion(w Waitable) {
	c.manager.wait(w, true)
}

// yieldUntil polls w.IsFinished, yielding the processor between checks.
// This is the direct analogue of the donor's fiber-yield loop
// (this_fiber::yield inside a while loop) adapted to goroutines, which have
// no equivalent suspend-and-resume primitive exposed to user code.
func yieldUntil(w Waitable) {
	for !w.IsFinished() {
		runtime.Gosched()
	}
}
