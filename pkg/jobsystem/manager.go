package jobsystem

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nodehive/hive/pkg/log"
	"github.com/nodehive/hive/pkg/metrics"
)

// ErrWouldDeadlock is returned by SingleThreaded.WaitForCompletion when the
// caller is the manager's own worker goroutine: there is nobody left to
// make the awaited work progress, so waiting would hang forever.
var ErrWouldDeadlock = errors.New("jobsystem: waiting from the only worker goroutine would deadlock")

// Manager drives a fixed pool of worker goroutines through repeated
// INIT/MAIN/CLEAN_UP cycles. It is the Go restatement of the source's
// JobManager plus its fiber-pool FiberExecutionImpl.
type Manager struct {
	logger zerolog.Logger

	jobChan chan func()
	workers int
	wg      sync.WaitGroup

	mu        sync.Mutex
	queues    map[Phase][]Runnable
	nextCycle []Runnable
	blacklist map[string]struct{}

	cycle uint64

	running bool
	stop    chan struct{}
}

// NewManager creates a Manager with a worker pool of the given size. A
// concurrency of 0 or less is treated as 1.
func NewManager(concurrency int) *Manager {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Manager{
		logger:    log.WithComponent("jobsystem"),
		jobChan:   make(chan func(), 256),
		workers:   concurrency,
		queues:    map[Phase][]Runnable{PhaseInit: nil, PhaseMain: nil, PhaseCleanUp: nil},
		blacklist: make(map[string]struct{}),
		stop:      make(chan struct{}),
	}
}

// StartExecution brings up the worker pool. It is safe to call only once
// per Manager.
func (m *Manager) StartExecution() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.workerLoop()
	}
	m.logger.Debug().Int("workers", m.workers).Msg("worker pool started")
}

func (m *Manager) workerLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case task, ok := <-m.jobChan:
			if !ok {
				return
			}
			task()
		}
	}
}

// StopExecution signals the worker pool to exit, and blocks until every
// worker goroutine has returned. Tasks still buffered for the pool are not
// run.
func (m *Manager) StopExecution() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()
	m.logger.Debug().Msg("worker pool stopped")
}

func (m *Manager) blacklisted(id string) bool {
	_, ok := m.blacklist[id]
	return ok
}

// KickJob enqueues j onto the queue for its own phase, to be picked up the
// next time that phase runs. If j's id is blacklisted (DetachJob'd this
// cycle), the id is removed from the blacklist and j is accepted, so a
// detached job can be replaced and scheduled again.
func (m *Manager) KickJob(j Runnable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blacklist, j.ID())
	m.queues[j.Phase()] = append(m.queues[j.Phase()], j)
	j.SetState(StateQueued)
}

// KickJobForNextCycle defers enqueueing j until the start of the next
// InvokeCycleAndWait, at which point it is KickJob'd normally. A job
// DetachJob'd before that point is dropped instead.
func (m *Manager) KickJobForNextCycle(j Runnable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blacklisted(j.ID()) {
		return
	}
	m.nextCycle = append(m.nextCycle, j)
}

// DetachJob removes a job with the given id from every queue it might be
// sitting in and blacklists the id for the remainder of the current cycle.
// While blacklisted, the id is skipped when its phase runs, dropped by
// KickJobForNextCycle and not requeued after a Requeue continuation; a
// later KickJob with the same id clears the entry (see KickJob).
func (m *Manager) DetachJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blacklist[id] = struct{}{}

	for phase, q := range m.queues {
		m.queues[phase] = filterOut(q, id)
	}
	m.nextCycle = filterOut(m.nextCycle, id)
}

func filterOut(q []Runnable, id string) []Runnable {
	out := q[:0:0]
	for _, j := range q {
		if j.ID() != id {
			out = append(out, j)
		}
	}
	return out
}

// InvokeCycleAndWait runs one full INIT → MAIN → CLEAN_UP cycle, blocking
// until all three phases have fully drained. It is not safe to call this
// concurrently from multiple goroutines on the same Manager.
func (m *Manager) InvokeCycleAndWait() {
	timer := metrics.NewTimer()

	m.mu.Lock()
	m.blacklist = make(map[string]struct{})
	pending := m.nextCycle
	m.nextCycle = nil
	m.cycle++
	cycle := m.cycle
	m.mu.Unlock()

	for _, j := range pending {
		m.KickJob(j)
	}

	m.executePhaseAndWait(PhaseInit, cycle)
	m.executePhaseAndWait(PhaseMain, cycle)
	m.executePhaseAndWait(PhaseCleanUp, cycle)

	m.mu.Lock()
	m.blacklist = make(map[string]struct{})
	m.mu.Unlock()

	timer.ObserveDuration(metrics.JobCycleDuration)
}

func (m *Manager) executePhaseAndWait(phase Phase, cycle uint64) {
	timer := metrics.NewTimer()

	m.mu.Lock()
	snapshot := m.queues[phase]
	m.queues[phase] = nil
	m.mu.Unlock()

	counter := NewJobCounter()
	metrics.ActiveJobCounters.Inc()
	defer metrics.ActiveJobCounters.Dec()
	ctx := &JobContext{manager: m, cycle: cycle}

	for _, j := range snapshot {
		if m.isBlacklisted(j.ID()) {
			continue
		}
		if !j.IsReadyForExecution(ctx) {
			m.requeue(phase, j)
			continue
		}
		j.AddCounter(counter)
		j.SetState(StateAwaitingExecution)
		m.schedule(j, ctx, phase)
	}

	m.wait(counter, false)

	timer.ObserveDurationVec(metrics.JobPhaseDuration, phase.String())
}

func (m *Manager) isBlacklisted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blacklisted(id)
}

func (m *Manager) requeue(phase Phase, j Runnable) {
	m.mu.Lock()
	m.queues[phase] = append(m.queues[phase], j)
	m.mu.Unlock()
}

func (m *Manager) schedule(j Runnable, ctx *JobContext, phase Phase) {
	metrics.JobsScheduled.WithLabelValues(phase.String()).Inc()

	run := func() {
		continuation := j.Execute(ctx)
		if j.State() == StateFailed {
			metrics.JobsFailed.WithLabelValues(phase.String()).Inc()
		}
		if continuation == Requeue {
			if !m.isBlacklisted(j.ID()) {
				m.requeue(phase, j)
			}
		}
	}
	select {
	case m.jobChan <- run:
	default:
		// Pool saturated: run inline rather than dropping the job. This
		// only happens under sustained overload of the 256-deep buffer.
		run()
	}
}

// WaitForCompletion blocks the calling goroutine, which must not be one of
// this Manager's own worker goroutines, until w is finished.
func (m *Manager) WaitForCompletion(w Waitable) {
	m.wait(w, false)
}

func (m *Manager) wait(w Waitable, fromJob bool) {
	yieldUntil(w)
}
