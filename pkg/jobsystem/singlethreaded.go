package jobsystem

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/nodehive/hive/pkg/log"
	"github.com/nodehive/hive/pkg/metrics"
)

// SingleThreaded is the fall-back execution strategy named in spec.md §4.1
// for environments where spinning up a worker pool isn't wanted: every job
// runs on one dedicated goroutine. It mirrors the donor's
// SingleThreadedExecutionImpl, including its signature restriction that
// WaitForCompletion cannot be called from that one worker goroutine
// without deadlocking.
type SingleThreaded struct {
	logger zerolog.Logger

	mu        sync.Mutex
	queues    map[Phase][]Runnable
	nextCycle []Runnable
	blacklist map[string]struct{}
	cycle     uint64

	running bool
	// executing is true for the span during which the single worker
	// goroutine is inside a job's workload. It is a coarse approximation
	// of "the caller is that goroutine" — Go has no goroutine-identity
	// API — so a WaitForCompletion call that happens to race with it from
	// a different goroutine is misreported as a deadlock risk; acceptable
	// for a fall-back scheduler that exists for simplicity, not throughput.
	executing atomic.Bool
	work      chan func()
	done      chan struct{}
	workerWG  sync.WaitGroup
}

// NewSingleThreadedManager creates a SingleThreaded scheduler.
func NewSingleThreadedManager() *SingleThreaded {
	return &SingleThreaded{
		logger:    log.WithComponent("jobsystem.single"),
		queues:    map[Phase][]Runnable{PhaseInit: nil, PhaseMain: nil, PhaseCleanUp: nil},
		blacklist: make(map[string]struct{}),
		work:      make(chan func(), 256),
		done:      make(chan struct{}),
	}
}

// StartExecution starts the single worker goroutine.
func (s *SingleThreaded) StartExecution() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		for {
			select {
			case <-s.done:
				return
			case task, ok := <-s.work:
				if !ok {
					return
				}
				task()
			}
		}
	}()
}

// StopExecution stops the worker goroutine and waits for it to exit.
func (s *SingleThreaded) StopExecution() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.done)
	s.workerWG.Wait()
}

func (s *SingleThreaded) KickJob(j Runnable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blacklist, j.ID())
	s.queues[j.Phase()] = append(s.queues[j.Phase()], j)
	j.SetState(StateQueued)
}

func (s *SingleThreaded) KickJobForNextCycle(j Runnable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, blocked := s.blacklist[j.ID()]; blocked {
		return
	}
	s.nextCycle = append(s.nextCycle, j)
}

func (s *SingleThreaded) DetachJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[id] = struct{}{}
	for phase, q := range s.queues {
		s.queues[phase] = filterOut(q, id)
	}
	s.nextCycle = filterOut(s.nextCycle, id)
}

func (s *SingleThreaded) InvokeCycleAndWait() {
	timer := metrics.NewTimer()

	s.mu.Lock()
	s.blacklist = make(map[string]struct{})
	pending := s.nextCycle
	s.nextCycle = nil
	s.cycle++
	cycle := s.cycle
	s.mu.Unlock()

	for _, j := range pending {
		s.KickJob(j)
	}

	s.executePhaseAndWait(PhaseInit, cycle)
	s.executePhaseAndWait(PhaseMain, cycle)
	s.executePhaseAndWait(PhaseCleanUp, cycle)

	s.mu.Lock()
	s.blacklist = make(map[string]struct{})
	s.mu.Unlock()

	timer.ObserveDuration(metrics.JobCycleDuration)
}

func (s *SingleThreaded) executePhaseAndWait(phase Phase, cycle uint64) {
	timer := metrics.NewTimer()

	s.mu.Lock()
	snapshot := s.queues[phase]
	s.queues[phase] = nil
	s.mu.Unlock()

	counter := NewJobCounter()
	metrics.ActiveJobCounters.Inc()
	defer metrics.ActiveJobCounters.Dec()
	ctx := &JobContext{cycle: cycle}

	for _, j := range snapshot {
		s.mu.Lock()
		_, blocked := s.blacklist[j.ID()]
		s.mu.Unlock()
		if blocked {
			continue
		}
		if !j.IsReadyForExecution(ctx) {
			s.mu.Lock()
			s.queues[phase] = append(s.queues[phase], j)
			s.mu.Unlock()
			continue
		}
		j.AddCounter(counter)
		j.SetState(StateAwaitingExecution)
		s.runOnWorker(j, ctx, phase)
	}

	yieldUntil(counter)

	timer.ObserveDurationVec(metrics.JobPhaseDuration, phase.String())
}

func (s *SingleThreaded) runOnWorker(j Runnable, ctx *JobContext, phase Phase) {
	metrics.JobsScheduled.WithLabelValues(phase.String()).Inc()

	run := func() {
		s.executing.Store(true)
		continuation := j.Execute(ctx)
		s.executing.Store(false)
		if j.State() == StateFailed {
			metrics.JobsFailed.WithLabelValues(phase.String()).Inc()
		}
		if continuation == Requeue {
			s.mu.Lock()
			_, blocked := s.blacklist[j.ID()]
			if !blocked {
				s.queues[phase] = append(s.queues[phase], j)
			}
			s.mu.Unlock()
		}
	}
	select {
	case s.work <- run:
	default:
		run()
	}
}

// WaitForCompletion blocks until w is finished. Called from the manager's
// own worker goroutine, it returns ErrWouldDeadlock immediately instead of
// spinning forever, since that goroutine is the only thing that could ever
// make w finish.
func (s *SingleThreaded) WaitForCompletion(w Waitable) error {
	if s.executing.Load() {
		return ErrWouldDeadlock
	}
	yieldUntil(w)
	return nil
}
