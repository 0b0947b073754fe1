package services

import (
	"sync"
	"time"

	"github.com/nodehive/hive/pkg/future"
	"github.com/nodehive/hive/pkg/jobsystem"
	"github.com/nodehive/hive/pkg/metrics"
)

type pendingEntry struct {
	promise  *future.Promise[Response]
	deadline time.Time
}

// PendingTable tracks outstanding RemoteExecutor calls by transaction id
// until a matching response arrives or the call's deadline is swept away.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
}

// NewPendingTable creates an empty table and schedules its expiry sweep
// onto manager, running once per interval.
func NewPendingTable(manager *jobsystem.Manager, interval time.Duration) *PendingTable {
	t := &PendingTable{entries: make(map[string]pendingEntry)}

	sweep := jobsystem.NewTimerJob(jobsystem.PhaseCleanUp, interval, func(ctx *jobsystem.JobContext) jobsystem.Continuation {
		t.sweepExpired()
		return jobsystem.Requeue
	})
	manager.KickJob(sweep)

	return t
}

// Register reserves txID and returns the Future the caller should wait on.
func (t *PendingTable) Register(txID string, timeout time.Duration) *future.Future[Response] {
	f, p := future.New[Response]()

	t.mu.Lock()
	t.entries[txID] = pendingEntry{promise: p, deadline: time.Now().Add(timeout)}
	n := len(t.entries)
	t.mu.Unlock()

	metrics.PendingRPCCount.Set(float64(n))
	return f
}

// Resolve completes the pending call for txID, if still outstanding, and
// reports whether one was found.
func (t *PendingTable) Resolve(txID string, resp Response) bool {
	t.mu.Lock()
	entry, ok := t.entries[txID]
	if ok {
		delete(t.entries, txID)
	}
	n := len(t.entries)
	t.mu.Unlock()

	if !ok {
		return false
	}
	metrics.PendingRPCCount.Set(float64(n))
	entry.promise.Resolve(resp)
	return true
}

func (t *PendingTable) sweepExpired() {
	now := time.Now()

	t.mu.Lock()
	var expired []pendingEntry
	for txID, entry := range t.entries {
		if now.After(entry.deadline) {
			expired = append(expired, entry)
			delete(t.entries, txID)
		}
	}
	n := len(t.entries)
	t.mu.Unlock()

	if len(expired) > 0 {
		metrics.PendingRPCCount.Set(float64(n))
	}
	for _, entry := range expired {
		entry.promise.Resolve(Response{Status: StatusTimeout})
	}
}
