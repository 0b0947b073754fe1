package services

import (
	"context"
	"sync/atomic"
)

// LocalExecutor runs a service's workload in-process, capping how many
// calls may run concurrently and replying StatusBusy once that cap is
// reached instead of queueing.
type LocalExecutor struct {
	name          string
	fn            ServiceFunc
	maxConcurrent int32
	inFlight      atomic.Int32
}

// NewLocalExecutor creates a LocalExecutor for the named service. A
// maxConcurrent of 0 or less is treated as unlimited.
func NewLocalExecutor(name string, maxConcurrent int, fn ServiceFunc) *LocalExecutor {
	return &LocalExecutor{name: name, fn: fn, maxConcurrent: int32(maxConcurrent)}
}

func (l *LocalExecutor) ServiceName() string { return l.name }
func (l *LocalExecutor) IsLocal() bool       { return true }

// Call runs the service function, enforcing the concurrency cap via a CAS
// loop rather than a mutex so an already-busy executor replies
// immediately instead of queuing behind lock contention.
func (l *LocalExecutor) Call(ctx context.Context, req Request) (Response, error) {
	if l.maxConcurrent > 0 {
		for {
			cur := l.inFlight.Load()
			if cur >= l.maxConcurrent {
				return Response{TxID: req.TxID, Status: StatusBusy}, nil
			}
			if l.inFlight.CompareAndSwap(cur, cur+1) {
				break
			}
		}
		defer l.inFlight.Add(-1)
	}

	result, err := l.fn(req.Args)
	if err != nil {
		return Response{TxID: req.TxID, Status: StatusError, Error: err.Error()}, nil
	}
	return Response{TxID: req.TxID, Status: StatusOK, Result: result}, nil
}
