package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nodehive/hive/pkg/metrics"
)

// ErrNoCallableServiceFound is returned when no Executor, local or
// remote, is currently known for a service name.
var ErrNoCallableServiceFound = errors.New("services: no callable service found")

// ErrCallTimedOut is returned when every retry attempt is exhausted
// without a non-busy, non-error response.
var ErrCallTimedOut = errors.New("services: call timed out")

// Caller load-balances calls to a named service across its Executors in
// round-robin order, applying a RetryPolicy when an attempt comes back
// busy or fails.
type Caller struct {
	registry    *Registry
	serviceName string

	mu  sync.Mutex
	idx int
}

// NewCaller creates a Caller for serviceName backed by registry.
func NewCaller(registry *Registry, serviceName string) *Caller {
	return &Caller{registry: registry, serviceName: serviceName}
}

// Call selects executors in round-robin order and attempts the call,
// retrying per policy. Each attempt takes the next executor in the list;
// no executor is skipped or checked for callability first, and a Call
// makes at most policy.MaxAttempts attempts in total.
func (c *Caller) Call(ctx context.Context, args map[string]any, policy RetryPolicy) (Response, error) {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	timer := metrics.NewTimer()

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		execs := c.registry.Executors(c.serviceName)
		if len(execs) == 0 {
			return c.recordOutcome(timer, StatusError, Response{}, ErrNoCallableServiceFound)
		}

		exec := c.next(execs)
		resp, err := exec.Call(ctx, Request{Service: c.serviceName, Args: args})
		if err != nil {
			if !policy.TryNextExecutor {
				return c.recordOutcome(timer, StatusError, Response{}, err)
			}
			c.sleepRetry(policy)
			continue
		}

		switch resp.Status {
		case StatusOK, StatusError, StatusNoSuchService:
			return c.recordOutcome(timer, resp.Status, resp, nil)
		case StatusBusy, StatusTimeout:
			if policy.RetrySame {
				c.rewind(execs)
			}
			c.sleepRetry(policy)
			continue
		}
	}

	return c.recordOutcome(timer, StatusTimeout, Response{}, ErrCallTimedOut)
}

// recordOutcome records the call's duration and resulting status and
// returns resp/err unchanged, so every exit point from Call is observed
// exactly once regardless of which branch it returns from.
func (c *Caller) recordOutcome(timer *metrics.Timer, status Status, resp Response, err error) (Response, error) {
	metrics.ServiceCallsTotal.WithLabelValues(c.serviceName, status.String()).Inc()
	timer.ObserveDurationVec(metrics.ServiceCallDuration, c.serviceName, status.String())
	return resp, err
}

// next returns the executor at the current index and advances it, wrapping
// around the given slice, which is re-fetched fresh on every attempt.
func (c *Caller) next(execs []Executor) Executor {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(execs) == 0 {
		return nil
	}
	i := c.idx % len(execs)
	c.idx = (c.idx + 1) % len(execs)
	return execs[i]
}

// rewind undoes the last advance so RetrySame targets the same executor
// again on the next attempt.
func (c *Caller) rewind(execs []Executor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(execs) == 0 {
		return
	}
	c.idx = (c.idx - 1 + len(execs)) % len(execs)
}

func (c *Caller) sleepRetry(policy RetryPolicy) {
	if policy.RetryInterval > 0 {
		time.Sleep(time.Duration(policy.RetryInterval) * time.Millisecond)
	}
}
