package messaging

import (
	"sync"
	"weak"

	"github.com/rs/zerolog"

	"github.com/nodehive/hive/pkg/jobsystem"
	"github.com/nodehive/hive/pkg/log"
)

// Consumer processes a single received Message.
type Consumer interface {
	OnMessage(conn *Connection, msg Message)
}

// ConsumerFunc adapts a plain function to the Consumer interface.
type ConsumerFunc func(conn *Connection, msg Message)

func (f ConsumerFunc) OnMessage(conn *Connection, msg Message) { f(conn, msg) }

// ConsumerHandle is the caller-owned object a ConsumerRegistry only holds
// a weak reference to, mirroring events.Handle.
type ConsumerHandle struct {
	msgType  string
	consumer Consumer
}

func (h *ConsumerHandle) Consumer() Consumer { return h.consumer }

type consumerSub struct {
	ptr weak.Pointer[ConsumerHandle]
}

// ConsumerRegistry dispatches inbound messages, by type, to weakly-held
// consumers through a jobsystem Manager — one job kicked per live
// consumer per message, the same discipline pkg/events uses for listeners.
type ConsumerRegistry struct {
	logger  zerolog.Logger
	manager *jobsystem.Manager

	mu   sync.Mutex
	subs map[string][]consumerSub
}

func NewConsumerRegistry(manager *jobsystem.Manager) *ConsumerRegistry {
	return &ConsumerRegistry{
		logger:  log.WithComponent("messaging.consumers"),
		manager: manager,
		subs:    make(map[string][]consumerSub),
	}
}

// AddConsumer registers c for messages of msgType and returns the Handle
// that must stay reachable for the subscription to remain live.
func (r *ConsumerRegistry) AddConsumer(msgType string, c Consumer) *ConsumerHandle {
	h := &ConsumerHandle{msgType: msgType, consumer: c}

	r.mu.Lock()
	r.subs[msgType] = append(r.subs[msgType], consumerSub{ptr: weak.Make(h)})
	r.mu.Unlock()

	return h
}

// AddConsumerFunc is a convenience wrapper around AddConsumer.
func (r *ConsumerRegistry) AddConsumerFunc(msgType string, f func(conn *Connection, msg Message)) *ConsumerHandle {
	return r.AddConsumer(msgType, ConsumerFunc(f))
}

// Dispatch schedules one job per live consumer registered for msg.Type.
func (r *ConsumerRegistry) Dispatch(conn *Connection, msg Message) {
	r.mu.Lock()
	subs := append([]consumerSub(nil), r.subs[msg.Type]...)
	r.mu.Unlock()

	for _, s := range subs {
		h := s.ptr.Value()
		if h == nil {
			continue
		}
		consumer := h.consumer
		r.manager.KickJob(jobsystem.NewJob(jobsystem.PhaseMain, func(ctx *jobsystem.JobContext) jobsystem.Continuation {
			consumer.OnMessage(conn, msg)
			return jobsystem.Dispose
		}))
	}
}

// CleanUp drops dead weak pointers for every message type. Endpoint runs
// this from a periodic TimerJob, the same sweep shape as pkg/events.
func (r *ConsumerRegistry) CleanUp() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for msgType, subs := range r.subs {
		live := subs[:0:0]
		for _, s := range subs {
			if s.ptr.Value() != nil {
				live = append(live, s)
			}
		}
		r.subs[msgType] = live
	}
}

// ConsumerCount returns the number of still-live consumers for msgType.
func (r *ConsumerRegistry) ConsumerCount(msgType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.subs[msgType] {
		if s.ptr.Value() != nil {
			n++
		}
	}
	return n
}
