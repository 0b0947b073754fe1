package events

import (
	"sync"
	"time"
	"weak"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nodehive/hive/pkg/jobsystem"
	"github.com/nodehive/hive/pkg/log"
	"github.com/nodehive/hive/pkg/metrics"
)

// Kind tags the type held by a Value.
type Kind int

const (
	KindNone Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
)

// Value is a small tagged union used for event payload fields, avoiding an
// `any`-typed map whose entries would need a type switch on every read.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func IntValue(i int64) Value      { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value  { return Value{Kind: KindFloat, Float: f} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

// Event is a single occurrence published to a topic.
type Event struct {
	ID    string
	Topic string
	Time  time.Time
	Data  map[string]Value
}

// Listener receives events delivered by a Broker.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(e Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Handle is the caller-owned object a Broker keeps only a weak reference
// to. Subscribe returns one; the subscription stays live exactly as long
// as the caller keeps this Handle reachable.
type Handle struct {
	topic    string
	listener Listener
}

// Listener returns the handle's underlying listener.
func (h *Handle) Listener() Listener { return h.listener }

type subscription struct {
	ptr weak.Pointer[Handle]
}

// Broker dispatches events to weakly-held listeners through a jobsystem
// Manager instead of its own goroutine/channel loop.
type Broker struct {
	logger  zerolog.Logger
	manager *jobsystem.Manager

	mu     sync.Mutex
	topics map[string][]subscription

	sweepInterval time.Duration
	sweepStarted  bool
}

// NewBroker creates a Broker that schedules listener dispatch and its
// periodic weak-reference sweep onto manager.
func NewBroker(manager *jobsystem.Manager) *Broker {
	return &Broker{
		logger:        log.WithComponent("events"),
		manager:       manager,
		topics:        make(map[string][]subscription),
		sweepInterval: 5 * time.Second,
	}
}

// Subscribe registers l for events fired on topic and returns the Handle
// that must be kept alive to keep receiving them. It also lazily starts
// the periodic sweep job the first time any subscription is made.
func (b *Broker) Subscribe(topic string, l Listener) *Handle {
	h := &Handle{topic: topic, listener: l}

	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], subscription{ptr: weak.Make(h)})
	b.ensureSweepLocked()
	b.mu.Unlock()

	return h
}

// SubscribeFunc is a convenience wrapper around Subscribe for function
// listeners.
func (b *Broker) SubscribeFunc(topic string, f func(Event)) *Handle {
	return b.Subscribe(topic, ListenerFunc(f))
}

func (b *Broker) ensureSweepLocked() {
	if b.sweepStarted {
		return
	}
	b.sweepStarted = true

	sweep := jobsystem.NewTimerJob(jobsystem.PhaseCleanUp, b.sweepInterval, func(ctx *jobsystem.JobContext) jobsystem.Continuation {
		b.sweepDeadHandles()
		return jobsystem.Requeue
	})
	b.manager.KickJob(sweep)
}

func (b *Broker) sweepDeadHandles() {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for topic, subs := range b.topics {
		live := subs[:0:0]
		for _, s := range subs {
			if s.ptr.Value() != nil {
				live = append(live, s)
			} else {
				removed++
			}
		}
		b.topics[topic] = live
	}
	if removed > 0 {
		b.logger.Debug().Int("removed", removed).Msg("swept dead event listeners")
	}
}

// FireEvent publishes e to every live listener subscribed to e.Topic,
// scheduling one job per listener through the broker's Manager rather than
// delivering inline.
func (b *Broker) FireEvent(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	metrics.EventsFired.Inc()

	b.mu.Lock()
	subs := append([]subscription(nil), b.topics[e.Topic]...)
	b.mu.Unlock()

	for _, s := range subs {
		h := s.ptr.Value()
		if h == nil {
			continue
		}
		listener := h.listener
		metrics.EventListenersInvoked.Inc()
		b.manager.KickJob(jobsystem.NewJob(jobsystem.PhaseMain, func(ctx *jobsystem.JobContext) jobsystem.Continuation {
			listener.OnEvent(e)
			return jobsystem.Dispose
		}))
	}
}

// ListenerCount returns the number of still-live subscriptions for topic,
// useful in tests that assert the weak-sweep actually ran.
func (b *Broker) ListenerCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, s := range b.topics[topic] {
		if s.ptr.Value() != nil {
			n++
		}
	}
	return n
}
