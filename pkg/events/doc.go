/*
Package events provides the node runtime's in-process event broker.

Unlike a bespoke channel-and-goroutine fan-out loop, listener dispatch here
runs through pkg/jobsystem: FireEvent kicks one Job per live listener
rather than writing to a buffered channel, so event delivery shares the
same INIT/MAIN/CLEAN_UP phase discipline and failure isolation as the rest
of the node.

# Weak listeners

A Broker never keeps a listener alive by itself. Subscribe returns a
*Handle the caller must hold onto for as long as it wants events; the
Broker itself only keeps a weak.Pointer[Handle]. Once the caller drops its
Handle, the garbage collector is free to reclaim it, and a periodic sweep
job prunes the resulting dead weak pointers from the topic's listener
list — the same bookkeeping the donor networking layer does for consumer
weak_ptrs, here built on Go's standard weak package instead of a
hand-rolled generational index.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Subscribe(topic) ──► *Handle (strong, caller-owned)      │
	│                            │                               │
	│                            ▼ weak.Make                     │
	│  Broker.listeners[topic] ──► []weak.Pointer[Handle]        │
	│                                                            │
	│  FireEvent(topic, value) ──► per live weak pointer:         │
	│                                  jobsystem.KickJob(deliver) │
	│                                                            │
	│  sweep TimerJob (every 5s) ──► drops dead weak pointers     │
	└────────────────────────────────────────────────────────────┘
*/
package events
