/*
Package jobsystem provides the node runtime's cooperative job scheduler.

All work in the hive node runs as a Job rather than as an ad hoc goroutine
or blocking call. A Manager drives a fixed pool of worker goroutines through
repeated three-phase cycles — INIT, then MAIN, then CLEAN_UP — and every
other subsystem (events, messaging, services) schedules Jobs onto it instead
of managing its own concurrency.

# Architecture

	┌─────────────────────── JOB SYSTEM ────────────────────────┐
	│                                                             │
	│   KickJob(phase) ──► [init queue] [main queue] [cleanup q] │
	│                            │            │            │     │
	│                            ▼            ▼            ▼     │
	│                       INIT phase ──► MAIN phase ──► CLEAN_UP│
	│                       (counter)     (counter)     (counter)│
	│                            │                                │
	│                            └──── worker pool (N goroutines)│
	│                                                             │
	│   REQUEUE ──► next-cycle queue ──► re-kicked at next cycle  │
	│   DetachJob(id) ──► removed from queues + blacklisted       │
	└─────────────────────────────────────────────────────────────┘

A cycle only advances past a phase once that phase's JobCounter reaches
zero, giving the guarantee that a MAIN job never observes CLEAN_UP work of
the same cycle and always observes all INIT work of the same cycle.

Go has no fibers, so "yielding a fiber" is modeled as a worker-pool
goroutine that polls Waitable.IsFinished with runtime.Gosched between
checks — the same cooperative-yield discipline the donor C++ job system
used boost.fiber for, minus true stack switching, which Go's goroutine
scheduler already provides at a coarser grain.
*/
package jobsystem
