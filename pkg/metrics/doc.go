/*
Package metrics provides Prometheus metrics collection and exposition for
the node runtime.

Every subsystem's key numbers — job scheduling, event dispatch, connection
lifecycle, service calls — register themselves here at package init and
are exposed through Handler() for an embedding application to mount.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  Job system:   JobsScheduled, JobsFailed (by phase)       │
	│                JobCycleDuration, JobPhaseDuration         │
	│                ActiveJobCounters                          │
	│                                                            │
	│  Events:       EventsFired, EventListenersInvoked        │
	│                                                            │
	│  Messaging:    ConnectionsActive, ConnectionsEstablished  │
	│                ConnectionsClosed                          │
	│                MessagesSent, MessagesReceived             │
	│                                                            │
	│  Services:     ServiceCallDuration (by service+status)    │
	│                ServiceCallsTotal (by service+status)       │
	│                PendingRPCCount                             │
	└────────────────────────────────────────────────────────────┘

Handler() returns promhttp.Handler(); this package never runs its own HTTP
server, leaving that to cmd/hive or any other embedder.
*/
package metrics
