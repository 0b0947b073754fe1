/*
Package services layers request/response RPC on top of pkg/messaging: a
Registry tracks which services are callable locally and on which peers,
a round-robin Caller load-balances across the Executors backing a given
service name, and LocalExecutor/RemoteExecutor provide the two concrete
ways a call can actually run.

# Flow

A local service is registered with Registry.RegisterLocal, which both
makes it callable in-process through a LocalExecutor and broadcasts a
service.register message so peers learn about it and can route calls back
over the wire through a RemoteExecutor.

Caller.Call picks the next Executor for a service name in round-robin
order (one Executor per attempt, none skipped, up to RetryPolicy's
MaxAttempts attempts) and
either runs it in-process (LocalExecutor) or sends a service.request
message and awaits the matching service.response through a shared
PendingTable keyed by transaction id, with a periodic sweep failing any
request that outlives its deadline.
*/
package services
