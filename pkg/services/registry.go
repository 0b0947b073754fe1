package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodehive/hive/pkg/jobsystem"
	"github.com/nodehive/hive/pkg/log"
	"github.com/nodehive/hive/pkg/messaging"
)

// Registry is the per-node service directory (C8). It wires three message
// consumers onto the messaging endpoint — registration, request, and
// response — and broadcasts every local registration so peers can build a
// RemoteExecutor pointed at this node.
type Registry struct {
	logger   zerolog.Logger
	nodeID   string
	manager  *jobsystem.Manager
	endpoint *messaging.Endpoint
	pending  *PendingTable

	mu     sync.Mutex
	local  map[string]*LocalExecutor
	remote map[string]map[string]*RemoteExecutor // service -> peerID -> executor

	// consumers holds the strong references to the three ConsumerHandles
	// below. ConsumerRegistry retains only weak.Pointers to them (see
	// pkg/messaging/consumer.go); without this field the handles are
	// GC-eligible the instant NewRegistry returns, and the RPC consumers
	// silently stop firing the next time the garbage collector runs.
	consumers []*messaging.ConsumerHandle
}

// NewRegistry creates a Registry bound to endpoint and registers its three
// special consumers.
func NewRegistry(manager *jobsystem.Manager, endpoint *messaging.Endpoint) *Registry {
	r := &Registry{
		logger:   log.WithComponent("services.registry"),
		nodeID:   endpoint.NodeID(),
		manager:  manager,
		endpoint: endpoint,
		pending:  NewPendingTable(manager, 2*time.Second),
		local:    make(map[string]*LocalExecutor),
		remote:   make(map[string]map[string]*RemoteExecutor),
	}

	r.consumers = append(r.consumers,
		endpoint.Consumers().AddConsumerFunc("service.register", r.onRegister),
		endpoint.Consumers().AddConsumerFunc("service.request", r.onRequest),
		endpoint.Consumers().AddConsumerFunc("service.response", r.onResponse),
	)

	return r
}

// RegisterLocal makes name callable in-process and broadcasts its
// availability to every connected peer.
func (r *Registry) RegisterLocal(name string, maxConcurrent int, fn ServiceFunc) *LocalExecutor {
	exec := NewLocalExecutor(name, maxConcurrent, fn)

	r.mu.Lock()
	r.local[name] = exec
	r.mu.Unlock()

	r.broadcastRegistration(name)
	return exec
}

// UnregisterLocal removes a locally registered service.
func (r *Registry) UnregisterLocal(name string) {
	r.mu.Lock()
	delete(r.local, name)
	r.mu.Unlock()
}

func (r *Registry) broadcastRegistration(name string) {
	msg := messaging.NewMessage("service.register", r.nodeID).With("service", name)
	if err := r.endpoint.Broadcast(msg); err != nil {
		r.logger.Debug().Err(err).Str("service", name).Msg("broadcast of service registration had partial failures")
	}
}

func (r *Registry) onRegister(conn *messaging.Connection, msg messaging.Message) {
	name := msg.GetString("service")
	peerID := msg.UUID
	if name == "" || peerID == "" {
		return
	}

	r.mu.Lock()
	if r.remote[name] == nil {
		r.remote[name] = make(map[string]*RemoteExecutor)
	}
	r.remote[name][peerID] = NewRemoteExecutor(name, peerID, r.endpoint, r.manager, r.pending)
	r.mu.Unlock()

	r.logger.Debug().Str("service", name).Str("peer_id", peerID).Msg("learned remote service")
}

func (r *Registry) onRequest(conn *messaging.Connection, msg messaging.Message) {
	name := msg.GetString("service")

	r.mu.Lock()
	exec, ok := r.local[name]
	r.mu.Unlock()

	var resp Response
	if !ok {
		resp = Response{TxID: msg.UUID, Status: StatusNoSuchService}
	} else {
		args, _ := msg.Attrs["args"].(map[string]any)
		resp, _ = exec.Call(context.Background(), Request{TxID: msg.UUID, Service: name, Args: args})
	}

	reply := messaging.NewMessage("service.response", resp.TxID).
		With("status", resp.Status.String()).
		With("result", resp.Result).
		With("error", resp.Error)
	if err := conn.Send(reply); err != nil {
		r.logger.Warn().Err(err).Str("service", name).Msg("failed to send service response")
	}
}

func (r *Registry) onResponse(conn *messaging.Connection, msg messaging.Message) {
	status := ParseStatus(msg.GetString("status"))
	result, _ := msg.Attrs["result"].(map[string]any)
	errStr := msg.GetString("error")

	r.pending.Resolve(msg.UUID, Response{
		TxID:   msg.UUID,
		Status: status,
		Result: result,
		Error:  errStr,
	})
}

// Executors returns every currently known way to call name: the local
// executor first (if any), followed by one RemoteExecutor per peer that
// has advertised it.
func (r *Registry) Executors(name string) []Executor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var execs []Executor
	if local, ok := r.local[name]; ok {
		execs = append(execs, local)
	}
	for _, remote := range r.remote[name] {
		execs = append(execs, remote)
	}
	return execs
}

// IsCallable reports whether any executor, local or remote, can currently
// serve name.
func (r *Registry) IsCallable(name string) bool {
	return len(r.Executors(name)) > 0
}

// ContainsLocallyCallable reports whether name is served in-process.
func (r *Registry) ContainsLocallyCallable(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.local[name]
	return ok
}

// Pending returns the registry's shared remote-call pending table, the one
// handed to every RemoteExecutor the registry creates.
func (r *Registry) Pending() *PendingTable { return r.pending }
