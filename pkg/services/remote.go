package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nodehive/hive/pkg/jobsystem"
	"github.com/nodehive/hive/pkg/messaging"
)

// DefaultCallTimeout bounds how long a RemoteExecutor waits for a
// service.response before the PendingTable sweep times it out.
const DefaultCallTimeout = 10 * time.Second

// RemoteExecutor calls a service hosted on another node by sending a
// service.request message and waiting for the matching service.response
// through a shared PendingTable.
type RemoteExecutor struct {
	name     string
	peerID   string
	endpoint *messaging.Endpoint
	manager  *jobsystem.Manager
	pending  *PendingTable
	timeout  time.Duration
}

// NewRemoteExecutor creates a RemoteExecutor that sends requests for name
// to peerID over endpoint.
func NewRemoteExecutor(name, peerID string, endpoint *messaging.Endpoint, manager *jobsystem.Manager, pending *PendingTable) *RemoteExecutor {
	return &RemoteExecutor{
		name:     name,
		peerID:   peerID,
		endpoint: endpoint,
		manager:  manager,
		pending:  pending,
		timeout:  DefaultCallTimeout,
	}
}

func (r *RemoteExecutor) ServiceName() string { return r.name }
func (r *RemoteExecutor) IsLocal() bool       { return false }

// PeerID returns the node this executor would forward calls to.
func (r *RemoteExecutor) PeerID() string { return r.peerID }

// Call sends req to the remote peer and blocks, via the job system's
// cooperative wait, until the matching response arrives or times out.
func (r *RemoteExecutor) Call(ctx context.Context, req Request) (Response, error) {
	if req.TxID == "" {
		req.TxID = uuid.NewString()
	}

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			timeout = remaining
		}
	}

	f := r.pending.Register(req.TxID, timeout)

	msg := messaging.NewMessage("service.request", req.TxID).
		With("service", req.Service).
		With("args", req.Args)

	if err := r.endpoint.SendTo(r.peerID, msg); err != nil {
		r.pending.Resolve(req.TxID, Response{})
		return Response{}, fmt.Errorf("services: send request to %s: %w", r.peerID, err)
	}

	r.manager.WaitForCompletion(f)
	return f.Get()
}
