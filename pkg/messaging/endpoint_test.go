package messaging

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nodehive/hive/pkg/jobsystem"
)

func newTestEndpoint(t *testing.T) (*Endpoint, *jobsystem.Manager, string) {
	t.Helper()
	m := jobsystem.NewManager(4)
	m.StartExecution()
	t.Cleanup(m.StopExecution)

	nodeID := uuid.NewString()
	return NewEndpoint(nodeID, m), m, nodeID
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestHandshakeAndMessageDelivery(t *testing.T) {
	server, serverMgr, serverID := newTestEndpoint(t)
	client, clientMgr, _ := newTestEndpoint(t)

	var received atomic.Int32
	h := server.Consumers().AddConsumerFunc("ping", func(conn *Connection, msg Message) {
		received.Add(1)
	})
	_ = h

	addr := freeAddr(t)
	go server.StartServer(addr)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.StopServer(ctx)
	})
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := client.EstablishConnectionTo(ctx, fmt.Sprintf("ws://%s/", addr))
	require.NoError(t, err)
	require.NotEmpty(t, conn.PeerID())
	require.Equal(t, serverID, conn.PeerID())

	require.NoError(t, conn.Send(NewMessage("ping", client.nodeID)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		serverMgr.InvokeCycleAndWait()
		if received.Load() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.EqualValues(t, 1, received.Load())
	_ = clientMgr
}
