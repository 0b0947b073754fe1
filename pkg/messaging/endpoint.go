package messaging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nodehive/hive/pkg/future"
	"github.com/nodehive/hive/pkg/jobsystem"
	"github.com/nodehive/hive/pkg/log"
	"github.com/nodehive/hive/pkg/metrics"
)

var (
	// ErrNoSuchPeer is returned by SendTo when no connection to the given
	// node id is currently established.
	ErrNoSuchPeer = errors.New("messaging: no connection to that peer")
	// ErrCannotResolveHost is returned when a dial target's host cannot be
	// looked up (spec step 2).
	ErrCannotResolveHost = errors.New("messaging: cannot resolve host")
	// ErrConnectionFailed is returned when the host resolves but the TCP
	// connect or WebSocket upgrade fails (spec step 3), distinct from a
	// resolution failure.
	ErrConnectionFailed = errors.New("messaging: connection failed")
)

// Endpoint is a node's single messaging entry point: it accepts inbound
// WebSocket connections, dials outbound ones, performs the node-identity
// handshake on both, and routes received messages to a ConsumerRegistry.
type Endpoint struct {
	logger   zerolog.Logger
	nodeID   string
	manager  *jobsystem.Manager
	registry *ConsumerRegistry
	dialer   websocket.Dialer
	upgrader websocket.Upgrader

	mu       sync.Mutex
	peers    map[string]*Connection
	inflight map[string]*future.Future[*Connection]

	server *http.Server
}

// NewEndpoint creates an Endpoint identified by nodeID, scheduling
// consumer dispatch and the consumer-registry sweep onto manager.
func NewEndpoint(nodeID string, manager *jobsystem.Manager) *Endpoint {
	registry := NewConsumerRegistry(manager)

	e := &Endpoint{
		logger:   log.WithNodeID(nodeID),
		nodeID:   nodeID,
		manager:  manager,
		registry: registry,
		peers:    make(map[string]*Connection),
		inflight: make(map[string]*future.Future[*Connection]),
	}

	sweep := jobsystem.NewTimerJob(jobsystem.PhaseCleanUp, 5*time.Second, func(ctx *jobsystem.JobContext) jobsystem.Continuation {
		registry.CleanUp()
		return jobsystem.Requeue
	})
	manager.KickJob(sweep)

	return e
}

// Consumers returns the endpoint's message-consumer registry (C4).
func (e *Endpoint) Consumers() *ConsumerRegistry { return e.registry }

// NodeID returns this endpoint's own node identity, as exchanged during
// the handshake.
func (e *Endpoint) NodeID() string { return e.nodeID }

// StartServer accepts inbound connections on addr. It blocks until the
// server stops: it returns nil after StopServer, or the listener's error.
func (e *Endpoint) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", e.handleUpgrade)
	e.server = &http.Server{Addr: addr, Handler: mux}

	e.logger.Info().Str("addr", addr).Msg("messaging endpoint listening")
	err := e.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StopServer gracefully shuts down the accept loop, if one was started.
func (e *Endpoint) StopServer(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}

func (e *Endpoint) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to upgrade inbound connection")
		return
	}

	peerID, err := e.serverHandshake(conn)
	if err != nil {
		e.logger.Warn().Err(err).Msg("handshake failed on inbound connection")
		conn.Close()
		return
	}

	e.adopt(conn, peerID)
}

// serverHandshake implements the accepting side: read the dialer's node
// UUID frame first, then reply with our own. Per spec, the handshake is
// carried not as a JSON Message but as a single raw UTF-8 node-UUID frame
// — unlike every other frame on the connection.
func (e *Endpoint) serverHandshake(conn *websocket.Conn) (string, error) {
	peerID, err := readHandshakeFrame(conn)
	if err != nil {
		return "", fmt.Errorf("read handshake frame: %w", err)
	}
	if err := writeHandshakeFrame(conn, e.nodeID); err != nil {
		return "", fmt.Errorf("write handshake reply: %w", err)
	}
	return peerID, nil
}

// clientHandshake implements the dialing side: write our node UUID first,
// then read the acceptor's reply.
func (e *Endpoint) clientHandshake(conn *websocket.Conn) (string, error) {
	if err := writeHandshakeFrame(conn, e.nodeID); err != nil {
		return "", fmt.Errorf("write handshake frame: %w", err)
	}
	peerID, err := readHandshakeFrame(conn)
	if err != nil {
		return "", fmt.Errorf("read handshake reply: %w", err)
	}
	return peerID, nil
}

func writeHandshakeFrame(conn *websocket.Conn, nodeID string) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(nodeID))
}

func readHandshakeFrame(conn *websocket.Conn) (string, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (e *Endpoint) adopt(conn *websocket.Conn, peerID string) *Connection {
	c := newConnection(conn, peerID, e.registry, e.forget)

	e.mu.Lock()
	e.peers[peerID] = c
	e.mu.Unlock()

	metrics.ConnectionsEstablished.Inc()
	metrics.ConnectionsActive.Set(float64(e.peerCount()))

	e.logger.Info().Str("peer_id", peerID).Msg("connection established")
	return c
}

func (e *Endpoint) forget(c *Connection) {
	e.mu.Lock()
	if e.peers[c.peerID] == c {
		delete(e.peers, c.peerID)
	}
	e.mu.Unlock()

	metrics.ConnectionsClosed.Inc()
	metrics.ConnectionsActive.Set(float64(e.peerCount()))
}

func (e *Endpoint) peerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers)
}

// EstablishConnectionTo dials uri and performs the handshake, returning
// the resulting Connection. Concurrent calls for the same uri are
// deduplicated onto a single dial via an inflight future, mirroring the
// source's connection-establisher behavior of never opening two sockets
// to the same target at once.
func (e *Endpoint) EstablishConnectionTo(ctx context.Context, uri string) (*Connection, error) {
	e.mu.Lock()
	if f, ok := e.inflight[uri]; ok {
		e.mu.Unlock()
		e.manager.WaitForCompletion(f)
		return f.Get()
	}

	f, p := future.New[*Connection]()
	e.inflight[uri] = f
	e.mu.Unlock()

	conn, peerID, err := e.dial(ctx, uri)

	e.mu.Lock()
	delete(e.inflight, uri)
	e.mu.Unlock()

	if err != nil {
		p.Reject(err)
		return nil, err
	}

	c := e.adopt(conn, peerID)
	p.Resolve(c)
	return c, nil
}

func (e *Endpoint) dial(ctx context.Context, uri string) (*websocket.Conn, string, error) {
	conn, _, err := e.dialer.DialContext(ctx, uri, nil)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, "", fmt.Errorf("%w: %s: %w", ErrCannotResolveHost, uri, err)
		}
		return nil, "", fmt.Errorf("%w: %s: %w", ErrConnectionFailed, uri, err)
	}

	peerID, err := e.clientHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, "", err
	}
	return conn, peerID, nil
}

// SendTo sends msg to the node identified by peerID, failing with
// ErrNoSuchPeer if no connection to it is currently established.
func (e *Endpoint) SendTo(peerID string, msg Message) error {
	e.mu.Lock()
	c, ok := e.peers[peerID]
	e.mu.Unlock()

	if !ok {
		return ErrNoSuchPeer
	}
	return c.Send(msg)
}

// Broadcast sends msg to every currently connected peer, returning the
// first error encountered, if any, after attempting all of them.
func (e *Endpoint) Broadcast(msg Message) error {
	e.mu.Lock()
	conns := make([]*Connection, 0, len(e.peers))
	for _, c := range e.peers {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.Send(msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Peers returns the node ids currently connected.
func (e *Endpoint) Peers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.peers))
	for id := range e.peers {
		ids = append(ids, id)
	}
	return ids
}

// CloseConnectionTo closes and forgets the connection to peerID, if any.
func (e *Endpoint) CloseConnectionTo(peerID string) error {
	e.mu.Lock()
	c, ok := e.peers[peerID]
	e.mu.Unlock()

	if !ok {
		return nil
	}
	return c.Close()
}
