package messaging

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nodehive/hive/pkg/log"
	"github.com/nodehive/hive/pkg/metrics"
)

var (
	// ErrConnectionClosed is returned by Send once the connection has been
	// torn down, including when it is torn down while the send is pending.
	ErrConnectionClosed = errors.New("messaging: connection closed")
)

// Connection wraps one WebSocket peer connection, identified by the
// remote node's UUID once the identity handshake completes. Writes are
// serialized through a dedicated goroutine and queue, the closest
// available analogue in Go to asio::strand.
type Connection struct {
	logger   zerolog.Logger
	peerID   string
	conn     *websocket.Conn
	registry *ConsumerRegistry

	writeCh chan writeRequest

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func(*Connection)
}

type writeRequest struct {
	msg  Message
	done chan error
}

func newConnection(conn *websocket.Conn, peerID string, registry *ConsumerRegistry, onClose func(*Connection)) *Connection {
	c := &Connection{
		logger:   log.WithConnection(peerID),
		peerID:   peerID,
		conn:     conn,
		registry: registry,
		writeCh:  make(chan writeRequest, 64),
		closed:   make(chan struct{}),
		onClose:  onClose,
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// PeerID returns the remote node's UUID.
func (c *Connection) PeerID() string { return c.peerID }

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case req := <-c.writeCh:
			data, err := json.Marshal(req.msg)
			if err == nil {
				err = c.conn.WriteMessage(websocket.BinaryMessage, data)
			}
			if err == nil {
				metrics.MessagesSent.Inc()
			}
			if req.done != nil {
				req.done <- err
			}
			if err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) readLoop() {
	defer c.Close()
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.logger.Debug().Err(err).Msg("connection read loop exiting")
			return
		}
		metrics.MessagesReceived.Inc()
		if c.registry != nil {
			c.registry.Dispatch(c, msg)
		}
	}
}

// Send queues msg for delivery and blocks until it has been written to the
// socket (not until the peer has processed it).
func (c *Connection) Send(msg Message) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	done := make(chan error, 1)
	select {
	case c.writeCh <- writeRequest{msg: msg, done: done}:
	case <-c.closed:
		return ErrConnectionClosed
	}

	select {
	case err := <-done:
		return err
	case <-c.closed:
		return ErrConnectionClosed
	}
}

// Close tears down the underlying socket. It is safe to call more than
// once and from multiple goroutines.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}
