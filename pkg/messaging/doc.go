/*
Package messaging implements the node's peer-to-peer connection layer: a
persistent WebSocket endpoint that dials or accepts connections to other
nodes, exchanges a node-identity handshake, and delivers typed Messages to
weakly-held consumers.

# Wire format

Every frame is a single binary frame holding one JSON object that carries
a message type, a UUID, and the message's own attributes flattened into
the same object. The UUID is the sending node's id for service.register
and other node-level messages, and the call's transaction id for
service.request and service.response:

	{"type": "service.request", "uuid": "8f14e45f-...", "service": "add", "args": {"a": 1, "b": 2}}

Message's MarshalJSON/UnmarshalJSON do the flattening/unflattening so
callers work with a typed Attrs map instead of raw JSON.

# Handshake

Immediately after the WebSocket upgrade completes, the dialing side writes
a single text frame carrying nothing but its raw node UUID — not a JSON
Message — and the accepting side replies in kind with its own, before
either side processes any other message. This is the one frame on the
wire that isn't a JSON object; every frame after it is. The write-first
ordering is the order original_source's later networking revision settled
on.

# Connections and consumers

Each *Connection serializes its writes behind its own goroutine, the
closest Go analogue to the donor's asio::strand, since goroutines have no
native equivalent of posting a callback onto another execution context.
Inbound messages are dispatched to registered consumers the same way
pkg/events dispatches to listeners: a *ConsumerRegistry keeps only
weak.Pointer[ConsumerHandle] per message type and kicks one job per live
consumer through pkg/jobsystem.
*/
package messaging
