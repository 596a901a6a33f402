// Package transport provides the pluggable datagram backends the update
// protocol runs on: an encrypted direct UDP path, an in-process
// loopback pair, a NAT hole-punch connector and an in-memory pipe for
// tests. The relay backend lives in pkg/relay.
//
// All backends expose the same capability set: fire-and-forget Send,
// fail-fast Start/Connect, a dedicated receive loop raising data
// events, and a flag telling the protocol whether it must supply its
// own congestion management.
package transport

// Identity is an opaque transport-level peer identifier. It is only
// meaningful for equality and map keys; its contents depend on the
// backend (socket endpoint, relay peer id, pipe endpoint).
type Identity string

// Conn is one established peer channel: the per-peer handle the update
// manager sends through. It satisfies the update manager's PacketSender
// contract directly.
type Conn interface {
	// Send transmits one datagram, fire-and-forget. The reliable flag
	// is advisory; backends with built-in redundancy may use it.
	Send(data []byte, reliable bool) error

	// Identity returns the peer's transport-level identifier.
	Identity() Identity

	// RequiresCongestionManagement reports whether the protocol layer
	// must run RTT/loss/rate bookkeeping for this channel.
	RequiresCongestionManagement() bool

	// Close tears down the channel.
	Close() error
}

// Events is the callback set raised by multi-peer backends. Callbacks
// run on the backend's receive loop; handlers must not block.
type Events struct {
	// OnPeerConnected is raised once per new peer channel.
	OnPeerConnected func(conn Conn)

	// OnPeerDisconnected is raised when a peer channel ends. reason is
	// nil for an orderly close.
	OnPeerDisconnected func(id Identity, reason error)

	// OnData is raised for each received datagram.
	OnData func(id Identity, data []byte)
}
