package session

import (
	"sync"

	"github.com/pion/logging"

	"github.com/peerplay/peerplay/pkg/reliability"
	"github.com/peerplay/peerplay/pkg/transport"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// MaxPeers limits concurrent sessions (0 uses DefaultMaxSessions).
	MaxPeers int

	// Params tunes the reliability layer of every peer.
	Params reliability.Params

	// OnPayload is called for each inbound data segment of any peer.
	OnPayload PayloadHandler

	// OnTransfer is called for each completed chunked transfer.
	OnTransfer TransferHandler

	// OnPeerJoined is called after a peer is admitted and started.
	OnPeerJoined func(peer *Peer)

	// OnPeerLeft is called after a peer is torn down. reason is nil
	// for an orderly departure.
	OnPeerLeft func(peer *Peer, reason error)

	// LoggerFactory creates the registry's loggers. If nil, logging
	// is disabled.
	LoggerFactory logging.LoggerFactory
}

// Registry tracks every connected peer, keyed by transport identity,
// and recycles session IDs as players come and go. It is driven by
// transport events; wire Events() into the backend's config.
type Registry struct {
	config RegistryConfig
	table  *Table
	log    logging.LeveledLogger

	mu     sync.Mutex
	peers  map[transport.Identity]*Peer
	closed bool
}

// NewRegistry creates a peer registry.
func NewRegistry(config RegistryConfig) *Registry {
	r := &Registry{
		config: config,
		table:  NewTable(config.MaxPeers),
		peers:  make(map[transport.Identity]*Peer),
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("registry")
	}
	return r
}

// Events returns the transport callback set that drives this
// registry.
func (r *Registry) Events() transport.Events {
	return transport.Events{
		OnPeerConnected: func(conn transport.Conn) {
			if _, err := r.Admit(conn); err != nil {
				if r.log != nil {
					r.log.Warnf("refusing peer %s: %v", conn.Identity(), err)
				}
				conn.Close()
			}
		},
		OnPeerDisconnected: func(id transport.Identity, reason error) {
			r.Remove(id, reason)
		},
		OnData: func(id transport.Identity, data []byte) {
			r.Dispatch(id, data)
		},
	}
}

// Admit registers a new connection as a peer: a session ID is
// allocated, the update manager is wired over the connection, and the
// send tick starts.
func (r *Registry) Admit(conn transport.Conn) (*Peer, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := r.peers[conn.Identity()]; exists {
		r.mu.Unlock()
		return nil, ErrDuplicatePeer
	}
	r.mu.Unlock()

	id, err := r.table.AllocateID()
	if err != nil {
		return nil, err
	}

	peer, err := NewPeer(PeerConfig{
		ID:            id,
		Conn:          conn,
		Params:        r.config.Params,
		OnPayload:     r.config.OnPayload,
		OnTransfer:    r.config.OnTransfer,
		LoggerFactory: r.config.LoggerFactory,
	})
	if err != nil {
		r.table.Release(id)
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.table.Release(id)
		return nil, ErrClosed
	}
	// Re-check under the lock: a concurrent Admit with the same
	// identity may have won the earlier check.
	if _, exists := r.peers[conn.Identity()]; exists {
		r.mu.Unlock()
		r.table.Release(id)
		return nil, ErrDuplicatePeer
	}
	r.peers[conn.Identity()] = peer
	r.mu.Unlock()

	if err := peer.Start(); err != nil {
		r.mu.Lock()
		delete(r.peers, conn.Identity())
		r.mu.Unlock()
		r.table.Release(id)
		return nil, err
	}

	if r.log != nil {
		r.log.Infof("peer %s joined as session %d", conn.Identity(), id)
	}
	if r.config.OnPeerJoined != nil {
		r.config.OnPeerJoined(peer)
	}
	return peer, nil
}

// Remove tears down a peer. The session ID is recycled immediately so
// a reconnecting player gets a slot even at capacity.
func (r *Registry) Remove(id transport.Identity, reason error) {
	r.mu.Lock()
	peer, exists := r.peers[id]
	if exists {
		delete(r.peers, id)
	}
	r.mu.Unlock()

	if !exists {
		return
	}

	r.table.Release(peer.ID())
	peer.Close()
	peer.conn.Close()

	if r.log != nil {
		r.log.Infof("peer %s (session %d) left: %v", id, peer.ID(), reason)
	}
	if r.config.OnPeerLeft != nil {
		r.config.OnPeerLeft(peer, reason)
	}
}

// Dispatch routes one inbound datagram to its peer. Datagrams from
// unknown identities are dropped.
func (r *Registry) Dispatch(id transport.Identity, data []byte) {
	r.mu.Lock()
	peer, exists := r.peers[id]
	r.mu.Unlock()

	if !exists {
		if r.log != nil {
			r.log.Debugf("dropping datagram from unknown peer %s", id)
		}
		return
	}
	peer.HandleDatagram(data)
}

// Get returns the peer for a transport identity.
func (r *Registry) Get(id transport.Identity) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, exists := r.peers[id]
	return peer, exists
}

// Peers returns a snapshot of all connected peers.
func (r *Registry) Peers() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]*Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		peers = append(peers, peer)
	}
	return peers
}

// Len returns the number of connected peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// BroadcastReliable queues a payload for every connected peer with
// delivery guaranteed.
func (r *Registry) BroadcastReliable(payload []byte) {
	for _, peer := range r.Peers() {
		if err := peer.SendReliable(payload); err != nil && r.log != nil {
			r.log.Warnf("broadcast to session %d failed: %v", peer.ID(), err)
		}
	}
}

// BroadcastUnreliable queues a best-effort payload for every
// connected peer.
func (r *Registry) BroadcastUnreliable(payload []byte) {
	for _, peer := range r.Peers() {
		if err := peer.SendUnreliable(payload); err != nil && r.log != nil {
			r.log.Warnf("broadcast to session %d failed: %v", peer.ID(), err)
		}
	}
}

// Close tears down every peer and refuses new admissions.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	peers := make([]*Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		peers = append(peers, peer)
	}
	r.peers = nil
	r.mu.Unlock()

	for _, peer := range peers {
		r.table.Release(peer.ID())
		peer.Close()
		peer.conn.Close()
	}
	return nil
}
