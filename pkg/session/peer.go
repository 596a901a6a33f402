// Package session ties one transport connection per peer to its
// update manager and chunk pair, and tracks all connected peers in a
// registry with recyclable session IDs.
package session

import (
	"sync"

	"github.com/pion/logging"

	"github.com/peerplay/peerplay/pkg/chunk"
	"github.com/peerplay/peerplay/pkg/reliability"
	"github.com/peerplay/peerplay/pkg/transport"
	"github.com/peerplay/peerplay/pkg/update"
	"github.com/peerplay/peerplay/pkg/wire"
)

// PayloadHandler receives each inbound data segment for a peer.
type PayloadHandler func(peer *Peer, payload []byte, reliable bool)

// TransferHandler receives each completed large-payload transfer.
type TransferHandler func(peer *Peer, payload []byte)

// PeerConfig configures a Peer.
type PeerConfig struct {
	// ID is the session ID assigned by the registry.
	ID uint16

	// Conn is the transport connection to the peer. Required.
	Conn transport.Conn

	// Params tunes the reliability layer.
	Params reliability.Params

	// OnPayload is called for each inbound data segment.
	OnPayload PayloadHandler

	// OnTransfer is called for each completed chunked transfer.
	OnTransfer TransferHandler

	// LoggerFactory creates the peer's loggers. If nil, logging is
	// disabled.
	LoggerFactory logging.LoggerFactory
}

// Peer is one connected player: the transport connection, the update
// manager sequencing its traffic, and the chunk pair carrying large
// payloads.
type Peer struct {
	id   uint16
	conn transport.Conn
	log  logging.LeveledLogger

	manager  *update.Manager
	chunks   *chunk.Sender
	receiver *chunk.Receiver

	mu     sync.Mutex
	closed bool
}

// NewPeer wires a peer over an established connection. Call Start to
// begin the send tick.
func NewPeer(config PeerConfig) (*Peer, error) {
	if config.Conn == nil {
		return nil, ErrUnknownPeer
	}

	p := &Peer{
		id:   config.ID,
		conn: config.Conn,
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("session")
	}

	p.receiver = chunk.NewReceiver(chunk.ReceiverConfig{
		Handler: func(payload []byte) {
			if config.OnTransfer != nil {
				config.OnTransfer(p, payload)
			}
		},
		LoggerFactory: config.LoggerFactory,
	})

	manager, err := update.NewManager(update.Config{
		Sender: config.Conn,
		Params: config.Params,
		PayloadHandler: func(payload []byte, reliable bool) {
			if config.OnPayload != nil {
				config.OnPayload(p, payload, reliable)
			}
		},
		ChunkHandler: func(h wire.ChunkHeader, data []byte) {
			if err := p.receiver.OnChunk(h, data); err != nil {
				if p.log != nil {
					p.log.Warnf("peer %d: dropping chunk %d/%d of transfer %d: %v",
						p.id, h.Ordinal, h.Total, h.ChunkID, err)
				}
			}
		},
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	p.manager = manager

	p.chunks = chunk.NewSender(chunk.SenderConfig{
		Queue:         manager,
		LoggerFactory: config.LoggerFactory,
	})

	return p, nil
}

// Start launches the peer's send tick.
func (p *Peer) Start() error {
	return p.manager.Start()
}

// ID returns the session ID.
func (p *Peer) ID() uint16 { return p.id }

// Identity returns the transport identity of the connection.
func (p *Peer) Identity() transport.Identity { return p.conn.Identity() }

// Manager returns the peer's update manager.
func (p *Peer) Manager() *update.Manager { return p.manager }

// SendReliable queues a payload for delivery with retransmission.
func (p *Peer) SendReliable(payload []byte) error {
	return p.manager.QueueReliable(payload)
}

// SendUnreliable queues a best-effort payload.
func (p *Peer) SendUnreliable(payload []byte) error {
	return p.manager.QueueUnreliable(payload)
}

// SendTransfer queues a payload of any size as a chunked reliable
// transfer.
func (p *Peer) SendTransfer(payload []byte) error {
	return p.chunks.Send(payload)
}

// HandleDatagram feeds one inbound datagram from the transport into
// the update manager.
func (p *Peer) HandleDatagram(data []byte) {
	p.manager.HandleDatagram(data)
}

// Close tears the peer down: the send tick stops, the chunk sender
// refuses new transfers, and partial inbound transfers are dropped so
// a reconnecting peer's restarted chunk IDs cannot collide with stale
// state. The transport connection stays open; its owner closes it.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	err := p.manager.Stop()
	p.chunks.Stop()
	p.receiver.Reset()
	return err
}
