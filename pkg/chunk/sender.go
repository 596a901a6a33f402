// Package chunk splits payloads too large for a single datagram into
// ordinally indexed fragments carried as reliable segments through the
// update manager, and reassembles them on the receiving side. Loss
// recovery comes for free: each fragment rides the existing reliable
// retransmission machinery.
package chunk

import (
	"sync"

	"github.com/pion/logging"

	"github.com/peerplay/peerplay/pkg/wire"
)

// Enqueuer is the slice of the update manager the sender needs.
type Enqueuer interface {
	QueueChunk(h wire.ChunkHeader, data []byte) error
}

// Sender splits payloads into chunk segments. Chunk ids are monotonic
// per sender and restart from zero on a new connection, which is why
// the receiving side must be reset on disconnect.
type Sender struct {
	queue Enqueuer
	log   logging.LeveledLogger

	mu     sync.Mutex
	nextID uint16
	closed bool
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	// Queue receives the chunk segments. Required.
	Queue Enqueuer

	// LoggerFactory creates the sender's logger. If nil, logging is
	// disabled.
	LoggerFactory logging.LoggerFactory
}

// NewSender creates a chunk sender on top of an update manager.
func NewSender(config SenderConfig) *Sender {
	s := &Sender{queue: config.Queue}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("chunk-sender")
	}
	return s
}

// Send splits payload into fragments of at most wire.MaxChunkPayload
// bytes and enqueues each as a reliable chunk segment.
func (s *Sender) Send(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}

	total := (len(payload) + wire.MaxChunkPayload - 1) / wire.MaxChunkPayload
	if total > 0xFFFF {
		return ErrTooManyChunks
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSenderStopped
	}
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	if s.log != nil {
		s.log.Debugf("sending transfer %d: %d bytes in %d chunk(s)", id, len(payload), total)
	}

	for ordinal := 0; ordinal < total; ordinal++ {
		start := ordinal * wire.MaxChunkPayload
		end := start + wire.MaxChunkPayload
		if end > len(payload) {
			end = len(payload)
		}
		h := wire.ChunkHeader{
			ChunkID: id,
			Ordinal: uint16(ordinal),
			Total:   uint16(total),
		}
		if err := s.queue.QueueChunk(h, payload[start:end]); err != nil {
			return err
		}
	}

	return nil
}

// Stop refuses further transfers. Already-enqueued fragments remain
// with the update manager.
func (s *Sender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
