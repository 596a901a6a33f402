package chunk

import (
	"sync"

	"github.com/pion/logging"

	"github.com/peerplay/peerplay/pkg/wire"
)

// CompleteHandler receives each fully reassembled payload.
type CompleteHandler func(payload []byte)

// assembly accumulates the fragments of one transfer.
type assembly struct {
	total     uint16
	fragments map[uint16][]byte
}

// Receiver reassembles chunked transfers. Fragments may arrive in any
// order and duplicated; a transfer completes exactly once, when every
// ordinal 0..Total-1 is present.
//
// Thread-safe; the transport receive loop feeds it via OnChunk.
type Receiver struct {
	handler CompleteHandler
	log     logging.LeveledLogger

	mu         sync.Mutex
	assemblies map[uint16]*assembly
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Handler is called with each completed payload. Required for the
	// receiver to be useful, but may be nil in tests.
	Handler CompleteHandler

	// LoggerFactory creates the receiver's logger. If nil, logging is
	// disabled.
	LoggerFactory logging.LoggerFactory
}

// NewReceiver creates a chunk receiver.
func NewReceiver(config ReceiverConfig) *Receiver {
	r := &Receiver{
		handler:    config.Handler,
		assemblies: make(map[uint16]*assembly),
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("chunk-receiver")
	}
	return r
}

// OnChunk folds one received fragment into its transfer. The data slice
// is copied; callers may reuse the backing buffer.
func (r *Receiver) OnChunk(h wire.ChunkHeader, data []byte) error {
	if h.Total == 0 || h.Ordinal >= h.Total {
		return ErrOrdinalRange
	}

	r.mu.Lock()
	a, ok := r.assemblies[h.ChunkID]
	if !ok {
		a = &assembly{total: h.Total, fragments: make(map[uint16][]byte)}
		r.assemblies[h.ChunkID] = a
	} else if a.total != h.Total {
		r.mu.Unlock()
		return ErrTotalMismatch
	}

	if _, dup := a.fragments[h.Ordinal]; !dup {
		a.fragments[h.Ordinal] = append([]byte(nil), data...)
	}

	if uint16(len(a.fragments)) < a.total {
		r.mu.Unlock()
		return nil
	}

	// Transfer complete: concatenate in ordinal order, drop the state.
	size := 0
	for _, f := range a.fragments {
		size += len(f)
	}
	payload := make([]byte, 0, size)
	for ordinal := uint16(0); ordinal < a.total; ordinal++ {
		payload = append(payload, a.fragments[ordinal]...)
	}
	delete(r.assemblies, h.ChunkID)
	handler := r.handler
	r.mu.Unlock()

	if r.log != nil {
		r.log.Debugf("transfer %d complete: %d bytes from %d chunk(s)", h.ChunkID, len(payload), h.Total)
	}
	if handler != nil {
		handler(payload)
	}
	return nil
}

// Pending returns the number of incomplete transfers.
func (r *Receiver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assemblies)
}

// Reset discards all partial state. Called on peer disconnect so a
// reconnecting peer restarting chunk ids from zero cannot collide with
// fragments left over from the previous session.
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assemblies = make(map[uint16]*assembly)
}
