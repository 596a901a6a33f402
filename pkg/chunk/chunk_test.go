package chunk

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/peerplay/peerplay/pkg/wire"
)

// recordingQueue captures enqueued chunk segments.
type recordingQueue struct {
	headers []wire.ChunkHeader
	data    [][]byte
}

func (q *recordingQueue) QueueChunk(h wire.ChunkHeader, data []byte) error {
	q.headers = append(q.headers, h)
	q.data = append(q.data, append([]byte(nil), data...))
	return nil
}

func TestSenderSplitsPayload(t *testing.T) {
	q := &recordingQueue{}
	s := NewSender(SenderConfig{Queue: q})

	payload := bytes.Repeat([]byte("abc"), wire.MaxChunkPayload) // ~3x max
	if err := s.Send(payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	wantChunks := (len(payload) + wire.MaxChunkPayload - 1) / wire.MaxChunkPayload
	if len(q.headers) != wantChunks {
		t.Fatalf("chunks = %d, want %d", len(q.headers), wantChunks)
	}

	var reassembled []byte
	for i, h := range q.headers {
		if h.ChunkID != 0 {
			t.Errorf("chunk %d id = %d, want 0", i, h.ChunkID)
		}
		if int(h.Ordinal) != i {
			t.Errorf("chunk %d ordinal = %d", i, h.Ordinal)
		}
		if int(h.Total) != wantChunks {
			t.Errorf("chunk %d total = %d, want %d", i, h.Total, wantChunks)
		}
		if len(q.data[i]) > wire.MaxChunkPayload {
			t.Errorf("chunk %d size %d exceeds limit", i, len(q.data[i]))
		}
		reassembled = append(reassembled, q.data[i]...)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Error("concatenated chunks differ from original payload")
	}
}

func TestSenderMonotonicIDs(t *testing.T) {
	q := &recordingQueue{}
	s := NewSender(SenderConfig{Queue: q})

	s.Send([]byte("one"))
	s.Send([]byte("two"))

	if q.headers[0].ChunkID != 0 || q.headers[1].ChunkID != 1 {
		t.Errorf("chunk ids = %d, %d, want 0, 1", q.headers[0].ChunkID, q.headers[1].ChunkID)
	}
}

func TestSenderRejectsEmptyAndStopped(t *testing.T) {
	s := NewSender(SenderConfig{Queue: &recordingQueue{}})

	if err := s.Send(nil); err != ErrEmptyPayload {
		t.Errorf("Send(nil) error = %v, want ErrEmptyPayload", err)
	}

	s.Stop()
	if err := s.Send([]byte("x")); err != ErrSenderStopped {
		t.Errorf("Send after Stop error = %v, want ErrSenderStopped", err)
	}
}

// deliver pushes all recorded chunks into a receiver in the given order.
func deliver(t *testing.T, r *Receiver, q *recordingQueue, order []int) {
	t.Helper()
	for _, i := range order {
		if err := r.OnChunk(q.headers[i], q.data[i]); err != nil {
			t.Fatalf("OnChunk(%d) failed: %v", i, err)
		}
	}
}

func TestReceiverOrderIndependent(t *testing.T) {
	q := &recordingQueue{}
	s := NewSender(SenderConfig{Queue: q})
	payload := bytes.Repeat([]byte{0xA5}, 4*wire.MaxChunkPayload+17)
	if err := s.Send(payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		var got []byte
		r := NewReceiver(ReceiverConfig{Handler: func(p []byte) { got = p }})

		order := rng.Perm(len(q.headers))
		deliver(t, r, q, order)

		if !bytes.Equal(got, payload) {
			t.Fatalf("trial %d (order %v): reassembled payload differs", trial, order)
		}
		if r.Pending() != 0 {
			t.Errorf("trial %d: pending = %d, want 0", trial, r.Pending())
		}
	}
}

func TestReceiverMissingOrdinalNeverCompletes(t *testing.T) {
	q := &recordingQueue{}
	s := NewSender(SenderConfig{Queue: q})
	s.Send(bytes.Repeat([]byte{1}, 3*wire.MaxChunkPayload))

	completed := false
	r := NewReceiver(ReceiverConfig{Handler: func([]byte) { completed = true }})

	// Deliver everything except ordinal 1, twice.
	for trial := 0; trial < 2; trial++ {
		for i := range q.headers {
			if q.headers[i].Ordinal == 1 {
				continue
			}
			r.OnChunk(q.headers[i], q.data[i])
		}
	}

	if completed {
		t.Error("transfer completed despite missing ordinal")
	}
	if r.Pending() != 1 {
		t.Errorf("pending = %d, want 1", r.Pending())
	}
}

func TestReceiverDuplicateChunksIdempotent(t *testing.T) {
	q := &recordingQueue{}
	s := NewSender(SenderConfig{Queue: q})
	payload := bytes.Repeat([]byte{7}, 2*wire.MaxChunkPayload)
	s.Send(payload)

	completions := 0
	var got []byte
	r := NewReceiver(ReceiverConfig{Handler: func(p []byte) { completions++; got = p }})

	// Every chunk delivered twice before the transfer can complete.
	r.OnChunk(q.headers[0], q.data[0])
	r.OnChunk(q.headers[0], q.data[0])
	r.OnChunk(q.headers[1], q.data[1])
	r.OnChunk(q.headers[1], q.data[1])

	if completions != 1 {
		t.Errorf("completions = %d, want 1", completions)
	}
	if !bytes.Equal(got, payload) {
		t.Error("reassembled payload differs")
	}
}

func TestReceiverValidation(t *testing.T) {
	r := NewReceiver(ReceiverConfig{})

	if err := r.OnChunk(wire.ChunkHeader{ChunkID: 0, Ordinal: 0, Total: 0}, nil); err != ErrOrdinalRange {
		t.Errorf("zero total error = %v, want ErrOrdinalRange", err)
	}
	if err := r.OnChunk(wire.ChunkHeader{ChunkID: 0, Ordinal: 5, Total: 3}, nil); err != ErrOrdinalRange {
		t.Errorf("out-of-range ordinal error = %v, want ErrOrdinalRange", err)
	}

	if err := r.OnChunk(wire.ChunkHeader{ChunkID: 1, Ordinal: 0, Total: 3}, []byte("a")); err != nil {
		t.Fatalf("OnChunk failed: %v", err)
	}
	if err := r.OnChunk(wire.ChunkHeader{ChunkID: 1, Ordinal: 1, Total: 4}, []byte("b")); err != ErrTotalMismatch {
		t.Errorf("total mismatch error = %v, want ErrTotalMismatch", err)
	}
}

// A reconnecting peer restarts chunk ids at zero; stale fragments from
// the previous session must not leak into the new transfer.
func TestReceiverResetDropsPartialState(t *testing.T) {
	q := &recordingQueue{}
	s := NewSender(SenderConfig{Queue: q})
	s.Send(bytes.Repeat([]byte{1}, 2*wire.MaxChunkPayload)) // transfer 0, 2 chunks

	var got []byte
	r := NewReceiver(ReceiverConfig{Handler: func(p []byte) { got = p }})

	// Half of the old session's transfer arrives, then the peer drops.
	r.OnChunk(q.headers[0], q.data[0])
	r.Reset()
	if r.Pending() != 0 {
		t.Fatalf("pending after Reset = %d, want 0", r.Pending())
	}

	// New session, new transfer 0 with different content.
	q2 := &recordingQueue{}
	s2 := NewSender(SenderConfig{Queue: q2})
	fresh := bytes.Repeat([]byte{2}, 2*wire.MaxChunkPayload)
	s2.Send(fresh)

	r.OnChunk(q2.headers[0], q2.data[0])
	r.OnChunk(q2.headers[1], q2.data[1])

	if !bytes.Equal(got, fresh) {
		t.Error("reassembly mixed stale fragments into the new session's transfer")
	}
}
