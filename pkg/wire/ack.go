package wire

// AckTracker maintains the receive-side acknowledgement state for one
// direction of a connection: the newest sequence seen from the peer and
// a bit field of the AckFieldSize sequences before it.
//
// The field gives redundant confirmation: a single dropped ack-carrying
// packet does not erase the information that an older packet arrived.
//
// AckTracker is not safe for concurrent use; the update manager owns it
// and serializes access.
type AckTracker struct {
	latest uint16
	field  uint32
	seeded bool
}

// Observe records that sequence seq arrived from the peer.
// Duplicates and reordered sequences are tolerated: observing a sequence
// already recorded is a no-op.
func (t *AckTracker) Observe(seq uint16) {
	if !t.seeded {
		t.latest = seq
		t.field = 0
		t.seeded = true
		return
	}

	if seq == t.latest {
		return
	}

	if SeqGreaterThan(seq, t.latest) {
		shift := SeqDiff(seq, t.latest)
		if shift >= AckFieldSize {
			t.field = 0
		} else {
			// The previous latest becomes bit shift-1.
			t.field = t.field<<shift | 1<<(shift-1)
		}
		t.latest = seq
		return
	}

	// Older than latest: set its bit if still inside the window.
	diff := SeqDiff(t.latest, seq)
	if diff-1 < AckFieldSize {
		t.field |= 1 << (diff - 1)
	}
}

// Ack returns the newest observed sequence.
func (t *AckTracker) Ack() uint16 { return t.latest }

// AckField returns the redundant acknowledgement bit field.
func (t *AckTracker) AckField() uint32 { return t.field }

// Seeded reports whether any sequence has been observed yet.
func (t *AckTracker) Seeded() bool { return t.seeded }

// AckedSequences expands an Ack/AckField pair into the concrete sequence
// numbers it confirms, newest first.
func AckedSequences(ack uint16, field uint32) []uint16 {
	seqs := make([]uint16, 0, 1+AckFieldSize)
	seqs = append(seqs, ack)
	for i := uint16(0); i < AckFieldSize; i++ {
		if field&(1<<i) != 0 {
			seqs = append(seqs, ack-i-1)
		}
	}
	return seqs
}
