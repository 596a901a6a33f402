// Package wire defines the update-packet format shared by all peers.
//
// Each datagram carries one Packet: a fixed header with the sender's
// sequence number and the receiver-direction acknowledgement state,
// followed by zero or more tagged payload segments. The format is
// symmetric: both directions of a connection use the same layout.
package wire

import "encoding/binary"

// Packet header layout (big-endian):
//
//	Flags    uint8   FlagHasAck set when Ack/AckField are meaningful
//	Seq      uint16  sequence number of this packet
//	Ack      uint16  latest sequence received from the peer
//	AckField uint32  bit i set => sequence Ack-i-1 was received
//	Count    uint8   number of segments that follow
//
// Each segment:
//
//	Kind    uint8
//	Length  uint16
//	Payload Length bytes
const (
	HeaderSize        = 10
	SegmentHeaderSize = 3

	// AckFieldSize is the number of prior sequences the ack field covers.
	AckFieldSize = 32

	// MaxDatagramSize bounds an encoded packet to the smallest MTU among
	// the supported backends (the relay data channel path).
	MaxDatagramSize = 1200

	// MaxSegmentPayload is the largest payload a single segment can carry.
	MaxSegmentPayload = MaxDatagramSize - HeaderSize - SegmentHeaderSize
)

// SegmentKind tags a payload segment.
type SegmentKind uint8

const (
	// SegmentUnreliable is best-effort application data.
	SegmentUnreliable SegmentKind = iota

	// SegmentReliable is application data retransmitted on detected loss.
	SegmentReliable

	// SegmentChunk is one ordinal of a chunked transfer. Chunk segments
	// are always reliable.
	SegmentChunk
)

// Segment is one tagged payload fragment inside a packet.
type Segment struct {
	Kind    SegmentKind
	Payload []byte
}

// Reliable reports whether the segment must be retransmitted on loss.
func (s Segment) Reliable() bool {
	return s.Kind != SegmentUnreliable
}

// Header flag bits.
const (
	// FlagHasAck marks the Ack/AckField header fields as meaningful.
	// A peer that has not yet received anything leaves it clear.
	FlagHasAck uint8 = 1 << 0
)

// Packet is one update datagram.
type Packet struct {
	Seq      uint16
	HasAck   bool
	Ack      uint16
	AckField uint32
	Segments []Segment
}

// EncodedSize returns the number of bytes Encode will produce.
func (p *Packet) EncodedSize() int {
	n := HeaderSize
	for _, s := range p.Segments {
		n += SegmentHeaderSize + len(s.Payload)
	}
	return n
}

// Encode serializes the packet.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Segments) > 0xFF {
		return nil, ErrTooManySegments
	}

	buf := make([]byte, 0, p.EncodedSize())
	var hdr [HeaderSize]byte
	if p.HasAck {
		hdr[0] |= FlagHasAck
	}
	binary.BigEndian.PutUint16(hdr[1:3], p.Seq)
	binary.BigEndian.PutUint16(hdr[3:5], p.Ack)
	binary.BigEndian.PutUint32(hdr[5:9], p.AckField)
	hdr[9] = uint8(len(p.Segments))
	buf = append(buf, hdr[:]...)

	for _, s := range p.Segments {
		if len(s.Payload) > MaxSegmentPayload {
			return nil, ErrSegmentTooLarge
		}
		var sh [SegmentHeaderSize]byte
		sh[0] = uint8(s.Kind)
		binary.BigEndian.PutUint16(sh[1:3], uint16(len(s.Payload)))
		buf = append(buf, sh[:]...)
		buf = append(buf, s.Payload...)
	}

	return buf, nil
}

// Decode parses a packet from buf. The segment payloads reference buf;
// callers that retain them past the lifetime of buf must copy.
func (p *Packet) Decode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrTruncated
	}

	p.HasAck = buf[0]&FlagHasAck != 0
	p.Seq = binary.BigEndian.Uint16(buf[1:3])
	p.Ack = binary.BigEndian.Uint16(buf[3:5])
	p.AckField = binary.BigEndian.Uint32(buf[5:9])
	count := int(buf[9])

	p.Segments = p.Segments[:0]
	off := HeaderSize
	for i := 0; i < count; i++ {
		if len(buf) < off+SegmentHeaderSize {
			return ErrTruncated
		}
		kind := SegmentKind(buf[off])
		if kind > SegmentChunk {
			return ErrSegmentKind
		}
		length := int(binary.BigEndian.Uint16(buf[off+1 : off+3]))
		off += SegmentHeaderSize
		if len(buf) < off+length {
			return ErrTruncated
		}
		p.Segments = append(p.Segments, Segment{
			Kind:    kind,
			Payload: buf[off : off+length],
		})
		off += length
	}

	return nil
}
