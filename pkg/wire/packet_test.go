package wire

import (
	"bytes"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	p := &Packet{
		Seq:      42,
		HasAck:   true,
		Ack:      17,
		AckField: 0b1011,
		Segments: []Segment{
			{Kind: SegmentUnreliable, Payload: []byte("state")},
			{Kind: SegmentReliable, Payload: []byte("event")},
			{Kind: SegmentChunk, Payload: EncodeChunk(ChunkHeader{ChunkID: 1, Ordinal: 0, Total: 2}, []byte("half"))},
		},
	}

	buf, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(buf) != p.EncodedSize() {
		t.Errorf("encoded %d bytes, EncodedSize says %d", len(buf), p.EncodedSize())
	}

	var got Packet
	if err := got.Decode(buf); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.Seq != p.Seq || got.Ack != p.Ack || got.AckField != p.AckField || !got.HasAck {
		t.Errorf("header = %d/%d/%b/%v, want %d/%d/%b/true",
			got.Seq, got.Ack, got.AckField, got.HasAck, p.Seq, p.Ack, p.AckField)
	}
	if len(got.Segments) != len(p.Segments) {
		t.Fatalf("segments = %d, want %d", len(got.Segments), len(p.Segments))
	}
	for i := range p.Segments {
		if got.Segments[i].Kind != p.Segments[i].Kind {
			t.Errorf("segment %d kind = %d, want %d", i, got.Segments[i].Kind, p.Segments[i].Kind)
		}
		if !bytes.Equal(got.Segments[i].Payload, p.Segments[i].Payload) {
			t.Errorf("segment %d payload mismatch", i)
		}
	}
}

func TestPacketDecodeTruncated(t *testing.T) {
	p := &Packet{
		Seq:      1,
		Segments: []Segment{{Kind: SegmentReliable, Payload: []byte("payload")}},
	}
	buf, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Every strict prefix must fail cleanly, never panic.
	for n := 0; n < len(buf); n++ {
		var got Packet
		if err := got.Decode(buf[:n]); err == nil {
			t.Errorf("Decode of %d-byte prefix succeeded, want error", n)
		}
	}
}

func TestPacketDecodeUnknownSegmentKind(t *testing.T) {
	p := &Packet{Segments: []Segment{{Kind: SegmentUnreliable, Payload: []byte("x")}}}
	buf, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	buf[HeaderSize] = 0x7F

	var got Packet
	if err := got.Decode(buf); err != ErrSegmentKind {
		t.Errorf("Decode error = %v, want ErrSegmentKind", err)
	}
}

func TestSegmentReliableFlag(t *testing.T) {
	if (Segment{Kind: SegmentUnreliable}).Reliable() {
		t.Error("unreliable segment reported reliable")
	}
	if !(Segment{Kind: SegmentReliable}).Reliable() {
		t.Error("reliable segment reported unreliable")
	}
	if !(Segment{Kind: SegmentChunk}).Reliable() {
		t.Error("chunk segment reported unreliable")
	}
}

func TestSeqGreaterThan(t *testing.T) {
	cases := []struct {
		a, b uint16
		want bool
	}{
		{1, 0, true},
		{0, 1, false},
		{0, 0, false},
		{0, 65535, true},  // wraparound
		{65535, 0, false}, // wraparound
		{32768, 0, true},
		{32769, 0, false},
	}
	for _, c := range cases {
		if got := SeqGreaterThan(c.a, c.b); got != c.want {
			t.Errorf("SeqGreaterThan(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestChunkRoundTrip(t *testing.T) {
	h := ChunkHeader{ChunkID: 7, Ordinal: 3, Total: 9}
	payload := EncodeChunk(h, []byte("fragment data"))

	got, data, err := DecodeChunk(payload)
	if err != nil {
		t.Fatalf("DecodeChunk failed: %v", err)
	}
	if got != h {
		t.Errorf("header = %+v, want %+v", got, h)
	}
	if string(data) != "fragment data" {
		t.Errorf("data = %q, want %q", data, "fragment data")
	}

	if _, _, err := DecodeChunk(payload[:ChunkHeaderSize-1]); err != ErrTruncated {
		t.Errorf("short DecodeChunk error = %v, want ErrTruncated", err)
	}
}
