package wire

import "encoding/binary"

// Chunk segment payloads start with a fixed prefix identifying the
// transfer and this fragment's position in it:
//
//	ChunkID uint16  transfer identifier, monotonic per connection
//	Ordinal uint16  zero-based fragment index
//	Total   uint16  number of fragments in the transfer
const ChunkHeaderSize = 6

// MaxChunkPayload is the largest data slice one chunk segment can carry.
const MaxChunkPayload = MaxSegmentPayload - ChunkHeaderSize

// ChunkHeader describes one fragment of a chunked transfer.
type ChunkHeader struct {
	ChunkID uint16
	Ordinal uint16
	Total   uint16
}

// EncodeChunk builds a chunk segment payload from the header and data.
func EncodeChunk(h ChunkHeader, data []byte) []byte {
	buf := make([]byte, ChunkHeaderSize+len(data))
	binary.BigEndian.PutUint16(buf[0:2], h.ChunkID)
	binary.BigEndian.PutUint16(buf[2:4], h.Ordinal)
	binary.BigEndian.PutUint16(buf[4:6], h.Total)
	copy(buf[ChunkHeaderSize:], data)
	return buf
}

// DecodeChunk splits a chunk segment payload into header and data.
// The returned data slice references payload.
func DecodeChunk(payload []byte) (ChunkHeader, []byte, error) {
	if len(payload) < ChunkHeaderSize {
		return ChunkHeader{}, nil, ErrTruncated
	}
	h := ChunkHeader{
		ChunkID: binary.BigEndian.Uint16(payload[0:2]),
		Ordinal: binary.BigEndian.Uint16(payload[2:4]),
		Total:   binary.BigEndian.Uint16(payload[4:6]),
	}
	return h, payload[ChunkHeaderSize:], nil
}
