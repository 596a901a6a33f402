package wire

import "errors"

// Errors returned by the wire package.
var (
	// ErrTruncated is returned when a buffer is too short to hold the
	// structure being decoded.
	ErrTruncated = errors.New("wire: truncated packet")

	// ErrSegmentKind is returned for an unknown segment kind byte.
	ErrSegmentKind = errors.New("wire: unknown segment kind")

	// ErrSegmentTooLarge is returned when a segment payload exceeds the
	// maximum encodable length.
	ErrSegmentTooLarge = errors.New("wire: segment payload too large")

	// ErrTooManySegments is returned when a packet would carry more
	// segments than the count byte can express.
	ErrTooManySegments = errors.New("wire: too many segments")
)
