package wire

// Sequence numbers are 16-bit and wrap. Comparisons use serial number
// arithmetic: a is "greater" than b when it is ahead of b by less than
// half the sequence space.

const halfSequenceSpace = 1 << 15

// SeqGreaterThan reports whether sequence a is newer than sequence b,
// accounting for wraparound.
func SeqGreaterThan(a, b uint16) bool {
	return (a > b && a-b <= halfSequenceSpace) ||
		(a < b && b-a > halfSequenceSpace)
}

// SeqDiff returns how far sequence a is ahead of sequence b.
// Only meaningful when SeqGreaterThan(a, b) or a == b.
func SeqDiff(a, b uint16) uint16 {
	return a - b
}
