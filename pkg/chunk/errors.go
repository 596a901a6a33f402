package chunk

import "errors"

// Errors returned by the chunk package.
var (
	// ErrEmptyPayload is returned when sending a zero-length payload.
	ErrEmptyPayload = errors.New("chunk: empty payload")

	// ErrTooManyChunks is returned when a payload would split into more
	// fragments than the ordinal field can express.
	ErrTooManyChunks = errors.New("chunk: payload too large to split")

	// ErrOrdinalRange is returned when a received ordinal is outside the
	// transfer's declared total.
	ErrOrdinalRange = errors.New("chunk: ordinal out of range")

	// ErrTotalMismatch is returned when chunks of one transfer disagree
	// about the total fragment count.
	ErrTotalMismatch = errors.New("chunk: inconsistent total for transfer")

	// ErrSenderStopped is returned when sending through a stopped sender.
	ErrSenderStopped = errors.New("chunk: sender is stopped")
)
