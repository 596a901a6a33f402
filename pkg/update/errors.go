package update

import "errors"

// Errors returned by the update package.
var (
	// ErrClosed is returned when operating on a stopped manager.
	ErrClosed = errors.New("update: manager is closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("update: manager already started")

	// ErrNoSender is returned when a manager is created without a sender.
	ErrNoSender = errors.New("update: no packet sender configured")

	// ErrPayloadTooLarge is returned when a queued payload exceeds the
	// single-segment limit. Use the chunk sender for larger payloads.
	ErrPayloadTooLarge = errors.New("update: payload exceeds segment limit")
)
