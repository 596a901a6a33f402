package transport

import "errors"

// Errors returned by the transport package.
var (
	// ErrClosed is returned when operating on a stopped backend.
	ErrClosed = errors.New("transport: transport is closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("transport: transport already started")

	// ErrNotStarted is returned when sending before Start/Connect.
	ErrNotStarted = errors.New("transport: transport not started")

	// ErrServiceUnavailable is returned when a prerequisite service
	// (rendezvous, encryption layer) cannot be reached. Loops also use
	// it to recognize a service torn down mid-poll as a clean exit.
	ErrServiceUnavailable = errors.New("transport: service not initialized")

	// ErrInvalidIdentity is returned for an unparseable or unknown
	// remote identity.
	ErrInvalidIdentity = errors.New("transport: invalid remote identity")

	// ErrHandshakeFailed is returned when the encryption handshake with
	// a peer does not complete.
	ErrHandshakeFailed = errors.New("transport: handshake failed")

	// ErrNoPSK is returned when a direct backend is configured without
	// a pre-shared key.
	ErrNoPSK = errors.New("transport: no pre-shared key configured")

	// ErrPunchTimeout is returned when hole punching yields no response
	// from the remote peer in time.
	ErrPunchTimeout = errors.New("transport: hole punch timed out")
)
