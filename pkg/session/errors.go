package session

import "errors"

var (
	// ErrClosed is returned when using a closed registry or peer.
	ErrClosed = errors.New("session: closed")

	// ErrTableFull is returned when no more sessions can be admitted.
	ErrTableFull = errors.New("session: session table is full")

	// ErrIDExhausted is returned when every session id is in use.
	ErrIDExhausted = errors.New("session: session ids exhausted")

	// ErrUnknownPeer is returned when the peer is not registered.
	ErrUnknownPeer = errors.New("session: unknown peer")

	// ErrDuplicatePeer is returned when a transport identity connects
	// twice.
	ErrDuplicatePeer = errors.New("session: peer already registered")
)
