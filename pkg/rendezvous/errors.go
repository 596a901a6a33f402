package rendezvous

import "errors"

var (
	// ErrUnavailable is returned when the service cannot be reached or
	// answers with a server error.
	ErrUnavailable = errors.New("rendezvous: service unavailable")

	// ErrLobbyNotFound is returned when the lobby code is unknown or
	// the lobby has expired.
	ErrLobbyNotFound = errors.New("rendezvous: lobby not found")

	// ErrBadResponse is returned when the service answers with a body
	// the client cannot decode.
	ErrBadResponse = errors.New("rendezvous: malformed response")
)
