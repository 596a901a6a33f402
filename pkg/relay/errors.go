package relay

import "errors"

var (
	// ErrClosed is returned when using a closed relay channel.
	ErrClosed = errors.New("relay: channel is closed")

	// ErrNotOpen is returned when sending before the data channel
	// opened.
	ErrNotOpen = errors.New("relay: channel is not open")

	// ErrSignaling is returned when the offer/answer exchange fails.
	ErrSignaling = errors.New("relay: signaling failed")

	// ErrSelfConnect is returned when dialing one's own identity.
	// Relay services refuse self sessions; use SelfPair instead.
	ErrSelfConnect = errors.New("relay: cannot dial own identity")
)
