package discovery

import "errors"

var (
	// ErrClosed is returned when using a closed advertiser.
	ErrClosed = errors.New("discovery: advertiser is closed")

	// ErrAlreadyStarted is returned when the lobby is already being
	// advertised.
	ErrAlreadyStarted = errors.New("discovery: already advertising")

	// ErrNotStarted is returned when stopping an advertisement that
	// was never started.
	ErrNotStarted = errors.New("discovery: not advertising")

	// ErrMissingCode is returned when the lobby TXT record has no
	// lobby code.
	ErrMissingCode = errors.New("discovery: lobby code is required")
)
