// Package sessionkey derives the pre-shared key that secures a
// session's encrypted channels from the lobby token both sides
// already share.
package sessionkey

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the derived key length in bytes.
const KeySize = 32

// keyInfo domain-separates session keys from any other use of the
// lobby token.
var keyInfo = []byte("peerplay session key v1")

// ErrEmptyToken is returned when the lobby token is empty.
var ErrEmptyToken = errors.New("sessionkey: empty lobby token")

// Derive computes the session PSK from the lobby token using
// HKDF-SHA256 (RFC 5869). The lobby code salts the derivation so two
// lobbies sharing a token never share keys.
func Derive(token, lobbyCode string) ([]byte, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	reader := hkdf.New(sha256.New, []byte(token), []byte(lobbyCode), keyInfo)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
