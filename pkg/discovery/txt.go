package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// LobbyTXT is the TXT record set advertised for an open session.
type LobbyTXT struct {
	// Code is the lobby join code. Required.
	Code string

	// Name is the human-readable session name.
	Name string

	// Players is the current player count.
	Players int

	// MaxPlayers is the session capacity. Zero means unlimited.
	MaxPlayers int
}

// Validate checks the record set before advertising.
func (t LobbyTXT) Validate() error {
	if t.Code == "" {
		return ErrMissingCode
	}
	if t.MaxPlayers > 0 && t.Players > t.MaxPlayers {
		return fmt.Errorf("discovery: players %d exceeds capacity %d", t.Players, t.MaxPlayers)
	}
	return nil
}

// Encode renders the key=value TXT strings.
func (t LobbyTXT) Encode() []string {
	records := []string{
		"code=" + t.Code,
		"players=" + strconv.Itoa(t.Players),
	}
	if t.Name != "" {
		records = append(records, "name="+t.Name)
	}
	if t.MaxPlayers > 0 {
		records = append(records, "max="+strconv.Itoa(t.MaxPlayers))
	}
	return records
}

// DecodeLobbyTXT parses TXT strings back into a record set. Unknown
// keys are ignored so newer advertisers stay readable.
func DecodeLobbyTXT(records []string) (LobbyTXT, error) {
	var t LobbyTXT
	for _, record := range records {
		key, value, ok := strings.Cut(record, "=")
		if !ok {
			continue
		}
		switch key {
		case "code":
			t.Code = value
		case "name":
			t.Name = value
		case "players":
			n, err := strconv.Atoi(value)
			if err != nil {
				return LobbyTXT{}, fmt.Errorf("discovery: bad players value %q", value)
			}
			t.Players = n
		case "max":
			n, err := strconv.Atoi(value)
			if err != nil {
				return LobbyTXT{}, fmt.Errorf("discovery: bad max value %q", value)
			}
			t.MaxPlayers = n
		}
	}
	if t.Code == "" {
		return LobbyTXT{}, ErrMissingCode
	}
	return t, nil
}
