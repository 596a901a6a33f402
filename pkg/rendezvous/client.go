// Package rendezvous is the client for the external matchmaking
// service. Hosts register lobbies and keep them alive with
// heartbeats; joiners look a lobby up by its code and exchange
// signals (public endpoints, session descriptions) with the host
// through it.
package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/logging"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
)

// Lobby is a registered session on the service.
type Lobby struct {
	// Code is the short join code players share.
	Code string `json:"code"`

	// HostToken authorizes host-only operations.
	HostToken string `json:"host_token"`
}

// ClientInfo describes a joiner waiting in a lobby.
type ClientInfo struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Mode     string `json:"mode"`
}

// Join modes. The host picks the matching accept flow for each
// pending joiner.
const (
	ModePunch = "punch"
	ModeRelay = "relay"
)

// Signal is one out-of-band message between two lobby members.
type Signal struct {
	From    string          `json:"from"`
	To      string          `json:"to"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Signal kinds.
const (
	SignalEndpoint = "endpoint"
	SignalOffer    = "offer"
	SignalAnswer   = "answer"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the service root, e.g. "https://play.example.com".
	// Required.
	BaseURL string

	// HTTPClient overrides the HTTP client (default: 10s timeout).
	HTTPClient *http.Client

	// PollInterval is the cadence of signal and client polling
	// (default 500ms).
	PollInterval time.Duration

	// LoggerFactory creates the client's logger. If nil, logging is
	// disabled.
	LoggerFactory logging.LoggerFactory
}

// Client talks to the matchmaking service. All calls are synchronous
// and bounded by the request timeout and the caller's context.
type Client struct {
	baseURL      string
	http         *http.Client
	pollInterval time.Duration
	log          logging.LeveledLogger
}

// NewClient creates a matchmaking client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%w: no base URL", ErrUnavailable)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaultPollInterval
	}

	c := &Client{
		baseURL:      config.BaseURL,
		http:         config.HTTPClient,
		pollInterval: config.PollInterval,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("rendezvous")
	}
	return c, nil
}

// CreateLobby registers a new lobby and returns its join code and
// host token.
func (c *Client) CreateLobby(ctx context.Context) (*Lobby, error) {
	var lobby Lobby
	if err := c.do(ctx, http.MethodPost, "/lobbies", nil, &lobby); err != nil {
		return nil, err
	}
	if lobby.Code == "" {
		return nil, fmt.Errorf("%w: empty lobby code", ErrBadResponse)
	}
	return &lobby, nil
}

// Heartbeat keeps a lobby alive. Hosts call it periodically; a lobby
// without heartbeats expires server-side.
func (c *Client) Heartbeat(ctx context.Context, code, hostToken string) error {
	body := map[string]string{"host_token": hostToken}
	return c.do(ctx, http.MethodPost, "/lobbies/"+code+"/heartbeat", body, nil)
}

// Join registers this peer in a lobby, announcing its public endpoint
// and how it intends to connect, and returns the host's endpoint.
func (c *Client) Join(ctx context.Context, code, selfID, endpoint, mode string) (string, error) {
	body := map[string]string{"id": selfID, "endpoint": endpoint, "mode": mode}
	var resp struct {
		HostEndpoint string `json:"host_endpoint"`
	}
	if err := c.do(ctx, http.MethodPost, "/lobbies/"+code+"/join", body, &resp); err != nil {
		return "", err
	}
	return resp.HostEndpoint, nil
}

// PendingClients lists joiners waiting in the lobby. Host-only.
func (c *Client) PendingClients(ctx context.Context, code, hostToken string) ([]ClientInfo, error) {
	var resp struct {
		Clients []ClientInfo `json:"clients"`
	}
	path := "/lobbies/" + code + "/clients?host_token=" + hostToken
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Clients, nil
}

// PostSignal sends one signal to another lobby member.
func (c *Client) PostSignal(ctx context.Context, code string, sig Signal) error {
	return c.do(ctx, http.MethodPost, "/lobbies/"+code+"/signals", sig, nil)
}

// NextSignal polls for the next signal addressed to us, blocking
// until one arrives or the context ends.
func (c *Client) NextSignal(ctx context.Context, code, to string) (*Signal, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var resp struct {
			Signals []Signal `json:"signals"`
		}
		path := "/lobbies/" + code + "/signals?to=" + to
		err := c.do(ctx, http.MethodGet, path, nil, &resp)
		if err == nil && len(resp.Signals) > 0 {
			sig := resp.Signals[0]
			return &sig, nil
		}
		if err != nil {
			if c.log != nil {
				c.log.Debugf("signal poll failed: %v", err)
			}
			if ctx.Err() != nil {
				return nil, err
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// do runs one JSON request. Non-2xx statuses map to sentinel errors
// so callers can report connection failures instead of hanging.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrLobbyNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
	}
	return nil
}
