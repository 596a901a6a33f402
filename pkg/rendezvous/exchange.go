package rendezvous

import (
	"context"
	"encoding/json"
	"fmt"
)

// Exchange binds a Client to one lobby and one peer, giving the
// connectors a plain send/receive surface for endpoints and session
// descriptions.
type Exchange struct {
	client *Client
	code   string
	selfID string
	peerID string
}

// NewExchange creates a signal exchange with the named peer inside a
// lobby. The host uses the joiner's id from PendingClients; joiners
// use "host".
func NewExchange(client *Client, code, selfID, peerID string) *Exchange {
	return &Exchange{client: client, code: code, selfID: selfID, peerID: peerID}
}

// Publish announces our public endpoint to the peer.
func (e *Exchange) Publish(ctx context.Context, endpoint string) error {
	payload, err := json.Marshal(endpoint)
	if err != nil {
		return err
	}
	return e.client.PostSignal(ctx, e.code, Signal{
		From:    e.selfID,
		To:      e.peerID,
		Kind:    SignalEndpoint,
		Payload: payload,
	})
}

// Remote blocks until the peer's public endpoint arrives.
func (e *Exchange) Remote(ctx context.Context) (string, error) {
	return e.recv(ctx, SignalEndpoint)
}

// SendOffer posts a session description offer to the peer.
func (e *Exchange) SendOffer(ctx context.Context, sdp string) error {
	return e.send(ctx, SignalOffer, sdp)
}

// RecvOffer blocks until the peer's offer arrives.
func (e *Exchange) RecvOffer(ctx context.Context) (string, error) {
	return e.recv(ctx, SignalOffer)
}

// SendAnswer posts a session description answer to the peer.
func (e *Exchange) SendAnswer(ctx context.Context, sdp string) error {
	return e.send(ctx, SignalAnswer, sdp)
}

// RecvAnswer blocks until the peer's answer arrives.
func (e *Exchange) RecvAnswer(ctx context.Context) (string, error) {
	return e.recv(ctx, SignalAnswer)
}

func (e *Exchange) send(ctx context.Context, kind, value string) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return e.client.PostSignal(ctx, e.code, Signal{
		From:    e.selfID,
		To:      e.peerID,
		Kind:    kind,
		Payload: payload,
	})
}

func (e *Exchange) recv(ctx context.Context, kind string) (string, error) {
	for {
		sig, err := e.client.NextSignal(ctx, e.code, e.selfID)
		if err != nil {
			return "", err
		}
		if sig.Kind != kind || sig.From != e.peerID {
			continue
		}

		var value string
		if err := json.Unmarshal(sig.Payload, &value); err != nil {
			return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		return value, nil
	}
}
