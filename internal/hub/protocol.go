package hub

import (
	"encoding/json"
	"fmt"
)

// recordSeparator terminates every frame on the wire.
const recordSeparator = 0x1E

// Wire message types.
const (
	msgTypeInvocation = 1
	msgTypePing       = 6
	msgTypeClose      = 7
)

// handshakeRequest opens the session. The hub answers with an empty JSON
// object, or one carrying an error string on rejection.
type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// wireMessage is the post-handshake frame envelope. Fields are populated
// according to Type; unknown types are skipped.
type wireMessage struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Message is one decoded invocation handed to the owner, in arrival order.
type Message struct {
	ID        string
	Target    string
	Arguments []json.RawMessage
}

// encodeFrame marshals v and appends the record separator.
func encodeFrame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("hub: encode frame: %w", err)
	}
	return append(data, recordSeparator), nil
}

// decodeHandshakeResponse validates the hub's handshake reply.
func decodeHandshakeResponse(frame []byte) error {
	var resp handshakeResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", ErrHandshakeFailed, resp.Error)
	}
	return nil
}

// decodeMessage parses one post-handshake frame.
func decodeMessage(frame []byte) (wireMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return wireMessage{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return msg, nil
}
