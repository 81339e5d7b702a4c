// Package protocol encodes and decodes the JSON text frames exchanged with
// the chat server. Every frame is an envelope {"event": tag, "data": payload}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned when a frame is not a JSON envelope.
var ErrMalformedFrame = errors.New("malformed frame")

// Envelope is the outer shape of every frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeError reports a payload that does not match its tag.
type DecodeError struct {
	Tag string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q payload: %v", e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func parseEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event tag", ErrMalformedFrame)
	}
	return env, nil
}
