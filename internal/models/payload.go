// Package models - Gateway wire payloads.
// Every frame on the gateway and every event on the bus is a tagged JSON object
// of the form {"op": "<OP>", "d": {...}}; "d" is omitted for ops without data.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Server ops (gateway to client, and bus events).
const (
	OpHello         = "HELLO"
	OpMessageCreate = "MESSAGE_CREATE"
	OpPong          = "PONG"
	OpRateLimit     = "RATE_LIMIT"
)

// Client ops.
const (
	OpPing = "PING"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownOp        = errors.New("unknown op")
)

// ServerPayload is a frame sent by the gateway.
type ServerPayload struct {
	Op string      `json:"op"`
	D  interface{} `json:"d,omitempty"`
}

// HelloData is sent once, immediately after a session is accepted.
type HelloData struct {
	HeartbeatInterval int64         `json:"heartbeat_interval"` // milliseconds
	RateLimit         RateLimitInfo `json:"rate_limit"`
}

// RateLimitData tells a client how long to wait before sending again.
type RateLimitData struct {
	Wait int64 `json:"wait"` // milliseconds
}

func NewHelloPayload(heartbeat time.Duration, limit int64, window time.Duration) ServerPayload {
	return ServerPayload{
		Op: OpHello,
		D: HelloData{
			HeartbeatInterval: heartbeat.Milliseconds(),
			RateLimit: RateLimitInfo{
				Limit:  limit,
				Window: window.Milliseconds(),
			},
		},
	}
}

func NewMessageCreatePayload(msg Message) ServerPayload {
	return ServerPayload{Op: OpMessageCreate, D: msg}
}

func NewPongPayload() ServerPayload {
	return ServerPayload{Op: OpPong}
}

func NewRateLimitPayload(wait time.Duration) ServerPayload {
	return ServerPayload{Op: OpRateLimit, D: RateLimitData{Wait: wait.Milliseconds()}}
}

// Encode marshals the payload into a text frame.
func (p ServerPayload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.Op, err)
	}
	return data, nil
}

// rawPayload is the undecoded envelope shared by both directions.
type rawPayload struct {
	Op string          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// DecodeServerPayload parses a server frame, resolving "d" into the concrete
// data type of its op.
func DecodeServerPayload(data []byte) (ServerPayload, error) {
	var raw rawPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return ServerPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	payload := ServerPayload{Op: raw.Op}
	var target interface{}
	switch raw.Op {
	case OpHello:
		target = &HelloData{}
	case OpMessageCreate:
		target = &Message{}
	case OpRateLimit:
		target = &RateLimitData{}
	case OpPong:
		return payload, nil
	case "":
		return ServerPayload{}, fmt.Errorf("%w: missing op", ErrMalformedPayload)
	default:
		return ServerPayload{}, fmt.Errorf("%w: %q", ErrUnknownOp, raw.Op)
	}

	if len(raw.D) == 0 {
		return ServerPayload{}, fmt.Errorf("%w: %s requires data", ErrMalformedPayload, raw.Op)
	}
	if err := json.Unmarshal(raw.D, target); err != nil {
		return ServerPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch v := target.(type) {
	case *HelloData:
		payload.D = *v
	case *Message:
		payload.D = *v
	case *RateLimitData:
		payload.D = *v
	}
	return payload, nil
}

// ClientPayload is a frame received from a client.
type ClientPayload struct {
	Op string `json:"op"`
}

// DecodeClientPayload parses a client frame. Anything but a known op is an error.
func DecodeClientPayload(data []byte) (ClientPayload, error) {
	var raw rawPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return ClientPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch raw.Op {
	case OpPing:
		return ClientPayload{Op: raw.Op}, nil
	case "":
		return ClientPayload{}, fmt.Errorf("%w: missing op", ErrMalformedPayload)
	default:
		return ClientPayload{}, fmt.Errorf("%w: %q", ErrUnknownOp, raw.Op)
	}
}
