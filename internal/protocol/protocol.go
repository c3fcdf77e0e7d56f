// Package protocol defines the versioned JSON wire format shared by the
// server router and the session client.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only envelope version this build speaks. Version 1 had two
// incompatible draw shapes and is not accepted.
const Version = 2

// Event is the name carried in every envelope.
type Event string

const (
	// Client to server
	EventJoinRoom    Event = "join-room"
	EventLeaveRoom   Event = "leave-room"
	EventDraw        Event = "draw"
	EventClearCanvas Event = "clear-canvas"
	EventCursorMove  Event = "cursor-move"

	// Server to client
	EventJoinRoomSuccess Event = "join-room-success"
	EventJoinRoomError   Event = "join-room-error"
	EventRoomState       Event = "room-state"
	EventExistingUsers   Event = "existing-users"
	EventUserJoined      Event = "user-joined"
	EventUserLeft        Event = "user-left"
	EventUserCount       Event = "user-count"
	EventCanvasCleared   Event = "canvas-cleared"
	EventError           Event = "error"
)

var (
	ErrMalformedEvent     = errors.New("malformed event")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrInvalidRoomID      = errors.New("room id must be a non-empty string")
)

// Error codes sent in error payloads.
const (
	CodeMalformed          = "malformed_event"
	CodeUnsupportedVersion = "unsupported_version"
	CodeUnknownEvent       = "unknown_event"
	CodeInvalidRoom        = "invalid_room"
	CodeInternal           = "internal"
)

// Envelope is one frame on the wire.
type Envelope struct {
	Version int             `json:"v"`
	Event   Event           `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload in a current-version envelope. A nil payload
// produces an envelope without data.
func Encode(event Event, payload any) ([]byte, error) {
	env := Envelope{Version: Version, Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(event Event, payload any) []byte {
	data, err := Encode(event, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses and validates a raw frame.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Version != Version {
		return env, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, env.Version, Version)
	}
	if err := validateEnvelope(raw); err != nil {
		if env.Event == EventJoinRoom && badRoomID(env.Data) {
			return env, fmt.Errorf("%w: %w: %v", ErrMalformedEvent, ErrInvalidRoomID, err)
		}
		return env, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return env, nil
}

// Bind unmarshals the envelope data into v.
func (e Envelope) Bind(v any) error {
	if isEmpty(e.Data) {
		return fmt.Errorf("%w: %s has no data", ErrMalformedEvent, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, e.Event, err)
	}
	return nil
}

// RoomRef reads the optional room id carried by clear-canvas and
// leave-room. It accepts no data, a bare string, or {"roomId": "..."}.
func (e Envelope) RoomRef() (string, error) {
	if isEmpty(e.Data) {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(e.Data, &id); err == nil {
		return id, nil
	}
	var obj struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(e.Data, &obj); err != nil {
		return "", fmt.Errorf("%w: %s: room id must be a string", ErrMalformedEvent, e.Event)
	}
	return obj.RoomID, nil
}

// badRoomID reports whether data is an object whose roomId is missing or
// not a string.
func badRoomID(data json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return false
	}
	id, ok := obj["roomId"]
	if !ok {
		return true
	}
	var s string
	return json.Unmarshal(id, &s) != nil
}

func isEmpty(data json.RawMessage) bool {
	d := bytes.TrimSpace(data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}
