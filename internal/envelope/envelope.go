package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the routing key of an envelope. Receivers dispatch on it without
// decoding Payload.
type Type string

// Server-to-client events.
const (
	MessageNew       Type = "message:new"
	MessageStatus    Type = "message:status"
	MessageEdited    Type = "message:edited"
	MessageDeleted   Type = "message:deleted"
	TypingStart      Type = "typing:start"
	TypingStop       Type = "typing:stop"
	PresenceUpdate   Type = "presence:update"
	CallIncoming     Type = "call:incoming"
	CallAccepted     Type = "call:accepted"
	CallRejected     Type = "call:rejected"
	CallEnded        Type = "call:ended"
	CallSignal       Type = "call:signal"
	CallICECandidate Type = "call:ice-candidate"
)

// Client-to-server commands that do not share a name with an event.
const (
	MessageDelivered Type = "message:delivered"
	MessageRead      Type = "message:read"
	CallAccept       Type = "call:accept"
	CallReject       Type = "call:reject"
	CallEnd          Type = "call:end"
)

var outbound = map[Type]struct{}{
	MessageNew: {}, MessageStatus: {}, MessageEdited: {}, MessageDeleted: {},
	TypingStart: {}, TypingStop: {}, PresenceUpdate: {},
	CallIncoming: {}, CallAccepted: {}, CallRejected: {}, CallEnded: {},
	CallSignal: {}, CallICECandidate: {},
}

var inbound = map[Type]struct{}{
	TypingStart: {}, TypingStop: {},
	MessageDelivered: {}, MessageRead: {},
	CallAccept: {}, CallReject: {}, CallEnd: {},
	CallSignal: {}, CallICECandidate: {},
}

// IsEvent reports whether t belongs to the outbound event catalog.
func (t Type) IsEvent() bool {
	_, ok := outbound[t]
	return ok
}

// IsCommand reports whether t is accepted from clients.
func (t Type) IsCommand() bool {
	_, ok := inbound[t]
	return ok
}

var ErrUnknownType = errors.New("unknown envelope type")

// Envelope is the unit carried over every connection and broker topic.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	// Origin is the connection that caused the event; that connection does
	// not get its own event echoed back.
	Origin string `json:"origin,omitempty"`
}

// New builds an envelope for an outbound event, marshalling payload.
func New(t Type, payload any) (Envelope, error) {
	if !t.IsEvent() {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// WithOrigin returns a copy of e tagged with the originating connection.
func (e Envelope) WithOrigin(connID string) Envelope {
	e.Origin = connID
	return e
}

func (e Envelope) Encode() ([]byte, error) { return json.Marshal(e) }

// Decode parses an envelope read from a broker or a socket. It checks only
// that a type is present; payload stays opaque.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: %w: empty", ErrUnknownType)
	}
	return e, nil
}

// Into unmarshals the payload into v.
func (e Envelope) Into(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s payload: %w", e.Type, err)
	}
	return nil
}
