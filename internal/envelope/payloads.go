package envelope

import (
	"encoding/json"
	"time"
)

// Payloads published by the core. Field names follow the client protocol.

type PresencePayload struct {
	UserID   string     `json:"userId"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"lastSeenAt,omitempty"`
}

type MessageStatusPayload struct {
	MessageID       string `json:"messageId"`
	ChatID          string `json:"chatId"`
	Status          string `json:"status"`
	RecipientUserID string `json:"recipientUserId"`
}

type MessagePayload struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chatId"`
	SenderID  string     `json:"senderId"`
	Type      string     `json:"type"`
	Content   string     `json:"content"`
	ReplyToID *string    `json:"replyToId,omitempty"`
	IsEdited  bool       `json:"isEdited"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

type TypingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type CallIncomingPayload struct {
	CallID   string `json:"callId"`
	ChatID   string `json:"chatId"`
	CallType string `json:"callType"`
	CallerID string `json:"callerId"`
}

// CallUpdatePayload is shared by call:accepted, call:rejected and
// call:ended. CallStatus is the authoritative status after the action.
type CallUpdatePayload struct {
	CallID          string `json:"callId"`
	UserID          string `json:"userId"`
	CallStatus      string `json:"callStatus"`
	Reason          string `json:"reason,omitempty"`
	DurationSeconds *int   `json:"durationSeconds,omitempty"`
}

// SignalPayload carries an opaque WebRTC blob, forwarded verbatim. Offers
// and answers travel in Signal, ICE candidates in Candidate.
type SignalPayload struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	Signal     json.RawMessage `json:"signal,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

// Inbound command bodies.

type ChatRef struct {
	ChatID string `json:"chatId"`
}

type ReceiptCommand struct {
	MessageID string `json:"messageId"`
}

type CallCommand struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

type SignalCommand struct {
	CallID       string          `json:"callId"`
	TargetUserID string          `json:"targetUserId"`
	Signal       json.RawMessage `json:"signal,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// Blob returns whichever of Signal or Candidate the client filled in.
func (c SignalCommand) Blob() json.RawMessage {
	if len(c.Candidate) > 0 {
		return c.Candidate
	}
	return c.Signal
}
