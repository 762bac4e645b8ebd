package envelope

import (
	"errors"
	"strings"
	"testing"
)

func TestNew_RejectsUnknownType(t *testing.T) {
	if _, err := New(Type("room:join"), nil); !errors.Is(err, ErrUnknownType) {
		t.Errorf("New() error = %v, want ErrUnknownType", err)
	}
	// commands are not events
	if _, err := New(MessageRead, ReceiptCommand{MessageID: "m"}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("New(message:read) error = %v, want ErrUnknownType", err)
	}
}

func TestEnvelope_RoundTripKeepsPayloadOpaque(t *testing.T) {
	env, err := New(CallSignal, SignalPayload{CallID: "c1", FromUserID: "u1", Signal: []byte(`{"sdp":"v=0","x":[1,2]}`)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if env.ID == "" {
		t.Error("New() returned empty id")
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Type != CallSignal || got.ID != env.ID {
		t.Errorf("Decode() = %s/%s, want %s/%s", got.Type, got.ID, CallSignal, env.ID)
	}
	var p SignalPayload
	if err := got.Into(&p); err != nil {
		t.Fatalf("Into() error = %v", err)
	}
	if string(p.Signal) != `{"sdp":"v=0","x":[1,2]}` {
		t.Errorf("signal = %s, want verbatim blob", p.Signal)
	}
}

func TestDecode_RoutesWithoutPayload(t *testing.T) {
	got, err := Decode([]byte(`{"type":"typing:start","payload":{"chatId":"c"},"timestamp":"2024-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !got.Type.IsCommand() || !got.Type.IsEvent() {
		t.Errorf("typing:start should be both command and event")
	}
	if _, err := Decode([]byte(`{"payload":{}}`)); err == nil {
		t.Error("Decode() without type should fail")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("Decode() of garbage should fail")
	}
}

func TestWithOrigin(t *testing.T) {
	env, _ := New(TypingStop, TypingPayload{ChatID: "c", UserID: "u"})
	tagged := env.WithOrigin("conn-1")
	if tagged.Origin != "conn-1" || env.Origin != "" {
		t.Errorf("WithOrigin() mutated receiver or did not tag copy")
	}
	data, _ := env.Encode()
	if strings.Contains(string(data), "origin") {
		t.Errorf("untagged envelope should omit origin: %s", data)
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		topic    string
		wantKind string
		wantID   string
		wantOK   bool
	}{
		{UserTopic("42"), "user", "42", true},
		{ChatTopic("abc-def"), "chat", "abc-def", true},
		{"user:", "user", "", false},
		{"room:1", "", "", false},
		{UserTopic("a b"), "user", "a b", false},
		{UserTopic("*"), "user", "*", false},
		{ChatTopic("x.>"), "chat", "x.>", false},
		{UserTopic("tab\there"), "user", "tab\there", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, id, ok := ParseTopic(tt.topic)
			if kind != tt.wantKind || id != tt.wantID || ok != tt.wantOK {
				t.Errorf("ParseTopic(%q) = %q,%q,%v want %q,%q,%v", tt.topic, kind, id, ok, tt.wantKind, tt.wantID, tt.wantOK)
			}
		})
	}
}
