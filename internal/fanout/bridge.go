// Package fanout routes envelopes by topic between processes.
//
// Delivery is at-least-once. Envelopes published by one producer to one
// topic arrive in publish order; nothing is promised across topics.
// Subscribers must tolerate duplicates, see Dedup.
package fanout

import (
	"context"
	"errors"

	"chatrelay/internal/envelope"
)

// ErrTransientBroker is returned when the broker cannot accept a publish.
// Callers retry critical events and drop best-effort ones.
var ErrTransientBroker = errors.New("transient broker error")

// Handler is invoked once per delivered envelope. Handlers for one topic
// are called sequentially.
type Handler func(env envelope.Envelope)

type Subscription interface {
	Unsubscribe() error
}

type Bridge interface {
	Publish(ctx context.Context, topic string, env envelope.Envelope) error
	Subscribe(topic string, h Handler) (Subscription, error)
	Close() error
}
