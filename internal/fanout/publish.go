package fanout

import (
	"context"
	"errors"
	"time"

	"chatrelay/internal/envelope"
	"chatrelay/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Backoff bounds the retries of PublishReliable.
type Backoff struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int
}

var DefaultBackoff = Backoff{Initial: 50 * time.Millisecond, Max: 2 * time.Second, Attempts: 6}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Initial << attempt
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}

// PublishReliable retries transient broker failures with exponential
// backoff. It is used for delivery receipts, call status changes and call
// summaries, whose loss would leave clients with stale state.
func PublishReliable(ctx context.Context, b Bridge, topic string, env envelope.Envelope, policy Backoff) error {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = b.Publish(ctx, topic, env); err == nil {
			metrics.FanoutPublishTotal.WithLabelValues(string(env.Type), "ok").Inc()
			return nil
		}
		if !errors.Is(err, ErrTransientBroker) || i == attempts-1 {
			break
		}
		metrics.FanoutRetriesTotal.Inc()
		t := time.NewTimer(policy.delay(i))
		select {
		case <-ctx.Done():
			t.Stop()
			metrics.FanoutPublishTotal.WithLabelValues(string(env.Type), "error").Inc()
			return ctx.Err()
		case <-t.C:
		}
	}
	metrics.FanoutPublishTotal.WithLabelValues(string(env.Type), "error").Inc()
	log.Error().Err(err).Str("topic", topic).Str("type", string(env.Type)).Str("envelope_id", env.ID).Msg("reliable publish failed")
	return err
}

// PublishBestEffort makes one attempt and swallows the error. Typing,
// presence and signaling payloads go through here.
func PublishBestEffort(ctx context.Context, b Bridge, topic string, env envelope.Envelope) {
	if err := b.Publish(ctx, topic, env); err != nil {
		metrics.FanoutPublishTotal.WithLabelValues(string(env.Type), "dropped").Inc()
		log.Warn().Err(err).Str("topic", topic).Str("type", string(env.Type)).Msg("best-effort publish dropped")
		return
	}
	metrics.FanoutPublishTotal.WithLabelValues(string(env.Type), "ok").Inc()
}

// Publisher bundles a bridge with its retry policy so components do not
// pass both around.
type Publisher struct {
	Bridge  Bridge
	Backoff Backoff
}

func NewPublisher(b Bridge, policy Backoff) *Publisher {
	return &Publisher{Bridge: b, Backoff: policy}
}

func (p *Publisher) Reliable(ctx context.Context, topic string, env envelope.Envelope) error {
	return PublishReliable(ctx, p.Bridge, topic, env, p.Backoff)
}

func (p *Publisher) BestEffort(ctx context.Context, topic string, env envelope.Envelope) {
	PublishBestEffort(ctx, p.Bridge, topic, env)
}
