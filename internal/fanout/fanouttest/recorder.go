// Package fanouttest records envelopes published on a bridge so tests can
// assert on what each topic received.
package fanouttest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"chatrelay/internal/envelope"
	"chatrelay/internal/fanout"
)

type Recorder struct {
	mu  sync.Mutex
	got map[string][]envelope.Envelope
}

func NewRecorder() *Recorder {
	return &Recorder{got: make(map[string][]envelope.Envelope)}
}

// Watch subscribes the recorder to each topic on b.
func (r *Recorder) Watch(t testing.TB, b fanout.Bridge, topics ...string) {
	t.Helper()
	for _, topic := range topics {
		sub, err := b.Subscribe(topic, func(env envelope.Envelope) {
			r.mu.Lock()
			r.got[topic] = append(r.got[topic], env)
			r.mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
		t.Cleanup(func() { _ = sub.Unsubscribe() })
	}
}

// On returns the envelopes received on topic, in delivery order.
func (r *Recorder) On(topic string) []envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]envelope.Envelope, len(r.got[topic]))
	copy(out, r.got[topic])
	return out
}

// Types returns the envelope types received on topic.
func (r *Recorder) Types(topic string) []envelope.Type {
	envs := r.On(topic)
	out := make([]envelope.Type, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

// Count returns how many envelopes of type typ arrived on topic.
func (r *Recorder) Count(topic string, typ envelope.Type) int {
	n := 0
	for _, e := range r.On(topic) {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// Total is the number of envelopes received across all topics.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, envs := range r.got {
		n += len(envs)
	}
	return n
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.got = make(map[string][]envelope.Envelope)
	r.mu.Unlock()
}

// Flaky fails the first Failures publishes with ErrTransientBroker, then
// delegates to Bridge.
type Flaky struct {
	fanout.Bridge
	mu       sync.Mutex
	Failures int
	Attempts int
}

func (f *Flaky) Publish(ctx context.Context, topic string, env envelope.Envelope) error {
	f.mu.Lock()
	f.Attempts++
	fail := f.Failures > 0
	if fail {
		f.Failures--
	}
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: injected", fanout.ErrTransientBroker)
	}
	return f.Bridge.Publish(ctx, topic, env)
}
