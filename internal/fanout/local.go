package fanout

import (
	"context"
	"fmt"
	"sync"

	"chatrelay/internal/envelope"
)

// Local is an in-process Bridge. Publish delivers synchronously on the
// caller's goroutine, which gives per-producer order for free. It is the
// bridge for single-node deployments and for tests.
type Local struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler
	nextID uint64
	closed bool
}

func NewLocal() *Local {
	return &Local{subs: make(map[string]map[uint64]Handler)}
}

func (l *Local) Publish(ctx context.Context, topic string, env envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return fmt.Errorf("%w: bridge closed", ErrTransientBroker)
	}
	handlers := make([]Handler, 0, len(l.subs[topic]))
	for _, h := range l.subs[topic] {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (l *Local) Subscribe(topic string, h Handler) (Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("%w: bridge closed", ErrTransientBroker)
	}
	l.nextID++
	id := l.nextID
	if l.subs[topic] == nil {
		l.subs[topic] = make(map[uint64]Handler)
	}
	l.subs[topic][id] = h
	return &localSub{l: l, topic: topic, id: id}, nil
}

// Subscribers returns the number of handlers on topic.
func (l *Local) Subscribers(topic string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs[topic])
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.subs = make(map[string]map[uint64]Handler)
	return nil
}

type localSub struct {
	l     *Local
	topic string
	id    uint64
	once  sync.Once
}

func (s *localSub) Unsubscribe() error {
	s.once.Do(func() {
		s.l.mu.Lock()
		defer s.l.mu.Unlock()
		if hs, ok := s.l.subs[s.topic]; ok {
			delete(hs, s.id)
			if len(hs) == 0 {
				delete(s.l.subs, s.topic)
			}
		}
	})
	return nil
}
