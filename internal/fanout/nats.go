package fanout

import (
	"context"
	"fmt"
	"time"

	"chatrelay/internal/apperr"
	"chatrelay/internal/envelope"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Dial connects to NATS with unbounded reconnects. name identifies this
// process in the server's connection list.
func Dial(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("node", name).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Str("node", name).Msg("nats reconnected")
		}),
	)
}

// Nats is a Bridge over NATS core pub/sub. Topic "user:42" travels on
// subject "<prefix>.user:42".
type Nats struct {
	nc     *nats.Conn
	prefix string
	own    bool
}

// NewNats wraps an existing connection. If own is true Close also closes nc.
func NewNats(nc *nats.Conn, prefix string, own bool) *Nats {
	return &Nats{nc: nc, prefix: prefix, own: own}
}

// subject maps a topic to its NATS subject, refusing topics whose id would
// split into several tokens or act as a wildcard.
func (n *Nats) subject(topic string) (string, error) {
	if _, _, ok := envelope.ParseTopic(topic); !ok {
		return "", fmt.Errorf("topic %q: %w", topic, apperr.ErrInvalid)
	}
	if n.prefix == "" {
		return topic, nil
	}
	return n.prefix + "." + topic, nil
}

func (n *Nats) Publish(ctx context.Context, topic string, env envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subj, err := n.subject(topic)
	if err != nil {
		return err
	}
	// Publishing while disconnected would sit in the reconnect buffer with
	// no delivery guarantee; fail fast so critical callers can retry.
	if !n.nc.IsConnected() {
		return fmt.Errorf("%w: nats status %s", ErrTransientBroker, n.nc.Status())
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := n.nc.Publish(subj, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransientBroker, err)
	}
	return nil
}

func (n *Nats) Subscribe(topic string, h Handler) (Subscription, error) {
	subj, err := n.subject(topic)
	if err != nil {
		return nil, err
	}
	sub, err := n.nc.Subscribe(subj, func(m *nats.Msg) {
		env, err := envelope.Decode(m.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("drop undecodable envelope")
			return
		}
		h(env)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrTransientBroker, topic, err)
	}
	return sub, nil
}

func (n *Nats) Close() error {
	if !n.own {
		return nil
	}
	return n.nc.Drain()
}
