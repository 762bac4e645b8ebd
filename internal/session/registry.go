// Package session keeps the table of live connections of this process and
// ties each connection to the fanout topics it listens on.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatrelay/internal/apperr"
	"chatrelay/internal/envelope"
	"chatrelay/internal/fanout"
	"chatrelay/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Conn is one live client transport session.
type Conn interface {
	ID() string
	UserID() string
	DeviceID() string
	ConnectedAt() time.Time
	// Deliver queues env for the client without blocking. It returns false
	// if the connection cannot take it.
	Deliver(env envelope.Envelope) bool
}

// Membership is the slice of the store the registry reads at connect time.
type Membership interface {
	ChatIDsForUser(ctx context.Context, userID string) ([]string, error)
}

type ConnectionInfo struct {
	ID          string    `json:"connectionId"`
	UserID      string    `json:"userId"`
	DeviceID    string    `json:"deviceId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// dedupWindow is the number of recent envelope ids remembered per topic.
const dedupWindow = 256

type entry struct {
	conn   Conn
	topics map[string]struct{}
}

type topicSub struct {
	sub   fanout.Subscription
	conns map[string]Conn
}

type Registry struct {
	bridge  fanout.Bridge
	members Membership
	users   *KeyedMutex

	mu     sync.RWMutex
	byID   map[string]*entry
	byUser map[string]map[string]*entry
	topics map[string]*topicSub
}

func NewRegistry(bridge fanout.Bridge, members Membership) *Registry {
	return &Registry{
		bridge:  bridge,
		members: members,
		users:   NewKeyedMutex(),
		byID:    make(map[string]*entry),
		byUser:  make(map[string]map[string]*entry),
		topics:  make(map[string]*topicSub),
	}
}

// Register adds conn and subscribes it to its user topic and to every chat
// the user belongs to right now. It returns the number of live local
// connections of the user, conn included.
func (r *Registry) Register(ctx context.Context, conn Conn) (int, error) {
	userID := conn.UserID()
	unlock := r.users.Lock(userID)
	defer unlock()

	// The snapshot is read under the user lock so a concurrent membership
	// change either lands in it or finds the connection registered.
	chatIDs, err := r.members.ChatIDsForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("membership snapshot: %w", err)
	}
	topics := make([]string, 0, len(chatIDs)+1)
	topics = append(topics, envelope.UserTopic(userID))
	for _, id := range chatIDs {
		topics = append(topics, envelope.ChatTopic(id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[conn.ID()]; dup {
		return 0, fmt.Errorf("connection %s already registered: %w", conn.ID(), apperr.ErrInvalid)
	}
	e := &entry{conn: conn, topics: make(map[string]struct{}, len(topics))}
	for _, t := range topics {
		if err := r.attachLocked(t, conn); err != nil {
			for done := range e.topics {
				r.detachLocked(done, conn.ID())
			}
			return 0, err
		}
		e.topics[t] = struct{}{}
	}
	r.byID[conn.ID()] = e
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*entry)
	}
	r.byUser[userID][conn.ID()] = e
	metrics.WsConnections.Inc()
	return len(r.byUser[userID]), nil
}

// Unregister removes the connection and releases its topics. Unknown ids
// are a no-op returning an empty user id and zero.
func (r *Registry) Unregister(connID string) (userID string, live int) {
	r.mu.RLock()
	e, ok := r.byID[connID]
	r.mu.RUnlock()
	if !ok {
		return "", 0
	}
	userID = e.conn.UserID()
	unlock := r.users.Lock(userID)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[connID]; !ok {
		return userID, len(r.byUser[userID])
	}
	for t := range e.topics {
		r.detachLocked(t, connID)
	}
	delete(r.byID, connID)
	delete(r.byUser[userID], connID)
	live = len(r.byUser[userID])
	if live == 0 {
		delete(r.byUser, userID)
	}
	metrics.WsConnections.Dec()
	return userID, live
}

// LiveCount is the number of live connections of userID on this process.
func (r *Registry) LiveCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// ListConnections returns the user's live connections, oldest first.
func (r *Registry) ListConnections(userID string) []ConnectionInfo {
	r.mu.RLock()
	out := make([]ConnectionInfo, 0, len(r.byUser[userID]))
	for _, e := range r.byUser[userID] {
		c := e.conn
		out = append(out, ConnectionInfo{ID: c.ID(), UserID: c.UserID(), DeviceID: c.DeviceID(), ConnectedAt: c.ConnectedAt()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Topics returns the topics a connection listens on, sorted.
func (r *Registry) Topics(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.topics))
	for t := range e.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Subscribe adds topic to every live local connection of userID. It is
// called after a membership change has been persisted.
func (r *Registry) Subscribe(userID, topic string) error {
	unlock := r.users.Lock(userID)
	defer unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byUser[userID] {
		if _, ok := e.topics[topic]; ok {
			continue
		}
		if err := r.attachLocked(topic, e.conn); err != nil {
			return err
		}
		e.topics[topic] = struct{}{}
	}
	return nil
}

// Unsubscribe removes topic from every live local connection of userID.
func (r *Registry) Unsubscribe(userID, topic string) {
	unlock := r.users.Lock(userID)
	defer unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.byUser[userID] {
		if _, ok := e.topics[topic]; !ok {
			continue
		}
		r.detachLocked(topic, id)
		delete(e.topics, topic)
	}
}

// Close releases every bridge subscription held by the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, ts := range r.topics {
		if err := ts.sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("topic", t).Msg("unsubscribe on close")
		}
	}
	r.topics = make(map[string]*topicSub)
}

// attachLocked adds conn to topic, subscribing the bridge for the first
// local listener. r.mu must be held for writing.
func (r *Registry) attachLocked(topic string, conn Conn) error {
	ts, ok := r.topics[topic]
	if !ok {
		sub, err := r.bridge.Subscribe(topic, fanout.NewDedup(dedupWindow).Wrap(r.dispatch(topic)))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		ts = &topicSub{sub: sub, conns: make(map[string]Conn)}
		r.topics[topic] = ts
	}
	ts.conns[conn.ID()] = conn
	return nil
}

// detachLocked removes a connection from topic and drops the bridge
// subscription with the last local listener.
func (r *Registry) detachLocked(topic, connID string) {
	ts, ok := r.topics[topic]
	if !ok {
		return
	}
	delete(ts.conns, connID)
	if len(ts.conns) > 0 {
		return
	}
	delete(r.topics, topic)
	if err := ts.sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("bridge unsubscribe")
	}
}

func (r *Registry) dispatch(topic string) fanout.Handler {
	return func(env envelope.Envelope) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		ts, ok := r.topics[topic]
		if !ok {
			return
		}
		for id, c := range ts.conns {
			if env.Origin != "" && env.Origin == id {
				continue
			}
			if !c.Deliver(env) {
				metrics.DroppedDeliveriesTotal.Inc()
				log.Warn().Str("conn_id", id).Str("user_id", c.UserID()).Str("type", string(env.Type)).Msg("connection buffer full")
			}
		}
	}
}
