// Package presence turns connection counts into online/offline
// transitions and tells each user's contacts about them.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatrelay/internal/apperr"
	"chatrelay/internal/envelope"
	"chatrelay/internal/fanout"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/session"

	"github.com/rs/zerolog/log"
)

const (
	Online  = "online"
	Offline = "offline"
)

type Store interface {
	ContactsOf(ctx context.Context, userID string) ([]string, error)
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) error
	User(ctx context.Context, userID string) (models.User, error)
}

// LocalCounter reports live connections on this node; *session.Registry
// implements it.
type LocalCounter interface {
	LiveCount(userID string) int
}

type Presence struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeenAt,omitempty"`
}

type Tracker struct {
	nodeID string
	dir    Directory
	local  LocalCounter
	store  Store
	bridge fanout.Bridge
	users  *session.KeyedMutex
	now    func() time.Time

	mu       sync.Mutex
	held     map[string]struct{}
	draining bool
}

func NewTracker(nodeID string, dir Directory, local LocalCounter, store Store, bridge fanout.Bridge) *Tracker {
	return &Tracker{
		nodeID: nodeID,
		dir:    dir,
		local:  local,
		store:  store,
		bridge: bridge,
		users:  session.NewKeyedMutex(),
		now:    time.Now,
		held:   make(map[string]struct{}),
	}
}

// Sync publishes this node's current connection count for userID and
// announces a transition when the cluster-wide count crosses zero. It must
// run after every register and unregister. It returns the transition
// announced, or "" when there was none.
//
// The local count is re-read here rather than passed in, so a disconnect
// racing a reconnect on another device settles on the final count instead
// of flapping offline and back.
func (t *Tracker) Sync(ctx context.Context, userID string) (string, error) {
	unlock := t.users.Lock(userID)
	defer unlock()

	t.mu.Lock()
	draining := t.draining
	t.mu.Unlock()
	if draining {
		return "", nil
	}

	live := t.local.LiveCount(userID)
	before, after, err := t.dir.Set(ctx, userID, t.nodeID, live)
	if err != nil {
		return "", fmt.Errorf("presence directory: %w", err)
	}
	t.mu.Lock()
	if live > 0 {
		t.held[userID] = struct{}{}
	} else {
		delete(t.held, userID)
	}
	t.mu.Unlock()
	return t.transition(ctx, userID, before, after), nil
}

func (t *Tracker) transition(ctx context.Context, userID string, before, after int) string {
	switch {
	case before == 0 && after > 0:
		t.announce(ctx, userID, Online, nil)
		return Online
	case before > 0 && after == 0:
		now := t.now().UTC()
		t.announce(ctx, userID, Offline, &now)
		return Offline
	}
	return ""
}

// Run keeps this node alive in the directory until ctx is done.
func (t *Tracker) Run(ctx context.Context, every time.Duration) error {
	if err := t.dir.Beat(ctx, t.nodeID); err != nil {
		log.Warn().Err(err).Str("node", t.nodeID).Msg("presence beat")
	}
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if err := t.dir.Beat(ctx, t.nodeID); err != nil {
				log.Warn().Err(err).Str("node", t.nodeID).Msg("presence beat")
			}
		}
	}
}

// Drain withdraws every count this node holds, announcing offline for the
// users that had no other node, and then drops the node from the
// directory. Later Syncs are ignored. It runs once on shutdown, after the
// server stopped accepting connections.
func (t *Tracker) Drain(ctx context.Context) error {
	t.mu.Lock()
	t.draining = true
	users := make([]string, 0, len(t.held))
	for u := range t.held {
		users = append(users, u)
	}
	t.held = make(map[string]struct{})
	t.mu.Unlock()

	var errs []error
	offline := 0
	for _, u := range users {
		unlock := t.users.Lock(u)
		before, after, err := t.dir.Set(ctx, u, t.nodeID, 0)
		if err != nil {
			errs = append(errs, fmt.Errorf("drain %s: %w", u, err))
		} else if t.transition(ctx, u, before, after) == Offline {
			offline++
		}
		unlock()
	}
	if err := t.dir.DropNode(ctx, t.nodeID); err != nil {
		errs = append(errs, fmt.Errorf("drop node: %w", err))
	}
	log.Info().Str("node", t.nodeID).Int("users", len(users)).Int("offline", offline).Msg("presence drained")
	return errors.Join(errs...)
}

func (t *Tracker) announce(ctx context.Context, userID, status string, lastSeen *time.Time) {
	metrics.PresenceTransitionsTotal.WithLabelValues(status).Inc()
	at := t.now().UTC()
	if lastSeen != nil {
		at = *lastSeen
	}
	if err := t.store.SetPresence(ctx, userID, status == Online, at); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("status", status).Msg("persist presence")
	}

	contacts, err := t.store.ContactsOf(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("load contacts")
		return
	}
	env, err := envelope.New(envelope.PresenceUpdate, envelope.PresencePayload{UserID: userID, Status: status, LastSeen: lastSeen})
	if err != nil {
		log.Error().Err(err).Msg("build presence envelope")
		return
	}
	for _, c := range contacts {
		fanout.PublishBestEffort(ctx, t.bridge, envelope.UserTopic(c), env)
	}
	log.Debug().Str("user_id", userID).Str("status", status).Int("contacts", len(contacts)).Msg("presence")
}

// Status reads the current presence of userID. Online comes from the live
// directory; lastSeenAt from the last persisted transition.
func (t *Tracker) Status(ctx context.Context, userID string) (Presence, error) {
	n, err := t.dir.Count(ctx, userID)
	if err != nil {
		return Presence{}, err
	}
	p := Presence{UserID: userID, Online: n > 0}
	u, err := t.store.User(ctx, userID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		if !p.Online {
			return Presence{}, err
		}
	case err != nil:
		return Presence{}, err
	default:
		p.LastSeen = u.LastSeen
	}
	return p, nil
}
