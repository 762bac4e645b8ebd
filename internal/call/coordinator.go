// Package call runs the call lifecycle: ringing, answering, hanging up and
// relaying WebRTC signaling between participants.
//
// Every status write is conditional on the status read just before it, so
// of two racing actions exactly one commits. The other caller still gets a
// success response carrying the stored state, and emits nothing.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatrelay/internal/apperr"
	"chatrelay/internal/envelope"
	"chatrelay/internal/fanout"
	"chatrelay/internal/metrics"
	"chatrelay/internal/models"
	"chatrelay/internal/telemetry"
	"chatrelay/internal/turn"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Type string

const (
	Audio Type = "audio"
	Video Type = "video"
)

const (
	defaultRejectReason = "rejected"
	noAnswerReason      = "no_answer"
	// maxRetries bounds re-reads after a lost conditional write.
	maxRetries = 3
)

type Store interface {
	ChatMembers(ctx context.Context, chatID string) ([]models.ChatMember, error)
	CreateCall(ctx context.Context, call *models.Call, parts []models.CallParticipant) error
	CallByID(ctx context.Context, id string) (models.Call, error)
	Participants(ctx context.Context, callID string) ([]models.CallParticipant, error)
	TransitionCall(ctx context.Context, callID string, from []string, to string, patch models.CallPatch) (bool, error)
	TransitionParticipant(ctx context.Context, callID, userID string, from []string, to string, patch models.ParticipantPatch) (bool, error)
	CallsForUser(ctx context.Context, userID string, limit, offset int) ([]models.Call, error)
	CreateMessage(ctx context.Context, msg *models.Message, recipients []string) error
}

type CredentialIssuer interface {
	Issue(userID string) (turn.Credential, error)
}

type Participant struct {
	UserID   string            `json:"userId"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt *time.Time        `json:"joinedAt,omitempty"`
	LeftAt   *time.Time        `json:"leftAt,omitempty"`
}

// Snapshot is the stored state of a call after an operation.
type Snapshot struct {
	ID              string           `json:"id"`
	ChatID          string           `json:"chatId"`
	CallerID        string           `json:"callerId"`
	Type            Type             `json:"type"`
	Status          Status           `json:"status"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	EndedAt         *time.Time       `json:"endedAt,omitempty"`
	DurationSeconds *int             `json:"durationSeconds"`
	EndReason       *string          `json:"endReason,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	Participants    []Participant    `json:"participants"`
	Credential      *turn.Credential `json:"turnCredentials,omitempty"`
}

type HistoryEntry struct {
	Snapshot
	IsMissed bool `json:"isMissed"`
}

// Summary is the content of the call message appended to the chat when a
// call ends.
type Summary struct {
	CallID   string `json:"callId"`
	Type     Type   `json:"type"`
	Duration *int   `json:"duration"`
	Status   Status `json:"status"`
}

func snapshot(c models.Call, ps []models.CallParticipant) Snapshot {
	s := Snapshot{
		ID:              c.ID,
		ChatID:          c.ChatID,
		CallerID:        c.CallerID,
		Type:            Type(c.Type),
		Status:          Status(c.Status),
		StartedAt:       c.StartedAt,
		EndedAt:         c.EndedAt,
		DurationSeconds: c.DurationSeconds,
		EndReason:       c.EndReason,
		CreatedAt:       c.CreatedAt,
		Participants:    make([]Participant, 0, len(ps)),
	}
	for _, p := range ps {
		s.Participants = append(s.Participants, Participant{UserID: p.UserID, Status: ParticipantStatus(p.Status), JoinedAt: p.JoinedAt, LeftAt: p.LeftAt})
	}
	return s
}

type Options struct {
	// RingTimeout moves a call nobody answered to missed. Zero disables it.
	RingTimeout time.Duration
}

type Coordinator struct {
	store Store
	pub   *fanout.Publisher
	creds CredentialIssuer
	ring  time.Duration
	now   func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func NewCoordinator(store Store, pub *fanout.Publisher, creds CredentialIssuer, opts Options) *Coordinator {
	return &Coordinator{
		store:  store,
		pub:    pub,
		creds:  creds,
		ring:   opts.RingTimeout,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
}

func (c *Coordinator) span(ctx context.Context, name, callID, userID string) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("call.id", callID),
		attribute.String("user.id", userID),
	))
}

// Initiate starts ringing every other member of chatID. The caller joins
// right away and gets relay credentials. A non-nil error alongside a
// snapshot means the call exists but some invitee was not notified.
func (c *Coordinator) Initiate(ctx context.Context, callerID, chatID string, typ Type) (snap Snapshot, err error) {
	ctx, span := c.span(ctx, "call.Initiate", "", callerID)
	defer func() { telemetry.End(span, err) }()

	if typ != Audio && typ != Video {
		return Snapshot{}, fmt.Errorf("call type %q: %w", typ, apperr.ErrInvalid)
	}
	members, err := c.store.ChatMembers(ctx, chatID)
	if err != nil {
		return Snapshot{}, err
	}
	var invitees []string
	isMember := false
	for _, m := range members {
		if m.UserID == callerID {
			isMember = true
			continue
		}
		invitees = append(invitees, m.UserID)
	}
	if !isMember {
		return Snapshot{}, fmt.Errorf("user %s not in chat %s: %w", callerID, chatID, apperr.ErrForbidden)
	}
	if len(invitees) == 0 {
		return Snapshot{}, fmt.Errorf("chat %s has nobody to call: %w", chatID, apperr.ErrInvalid)
	}
	cred, err := c.creds.Issue(callerID)
	if err != nil {
		return Snapshot{}, err
	}

	now := c.now().UTC()
	call := models.Call{ChatID: chatID, CallerID: callerID, Type: string(typ), Status: string(Initiated), CreatedAt: now}
	parts := make([]models.CallParticipant, 0, len(invitees)+1)
	parts = append(parts, models.CallParticipant{UserID: callerID, Status: string(Joined), JoinedAt: &now})
	for _, id := range invitees {
		parts = append(parts, models.CallParticipant{UserID: id, Status: string(Invited)})
	}
	if err := c.store.CreateCall(ctx, &call, parts); err != nil {
		return Snapshot{}, fmt.Errorf("create call: %w", err)
	}
	span.SetAttributes(attribute.String("call.id", call.ID))
	metrics.CallTransitionsTotal.WithLabelValues(string(Initiated), "ok").Inc()
	c.scheduleRing(call.ID)
	log.Info().Str("call_id", call.ID).Str("chat_id", chatID).Str("caller_id", callerID).Int("invitees", len(invitees)).Msg("call initiated")

	snap = snapshot(call, parts)
	snap.Credential = &cred
	err = c.notify(ctx, envelope.CallIncoming, envelope.CallIncomingPayload{
		CallID:   call.ID,
		ChatID:   chatID,
		CallType: string(typ),
		CallerID: callerID,
	}, invitees)
	return snap, err
}

// Accept answers the call for userID. The first answer also starts the
// call; later ones just join it.
func (c *Coordinator) Accept(ctx context.Context, callID, userID string) (snap Snapshot, err error) {
	ctx, span := c.span(ctx, "call.Accept", callID, userID)
	defer func() { telemetry.End(span, err) }()

	call, ps, err := c.load(ctx, callID)
	if err != nil {
		return Snapshot{}, err
	}
	p, ok := find(ps, userID)
	if !ok {
		return Snapshot{}, notParticipant(callID, userID)
	}
	if Status(call.Status).Terminal() || ParticipantStatus(p.Status) != Invited {
		return snapshot(call, ps), nil
	}

	now := c.now().UTC()
	moved, err := c.moveParticipant(ctx, callID, userID, Invited, EventAccept, models.ParticipantPatch{JoinedAt: &now})
	if err != nil {
		return Snapshot{}, err
	}
	if !moved {
		return c.reload(ctx, callID)
	}
	if Status(call.Status) == Initiated {
		if _, err := c.commit(ctx, callID, Initiated, EventAccept, models.CallPatch{StartedAt: &now}); err != nil {
			return Snapshot{}, err
		}
	}

	call, ps, err = c.load(ctx, callID)
	if err != nil {
		return Snapshot{}, err
	}
	if Status(call.Status).Terminal() {
		// the call was over before this answer landed; leave it again
		if _, err := c.moveParticipant(ctx, callID, userID, Joined, EventEnd, models.ParticipantPatch{LeftAt: &now}); err != nil {
			return Snapshot{}, err
		}
		return c.reload(ctx, callID)
	}

	snap = snapshot(call, ps)
	cred, err := c.creds.Issue(userID)
	if err != nil {
		return snap, err
	}
	snap.Credential = &cred
	err = c.notify(ctx, envelope.CallAccepted, envelope.CallUpdatePayload{
		CallID:     callID,
		UserID:     userID,
		CallStatus: call.Status,
	}, others(ps, userID))
	return snap, err
}

// Reject declines the call for userID. Once every invitee has declined or
// left a call that was never answered, the call itself is rejected.
func (c *Coordinator) Reject(ctx context.Context, callID, userID, reason string) (snap Snapshot, err error) {
	ctx, span := c.span(ctx, "call.Reject", callID, userID)
	defer func() { telemetry.End(span, err) }()

	if reason == "" {
		reason = defaultRejectReason
	}
	call, ps, err := c.load(ctx, callID)
	if err != nil {
		return Snapshot{}, err
	}
	p, ok := find(ps, userID)
	if !ok {
		return Snapshot{}, notParticipant(callID, userID)
	}
	if userID == call.CallerID {
		return Snapshot{}, fmt.Errorf("caller cannot reject call %s, end it instead: %w", callID, apperr.ErrInvalid)
	}
	if Status(call.Status).Terminal() || ParticipantStatus(p.Status) != Invited {
		return snapshot(call, ps), nil
	}

	moved, err := c.moveParticipant(ctx, callID, userID, Invited, EventReject, models.ParticipantPatch{})
	if err != nil {
		return Snapshot{}, err
	}
	if !moved {
		return c.reload(ctx, callID)
	}

	// re-read after our own write so that of two racing rejections at least
	// the later one sees both
	call, ps, err = c.load(ctx, callID)
	if err != nil {
		return Snapshot{}, err
	}
	if Status(call.Status) == Initiated && allDeclined(ps, call.CallerID) {
		now := c.now().UTC()
		if _, err := c.commit(ctx, callID, Initiated, EventReject, models.CallPatch{EndedAt: &now, EndReason: &reason}); err != nil {
			return Snapshot{}, err
		}
		if call, ps, err = c.load(ctx, callID); err != nil {
			return Snapshot{}, err
		}
	}

	snap = snapshot(call, ps)
	err = c.notify(ctx, envelope.CallRejected, envelope.CallUpdatePayload{
		CallID:     callID,
		UserID:     userID,
		CallStatus: call.Status,
		Reason:     reason,
	}, others(ps, userID))
	return snap, err
}

// End makes userID leave the call. When at most one answered participant
// remains the call ends, its duration is recorded and a summary message is
// appended to the chat.
func (c *Coordinator) End(ctx context.Context, callID, userID string) (snap Snapshot, err error) {
	ctx, span := c.span(ctx, "call.End", callID, userID)
	defer func() { telemetry.End(span, err) }()

	call, ps, err := c.load(ctx, callID)
	if err != nil {
		return Snapshot{}, err
	}
	if _, ok := find(ps, userID); !ok {
		return Snapshot{}, notParticipant(callID, userID)
	}
	if Status(call.Status).Terminal() {
		return snapshot(call, ps), nil
	}

	now := c.now().UTC()
	if err := c.leave(ctx, callID, userID, now); err != nil {
		return Snapshot{}, err
	}
	call, ended, err := c.finish(ctx, callID, now)
	if err != nil {
		return Snapshot{}, err
	}
	if ps, err = c.store.Participants(ctx, callID); err != nil {
		return Snapshot{}, err
	}

	snap = snapshot(call, ps)
	var errs []error
	if ended {
		errs = append(errs, c.appendSummary(ctx, call))
	}
	errs = append(errs, c.notify(ctx, envelope.CallEnded, envelope.CallUpdatePayload{
		CallID:          callID,
		UserID:          userID,
		CallStatus:      call.Status,
		DurationSeconds: call.DurationSeconds,
	}, others(ps, userID)))
	return snap, errors.Join(errs...)
}

// leave moves userID to left from whatever live status it is in, following
// concurrent changes to that status.
func (c *Coordinator) leave(ctx context.Context, callID, userID string, now time.Time) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		ps, err := c.store.Participants(ctx, callID)
		if err != nil {
			return err
		}
		p, _ := find(ps, userID)
		from := ParticipantStatus(p.Status)
		if from != Invited && from != Joined {
			return nil
		}
		moved, err := c.moveParticipant(ctx, callID, userID, from, EventEnd, models.ParticipantPatch{LeftAt: &now})
		if err != nil || moved {
			return err
		}
	}
	return nil
}

// finish ends the call if at most one answered participant is left. It
// reports whether this invocation committed the end.
func (c *Coordinator) finish(ctx context.Context, callID string, now time.Time) (models.Call, bool, error) {
	var call models.Call
	for attempt := 0; attempt < maxRetries; attempt++ {
		var (
			ps  []models.CallParticipant
			err error
		)
		if call, ps, err = c.load(ctx, callID); err != nil {
			return call, false, err
		}
		if Status(call.Status).Terminal() || count(ps, Joined) > 1 {
			return call, false, nil
		}
		patch := models.CallPatch{EndedAt: &now}
		if call.StartedAt != nil {
			d := int(now.Sub(*call.StartedAt) / time.Second)
			if d < 0 {
				d = 0
			}
			patch.DurationSeconds = &d
		}
		ok, err := c.commit(ctx, callID, Status(call.Status), EventEnd, patch)
		if err != nil {
			return call, false, err
		}
		if ok {
			call.Status = string(Ended)
			call.EndedAt = patch.EndedAt
			call.DurationSeconds = patch.DurationSeconds
			return call, true, nil
		}
		// lost to a concurrent transition, e.g. the first answer setting
		// startedAt; decide again on the fresh row
	}
	return call, false, nil
}

func (c *Coordinator) appendSummary(ctx context.Context, call models.Call) error {
	content, err := json.Marshal(Summary{CallID: call.ID, Type: Type(call.Type), Duration: call.DurationSeconds, Status: Ended})
	if err != nil {
		return err
	}
	msg := models.Message{ChatID: call.ChatID, SenderID: call.CallerID, Type: "call", Content: string(content), CreatedAt: c.now().UTC()}
	if err := c.store.CreateMessage(ctx, &msg, nil); err != nil {
		return fmt.Errorf("call summary: %w", err)
	}
	env, err := envelope.New(envelope.MessageNew, envelope.MessagePayload{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return err
	}
	return c.pub.Reliable(ctx, envelope.ChatTopic(call.ChatID), env)
}

// Expire marks a call nobody answered as missed. It is a no-op for calls
// that left the ringing state.
func (c *Coordinator) Expire(ctx context.Context, callID string) (Snapshot, error) {
	now := c.now().UTC()
	reason := noAnswerReason
	ok, err := c.commit(ctx, callID, Initiated, EventTimeout, models.CallPatch{EndedAt: &now, EndReason: &reason})
	if err != nil {
		return Snapshot{}, err
	}
	call, ps, err := c.load(ctx, callID)
	if err != nil || !ok {
		return snapshot(call, ps), err
	}
	log.Info().Str("call_id", callID).Msg("call missed")
	return snapshot(call, ps), c.notify(ctx, envelope.CallEnded, envelope.CallUpdatePayload{
		CallID:     callID,
		UserID:     call.CallerID,
		CallStatus: call.Status,
		Reason:     reason,
	}, all(ps))
}

// SetPolicyStatus applies a busy or failed verdict decided outside the
// call flow, e.g. by a media server.
func (c *Coordinator) SetPolicyStatus(ctx context.Context, callID string, to Status, reason string) (Snapshot, error) {
	var e Event
	switch to {
	case Busy:
		e = EventBusy
	case Failed:
		e = EventFail
	default:
		return Snapshot{}, fmt.Errorf("policy status %q: %w", to, apperr.ErrInvalid)
	}
	call, ps, err := c.load(ctx, callID)
	if err != nil {
		return Snapshot{}, err
	}
	from := Status(call.Status)
	if _, err := Next(from, e); err != nil {
		return snapshot(call, ps), nil
	}
	now := c.now().UTC()
	patch := models.CallPatch{EndedAt: &now}
	if reason != "" {
		patch.EndReason = &reason
	}
	ok, err := c.commit(ctx, callID, from, e, patch)
	if err != nil {
		return Snapshot{}, err
	}
	if call, ps, err = c.load(ctx, callID); err != nil || !ok {
		return snapshot(call, ps), err
	}
	return snapshot(call, ps), c.notify(ctx, envelope.CallEnded, envelope.CallUpdatePayload{
		CallID:     callID,
		CallStatus: call.Status,
		Reason:     reason,
	}, all(ps))
}

// Relay forwards an opaque signaling blob from one participant to
// another. Delivery is best-effort.
func (c *Coordinator) Relay(ctx context.Context, callID, fromUserID, toUserID string, kind envelope.Type, blob json.RawMessage) (err error) {
	ctx, span := c.span(ctx, "call.Relay", callID, fromUserID)
	defer func() { telemetry.End(span, err) }()

	if kind != envelope.CallSignal && kind != envelope.CallICECandidate {
		return fmt.Errorf("relay %s: %w", kind, apperr.ErrInvalid)
	}
	if len(blob) == 0 {
		return fmt.Errorf("relay %s: empty payload: %w", kind, apperr.ErrInvalid)
	}
	if _, err := c.store.CallByID(ctx, callID); err != nil {
		return err
	}
	ps, err := c.store.Participants(ctx, callID)
	if err != nil {
		return err
	}
	if _, ok := find(ps, fromUserID); !ok {
		return notParticipant(callID, fromUserID)
	}
	if _, ok := find(ps, toUserID); !ok {
		return fmt.Errorf("relay target %s not in call %s: %w", toUserID, callID, apperr.ErrForbidden)
	}

	payload := envelope.SignalPayload{CallID: callID, FromUserID: fromUserID}
	if kind == envelope.CallICECandidate {
		payload.Candidate = blob
	} else {
		payload.Signal = blob
	}
	env, err := envelope.New(kind, payload)
	if err != nil {
		return err
	}
	c.pub.BestEffort(ctx, envelope.UserTopic(toUserID), env)
	return nil
}

// History lists calls of the user's chats, newest first.
func (c *Coordinator) History(ctx context.Context, userID string, limit, offset int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	calls, err := c.store.CallsForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(calls))
	for _, call := range calls {
		ps, err := c.store.Participants(ctx, call.ID)
		if err != nil {
			return nil, err
		}
		status := Status(call.Status)
		out = append(out, HistoryEntry{
			Snapshot: snapshot(call, ps),
			IsMissed: status == Missed || (status == Rejected && call.CallerID != userID),
		})
	}
	return out, nil
}

func (c *Coordinator) Credentials(_ context.Context, userID string) (turn.Credential, error) {
	return c.creds.Issue(userID)
}

// Close stops pending ring timers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

func (c *Coordinator) scheduleRing(callID string) {
	if c.ring <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.timers[callID] = time.AfterFunc(c.ring, func() {
		c.mu.Lock()
		delete(c.timers, callID)
		c.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.Expire(ctx, callID); err != nil {
			log.Error().Err(err).Str("call_id", callID).Msg("ring timeout")
		}
	})
}

func (c *Coordinator) cancelRing(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[callID]; ok {
		t.Stop()
		delete(c.timers, callID)
	}
}

// commit writes the call transition e from exactly `from`. It reports
// false when another writer changed the status first.
func (c *Coordinator) commit(ctx context.Context, callID string, from Status, e Event, patch models.CallPatch) (bool, error) {
	to, err := Next(from, e)
	if err != nil {
		return false, err
	}
	ok, err := c.store.TransitionCall(ctx, callID, []string{string(from)}, string(to), patch)
	if err != nil {
		return false, fmt.Errorf("call %s %s→%s: %w", callID, from, to, err)
	}
	if !ok {
		metrics.CallTransitionsTotal.WithLabelValues(string(to), "lost").Inc()
		log.Debug().Str("call_id", callID).Str("from", string(from)).Str("to", string(to)).Msg("call transition lost race")
		return false, nil
	}
	metrics.CallTransitionsTotal.WithLabelValues(string(to), "ok").Inc()
	if from == Initiated {
		c.cancelRing(callID)
	}
	return true, nil
}

func (c *Coordinator) moveParticipant(ctx context.Context, callID, userID string, from ParticipantStatus, e Event, patch models.ParticipantPatch) (bool, error) {
	to, err := NextParticipant(from, e)
	if err != nil {
		return false, err
	}
	ok, err := c.store.TransitionParticipant(ctx, callID, userID, []string{string(from)}, string(to), patch)
	if err != nil {
		return false, fmt.Errorf("participant %s of %s %s→%s: %w", userID, callID, from, to, err)
	}
	return ok, nil
}

func (c *Coordinator) load(ctx context.Context, callID string) (models.Call, []models.CallParticipant, error) {
	call, err := c.store.CallByID(ctx, callID)
	if err != nil {
		return models.Call{}, nil, err
	}
	ps, err := c.store.Participants(ctx, callID)
	return call, ps, err
}

func (c *Coordinator) reload(ctx context.Context, callID string) (Snapshot, error) {
	call, ps, err := c.load(ctx, callID)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshot(call, ps), nil
}

// notify publishes one envelope to the user topic of each id, reliably.
func (c *Coordinator) notify(ctx context.Context, t envelope.Type, payload any, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	env, err := envelope.New(t, payload)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range userIDs {
		if err := c.pub.Reliable(ctx, envelope.UserTopic(id), env); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func notParticipant(callID, userID string) error {
	return fmt.Errorf("user %s not in call %s: %w", userID, callID, apperr.ErrForbidden)
}

func find(ps []models.CallParticipant, userID string) (models.CallParticipant, bool) {
	for _, p := range ps {
		if p.UserID == userID {
			return p, true
		}
	}
	return models.CallParticipant{}, false
}

func others(ps []models.CallParticipant, userID string) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		if p.UserID != userID {
			out = append(out, p.UserID)
		}
	}
	return out
}

func all(ps []models.CallParticipant) []string { return others(ps, "") }

func count(ps []models.CallParticipant, s ParticipantStatus) int {
	n := 0
	for _, p := range ps {
		if ParticipantStatus(p.Status) == s {
			n++
		}
	}
	return n
}

// allDeclined reports whether every participant but the caller has
// rejected or left.
func allDeclined(ps []models.CallParticipant, callerID string) bool {
	for _, p := range ps {
		if p.UserID == callerID {
			continue
		}
		if s := ParticipantStatus(p.Status); s != Declined && s != Left {
			return false
		}
	}
	return true
}
