package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/apperr"
	"chatrelay/internal/envelope"
	"chatrelay/internal/fanout"
	"chatrelay/internal/fanout/fanouttest"
	"chatrelay/internal/metrics"
	"chatrelay/internal/store/memstore"
	"chatrelay/internal/turn"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	st  *memstore.Store
	rec *fanouttest.Recorder
	clk *clock
	co  *Coordinator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st := memstore.New()
	st.AddChat("d1", "a", "b")
	st.AddChat("g", "c", "d", "e")
	st.AddChat("g2", "a", "b", "c")
	st.AddChat("solo", "a")
	st.AddChat("other", "x")

	b := fanout.NewLocal()
	rec := fanouttest.NewRecorder()
	for _, u := range []string{"a", "b", "c", "d", "e", "x"} {
		rec.Watch(t, b, envelope.UserTopic(u))
	}
	rec.Watch(t, b, envelope.ChatTopic("d1"), envelope.ChatTopic("g"), envelope.ChatTopic("g2"))

	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	co := NewCoordinator(st, fanout.NewPublisher(b, fanout.DefaultBackoff), turn.NewIssuer("secret", "turn.test", 0), opts)
	co.now = clk.Now
	t.Cleanup(co.Close)
	return &fixture{st: st, rec: rec, clk: clk, co: co}
}

func (f *fixture) initiate(t *testing.T, caller, chat string) Snapshot {
	t.Helper()
	snap, err := f.co.Initiate(context.Background(), caller, chat, Audio)
	if err != nil {
		t.Fatalf("Initiate(%s, %s) error = %v", caller, chat, err)
	}
	return snap
}

func (f *fixture) stored(t *testing.T, callID string) Snapshot {
	t.Helper()
	snap, err := f.co.reload(context.Background(), callID)
	if err != nil {
		t.Fatalf("reload(%s) error = %v", callID, err)
	}
	return snap
}

func (f *fixture) last(t *testing.T, user string) envelope.CallUpdatePayload {
	t.Helper()
	envs := f.rec.On(envelope.UserTopic(user))
	if len(envs) == 0 {
		t.Fatalf("user %s received nothing", user)
	}
	var p envelope.CallUpdatePayload
	if err := envs[len(envs)-1].Into(&p); err != nil {
		t.Fatal(err)
	}
	return p
}

func participant(s Snapshot, user string) ParticipantStatus {
	for _, p := range s.Participants {
		if p.UserID == user {
			return p.Status
		}
	}
	return ""
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitiate(t *testing.T) {
	f := newFixture(t, Options{})
	snap, err := f.co.Initiate(context.Background(), "c", "g", Video)
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	if snap.Status != Initiated || snap.Type != Video || snap.CallerID != "c" {
		t.Errorf("snapshot = %+v, want initiated video call by c", snap)
	}
	if snap.Credential == nil || len(snap.Credential.URLs) != 3 {
		t.Errorf("Credential = %+v, want relay credentials", snap.Credential)
	}
	want := map[string]ParticipantStatus{"c": Joined, "d": Invited, "e": Invited}
	for user, status := range want {
		if got := participant(snap, user); got != status {
			t.Errorf("participant %s = %s, want %s", user, got, status)
		}
	}
	for _, u := range []string{"d", "e"} {
		envs := f.rec.On(envelope.UserTopic(u))
		if len(envs) != 1 || envs[0].Type != envelope.CallIncoming {
			t.Fatalf("user %s got %v, want one call:incoming", u, f.rec.Types(envelope.UserTopic(u)))
		}
		var p envelope.CallIncomingPayload
		if err := envs[0].Into(&p); err != nil {
			t.Fatal(err)
		}
		wantP := envelope.CallIncomingPayload{CallID: snap.ID, ChatID: "g", CallType: "video", CallerID: "c"}
		if p != wantP {
			t.Errorf("payload = %+v, want %+v", p, wantP)
		}
	}
	if got := len(f.rec.On(envelope.UserTopic("c"))); got != 0 {
		t.Errorf("caller got %d events, want 0", got)
	}
}

func TestInitiate_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	tests := []struct {
		name    string
		caller  string
		chat    string
		typ     Type
		wantErr error
	}{
		{"unknown type", "a", "d1", "screen", apperr.ErrInvalid},
		{"not a member", "x", "d1", Audio, apperr.ErrForbidden},
		{"missing chat", "a", "nope", Audio, apperr.ErrNotFound},
		{"nobody to call", "a", "solo", Audio, apperr.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.co.Initiate(context.Background(), tt.caller, tt.chat, tt.typ)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Initiate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if got := f.rec.Total(); got != 0 {
		t.Errorf("events = %d, want 0", got)
	}
}

func TestReject_AllInviteesDecline(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	call := f.initiate(t, "c", "g")

	snap, err := f.co.Reject(ctx, call.ID, "d", "")
	if err != nil {
		t.Fatalf("Reject(d) error = %v", err)
	}
	if snap.Status != Initiated || participant(snap, "d") != Declined {
		t.Errorf("after d: status %s, d %s, want initiated and rejected", snap.Status, participant(snap, "d"))
	}
	if p := f.last(t, "c"); p.CallStatus != "initiated" || p.UserID != "d" || p.Reason != "rejected" {
		t.Errorf("caller event = %+v, want d rejected with call still initiated", p)
	}

	snap, err = f.co.Reject(ctx, call.ID, "e", "busy")
	if err != nil {
		t.Fatalf("Reject(e) error = %v", err)
	}
	if snap.Status != Rejected {
		t.Errorf("after e: status %s, want rejected", snap.Status)
	}
	if snap.EndReason == nil || *snap.EndReason != "busy" || snap.EndedAt == nil {
		t.Errorf("EndReason = %v, EndedAt = %v, want busy and set", snap.EndReason, snap.EndedAt)
	}
	if p := f.last(t, "c"); p.CallStatus != "rejected" || p.UserID != "e" {
		t.Errorf("caller event = %+v, want e rejected with call rejected", p)
	}
	if got := f.rec.Count(envelope.UserTopic("c"), envelope.CallRejected); got != 2 {
		t.Errorf("caller got %d call:rejected, want 2", got)
	}
}

func TestReject_Concurrent(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, Options{})
		call := f.initiate(t, "c", "g")
		var wg sync.WaitGroup
		for _, u := range []string{"d", "e"} {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				if _, err := f.co.Reject(context.Background(), call.ID, u, ""); err != nil {
					t.Error(err)
				}
			}(u)
		}
		wg.Wait()
		if got := f.stored(t, call.ID).Status; got != Rejected {
			t.Fatalf("status after concurrent rejects = %s, want rejected", got)
		}
	}
}

func TestReject_CallerIsInvalid(t *testing.T) {
	f := newFixture(t, Options{})
	call := f.initiate(t, "a", "d1")
	if _, err := f.co.Reject(context.Background(), call.ID, "a", ""); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Reject(caller) error = %v, want ErrInvalid", err)
	}
	if _, err := f.co.Reject(context.Background(), call.ID, "x", ""); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Reject(stranger) error = %v, want ErrForbidden", err)
	}
}

func TestReject_AfterAcceptIsNoop(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	call := f.initiate(t, "a", "d1")
	if _, err := f.co.Accept(ctx, call.ID, "b"); err != nil {
		t.Fatal(err)
	}
	snap, err := f.co.Reject(ctx, call.ID, "b", "")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if snap.Status != Accepted || participant(snap, "b") != Joined {
		t.Errorf("snapshot = %s / %s, want accepted / accepted", snap.Status, participant(snap, "b"))
	}
	if got := f.rec.Count(envelope.UserTopic("a"), envelope.CallRejected); got != 0 {
		t.Errorf("call:rejected events = %d, want 0", got)
	}
}

func TestAccept(t *testing.T) {
	f := newFixture(t, Options{})
	call := f.initiate(t, "a", "d1")
	f.clk.Advance(3 * time.Second)

	snap, err := f.co.Accept(context.Background(), call.ID, "b")
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if snap.Status != Accepted || snap.StartedAt == nil || !snap.StartedAt.Equal(f.clk.Now()) {
		t.Errorf("snapshot = %s started %v, want accepted at %v", snap.Status, snap.StartedAt, f.clk.Now())
	}
	if snap.Credential == nil || snap.Credential.Username == "" {
		t.Error("accepting participant got no relay credentials")
	}
	if p := f.last(t, "a"); p.CallStatus != "accepted" || p.UserID != "b" {
		t.Errorf("caller event = %+v, want b accepted", p)
	}
	if got := f.rec.Count(envelope.UserTopic("b"), envelope.CallAccepted); got != 0 {
		t.Errorf("acceptor got %d call:accepted, want 0", got)
	}

	// a repeated answer changes nothing
	again, err := f.co.Accept(context.Background(), call.ID, "b")
	if err != nil || again.Status != Accepted {
		t.Errorf("second Accept() = %s, %v", again.Status, err)
	}
	if got := f.rec.Count(envelope.UserTopic("a"), envelope.CallAccepted); got != 1 {
		t.Errorf("call:accepted events = %d, want 1", got)
	}
}

func TestAccept_ConcurrentStartsOnce(t *testing.T) {
	f := newFixture(t, Options{})
	call := f.initiate(t, "a", "g2")
	started := metrics.CallTransitionsTotal.WithLabelValues(string(Accepted), "ok")
	before := testutil.ToFloat64(started)

	var wg sync.WaitGroup
	for _, u := range []string{"b", "c"} {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if _, err := f.co.Accept(context.Background(), call.ID, u); err != nil {
				t.Error(err)
			}
		}(u)
	}
	wg.Wait()

	if got := testutil.ToFloat64(started) - before; got != 1 {
		t.Errorf("initiated→accepted commits = %v, want 1", got)
	}
	snap := f.stored(t, call.ID)
	if snap.Status != Accepted || snap.StartedAt == nil {
		t.Errorf("stored = %s started %v, want accepted", snap.Status, snap.StartedAt)
	}
	for _, u := range []string{"b", "c"} {
		if got := participant(snap, u); got != Joined {
			t.Errorf("participant %s = %s, want accepted", u, got)
		}
	}
	if got := f.rec.Count(envelope.UserTopic("a"), envelope.CallAccepted); got != 2 {
		t.Errorf("caller got %d call:accepted, want 2", got)
	}
}

func TestAccept_AfterEnd(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	call := f.initiate(t, "a", "d1")
	if _, err := f.co.End(ctx, call.ID, "a"); err != nil {
		t.Fatal(err)
	}
	f.rec.Reset()

	snap, err := f.co.Accept(ctx, call.ID, "b")
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if snap.Status != Ended || snap.Credential != nil {
		t.Errorf("snapshot = %s with credential %v, want ended without", snap.Status, snap.Credential)
	}
	if got := f.rec.Total(); got != 0 {
		t.Errorf("events = %d, want 0", got)
	}
}

func TestEnd_RecordsDurationAndSummary(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	call := f.initiate(t, "a", "d1")
	f.clk.Advance(5 * time.Second)
	if _, err := f.co.Accept(ctx, call.ID, "b"); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(90 * time.Second)

	snap, err := f.co.End(ctx, call.ID, "a")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if snap.Status != Ended || snap.DurationSeconds == nil || *snap.DurationSeconds != 90 {
		t.Fatalf("snapshot = %s duration %v, want ended after 90s", snap.Status, snap.DurationSeconds)
	}
	if got := int(snap.EndedAt.Sub(*snap.StartedAt) / time.Second); got != *snap.DurationSeconds {
		t.Errorf("endedAt - startedAt = %ds, duration = %d", got, *snap.DurationSeconds)
	}

	p := f.last(t, "b")
	if p.CallStatus != "ended" || p.DurationSeconds == nil || *p.DurationSeconds != 90 {
		t.Errorf("b's call:ended = %+v, want ended with 90s", p)
	}

	msgs := f.st.Messages("d1")
	if len(msgs) != 1 || msgs[0].Type != "call" || msgs[0].SenderID != "a" {
		t.Fatalf("chat transcript = %+v, want one call summary from a", msgs)
	}
	var sum Summary
	if err := json.Unmarshal([]byte(msgs[0].Content), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.CallID != call.ID || sum.Status != Ended || sum.Duration == nil || *sum.Duration != 90 {
		t.Errorf("summary = %+v", sum)
	}
	if got := f.rec.Count(envelope.ChatTopic("d1"), envelope.MessageNew); got != 1 {
		t.Errorf("message:new on chat = %d, want 1", got)
	}
	m, _ := f.st.Member(ctx, "d1", "b")
	if m.UnreadCount != 0 {
		t.Errorf("summary bumped unread to %d", m.UnreadCount)
	}

	// the other side hanging up afterwards is a no-op
	f.rec.Reset()
	if _, err := f.co.End(ctx, call.ID, "b"); err != nil {
		t.Fatal(err)
	}
	if got := f.rec.Total(); got != 0 || len(f.st.Messages("d1")) != 1 {
		t.Errorf("second End emitted %d events, transcript %d messages", got, len(f.st.Messages("d1")))
	}
}

func TestEnd_GroupContinuesWhileTwoRemain(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	call := f.initiate(t, "a", "g2")
	for _, u := range []string{"b", "c"} {
		if _, err := f.co.Accept(ctx, call.ID, u); err != nil {
			t.Fatal(err)
		}
	}

	snap, err := f.co.End(ctx, call.ID, "b")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != Accepted || participant(snap, "b") != Left {
		t.Errorf("after b leaves: %s, b %s, want accepted and left", snap.Status, participant(snap, "b"))
	}
	if p := f.last(t, "c"); p.CallStatus != "accepted" || p.UserID != "b" {
		t.Errorf("c's event = %+v, want b left an ongoing call", p)
	}

	snap, err = f.co.End(ctx, call.ID, "c")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != Ended {
		t.Errorf("after c leaves: %s, want ended", snap.Status)
	}
	if got := len(f.st.Messages("g2")); got != 1 {
		t.Errorf("summaries = %d, want 1", got)
	}
}

func TestEnd_Unanswered(t *testing.T) {
	f := newFixture(t, Options{})
	call := f.initiate(t, "a", "d1")
	snap, err := f.co.End(context.Background(), call.ID, "a")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != Ended || snap.DurationSeconds != nil {
		t.Errorf("snapshot = %s duration %v, want ended without duration", snap.Status, snap.DurationSeconds)
	}
	if p := f.last(t, "b"); p.CallStatus != "ended" {
		t.Errorf("b's event = %+v, want ended", p)
	}
}

func TestRelay(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	call := f.initiate(t, "a", "d1")
	f.rec.Reset()
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	tests := []struct {
		name    string
		from    string
		to      string
		kind    envelope.Type
		blob    json.RawMessage
		wantErr error
	}{
		{"sender not in call", "x", "b", envelope.CallSignal, offer, apperr.ErrForbidden},
		{"target not in call", "a", "x", envelope.CallSignal, offer, apperr.ErrForbidden},
		{"empty blob", "a", "b", envelope.CallSignal, nil, apperr.ErrInvalid},
		{"not a signal", "a", "b", envelope.MessageNew, offer, apperr.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.co.Relay(ctx, call.ID, tt.from, tt.to, tt.kind, tt.blob)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Relay() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if got := f.rec.Total(); got != 0 {
		t.Fatalf("rejected relays emitted %d envelopes", got)
	}
	if err := f.co.Relay(ctx, "nope", "a", "b", envelope.CallSignal, offer); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Relay(missing call) error = %v, want ErrNotFound", err)
	}

	if err := f.co.Relay(ctx, call.ID, "a", "b", envelope.CallSignal, offer); err != nil {
		t.Fatalf("Relay() error = %v", err)
	}
	cand := json.RawMessage(`{"candidate":"candidate:1 1 UDP 1 10.0.0.1 5000 typ host"}`)
	if err := f.co.Relay(ctx, call.ID, "b", "a", envelope.CallICECandidate, cand); err != nil {
		t.Fatalf("Relay(candidate) error = %v", err)
	}

	envs := f.rec.On(envelope.UserTopic("b"))
	if len(envs) != 1 || envs[0].Type != envelope.CallSignal {
		t.Fatalf("b got %v, want one call:signal", f.rec.Types(envelope.UserTopic("b")))
	}
	var p envelope.SignalPayload
	if err := envs[0].Into(&p); err != nil {
		t.Fatal(err)
	}
	if p.CallID != call.ID || p.FromUserID != "a" || string(p.Signal) != string(offer) {
		t.Errorf("signal = %+v", p)
	}
	if got := f.rec.Count(envelope.UserTopic("a"), envelope.CallICECandidate); got != 1 {
		t.Errorf("a got %d ice candidates, want 1", got)
	}
}

func TestExpire(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	call := f.initiate(t, "a", "d1")

	snap, err := f.co.Expire(ctx, call.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != Missed || snap.EndReason == nil || *snap.EndReason != "no_answer" {
		t.Errorf("snapshot = %s reason %v, want missed no_answer", snap.Status, snap.EndReason)
	}
	for _, u := range []string{"a", "b"} {
		if p := f.last(t, u); p.CallStatus != "missed" {
			t.Errorf("user %s event = %+v, want missed", u, p)
		}
	}

	answered := f.initiate(t, "a", "d1")
	f.co.Accept(ctx, answered.ID, "b")
	f.rec.Reset()
	snap, err = f.co.Expire(ctx, answered.ID)
	if err != nil || snap.Status != Accepted {
		t.Errorf("Expire(answered) = %s, %v, want accepted", snap.Status, err)
	}
	if got := f.rec.Total(); got != 0 {
		t.Errorf("events = %d, want 0", got)
	}
}

func TestRingTimeout(t *testing.T) {
	f := newFixture(t, Options{RingTimeout: 20 * time.Millisecond})
	call := f.initiate(t, "a", "d1")
	waitFor(t, "call:ended on both sides", func() bool {
		return f.rec.Count(envelope.UserTopic("a"), envelope.CallEnded) == 1 &&
			f.rec.Count(envelope.UserTopic("b"), envelope.CallEnded) == 1
	})
	if got := f.stored(t, call.ID).Status; got != Missed {
		t.Errorf("status = %s, want missed", got)
	}
}

func TestRingTimeout_CancelledByAnswer(t *testing.T) {
	f := newFixture(t, Options{RingTimeout: 30 * time.Millisecond})
	call := f.initiate(t, "a", "d1")
	if _, err := f.co.Accept(context.Background(), call.ID, "b"); err != nil {
		t.Fatal(err)
	}
	f.co.mu.Lock()
	pending := len(f.co.timers)
	f.co.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending ring timers = %d, want 0", pending)
	}
	time.Sleep(80 * time.Millisecond)
	if got := f.stored(t, call.ID).Status; got != Accepted {
		t.Errorf("status = %s, want accepted", got)
	}
}

func TestSetPolicyStatus(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	call := f.initiate(t, "a", "d1")

	if _, err := f.co.SetPolicyStatus(ctx, call.ID, Ended, ""); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("SetPolicyStatus(ended) error = %v, want ErrInvalid", err)
	}
	snap, err := f.co.SetPolicyStatus(ctx, call.ID, Busy, "callee_busy")
	if err != nil || snap.Status != Busy {
		t.Fatalf("SetPolicyStatus(busy) = %s, %v", snap.Status, err)
	}
	for _, u := range []string{"a", "b"} {
		if p := f.last(t, u); p.CallStatus != "busy" || p.Reason != "callee_busy" {
			t.Errorf("user %s event = %+v, want busy", u, p)
		}
	}
	f.rec.Reset()
	snap, err = f.co.SetPolicyStatus(ctx, call.ID, Failed, "")
	if err != nil || snap.Status != Busy || f.rec.Total() != 0 {
		t.Errorf("SetPolicyStatus on terminal call = %s, %v, %d events", snap.Status, err, f.rec.Total())
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	rejected := f.initiate(t, "a", "d1")
	f.co.Reject(ctx, rejected.ID, "b", "")
	f.clk.Advance(time.Minute)
	missed := f.initiate(t, "a", "d1")
	f.co.Expire(ctx, missed.ID)
	f.clk.Advance(time.Minute)
	ended := f.initiate(t, "b", "d1")
	f.co.Accept(ctx, ended.ID, "a")
	f.co.End(ctx, ended.ID, "b")

	tests := []struct {
		user       string
		limit      int
		offset     int
		wantIDs    []string
		wantMissed []bool
	}{
		{"b", 0, 0, []string{ended.ID, missed.ID, rejected.ID}, []bool{false, true, true}},
		{"a", 0, 0, []string{ended.ID, missed.ID, rejected.ID}, []bool{false, true, false}},
		{"a", 1, 0, []string{ended.ID}, []bool{false}},
		{"a", 500, 2, []string{rejected.ID}, []bool{false}},
		{"x", 0, 0, nil, nil},
	}
	for _, tt := range tests {
		got, err := f.co.History(ctx, tt.user, tt.limit, tt.offset)
		if err != nil {
			t.Fatalf("History(%s) error = %v", tt.user, err)
		}
		if len(got) != len(tt.wantIDs) {
			t.Fatalf("History(%s, %d, %d) returned %d calls, want %d", tt.user, tt.limit, tt.offset, len(got), len(tt.wantIDs))
		}
		for i := range got {
			if got[i].ID != tt.wantIDs[i] || got[i].IsMissed != tt.wantMissed[i] {
				t.Errorf("History(%s)[%d] = %s missed %v, want %s missed %v", tt.user, i, got[i].ID, got[i].IsMissed, tt.wantIDs[i], tt.wantMissed[i])
			}
		}
	}
}
