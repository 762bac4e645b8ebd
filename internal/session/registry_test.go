package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatrelay/internal/apperr"
	"chatrelay/internal/envelope"
	"chatrelay/internal/fanout"
	"chatrelay/internal/store/memstore"
)

type fakeConn struct {
	id, user, device string
	at               time.Time
	mu               sync.Mutex
	got              []envelope.Envelope
	full             bool
}

func newConn(id, user string) *fakeConn {
	return &fakeConn{id: id, user: user, device: "dev-" + id, at: time.Now()}
}

func (c *fakeConn) ID() string             { return c.id }
func (c *fakeConn) UserID() string         { return c.user }
func (c *fakeConn) DeviceID() string       { return c.device }
func (c *fakeConn) ConnectedAt() time.Time { return c.at }

func (c *fakeConn) Deliver(env envelope.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.got = append(c.got, env)
	return true
}

func (c *fakeConn) received() []envelope.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]envelope.Envelope(nil), c.got...)
}

func newRegistry(t *testing.T) (*Registry, *fanout.Local, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	st.AddChat("c1", "u1", "u2")
	st.AddChat("c2", "u1")
	b := fanout.NewLocal()
	return NewRegistry(b, st), b, st
}

func mustEnvelope(t *testing.T, typ envelope.Type) envelope.Envelope {
	t.Helper()
	env, err := envelope.New(typ, envelope.TypingPayload{ChatID: "c1", UserID: "u2"})
	if err != nil {
		t.Fatalf("envelope.New() error = %v", err)
	}
	return env
}

func TestRegister_CountsAndTopics(t *testing.T) {
	r, b, _ := newRegistry(t)
	ctx := context.Background()

	n, err := r.Register(ctx, newConn("a", "u1"))
	if err != nil || n != 1 {
		t.Fatalf("Register(a) = %d, %v, want 1, nil", n, err)
	}
	n, err = r.Register(ctx, newConn("b", "u1"))
	if err != nil || n != 2 {
		t.Fatalf("Register(b) = %d, %v, want 2, nil", n, err)
	}

	want := []string{"chat:c1", "chat:c2", "user:u1"}
	if got := r.Topics("a"); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Topics(a) = %v, want %v", got, want)
	}
	// one bridge subscription per topic, however many local listeners
	if got := b.Subscribers("chat:c1"); got != 1 {
		t.Errorf("Subscribers(chat:c1) = %d, want 1", got)
	}
}

func TestRegister_DuplicateID(t *testing.T) {
	r, _, _ := newRegistry(t)
	if _, err := r.Register(context.Background(), newConn("a", "u1")); err != nil {
		t.Fatal(err)
	}
	_, err := r.Register(context.Background(), newConn("a", "u1"))
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Register(dup) error = %v, want ErrInvalid", err)
	}
	if got := r.LiveCount("u1"); got != 1 {
		t.Errorf("LiveCount() = %d, want 1", got)
	}
}

func TestUnregister(t *testing.T) {
	r, b, _ := newRegistry(t)
	ctx := context.Background()
	r.Register(ctx, newConn("a", "u1"))
	r.Register(ctx, newConn("b", "u1"))

	if user, n := r.Unregister("a"); user != "u1" || n != 1 {
		t.Errorf("Unregister(a) = %q, %d, want u1, 1", user, n)
	}
	if user, n := r.Unregister("b"); user != "u1" || n != 0 {
		t.Errorf("Unregister(b) = %q, %d, want u1, 0", user, n)
	}
	if user, n := r.Unregister("b"); user != "" || n != 0 {
		t.Errorf("Unregister(unknown) = %q, %d, want \"\", 0", user, n)
	}
	if got := b.Subscribers("user:u1"); got != 0 {
		t.Errorf("Subscribers(user:u1) after last unregister = %d, want 0", got)
	}
	if got := r.users.Len(); got != 0 {
		t.Errorf("keyed locks left = %d, want 0", got)
	}
}

func TestDelivery_FansOutToEveryDevice(t *testing.T) {
	r, b, _ := newRegistry(t)
	ctx := context.Background()
	a, bb, other := newConn("a", "u1"), newConn("b", "u1"), newConn("x", "u2")
	for _, c := range []*fakeConn{a, bb, other} {
		if _, err := r.Register(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	if err := b.Publish(ctx, envelope.UserTopic("u1"), mustEnvelope(t, envelope.CallIncoming)); err != nil {
		t.Fatal(err)
	}
	if len(a.received()) != 1 || len(bb.received()) != 1 {
		t.Errorf("devices of u1 received %d and %d envelopes, want 1 each", len(a.received()), len(bb.received()))
	}
	if len(other.received()) != 0 {
		t.Errorf("u2 received %d envelopes on user:u1, want 0", len(other.received()))
	}
}

func TestDelivery_SkipsOrigin(t *testing.T) {
	r, b, _ := newRegistry(t)
	ctx := context.Background()
	sender, peer := newConn("s", "u2"), newConn("p", "u1")
	r.Register(ctx, sender)
	r.Register(ctx, peer)

	env := mustEnvelope(t, envelope.TypingStart).WithOrigin("s")
	b.Publish(ctx, envelope.ChatTopic("c1"), env)

	if got := len(sender.received()); got != 0 {
		t.Errorf("origin connection received %d envelopes, want 0", got)
	}
	if got := len(peer.received()); got != 1 {
		t.Errorf("peer received %d envelopes, want 1", got)
	}
}

func TestDelivery_DropsDuplicates(t *testing.T) {
	r, b, _ := newRegistry(t)
	ctx := context.Background()
	c := newConn("a", "u1")
	r.Register(ctx, c)

	env := mustEnvelope(t, envelope.MessageStatus)
	b.Publish(ctx, envelope.UserTopic("u1"), env)
	b.Publish(ctx, envelope.UserTopic("u1"), env)

	if got := len(c.received()); got != 1 {
		t.Errorf("received %d copies of one envelope, want 1", got)
	}
}

func TestDelivery_FullBufferDoesNotBlockOthers(t *testing.T) {
	r, b, _ := newRegistry(t)
	ctx := context.Background()
	slow, fast := newConn("slow", "u1"), newConn("fast", "u1")
	slow.full = true
	r.Register(ctx, slow)
	r.Register(ctx, fast)

	b.Publish(ctx, envelope.UserTopic("u1"), mustEnvelope(t, envelope.CallIncoming))
	if got := len(fast.received()); got != 1 {
		t.Errorf("fast connection received %d, want 1", got)
	}
}

func TestSubscribe_MembershipChange(t *testing.T) {
	r, b, st := newRegistry(t)
	ctx := context.Background()
	c := newConn("x", "u2")
	r.Register(ctx, c)

	st.AddMember(ctx, "c2", "u2", "member")
	if err := r.Subscribe("u2", envelope.ChatTopic("c2")); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	b.Publish(ctx, envelope.ChatTopic("c2"), mustEnvelope(t, envelope.TypingStart))
	if got := len(c.received()); got != 1 {
		t.Fatalf("received %d after joining c2, want 1", got)
	}

	r.Unsubscribe("u2", envelope.ChatTopic("c1"))
	b.Publish(ctx, envelope.ChatTopic("c1"), mustEnvelope(t, envelope.TypingStart))
	if got := len(c.received()); got != 1 {
		t.Errorf("received %d after leaving c1, want still 1", got)
	}
}

func TestListConnections(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	first := newConn("a", "u1")
	second := newConn("b", "u1")
	second.at = first.at.Add(time.Second)
	r.Register(ctx, second)
	r.Register(ctx, first)

	got := r.ListConnections("u1")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("ListConnections() = %+v, want a then b", got)
	}
	if got[0].DeviceID != "dev-a" {
		t.Errorf("DeviceID = %q, want dev-a", got[0].DeviceID)
	}
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			if _, err := r.Register(ctx, newConn(id, "u1")); err != nil {
				t.Errorf("Register(%s) error = %v", id, err)
				return
			}
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	if got := r.LiveCount("u1"); got != n/2 {
		t.Errorf("LiveCount() = %d, want %d", got, n/2)
	}
}

func TestKeyedMutex_Serializes(t *testing.T) {
	k := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("u1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
	if k.Len() != 0 {
		t.Errorf("Len() = %d, want 0", k.Len())
	}
}
