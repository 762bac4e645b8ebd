package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatrelay/internal/fanout"

	"github.com/nats-io/nats.go"
)

// DefaultNodeTTL is how long a node counts as alive after its last beat.
const DefaultNodeTTL = 30 * time.Second

// Directory records how many live connections each node holds for a user
// and answers with the cluster-wide total. Counts held by a node that
// stopped beating for longer than the node TTL are ignored and pruned.
type Directory interface {
	// Set stores count for (user, node) and returns the user's aggregate
	// count before and after the write, atomically with it. Set also marks
	// nodeID alive.
	Set(ctx context.Context, userID, nodeID string, count int) (before, after int, err error)
	Count(ctx context.Context, userID string) (int, error)
	// Beat keeps nodeID alive for another node TTL.
	Beat(ctx context.Context, nodeID string) error
	// DropNode marks nodeID gone at once; whatever it still holds stops
	// counting.
	DropNode(ctx context.Context, nodeID string) error
}

func sum(nodes map[string]int) int {
	n := 0
	for _, c := range nodes {
		n += c
	}
	return n
}

func apply(nodes map[string]int, nodeID string, count int) {
	if count > 0 {
		nodes[nodeID] = count
		return
	}
	delete(nodes, nodeID)
}

// MemoryDirectory keeps the table in process. Several trackers may share
// one to stand for several nodes.
type MemoryDirectory struct {
	mu    sync.Mutex
	users map[string]map[string]int
	beats map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryDirectory forgets nodes silent for ttl; zero means
// DefaultNodeTTL.
func NewMemoryDirectory(ttl time.Duration) *MemoryDirectory {
	if ttl <= 0 {
		ttl = DefaultNodeTTL
	}
	return &MemoryDirectory{
		users: make(map[string]map[string]int),
		beats: make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
	}
}

// pruneLocked drops the counts of nodes that are not alive.
func (d *MemoryDirectory) pruneLocked(nodes map[string]int) {
	now := d.now()
	for id := range nodes {
		if at, ok := d.beats[id]; !ok || now.Sub(at) >= d.ttl {
			delete(nodes, id)
		}
	}
}

func (d *MemoryDirectory) Set(_ context.Context, userID, nodeID string, count int) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beats[nodeID] = d.now()
	nodes := d.users[userID]
	if nodes == nil {
		nodes = make(map[string]int)
		d.users[userID] = nodes
	}
	d.pruneLocked(nodes)
	before := sum(nodes)
	apply(nodes, nodeID, count)
	after := sum(nodes)
	if after == 0 {
		delete(d.users, userID)
	}
	return before, after, nil
}

func (d *MemoryDirectory) Count(_ context.Context, userID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes := d.users[userID]
	d.pruneLocked(nodes)
	if len(nodes) == 0 {
		delete(d.users, userID)
	}
	return sum(nodes), nil
}

func (d *MemoryDirectory) Beat(_ context.Context, nodeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beats[nodeID] = d.now()
	return nil
}

func (d *MemoryDirectory) DropNode(_ context.Context, nodeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.beats, nodeID)
	for u, nodes := range d.users {
		delete(nodes, nodeID)
		if len(nodes) == 0 {
			delete(d.users, u)
		}
	}
	return nil
}

// maxCASAttempts bounds the optimistic retry loop of KVDirectory.Set.
const maxCASAttempts = 8

// KVDirectory stores one JSON object {nodeID: count} per user in a NATS
// JetStream key-value bucket. Writes are revision-guarded so nodes racing
// on the same user never lose each other's counts.
//
// Node liveness lives in a second bucket whose entries expire after the
// node TTL; a node missing from it is dead and its counts are pruned on
// the next write of each user it held.
type KVDirectory struct {
	kv    nats.KeyValue
	nodes nats.KeyValue
	ttl   time.Duration

	mu    sync.Mutex
	beats map[string]time.Time
	now   func() time.Time
}

// NewKVDirectory binds bucket and its node liveness bucket, creating them
// on first use.
func NewKVDirectory(nc *nats.Conn, bucket string, ttl time.Duration) (*KVDirectory, error) {
	if ttl <= 0 {
		ttl = DefaultNodeTTL
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := bindBucket(js, &nats.KeyValueConfig{
		Bucket:      bucket,
		Description: "live connection counts per user and node",
		History:     1,
	})
	if err != nil {
		return nil, err
	}
	nodes, err := bindBucket(js, &nats.KeyValueConfig{
		Bucket:      bucket + "_nodes",
		Description: "presence node heartbeats",
		History:     1,
		TTL:         ttl,
	})
	if err != nil {
		return nil, err
	}
	return &KVDirectory{kv: kv, nodes: nodes, ttl: ttl, beats: make(map[string]time.Time), now: time.Now}, nil
}

func bindBucket(js nats.JetStreamContext, cfg *nats.KeyValueConfig) (nats.KeyValue, error) {
	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("presence bucket %s: %w", cfg.Bucket, err)
	}
	return kv, nil
}

func (d *KVDirectory) load(userID string) (map[string]int, uint64, error) {
	nodes := make(map[string]int)
	entry, err := d.kv.Get(userID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nodes, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: presence get: %v", fanout.ErrTransientBroker, err)
	}
	if len(entry.Value()) > 0 {
		if err := json.Unmarshal(entry.Value(), &nodes); err != nil {
			return nil, 0, fmt.Errorf("presence entry %s: %w", userID, err)
		}
	}
	return nodes, entry.Revision(), nil
}

// prune drops the counts of nodes other than self whose heartbeat expired.
func (d *KVDirectory) prune(nodes map[string]int, self string) error {
	for id := range nodes {
		if id == self {
			continue
		}
		_, err := d.nodes.Get(id)
		if errors.Is(err, nats.ErrKeyNotFound) {
			delete(nodes, id)
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: presence node %s: %v", fanout.ErrTransientBroker, id, err)
		}
	}
	return nil
}

func (d *KVDirectory) Set(ctx context.Context, userID, nodeID string, count int) (int, int, error) {
	if err := d.beatIfDue(ctx, nodeID); err != nil {
		return 0, 0, err
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		nodes, rev, err := d.load(userID)
		if err != nil {
			return 0, 0, err
		}
		if err := d.prune(nodes, nodeID); err != nil {
			return 0, 0, err
		}
		before := sum(nodes)
		apply(nodes, nodeID, count)
		data, err := json.Marshal(nodes)
		if err != nil {
			return 0, 0, err
		}
		if rev == 0 {
			_, err = d.kv.Create(userID, data)
		} else {
			_, err = d.kv.Update(userID, data, rev)
		}
		if err == nil {
			return before, sum(nodes), nil
		}
		if !casConflict(err) {
			return 0, 0, fmt.Errorf("%w: presence put: %v", fanout.ErrTransientBroker, err)
		}
	}
	return 0, 0, fmt.Errorf("%w: presence %s: too much contention", fanout.ErrTransientBroker, userID)
}

func (d *KVDirectory) Count(_ context.Context, userID string) (int, error) {
	nodes, _, err := d.load(userID)
	if err != nil {
		return 0, err
	}
	if err := d.prune(nodes, ""); err != nil {
		return 0, err
	}
	return sum(nodes), nil
}

func (d *KVDirectory) Beat(_ context.Context, nodeID string) error {
	at := d.now()
	if _, err := d.nodes.Put(nodeID, []byte(at.UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("%w: presence beat: %v", fanout.ErrTransientBroker, err)
	}
	d.mu.Lock()
	d.beats[nodeID] = at
	d.mu.Unlock()
	return nil
}

// beatIfDue refreshes nodeID when a third of the TTL passed since its last
// beat from this process.
func (d *KVDirectory) beatIfDue(ctx context.Context, nodeID string) error {
	d.mu.Lock()
	last, ok := d.beats[nodeID]
	d.mu.Unlock()
	if ok && d.now().Sub(last) < d.ttl/3 {
		return nil
	}
	return d.Beat(ctx, nodeID)
}

func (d *KVDirectory) DropNode(_ context.Context, nodeID string) error {
	d.mu.Lock()
	delete(d.beats, nodeID)
	d.mu.Unlock()
	if err := d.nodes.Delete(nodeID); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("%w: presence drop %s: %v", fanout.ErrTransientBroker, nodeID, err)
	}
	return nil
}

func casConflict(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}
