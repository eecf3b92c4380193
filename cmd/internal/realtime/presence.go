package realtime

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"fitlink/cmd/internal/friends"
	v1 "fitlink/contracts/realtime/v1"
)

// Status is a user's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
)

// ParseStatus validates a client-supplied status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return Status(s), true
	default:
		return "", false
	}
}

// presenceChecks enables the disjointness assertion after every relationship
// mutation. Tests flip it on; production leaves it off.
var presenceChecks = false

// EnablePresenceChecks turns on post-mutation invariant assertions.
func EnablePresenceChecks() { presenceChecks = true }

// Bucket is the in-memory presence/relationship cache entry for one user.
//
// It is pure cache: created lazily on first connection, hydrated from the
// friend store, evicted when the last connection closes, never persisted.
//
// Concurrency guarantees:
// - All field writes are synchronous under the bucket mutex; no store await
//   is ever interleaved inside a mutation.
// - Attach/Detach are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure) and is panic-safe
//   because Client.Send is never closed by the server.
type Bucket struct {
	UserID int64

	mu       sync.RWMutex
	friends  map[int64]struct{}
	incoming map[int64]struct{}
	outgoing map[int64]struct{}
	blocked  map[int64]struct{}
	status   Status
	hydrated bool
	conns    map[string]*Client
}

func newBucket(userID int64) *Bucket {
	return &Bucket{
		UserID:   userID,
		friends:  make(map[int64]struct{}),
		incoming: make(map[int64]struct{}),
		outgoing: make(map[int64]struct{}),
		blocked:  make(map[int64]struct{}),
		status:   StatusOffline,
		conns:    make(map[string]*Client),
	}
}

// Hydrate replaces the relationship sets wholesale from a store view.
func (b *Bucket) Hydrate(v friends.View) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.friends = idSet(v.Friends)
	b.incoming = idSet(v.Incoming)
	b.outgoing = idSet(v.Outgoing)
	b.blocked = idSet(v.Blocked)
	b.hydrated = true
}

// Hydrated reports whether the bucket holds a store-derived snapshot.
func (b *Bucket) Hydrated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hydrated
}

// Snapshot returns sorted copies of the relationship sets.
func (b *Bucket) Snapshot() friends.View {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return friends.View{
		Friends:  sortedIDs(b.friends),
		Incoming: sortedIDs(b.incoming),
		Outgoing: sortedIDs(b.outgoing),
		Blocked:  sortedIDs(b.blocked),
	}
}

// Attach adds a connection and reports whether it is the user's first.
func (b *Bucket) Attach(c *Client) (first bool) {
	if c == nil || c.SessionID == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	first = len(b.conns) == 0
	b.conns[c.SessionID] = c
	return first
}

// Detach removes a connection and returns how many remain.
func (b *Bucket) Detach(sessionID string) (remaining int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.conns, sessionID)
	return len(b.conns)
}

// ConnCount returns the number of live connections.
func (b *Bucket) ConnCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Status returns the current presence status.
func (b *Bucket) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// SetStatus sets the presence status.
func (b *Bucket) SetStatus(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

// Broadcast fanouts an envelope to all of this user's connections.
// Non-blocking: a full queue or closing client drops the envelope.
// Returns delivered and dropped counts.
func (b *Bucket) Broadcast(env v1.Envelope) (delivered, dropped int) {
	if b == nil {
		return 0, 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, c := range b.conns {
		if c == nil {
			continue
		}

		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// ---- relationship mutators ----
//
// Each mutator is a synchronous value-set write; the caller has already
// completed the corresponding durable-store transition.

// ApplyRequestOut records an outgoing pending request to other.
func (b *Bucket) ApplyRequestOut(other int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outgoing[other] = struct{}{}
	b.assertDisjoint(other)
}

// ApplyRequestIn records an incoming pending request from other.
func (b *Bucket) ApplyRequestIn(other int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.incoming[other] = struct{}{}
	b.assertDisjoint(other)
}

// ApplyAccept moves other from pending to friends.
func (b *Bucket) ApplyAccept(other int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.incoming, other)
	delete(b.outgoing, other)
	b.friends[other] = struct{}{}
	b.assertDisjoint(other)
}

// ApplyClearPending drops other from both pending sets.
func (b *Bucket) ApplyClearPending(other int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.incoming, other)
	delete(b.outgoing, other)
	b.assertDisjoint(other)
}

// ApplyUnfriend drops other from friends.
func (b *Bucket) ApplyUnfriend(other int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.friends, other)
	b.assertDisjoint(other)
}

// ApplyBlock clears every relation to other and records the block.
func (b *Bucket) ApplyBlock(other int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.friends, other)
	delete(b.incoming, other)
	delete(b.outgoing, other)
	b.blocked[other] = struct{}{}
	b.assertDisjoint(other)
}

// ApplyUnblock drops other from blocked; nothing is restored.
func (b *Bucket) ApplyUnblock(other int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blocked, other)
	b.assertDisjoint(other)
}

// ApplyPeerRemoved erases other from every set (other severed the relation,
// e.g. by blocking this user).
func (b *Bucket) ApplyPeerRemoved(other int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.friends, other)
	delete(b.incoming, other)
	delete(b.outgoing, other)
	b.assertDisjoint(other)
}

// ---- queries ----

// IsFriend reports whether other is a friend.
func (b *Bucket) IsFriend(other int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.friends[other]
	return ok
}

// IsKnown reports whether other is in friends, incoming, or outgoing.
func (b *Bucket) IsKnown(other int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return has(b.friends, other) || has(b.incoming, other) || has(b.outgoing, other)
}

// IsBlocked reports whether this user blocked other.
func (b *Bucket) IsBlocked(other int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return has(b.blocked, other)
}

// HasIncoming reports a pending request from other.
func (b *Bucket) HasIncoming(other int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return has(b.incoming, other)
}

// HasOutgoing reports a pending request to other.
func (b *Bucket) HasOutgoing(other int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return has(b.outgoing, other)
}

// HasAnyRelation reports whether other appears in any of the four sets.
func (b *Bucket) HasAnyRelation(other int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return has(b.friends, other) || has(b.incoming, other) ||
		has(b.outgoing, other) || has(b.blocked, other)
}

// Friends returns the sorted friend id set.
func (b *Bucket) Friends() []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedIDs(b.friends)
}

// KnownUsers returns the sorted distinct union of friends, outgoing, and incoming.
func (b *Bucket) KnownUsers() []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	union := make(map[int64]struct{}, len(b.friends)+len(b.outgoing)+len(b.incoming))
	for id := range b.friends {
		union[id] = struct{}{}
	}
	for id := range b.outgoing {
		union[id] = struct{}{}
	}
	for id := range b.incoming {
		union[id] = struct{}{}
	}
	return sortedIDs(union)
}

// assertDisjoint checks that other sits in at most one relationship set.
// Caller must hold b.mu.
func (b *Bucket) assertDisjoint(other int64) {
	if !presenceChecks {
		return
	}

	n := 0
	if has(b.friends, other) {
		n++
	}
	if has(b.incoming, other) {
		n++
	}
	if has(b.outgoing, other) {
		n++
	}
	if has(b.blocked, other) {
		n++
	}
	if n > 1 {
		panic(fmt.Sprintf("presence: user %d holds %d in %d relationship sets", b.UserID, other, n))
	}
}

func has(set map[int64]struct{}, id int64) bool {
	_, ok := set[id]
	return ok
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortedIDs(set map[int64]struct{}) []int64 {
	if len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Cache owns in-memory buckets and provides stable bucket handles.
// It is intentionally minimal: persistence lives behind the friend store.
type Cache struct {
	log *slog.Logger

	mu      sync.RWMutex
	buckets map[int64]*Bucket
}

// NewCache constructs a Cache instance.
func NewCache(log *slog.Logger) *Cache {
	return &Cache{
		log:     log,
		buckets: make(map[int64]*Bucket),
	}
}

// Get returns the bucket for userID, or nil when the user is fully offline.
func (c *Cache) Get(userID int64) *Bucket {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buckets[userID]
}

// Attach joins client to userID's bucket, creating the bucket if absent, and
// reports whether it is the user's first connection. Attach and EvictIfEmpty
// share the cache lock, so a connection can never land on a bucket that
// eviction has already removed from the map.
func (c *Cache) Attach(userID int64, client *Client) (*Bucket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[userID]
	if !ok {
		b = newBucket(userID)
		c.buckets[userID] = b
	}
	return b, b.Attach(client)
}

// EvictIfEmpty removes the bucket when it holds no connections.
// Returns true if a bucket was evicted.
func (c *Cache) EvictIfEmpty(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[userID]
	if !ok {
		return false
	}
	if b.ConnCount() > 0 {
		return false
	}

	delete(c.buckets, userID)
	c.log.Info("presence.bucket.evict", "user_id", userID)
	return true
}

// Len returns the number of live buckets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.buckets)
}
