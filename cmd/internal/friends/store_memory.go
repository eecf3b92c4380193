package friends

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a dev/test Store. It enforces the same pair-state machine
// as the Postgres implementation so gateway tests exercise real transitions.
type InMemoryStore struct {
	mu sync.Mutex

	users map[int64]Profile
	names map[string]int64

	// pending is keyed sender -> recipient set.
	pending map[int64]map[int64]struct{}
	// friendsOf is symmetric: both directions present.
	friendsOf map[int64]map[int64]struct{}
	// blocks is keyed blocker -> blocked set.
	blocks map[int64]map[int64]struct{}
}

// NewInMemoryStore constructs an empty in-memory friend store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:     make(map[int64]Profile),
		names:     make(map[string]int64),
		pending:   make(map[int64]map[int64]struct{}),
		friendsOf: make(map[int64]map[int64]struct{}),
		blocks:    make(map[int64]map[int64]struct{}),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// AddUser seeds a user row. Test/dev helper, not part of Store.
func (s *InMemoryStore) AddUser(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.users[p.ID] = p
	s.names[strings.ToLower(p.Name)] = p.ID
}

// UpdateProfile overwrites mutable profile fields. Test/dev helper.
func (s *InMemoryStore) UpdateProfile(p Profile) {
	s.AddUser(p)
}

func (s *InMemoryStore) ResolveName(ctx context.Context, name string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.names[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, ErrUnknownTarget
	}
	return s.users[id], nil
}

func (s *InMemoryStore) ProfileByID(ctx context.Context, id int64) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[id]
	if !ok {
		return Profile{}, ErrUnknownTarget
	}
	return p, nil
}

func (s *InMemoryStore) ProfilesByIDs(ctx context.Context, ids []int64) ([]Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.users[id]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) RelationshipView(ctx context.Context, userID int64) (View, error) {
	if err := ctx.Err(); err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return View{}, ErrUnknownTarget
	}

	v := View{
		Friends:  sortedKeys(s.friendsOf[userID]),
		Outgoing: sortedKeys(s.pending[userID]),
		Blocked:  sortedKeys(s.blocks[userID]),
	}
	for sender, recips := range s.pending {
		if _, ok := recips[userID]; ok {
			v.Incoming = append(v.Incoming, sender)
		}
	}
	sort.Slice(v.Incoming, func(i, j int) bool { return v.Incoming[i] < v.Incoming[j] })
	return v, nil
}

func (s *InMemoryStore) CreateRequest(ctx context.Context, sender, recipient int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sender == recipient {
		return ErrSelfReference
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sender]; !ok {
		return ErrUnknownTarget
	}
	if _, ok := s.users[recipient]; !ok {
		return ErrUnknownTarget
	}
	if s.relatedLocked(sender, recipient) {
		return ErrAlreadyRelated
	}

	setAdd(s.pending, sender, recipient)
	return nil
}

func (s *InMemoryStore) AcceptRequest(ctx context.Context, recipient, sender int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !setHas(s.pending, sender, recipient) {
		return ErrNotPending
	}
	setDel(s.pending, sender, recipient)
	setAdd(s.friendsOf, sender, recipient)
	setAdd(s.friendsOf, recipient, sender)
	return nil
}

func (s *InMemoryStore) DeclineRequest(ctx context.Context, recipient, sender int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !setHas(s.pending, sender, recipient) {
		return ErrNotPending
	}
	setDel(s.pending, sender, recipient)
	return nil
}

func (s *InMemoryStore) CancelRequest(ctx context.Context, sender, recipient int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !setHas(s.pending, sender, recipient) {
		return ErrNotPending
	}
	setDel(s.pending, sender, recipient)
	return nil
}

func (s *InMemoryStore) RemoveFriend(ctx context.Context, userID, friendID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !setHas(s.friendsOf, userID, friendID) {
		return ErrNotFriends
	}
	setDel(s.friendsOf, userID, friendID)
	setDel(s.friendsOf, friendID, userID)
	return nil
}

func (s *InMemoryStore) Block(ctx context.Context, blocker, target int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if blocker == target {
		return ErrSelfReference
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[target]; !ok {
		return ErrUnknownTarget
	}
	if setHas(s.blocks, blocker, target) {
		return ErrDuplicateBlock
	}

	// Clear whatever relation exists, then block. Same transaction shape as
	// the Postgres store.
	setDel(s.friendsOf, blocker, target)
	setDel(s.friendsOf, target, blocker)
	setDel(s.pending, blocker, target)
	setDel(s.pending, target, blocker)

	setAdd(s.blocks, blocker, target)
	return nil
}

func (s *InMemoryStore) Unblock(ctx context.Context, blocker, target int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !setHas(s.blocks, blocker, target) {
		return ErrNotBlocked
	}
	setDel(s.blocks, blocker, target)
	return nil
}

// relatedLocked reports whether any relation exists between a and b in either
// direction. Caller must hold s.mu.
func (s *InMemoryStore) relatedLocked(a, b int64) bool {
	return setHas(s.friendsOf, a, b) ||
		setHas(s.pending, a, b) ||
		setHas(s.pending, b, a) ||
		setHas(s.blocks, a, b) ||
		setHas(s.blocks, b, a)
}

// ---- set helpers ----

func setAdd(m map[int64]map[int64]struct{}, k, v int64) {
	set := m[k]
	if set == nil {
		set = make(map[int64]struct{})
		m[k] = set
	}
	set[v] = struct{}{}
}

func setDel(m map[int64]map[int64]struct{}, k, v int64) {
	if set := m[k]; set != nil {
		delete(set, v)
		if len(set) == 0 {
			delete(m, k)
		}
	}
}

func setHas(m map[int64]map[int64]struct{}, k, v int64) bool {
	set := m[k]
	if set == nil {
		return false
	}
	_, ok := set[v]
	return ok
}

func sortedKeys(set map[int64]struct{}) []int64 {
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
