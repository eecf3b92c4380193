package session

import (
	"context"
	"sync"
)

// InMemoryAuthzStore is a dev/test AuthzStore.
// Absent users are not authorized, mirroring the durable semantics.
type InMemoryAuthzStore struct {
	mu    sync.RWMutex
	users map[int64]bool
}

// NewInMemoryAuthzStore constructs an empty in-memory authz store.
func NewInMemoryAuthzStore() *InMemoryAuthzStore {
	return &InMemoryAuthzStore{users: make(map[int64]bool)}
}

// SetAuthorized sets the authorization flag for userID.
func (s *InMemoryAuthzStore) SetAuthorized(userID int64, authorized bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = authorized
}

// Authorized reports the stored flag; absent means false.
func (s *InMemoryAuthzStore) Authorized(ctx context.Context, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID], nil
}
