// Package friends contains the friend-domain store: profiles, relationship
// views, and the friend-request lifecycle transitions.
//
// The store is the authoritative state machine for any ordered user pair:
// None, pending (outgoing on the sender, incoming on the recipient), mutual,
// or blocked. Callers holding an in-memory cache must treat the store's
// verdict as final; cache staleness never permits a transition the store
// would reject.
package friends

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownTarget is returned when a name or id resolves to no user.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrSelfReference is returned when a user addresses an operation at themselves.
	ErrSelfReference = errors.New("self reference")

	// ErrAlreadyRelated is returned when a request would collide with any
	// pre-existing relation (friendship, pending request, or block) in either
	// direction.
	ErrAlreadyRelated = errors.New("already related")

	// ErrNotPending is returned when accept/decline/cancel finds no matching
	// pending request.
	ErrNotPending = errors.New("not a pending request")

	// ErrNotFriends is returned when removal finds no friendship.
	ErrNotFriends = errors.New("not friends")

	// ErrDuplicateBlock is returned when the pair is already blocked by the caller.
	ErrDuplicateBlock = errors.New("duplicate block")

	// ErrNotBlocked is returned when unblock finds no block by the caller.
	ErrNotBlocked = errors.New("not blocked")
)

// IsDomainError reports whether err belongs to the friend-domain taxonomy.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrUnknownTarget) ||
		errors.Is(err, ErrSelfReference) ||
		errors.Is(err, ErrAlreadyRelated) ||
		errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrNotFriends) ||
		errors.Is(err, ErrDuplicateBlock) ||
		errors.Is(err, ErrNotBlocked)
}

// Profile is the public projection of a user row.
type Profile struct {
	ID        int64
	Name      string
	Picture   string
	Bio       string
	CreatedAt time.Time
}

// View is a user's full relationship snapshot: the hydration source for the
// presence cache. It is a pure function of store content.
type View struct {
	Friends  []int64
	Incoming []int64
	Outgoing []int64
	Blocked  []int64
}

// Store persists and queries the friend domain.
//
// Requirements:
//   - Every transition is atomic and validates the current pair state itself.
//   - For any ordered pair, at most one of {friendship, pending, block} exists.
//   - Block clears any friendship or pending request as part of the same
//     transaction before recording the block.
type Store interface {
	ResolveName(ctx context.Context, name string) (Profile, error)
	ProfileByID(ctx context.Context, id int64) (Profile, error)
	ProfilesByIDs(ctx context.Context, ids []int64) ([]Profile, error)

	RelationshipView(ctx context.Context, userID int64) (View, error)

	// CreateRequest records a pending request from sender to recipient.
	CreateRequest(ctx context.Context, sender, recipient int64) error
	// AcceptRequest turns the pending request sender->recipient into a friendship.
	AcceptRequest(ctx context.Context, recipient, sender int64) error
	// DeclineRequest drops the pending request sender->recipient (recipient acting).
	DeclineRequest(ctx context.Context, recipient, sender int64) error
	// CancelRequest drops the pending request sender->recipient (sender acting).
	CancelRequest(ctx context.Context, sender, recipient int64) error
	// RemoveFriend dissolves the friendship between the two users.
	RemoveFriend(ctx context.Context, userID, friendID int64) error
	// Block clears any relation between the pair and records a block by blocker.
	Block(ctx context.Context, blocker, target int64) error
	// Unblock drops the blocker's block; it restores nothing.
	Unblock(ctx context.Context, blocker, target int64) error

	Close() error
}
