// Package events contains the durable event outbox: rows created by domain
// actions that warrant notifying a user, delivered at-least-once and marked
// seen idempotently.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrInvalidType is returned when Create is called with a type outside the
	// closed enumeration.
	ErrInvalidType = errors.New("invalid event type")

	// ErrInvalidInput is returned for structurally invalid create requests.
	ErrInvalidInput = errors.New("invalid input")
)

// Type enumerates the closed set of event types.
type Type string

const (
	TypeFriendRequest  Type = "friendRequest"
	TypeFriendAccept   Type = "friendAccept"
	TypeFriendDecline  Type = "friendDecline"
	TypeFriendCancel   Type = "friendCancel"
	TypeFriendRemove   Type = "friendRemove"
	TypeProfileUpdated Type = "profileUpdated"
	TypePictureUpdated Type = "profilePictureUpdated"
	TypeReport         Type = "report"
)

// Valid reports membership in the closed enumeration.
func (t Type) Valid() bool {
	switch t {
	case TypeFriendRequest, TypeFriendAccept, TypeFriendDecline,
		TypeFriendCancel, TypeFriendRemove, TypeProfileUpdated,
		TypePictureUpdated, TypeReport:
		return true
	default:
		return false
	}
}

// Event is one outbox row.
//
// ID is the monotonic ordering key: it defines recency and the cursor
// semantics of incremental streaming. SeenAt transitions only null -> set.
type Event struct {
	ID         int64
	UserID     int64
	Type       Type
	ActorID    *int64
	ResourceID int64
	Payload    json.RawMessage
	SeenAt     *time.Time
	CreatedAt  time.Time
}

// CreateInput describes an event insert.
type CreateInput struct {
	UserID     int64
	Type       Type
	ActorID    *int64
	ResourceID int64
	Payload    json.RawMessage
	Now        time.Time
}

// Store persists and queries outbox rows.
//
// Requirements:
//   - Monotonic id allocation per store (no per-user sequences).
//   - ListUnseen/ListAfter ordered by id ASC.
//   - MarkSeen is idempotent and the watermark only ever advances.
type Store interface {
	Create(ctx context.Context, in CreateInput) (Event, error)
	ListUnseen(ctx context.Context, userID int64) ([]Event, error)
	ListAfter(ctx context.Context, userID, after int64) ([]Event, error)
	// MarkSeen stamps seen_at=now on unseen rows with id <= upTo and returns
	// how many rows changed.
	MarkSeen(ctx context.Context, userID, upTo int64, now time.Time) (int64, error)
	Close() error
}
