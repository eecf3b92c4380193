package events

import (
	"context"
	"sync"
	"time"
)

const memMaxEventsPerUser = 10_000

// InMemoryStore is a dev/test Store with the same ordering and idempotency
// semantics as the Postgres implementation.
type InMemoryStore struct {
	mu   sync.Mutex
	seq  int64
	rows map[int64][]Event // user id -> rows ordered by id ASC
}

// NewInMemoryStore constructs an empty in-memory event store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[int64][]Event)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Create(ctx context.Context, in CreateInput) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if in.UserID <= 0 {
		return Event{}, ErrInvalidInput
	}
	if !in.Type.Valid() {
		return Event{}, ErrInvalidType
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	ev := Event{
		ID:         s.seq,
		UserID:     in.UserID,
		Type:       in.Type,
		ActorID:    in.ActorID,
		ResourceID: in.ResourceID,
		Payload:    in.Payload,
		CreatedAt:  now,
	}
	rows := append(s.rows[in.UserID], ev)

	// Bound memory to avoid unbounded growth in dev.
	if len(rows) > memMaxEventsPerUser {
		rows = rows[len(rows)-memMaxEventsPerUser:]
	}
	s.rows[in.UserID] = rows

	return ev, nil
}

func (s *InMemoryStore) ListUnseen(ctx context.Context, userID int64) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, ev := range s.rows[userID] {
		if ev.SeenAt == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListAfter(ctx context.Context, userID, after int64) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, ev := range s.rows[userID] {
		if ev.ID > after {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkSeen(ctx context.Context, userID, upTo int64, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	rows := s.rows[userID]
	for i := range rows {
		if rows[i].ID > upTo {
			break
		}
		if rows[i].SeenAt == nil {
			ts := now
			rows[i].SeenAt = &ts
			n++
		}
	}
	return n, nil
}
