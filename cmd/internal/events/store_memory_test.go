package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func createN(t *testing.T, st *InMemoryStore, userID int64, n int) []Event {
	t.Helper()

	ctx := context.Background()
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev, err := st.Create(ctx, CreateInput{
			UserID:     userID,
			Type:       TypeFriendRequest,
			ResourceID: int64(i),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestCreate_RejectsUnknownType(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	_, err := st.Create(context.Background(), CreateInput{UserID: 1, Type: Type("partyTime")})
	if !errors.Is(err, ErrInvalidType) {
		t.Fatalf("Create unknown type: err=%v want ErrInvalidType", err)
	}
}

func TestCreate_IDsAreMonotonic(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	evs := createN(t, st, 3, 5)
	for i := 1; i < len(evs); i++ {
		if evs[i].ID <= evs[i-1].ID {
			t.Fatalf("ids not monotonic: %d then %d", evs[i-1].ID, evs[i].ID)
		}
	}
	for _, ev := range evs {
		if ev.SeenAt != nil {
			t.Fatalf("new event already seen: %+v", ev)
		}
	}
}

func TestMarkSeen_IdempotentAndMonotonic(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	evs := createN(t, st, 3, 3) // ids e.g. 1,2,3
	now := time.Now().UTC()

	mid := evs[1].ID

	n, err := st.MarkSeen(ctx, 3, mid, now)
	if err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if n != 2 {
		t.Fatalf("MarkSeen changed %d rows, want 2", n)
	}

	// Same watermark again: nothing further changes.
	n, err = st.MarkSeen(ctx, 3, mid, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("MarkSeen repeat: %v", err)
	}
	if n != 0 {
		t.Fatalf("repeat MarkSeen changed %d rows, want 0", n)
	}

	// Smaller watermark: no row loses its seen stamp.
	if _, err := st.MarkSeen(ctx, 3, evs[0].ID-1, now.Add(time.Minute)); err != nil {
		t.Fatalf("MarkSeen smaller: %v", err)
	}
	unseen, err := st.ListUnseen(ctx, 3)
	if err != nil {
		t.Fatalf("ListUnseen: %v", err)
	}
	if len(unseen) != 1 || unseen[0].ID != evs[2].ID {
		t.Fatalf("unseen=%v want only id %d", unseen, evs[2].ID)
	}
}

func TestListAfter_IsSuffixOfSync(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	evs := createN(t, st, 7, 4)

	ref := evs[1].ID
	after, err := st.ListAfter(ctx, 7, ref)
	if err != nil {
		t.Fatalf("ListAfter: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("ListAfter len=%d want 2", len(after))
	}
	for i, ev := range after {
		if ev.ID != evs[2+i].ID {
			t.Fatalf("ListAfter[%d].ID=%d want %d", i, ev.ID, evs[2+i].ID)
		}
	}

	// Marked-seen rows still stream by cursor, only the unseen list shrinks.
	if _, err := st.MarkSeen(ctx, 7, evs[2].ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	after, err = st.ListAfter(ctx, 7, ref)
	if err != nil {
		t.Fatalf("ListAfter: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("ListAfter after MarkSeen len=%d want 2", len(after))
	}
}

func TestScenario_MarkMiddleThenStream(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	evs := createN(t, st, 3, 3)
	ids := []int64{evs[0].ID, evs[1].ID, evs[2].ID}

	if _, err := st.MarkSeen(ctx, 3, ids[1], time.Now().UTC()); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	unseen, _ := st.ListUnseen(ctx, 3)
	if len(unseen) != 1 || unseen[0].ID != ids[2] {
		t.Fatalf("unseen=%v want only %d", unseen, ids[2])
	}

	stream, _ := st.ListAfter(ctx, 3, ids[1])
	if len(stream) != 1 || stream[0].ID != ids[2] {
		t.Fatalf("stream=%v want only %d", stream, ids[2])
	}
}

func TestEventsAreIsolatedPerUser(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	createN(t, st, 1, 2)
	createN(t, st, 2, 3)

	u1, _ := st.ListUnseen(ctx, 1)
	u2, _ := st.ListUnseen(ctx, 2)
	if len(u1) != 2 || len(u2) != 3 {
		t.Fatalf("unseen counts: u1=%d u2=%d want 2,3", len(u1), len(u2))
	}

	if _, err := st.MarkSeen(ctx, 1, 1<<62, time.Now().UTC()); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	u2, _ = st.ListUnseen(ctx, 2)
	if len(u2) != 3 {
		t.Fatalf("marking user 1 touched user 2: %d unseen", len(u2))
	}
}
