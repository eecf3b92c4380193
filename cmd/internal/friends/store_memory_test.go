package friends

import (
	"context"
	"errors"
	"testing"
)

func seedStore(t *testing.T, ids ...int64) *InMemoryStore {
	t.Helper()

	st := NewInMemoryStore()
	names := map[int64]string{1: "ada", 2: "brin", 3: "cleo", 5: "dana", 7: "eryn", 9: "finn"}
	for _, id := range ids {
		name, ok := names[id]
		if !ok {
			t.Fatalf("no seed name for id %d", id)
		}
		st.AddUser(Profile{ID: id, Name: name})
	}
	return st
}

func TestCreateRequest_UnknownTarget(t *testing.T) {
	t.Parallel()

	st := seedStore(t, 1)
	ctx := context.Background()

	if _, err := st.ResolveName(ctx, "ghost"); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("ResolveName ghost: err=%v want ErrUnknownTarget", err)
	}

	// No rows may be created by the failed resolution.
	v, err := st.RelationshipView(ctx, 1)
	if err != nil {
		t.Fatalf("RelationshipView: %v", err)
	}
	if len(v.Friends)+len(v.Incoming)+len(v.Outgoing)+len(v.Blocked) != 0 {
		t.Fatalf("expected empty view, got %+v", v)
	}
}

func TestCreateRequest_SelfAndDuplicate(t *testing.T) {
	t.Parallel()

	st := seedStore(t, 1, 2)
	ctx := context.Background()

	if err := st.CreateRequest(ctx, 1, 1); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("self request: err=%v want ErrSelfReference", err)
	}

	if err := st.CreateRequest(ctx, 1, 2); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if err := st.CreateRequest(ctx, 1, 2); !errors.Is(err, ErrAlreadyRelated) {
		t.Fatalf("duplicate request: err=%v want ErrAlreadyRelated", err)
	}
	// Reverse direction collides too.
	if err := st.CreateRequest(ctx, 2, 1); !errors.Is(err, ErrAlreadyRelated) {
		t.Fatalf("reverse request: err=%v want ErrAlreadyRelated", err)
	}
}

func TestRequestAcceptLifecycle(t *testing.T) {
	t.Parallel()

	st := seedStore(t, 1, 2)
	ctx := context.Background()

	if err := st.CreateRequest(ctx, 1, 2); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	v1, _ := st.RelationshipView(ctx, 1)
	v2, _ := st.RelationshipView(ctx, 2)
	if len(v1.Outgoing) != 1 || v1.Outgoing[0] != 2 {
		t.Fatalf("outgoing[1]=%v want [2]", v1.Outgoing)
	}
	if len(v2.Incoming) != 1 || v2.Incoming[0] != 1 {
		t.Fatalf("incoming[2]=%v want [1]", v2.Incoming)
	}

	if err := st.AcceptRequest(ctx, 2, 1); err != nil {
		t.Fatalf("AcceptRequest: %v", err)
	}

	v1, _ = st.RelationshipView(ctx, 1)
	v2, _ = st.RelationshipView(ctx, 2)
	if len(v1.Friends) != 1 || v1.Friends[0] != 2 {
		t.Fatalf("friends[1]=%v want [2]", v1.Friends)
	}
	if len(v2.Friends) != 1 || v2.Friends[0] != 1 {
		t.Fatalf("friends[2]=%v want [1]", v2.Friends)
	}
	if len(v1.Outgoing)+len(v1.Incoming)+len(v2.Outgoing)+len(v2.Incoming) != 0 {
		t.Fatalf("pending sets not cleared: v1=%+v v2=%+v", v1, v2)
	}
}

func TestDeclineAndCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cases := []struct {
		name string
		act  func(st *InMemoryStore) error
	}{
		{name: "decline", act: func(st *InMemoryStore) error { return st.DeclineRequest(ctx, 2, 1) }},
		{name: "cancel", act: func(st *InMemoryStore) error { return st.CancelRequest(ctx, 1, 2) }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			st := seedStore(t, 1, 2)
			if err := st.CreateRequest(ctx, 1, 2); err != nil {
				t.Fatalf("CreateRequest: %v", err)
			}
			if err := tc.act(st); err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}

			v1, _ := st.RelationshipView(ctx, 1)
			v2, _ := st.RelationshipView(ctx, 2)
			if len(v1.Friends)+len(v1.Outgoing)+len(v2.Friends)+len(v2.Incoming) != 0 {
				t.Fatalf("relation not fully cleared: v1=%+v v2=%+v", v1, v2)
			}

			// Repeating the action finds nothing pending.
			if err := tc.act(st); !errors.Is(err, ErrNotPending) {
				t.Fatalf("repeat %s: err=%v want ErrNotPending", tc.name, err)
			}
		})
	}
}

func TestRemoveFriend(t *testing.T) {
	t.Parallel()

	st := seedStore(t, 1, 2)
	ctx := context.Background()

	if err := st.RemoveFriend(ctx, 1, 2); !errors.Is(err, ErrNotFriends) {
		t.Fatalf("remove non-friend: err=%v want ErrNotFriends", err)
	}

	mustBefriend(t, st, 1, 2)

	if err := st.RemoveFriend(ctx, 1, 2); err != nil {
		t.Fatalf("RemoveFriend: %v", err)
	}
	v1, _ := st.RelationshipView(ctx, 1)
	v2, _ := st.RelationshipView(ctx, 2)
	if len(v1.Friends)+len(v2.Friends) != 0 {
		t.Fatalf("friendship not dissolved: v1=%+v v2=%+v", v1, v2)
	}
}

func TestBlockFromEveryPriorState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cases := []struct {
		name  string
		setup func(t *testing.T, st *InMemoryStore)
	}{
		{name: "no relation", setup: func(t *testing.T, st *InMemoryStore) {}},
		{name: "outgoing pending", setup: func(t *testing.T, st *InMemoryStore) {
			if err := st.CreateRequest(ctx, 1, 2); err != nil {
				t.Fatalf("CreateRequest: %v", err)
			}
		}},
		{name: "incoming pending", setup: func(t *testing.T, st *InMemoryStore) {
			if err := st.CreateRequest(ctx, 2, 1); err != nil {
				t.Fatalf("CreateRequest: %v", err)
			}
		}},
		{name: "mutual", setup: func(t *testing.T, st *InMemoryStore) {
			mustBefriend(t, st, 1, 2)
		}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			st := seedStore(t, 1, 2)
			tc.setup(t, st)

			if err := st.Block(ctx, 1, 2); err != nil {
				t.Fatalf("Block: %v", err)
			}

			v1, _ := st.RelationshipView(ctx, 1)
			if len(v1.Blocked) != 1 || v1.Blocked[0] != 2 {
				t.Fatalf("blocked[1]=%v want [2]", v1.Blocked)
			}
			if len(v1.Friends)+len(v1.Incoming)+len(v1.Outgoing) != 0 {
				t.Fatalf("block left residual relation: %+v", v1)
			}
			v2, _ := st.RelationshipView(ctx, 2)
			if len(v2.Friends)+len(v2.Incoming)+len(v2.Outgoing) != 0 {
				t.Fatalf("counterpart kept residual relation: %+v", v2)
			}

			if err := st.Block(ctx, 1, 2); !errors.Is(err, ErrDuplicateBlock) {
				t.Fatalf("second block: err=%v want ErrDuplicateBlock", err)
			}
		})
	}
}

func TestUnblock(t *testing.T) {
	t.Parallel()

	st := seedStore(t, 1, 2)
	ctx := context.Background()

	if err := st.Unblock(ctx, 1, 2); !errors.Is(err, ErrNotBlocked) {
		t.Fatalf("unblock without block: err=%v want ErrNotBlocked", err)
	}

	mustBefriend(t, st, 1, 2)
	if err := st.Block(ctx, 1, 2); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := st.Unblock(ctx, 1, 2); err != nil {
		t.Fatalf("Unblock: %v", err)
	}

	// Unblock restores nothing.
	v1, _ := st.RelationshipView(ctx, 1)
	if len(v1.Friends)+len(v1.Incoming)+len(v1.Outgoing)+len(v1.Blocked) != 0 {
		t.Fatalf("unblock restored a relation: %+v", v1)
	}
}

func mustBefriend(t *testing.T, st *InMemoryStore, a, b int64) {
	t.Helper()

	ctx := context.Background()
	if err := st.CreateRequest(ctx, a, b); err != nil {
		t.Fatalf("CreateRequest(%d,%d): %v", a, b, err)
	}
	if err := st.AcceptRequest(ctx, b, a); err != nil {
		t.Fatalf("AcceptRequest(%d,%d): %v", b, a, err)
	}
}
