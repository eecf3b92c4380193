package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"fitlink/cmd/internal/friends"
	v1 "fitlink/contracts/realtime/v1"
)

// handlerFunc processes one validated client envelope. A returned error is
// mapped to a wire error reply; auth errors additionally tear the session down.
type handlerFunc func(ctx context.Context, c *Client, env v1.Envelope) error

// dispatchTable is the closed command set. Built once at construction; a kind
// absent here (including every server-to-client kind and hello, which only the
// connection gate consumes) is answered with an unsupported error, never
// silently dropped.
func (g *Gateway) dispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		v1.KindPing:        g.handlePing,
		v1.KindDataSync:    g.handleDataSync,
		v1.KindEventSync:   g.handleEventSync,
		v1.KindEventStream: g.handleEventStream,
		v1.KindMarkEvents:  g.handleMarkEvents,

		v1.KindAddFriend:      g.handleAddFriend,
		v1.KindAcceptRequest:  g.handleAcceptRequest,
		v1.KindDeclineRequest: g.handleDeclineRequest,
		v1.KindCancelRequest:  g.handleCancelRequest,
		v1.KindRemoveFriend:   g.handleRemoveFriend,
		v1.KindBlockUser:      g.handleBlockUser,
		v1.KindUnblockUser:    g.handleUnblockUser,

		v1.KindSendReport: g.handleSendReport,

		v1.KindProfileUpdated:        g.handleProfileUpdated,
		v1.KindProfilePictureUpdated: g.handleProfilePictureUpdated,
		v1.KindStatusChanged:         g.handleStatusChanged,

		v1.KindGetKnownProfile:        g.handleGetKnownProfile,
		v1.KindGetKnownProfilePicture: g.handleGetKnownProfilePicture,
		v1.KindGetFriendStatus:        g.handleGetFriendStatus,
		v1.KindGetAllKnownProfiles:    g.handleGetAllKnownProfiles,
		v1.KindGetAllFriendStatus:     g.handleGetAllFriendStatus,
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, env v1.Envelope) error {
	h, ok := g.handlers[env.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", errUnsupported, env.Kind)
	}
	return h(ctx, c, env)
}

// ---- reply helpers ----

// reply marshals payload and enqueues it on the client's send queue.
func (g *Gateway) reply(ctx context.Context, c *Client, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, c, g.newEnvelope(kind, raw)) {
		g.log.Info("ws.reply.drop", "session_id", c.SessionID, "kind", kind)
	}
	return nil
}

// ack confirms a mutating command by its kind.
func (g *Gateway) ack(ctx context.Context, c *Client, forKind string) error {
	return g.reply(ctx, c, v1.KindAck, v1.AckPayload{For: forKind})
}

// decodePayload unmarshals env.Payload strictly; failures surface as
// bad-payload replies.
func decodePayload(env v1.Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: missing payload for %q", errBadPayload, env.Kind)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

// callerView returns the caller's relationship snapshot, preferring the
// hydrated presence bucket and falling back to the store.
func (g *Gateway) callerView(ctx context.Context, userID int64) (friends.View, error) {
	if b := g.cache.Get(userID); b != nil && b.Hydrated() {
		return b.Snapshot(), nil
	}
	return g.friends.RelationshipView(ctx, userID)
}
