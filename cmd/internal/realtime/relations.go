package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"fitlink/cmd/internal/events"
	v1 "fitlink/contracts/realtime/v1"
)

// Relationship lifecycle handlers.
//
// Shared shape: validate the payload, run the authoritative store transition,
// then mutate the presence buckets and notify the counterpart. Buckets are
// re-fetched AFTER the store call returns; a bucket evicted in the meantime
// makes the cache mutation a no-op, never an error. The ack goes out before
// the fan-out so the caller's latency never depends on the counterpart.

func (g *Gateway) handleAddFriend(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.AddFriendPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	name := strings.TrimSpace(p.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameChars {
		return fmt.Errorf("%w: name", errBadPayload)
	}

	target, err := g.friends.ResolveName(ctx, name)
	if err != nil {
		return err
	}

	if err := g.friends.CreateRequest(ctx, c.UserID, target.ID); err != nil {
		return err
	}
	g.log.Info("friends.request.create", "sender", c.UserID, "recipient", target.ID)

	if b := g.cache.Get(c.UserID); b != nil {
		b.ApplyRequestOut(target.ID)
	}
	if b := g.cache.Get(target.ID); b != nil {
		b.ApplyRequestIn(c.UserID)
	}

	if err := g.ack(ctx, c, v1.KindAddFriend); err != nil {
		return err
	}
	g.notify(ctx, []int64{target.ID}, events.TypeFriendRequest, c.UserID, c.UserID, nil)
	return nil
}

func (g *Gateway) handleAcceptRequest(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.UserRefPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	if err := g.friends.AcceptRequest(ctx, c.UserID, p.UserID); err != nil {
		return err
	}
	g.log.Info("friends.request.accept", "recipient", c.UserID, "sender", p.UserID)

	if b := g.cache.Get(c.UserID); b != nil {
		b.ApplyAccept(p.UserID)
	}
	if b := g.cache.Get(p.UserID); b != nil {
		b.ApplyAccept(c.UserID)
	}

	if err := g.ack(ctx, c, v1.KindAcceptRequest); err != nil {
		return err
	}
	g.notify(ctx, []int64{p.UserID}, events.TypeFriendAccept, c.UserID, c.UserID, nil)

	// New friends see each other's presence immediately.
	g.pushStatusBetween(c.UserID, p.UserID)
	return nil
}

func (g *Gateway) handleDeclineRequest(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.UserRefPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	if err := g.friends.DeclineRequest(ctx, c.UserID, p.UserID); err != nil {
		return err
	}
	g.log.Info("friends.request.decline", "recipient", c.UserID, "sender", p.UserID)

	if b := g.cache.Get(c.UserID); b != nil {
		b.ApplyClearPending(p.UserID)
	}
	if b := g.cache.Get(p.UserID); b != nil {
		b.ApplyClearPending(c.UserID)
	}

	if err := g.ack(ctx, c, v1.KindDeclineRequest); err != nil {
		return err
	}
	g.notify(ctx, []int64{p.UserID}, events.TypeFriendDecline, c.UserID, c.UserID, nil)
	return nil
}

func (g *Gateway) handleCancelRequest(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.UserRefPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	if err := g.friends.CancelRequest(ctx, c.UserID, p.UserID); err != nil {
		return err
	}
	g.log.Info("friends.request.cancel", "sender", c.UserID, "recipient", p.UserID)

	if b := g.cache.Get(c.UserID); b != nil {
		b.ApplyClearPending(p.UserID)
	}
	if b := g.cache.Get(p.UserID); b != nil {
		b.ApplyClearPending(c.UserID)
	}

	if err := g.ack(ctx, c, v1.KindCancelRequest); err != nil {
		return err
	}
	g.notify(ctx, []int64{p.UserID}, events.TypeFriendCancel, c.UserID, c.UserID, nil)
	return nil
}

func (g *Gateway) handleRemoveFriend(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.UserRefPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	if err := g.friends.RemoveFriend(ctx, c.UserID, p.UserID); err != nil {
		return err
	}
	g.log.Info("friends.remove", "user_id", c.UserID, "friend_id", p.UserID)

	if b := g.cache.Get(c.UserID); b != nil {
		b.ApplyUnfriend(p.UserID)
	}
	if b := g.cache.Get(p.UserID); b != nil {
		b.ApplyUnfriend(c.UserID)
	}

	if err := g.ack(ctx, c, v1.KindRemoveFriend); err != nil {
		return err
	}
	g.notify(ctx, []int64{p.UserID}, events.TypeFriendRemove, c.UserID, c.UserID, nil)
	return nil
}

func (g *Gateway) handleBlockUser(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.UserRefPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	// Capture whether a visible relation (friendship or pending) exists before
	// the block clears it. The counterpart is told the relation ended, never
	// that a block happened.
	hadRelation := false
	view, err := g.callerView(ctx, c.UserID)
	if err == nil {
		for _, set := range [][]int64{view.Friends, view.Incoming, view.Outgoing} {
			for _, id := range set {
				if id == p.UserID {
					hadRelation = true
				}
			}
		}
	}

	if err := g.friends.Block(ctx, c.UserID, p.UserID); err != nil {
		return err
	}
	g.log.Info("friends.block", "blocker", c.UserID, "target", p.UserID)

	if b := g.cache.Get(c.UserID); b != nil {
		b.ApplyBlock(p.UserID)
	}
	if b := g.cache.Get(p.UserID); b != nil {
		b.ApplyPeerRemoved(c.UserID)
	}

	if err := g.ack(ctx, c, v1.KindBlockUser); err != nil {
		return err
	}
	if hadRelation {
		g.notify(ctx, []int64{p.UserID}, events.TypeFriendRemove, c.UserID, c.UserID, nil)
	}
	return nil
}

func (g *Gateway) handleUnblockUser(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.UserRefPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	if err := g.friends.Unblock(ctx, c.UserID, p.UserID); err != nil {
		return err
	}
	g.log.Info("friends.unblock", "blocker", c.UserID, "target", p.UserID)

	if b := g.cache.Get(c.UserID); b != nil {
		b.ApplyUnblock(p.UserID)
	}

	// Unblock restores nothing and notifies nobody.
	return g.ack(ctx, c, v1.KindUnblockUser)
}

func (g *Gateway) handleSendReport(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.SendReportPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	if p.OffenderID <= 0 || len(p.Report) == 0 || len(p.Report) > maxReportBytes {
		return fmt.Errorf("%w: report", errBadPayload)
	}
	if _, err := g.friends.ProfileByID(ctx, p.OffenderID); err != nil {
		return err
	}

	now := time.Now().UTC()
	actor := c.UserID
	if _, err := g.events.Create(ctx, events.CreateInput{
		UserID:     p.OffenderID,
		Type:       events.TypeReport,
		ActorID:    &actor,
		ResourceID: p.OffenderID,
		Payload:    p.Report,
		Now:        now,
	}); err != nil {
		return err
	}
	g.metrics.EventsCreated.Inc()
	g.log.Info("report.filed", "reporter", c.UserID, "offender", p.OffenderID)

	return g.ack(ctx, c, v1.KindSendReport)
}

// ---- fan-out plumbing ----

// notify writes one durable event row per target, then delivers the event
// envelope to the target's live connections. Targets settle independently; a
// failed or offline target never affects the others or the caller.
func (g *Gateway) notify(ctx context.Context, targets []int64, typ events.Type, actorID, resourceID int64, payload json.RawMessage) {
	if len(targets) == 0 {
		return
	}

	now := time.Now().UTC()
	actor := actorID

	g.fan.Settle(targets, func(target int64) (v1.Envelope, error) {
		ev, err := g.events.Create(ctx, events.CreateInput{
			UserID:     target,
			Type:       typ,
			ActorID:    &actor,
			ResourceID: resourceID,
			Payload:    payload,
			Now:        now,
		})
		if err != nil {
			return v1.Envelope{}, err
		}
		g.metrics.EventsCreated.Inc()

		// Same wire shape as eventSync/eventStream: every event envelope
		// carries a batch, a live push is a batch of one.
		raw, err := json.Marshal(batchPayload([]events.Event{ev}))
		if err != nil {
			return v1.Envelope{}, err
		}
		return g.newEnvelope(v1.KindEvent, raw), nil
	})
}

// pushStatusBetween delivers each side's presence status to the other, when live.
func (g *Gateway) pushStatusBetween(a, b int64) {
	g.pushStatusTo(b, a)
	g.pushStatusTo(a, b)
}

func (g *Gateway) pushStatusTo(recipient, subject int64) {
	sb := g.cache.Get(subject)
	if sb == nil {
		return
	}
	raw, err := json.Marshal(v1.StatusPayload{UserID: subject, Status: string(sb.Status())})
	if err != nil {
		return
	}
	_ = g.fan.Deliver(recipient, g.newEnvelope(v1.KindStatus, raw))
}

func wireEvent(ev events.Event) v1.EventPayload {
	return v1.EventPayload{
		ID:         ev.ID,
		UserID:     ev.UserID,
		Type:       string(ev.Type),
		ActorID:    ev.ActorID,
		ResourceID: ev.ResourceID,
		Payload:    ev.Payload,
		SeenAt:     ev.SeenAt,
		CreatedAt:  ev.CreatedAt,
	}
}
