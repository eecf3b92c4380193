package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"fitlink/cmd/internal/events"
	"fitlink/cmd/internal/friends"
	v1 "fitlink/contracts/realtime/v1"
)

// Profile and presence-status handlers.
//
// Profile reads are scoped to the caller's known set (friends plus pending in
// either direction); blocked users are not known. Profile change announcements
// are acked immediately and fanned out to the known set with a durable event
// row per recipient.

func (g *Gateway) handleGetKnownProfile(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.UserRefPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	if err := g.requireKnown(ctx, c.UserID, p.UserID); err != nil {
		return err
	}

	prof, err := g.friends.ProfileByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	return g.reply(ctx, c, v1.KindProfile, wireProfile(prof))
}

func (g *Gateway) handleGetKnownProfilePicture(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.UserRefPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	if err := g.requireKnown(ctx, c.UserID, p.UserID); err != nil {
		return err
	}

	prof, err := g.friends.ProfileByID(ctx, p.UserID)
	if err != nil {
		return err
	}
	return g.reply(ctx, c, v1.KindProfile, v1.ProfilePayload{
		UserID:  prof.ID,
		Name:    prof.Name,
		Picture: prof.Picture,
	})
}

func (g *Gateway) handleGetFriendStatus(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.UserRefPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}

	view, err := g.callerView(ctx, c.UserID)
	if err != nil {
		return err
	}
	if !containsID(view.Friends, p.UserID) {
		return friends.ErrNotFriends
	}

	return g.reply(ctx, c, v1.KindStatus, v1.StatusPayload{
		UserID: p.UserID,
		Status: string(g.liveStatus(p.UserID)),
	})
}

func (g *Gateway) handleGetAllKnownProfiles(ctx context.Context, c *Client, _ v1.Envelope) error {
	known, err := g.knownSet(ctx, c.UserID)
	if err != nil {
		return err
	}

	profs, err := g.friends.ProfilesByIDs(ctx, known)
	if err != nil {
		return err
	}

	out := v1.ProfileListPayload{Profiles: make([]v1.ProfilePayload, 0, len(profs))}
	for _, prof := range profs {
		out.Profiles = append(out.Profiles, wireProfile(prof))
	}
	return g.reply(ctx, c, v1.KindProfileList, out)
}

func (g *Gateway) handleGetAllFriendStatus(ctx context.Context, c *Client, _ v1.Envelope) error {
	view, err := g.callerView(ctx, c.UserID)
	if err != nil {
		return err
	}

	out := v1.StatusListPayload{Statuses: make([]v1.StatusPayload, 0, len(view.Friends))}
	for _, id := range view.Friends {
		out.Statuses = append(out.Statuses, v1.StatusPayload{
			UserID: id,
			Status: string(g.liveStatus(id)),
		})
	}
	return g.reply(ctx, c, v1.KindStatusList, out)
}

func (g *Gateway) handleProfileUpdated(ctx context.Context, c *Client, env v1.Envelope) error {
	return g.announceProfileChange(ctx, c, env, v1.KindProfileUpdated, events.TypeProfileUpdated)
}

func (g *Gateway) handleProfilePictureUpdated(ctx context.Context, c *Client, env v1.Envelope) error {
	return g.announceProfileChange(ctx, c, env, v1.KindProfilePictureUpdated, events.TypePictureUpdated)
}

func (g *Gateway) announceProfileChange(ctx context.Context, c *Client, env v1.Envelope, kind string, typ events.Type) error {
	known, err := g.knownSet(ctx, c.UserID)
	if err != nil {
		return err
	}

	if err := g.ack(ctx, c, kind); err != nil {
		return err
	}
	g.notify(ctx, known, typ, c.UserID, c.UserID, env.Payload)
	return nil
}

// handleStatusChanged updates the caller's live presence status and pushes it
// to friends. Status changes are ephemeral: no outbox row is written.
func (g *Gateway) handleStatusChanged(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.StatusChangedPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	status, ok := ParseStatus(p.Status)
	if !ok {
		return fmt.Errorf("%w: status %q", errBadPayload, p.Status)
	}

	b := g.cache.Get(c.UserID)
	if b == nil {
		return g.ack(ctx, c, v1.KindStatusChanged)
	}
	b.SetStatus(status)
	g.log.Info("presence.status.change", "user_id", c.UserID, "status", string(status))

	if err := g.ack(ctx, c, v1.KindStatusChanged); err != nil {
		return err
	}

	raw, err := json.Marshal(v1.StatusPayload{UserID: c.UserID, Status: string(status)})
	if err != nil {
		return err
	}
	statusEnv := g.newEnvelope(v1.KindStatus, raw)
	g.fan.Settle(b.Friends(), func(int64) (v1.Envelope, error) { return statusEnv, nil })
	return nil
}

// ---- helpers ----

// requireKnown rejects target ids outside the caller's known set.
func (g *Gateway) requireKnown(ctx context.Context, caller, target int64) error {
	known, err := g.knownSet(ctx, caller)
	if err != nil {
		return err
	}
	if !containsID(known, target) {
		return errNotKnown
	}
	return nil
}

// knownSet is the sorted distinct union of friends, incoming, and outgoing.
func (g *Gateway) knownSet(ctx context.Context, userID int64) ([]int64, error) {
	if b := g.cache.Get(userID); b != nil && b.Hydrated() {
		return b.KnownUsers(), nil
	}

	view, err := g.friends.RelationshipView(ctx, userID)
	if err != nil {
		return nil, err
	}

	union := make(map[int64]struct{}, len(view.Friends)+len(view.Incoming)+len(view.Outgoing))
	for _, set := range [][]int64{view.Friends, view.Incoming, view.Outgoing} {
		for _, id := range set {
			union[id] = struct{}{}
		}
	}
	return sortedIDs(union), nil
}

// liveStatus reads presence from the cache; an absent bucket means offline.
func (g *Gateway) liveStatus(userID int64) Status {
	if b := g.cache.Get(userID); b != nil {
		return b.Status()
	}
	return StatusOffline
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func wireProfile(p friends.Profile) v1.ProfilePayload {
	return v1.ProfilePayload{
		UserID:  p.ID,
		Name:    p.Name,
		Picture: p.Picture,
		Bio:     p.Bio,
	}
}
