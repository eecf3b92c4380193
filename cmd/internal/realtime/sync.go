package realtime

import (
	"context"
	"fmt"
	"time"

	"fitlink/cmd/internal/events"
	v1 "fitlink/contracts/realtime/v1"
)

// Sync and outbox handlers.

func (g *Gateway) handlePing(ctx context.Context, c *Client, _ v1.Envelope) error {
	return g.reply(ctx, c, v1.KindPong, v1.PongPayload{TS: time.Now().UTC()})
}

// handleDataSync rehydrates the caller's bucket from the store and replies
// with the fresh snapshot. The store is authoritative: the reply reflects the
// store view even if the bucket disappeared mid-flight.
func (g *Gateway) handleDataSync(ctx context.Context, c *Client, _ v1.Envelope) error {
	view, err := g.friends.RelationshipView(ctx, c.UserID)
	if err != nil {
		return err
	}

	if b := g.cache.Get(c.UserID); b != nil {
		b.Hydrate(view)
	}

	return g.reply(ctx, c, v1.KindDataSync, v1.DataSyncPayload{
		Friends:  view.Friends,
		Incoming: view.Incoming,
		Outgoing: view.Outgoing,
		Blocked:  view.Blocked,
	})
}

// handleEventSync ships every unseen event in one ascending-id batch.
func (g *Gateway) handleEventSync(ctx context.Context, c *Client, _ v1.Envelope) error {
	rows, err := g.events.ListUnseen(ctx, c.UserID)
	if err != nil {
		return err
	}
	return g.reply(ctx, c, v1.KindEvent, batchPayload(rows))
}

// handleEventStream ships events with id strictly greater than the cursor.
func (g *Gateway) handleEventStream(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.EventStreamPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	if p.After < 0 {
		return fmt.Errorf("%w: after", errBadPayload)
	}

	rows, err := g.events.ListAfter(ctx, c.UserID, p.After)
	if err != nil {
		return err
	}
	return g.reply(ctx, c, v1.KindEvent, batchPayload(rows))
}

// handleMarkEvents advances the seen watermark. Replaying the same or a
// smaller watermark — zero included — changes nothing; the ack is identical
// either way.
func (g *Gateway) handleMarkEvents(ctx context.Context, c *Client, env v1.Envelope) error {
	var p v1.MarkEventsPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	if p.UpTo < 0 {
		return fmt.Errorf("%w: up_to", errBadPayload)
	}

	n, err := g.events.MarkSeen(ctx, c.UserID, p.UpTo, time.Now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		g.metrics.EventsMarkedSeen.Add(float64(n))
	}
	g.log.Debug("events.mark_seen", "user_id", c.UserID, "up_to", p.UpTo, "changed", n)

	return g.ack(ctx, c, v1.KindMarkEvents)
}

func batchPayload(rows []events.Event) v1.EventBatchPayload {
	out := v1.EventBatchPayload{Events: make([]v1.EventPayload, 0, len(rows))}
	for _, ev := range rows {
		out.Events = append(out.Events, wireEvent(ev))
	}
	return out
}
