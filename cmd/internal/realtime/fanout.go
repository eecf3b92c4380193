package realtime

import (
	"errors"
	"log/slog"
	"sync"

	"fitlink/cmd/internal/metrics"
	v1 "fitlink/contracts/realtime/v1"
)

var (
	errTargetOffline = errors.New("target offline")
	errQueueFull     = errors.New("all target queues full")
)

// Outcome is the per-target result of a settled fan-out.
type Outcome struct {
	Target int64
	Err    error
}

// Fanout dispatches best-effort broadcasts to known users.
//
// Deliveries are independent: one target's failure never prevents, blocks,
// or masks delivery to any other target, and is never surfaced to the
// originating caller. Failures land in logs and metrics only.
type Fanout struct {
	log     *slog.Logger
	cache   *Cache
	metrics *metrics.Metrics
}

// NewFanout constructs a Fanout.
func NewFanout(log *slog.Logger, cache *Cache, m *metrics.Metrics) *Fanout {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Fanout{log: log, cache: cache, metrics: m}
}

// Deliver enqueues env on every live connection of target.
func (f *Fanout) Deliver(target int64, env v1.Envelope) error {
	b := f.cache.Get(target)
	if b == nil {
		f.metrics.FanoutDeliveries.WithLabelValues(metrics.OutcomeOffline).Inc()
		return errTargetOffline
	}

	delivered, dropped := b.Broadcast(env)
	switch {
	case delivered > 0:
		f.metrics.FanoutDeliveries.WithLabelValues(metrics.OutcomeDelivered).Inc()
		return nil
	case dropped > 0:
		f.metrics.FanoutDeliveries.WithLabelValues(metrics.OutcomeDropped).Inc()
		return errQueueFull
	default:
		// Bucket exists but holds no connections (a detach raced ahead of
		// eviction): for delivery purposes the target is offline.
		f.metrics.FanoutDeliveries.WithLabelValues(metrics.OutcomeOffline).Inc()
		return errTargetOffline
	}
}

// Settle runs build+deliver for every target concurrently and always waits
// for all of them: a settle-all join, never fail-fast. build may perform the
// per-target durable write (event row) before its envelope is delivered.
func (f *Fanout) Settle(targets []int64, build func(target int64) (v1.Envelope, error)) []Outcome {
	if len(targets) == 0 {
		return nil
	}

	outcomes := make([]Outcome, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target int64) {
			defer wg.Done()

			env, err := build(target)
			if err != nil {
				f.metrics.FanoutDeliveries.WithLabelValues(metrics.OutcomeFailed).Inc()
				outcomes[i] = Outcome{Target: target, Err: err}
				return
			}
			outcomes[i] = Outcome{Target: target, Err: f.Deliver(target, env)}
		}(i, target)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.Err != nil && !errors.Is(o.Err, errTargetOffline) {
			f.log.Info("fanout.deliver.fail", "target", o.Target, "err", o.Err)
		}
	}
	return outcomes
}
