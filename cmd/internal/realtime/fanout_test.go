package realtime

import (
	"errors"
	"testing"

	"fitlink/cmd/internal/metrics"
	v1 "fitlink/contracts/realtime/v1"
)

func TestFanoutDeliver(t *testing.T) {
	t.Parallel()

	cache := NewCache(discardLogger())
	fan := NewFanout(discardLogger(), cache, metrics.NewNop())

	if err := fan.Deliver(1, v1.Envelope{Kind: v1.KindStatus}); !errors.Is(err, errTargetOffline) {
		t.Fatalf("offline target: err = %v, want errTargetOffline", err)
	}

	c := NewClient(1, "s1", 4)
	cache.Attach(1, c)

	if err := fan.Deliver(1, v1.Envelope{Kind: v1.KindStatus}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	select {
	case env := <-c.Send:
		if env.Kind != v1.KindStatus {
			t.Fatalf("kind = %q, want %q", env.Kind, v1.KindStatus)
		}
	default:
		t.Fatal("nothing delivered")
	}
}

func TestFanoutSettleAll(t *testing.T) {
	t.Parallel()

	cache := NewCache(discardLogger())
	fan := NewFanout(discardLogger(), cache, metrics.NewNop())

	// 2 is online, 3 is offline, 4's build fails.
	online := NewClient(2, "s2", 4)
	cache.Attach(2, online)

	buildErr := errors.New("boom")
	outcomes := fan.Settle([]int64{2, 3, 4}, func(target int64) (v1.Envelope, error) {
		if target == 4 {
			return v1.Envelope{}, buildErr
		}
		return v1.Envelope{Kind: v1.KindEvent}, nil
	})

	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}

	byTarget := make(map[int64]error, len(outcomes))
	for _, o := range outcomes {
		byTarget[o.Target] = o.Err
	}

	if byTarget[2] != nil {
		t.Fatalf("online target: err = %v, want nil", byTarget[2])
	}
	if !errors.Is(byTarget[3], errTargetOffline) {
		t.Fatalf("offline target: err = %v, want errTargetOffline", byTarget[3])
	}
	if !errors.Is(byTarget[4], buildErr) {
		t.Fatalf("failed build: err = %v, want %v", byTarget[4], buildErr)
	}

	// The failing targets never prevented delivery to the healthy one.
	select {
	case <-online.Send:
	default:
		t.Fatal("healthy target received nothing")
	}
}

func TestFanoutDeliverConnlessBucketIsOffline(t *testing.T) {
	t.Parallel()

	cache := NewCache(discardLogger())
	fan := NewFanout(discardLogger(), cache, metrics.NewNop())

	// Bucket mapped but without connections: the last session detached and
	// eviction has not run yet. Delivery-wise that user is offline, not a
	// successful broadcast to nobody.
	b, _ := cache.Attach(1, NewClient(1, "s1", 4))
	b.Detach("s1")

	if err := fan.Deliver(1, v1.Envelope{Kind: v1.KindStatus}); !errors.Is(err, errTargetOffline) {
		t.Fatalf("connless bucket: err = %v, want errTargetOffline", err)
	}
}

func TestFanoutSettleEmpty(t *testing.T) {
	t.Parallel()

	fan := NewFanout(discardLogger(), NewCache(discardLogger()), metrics.NewNop())
	if out := fan.Settle(nil, nil); out != nil {
		t.Fatalf("Settle(nil) = %v, want nil", out)
	}
}
