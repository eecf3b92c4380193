package realtime

import (
	"testing"
	"time"
)

func TestClientExpiryFires(t *testing.T) {
	t.Parallel()

	c := NewClient(1, "s1", 4)
	fired := make(chan struct{})
	c.ArmExpiry(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry timer never fired")
	}
}

func TestClientExpiryFiresForElapsedDeadline(t *testing.T) {
	t.Parallel()

	// A deadline already in the past must still tear the session down, not
	// leave it running with no expiry armed.
	c := NewClient(1, "s1", 4)
	fired := make(chan struct{})
	c.ArmExpiry(-time.Second, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("elapsed deadline never fired")
	}
}

func TestClientCancelExpiryPreventsFiring(t *testing.T) {
	t.Parallel()

	c := NewClient(1, "s1", 4)
	fired := make(chan struct{})
	c.ArmExpiry(50*time.Millisecond, func() { close(fired) })
	c.CancelExpiry()

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClientCloseIsIdempotentAndDisarms(t *testing.T) {
	t.Parallel()

	c := NewClient(1, "s1", 4)
	fired := make(chan struct{})
	c.ArmExpiry(50*time.Millisecond, func() { close(fired) })

	c.Close()
	c.Close()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Close")
	}

	select {
	case <-fired:
		t.Fatal("timer fired after Close")
	case <-time.After(200 * time.Millisecond):
	}
}
