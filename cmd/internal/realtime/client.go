package realtime

import (
	"sync"
	"time"

	v1 "fitlink/contracts/realtime/v1"
)

// Client represents one connected websocket session for one user.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent broadcasters.
// - done is used to signal goroutines to stop.
// - Close is idempotent and also disarms the session-expiry timer.
type Client struct {
	SessionID string
	UserID    int64
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	expiry *time.Timer
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID int64, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// ArmExpiry schedules fire after d. The timer is owned by this client and is
// cancelled on Close, so a clean disconnect never fires against a torn-down
// connection. Re-arming replaces the previous timer. A non-positive d fires
// immediately: an already-elapsed deadline still tears the session down.
func (c *Client) ArmExpiry(d time.Duration, fire func()) {
	if c == nil || fire == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expiry != nil {
		c.expiry.Stop()
	}
	c.expiry = time.AfterFunc(d, fire)
}

// CancelExpiry stops the expiry timer if it has not fired yet.
func (c *Client) CancelExpiry() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.CancelExpiry()
		close(c.done)
	})
}
