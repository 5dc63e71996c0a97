package admission

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/propflow/ai-services/internal/counter"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	Admit Decision = iota
	Reject
)

func (d Decision) String() string {
	if d == Reject {
		return "reject"
	}
	return "admit"
}

// Controller protects the message-processing delegate from excessive
// per-user call volume using a fixed-window counter.
//
// Counter-store failures never block a message: the controller fails open
// and admits, logging the error. Rejections do not consume a slot, so a
// throttled user's window is never extended by retrying.
type Controller struct {
	store     counter.Store
	threshold int64
	window    time.Duration
	timeout   time.Duration
}

// NewController creates an admission controller over the given counter store.
func NewController(store counter.Store, threshold int, window, timeout time.Duration) *Controller {
	return &Controller{
		store:     store,
		threshold: int64(threshold),
		window:    window,
		timeout:   timeout,
	}
}

// Admit decides whether a message from userID may proceed. On Admit, the
// user's counter is incremented as a side effect; on Reject the counter is
// left untouched.
func (c *Controller) Admit(ctx context.Context, userID string) Decision {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	key := counterKey(userID)

	count, found, err := c.store.Get(ctx, key)
	if err != nil {
		log.Printf("Warning: rate limit check unavailable for user %s, admitting: %v", userID, err)
		return Admit
	}
	if !found {
		count = 0
	}

	if count >= c.threshold {
		return Reject
	}

	if _, err := c.store.IncrementWithExpiry(ctx, key, c.window); err != nil {
		log.Printf("Warning: failed to update rate limit for user %s: %v", userID, err)
	}

	return Admit
}

func counterKey(userID string) string {
	return fmt.Sprintf("rate_limit:%s", userID)
}
