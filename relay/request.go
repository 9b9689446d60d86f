package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// errSilenced is returned by deliver after the request was cancelled by
// stop, supersede or disconnect.
var errSilenced = errors.New("request silenced")

// CancellableRequest is one in-flight upstream request owned by a chat.
//
// Delivery to the client goes through deliver, which holds mu. Cancel takes
// the same lock before it marks the request silenced, so once Cancel
// returns no further event from this request reaches the transport.
type CancellableRequest struct {
	ID        string
	ChatID    string
	StartedAt time.Time
	Deadline  time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   context.CancelFunc

	mu       sync.Mutex
	silenced bool

	done     chan struct{}
	doneOnce sync.Once
}

// newCancellableRequest derives the request context from parent. The
// deadline cause is ErrRequestTimeout.
func newCancellableRequest(parent context.Context, chatID string, timeout time.Duration) *CancellableRequest {
	base, cancel := context.WithCancelCause(parent)
	ctx, stop := context.WithTimeoutCause(base, timeout, ErrRequestTimeout)
	deadline, _ := ctx.Deadline()
	return &CancellableRequest{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		StartedAt: time.Now(),
		Deadline:  deadline,
		ctx:       ctx,
		cancel:    cancel,
		stop:      stop,
		done:      make(chan struct{}),
	}
}

// Context returns the request context.
func (c *CancellableRequest) Context() context.Context { return c.ctx }

// Cancel silences the request and cancels its context with cause.
// It is idempotent; the first cause wins.
func (c *CancellableRequest) Cancel(cause error) {
	c.mu.Lock()
	c.silenced = true
	c.mu.Unlock()
	c.cancel(cause)
}

// Cause returns the cancellation cause, or nil while the request is live.
func (c *CancellableRequest) Cause() error {
	return context.Cause(c.ctx)
}

// Silenced reports whether delivery has been cut off.
func (c *CancellableRequest) Silenced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.silenced
}

// Done is closed when the worker owning the request has exited.
func (c *CancellableRequest) Done() <-chan struct{} { return c.done }

// deliver runs send unless the request has been silenced.
func (c *CancellableRequest) deliver(send func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.silenced {
		return errSilenced
	}
	return send()
}

// finish releases the context timer and marks the worker as exited.
func (c *CancellableRequest) finish() {
	c.doneOnce.Do(func() {
		c.stop()
		c.cancel(nil)
		close(c.done)
	})
}
