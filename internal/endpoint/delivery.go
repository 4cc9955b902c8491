package endpoint

import (
	"context"
	"sync"
)

// Delivery tracks one Send. ID is known immediately; Done closes once the
// frame was written, the write failed, or the message was canceled.
type Delivery struct {
	id   uint64
	done chan struct{}
	once sync.Once
	err  error
}

func newDelivery(id uint64) *Delivery {
	return &Delivery{id: id, done: make(chan struct{})}
}

// ID is the per-endpoint message id used by Cancel.
func (d *Delivery) ID() uint64 {
	return d.id
}

func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Err returns the outcome once Done is closed, nil before.
func (d *Delivery) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Wait blocks until the delivery settles or ctx ends. A ctx error does not
// cancel the message; use Endpoint.Cancel for that. A write that timed out
// settles with an error wrapping context.DeadlineExceeded, so callers that
// must tell the two apart should select on Done and read Err.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle reports whether this call decided the outcome.
func (d *Delivery) settle(err error) bool {
	settled := false
	d.once.Do(func() {
		d.err = err
		close(d.done)
		settled = true
	})
	return settled
}
