// Package endpointtest provides a scriptable in-memory endpoint.Transport.
package endpointtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/wsframe/internal/endpoint"
)

var ErrClosed = errors.New("endpointtest: transport closed")

// Write is one transport write held until the test completes it.
type Write struct {
	Data   []byte
	result chan error
}

// Complete finishes the write with err (nil for success).
func (w Write) Complete(err error) {
	w.result <- err
}

// Transport hands every Write to the test through Writes and blocks until
// the test calls Complete. It records the peak number of concurrent writes.
type Transport struct {
	writes chan Write

	mu      sync.Mutex
	sink    endpoint.Sink
	written [][]byte

	state       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	closeOnce   sync.Once
}

func New() *Transport {
	t := &Transport{writes: make(chan Write, 64)}
	t.state.Store(int32(endpoint.StateOpen))
	return t
}

func (t *Transport) Write(ctx context.Context, data []byte) error {
	n := t.inFlight.Add(1)
	defer t.inFlight.Add(-1)
	for {
		peak := t.maxInFlight.Load()
		if n <= peak || t.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if t.State() == endpoint.StateClosed {
		return ErrClosed
	}

	w := Write{Data: append([]byte(nil), data...), result: make(chan error, 1)}
	t.writes <- w
	select {
	case err := <-w.result:
		if err == nil {
			t.mu.Lock()
			t.written = append(t.written, w.Data)
			t.mu.Unlock()
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) State() endpoint.State {
	return endpoint.State(t.state.Load())
}

// Close reports HandleClose to the attached sink once.
func (t *Transport) Close(code int, reason string) error {
	t.state.Store(int32(endpoint.StateClosing))
	t.closeOnce.Do(func() {
		t.state.Store(int32(endpoint.StateClosed))
		if sink := t.Sink(); sink != nil {
			sink.HandleClose(code, reason)
		}
	})
	return nil
}

func (t *Transport) Start(sink endpoint.Sink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
	sink.HandleOpen()
}

func (t *Transport) Sink() endpoint.Sink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sink
}

// Deliver pushes one inbound frame to the sink.
func (t *Transport) Deliver(data []byte) {
	if sink := t.Sink(); sink != nil {
		sink.Receive(data)
	}
}

// NextWrite waits for the next pending write.
func (t *Transport) NextWrite(tb testing.TB, timeout time.Duration) Write {
	tb.Helper()
	select {
	case w := <-t.writes:
		return w
	case <-time.After(timeout):
		tb.Fatalf("no transport write within %v", timeout)
		return Write{}
	}
}

// NoWrite fails the test if a write arrives within wait.
func (t *Transport) NoWrite(tb testing.TB, wait time.Duration) {
	tb.Helper()
	select {
	case w := <-t.writes:
		tb.Fatalf("unexpected transport write of %d bytes", len(w.Data))
	case <-time.After(wait):
	}
}

// Written returns every successfully completed write in order.
func (t *Transport) Written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.written))
	copy(out, t.written)
	return out
}

func (t *Transport) MaxInFlight() int {
	return int(t.maxInFlight.Load())
}

// Buffered wraps Transport with a BufferedAmount that drains by one per poll.
type Buffered struct {
	*Transport
	pending atomic.Int32
	polls   atomic.Int32
}

func NewBuffered(pendingPolls int) *Buffered {
	b := &Buffered{Transport: New()}
	b.pending.Store(int32(pendingPolls))
	return b
}

func (b *Buffered) BufferedAmount() int {
	b.polls.Add(1)
	for {
		v := b.pending.Load()
		if v <= 0 {
			return 0
		}
		if b.pending.CompareAndSwap(v, v-1) {
			return int(v)
		}
	}
}

func (b *Buffered) Polls() int {
	return int(b.polls.Load())
}

var (
	_ endpoint.Transport         = (*Transport)(nil)
	_ endpoint.BufferedTransport = (*Buffered)(nil)
)
