package endpoint

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/wsframe/internal/observability"
	"github.com/danmuck/wsframe/internal/protocol"
	"github.com/danmuck/wsframe/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// entry is one pending send. dispatched flips exactly once, under Endpoint.mu.
type entry struct {
	id         uint64
	size       uint64
	data       []byte
	queuedAt   time.Time
	dispatched bool
	delivery   *Delivery
}

// Endpoint frames messages onto one Transport and serializes delivery.
type Endpoint struct {
	id        uint64
	transport Transport
	cfg       Config
	logger    zerolog.Logger

	mu            sync.Mutex
	nextMessageID uint64
	queue         *list.List
	index         map[uint64]*list.Element
	queuedBytes   uint64
	closed        bool

	ctx    context.Context
	cancel context.CancelFunc

	observers observerSet
	startOnce sync.Once
	closeOnce sync.Once

	// interrupted, when set, sees each id HandleClose settles, in order.
	interrupted func(id uint64)
}

var _ Sink = (*Endpoint)(nil)

// New wraps t. A nil ids uses DefaultIdentities. The endpoint does not read
// from t until Start is called.
func New(t Transport, cfg Config, ids *IdentityGenerator) *Endpoint {
	if ids == nil {
		ids = DefaultIdentities
	}
	id := ids.Next()
	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		id:        id,
		transport: t,
		cfg:       cfg.WithDefaults(),
		logger:    log.With().Uint64("endpoint", id).Logger(),
		queue:     list.New(),
		index:     make(map[uint64]*list.Element),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (ep *Endpoint) ID() uint64 {
	return ep.id
}

// State reads through to the transport.
func (ep *Endpoint) State() State {
	return ep.transport.State()
}

// QueuedBytes is the encoded size of every queued, unsettled message.
func (ep *Endpoint) QueuedBytes() uint64 {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.queuedBytes
}

func (ep *Endpoint) QueueLen() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.queue.Len()
}

// Subscribe registers o for all future events and returns its unsubscribe func.
func (ep *Endpoint) Subscribe(o Observer) func() {
	return ep.observers.add(o)
}

// Start attaches the endpoint to its transport. Subsequent calls are no-ops.
func (ep *Endpoint) Start() {
	ep.startOnce.Do(func() {
		ep.transport.Start(ep)
	})
}

// Close asks the transport to close. Queued messages settle when the
// transport reports HandleClose.
func (ep *Endpoint) Close(code int, reason string) error {
	return ep.transport.Close(code, reason)
}

// Send frames title and payload and queues it behind earlier sends.
// Errors returned here mean nothing was queued.
func (ep *Endpoint) Send(title string, payload []byte) (*Delivery, error) {
	data, err := frame.Encode(title, payload)
	if err != nil {
		observability.RecordSend(observability.SendRejected, 0)
		return nil, err
	}
	size := uint64(len(data))
	if ep.cfg.MaxPayloadBytes > 0 && size > ep.cfg.MaxPayloadBytes {
		observability.RecordSend(observability.SendRejected, 0)
		return nil, fmt.Errorf("%w: frame %d bytes exceeds limit %d", protocol.ErrPayloadTooLarge, size, ep.cfg.MaxPayloadBytes)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		observability.RecordSend(observability.SendRejected, 0)
		return nil, protocol.ErrConnectionInterrupted
	}

	id := ep.nextMessageID
	ep.nextMessageID++
	e := &entry{
		id:       id,
		size:     size,
		data:     data,
		queuedAt: time.Now(),
		delivery: newDelivery(id),
	}
	ep.index[id] = ep.queue.PushBack(e)
	ep.queuedBytes += size
	observability.AddQueuedBytes(int64(size))

	ep.logger.Debug().
		Uint64("message_id", id).
		Str("title", title).
		Uint64("bytes", size).
		Int("queue_len", ep.queue.Len()).
		Msg("send queued")

	if ep.queue.Len() == 1 {
		ep.dispatchLocked(e, nil)
	}
	return e.delivery, nil
}

// Cancel fails a queued message that has not been handed to the transport.
// A nil reason uses protocol.ErrSendCanceled. Canceling the in-flight head or
// an unknown id is a no-op and returns false. The queue is not advanced here:
// only a finished transport write moves the head.
func (ep *Endpoint) Cancel(messageID uint64, reason error) bool {
	if reason == nil {
		reason = protocol.ErrSendCanceled
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	el, ok := ep.index[messageID]
	if !ok {
		return false
	}
	e := el.Value.(*entry)
	if e.dispatched {
		return false
	}
	ep.dispatchLocked(e, reason)
	return true
}

// dispatchLocked is the single trigger for an entry. With a reason the entry
// settles as failed; without, its frame is handed to the transport.
func (ep *Endpoint) dispatchLocked(e *entry, reason error) {
	if e.dispatched {
		return
	}
	e.dispatched = true
	if reason != nil {
		ep.removeLocked(e)
		e.delivery.settle(reason)
		observability.RecordSend(outcome(reason), 0)
		ep.logger.Debug().Uint64("message_id", e.id).Err(reason).Msg("send canceled")
		return
	}
	go ep.transmit(e)
}

func (ep *Endpoint) transmit(e *entry) {
	err := ep.write(e.data)

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.removeLocked(e) {
		if err != nil {
			err = fmt.Errorf("%w: %w", protocol.ErrTransportWrite, err)
			observability.RecordSend(observability.SendFailed, 0)
			ep.logger.Warn().Uint64("message_id", e.id).Err(err).Msg("send failed")
		} else {
			observability.RecordSend(observability.SendDelivered, time.Since(e.queuedAt))
		}
		e.delivery.settle(err)
	}
	if ep.closed {
		return
	}
	if front := ep.queue.Front(); front != nil {
		ep.dispatchLocked(front.Value.(*entry), nil)
	}
}

func (ep *Endpoint) write(data []byte) error {
	ctx := ep.ctx
	if ep.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.cfg.WriteTimeout)
		defer cancel()
	}
	if err := ep.transport.Write(ctx, data); err != nil {
		return err
	}
	if bt, ok := ep.transport.(BufferedTransport); ok {
		return ep.awaitDrain(ctx, bt)
	}
	return nil
}

// awaitDrain polls BufferedAmount with capped exponential backoff.
func (ep *Endpoint) awaitDrain(ctx context.Context, bt BufferedTransport) error {
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(NextBackoffDelay(ep.cfg.Drain, attempt, nil))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if bt.BufferedAmount() == 0 {
			return nil
		}
	}
}

// removeLocked reports whether e was still queued.
func (ep *Endpoint) removeLocked(e *entry) bool {
	el, ok := ep.index[e.id]
	if !ok {
		return false
	}
	ep.queue.Remove(el)
	delete(ep.index, e.id)
	ep.queuedBytes -= e.size
	observability.AddQueuedBytes(-int64(e.size))
	return true
}

// Receive decodes one inbound frame. Malformed frames surface as EventError
// and leave the connection untouched.
func (ep *Endpoint) Receive(data []byte) {
	msg, err := frame.Decode(data)
	if err != nil {
		observability.RecordDecodeError()
		ep.logger.Warn().Int("bytes", len(data)).Err(err).Msg("decode frame")
		ep.observers.emit(Event{Kind: EventError, EndpointID: ep.id, Err: err})
		return
	}
	observability.RecordReceive()
	ep.observers.emit(Event{
		Kind:       EventMessage,
		EndpointID: ep.id,
		Title:      msg.Title,
		Payload:    msg.Payload,
	})
}

func (ep *Endpoint) HandleOpen() {
	ep.logger.Debug().Msg("endpoint open")
	ep.observers.emit(Event{Kind: EventOpen, EndpointID: ep.id})
}

// HandleError surfaces a transport-level failure. Whether the connection
// closes is up to the transport.
func (ep *Endpoint) HandleError(err error) {
	if err == nil {
		return
	}
	if !errors.Is(err, protocol.ErrConnection) {
		err = fmt.Errorf("%w: %w", protocol.ErrConnection, err)
	}
	ep.logger.Warn().Err(err).Msg("transport error")
	ep.observers.emit(Event{Kind: EventError, EndpointID: ep.id, Err: err})
}

// HandleClose settles every remaining message, newest first, with
// protocol.ErrConnectionInterrupted, then emits EventClose. Only the first
// call has an effect.
func (ep *Endpoint) HandleClose(code int, reason string) {
	ep.closeOnce.Do(func() {
		ep.mu.Lock()
		ep.closed = true
		pending := make([]*entry, 0, ep.queue.Len())
		for el := ep.queue.Back(); el != nil; el = el.Prev() {
			pending = append(pending, el.Value.(*entry))
		}
		for _, e := range pending {
			e.dispatched = true
			ep.removeLocked(e)
			if e.delivery.settle(protocol.ErrConnectionInterrupted) {
				observability.RecordSend(observability.SendInterrupted, 0)
			}
			if ep.interrupted != nil {
				ep.interrupted(e.id)
			}
		}
		ep.mu.Unlock()
		ep.cancel()

		ep.logger.Debug().
			Int("code", code).
			Str("reason", reason).
			Int("interrupted", len(pending)).
			Msg("endpoint closed")
		ep.observers.emit(Event{
			Kind:       EventClose,
			EndpointID: ep.id,
			Code:       code,
			Reason:     reason,
		})
	})
}

func outcome(err error) string {
	switch {
	case errors.Is(err, protocol.ErrConnectionInterrupted):
		return observability.SendInterrupted
	default:
		return observability.SendCanceled
	}
}
