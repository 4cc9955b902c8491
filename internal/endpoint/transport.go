package endpoint

import "context"

// State mirrors the underlying transport's ready state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the capability an adapter supplies to an Endpoint.
//
// Write carries exactly one frame and returns once the adapter accepted or
// rejected it; the endpoint never calls Write concurrently. Start hands the
// adapter its Sink; from then on inbound frames and lifecycle changes are
// reported through it, and HandleClose must be reported exactly once.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	State() State
	Close(code int, reason string) error
	Start(sink Sink)
}

// BufferedTransport is implemented by adapters whose Write only enqueues
// bytes. A write is complete once BufferedAmount drains to zero.
type BufferedTransport interface {
	Transport
	BufferedAmount() int
}

// Sink receives inbound traffic and lifecycle notifications from an adapter.
type Sink interface {
	Receive(data []byte)
	HandleOpen()
	HandleError(err error)
	HandleClose(code int, reason string)
}
