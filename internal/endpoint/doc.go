// Package endpoint owns one framed connection: outbound framing, the
// serialized send queue, inbound deframing and typed lifecycle events.
//
// Ownership boundary:
// - Endpoint: queue state machine (FIFO, one write in flight, cancel, close drain)
// - Transport/Sink: capability contract adapters implement
// - Observer: typed notifications for open/message/error/close
//
// The endpoint never sees concrete socket types; adapters under
// internal/transport normalize inbound data to []byte before calling Receive.
package endpoint
