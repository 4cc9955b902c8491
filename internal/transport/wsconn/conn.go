// Package wsconn adapts a gorilla/websocket connection to endpoint.Transport.
//
// One WebSocket binary message carries one frame. Text messages are handed
// to the endpoint as raw bytes so the endpoint only ever sees []byte.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wsframe/internal/endpoint"
	"github.com/danmuck/wsframe/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrNotOpen = errors.New("wsconn: connection not open")

// Options tunes one adapted connection.
type Options struct {
	// MaxPayloadBytes caps inbound message size. Zero means no limit.
	MaxPayloadBytes int64
	// WriteTimeout applies when the write context carries no deadline.
	WriteTimeout time.Duration
	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration
	// PongWait is how long to wait for any inbound traffic once pinging.
	PongWait time.Duration
	// CloseGrace bounds the close control frame write.
	CloseGrace time.Duration
}

func DefaultOptions() Options {
	return Options{
		WriteTimeout: 15 * time.Second,
		PingInterval: 0,
		PongWait:     60 * time.Second,
		CloseGrace:   time.Second,
	}
}

func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.PongWait <= 0 {
		o.PongWait = def.PongWait
	}
	if o.PingInterval > 0 && o.PingInterval >= o.PongWait {
		o.PongWait = o.PingInterval * 2
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = def.CloseGrace
	}
	if o.MaxPayloadBytes < 0 {
		o.MaxPayloadBytes = 0
	}
	return o
}

// Conn is an open WebSocket connection.
type Conn struct {
	ws   *websocket.Conn
	opts Options

	state       atomic.Int32
	localClose  atomic.Bool
	writeMu     sync.Mutex
	done        chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string

	sinkMu   sync.Mutex
	sink     endpoint.Sink
	reported bool
}

var _ endpoint.Transport = (*Conn)(nil)

// New adapts an already upgraded or dialed connection.
func New(ws *websocket.Conn, opts Options) *Conn {
	c := &Conn{
		ws:   ws,
		opts: opts.WithDefaults(),
		done: make(chan struct{}),
	}
	c.state.Store(int32(endpoint.StateOpen))
	return c
}

func (c *Conn) State() endpoint.State {
	return endpoint.State(c.state.Load())
}

// RemoteAddr is the peer address of the underlying socket.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Write sends data as one binary message. Cancelling ctx aborts a blocked write.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if c.State() != endpoint.StateOpen {
		return ErrNotOpen
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.WriteTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

// Close sends a close frame with code and reason and tears the socket down.
func (c *Conn) Close(code int, reason string) error {
	if c.State() == endpoint.StateClosed {
		return nil
	}
	c.localClose.Store(true)
	c.state.Store(int32(endpoint.StateClosing))
	msg := websocket.FormatCloseMessage(code, reason)
	err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.CloseGrace))
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	c.finish(code, reason)
	return err
}

// Start begins the read loop and reports open to sink.
func (c *Conn) Start(sink endpoint.Sink) {
	c.sinkMu.Lock()
	c.sink = sink
	closedEarly := c.State() == endpoint.StateClosed && !c.reported
	if closedEarly {
		c.reported = true
	}
	c.sinkMu.Unlock()
	if closedEarly {
		sink.HandleClose(c.closeCode, c.closeReason)
		return
	}

	if c.opts.MaxPayloadBytes > 0 {
		c.ws.SetReadLimit(c.opts.MaxPayloadBytes)
	}
	if c.opts.PingInterval > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		})
		go c.pingLoop()
	}
	sink.HandleOpen()
	go c.readLoop(sink)
}

func (c *Conn) readLoop(sink endpoint.Sink) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			code, reason := closeInfo(err)
			if !c.localClose.Load() && !isNormalClose(err) {
				sink.HandleError(fmt.Errorf("%w: %w", protocol.ErrConnection, err))
			}
			c.finish(code, reason)
			return
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		if c.opts.PingInterval > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		}
		sink.Receive(data)
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
			if err != nil {
				log.Debug().Str("remote", c.RemoteAddr()).Err(err).Msg("wsconn ping failed")
				return
			}
		}
	}
}

// finish marks the connection closed and reports HandleClose exactly once.
func (c *Conn) finish(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.state.Store(int32(endpoint.StateClosed))
		close(c.done)
		_ = c.ws.Close()

		c.sinkMu.Lock()
		sink := c.sink
		report := sink != nil && !c.reported
		if report {
			c.reported = true
		}
		c.sinkMu.Unlock()
		if report {
			sink.HandleClose(code, reason)
		}
	})
}

func closeInfo(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, ""
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
