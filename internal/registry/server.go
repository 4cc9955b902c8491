package registry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/wsframe/internal/endpoint"
	"github.com/danmuck/wsframe/internal/observability"
	"github.com/danmuck/wsframe/internal/transport/wsconn"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrServerClosed = errors.New("registry: server closed")

// Server accepts connections, wraps each in an endpoint and tracks the live
// set by endpoint identity.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[uint64]*endpoint.Endpoint

	lnMu    sync.Mutex
	ln      net.Listener
	httpSrv *http.Server
	closed  bool

	observers serverObservers
}

func New(cfg Config) *Server {
	cfg = cfg.WithDefaults()
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			// Origin policy belongs to the admission hook.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[uint64]*endpoint.Endpoint),
	}
}

func (s *Server) Config() Config {
	return s.cfg
}

// Subscribe registers o for server events and returns its unsubscribe func.
func (s *Server) Subscribe(o ServerObserver) func() {
	return s.observers.add(o)
}

// Accept wraps t in a new endpoint, records it and starts it. Connection
// observers run before the endpoint starts, so they can subscribe to the
// endpoint without missing its open event. The endpoint leaves the table
// when it closes.
func (s *Server) Accept(t endpoint.Transport) *endpoint.Endpoint {
	ep := endpoint.New(t, s.cfg.Endpoint, s.cfg.Identities)
	id := ep.ID()

	s.mu.Lock()
	s.clients[id] = ep
	active := len(s.clients)
	s.mu.Unlock()
	observability.RecordConnectionOpened()
	log.Debug().Uint64("endpoint", id).Int("active", active).Msg("registry connection accepted")

	s.observers.emit(ServerEvent{Kind: ServerEventConnection, Endpoint: ep})
	ep.Subscribe(endpoint.OnKind(endpoint.EventClose, func(ev endpoint.Event) {
		s.remove(id, ev.Code, ev.Reason)
	}))
	ep.Start()
	return ep
}

func (s *Server) remove(id uint64, code int, reason string) {
	s.mu.Lock()
	_, ok := s.clients[id]
	delete(s.clients, id)
	remaining := len(s.clients)
	s.mu.Unlock()
	if !ok {
		return
	}
	observability.RecordConnectionClosed()
	log.Debug().
		Uint64("endpoint", id).
		Int("code", code).
		Str("reason", reason).
		Int("active", remaining).
		Msg("registry connection removed")
}

// ServeHTTP runs the admission hook and upgrades admitted requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.cfg.Path {
		http.NotFound(w, r)
		return
	}
	if s.isClosed() {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	req := AdmissionRequest{
		Origin:     r.Header.Get("Origin"),
		Secure:     r.TLS != nil,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		Header:     r.Header.Clone(),
	}
	if !s.cfg.Admission(r.Context(), req) {
		observability.RecordAdmissionRejected()
		log.Info().Str("remote", req.RemoteAddr).Str("origin", req.Origin).Msg("registry admission rejected")
		s.observers.emit(ServerEvent{Kind: ServerEventRejected, Request: req})
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		log.Debug().Str("remote", req.RemoteAddr).Err(err).Msg("registry upgrade")
		s.observers.emit(ServerEvent{Kind: ServerEventError, Err: fmt.Errorf("registry: upgrade: %w", err)})
		return
	}
	s.Accept(wsconn.New(ws, s.cfg.Conn))
}

// Listen binds the configured address, or adopts Config.Listener, and wraps
// it in TLS when enabled. It is called by Serve when needed.
func (s *Server) Listen() (net.Addr, error) {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.closed {
		return nil, ErrServerClosed
	}
	if s.ln != nil {
		return s.ln.Addr(), nil
	}
	tlsCfg, err := s.cfg.TLS.ServerTLS()
	if err != nil {
		return nil, err
	}
	ln := s.cfg.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", s.cfg.ListenAddr())
		if err != nil {
			return nil, err
		}
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	s.ln = ln
	return ln.Addr(), nil
}

// Serve accepts HTTP connections until ctx ends or Close is called. It
// returns nil on either kind of shutdown.
func (s *Server) Serve(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		s.observers.emit(ServerEvent{Kind: ServerEventError, Err: err})
		return err
	}

	s.lnMu.Lock()
	if s.closed {
		s.lnMu.Unlock()
		return ErrServerClosed
	}
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpSrv = srv
	ln := s.ln
	s.lnMu.Unlock()

	log.Info().Str("addr", addr.String()).Str("path", s.cfg.Path).Msg("registry listening")
	s.observers.emit(ServerEvent{Kind: ServerEventListening, Addr: addr.String()})

	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	defer stop()

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	s.observers.emit(ServerEvent{Kind: ServerEventError, Err: err})
	return err
}

// Close stops accepting connections and emits ServerEventClose. Live
// endpoints stay open unless Config.DisconnectOnClose is set. Only the
// first call has an effect.
func (s *Server) Close() error {
	s.lnMu.Lock()
	if s.closed {
		s.lnMu.Unlock()
		return nil
	}
	s.closed = true
	srv, ln := s.httpSrv, s.ln
	s.lnMu.Unlock()

	var err error
	switch {
	case srv != nil:
		// Hijacked websocket connections are not tracked by http.Server.
		err = srv.Close()
	case ln != nil:
		err = ln.Close()
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	if s.cfg.DisconnectOnClose {
		for _, ep := range s.Clients() {
			_ = ep.Close(websocket.CloseGoingAway, "server closing")
		}
	}
	log.Info().Err(err).Int("clients", s.Len()).Msg("registry closed")
	s.observers.emit(ServerEvent{Kind: ServerEventClose, Err: err})
	return err
}

func (s *Server) isClosed() bool {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	return s.closed
}

// Addr is the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Clients returns the live endpoints ordered by identity.
func (s *Server) Clients() []*endpoint.Endpoint {
	s.mu.RLock()
	out := make([]*endpoint.Endpoint, 0, len(s.clients))
	for _, ep := range s.clients {
		out = append(out, ep)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Server) Client(id uint64) (*endpoint.Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.clients[id]
	return ep, ok
}

func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
