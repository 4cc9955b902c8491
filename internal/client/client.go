// Package client dials a framed WebSocket server and returns a started endpoint.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/wsframe/internal/endpoint"
	"github.com/danmuck/wsframe/internal/security"
	"github.com/danmuck/wsframe/internal/transport/wsconn"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidURL        = errors.New("client: invalid websocket url")
	ErrHandshakeRejected = errors.New("client: handshake rejected")
	ErrHandshakeFailed   = errors.New("client: handshake failed")
)

// Config defines how to reach one server.
type Config struct {
	URL    string
	Header http.Header
	TLS    security.TLSConfig
	// MaxPayloadBytes applies to both directions unless Endpoint or Conn set
	// their own limit.
	MaxPayloadBytes  uint64
	HandshakeTimeout time.Duration
	// MaxAttempts <= 0 retries until ctx ends.
	MaxAttempts int
	Backoff     endpoint.BackoffConfig
	Endpoint    endpoint.Config
	Conn        wsconn.Options
	Identities  *endpoint.IdentityGenerator
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		MaxAttempts:      1,
		Backoff:          endpoint.DefaultRetryBackoff(),
		Endpoint:         endpoint.DefaultConfig(),
		Conn:             wsconn.DefaultOptions(),
	}
}

// WithDefaults fills unset fields from DefaultConfig. A zero Backoff takes the
// jittered retry default; a partly set Backoff keeps its own Jitter choice.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.URL = strings.TrimSpace(c.URL)
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	c.Backoff = c.Backoff.Or(def.Backoff)
	if c.Endpoint.MaxPayloadBytes == 0 {
		c.Endpoint.MaxPayloadBytes = c.MaxPayloadBytes
	}
	if c.Conn.MaxPayloadBytes == 0 && c.MaxPayloadBytes > 0 {
		c.Conn.MaxPayloadBytes = int64(c.MaxPayloadBytes)
	}
	c.Endpoint = c.Endpoint.WithDefaults()
	c.Conn = c.Conn.WithDefaults()
	return c
}

func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if u.Scheme == "wss" || c.TLS.Enabled {
		return c.TLS.ValidateClient()
	}
	return nil
}

// Dial connects to cfg.URL, retrying with backoff, and returns a started
// endpoint. observers are subscribed before the endpoint starts so they see
// the open event.
func Dial(ctx context.Context, cfg Config, observers ...endpoint.Observer) (*endpoint.Endpoint, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialer, err := newDialer(cfg)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var attempt int
	for {
		attempt++
		ws, err := dialOnce(ctx, dialer, cfg)
		if err == nil {
			ep := endpoint.New(wsconn.New(ws, cfg.Conn), cfg.Endpoint, cfg.Identities)
			for _, o := range observers {
				ep.Subscribe(o)
			}
			ep.Start()
			log.Debug().Uint64("endpoint", ep.ID()).Str("url", cfg.URL).Int("attempt", attempt).Msg("client connected")
			return ep, nil
		}
		log.Warn().Int("attempt", attempt).Str("url", cfg.URL).Err(err).Msg("client dial")
		if errors.Is(err, ErrHandshakeRejected) || !shouldRetry(cfg.MaxAttempts, attempt) {
			return nil, err
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func newDialer(cfg Config) (*websocket.Dialer, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	tlsCfg, err := cfg.TLS.ClientTLS()
	if err != nil {
		return nil, err
	}
	dialer.TLSClientConfig = tlsCfg
	return dialer, nil
}

func dialOnce(ctx context.Context, dialer *websocket.Dialer, cfg Config) (*websocket.Conn, error) {
	ws, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			_ = resp.Body.Close()
			// 4xx is the server's admission answer; anything else may be transient.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, fmt.Errorf("%w: status %d", ErrHandshakeRejected, resp.StatusCode)
			}
			return nil, fmt.Errorf("%w: status %d", ErrHandshakeFailed, resp.StatusCode)
		}
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return ws, nil
}

func shouldRetry(maxAttempts, attempt int) bool {
	if maxAttempts <= 0 {
		return true
	}
	return attempt < maxAttempts
}

func sleepBackoff(ctx context.Context, cfg endpoint.BackoffConfig, attempt int, rng *rand.Rand) error {
	timer := time.NewTimer(endpoint.NextBackoffDelay(cfg, attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
