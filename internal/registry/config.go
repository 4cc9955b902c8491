package registry

import (
	"net"
	"strconv"
	"strings"

	"github.com/danmuck/wsframe/internal/endpoint"
	"github.com/danmuck/wsframe/internal/security"
	"github.com/danmuck/wsframe/internal/transport/wsconn"
)

const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8080
	DefaultPath            = "/"
	DefaultMaxPayloadBytes = 10 * 1024 * 1024
	MinMaxPayloadBytes     = 1024
)

// Config defines one registry server.
type Config struct {
	Host string
	Port int
	// Path is the HTTP path upgrades are served on.
	Path string
	// MaxPayloadBytes caps inbound messages. Values below MinMaxPayloadBytes
	// are raised to it; zero selects DefaultMaxPayloadBytes.
	MaxPayloadBytes int64
	// Listener, when set, is used instead of binding Host:Port.
	Listener  net.Listener
	Admission AdmissionHook
	TLS       security.TLSConfig
	Endpoint  endpoint.Config
	Conn      wsconn.Options
	// DisconnectOnClose closes every live endpoint with 1001 when the server closes.
	DisconnectOnClose bool
	Identities        *endpoint.IdentityGenerator
}

func DefaultConfig() Config {
	return Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		Path:            DefaultPath,
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		Admission:       AllowAll,
		Endpoint:        endpoint.DefaultConfig(),
		Conn:            wsconn.DefaultOptions(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port <= 0 {
		c.Port = def.Port
	}
	c.Path = strings.TrimSpace(c.Path)
	if c.Path == "" {
		c.Path = def.Path
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	switch {
	case c.MaxPayloadBytes <= 0:
		c.MaxPayloadBytes = def.MaxPayloadBytes
	case c.MaxPayloadBytes < MinMaxPayloadBytes:
		c.MaxPayloadBytes = MinMaxPayloadBytes
	}
	if c.Admission == nil {
		c.Admission = AllowAll
	}
	c.Endpoint = c.Endpoint.WithDefaults()
	c.Conn.MaxPayloadBytes = c.MaxPayloadBytes
	c.Conn = c.Conn.WithDefaults()
	if c.Identities == nil {
		c.Identities = endpoint.NewIdentityGenerator()
	}
	return c
}

// ListenAddr is Host:Port.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
