package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wsframe/internal/auth"
	"github.com/danmuck/wsframe/internal/client"
	"github.com/danmuck/wsframe/internal/registry"
	"github.com/danmuck/wsframe/internal/security"
	"golang.org/x/time/rate"
)

// wsframectl config.toml key mapping.
type fileConfig struct {
	Server serverSection `toml:"server"`
	Admin  adminSection  `toml:"admin"`
	Client clientSection `toml:"client"`
}

type tlsSection struct {
	SecurityMode       string `toml:"security_mode"`
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
}

type serverSection struct {
	Host              string     `toml:"host"`
	Port              int        `toml:"port"`
	Path              string     `toml:"path"`
	MaxPayloadBytes   int64      `toml:"max_payload_bytes"`
	DisconnectOnClose bool       `toml:"disconnect_on_close"`
	AllowedOrigins    []string   `toml:"allowed_origins"`
	RequireSecure     bool       `toml:"require_secure"`
	AuthTokens        []string   `toml:"auth_tokens"`
	AdmissionRate     float64    `toml:"admission_rate"`
	AdmissionBurst    int        `toml:"admission_burst"`
	Echo              bool       `toml:"echo"`
	PingInterval      string     `toml:"ping_interval"`
	WriteTimeout      string     `toml:"write_timeout"`
	SendMaxPayload    uint64     `toml:"send_max_payload_bytes"`
	TLS               tlsSection `toml:"tls"`
}

type adminSection struct {
	Addr        string   `toml:"addr"`
	ID          string   `toml:"id"`
	CORSOrigins []string `toml:"cors_origins"`
}

type clientSection struct {
	URL              string            `toml:"url"`
	MaxAttempts      int               `toml:"max_attempts"`
	HandshakeTimeout string            `toml:"handshake_timeout"`
	MaxPayloadBytes  uint64            `toml:"max_payload_bytes"`
	Headers          map[string]string `toml:"headers"`
	TLS              tlsSection        `toml:"tls"`
}

// serveConfig is everything `wsframectl serve` runs with.
type serveConfig struct {
	Registry    registry.Config
	Echo        bool
	AdminAddr   string
	AdminID     string
	CORSOrigins []string
}

func defaultServeConfig() serveConfig {
	return serveConfig{
		Registry: registry.DefaultConfig(),
		AdminID:  "wsframe",
	}
}

// loadServeConfig overlays the [server] and [admin] tables of path onto the
// defaults. An empty path yields the defaults.
func loadServeConfig(path string) (serveConfig, error) {
	cfg := defaultServeConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serveConfig{}, fmt.Errorf("load serve config: %w", err)
	}
	srv := raw.Server
	reg := &cfg.Registry

	if meta.IsDefined("server", "host") {
		reg.Host = strings.TrimSpace(srv.Host)
	}
	if meta.IsDefined("server", "port") {
		if srv.Port <= 0 || srv.Port > 65535 {
			return serveConfig{}, fmt.Errorf("load serve config: invalid server.port %d", srv.Port)
		}
		reg.Port = srv.Port
	}
	if meta.IsDefined("server", "path") {
		reg.Path = strings.TrimSpace(srv.Path)
	}
	if meta.IsDefined("server", "max_payload_bytes") {
		reg.MaxPayloadBytes = srv.MaxPayloadBytes
	}
	if meta.IsDefined("server", "send_max_payload_bytes") {
		reg.Endpoint.MaxPayloadBytes = srv.SendMaxPayload
	}
	if meta.IsDefined("server", "disconnect_on_close") {
		reg.DisconnectOnClose = srv.DisconnectOnClose
	}
	if meta.IsDefined("server", "echo") {
		cfg.Echo = srv.Echo
	}
	if meta.IsDefined("server", "ping_interval") {
		d, err := parseDuration("server.ping_interval", srv.PingInterval)
		if err != nil {
			return serveConfig{}, err
		}
		reg.Conn.PingInterval = d
	}
	if meta.IsDefined("server", "write_timeout") {
		d, err := parseDuration("server.write_timeout", srv.WriteTimeout)
		if err != nil {
			return serveConfig{}, err
		}
		reg.Conn.WriteTimeout = d
		reg.Endpoint.WriteTimeout = d
	}
	if meta.IsDefined("server", "tls") {
		reg.TLS = tlsFromSection(srv.TLS)
		if err := reg.TLS.ValidateServer(); err != nil {
			return serveConfig{}, fmt.Errorf("load serve config: %w", err)
		}
	}

	hooks := make([]registry.AdmissionHook, 0, 4)
	if meta.IsDefined("server", "admission_rate") {
		if srv.AdmissionRate <= 0 {
			return serveConfig{}, fmt.Errorf("load serve config: server.admission_rate must be positive")
		}
		burst := srv.AdmissionBurst
		if burst <= 0 {
			burst = int(srv.AdmissionRate) + 1
		}
		hooks = append(hooks, registry.RateLimited(rate.NewLimiter(rate.Limit(srv.AdmissionRate), burst), nil))
	}
	if srv.RequireSecure {
		hooks = append(hooks, registry.RequireSecure)
	}
	if len(srv.AllowedOrigins) > 0 {
		hooks = append(hooks, registry.AllowOrigins(srv.AllowedOrigins...))
	}
	if meta.IsDefined("server", "auth_tokens") {
		tokens := auth.NewTokens(srv.AuthTokens...)
		if tokens.Len() == 0 {
			return serveConfig{}, fmt.Errorf("load serve config: server.auth_tokens has no usable token")
		}
		hooks = append(hooks, registry.RequireToken(tokens))
	}
	if len(hooks) > 0 {
		reg.Admission = registry.Chain(hooks...)
	}

	if meta.IsDefined("admin", "addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "id") {
		cfg.AdminID = strings.TrimSpace(raw.Admin.ID)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.CORSOrigins = raw.Admin.CORSOrigins
	}
	return cfg, nil
}

// loadClientConfig overlays the [client] table of path onto client defaults.
func loadClientConfig(path string) (client.Config, error) {
	cfg := client.DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, fmt.Errorf("load client config: %w", err)
	}
	c := raw.Client

	if meta.IsDefined("client", "url") {
		cfg.URL = strings.TrimSpace(c.URL)
	}
	if meta.IsDefined("client", "max_attempts") {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if meta.IsDefined("client", "handshake_timeout") {
		d, err := parseDuration("client.handshake_timeout", c.HandshakeTimeout)
		if err != nil {
			return client.Config{}, err
		}
		cfg.HandshakeTimeout = d
	}
	if meta.IsDefined("client", "max_payload_bytes") {
		cfg.MaxPayloadBytes = c.MaxPayloadBytes
	}
	if len(c.Headers) > 0 {
		cfg.Header = make(http.Header, len(c.Headers))
		for k, v := range c.Headers {
			cfg.Header.Set(k, v)
		}
	}
	if meta.IsDefined("client", "tls") {
		cfg.TLS = tlsFromSection(c.TLS)
		if err := cfg.TLS.ValidateClient(); err != nil {
			return client.Config{}, fmt.Errorf("load client config: %w", err)
		}
	}
	return cfg, nil
}

func tlsFromSection(raw tlsSection) security.TLSConfig {
	return security.TLSConfig{
		Mode:               security.NormalizeSecurityMode(security.SecurityMode(raw.SecurityMode)),
		Enabled:            raw.Enabled,
		Mutual:             raw.Mutual,
		InsecureSkipVerify: raw.InsecureSkipVerify,
		CertFile:           strings.TrimSpace(raw.CertFile),
		KeyFile:            strings.TrimSpace(raw.KeyFile),
		CAFile:             strings.TrimSpace(raw.CAFile),
		ServerName:         strings.TrimSpace(raw.ServerName),
	}
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("load config: invalid %s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("load config: %s must not be negative", key)
	}
	return d, nil
}
