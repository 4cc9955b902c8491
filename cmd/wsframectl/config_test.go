package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/wsframe/internal/registry"
	"github.com/danmuck/wsframe/internal/security"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServeConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := loadServeConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Registry.Host != registry.DefaultHost || cfg.Registry.Port != registry.DefaultPort {
		t.Fatalf("unexpected listen defaults: %s:%d", cfg.Registry.Host, cfg.Registry.Port)
	}
	if cfg.Registry.MaxPayloadBytes != registry.DefaultMaxPayloadBytes {
		t.Fatalf("unexpected max payload: %d", cfg.Registry.MaxPayloadBytes)
	}
	if cfg.AdminAddr != "" || cfg.Echo {
		t.Fatalf("admin and echo should be off by default: %+v", cfg)
	}
}

func TestLoadServeConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9443
path = "/ws"
max_payload_bytes = 4096
send_max_payload_bytes = 2048
disconnect_on_close = true
echo = true
ping_interval = "20s"
write_timeout = "5s"
allowed_origins = ["https://app.example"]
admission_rate = 10.0
admission_burst = 2

[server.tls]
security_mode = "production"
enabled = true
cert_file = " /etc/wsframe/server.crt "
key_file = "/etc/wsframe/server.key"

[admin]
addr = "127.0.0.1:7020"
id = "wsframe.alpha"
cors_origins = ["http://localhost:5173"]
`)

	cfg, err := loadServeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	reg := cfg.Registry
	if reg.Host != "127.0.0.1" || reg.Port != 9443 || reg.Path != "/ws" {
		t.Fatalf("unexpected listen settings: %s:%d%s", reg.Host, reg.Port, reg.Path)
	}
	if reg.MaxPayloadBytes != 4096 || reg.Endpoint.MaxPayloadBytes != 2048 {
		t.Fatalf("unexpected payload limits: in=%d out=%d", reg.MaxPayloadBytes, reg.Endpoint.MaxPayloadBytes)
	}
	if !reg.DisconnectOnClose || !cfg.Echo {
		t.Fatalf("expected disconnect_on_close and echo enabled")
	}
	if reg.Conn.PingInterval != 20*time.Second || reg.Conn.WriteTimeout != 5*time.Second || reg.Endpoint.WriteTimeout != 5*time.Second {
		t.Fatalf("unexpected timings: %+v %+v", reg.Conn, reg.Endpoint)
	}
	if reg.TLS.Mode != security.SecurityModeProduction || !reg.TLS.Enabled || reg.TLS.CertFile != "/etc/wsframe/server.crt" {
		t.Fatalf("unexpected tls config: %+v", reg.TLS)
	}
	if cfg.AdminAddr != "127.0.0.1:7020" || cfg.AdminID != "wsframe.alpha" || len(cfg.CORSOrigins) != 1 {
		t.Fatalf("unexpected admin config: %+v", cfg)
	}

	ctx := context.Background()
	if reg.Admission(ctx, registry.AdmissionRequest{Origin: "https://evil.example"}) {
		t.Fatalf("disallowed origin admitted")
	}
	if !reg.Admission(ctx, registry.AdmissionRequest{Origin: "https://app.example"}) {
		t.Fatalf("allowed origin rejected")
	}
}

func TestLoadServeConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"port":     "[server]\nport = 70000\n",
		"duration": "[server]\nping_interval = \"soon\"\n",
		"rate":     "[server]\nadmission_rate = 0.0\n",
		"tls":      "[server.tls]\nenabled = true\n",
		"syntax":   "[server\n",
		"tokens":   "[server]\nauth_tokens = [\" \"]\n",
	}
	for name, content := range cases {
		if _, err := loadServeConfig(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadServeConfigAuthTokens(t *testing.T) {
	cfg, err := loadServeConfig(writeConfig(t, "[server]\nauth_tokens = [\"alpha\", \"beta\"]\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	header := http.Header{}
	ctx := context.Background()
	if cfg.Registry.Admission(ctx, registry.AdmissionRequest{Header: header}) {
		t.Fatalf("request without token admitted")
	}
	header.Set("Authorization", "Bearer beta")
	if !cfg.Registry.Admission(ctx, registry.AdmissionRequest{Header: header}) {
		t.Fatalf("request with configured token rejected")
	}
}

func TestLoadClientConfig(t *testing.T) {
	path := writeConfig(t, `
[client]
url = " wss://edge.example/ws "
max_attempts = 3
handshake_timeout = "2s"
max_payload_bytes = 65536

[client.headers]
Authorization = "Bearer token"

[client.tls]
enabled = true
ca_file = "/etc/wsframe/ca.crt"
server_name = "edge.example"
`)
	cfg, err := loadClientConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.URL != "wss://edge.example/ws" {
		t.Fatalf("unexpected url: %q", cfg.URL)
	}
	if cfg.MaxAttempts != 3 || cfg.HandshakeTimeout != 2*time.Second || cfg.MaxPayloadBytes != 65536 {
		t.Fatalf("unexpected client settings: %+v", cfg)
	}
	if got := cfg.Header.Get("Authorization"); got != "Bearer token" {
		t.Fatalf("unexpected header: %q", got)
	}
	if !cfg.TLS.Enabled || cfg.TLS.CAFile != "/etc/wsframe/ca.crt" || cfg.TLS.ServerName != "edge.example" {
		t.Fatalf("unexpected tls config: %+v", cfg.TLS)
	}
}

func TestLoadClientConfigRejectsInsecureProduction(t *testing.T) {
	path := writeConfig(t, `
[client.tls]
security_mode = "production"
enabled = true
insecure_skip_verify = true
`)
	if _, err := loadClientConfig(path); err == nil {
		t.Fatalf("expected insecure production tls to be rejected")
	}
}

func TestSplitAddr(t *testing.T) {
	host, port, err := splitAddr("127.0.0.1:9000")
	if err != nil || host != "127.0.0.1" || port != 9000 {
		t.Fatalf("unexpected split: %q %d %v", host, port, err)
	}
	for _, bad := range []string{"nope", "host:0", "host:x"} {
		if _, _, err := splitAddr(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}
