package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/wsframe/internal/client"
	"github.com/danmuck/wsframe/internal/testutil/testlog"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeEchoesSend(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := defaultServeConfig()
	cfg.Registry.Listener = ln
	cfg.Echo = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg) }()

	ccfg := client.DefaultConfig()
	ccfg.URL = "ws://" + ln.Addr().String() + "/"
	ccfg.MaxAttempts = 10
	ccfg.Backoff.InitialDelay = 10 * time.Millisecond

	var out lockedBuffer
	if err := runSend(context.Background(), ccfg, "greet", []byte("hello"), 300*time.Millisecond, &out); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "greet\thello") {
		t.Fatalf("expected echoed reply, got %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), version) {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestSendCommandRequiresURL(t *testing.T) {
	testlog.Start(t)
	root := newRootCmd()
	root.SetArgs([]string{"send", "--title", "x"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error without url")
	}
}
