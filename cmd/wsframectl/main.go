package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/wsframe/internal/admin"
	"github.com/danmuck/wsframe/internal/client"
	"github.com/danmuck/wsframe/internal/endpoint"
	"github.com/danmuck/wsframe/internal/logging"
	"github.com/danmuck/wsframe/internal/registry"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wsframectl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "wsframectl",
		Short:         "Serve and exercise ordered framed messaging over WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config.toml")
	root.AddCommand(newServeCmd(&cfgFile), newSendCmd(&cfgFile), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wsframectl version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "wsframectl", version)
		},
	}
}

func newServeCmd(cfgFile *string) *cobra.Command {
	var (
		addr      string
		adminAddr string
		echo      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the connection registry and optional admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(*cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				host, port, err := splitAddr(addr)
				if err != nil {
					return err
				}
				cfg.Registry.Host, cfg.Registry.Port = host, port
			}
			if cmd.Flags().Changed("admin") {
				cfg.AdminAddr = strings.TrimSpace(adminAddr)
			}
			if cmd.Flags().Changed("echo") {
				cfg.Echo = echo
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address host:port (overrides config)")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "admin HTTP listen address; empty disables")
	cmd.Flags().BoolVar(&echo, "echo", false, "echo every inbound message back to its sender")
	return cmd
}

// runServe runs the registry and, when configured, the admin router until
// ctx ends or either fails.
func runServe(ctx context.Context, cfg serveConfig) error {
	reg := registry.New(cfg.Registry)
	reg.Subscribe(registry.ServerObserverFunc(func(ev registry.ServerEvent) {
		switch ev.Kind {
		case registry.ServerEventConnection:
			ep := ev.Endpoint
			ep.Subscribe(endpoint.OnKind(endpoint.EventError, func(e endpoint.Event) {
				log.Warn().Uint64("endpoint", e.EndpointID).Err(e.Err).Msg("connection error")
			}))
			if cfg.Echo {
				ep.Subscribe(endpoint.OnKind(endpoint.EventMessage, func(e endpoint.Event) {
					if _, err := ep.Send(e.Title, e.Payload); err != nil {
						log.Warn().Uint64("endpoint", ep.ID()).Str("title", e.Title).Err(err).Msg("echo send")
					}
				}))
			}
		case registry.ServerEventError:
			log.Error().Err(ev.Err).Msg("registry error")
		}
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reg.Serve(gctx)
	})
	if cfg.AdminAddr != "" {
		a := admin.New(cfg.AdminID, cfg.AdminAddr, reg, cfg.CORSOrigins)
		g.Go(func() error {
			return a.Serve(gctx)
		})
	}
	err := g.Wait()
	_ = reg.Close()
	return err
}

func newSendCmd(cfgFile *string) *cobra.Command {
	var (
		url      string
		title    string
		payload  string
		file     string
		wait     time.Duration
		attempts int
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Dial a server, send one framed message and print replies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadClientConfig(*cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("url") {
				cfg.URL = url
			}
			if cmd.Flags().Changed("attempts") {
				cfg.MaxAttempts = attempts
			}
			body := []byte(payload)
			if file != "" {
				if body, err = readPayload(file, cmd.InOrStdin()); err != nil {
					return err
				}
			}
			return runSend(cmd.Context(), cfg, title, body, wait, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "server url, ws:// or wss://")
	cmd.Flags().StringVarP(&title, "title", "t", "", "message title")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "message payload as text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read payload from file, - for stdin")
	cmd.Flags().DurationVar(&wait, "wait", 0, "keep the connection open and print replies for this long")
	cmd.Flags().IntVar(&attempts, "attempts", 1, "dial attempts; 0 retries until interrupted")
	return cmd
}

func runSend(ctx context.Context, cfg client.Config, title string, payload []byte, wait time.Duration, out io.Writer) error {
	replies := endpoint.OnKind(endpoint.EventMessage, func(ev endpoint.Event) {
		fmt.Fprintf(out, "%s\t%s\n", ev.Title, ev.Payload)
	})
	ep, err := client.Dial(ctx, cfg, replies)
	if err != nil {
		return err
	}
	defer ep.Close(websocket.CloseNormalClosure, "")

	d, err := ep.Send(title, payload)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := d.Wait(sendCtx); err != nil {
		return fmt.Errorf("send message %d: %w", d.ID(), err)
	}
	log.Info().Uint64("message_id", d.ID()).Str("title", title).Int("bytes", len(payload)).Msg("message delivered")

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	return nil
}

func readPayload(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func splitAddr(addr string) (string, int, error) {
	host, rawPort, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "", 0, fmt.Errorf("invalid addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	return host, port, nil
}
