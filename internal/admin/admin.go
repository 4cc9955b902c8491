// Package admin serves the operator HTTP surface for a registry: health,
// readiness, prometheus metrics and the live connection table.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/wsframe/internal/endpoint"
	"github.com/danmuck/wsframe/internal/observability"
	"github.com/danmuck/wsframe/internal/protocol"
	"github.com/danmuck/wsframe/internal/registry"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

var ErrConnectionNotFound = errors.New("admin: connection not found")

// ConnectionInfo is one row of GET /connections.
type ConnectionInfo struct {
	ID          uint64 `json:"id"`
	State       string `json:"state"`
	QueuedBytes uint64 `json:"queued_bytes"`
	QueueLen    int    `json:"queue_len"`
}

type sendRequest struct {
	Title   string `json:"title"`
	Payload []byte `json:"payload"`
}

type Admin struct {
	ID       string
	Addr     string
	Appeared time.Time
	Registry *registry.Server

	router *gin.Engine
}

func New(id, addr string, reg *registry.Server, corsOrigins []string) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		Registry: reg,
		router:   r,
	}
	a.registerRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Appeared).String(),
			"service": a.ID,
			"version": version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		ready := a.Registry != nil && a.Registry.Addr() != nil
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"service": a.ID,
			"version": version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": a.ListConnections()})
	})

	a.router.GET("/connections/:id", func(c *gin.Context) {
		ep, err := a.lookup(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, connectionInfo(ep))
	})

	a.router.POST("/connections/:id/messages", func(c *gin.Context) {
		ep, err := a.lookup(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d, err := ep.Send(req.Title, req.Payload)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, protocol.ErrPayloadTooLarge):
				status = http.StatusRequestEntityTooLarge
			case errors.Is(err, protocol.ErrEncoding):
				status = http.StatusBadRequest
			case errors.Is(err, protocol.ErrConnectionInterrupted):
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "message_id": d.ID()})
	})

	a.router.DELETE("/connections/:id", func(c *gin.Context) {
		ep, err := a.lookup(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		reason := c.DefaultQuery("reason", "closed by operator")
		if err := ep.Close(1000, reason); err != nil {
			log.Warn().Uint64("endpoint", ep.ID()).Err(err).Msg("admin close connection")
		}
		log.Info().Uint64("endpoint", ep.ID()).Str("reason", reason).Msg("admin closed connection")
		c.JSON(http.StatusOK, gin.H{"status": "closed", "id": ep.ID()})
	})
}

func (a *Admin) ListConnections() []ConnectionInfo {
	if a.Registry == nil {
		return []ConnectionInfo{}
	}
	clients := a.Registry.Clients()
	out := make([]ConnectionInfo, 0, len(clients))
	for _, ep := range clients {
		out = append(out, connectionInfo(ep))
	}
	return out
}

func (a *Admin) lookup(raw string) (*endpoint.Endpoint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || a.Registry == nil {
		return nil, ErrConnectionNotFound
	}
	ep, ok := a.Registry.Client(id)
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return ep, nil
}

// Serve runs the admin router on Addr until ctx ends.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Addr,
		Handler:           a.router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	log.Info().Str("addr", a.Addr).Str("service", a.ID).Msg("admin listening")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func connectionInfo(ep *endpoint.Endpoint) ConnectionInfo {
	return ConnectionInfo{
		ID:          ep.ID(),
		State:       ep.State().String(),
		QueuedBytes: ep.QueuedBytes(),
		QueueLen:    ep.QueueLen(),
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
