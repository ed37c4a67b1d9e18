// Package server hosts the HTTP surface: a health endpoint and the optional
// transport webhook. The long-poll consumer lives here too so the process has
// a single owner for inbound message flow.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/chatbridge/internal/profile"
	"github.com/hrygo/chatbridge/plugin/telegram"
	"github.com/hrygo/chatbridge/server/runner/cleanup"
	"github.com/hrygo/chatbridge/server/service/relay"
	"github.com/hrygo/chatbridge/store"
	"github.com/hrygo/chatbridge/store/cache"
)

type Server struct {
	e *echo.Echo

	Profile *profile.Profile
	Store   *store.Store
	Relay   *relay.Service

	transport     *telegram.Client
	redis         *cache.Redis
	cleanupRunner *cleanup.Runner

	pollCancel context.CancelFunc
}

// NewServer assembles the HTTP server and background runners. redis may be
// nil when no shared cache tier is configured.
func NewServer(p *profile.Profile, st *store.Store, relayService *relay.Service, transport *telegram.Client, redis *cache.Redis) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		e:             e,
		Profile:       p,
		Store:         st,
		Relay:         relayService,
		transport:     transport,
		redis:         redis,
		cleanupRunner: cleanup.NewRunner(st, p.InstanceStaleAfter),
	}

	e.GET("/health", s.healthHandler)
	e.POST("/webhook", s.webhookHandler)

	return s
}

// Start launches the HTTP listener, the cleanup runner, and, unless webhook
// mode is configured, the long-poll consumer. It does not block.
func (s *Server) Start(ctx context.Context) error {
	go s.cleanupRunner.Run(ctx)

	if !s.Profile.UseWebhook && s.transport != nil {
		pollCtx, cancel := context.WithCancel(ctx)
		s.pollCancel = cancel
		go s.transport.Poll(pollCtx, s.onUpdate)
	}

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.e.Start(address); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
		}
	}()
	slog.Info("server started", "address", address, "version", s.Profile.Version)
	return nil
}

// Shutdown stops inbound flow first, drains the relay queue, then closes the
// HTTP listener and the store.
func (s *Server) Shutdown(ctx context.Context) {
	if s.pollCancel != nil {
		s.pollCancel()
	}

	drainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.Relay.Shutdown(drainCtx); err != nil {
		slog.Error("failed to drain dispatch queue", "error", err)
	}

	if err := s.e.Shutdown(drainCtx); err != nil {
		slog.Error("failed to shutdown http server", "error", err)
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shutdown complete")
}

// onUpdate feeds long-polled updates into the relay. Results are dropped;
// the relay reports failures through its own logging.
func (s *Server) onUpdate(ctx context.Context, update *telegram.Update) {
	message := update.Message
	if message == nil || message.Text == "" {
		return
	}
	conversationID := fmt.Sprintf("%d", message.Chat.ID)
	senderName := ""
	if message.From != nil {
		senderName = message.From.Username
	}
	// Detach from the poll context so shutdown drains in-flight work instead
	// of cancelling it mid-run.
	s.Relay.HandleInbound(context.WithoutCancel(ctx), conversationID, senderName, message.Text)
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Mode    string            `json:"mode"`
	Checks  map[string]string `json:"checks"`
	Queue   queueStats        `json:"queue"`
}

type queueStats struct {
	InFlight int64 `json:"in_flight"`
	Depth    int64 `json:"depth"`
}

// healthHandler reports per-dependency health. A failing dependency degrades
// the status but the endpoint itself always answers.
func (s *Server) healthHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	status := "ok"

	if err := s.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = "degraded"
	} else {
		checks["store"] = "ok"
	}

	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			status = "degraded"
		} else {
			checks["redis"] = "ok"
		}
	}

	breaker := s.Relay.Breaker()
	checks["assistant_breaker"] = string(breaker.State())

	queue := s.Relay.Queue()
	return c.JSON(http.StatusOK, healthResponse{
		Status:  status,
		Version: s.Profile.Version,
		Mode:    s.Profile.Mode,
		Checks:  checks,
		Queue: queueStats{
			InFlight: queue.InFlight(),
			Depth:    queue.Depth(),
		},
	})
}

// webhookHandler accepts transport webhook deliveries. It always answers 200
// so the transport never retries; malformed payloads are logged and dropped.
func (s *Server) webhookHandler(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		slog.Warn("failed to read webhook body", "error", err)
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}

	update, err := telegram.ParseUpdate(body)
	if err != nil {
		slog.Warn("dropping malformed webhook payload", "error", err)
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}

	// Handle asynchronously so slow AI runs never block webhook delivery.
	go s.onUpdate(context.WithoutCancel(c.Request().Context()), update)

	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
