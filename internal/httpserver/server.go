// Package httpserver serves the monitor's status surface: liveness, the
// current monitoring session and Prometheus metrics.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/monitoring"
)

// DefaultShutdownTimeout bounds Shutdown when the caller's context has no
// deadline.
const DefaultShutdownTimeout = 10 * time.Second

// Session is the monitoring session the server reports on and controls.
type Session interface {
	State() monitoring.State
	PairingCode() string
	WatchList() []string
	Stop()
	UpdateWatchList(ctx context.Context, objects []string) error
}

// SessionResponse is the body of GET /api/v1/session.
type SessionResponse struct {
	State       monitoring.State `json:"state"`
	PairingCode string           `json:"pairing_code,omitempty"`
	WatchList   []string         `json:"watch_list"`
}

// WatchListRequest is the body of PUT /api/v1/session/watch_list.
type WatchListRequest struct {
	Objects []string `json:"objects"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version,omitempty"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Timestamp     string  `json:"timestamp"`
}

// Server is the echo-backed status server.
type Server struct {
	echo      *echo.Echo
	listen    string
	session   Session
	metrics   http.Handler
	version   string
	log       logger.Logger
	startTime time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithSession exposes session under /api/v1/session.
func WithSession(session Session) Option {
	return func(s *Server) {
		s.session = session
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the request and lifecycle logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithVersion sets the version reported by /healthz.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// New creates a server that will listen on listen (host:port).
func New(listen string, opts ...Option) (*Server, error) {
	if _, _, err := net.SplitHostPort(listen); err != nil {
		return nil, errors.New(fmt.Errorf("invalid listen address %q: %w", listen, err)).
			Component("httpserver").
			Category(errors.CategoryConfiguration).
			Context("listen", listen).
			Build()
	}

	s := &Server{
		listen:    listen,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("httpserver")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(newRequestLogger(s.log, func(c echo.Context) bool {
		// Probes and scrapes would drown everything else.
		p := c.Path()
		return p == "/healthz" || p == "/metrics"
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	s.echo.GET("/api/v1/session", s.sessionStatus)
	if s.session != nil {
		s.echo.POST("/api/v1/session/stop", s.stopSession)
		s.echo.PUT("/api/v1/session/watch_list", s.updateWatchList)
	}
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       s.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Timestamp:     time.Now().Format(time.RFC3339),
	})
}

func (s *Server) sessionStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) snapshot() SessionResponse {
	resp := SessionResponse{State: monitoring.StateIdle, WatchList: []string{}}
	if s.session != nil {
		resp.State = s.session.State()
		resp.PairingCode = s.session.PairingCode()
		if list := s.session.WatchList(); list != nil {
			resp.WatchList = slices.Clone(list)
		}
	}
	return resp
}

func (s *Server) stopSession(c echo.Context) error {
	s.session.Stop()
	s.log.Info("monitoring stopped over http", logger.String("ip", c.RealIP()))
	return c.JSON(http.StatusOK, s.snapshot())
}

func (s *Server) updateWatchList(c echo.Context) error {
	var req WatchListRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	err := s.session.UpdateWatchList(c.Request().Context(), req.Objects)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, s.snapshot())
	case errors.Is(err, monitoring.ErrNotActive):
		return echo.NewHTTPError(http.StatusConflict, "monitoring session is not active")
	case errors.IsCategory(err, errors.CategoryValidation):
		return echo.NewHTTPError(http.StatusBadRequest, errors.ScrubMessage(err.Error()))
	default:
		s.log.Warn("watch list update failed", logger.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "watch list update failed")
	}
}

// Handler returns the routed handler without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the bound listener address, or nil before Start binds.
func (s *Server) Addr() net.Addr {
	return s.echo.ListenerAddr()
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info("starting status server", logger.String("address", s.listen))
	err := s.echo.Start(s.listen)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(fmt.Errorf("status server: %w", err)).
			Component("httpserver").
			Category(errors.CategoryNetwork).
			Context("listen", s.listen).
			Build()
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Without a
// deadline on ctx it waits at most DefaultShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultShutdownTimeout)
		defer cancel()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("status server shutdown failed", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("status server stopped")
	return nil
}
