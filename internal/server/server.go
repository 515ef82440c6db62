// Package server exposes the webhook and the lead dashboard API over a
// long-running Echo HTTP server.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Options struct {
	Addr      string
	JWTSecret string
	Webhook   Receiver
	// Leads is optional; the /api routes are mounted only when both Leads and
	// JWTSecret are set.
	Leads  LeadService
	Logger *slog.Logger
}

type Server struct {
	echo *echo.Echo
	addr string
	log  *slog.Logger
}

func New(o Options) (*Server, error) {
	if o.Webhook == nil {
		return nil, errors.New("server: webhook receiver must not be nil")
	}
	if o.Leads != nil && o.JWTSecret == "" {
		return nil, errors.New("server: jwt secret is required for the lead api")
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	addr := o.Addr
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))

	newPingHandler(log).Register(e)
	newWebhookHandler(o.Webhook, log).Register(e)
	if o.Leads != nil {
		api := e.Group("/api", JWTMiddleware(o.JWTSecret))
		newLeadsHandler(o.Leads, log).Register(api)
	}

	return &Server{echo: e, addr: addr, log: log}, nil
}

// Start blocks serving until Shutdown is called. It returns nil on a clean
// shutdown.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// Handler returns the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.echo }
