package server

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

type pingHandler struct {
	logger *slog.Logger
}

func newPingHandler(log *slog.Logger) *pingHandler {
	return &pingHandler{logger: log.With(slog.String("handler", "ping"))}
}

func (h *pingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

func (h *pingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *pingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
