package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"realty-bot/internal/usecase"
	"realty-bot/internal/webhook"
)

const correlationHeader = "X-Correlation-Id"

// Receiver processes a raw webhook body. *usecase.InboundService implements it.
type Receiver interface {
	Receive(ctx context.Context, body []byte) usecase.Status
}

type webhookHandler struct {
	receiver Receiver
	logger   *slog.Logger
}

func newWebhookHandler(r Receiver, log *slog.Logger) *webhookHandler {
	return &webhookHandler{receiver: r, logger: log.With(slog.String("handler", "webhook"))}
}

func (h *webhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook", h.Receive)
}

// Receive always answers 200; the provider only needs the acknowledgement.
func (h *webhookHandler) Receive(c echo.Context) error {
	start := time.Now()
	correlationID := strings.TrimSpace(c.Request().Header.Get(correlationHeader))
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	c.Response().Header().Set(correlationHeader, correlationID)
	log := h.logger.With("correlation_id", correlationID)

	status := usecase.StatusIgnored
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, webhook.MaxBodyBytes+1))
	switch {
	case err != nil:
		log.Warn("webhook body unreadable", "err", err)
	case len(body) > webhook.MaxBodyBytes:
		log.Warn("webhook body rejected", "err", "body exceeds 1 MiB")
		body = nil
	default:
		status = h.receiver.Receive(c.Request().Context(), body)
	}

	log.Info("webhook handled",
		"status", string(status),
		"bytes", len(body),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return c.JSON(http.StatusOK, map[string]string{"status": string(status)})
}
