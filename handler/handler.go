package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"realty-bot/internal/usecase"
	"realty-bot/internal/webhook"
)

const correlationHeader = "X-Correlation-Id"

// Receiver processes a raw webhook body. *usecase.InboundService implements it.
type Receiver interface {
	Receive(ctx context.Context, body []byte) usecase.Status
}

type statusResponse struct {
	Status string `json:"status"`
}

// Handler adapts API Gateway proxy events to the inbound pipeline. The
// provider only needs to know the message was received, so every response
// is a 200 carrying the processing status.
type Handler struct {
	receiver Receiver
	log      *slog.Logger
}

func NewHandler(r Receiver, log *slog.Logger) (*Handler, error) {
	if r == nil {
		return nil, errors.New("handler: receiver must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{receiver: r, log: log.With(slog.String("component", "webhook"))}, nil
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With("correlation_id", correlationID)

	status := usecase.StatusIgnored
	body, err := decodeBody(event)
	if err != nil {
		log.Warn("webhook body rejected", "err", err, "encoded", event.IsBase64Encoded)
	} else {
		status = h.receiver.Receive(ctx, body)
	}

	log.Info("webhook handled",
		"status", string(status),
		"bytes", len(body),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return response(status, correlationID), nil
}

var errBodyTooLarge = errors.New("body exceeds 1 MiB")

func decodeBody(event events.APIGatewayProxyRequest) ([]byte, error) {
	if !event.IsBase64Encoded {
		if len(event.Body) > webhook.MaxBodyBytes {
			return nil, errBodyTooLarge
		}
		return []byte(event.Body), nil
	}
	if base64.StdEncoding.DecodedLen(len(event.Body)) > webhook.MaxBodyBytes+2 {
		return nil, errBodyTooLarge
	}
	raw, err := base64.StdEncoding.DecodeString(event.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) > webhook.MaxBodyBytes {
		return nil, errBodyTooLarge
	}
	return raw, nil
}

func response(status usecase.Status, correlationID string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(statusResponse{Status: string(status)})
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

// headerValue looks up key case-insensitively; API Gateway forwards
// headers as sent.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
