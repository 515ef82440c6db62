package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"realty-bot/internal/usecase"
	"realty-bot/internal/webhook"
)

type stubReceiver struct {
	status usecase.Status
	calls  int
	body   []byte
}

func (s *stubReceiver) Receive(_ context.Context, body []byte) usecase.Status {
	s.calls++
	s.body = body
	return s.status
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhook",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, nil)
	require.Error(t, err)
}

func TestHandle_ReturnsReceiverStatus(t *testing.T) {
	for _, status := range []usecase.Status{
		usecase.StatusOK,
		usecase.StatusIgnoredGroup,
		usecase.StatusAudioUnsupported,
		usecase.StatusTenantNotFound,
		usecase.StatusBotPaused,
	} {
		t.Run(string(status), func(t *testing.T) {
			r := &stubReceiver{status: status}
			h, err := NewHandler(r, nil)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"type":"ReceivedCallback"}`))
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, "application/json", resp.Headers["Content-Type"])
			require.NotEmpty(t, resp.Headers["X-Correlation-Id"])

			out := parseBody[statusResponse](t, resp.Body)
			require.Equal(t, string(status), out.Status)
			require.Equal(t, `{"type":"ReceivedCallback"}`, string(r.body))
		})
	}
}

func TestHandle_Base64Body(t *testing.T) {
	r := &stubReceiver{status: usecase.StatusOK}
	h, err := NewHandler(r, nil)
	require.NoError(t, err)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(`{"phone":"5511999999999"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"phone":"5511999999999"}`, string(r.body))
}

func TestHandle_UndecodableOrOversizedBodyIsIgnored(t *testing.T) {
	cases := map[string]events.APIGatewayProxyRequest{
		"bad base64": func() events.APIGatewayProxyRequest {
			e := makeEvent("%%%not-base64")
			e.IsBase64Encoded = true
			return e
		}(),
		"too large": makeEvent(`{"text":"` + strings.Repeat("a", webhook.MaxBodyBytes) + `"}`),
		"too large encoded": func() events.APIGatewayProxyRequest {
			e := makeEvent(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("a", webhook.MaxBodyBytes+1))))
			e.IsBase64Encoded = true
			return e
		}(),
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			r := &stubReceiver{status: usecase.StatusOK}
			h, err := NewHandler(r, nil)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), event)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, string(usecase.StatusIgnored), parseBody[statusResponse](t, resp.Body).Status)
			require.Zero(t, r.calls)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHandler(&stubReceiver{status: usecase.StatusOK}, nil)
	require.NoError(t, err)

	event := makeEvent(`{}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
