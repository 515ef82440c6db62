package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"realty-bot/internal/botgate"
	"realty-bot/internal/domain"
	"realty-bot/internal/usecase"
	"realty-bot/internal/webhook"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// ---- fakes ----

type stubReceiver struct {
	mu     sync.Mutex
	status usecase.Status
	calls  int
	body   []byte
}

func (s *stubReceiver) Receive(_ context.Context, body []byte) usecase.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.body = body
	return s.status
}

type stubLeads struct {
	lead        domain.Lead
	rows        []usecase.LeadBotStatus
	interaction domain.Interaction
	history     []domain.Interaction
	err         error

	actor     usecase.Actor
	leadID    string
	text      string
	limit     int
	status    domain.LeadStatus
	lastCalls []string
}

func (s *stubLeads) record(name string, actor usecase.Actor, leadID string) {
	s.lastCalls = append(s.lastCalls, name)
	s.actor = actor
	s.leadID = leadID
}

func (s *stubLeads) ToggleBot(_ context.Context, actor usecase.Actor, leadID string) (domain.Lead, error) {
	s.record("toggle", actor, leadID)
	return s.lead, s.err
}

func (s *stubLeads) ListBotStatus(_ context.Context, actor usecase.Actor) ([]usecase.LeadBotStatus, error) {
	s.record("status", actor, "")
	return s.rows, s.err
}

func (s *stubLeads) AssumeLead(_ context.Context, actor usecase.Actor, leadID string) (domain.Lead, error) {
	s.record("assume", actor, leadID)
	return s.lead, s.err
}

func (s *stubLeads) SendHumanMessage(_ context.Context, actor usecase.Actor, leadID, text string) (domain.Interaction, error) {
	s.record("message", actor, leadID)
	s.text = text
	return s.interaction, s.err
}

func (s *stubLeads) LeadHistory(_ context.Context, actor usecase.Actor, leadID string, limit int) ([]domain.Interaction, error) {
	s.record("history", actor, leadID)
	s.limit = limit
	return s.history, s.err
}

func (s *stubLeads) UpdateLeadStatus(_ context.Context, actor usecase.Actor, leadID string, status domain.LeadStatus) (domain.Lead, error) {
	s.record("update_status", actor, leadID)
	s.status = status
	lead := s.lead
	lead.Status = status
	return lead, s.err
}

// ---- helpers ----

func newTestServer(t *testing.T, r Receiver, leads LeadService) http.Handler {
	t.Helper()
	s, err := New(Options{JWTSecret: testSecret, Webhook: r, Leads: leads})
	require.NoError(t, err)
	return s.Handler()
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func agentToken(t *testing.T) string {
	return signToken(t, testSecret, jwt.MapClaims{"sub": "agent-7", "tenant_id": "tenant-1", "name": "Carla"})
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// ---- construction ----

func TestNew_Validates(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Webhook: &stubReceiver{}, Leads: &stubLeads{}})
	require.Error(t, err)

	_, err = New(Options{Webhook: &stubReceiver{}})
	require.NoError(t, err)
}

func TestPing(t *testing.T) {
	h := newTestServer(t, &stubReceiver{}, nil)
	rec := do(t, h, http.MethodGet, "/ping", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = do(t, h, http.MethodHead, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

// ---- webhook ----

func TestWebhook_ReturnsReceiverStatus(t *testing.T) {
	r := &stubReceiver{status: usecase.StatusBotPaused}
	h := newTestServer(t, r, nil)

	rec := do(t, h, http.MethodPost, "/webhook", `{"type":"ReceivedCallback"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, string(usecase.StatusBotPaused), decode[map[string]string](t, rec)["status"])
	require.Equal(t, `{"type":"ReceivedCallback"}`, string(r.body))
	require.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
}

func TestWebhook_KeepsCorrelationID(t *testing.T) {
	h := newTestServer(t, &stubReceiver{status: usecase.StatusOK}, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	req.Header.Set("X-Correlation-Id", "corr-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "corr-9", rec.Header().Get("X-Correlation-Id"))
}

func TestWebhook_OversizedBodyIgnored(t *testing.T) {
	r := &stubReceiver{status: usecase.StatusOK}
	h := newTestServer(t, r, nil)

	rec := do(t, h, http.MethodPost, "/webhook", strings.Repeat("a", webhook.MaxBodyBytes+1), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, string(usecase.StatusIgnored), decode[map[string]string](t, rec)["status"])
	require.Zero(t, r.calls)
}

func TestWebhook_NeedsNoToken(t *testing.T) {
	h := newTestServer(t, &stubReceiver{status: usecase.StatusOK}, &stubLeads{})
	rec := do(t, h, http.MethodPost, "/webhook", `{}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

// ---- auth ----

func TestLeadAPI_RequiresValidToken(t *testing.T) {
	leads := &stubLeads{}
	h := newTestServer(t, &stubReceiver{}, leads)

	rec := do(t, h, http.MethodGet, "/api/leads/bot-status", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	wrong := signToken(t, "another-secret-another-secret-xx", jwt.MapClaims{"sub": "agent-7", "tenant_id": "tenant-1"})
	rec = do(t, h, http.MethodGet, "/api/leads/bot-status", "", wrong)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	noTenant := signToken(t, testSecret, jwt.MapClaims{"sub": "agent-7"})
	rec = do(t, h, http.MethodGet, "/api/leads/bot-status", "", noTenant)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Empty(t, leads.lastCalls)
}

func TestLeadAPI_NotMountedWithoutService(t *testing.T) {
	h := newTestServer(t, &stubReceiver{}, nil)
	rec := do(t, h, http.MethodGet, "/api/leads/bot-status", "", agentToken(t))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// ---- routes ----

func TestToggleBot_PassesActorFromClaims(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	leads := &stubLeads{lead: domain.Lead{
		ID:     "lead-1",
		Phone:  "5511999999999",
		Status: domain.LeadNew,
		Bot:    domain.BotState{Active: false, DeactivatedAt: &at, DeactivatedBy: "agent-7"},
	}}
	h := newTestServer(t, &stubReceiver{}, leads)

	rec := do(t, h, http.MethodPost, "/api/leads/lead-1/bot/toggle", "", agentToken(t))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, usecase.Actor{TenantID: "tenant-1", ID: "agent-7", Name: "Carla"}, leads.actor)
	require.Equal(t, "lead-1", leads.leadID)

	out := decode[LeadView](t, rec)
	require.False(t, out.BotActive)
	require.Equal(t, "agent-7", out.BotDeactivatedBy)
	require.NotNil(t, out.BotDeactivatedAt)
}

func TestBotStatus(t *testing.T) {
	paused, remaining := 4, 6
	leads := &stubLeads{rows: []usecase.LeadBotStatus{
		{Lead: domain.Lead{ID: "lead-1", Bot: domain.BotState{Active: true}}, State: botgate.Active},
		{
			Lead:                 domain.Lead{ID: "lead-2"},
			State:                botgate.Paused,
			PausedMinutes:        &paused,
			ReactivatesInMinutes: &remaining,
		},
	}}
	h := newTestServer(t, &stubReceiver{}, leads)

	rec := do(t, h, http.MethodGet, "/api/leads/bot-status", "", agentToken(t))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[struct {
		Items []BotStatusView `json:"items"`
	}](t, rec)
	require.Len(t, out.Items, 2)
	require.Equal(t, "ACTIVE", out.Items[0].State)
	require.Nil(t, out.Items[0].PausedMinutes)
	require.Equal(t, "PAUSED", out.Items[1].State)
	require.Equal(t, 4, *out.Items[1].PausedMinutes)
	require.Equal(t, 6, *out.Items[1].ReactivatesInMinutes)
}

func TestSendMessage(t *testing.T) {
	leads := &stubLeads{interaction: domain.Interaction{ID: "int-1", Kind: domain.InteractionHuman, Body: "Olá!"}}
	h := newTestServer(t, &stubReceiver{}, leads)

	rec := do(t, h, http.MethodPost, "/api/leads/lead-1/messages", `{"text":"Olá!"}`, agentToken(t))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "Olá!", leads.text)
	out := decode[InteractionView](t, rec)
	require.Equal(t, domain.InteractionHuman, out.Kind)

	rec = do(t, h, http.MethodPost, "/api/leads/lead-1/messages", `{"text":`, agentToken(t))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_body", decode[ErrorResponse](t, rec).Reason)
}

func TestUpdateLeadStatus(t *testing.T) {
	leads := &stubLeads{lead: domain.Lead{ID: "lead-1", Phone: "5511999999999", Status: domain.LeadNew}}
	h := newTestServer(t, &stubReceiver{}, leads)

	rec := do(t, h, http.MethodPatch, "/api/leads/lead-1", `{"status":" visit "}`, agentToken(t))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"update_status"}, leads.lastCalls)
	require.Equal(t, "lead-1", leads.leadID)
	require.Equal(t, "tenant-1", leads.actor.TenantID)
	require.Equal(t, domain.LeadVisit, leads.status)
	require.Equal(t, domain.LeadVisit, decode[LeadView](t, rec).Status)

	rec = do(t, h, http.MethodPatch, "/api/leads/lead-1", `{"status":`, agentToken(t))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_body", decode[ErrorResponse](t, rec).Reason)
	require.Len(t, leads.lastCalls, 1)

	leads.err = &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_status"}
	rec = do(t, h, http.MethodPatch, "/api/leads/lead-1", `{"status":"bogus"}`, agentToken(t))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_status", decode[ErrorResponse](t, rec).Reason)

	rec = do(t, h, http.MethodPatch, "/api/leads/lead-1", `{"status":"visit"}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInteractions_Limit(t *testing.T) {
	leads := &stubLeads{history: []domain.Interaction{{ID: "a"}, {ID: "b"}}}
	h := newTestServer(t, &stubReceiver{}, leads)

	rec := do(t, h, http.MethodGet, "/api/leads/lead-1/interactions?limit=20", "", agentToken(t))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 20, leads.limit)

	rec = do(t, h, http.MethodGet, "/api/leads/lead-1/interactions", "", agentToken(t))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, leads.limit)

	rec = do(t, h, http.MethodGet, "/api/leads/lead-1/interactions?limit=abc", "", agentToken(t))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeadAPI_ErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"invalid":  {&usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}, http.StatusBadRequest, "INVALID_INPUT"},
		"missing":  {&usecase.Error{Code: usecase.ErrorNotFound, Reason: "lead_not_found"}, http.StatusNotFound, "NOT_FOUND"},
		"claimed":  {&usecase.Error{Code: usecase.ErrorConflict, Reason: "lead_already_assigned"}, http.StatusConflict, "CONFLICT"},
		"gateway":  {&usecase.Error{Code: usecase.ErrorUpstream, Reason: "gateway_send_error"}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		"internal": {errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newTestServer(t, &stubReceiver{}, &stubLeads{err: tc.err})
			rec := do(t, h, http.MethodPost, "/api/leads/lead-1/assume", "", agentToken(t))
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}
