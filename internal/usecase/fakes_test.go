package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"realty-bot/internal/domain"
)

type mockParams struct {
	vals map[string]string
	err  error
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

type transientParams struct {
	*mockParams
	failOnce bool
}

func (p *transientParams) GetParameter(ctx context.Context, name string) (string, error) {
	if p.failOnce {
		p.failOnce = false
		return "", errors.New("temporary ssm failure")
	}
	return p.mockParams.GetParameter(ctx, name)
}

func defaultParams() *mockParams {
	return &mockParams{
		vals: map[string]string{
			"/prefix/system_directive":    "You are Fox, the agency assistant.",
			"/prefix/config/openai_model": "gpt-4o-mini",
		},
	}
}

type llmResponse struct {
	msg domain.ChatMessage
	err error
}

// scriptedLLM replays responses in order, repeating the last one.
type scriptedLLM struct {
	responses []llmResponse
	calls     [][]domain.ChatMessage
	models    []string
	tools     []domain.ToolSpec
}

func (m *scriptedLLM) Complete(ctx context.Context, model string, msgs []domain.ChatMessage, tools []domain.ToolSpec) (domain.ChatMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		return domain.ChatMessage{}, errors.New("chat call without deadline")
	}
	if len(m.responses) == 0 {
		return domain.ChatMessage{}, errors.New("no llm response configured")
	}
	idx := len(m.calls)
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	cp := make([]domain.ChatMessage, len(msgs))
	copy(cp, msgs)
	m.calls = append(m.calls, cp)
	m.models = append(m.models, model)
	m.tools = tools
	return m.responses[idx].msg, m.responses[idx].err
}

func reply(text string) llmResponse {
	return llmResponse{msg: domain.ChatMessage{Role: domain.RoleAssistant, Content: text}}
}

func toolCall(id, name, args string) llmResponse {
	return llmResponse{msg: domain.ChatMessage{
		Role: domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: domain.FunctionCall{Name: name, Arguments: args},
		}},
	}}
}

type mockSessions struct {
	stored   map[string][]domain.ChatMessage
	loadErr  error
	saveErr  error
	saves    int
	lastSave time.Time
}

func newMockSessions() *mockSessions {
	return &mockSessions{stored: map[string][]domain.ChatMessage{}}
}

func (m *mockSessions) LoadTranscript(_ context.Context, leadID string) ([]domain.ChatMessage, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.stored[leadID], nil
}

func (m *mockSessions) SaveTranscript(_ context.Context, leadID string, msgs []domain.ChatMessage, at time.Time) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.lastSave = at
	m.stored[leadID] = msgs
	return nil
}

type mockInteractions struct {
	mu      sync.Mutex
	entries []domain.Interaction
	err     error
	// failKind makes only appends of this kind fail.
	failKind  domain.InteractionKind
	leads     *mockLeads
	listErr   error
	lastLimit int
}

func (m *mockInteractions) AppendInteraction(_ context.Context, in domain.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil && (m.failKind == "" || m.failKind == in.Kind) {
		return m.err
	}
	m.entries = append(m.entries, in)
	if m.leads != nil {
		m.leads.touch(in.LeadID, in.CreatedAt)
	}
	return nil
}

func (m *mockInteractions) ListInteractions(_ context.Context, leadID string, limit int) ([]domain.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Interaction
	for _, e := range m.entries {
		if e.LeadID == leadID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockInteractions) kinds() []domain.InteractionKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.InteractionKind, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Kind)
	}
	return out
}

type mockListings struct {
	listings   []domain.Listing
	err        error
	lastTenant string
	lastFilter domain.ListingFilter
}

func (m *mockListings) SearchListings(_ context.Context, tenantID string, f domain.ListingFilter) ([]domain.Listing, error) {
	m.lastTenant = tenantID
	m.lastFilter = f
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Listing
	for _, l := range m.listings {
		if l.TenantID != tenantID || (f.Status != "" && l.Status != f.Status) {
			continue
		}
		if (f.Type != "" && l.Type != f.Type) || (f.Neighborhood != "" && l.Neighborhood != f.Neighborhood) || (f.Purpose != "" && l.Purpose != f.Purpose) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

type mockLeads struct {
	mu            sync.Mutex
	byID          map[string]*domain.Lead
	seq           int
	getErr        error
	updateErr     error
	patches       []domain.LeadPatch
	reactivations int
}

func newMockLeads(leads ...domain.Lead) *mockLeads {
	m := &mockLeads{byID: map[string]*domain.Lead{}}
	for i := range leads {
		l := leads[i]
		m.byID[l.ID] = &l
	}
	return m
}

func (m *mockLeads) GetOrCreateLead(_ context.Context, tenantID, phone string, now time.Time) (domain.Lead, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Lead{}, false, m.getErr
	}
	for _, l := range m.byID {
		if l.TenantID == tenantID && l.Phone == phone {
			return *l, false, nil
		}
	}
	m.seq++
	l := &domain.Lead{
		ID:                fmt.Sprintf("lead-%d", m.seq),
		TenantID:          tenantID,
		Phone:             phone,
		Status:            domain.LeadNew,
		Source:            domain.LeadSourceWhatsApp,
		FirstContactAt:    now,
		LastInteractionAt: now,
		Bot:               domain.BotState{Active: true},
	}
	m.byID[l.ID] = l
	return *l, true, nil
}

func (m *mockLeads) GetLead(_ context.Context, tenantID, leadID string) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Lead{}, m.getErr
	}
	l, ok := m.byID[leadID]
	if !ok || l.TenantID != tenantID {
		return domain.Lead{}, domain.ErrNotFound
	}
	return *l, nil
}

func (m *mockLeads) UpdateLead(_ context.Context, leadID string, p domain.LeadPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	l, ok := m.byID[leadID]
	if !ok {
		return domain.ErrNotFound
	}
	m.patches = append(m.patches, p)
	if p.Name != nil {
		l.Name = *p.Name
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.BudgetMin != nil {
		l.BudgetMin = p.BudgetMin
	}
	if p.BudgetMax != nil {
		l.BudgetMax = p.BudgetMax
	}
	if p.Preferences != nil {
		l.Preferences = p.Preferences
	}
	if p.Bot != nil {
		l.Bot = *p.Bot
	}
	return nil
}

func (m *mockLeads) ReactivateBot(_ context.Context, leadID string, pausedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return false, m.updateErr
	}
	l, ok := m.byID[leadID]
	if !ok || l.Bot.Active || l.Bot.DeactivatedAt == nil || !l.Bot.DeactivatedAt.Equal(pausedAt) {
		return false, nil
	}
	l.Bot = domain.BotState{Active: true}
	m.reactivations++
	return true, nil
}

func (m *mockLeads) ClaimLead(_ context.Context, tenantID, leadID, agentID string) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return domain.Lead{}, m.updateErr
	}
	l, ok := m.byID[leadID]
	if !ok || l.TenantID != tenantID {
		return domain.Lead{}, domain.ErrNotFound
	}
	if l.AssignedAgentID != "" {
		return domain.Lead{}, domain.ErrConflict
	}
	l.AssignedAgentID = agentID
	l.Status = domain.LeadInProgress
	return *l, nil
}

func (m *mockLeads) ListOpenLeads(_ context.Context, tenantID string) ([]domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []domain.Lead
	for _, l := range m.byID {
		if l.TenantID == tenantID && !l.Status.Terminal() {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *mockLeads) touch(leadID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.byID[leadID]; ok {
		l.LastInteractionAt = at
	}
}

func (m *mockLeads) get(id string) domain.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func (m *mockLeads) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type sentText struct {
	to    string
	text  string
	group bool
}

type mockGateway struct {
	mu   sync.Mutex
	sent []sentText
	err  error
}

func (m *mockGateway) SendText(_ context.Context, phone, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentText{to: phone, text: text})
	return nil
}

func (m *mockGateway) SendGroupText(_ context.Context, groupID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentText{to: groupID, text: text, group: true})
	return nil
}

type mockTenants struct {
	tenants []domain.Tenant
	err     error
}

func (m *mockTenants) FindActiveTenantByChannel(_ context.Context, channel string) (domain.Tenant, error) {
	if m.err != nil {
		return domain.Tenant{}, m.err
	}
	for _, t := range m.tenants {
		if t.Active && t.InboundChannel == channel {
			return t, nil
		}
	}
	return domain.Tenant{}, domain.ErrNotFound
}

type mockLocker struct {
	err      error
	locked   []string
	unlocked int
	// onLock runs once the lock is granted, like a holder releasing it.
	onLock func(key string)
}

func (m *mockLocker) Lock(_ context.Context, key string) (func(), error) {
	if m.err != nil {
		return nil, m.err
	}
	m.locked = append(m.locked, key)
	if m.onLock != nil {
		m.onLock(key)
	}
	return func() { m.unlocked++ }, nil
}

type mockReporter struct {
	errs []error
	tags []map[string]string
}

func (m *mockReporter) Report(_ context.Context, err error, tags map[string]string) {
	m.errs = append(m.errs, err)
	m.tags = append(m.tags, tags)
}

func expectUsecaseError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}
