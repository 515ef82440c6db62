package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"realty-bot/internal/botgate"
	"realty-bot/internal/domain"
)

const (
	maxHumanMessageLen = 4096
	defaultHistoryPage = 50
	maxHistoryPage     = 200
)

// InteractionArchive is the interaction log with read access for the
// dashboard.
type InteractionArchive interface {
	InteractionLog
	ListInteractions(ctx context.Context, leadID string, limit int) ([]domain.Interaction, error)
}

// Actor is the authenticated dashboard user acting on a tenant's leads.
type Actor struct {
	TenantID string
	ID       string
	Name     string
}

// LeadBotStatus is one row of the bot status board.
type LeadBotStatus struct {
	Lead  domain.Lead
	State botgate.State
	// PausedMinutes and ReactivatesInMinutes are nil unless the pause has a
	// recorded timestamp.
	PausedMinutes        *int
	ReactivatesInMinutes *int
}

// BotControl holds the human-facing operations on the bot gate.
type BotControl struct {
	leads        LeadStore
	interactions InteractionArchive
	gateway      Gateway
	gate         *botgate.Gate
	locker       Locker
	log          *slog.Logger
	now          func() time.Time
}

// NewBotControl wires the dashboard operations. locker is optional; when set,
// writes to a lead take the same per-lead lock as the inbound turn.
func NewBotControl(leads LeadStore, interactions InteractionArchive, gw Gateway, gate *botgate.Gate, locker Locker, log *slog.Logger) (*BotControl, error) {
	if leads == nil {
		return nil, errors.New("usecase: lead store must not be nil")
	}
	if interactions == nil {
		return nil, errors.New("usecase: interaction log must not be nil")
	}
	if gw == nil {
		return nil, errors.New("usecase: gateway must not be nil")
	}
	if gate == nil {
		gate = botgate.New(botgate.DefaultWindow)
	}
	if log == nil {
		log = slog.Default()
	}
	return &BotControl{
		leads:        leads,
		interactions: interactions,
		gateway:      gw,
		gate:         gate,
		locker:       locker,
		log:          log.With(slog.String("component", "bot_control")),
		now:          time.Now,
	}, nil
}

// ToggleBot flips the lead's bot between ACTIVE and PAUSED.
func (b *BotControl) ToggleBot(ctx context.Context, actor Actor, leadID string) (domain.Lead, error) {
	lead, unlock, err := b.lockLead(ctx, actor, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	defer unlock()

	next := botgate.Toggle(lead.Bot, actor.ID, b.now())
	if err := b.leads.UpdateLead(ctx, lead.ID, domain.LeadPatch{Bot: &next}); err != nil {
		return domain.Lead{}, newError(ErrorInternal, "lead_update_error", err)
	}
	lead.Bot = next
	b.log.Info("bot toggled",
		"tenant_id", actor.TenantID,
		"lead_id", lead.ID,
		"actor", actor.ID,
		"state", string(botgate.StateOf(next)),
	)
	return lead, nil
}

// UpdateLeadStatus moves the lead through the CRM pipeline.
func (b *BotControl) UpdateLeadStatus(ctx context.Context, actor Actor, leadID string, status domain.LeadStatus) (domain.Lead, error) {
	if !status.Valid() {
		return domain.Lead{}, newError(ErrorInvalidInput, "invalid_status", nil)
	}
	lead, unlock, err := b.lockLead(ctx, actor, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	defer unlock()

	if err := b.leads.UpdateLead(ctx, lead.ID, domain.LeadPatch{Status: &status}); err != nil {
		return domain.Lead{}, newError(ErrorInternal, "lead_update_error", err)
	}
	b.log.Info("lead status updated",
		"tenant_id", actor.TenantID,
		"lead_id", lead.ID,
		"actor", actor.ID,
		"from", string(lead.Status),
		"to", string(status),
	)
	lead.Status = status
	return lead, nil
}

// ListBotStatus returns the open leads of the actor's tenant with their gate
// state.
func (b *BotControl) ListBotStatus(ctx context.Context, actor Actor) ([]LeadBotStatus, error) {
	if strings.TrimSpace(actor.TenantID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_tenant", nil)
	}
	leads, err := b.leads.ListOpenLeads(ctx, actor.TenantID)
	if err != nil {
		return nil, newError(ErrorInternal, "lead_list_error", err)
	}
	now := b.now()
	out := make([]LeadBotStatus, 0, len(leads))
	for _, l := range leads {
		row := LeadBotStatus{Lead: l, State: botgate.StateOf(l.Bot)}
		if !l.Bot.Active && l.Bot.DeactivatedAt != nil {
			paused := wholeMinutes(now.Sub(*l.Bot.DeactivatedAt))
			row.PausedMinutes = &paused
			if left, ok := b.gate.ReactivatesIn(l.Bot, now); ok {
				m := wholeMinutes(left)
				row.ReactivatesInMinutes = &m
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// AssumeLead assigns the lead to the acting agent and moves it to
// in_progress. A lead that already has an agent is a CONFLICT.
func (b *BotControl) AssumeLead(ctx context.Context, actor Actor, leadID string) (domain.Lead, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return domain.Lead{}, newError(ErrorInvalidInput, "missing_actor", nil)
	}
	lead, err := b.leads.ClaimLead(ctx, actor.TenantID, leadID, actor.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.Lead{}, newError(ErrorNotFound, "lead_not_found", err)
	case errors.Is(err, domain.ErrConflict):
		return domain.Lead{}, newError(ErrorConflict, "lead_already_assigned", err)
	case err != nil:
		return domain.Lead{}, newError(ErrorInternal, "lead_update_error", err)
	}
	b.log.Info("lead assumed", "tenant_id", actor.TenantID, "lead_id", lead.ID, "actor", actor.ID)
	return lead, nil
}

// SendHumanMessage delivers an agent's reply to the lead and archives it.
func (b *BotControl) SendHumanMessage(ctx context.Context, actor Actor, leadID, text string) (domain.Interaction, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Interaction{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if len(text) > maxHumanMessageLen {
		return domain.Interaction{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	lead, err := b.getLead(ctx, actor, leadID)
	if err != nil {
		return domain.Interaction{}, err
	}
	if err := b.gateway.SendText(ctx, lead.Phone, text); err != nil {
		return domain.Interaction{}, newError(ErrorUpstream, "gateway_send_error", err)
	}
	in := domain.Interaction{
		ID:        newUUID(),
		LeadID:    lead.ID,
		Body:      text,
		Kind:      domain.InteractionHuman,
		CreatedAt: b.now().UTC(),
	}
	if err := b.interactions.AppendInteraction(ctx, in); err != nil {
		return domain.Interaction{}, newError(ErrorInternal, "interaction_write_error", err)
	}
	return in, nil
}

// LeadHistory returns the latest interactions of a lead, oldest first.
func (b *BotControl) LeadHistory(ctx context.Context, actor Actor, leadID string, limit int) ([]domain.Interaction, error) {
	lead, err := b.getLead(ctx, actor, leadID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryPage
	}
	if limit > maxHistoryPage {
		limit = maxHistoryPage
	}
	out, err := b.interactions.ListInteractions(ctx, lead.ID, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "interaction_read_error", err)
	}
	return out, nil
}

func (b *BotControl) getLead(ctx context.Context, actor Actor, leadID string) (domain.Lead, error) {
	if strings.TrimSpace(leadID) == "" {
		return domain.Lead{}, newError(ErrorInvalidInput, "missing_lead_id", nil)
	}
	lead, err := b.leads.GetLead(ctx, actor.TenantID, leadID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Lead{}, newError(ErrorNotFound, "lead_not_found", err)
	}
	if err != nil {
		return domain.Lead{}, newError(ErrorInternal, "lead_read_error", err)
	}
	return lead, nil
}

// lockLead resolves the lead, takes its per-lead lock and reads it again
// under the lock. The caller must call unlock.
func (b *BotControl) lockLead(ctx context.Context, actor Actor, leadID string) (domain.Lead, func(), error) {
	lead, err := b.getLead(ctx, actor, leadID)
	if err != nil {
		return domain.Lead{}, nil, err
	}
	if b.locker == nil {
		return lead, func() {}, nil
	}
	unlock, err := b.locker.Lock(ctx, lead.TenantID+":"+lead.Phone)
	if err != nil {
		b.log.Warn("lead lock unavailable, writing unserialized", "lead_id", lead.ID, "err", err)
		return lead, func() {}, nil
	}
	lead, err = b.getLead(ctx, actor, leadID)
	if err != nil {
		unlock()
		return domain.Lead{}, nil, err
	}
	return lead, unlock, nil
}

func wholeMinutes(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
