package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"realty-bot/internal/botgate"
	"realty-bot/internal/domain"
	"realty-bot/internal/webhook"
)

const (
	defaultTurnBudget = 60 * time.Second

	// Sent back to customers who record voice notes.
	audioNotice = "Oi! Por enquanto só consigo responder mensagens de texto. Pode me escrever?"
)

// Status is the tag acknowledged to the webhook caller.
type Status string

const (
	StatusIgnored          Status = "ignored"
	StatusIgnoredGroup     Status = "ignored_group"
	StatusAudioUnsupported Status = "audio_not_supported"
	StatusIgnoredNoText    Status = "ignored_no_text"
	StatusTenantNotFound   Status = "empresa_nao_encontrada"
	StatusBotPaused        Status = "bot_desativado_humano_ativo"
	StatusOK               Status = "ok"
)

type TenantFinder interface {
	// FindActiveTenantByChannel returns domain.ErrNotFound when no active
	// tenant owns channel.
	FindActiveTenantByChannel(ctx context.Context, channel string) (domain.Tenant, error)
}

type LeadStore interface {
	// GetOrCreateLead reports created=true only for the caller whose insert
	// won; concurrent callers observe the same lead.
	GetOrCreateLead(ctx context.Context, tenantID, phone string, now time.Time) (lead domain.Lead, created bool, err error)
	GetLead(ctx context.Context, tenantID, leadID string) (domain.Lead, error)
	UpdateLead(ctx context.Context, leadID string, patch domain.LeadPatch) error
	// ReactivateBot resumes the bot only if it is still paused since
	// pausedAt, reporting whether it did.
	ReactivateBot(ctx context.Context, leadID string, pausedAt time.Time) (bool, error)
	// ClaimLead assigns agentID when the lead has no agent yet, returning
	// domain.ErrConflict otherwise.
	ClaimLead(ctx context.Context, tenantID, leadID, agentID string) (domain.Lead, error)
	// ListOpenLeads excludes closed and lost leads, most recent first.
	ListOpenLeads(ctx context.Context, tenantID string) ([]domain.Lead, error)
}

type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// FailureReporter forwards processing failures to an error tracker.
type FailureReporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
}

// Turner runs a bot turn. *Conversation implements it.
type Turner interface {
	Run(ctx context.Context, in TurnInput) (TurnOutput, error)
}

type InboundDeps struct {
	Tenants      TenantFinder
	Leads        LeadStore
	Interactions InteractionLog
	Conversation Turner
	Gateway      Gateway
	Gate         *botgate.Gate
	// Locker and Reporter are optional.
	Locker   Locker
	Reporter FailureReporter
	Logger   *slog.Logger
}

// InboundService is the webhook pipeline: normalize, resolve tenant and lead,
// consult the bot gate, run the bot, send the reply.
type InboundService struct {
	tenants      TenantFinder
	leads        LeadStore
	interactions InteractionLog
	conversation Turner
	gateway      Gateway
	gate         *botgate.Gate
	locker       Locker
	reporter     FailureReporter
	log          *slog.Logger
	now          func() time.Time
	turnBudget   time.Duration
}

func NewInboundService(d InboundDeps, turnBudget time.Duration) (*InboundService, error) {
	if d.Tenants == nil {
		return nil, errors.New("usecase: tenant finder must not be nil")
	}
	if d.Leads == nil {
		return nil, errors.New("usecase: lead store must not be nil")
	}
	if d.Interactions == nil {
		return nil, errors.New("usecase: interaction log must not be nil")
	}
	if d.Conversation == nil {
		return nil, errors.New("usecase: conversation must not be nil")
	}
	if d.Gateway == nil {
		return nil, errors.New("usecase: gateway must not be nil")
	}
	if d.Gate == nil {
		d.Gate = botgate.New(botgate.DefaultWindow)
	}
	if turnBudget <= 0 {
		turnBudget = defaultTurnBudget
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &InboundService{
		tenants:      d.Tenants,
		leads:        d.Leads,
		interactions: d.Interactions,
		conversation: d.Conversation,
		gateway:      d.Gateway,
		gate:         d.Gate,
		locker:       d.Locker,
		reporter:     d.Reporter,
		log:          log.With(slog.String("component", "inbound")),
		now:          time.Now,
		turnBudget:   turnBudget,
	}, nil
}

// Receive handles a webhook body and always yields a status to acknowledge.
// Processing failures are logged and reported, never returned.
func (s *InboundService) Receive(ctx context.Context, body []byte) Status {
	status, err := s.Handle(ctx, body)
	if err != nil {
		s.log.Error("inbound processing failed",
			"status", string(status),
			"code", string(CodeOf(err)),
			"reason", ReasonOf(err),
			"err", err,
		)
		if s.reporter != nil {
			s.reporter.Report(ctx, err, map[string]string{
				"code":   string(CodeOf(err)),
				"reason": ReasonOf(err),
			})
		}
	}
	return status
}

// Handle runs the pipeline. A non-nil error always comes with StatusOK: the
// message was received, but processing did not complete.
func (s *InboundService) Handle(ctx context.Context, body []byte) (Status, error) {
	ev, ok := webhook.Normalize(body)
	if !ok {
		return StatusIgnored, nil
	}
	if ev.IsGroup {
		return StatusIgnoredGroup, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.turnBudget)
	defer cancel()

	tenant, err := s.tenants.FindActiveTenantByChannel(ctx, ev.Destination)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("no active tenant for channel", "destination", ev.Destination)
		return StatusTenantNotFound, nil
	}
	if err != nil {
		return StatusOK, newError(ErrorInternal, "tenant_lookup_error", err)
	}

	if ev.IsAudio {
		if err := s.gateway.SendText(ctx, ev.Phone, audioNotice); err != nil {
			s.log.Warn("audio notice not delivered", "tenant_id", tenant.ID, "err", err)
		}
		return StatusAudioUnsupported, nil
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return StatusIgnoredNoText, nil
	}

	unlock := s.lock(ctx, tenant.ID+":"+ev.Phone)
	defer unlock()

	lead, created, err := s.leads.GetOrCreateLead(ctx, tenant.ID, ev.Phone, s.now().UTC())
	if err != nil {
		return StatusOK, newError(ErrorInternal, "lead_resolve_error", err)
	}
	if created {
		s.log.Info("lead created", "tenant_id", tenant.ID, "lead_id", lead.ID)
	}

	now := s.now().UTC()
	lead, allowed, err := s.admit(ctx, lead, now)
	if err != nil {
		return StatusOK, err
	}
	if !allowed {
		err := s.interactions.AppendInteraction(ctx, domain.Interaction{
			ID:        newUUID(),
			LeadID:    lead.ID,
			Body:      text,
			Kind:      domain.InteractionCustomer,
			CreatedAt: now,
		})
		if err != nil {
			return StatusOK, newError(ErrorInternal, "interaction_write_error", err)
		}
		return StatusBotPaused, nil
	}

	out, err := s.conversation.Run(ctx, TurnInput{Tenant: tenant, Lead: lead, Text: text})
	if err != nil {
		return StatusOK, err
	}
	if out.Reply == "" {
		return StatusOK, nil
	}
	if err := s.gateway.SendText(ctx, ev.Phone, out.Reply); err != nil {
		return StatusOK, newError(ErrorUpstream, "gateway_send_error", err)
	}
	return StatusOK, nil
}

// admit consults the bot gate and persists an automatic reactivation. The
// reactivation only applies to the pause that was read; when the lead changed
// in between, the fresh state decides.
func (s *InboundService) admit(ctx context.Context, lead domain.Lead, now time.Time) (domain.Lead, bool, error) {
	decision := s.gate.Evaluate(lead.Bot, now)
	if !decision.Reactivated {
		return lead, decision.Allow, nil
	}
	ok, err := s.leads.ReactivateBot(ctx, lead.ID, *lead.Bot.DeactivatedAt)
	if err != nil {
		return lead, false, newError(ErrorInternal, "bot_reactivate_error", err)
	}
	if ok {
		lead.Bot = decision.Next
		s.log.Info("bot reactivated", "lead_id", lead.ID, "paused_for", decision.PausedFor.String())
		return lead, true, nil
	}

	current, err := s.leads.GetLead(ctx, lead.TenantID, lead.ID)
	if err != nil {
		return lead, false, newError(ErrorInternal, "lead_resolve_error", err)
	}
	s.log.Info("bot reactivation superseded", "lead_id", lead.ID, "bot_active", current.Bot.Active)
	return current, current.Bot.Active, nil
}

// lock serializes turns per key. A locker failure degrades to unserialized
// processing rather than dropping the message.
func (s *InboundService) lock(ctx context.Context, key string) func() {
	if s.locker == nil {
		return func() {}
	}
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		s.log.Warn("lead lock unavailable, processing unserialized", "key", key, "err", err)
		return func() {}
	}
	return unlock
}
