package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"realty-bot/internal/domain"
)

const (
	defaultMaxRounds    = 5
	defaultHistoryLimit = 30
	defaultCallTimeout  = 30 * time.Second
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// LLMClient returns either a plain assistant message or one carrying
// ToolCalls.
type LLMClient interface {
	Complete(ctx context.Context, model string, messages []domain.ChatMessage, tools []domain.ToolSpec) (domain.ChatMessage, error)
}

type SessionStore interface {
	LoadTranscript(ctx context.Context, leadID string) ([]domain.ChatMessage, error)
	SaveTranscript(ctx context.Context, leadID string, messages []domain.ChatMessage, updatedAt time.Time) error
}

// InteractionLog appends to the audit log and bumps the lead's
// last-interaction timestamp to the interaction's CreatedAt.
type InteractionLog interface {
	AppendInteraction(ctx context.Context, in domain.Interaction) error
}

type ListingSearcher interface {
	SearchListings(ctx context.Context, tenantID string, f domain.ListingFilter) ([]domain.Listing, error)
}

type Gateway interface {
	SendText(ctx context.Context, phone, text string) error
	SendGroupText(ctx context.Context, groupID, text string) error
}

type ConversationDeps struct {
	Params       ParamGetter
	LLM          LLMClient
	Sessions     SessionStore
	Interactions InteractionLog
	Listings     ListingSearcher
	Leads        LeadStore
	Gateway      Gateway
	Logger       *slog.Logger
}

type ConversationOptions struct {
	ParamPrefix  string
	MaxRounds    int
	HistoryLimit int
	CallTimeout  time.Duration
}

// Conversation runs one bot turn: the tool-calling loop against the chat API
// plus transcript and audit-log bookkeeping.
type Conversation struct {
	params       ParamGetter
	llm          LLMClient
	sessions     SessionStore
	interactions InteractionLog
	tools        *toolbox
	log          *slog.Logger
	now          func() time.Time

	paramPrefix  string
	maxRounds    int
	historyLimit int
	callTimeout  time.Duration

	cacheMu     sync.RWMutex
	cacheLoaded bool
	directive   string
	openaiModel string
}

type TurnInput struct {
	Tenant domain.Tenant
	Lead   domain.Lead
	Text   string
}

type TurnOutput struct {
	// Reply is empty when the round cap was hit without a plain answer.
	Reply  string
	Rounds int
	Tools  []ToolKind
	Lead   domain.Lead
}

func NewConversation(d ConversationDeps, o ConversationOptions) (*Conversation, error) {
	if d.Params == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if d.LLM == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if d.Sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if d.Interactions == nil {
		return nil, errors.New("usecase: interaction log must not be nil")
	}
	if d.Listings == nil {
		return nil, errors.New("usecase: listing searcher must not be nil")
	}
	if d.Leads == nil {
		return nil, errors.New("usecase: lead store must not be nil")
	}
	if d.Gateway == nil {
		return nil, errors.New("usecase: gateway must not be nil")
	}
	prefix := strings.TrimRight(strings.TrimSpace(o.ParamPrefix), "/")
	if prefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = defaultMaxRounds
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = defaultHistoryLimit
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "conversation"))

	return &Conversation{
		params:       d.Params,
		llm:          d.LLM,
		sessions:     d.Sessions,
		interactions: d.Interactions,
		tools: &toolbox{
			listings: d.Listings,
			leads:    d.Leads,
			gateway:  d.Gateway,
			validate: validator.New(),
			log:      log,
		},
		log:          log,
		now:          time.Now,
		paramPrefix:  prefix,
		maxRounds:    o.MaxRounds,
		historyLimit: o.HistoryLimit,
		callTimeout:  o.CallTimeout,
	}, nil
}

// Run processes one customer message. On error the customer Interaction may
// already be stored but the transcript is left untouched.
func (c *Conversation) Run(ctx context.Context, in TurnInput) (TurnOutput, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if err := c.record(ctx, in.Lead.ID, text, domain.InteractionCustomer, ""); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "interaction_write_error", err)
	}
	if err := c.ensureConfig(ctx); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	history, err := c.sessions.LoadTranscript(ctx, in.Lead.ID)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "session_read_error", err)
	}
	transcript := append(sanitizeHistory(history), domain.ChatMessage{Role: domain.RoleUser, Content: text})

	lead := in.Lead
	scope := turnScope{tenant: in.Tenant, lead: &lead}
	out := TurnOutput{}

	for out.Rounds < c.maxRounds {
		out.Rounds++
		msg, err := c.complete(ctx, in.Tenant, transcript)
		if err != nil {
			if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
				return TurnOutput{}, newError(ErrorUpstream, "openai_rate_limited", err)
			}
			return TurnOutput{}, newError(ErrorUpstream, "openai_error", err)
		}

		if len(msg.ToolCalls) == 0 {
			out.Reply = strings.TrimSpace(msg.Content)
			transcript = append(transcript, domain.ChatMessage{Role: domain.RoleAssistant, Content: out.Reply})
			break
		}

		msg.Role = domain.RoleAssistant
		transcript = append(transcript, msg)
		for _, call := range msg.ToolCalls {
			kind, result, err := c.tools.execute(ctx, scope, call)
			if err != nil {
				return TurnOutput{}, newError(ErrorInternal, "tool_error", err)
			}
			if kind != 0 {
				out.Tools = append(out.Tools, kind)
			}
			c.log.Debug("tool executed",
				"lead_id", lead.ID,
				"tool", call.Function.Name,
				"call_id", call.ID,
			)
			transcript = append(transcript, domain.ChatMessage{
				Role:       domain.RoleTool,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}
	if out.Reply == "" && len(transcript) > 0 && transcript[len(transcript)-1].Role != domain.RoleAssistant {
		c.log.Warn("tool round cap reached without a reply",
			"lead_id", lead.ID,
			"rounds", out.Rounds,
		)
	}

	if err := c.sessions.SaveTranscript(ctx, lead.ID, trimTranscript(transcript, c.historyLimit), c.now().UTC()); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "session_write_error", err)
	}
	if out.Reply != "" {
		if err := c.record(ctx, lead.ID, out.Reply, domain.InteractionBot, lastToolName(out.Tools)); err != nil {
			return TurnOutput{}, newError(ErrorInternal, "interaction_write_error", err)
		}
	}
	out.Lead = lead
	return out, nil
}

func (c *Conversation) complete(ctx context.Context, tenant domain.Tenant, transcript []domain.ChatMessage) (domain.ChatMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	c.cacheMu.RLock()
	directive, model := c.directive, c.openaiModel
	c.cacheMu.RUnlock()

	return c.llm.Complete(callCtx, model, buildPromptMessages(directive, tenant, transcript), toolSpecs)
}

func (c *Conversation) record(ctx context.Context, leadID, body string, kind domain.InteractionKind, intent string) error {
	return c.interactions.AppendInteraction(ctx, domain.Interaction{
		ID:        newUUID(),
		LeadID:    leadID,
		Body:      body,
		Kind:      kind,
		Intent:    intent,
		CreatedAt: c.now().UTC(),
	})
}

func (c *Conversation) ensureConfig(ctx context.Context) error {
	c.cacheMu.RLock()
	if c.cacheLoaded {
		c.cacheMu.RUnlock()
		return nil
	}
	c.cacheMu.RUnlock()

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if c.cacheLoaded {
		return nil
	}

	directive, err := c.params.GetParameter(ctx, c.paramPrefix+"/system_directive")
	if err != nil {
		return fmt.Errorf("usecase: load system directive: %w", err)
	}
	openaiModel, err := c.params.GetParameter(ctx, c.paramPrefix+"/config/openai_model")
	if err != nil {
		return fmt.Errorf("usecase: load openai model: %w", err)
	}
	if strings.TrimSpace(openaiModel) == "" {
		return errors.New("usecase: openai model parameter is empty")
	}

	c.directive = directive
	c.openaiModel = strings.TrimSpace(openaiModel)
	c.cacheLoaded = true
	return nil
}

func lastToolName(kinds []ToolKind) string {
	if len(kinds) == 0 {
		return ""
	}
	return kinds[len(kinds)-1].String()
}

var newUUID = func() string {
	return uuid.NewString()
}
