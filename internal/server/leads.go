package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"realty-bot/internal/domain"
	"realty-bot/internal/usecase"
)

// LeadService is the dashboard side of the bot gate. *usecase.BotControl
// implements it.
type LeadService interface {
	ToggleBot(ctx context.Context, actor usecase.Actor, leadID string) (domain.Lead, error)
	ListBotStatus(ctx context.Context, actor usecase.Actor) ([]usecase.LeadBotStatus, error)
	AssumeLead(ctx context.Context, actor usecase.Actor, leadID string) (domain.Lead, error)
	SendHumanMessage(ctx context.Context, actor usecase.Actor, leadID, text string) (domain.Interaction, error)
	LeadHistory(ctx context.Context, actor usecase.Actor, leadID string, limit int) ([]domain.Interaction, error)
	UpdateLeadStatus(ctx context.Context, actor usecase.Actor, leadID string, status domain.LeadStatus) (domain.Lead, error)
}

type leadsHandler struct {
	service LeadService
	logger  *slog.Logger
}

func newLeadsHandler(s LeadService, log *slog.Logger) *leadsHandler {
	return &leadsHandler{service: s, logger: log.With(slog.String("handler", "leads"))}
}

func (h *leadsHandler) Register(g *echo.Group) {
	g.GET("/leads/bot-status", h.BotStatus)
	g.PATCH("/leads/:id", h.UpdateStatus)
	g.POST("/leads/:id/bot/toggle", h.ToggleBot)
	g.POST("/leads/:id/assume", h.Assume)
	g.POST("/leads/:id/messages", h.SendMessage)
	g.GET("/leads/:id/interactions", h.Interactions)
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type LeadView struct {
	ID                string            `json:"id"`
	Phone             string            `json:"phone"`
	Name              string            `json:"name,omitempty"`
	Status            domain.LeadStatus `json:"status"`
	AssignedAgentID   string            `json:"assigned_agent_id,omitempty"`
	BotActive         bool              `json:"bot_active"`
	BotDeactivatedAt  *time.Time        `json:"bot_deactivated_at,omitempty"`
	BotDeactivatedBy  string            `json:"bot_deactivated_by,omitempty"`
	LastInteractionAt time.Time         `json:"last_interaction_at"`
}

type BotStatusView struct {
	LeadView
	State                string `json:"bot_state"`
	PausedMinutes        *int   `json:"paused_minutes"`
	ReactivatesInMinutes *int   `json:"reactivates_in_minutes"`
}

type InteractionView struct {
	ID        string                 `json:"id"`
	Kind      domain.InteractionKind `json:"kind"`
	Body      string                 `json:"body"`
	Intent    string                 `json:"intent,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type updateLeadRequest struct {
	Status string `json:"status"`
}

func (h *leadsHandler) ToggleBot(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	lead, err := h.service.ToggleBot(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toLeadView(lead))
}

func (h *leadsHandler) UpdateStatus(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var req updateLeadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
	}
	status := domain.LeadStatus(strings.TrimSpace(req.Status))
	lead, err := h.service.UpdateLeadStatus(c.Request().Context(), actor, c.Param("id"), status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toLeadView(lead))
}

func (h *leadsHandler) BotStatus(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	rows, err := h.service.ListBotStatus(c.Request().Context(), actor)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]BotStatusView, 0, len(rows))
	for _, r := range rows {
		out = append(out, BotStatusView{
			LeadView:             toLeadView(r.Lead),
			State:                string(r.State),
			PausedMinutes:        r.PausedMinutes,
			ReactivatesInMinutes: r.ReactivatesInMinutes,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": out})
}

func (h *leadsHandler) Assume(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	lead, err := h.service.AssumeLead(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toLeadView(lead))
}

func (h *leadsHandler) SendMessage(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
	}
	in, err := h.service.SendHumanMessage(c.Request().Context(), actor, c.Param("id"), req.Text)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toInteractionView(in))
}

func (h *leadsHandler) Interactions(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	limit := 0
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_limit"})
		}
	}
	items, err := h.service.LeadHistory(c.Request().Context(), actor, c.Param("id"), limit)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]InteractionView, 0, len(items))
	for _, in := range items {
		out = append(out, toInteractionView(in))
	}
	return c.JSON(http.StatusOK, map[string]any{"items": out})
}

func (h *leadsHandler) fail(c echo.Context, err error) error {
	code := usecase.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("lead api failed",
			"path", c.Path(),
			"lead_id", c.Param("id"),
			"code", string(code),
			"err", err,
		)
	}
	return c.JSON(status, ErrorResponse{Error: string(code), Reason: usecase.ReasonOf(err)})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toLeadView(l domain.Lead) LeadView {
	return LeadView{
		ID:                l.ID,
		Phone:             l.Phone,
		Name:              l.Name,
		Status:            l.Status,
		AssignedAgentID:   l.AssignedAgentID,
		BotActive:         l.Bot.Active,
		BotDeactivatedAt:  l.Bot.DeactivatedAt,
		BotDeactivatedBy:  l.Bot.DeactivatedBy,
		LastInteractionAt: l.LastInteractionAt,
	}
}

func toInteractionView(in domain.Interaction) InteractionView {
	return InteractionView{
		ID:        in.ID,
		Kind:      in.Kind,
		Body:      in.Body,
		Intent:    in.Intent,
		CreatedAt: in.CreatedAt,
	}
}
