package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"realty-bot/internal/domain"
)

const (
	maxListingLines = 3

	resultNoListings        = "No listings found matching these criteria."
	resultQualified         = "Lead qualified successfully."
	resultEscalated         = "Notification sent to the agency group."
	resultEscalatedInternal = "Escalated internally (no escalation group configured)."
	resultEscalatedUnsent   = "Lead marked for human follow-up, but the agency group notification could not be delivered."
)

// ToolKind is the closed set of operations the model may invoke.
type ToolKind int

const (
	ToolSearchListings ToolKind = iota + 1
	ToolQualifyLead
	ToolEscalateToHuman
)

var toolNames = map[ToolKind]string{
	ToolSearchListings:  "search_listings",
	ToolQualifyLead:     "qualify_lead",
	ToolEscalateToHuman: "escalate_to_human",
}

func (k ToolKind) String() string {
	if name, ok := toolNames[k]; ok {
		return name
	}
	return "unknown_tool(" + strconv.Itoa(int(k)) + ")"
}

// ParseToolKind maps a model-supplied tool name to its kind.
func ParseToolKind(name string) (ToolKind, error) {
	for k, n := range toolNames {
		if n == name {
			return k, nil
		}
	}
	return 0, &toolArgError{msg: fmt.Sprintf("unknown tool %q", name)}
}

// toolArgError is a recoverable failure: its text goes back to the model as
// the tool result instead of failing the turn.
type toolArgError struct {
	msg string
}

func (e *toolArgError) Error() string { return e.msg }

type searchListingsArgs struct {
	Type         string  `json:"type"`
	Neighborhood string  `json:"neighborhood"`
	MaxPrice     float64 `json:"max_price" validate:"gte=0"`
	MinBedrooms  float64 `json:"min_bedrooms" validate:"gte=0"`
	Purpose      string  `json:"purpose"`
}

type qualifyLeadArgs struct {
	Name        string         `json:"name"`
	BudgetMin   *float64       `json:"budget_min" validate:"omitnil,gte=0"`
	BudgetMax   *float64       `json:"budget_max" validate:"omitnil,gte=0"`
	Preferences map[string]any `json:"preferences"`
}

type escalateArgs struct {
	Summary string `json:"summary" validate:"required"`
}

// toolSpecs is the declared tool set sent with every chat call.
var toolSpecs = []domain.ToolSpec{
	{
		Name:        ToolSearchListings.String(),
		Description: "Search the agency's available listings matching the customer's criteria.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"type": {"type": "string", "description": "house, apartment, land, farm"},
				"neighborhood": {"type": "string", "description": "preferred neighborhood"},
				"max_price": {"type": "number", "description": "maximum price in BRL"},
				"min_bedrooms": {"type": "integer", "description": "minimum number of bedrooms"},
				"purpose": {"type": "string", "description": "sale or rent"}
			},
			"required": []
		}`),
	},
	{
		Name:        ToolQualifyLead.String(),
		Description: "Save the customer's qualification data on the lead record.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"budget_min": {"type": "number"},
				"budget_max": {"type": "number"},
				"preferences": {"type": "object", "description": "type, neighborhood, bedrooms, purpose and similar"}
			},
			"required": ["name"]
		}`),
	},
	{
		Name:        ToolEscalateToHuman.String(),
		Description: "Notify the agency group so a human agent takes over the conversation.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"summary": {"type": "string", "description": "summary of what the customer wants"}
			},
			"required": ["summary"]
		}`),
	},
}

// turnScope is the tenant and lead a tool call acts on.
type turnScope struct {
	tenant domain.Tenant
	lead   *domain.Lead
}

type toolbox struct {
	listings ListingSearcher
	leads    LeadStore
	gateway  Gateway
	validate *validator.Validate
	log      *slog.Logger
}

// execute runs one tool call. A recoverable failure is returned as result
// text; only store failures surface as an error.
func (t *toolbox) execute(ctx context.Context, scope turnScope, call domain.ToolCall) (ToolKind, string, error) {
	kind, err := ParseToolKind(call.Function.Name)
	if err != nil {
		return 0, recoverableText(err), nil
	}

	var result string
	switch kind {
	case ToolSearchListings:
		var args searchListingsArgs
		if err = t.decode(call.Function.Arguments, &args); err == nil {
			result, err = t.searchListings(ctx, scope, args)
		}
	case ToolQualifyLead:
		var args qualifyLeadArgs
		if err = t.decode(call.Function.Arguments, &args); err == nil {
			result, err = t.qualifyLead(ctx, scope, args)
		}
	case ToolEscalateToHuman:
		var args escalateArgs
		if err = t.decode(call.Function.Arguments, &args); err == nil {
			result, err = t.escalate(ctx, scope, args)
		}
	}

	var argErr *toolArgError
	if errors.As(err, &argErr) {
		return kind, recoverableText(err), nil
	}
	if err != nil {
		return kind, "", err
	}
	return kind, result, nil
}

func recoverableText(err error) string {
	return "error: " + err.Error()
}

func (t *toolbox) decode(raw string, dst any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return &toolArgError{msg: "invalid arguments: " + err.Error()}
	}
	if err := t.validate.Struct(dst); err != nil {
		return &toolArgError{msg: "invalid arguments: " + err.Error()}
	}
	return nil
}

func (t *toolbox) searchListings(ctx context.Context, scope turnScope, args searchListingsArgs) (string, error) {
	listings, err := t.listings.SearchListings(ctx, scope.tenant.ID, domain.ListingFilter{
		Type:         strings.TrimSpace(args.Type),
		Neighborhood: strings.TrimSpace(args.Neighborhood),
		Purpose:      strings.TrimSpace(args.Purpose),
		Status:       domain.ListingAvailable,
	})
	if err != nil {
		return "", fmt.Errorf("usecase: search listings: %w", err)
	}

	lines := make([]string, 0, maxListingLines)
	for _, l := range listings {
		if args.MaxPrice > 0 && l.Price > args.MaxPrice {
			continue
		}
		if args.MinBedrooms > 0 && (l.Bedrooms == nil || float64(*l.Bedrooms) < args.MinBedrooms) {
			continue
		}
		lines = append(lines, formatListing(l))
		if len(lines) == maxListingLines {
			break
		}
	}
	if len(lines) == 0 {
		return resultNoListings, nil
	}
	return strings.Join(lines, "\n"), nil
}

func (t *toolbox) qualifyLead(ctx context.Context, scope turnScope, args qualifyLeadArgs) (string, error) {
	var patch domain.LeadPatch
	if name := strings.TrimSpace(args.Name); name != "" {
		patch.Name = &name
	}
	if args.BudgetMin != nil && *args.BudgetMin > 0 {
		patch.BudgetMin = args.BudgetMin
	}
	if args.BudgetMax != nil && *args.BudgetMax > 0 {
		patch.BudgetMax = args.BudgetMax
	}
	if len(args.Preferences) > 0 {
		patch.Preferences = args.Preferences
	}
	if patch.Empty() {
		return resultQualified, nil
	}
	if err := t.leads.UpdateLead(ctx, scope.lead.ID, patch); err != nil {
		return "", fmt.Errorf("usecase: qualify lead: %w", err)
	}
	if patch.Name != nil {
		scope.lead.Name = *patch.Name
	}
	if patch.BudgetMin != nil {
		scope.lead.BudgetMin = patch.BudgetMin
	}
	if patch.BudgetMax != nil {
		scope.lead.BudgetMax = patch.BudgetMax
	}
	if patch.Preferences != nil {
		scope.lead.Preferences = patch.Preferences
	}
	return resultQualified, nil
}

func (t *toolbox) escalate(ctx context.Context, scope turnScope, args escalateArgs) (string, error) {
	status := domain.LeadInProgress
	if err := t.leads.UpdateLead(ctx, scope.lead.ID, domain.LeadPatch{Status: &status}); err != nil {
		return "", fmt.Errorf("usecase: escalate lead: %w", err)
	}
	scope.lead.Status = status

	target := strings.TrimSpace(scope.tenant.EscalationTarget)
	if target == "" {
		return resultEscalatedInternal, nil
	}
	if err := t.gateway.SendGroupText(ctx, target, escalationNotice(*scope.lead, args.Summary)); err != nil {
		t.log.Warn("escalation notice not delivered",
			"tenant_id", scope.tenant.ID,
			"lead_id", scope.lead.ID,
			"err", err,
		)
		return resultEscalatedUnsent, nil
	}
	return resultEscalated, nil
}

func escalationNotice(lead domain.Lead, summary string) string {
	var b strings.Builder
	b.WriteString("*Novo Lead para Atendimento*\n")
	if lead.Name != "" {
		b.WriteString("Nome: " + lead.Name + "\n")
	}
	b.WriteString("Telefone: " + lead.Phone + "\n")
	b.WriteString("Resumo: " + strings.TrimSpace(summary) + "\n")
	b.WriteString("O corretor que quiser assumir, entre em contato com o cliente.")
	return b.String()
}

func formatListing(l domain.Listing) string {
	bedrooms := "?"
	if l.Bedrooms != nil {
		bedrooms = strconv.Itoa(*l.Bedrooms)
	}
	area := "?"
	if l.AreaM2 != nil {
		area = strconv.FormatFloat(*l.AreaM2, 'f', -1, 64)
	}
	var extras []string
	if l.Furnished {
		extras = append(extras, "Furnished")
	}
	if l.PetFriendly {
		extras = append(extras, "Pet")
	}
	line := fmt.Sprintf("- %s in %s/%s | R$ %s | %s bedrooms | %sm2",
		capitalize(l.Type), l.Neighborhood, l.City, groupThousands(l.Price), bedrooms, area)
	if len(extras) > 0 {
		line += " | " + strings.Join(extras, " ")
	}
	return line
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// groupThousands renders v rounded to units with comma separators.
func groupThousands(v float64) string {
	digits := strconv.FormatFloat(math.Abs(math.Round(v)), 'f', 0, 64)
	var b strings.Builder
	if v < 0 && digits != "0" {
		b.WriteByte('-')
	}
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}
