package repository

import (
	"time"

	"gorm.io/datatypes"

	"realty-bot/internal/domain"
)

type tenantRow struct {
	ID               string `gorm:"primaryKey;size:36"`
	Name             string `gorm:"not null"`
	InboundChannel   string `gorm:"not null;uniqueIndex;size:64"`
	EscalationTarget string `gorm:"size:128"`
	Persona          string `gorm:"type:text"`
	Active           bool   `gorm:"not null;index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (tenantRow) TableName() string { return "tenants" }

type leadRow struct {
	ID                string  `gorm:"primaryKey;size:36"`
	TenantID          string  `gorm:"not null;size:36;uniqueIndex:idx_leads_tenant_phone,priority:1"`
	Phone             string  `gorm:"not null;size:32;uniqueIndex:idx_leads_tenant_phone,priority:2"`
	Name              *string `gorm:"size:255"`
	Status            string  `gorm:"not null;size:16;index"`
	AssignedAgentID   *string `gorm:"size:64"`
	BudgetMin         *float64
	BudgetMax         *float64
	Preferences       datatypes.JSONMap
	Source            string    `gorm:"size:32"`
	FirstContactAt    time.Time `gorm:"not null"`
	LastInteractionAt time.Time `gorm:"not null;index"`
	BotActive         bool      `gorm:"not null"`
	BotDeactivatedAt  *time.Time
	BotDeactivatedBy  *string `gorm:"size:64"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (leadRow) TableName() string { return "leads" }

type interactionRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	LeadID    string    `gorm:"not null;size:36;index"`
	Body      string    `gorm:"type:text"`
	Kind      string    `gorm:"not null;size:16"`
	Intent    string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (interactionRow) TableName() string { return "interactions" }

type listingRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	TenantID     string `gorm:"not null;size:36;index"`
	Type         string `gorm:"size:32;index"`
	Neighborhood string `gorm:"size:128"`
	City         string `gorm:"size:128"`
	Price        float64
	Bedrooms     *int
	AreaM2       *float64 `gorm:"column:area_m2"`
	Purpose      string `gorm:"size:16"`
	Status       string `gorm:"size:16;index"`
	Furnished    bool
	PetFriendly  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (listingRow) TableName() string { return "listings" }

func (r tenantRow) toDomain() domain.Tenant {
	return domain.Tenant{
		ID:               r.ID,
		Name:             r.Name,
		InboundChannel:   r.InboundChannel,
		EscalationTarget: r.EscalationTarget,
		Persona:          r.Persona,
		Active:           r.Active,
	}
}

func (r leadRow) toDomain() domain.Lead {
	l := domain.Lead{
		ID:                r.ID,
		TenantID:          r.TenantID,
		Phone:             r.Phone,
		Name:              deref(r.Name),
		Status:            domain.LeadStatus(r.Status),
		AssignedAgentID:   deref(r.AssignedAgentID),
		BudgetMin:         r.BudgetMin,
		BudgetMax:         r.BudgetMax,
		Source:            r.Source,
		FirstContactAt:    r.FirstContactAt.UTC(),
		LastInteractionAt: r.LastInteractionAt.UTC(),
		Bot: domain.BotState{
			Active:        r.BotActive,
			DeactivatedBy: deref(r.BotDeactivatedBy),
		},
	}
	if len(r.Preferences) > 0 {
		l.Preferences = map[string]any(r.Preferences)
	}
	if r.BotDeactivatedAt != nil {
		at := r.BotDeactivatedAt.UTC()
		l.Bot.DeactivatedAt = &at
	}
	return l
}

func (r interactionRow) toDomain() domain.Interaction {
	return domain.Interaction{
		ID:        r.ID,
		LeadID:    r.LeadID,
		Body:      r.Body,
		Kind:      domain.InteractionKind(r.Kind),
		Intent:    r.Intent,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (r listingRow) toDomain() domain.Listing {
	return domain.Listing{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Type:         r.Type,
		Neighborhood: r.Neighborhood,
		City:         r.City,
		Price:        r.Price,
		Bedrooms:     r.Bedrooms,
		AreaM2:       r.AreaM2,
		Purpose:      r.Purpose,
		Status:       r.Status,
		Furnished:    r.Furnished,
		PetFriendly:  r.PetFriendly,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullable maps "" to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
