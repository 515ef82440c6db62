package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"realty-bot/internal/domain"
)

// Store is the relational record store for tenants, leads, interactions
// and listings.
type Store struct {
	db    *gorm.DB
	newID func() string
}

// NewStore wraps an opened gorm connection.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &Store{db: db, newID: uuid.NewString}, nil
}

// AutoMigrate creates or updates the record store tables.
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&tenantRow{}, &leadRow{}, &interactionRow{}, &listingRow{}); err != nil {
		return fmt.Errorf("repository: automigrate: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("repository: %s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("repository: %s: %w", what, err)
}

// ---- tenants ----

// FindActiveTenantByChannel matches the inbound channel exactly.
func (s *Store) FindActiveTenantByChannel(ctx context.Context, channel string) (domain.Tenant, error) {
	if strings.TrimSpace(channel) == "" {
		return domain.Tenant{}, fmt.Errorf("repository: find tenant: empty channel: %w", domain.ErrNotFound)
	}
	var row tenantRow
	err := s.db.WithContext(ctx).
		Where("inbound_channel = ? AND active = ?", channel, true).
		First(&row).Error
	if err != nil {
		return domain.Tenant{}, notFound(err, "find tenant")
	}
	return row.toDomain(), nil
}

// UpsertTenant inserts t or updates the tenant owning the same id.
func (s *Store) UpsertTenant(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	if t.ID == "" {
		t.ID = s.newID()
	}
	row := tenantRow{
		ID:               t.ID,
		Name:             t.Name,
		InboundChannel:   t.InboundChannel,
		EscalationTarget: t.EscalationTarget,
		Persona:          t.Persona,
		Active:           t.Active,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "inbound_channel", "escalation_target", "persona", "active", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("repository: upsert tenant %q: %w", t.Name, err)
	}
	return row.toDomain(), nil
}

// ---- leads ----

// GetOrCreateLead inserts a fresh lead unless (tenantID, phone) exists, then
// reads back whichever row won.
func (s *Store) GetOrCreateLead(ctx context.Context, tenantID, phone string, now time.Time) (domain.Lead, bool, error) {
	now = now.UTC()
	row := leadRow{
		ID:                s.newID(),
		TenantID:          tenantID,
		Phone:             phone,
		Status:            string(domain.LeadNew),
		Preferences:       datatypes.JSONMap{},
		Source:            domain.LeadSourceWhatsApp,
		FirstContactAt:    now,
		LastInteractionAt: now,
		BotActive:         true,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "phone"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return domain.Lead{}, false, fmt.Errorf("repository: create lead: %w", res.Error)
	}
	created := res.RowsAffected == 1

	var stored leadRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND phone = ?", tenantID, phone).
		First(&stored).Error
	if err != nil {
		return domain.Lead{}, false, notFound(err, "read lead")
	}
	return stored.toDomain(), created, nil
}

// GetLead returns the lead only when it belongs to tenantID.
func (s *Store) GetLead(ctx context.Context, tenantID, leadID string) (domain.Lead, error) {
	var row leadRow
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", leadID, tenantID).
		First(&row).Error
	if err != nil {
		return domain.Lead{}, notFound(err, "get lead")
	}
	return row.toDomain(), nil
}

// UpdateLead applies the non-nil fields of patch.
func (s *Store) UpdateLead(ctx context.Context, leadID string, patch domain.LeadPatch) error {
	if patch.Empty() {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&leadRow{}).
		Where("id = ?", leadID).
		Updates(patchColumns(patch))
	if res.Error != nil {
		return fmt.Errorf("repository: update lead %s: %w", leadID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("repository: update lead %s: %w", leadID, domain.ErrNotFound)
	}
	return nil
}

// patchColumns uses a map so that clearing the bot pause writes NULLs.
func patchColumns(p domain.LeadPatch) map[string]any {
	cols := map[string]any{}
	if p.Name != nil {
		cols["name"] = nullable(*p.Name)
	}
	if p.Status != nil {
		cols["status"] = string(*p.Status)
	}
	if p.BudgetMin != nil {
		cols["budget_min"] = *p.BudgetMin
	}
	if p.BudgetMax != nil {
		cols["budget_max"] = *p.BudgetMax
	}
	if p.Preferences != nil {
		cols["preferences"] = datatypes.JSONMap(p.Preferences)
	}
	if p.Bot != nil {
		cols["bot_active"] = p.Bot.Active
		if p.Bot.DeactivatedAt != nil {
			cols["bot_deactivated_at"] = p.Bot.DeactivatedAt.UTC()
		} else {
			cols["bot_deactivated_at"] = nil
		}
		cols["bot_deactivated_by"] = nullable(p.Bot.DeactivatedBy)
	}
	return cols
}

// ReactivateBot resumes the bot only while the lead is still paused by the
// pause that started at pausedAt. It reports false when the row changed in
// between (resumed already, or paused again by someone else).
func (s *Store) ReactivateBot(ctx context.Context, leadID string, pausedAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&leadRow{}).
		Where("id = ? AND bot_active = ? AND bot_deactivated_at = ?", leadID, false, pausedAt.UTC()).
		Updates(map[string]any{
			"bot_active":         true,
			"bot_deactivated_at": nil,
			"bot_deactivated_by": nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("repository: reactivate bot %s: %w", leadID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ClaimLead assigns agentID to an unassigned lead and moves it to
// in_progress. The conditional update makes concurrent claims race-free.
func (s *Store) ClaimLead(ctx context.Context, tenantID, leadID, agentID string) (domain.Lead, error) {
	var out domain.Lead
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&leadRow{}).
			Where("id = ? AND tenant_id = ? AND assigned_agent_id IS NULL", leadID, tenantID).
			Updates(map[string]any{
				"assigned_agent_id": agentID,
				"status":            string(domain.LeadInProgress),
			})
		if res.Error != nil {
			return fmt.Errorf("claim: %w", res.Error)
		}

		var row leadRow
		if err := tx.Where("id = ? AND tenant_id = ?", leadID, tenantID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("read back: %w", err)
		}
		if res.RowsAffected == 0 {
			return domain.ErrConflict
		}
		out = row.toDomain()
		return nil
	})
	if err != nil {
		return domain.Lead{}, fmt.Errorf("repository: claim lead %s: %w", leadID, err)
	}
	return out, nil
}

// ListOpenLeads returns the tenant's leads outside closed/lost, most
// recently active first.
func (s *Store) ListOpenLeads(ctx context.Context, tenantID string) ([]domain.Lead, error) {
	var rows []leadRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status NOT IN ?", tenantID, []string{string(domain.LeadClosed), string(domain.LeadLost)}).
		Order("last_interaction_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list open leads: %w", err)
	}
	out := make([]domain.Lead, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ---- interactions ----

// AppendInteraction archives in and bumps the lead's last-interaction
// timestamp in the same transaction.
func (s *Store) AppendInteraction(ctx context.Context, in domain.Interaction) error {
	if in.ID == "" {
		in.ID = s.newID()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	row := interactionRow{
		ID:        in.ID,
		LeadID:    in.LeadID,
		Body:      in.Body,
		Kind:      string(in.Kind),
		Intent:    in.Intent,
		CreatedAt: in.CreatedAt.UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		res := tx.Model(&leadRow{}).
			Where("id = ?", in.LeadID).
			Update("last_interaction_at", row.CreatedAt)
		if res.Error != nil {
			return fmt.Errorf("touch lead: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("repository: append interaction for lead %s: %w", in.LeadID, err)
	}
	return nil
}

// ListInteractions returns up to limit interactions of a lead, oldest
// first. limit <= 0 returns all of them.
func (s *Store) ListInteractions(ctx context.Context, leadID string, limit int) ([]domain.Interaction, error) {
	q := s.db.WithContext(ctx).Where("lead_id = ?", leadID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []interactionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository: list interactions: %w", err)
	}
	out := make([]domain.Interaction, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toDomain()
	}
	return out, nil
}

// ---- listings ----

// SearchListings applies the equality predicates of f within tenantID,
// cheapest first.
func (s *Store) SearchListings(ctx context.Context, tenantID string, f domain.ListingFilter) ([]domain.Listing, error) {
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Neighborhood != "" {
		q = q.Where("neighborhood = ?", f.Neighborhood)
	}
	if f.Purpose != "" {
		q = q.Where("purpose = ?", f.Purpose)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var rows []listingRow
	if err := q.Order("price ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository: search listings: %w", err)
	}
	out := make([]domain.Listing, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// UpsertListing inserts l or replaces the listing with the same id.
func (s *Store) UpsertListing(ctx context.Context, l domain.Listing) (domain.Listing, error) {
	if l.ID == "" {
		l.ID = s.newID()
	}
	if l.Status == "" {
		l.Status = domain.ListingAvailable
	}
	row := listingRow{
		ID:           l.ID,
		TenantID:     l.TenantID,
		Type:         l.Type,
		Neighborhood: l.Neighborhood,
		City:         l.City,
		Price:        l.Price,
		Bedrooms:     l.Bedrooms,
		AreaM2:       l.AreaM2,
		Purpose:      l.Purpose,
		Status:       l.Status,
		Furnished:    l.Furnished,
		PetFriendly:  l.PetFriendly,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tenant_id", "type", "neighborhood", "city", "price", "bedrooms",
			"area_m2", "purpose", "status", "furnished", "pet_friendly", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return domain.Listing{}, fmt.Errorf("repository: upsert listing: %w", err)
	}
	return row.toDomain(), nil
}
