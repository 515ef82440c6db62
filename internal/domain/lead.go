package domain

import "time"

// LeadStatus is the sales pipeline stage of a lead.
type LeadStatus string

const (
	LeadNew        LeadStatus = "new"
	LeadInProgress LeadStatus = "in_progress"
	LeadVisit      LeadStatus = "visit"
	LeadProposal   LeadStatus = "proposal"
	LeadClosed     LeadStatus = "closed"
	LeadLost       LeadStatus = "lost"
)

// Valid reports whether s is one of the known pipeline stages.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadNew, LeadInProgress, LeadVisit, LeadProposal, LeadClosed, LeadLost:
		return true
	}
	return false
}

// Terminal reports whether the lead left the pipeline.
func (s LeadStatus) Terminal() bool {
	return s == LeadClosed || s == LeadLost
}

const LeadSourceWhatsApp = "whatsapp"

// BotState is the persisted part of the bot activation gate.
type BotState struct {
	Active        bool
	DeactivatedAt *time.Time
	DeactivatedBy string
}

// Lead is a prospective customer, unique per (TenantID, Phone).
type Lead struct {
	ID                string
	TenantID          string
	Phone             string
	Name              string
	Status            LeadStatus
	AssignedAgentID   string
	BudgetMin         *float64
	BudgetMax         *float64
	Preferences       map[string]any
	Source            string
	FirstContactAt    time.Time
	LastInteractionAt time.Time
	Bot               BotState
}

// LeadPatch is a partial update; nil fields are left untouched.
type LeadPatch struct {
	Name        *string
	Status      *LeadStatus
	BudgetMin   *float64
	BudgetMax   *float64
	Preferences map[string]any
	Bot         *BotState
}

// Empty reports whether the patch carries no field.
func (p LeadPatch) Empty() bool {
	return p.Name == nil && p.Status == nil && p.BudgetMin == nil &&
		p.BudgetMax == nil && p.Preferences == nil && p.Bot == nil
}
