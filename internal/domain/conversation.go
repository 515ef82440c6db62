package domain

import "time"

// ConversationSession is the bounded transcript kept per lead.
type ConversationSession struct {
	LeadID    string
	Messages  []ChatMessage
	UpdatedAt time.Time
}

// InteractionKind tags who authored an archived message.
type InteractionKind string

const (
	InteractionCustomer InteractionKind = "customer"
	InteractionBot      InteractionKind = "bot"
	InteractionHuman    InteractionKind = "human"
)

// Interaction is one row of the append-only message audit log.
type Interaction struct {
	ID        string
	LeadID    string
	Body      string
	Kind      InteractionKind
	Intent    string
	CreatedAt time.Time
}
