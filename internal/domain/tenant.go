package domain

// Tenant is one real-estate agency using the platform.
type Tenant struct {
	ID               string
	Name             string
	InboundChannel   string
	EscalationTarget string
	Persona          string
	Active           bool
}
