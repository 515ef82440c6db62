package domain

import "encoding/json"

// InboundEvent is a provider webhook body reduced to what the bot needs.
type InboundEvent struct {
	Phone       string
	Destination string
	Text        string
	IsAudio     bool
	AudioURL    string
	IsGroup     bool
	GroupID     string
	Raw         json.RawMessage
}
