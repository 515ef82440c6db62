package usecase

import (
	"strings"

	"realty-bot/internal/domain"
)

const defaultDirective = "You are the virtual assistant of a real-estate agency answering customers on WhatsApp."

func buildPromptMessages(directive string, tenant domain.Tenant, transcript []domain.ChatMessage) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(transcript)+1)
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleSystem,
		Content: buildSystemPrompt(directive, tenant),
	})
	return append(messages, transcript...)
}

func buildSystemPrompt(directive string, tenant domain.Tenant) string {
	directive = strings.TrimSpace(directive)
	if directive == "" {
		directive = defaultDirective
	}
	parts := []string{directive}
	if name := strings.TrimSpace(tenant.Name); name != "" {
		parts = append(parts, "Agency: "+name)
	}
	if persona := strings.TrimSpace(tenant.Persona); persona != "" {
		parts = append(parts, "Agency instructions:\n"+persona)
	}
	return strings.Join(parts, "\n\n")
}

// trimTranscript keeps the last limit messages. Tool results whose
// assistant tool-call message fell off the front are dropped too, since the
// chat API rejects a transcript that opens on a tool message.
func trimTranscript(messages []domain.ChatMessage, limit int) []domain.ChatMessage {
	start := 0
	if len(messages) > limit {
		start = len(messages) - limit
	}
	for start < len(messages) && messages[start].Role == domain.RoleTool {
		start++
	}
	out := make([]domain.ChatMessage, len(messages)-start)
	copy(out, messages[start:])
	return out
}

// sanitizeHistory removes stored entries the transcript must not carry:
// system messages (the directive is rebuilt every turn) and leading orphans.
func sanitizeHistory(messages []domain.ChatMessage) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			continue
		}
		if len(out) == 0 && m.Role == domain.RoleTool {
			continue
		}
		out = append(out, m)
	}
	return out
}
