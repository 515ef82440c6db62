package usecase

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"realty-bot/internal/domain"
)

func TestBuildSystemPrompt(t *testing.T) {
	content := buildSystemPrompt("  Directive.  ", domain.Tenant{Name: "Fox", Persona: "Be brief."})
	require.Equal(t, "Directive.\n\nAgency: Fox\n\nAgency instructions:\nBe brief.", content)

	content = buildSystemPrompt("", domain.Tenant{})
	require.Equal(t, defaultDirective, content)
}

func TestBuildPromptMessages_PrependsSystem(t *testing.T) {
	transcript := []domain.ChatMessage{{Role: domain.RoleUser, Content: "oi"}}
	msgs := buildPromptMessages("d", domain.Tenant{}, transcript)
	require.Len(t, msgs, 2)
	require.Equal(t, domain.RoleSystem, msgs[0].Role)
	require.Equal(t, "oi", msgs[1].Content)
}

func numbered(n int) []domain.ChatMessage {
	out := make([]domain.ChatMessage, n)
	for i := range out {
		out[i] = domain.ChatMessage{Role: domain.RoleUser, Content: fmt.Sprint(i)}
	}
	return out
}

func TestTrimTranscript_KeepsTail(t *testing.T) {
	out := trimTranscript(numbered(45), 30)
	require.Len(t, out, 30)
	require.Equal(t, "15", out[0].Content)
	require.Equal(t, "44", out[29].Content)

	short := numbered(3)
	out = trimTranscript(short, 30)
	require.Equal(t, short, out)
	out[0].Content = "changed"
	require.Equal(t, "0", short[0].Content)
}

func TestTrimTranscript_DropsOrphanedToolResults(t *testing.T) {
	msgs := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "a"}, {ID: "b"}}},
		{Role: domain.RoleTool, ToolCallID: "a"},
		{Role: domain.RoleTool, ToolCallID: "b"},
	}
	msgs = append(msgs, numbered(28)...)

	// 32 entries: a cut at 30 starts on the first tool result.
	out := trimTranscript(msgs, 30)
	require.Len(t, out, 28)
	require.Equal(t, domain.RoleUser, out[0].Role)
	require.Equal(t, "0", out[0].Content)

	out = trimTranscript(msgs, 31)
	require.Len(t, out, 31)
	require.Equal(t, domain.RoleAssistant, out[0].Role)
}

func TestSanitizeHistory(t *testing.T) {
	out := sanitizeHistory([]domain.ChatMessage{
		{Role: domain.RoleTool, ToolCallID: "x"},
		{Role: domain.RoleSystem, Content: "old"},
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "y"}}},
		{Role: domain.RoleTool, ToolCallID: "y"},
	})
	require.Len(t, out, 3)
	require.Equal(t, domain.RoleUser, out[0].Role)
	require.Equal(t, domain.RoleTool, out[2].Role)
}
