package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseFinalAndText(t *testing.T) {
	resp := Response{Content: []Message{
		{Role: RoleAssistant, Parts: []Part{TextPart{Text: "No reminders "}, TextPart{Text: "needed."}}},
	}}
	require.True(t, resp.Final())
	require.Equal(t, "No reminders needed.", resp.Text())

	resp.ToolCalls = []ToolCall{{ID: "c1", Name: "get_booking_history", Payload: json.RawMessage(`{}`)}}
	require.False(t, resp.Final())
}

func TestAssistantTurnKeepsCallOrder(t *testing.T) {
	resp := Response{
		Content: []Message{*TextMessage(RoleAssistant, "checking")},
		ToolCalls: []ToolCall{
			{ID: "a", Name: "one", Payload: json.RawMessage(`{"x":1}`)},
			{ID: "b", Name: "two", Payload: json.RawMessage(`{}`)},
		},
	}
	msg := AssistantTurn(resp)
	require.Equal(t, RoleAssistant, msg.Role)
	require.Len(t, msg.Parts, 3)
	require.Equal(t, TextPart{Text: "checking"}, msg.Parts[0])
	require.Equal(t, "a", msg.Parts[1].(ToolUsePart).ID)
	require.Equal(t, "b", msg.Parts[2].(ToolUsePart).ID)
}

func TestProviderErrorMatchesRateLimited(t *testing.T) {
	cause := errors.New("429 too many requests")
	err := fmt.Errorf("complete: %w", NewProviderError("anthropic", "messages.new", 429, KindForStatus(429), "", "", cause))

	require.ErrorIs(t, err, ErrRateLimited)
	require.ErrorIs(t, err, cause)
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	require.True(t, pe.Retryable())
	require.Equal(t, "anthropic rate_limited 429 (messages.new): 429 too many requests", pe.Error())

	auth := NewProviderError("openai", "", 401, KindForStatus(401), "invalid_api_key", "bad key", nil)
	require.NotErrorIs(t, auth, ErrRateLimited)
	require.False(t, auth.Retryable())
	require.Equal(t, "openai auth 401 (request): invalid_api_key: bad key", auth.Error())
}
