package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	openaimodel "github.com/royalbadminton/streakbot/features/model/openai"
	"github.com/royalbadminton/streakbot/runtime/agent/model"
)

type mockChatClient struct {
	captured openai.ChatCompletionNewParams
	response *openai.ChatCompletion
	err      error
}

func (m *mockChatClient) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.captured = body
	return m.response, m.err
}

func TestClientComplete(t *testing.T) {
	mock := &mockChatClient{response: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: "tool_calls",
			Message: openai.ChatCompletionMessage{
				Content: "checking",
				ToolCalls: []openai.ChatCompletionMessageToolCall{{
					ID: "call_1",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      "get_booking_history",
						Arguments: `{"lookback_days":30}`,
					},
				}},
			},
		}},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o", MaxTokens: 256})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), model.Request{
		Messages: []*model.Message{
			model.TextMessage(model.RoleSystem, "You are the manager."),
			model.TextMessage(model.RoleUser, "check"),
		},
		Tools: []*model.ToolDefinition{{
			Name:        "get_booking_history",
			Description: "Fetch bookings",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, "checking", resp.Text())
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "call_1", resp.ToolCalls[0].ID)
	require.Equal(t, "get_booking_history", resp.ToolCalls[0].Name)
	require.JSONEq(t, `{"lookback_days":30}`, string(resp.ToolCalls[0].Payload))
	require.Equal(t, "tool_calls", resp.StopReason)
	require.Equal(t, model.TokenUsage{InputTokens: 10, OutputTokens: 5}, resp.Usage)

	req := mock.captured
	require.Equal(t, "gpt-4o", string(req.Model))
	require.Len(t, req.Messages, 2)
	require.NotNil(t, req.Messages[0].OfSystem)
	require.NotNil(t, req.Messages[1].OfUser)
	require.Len(t, req.Tools, 1)
	require.Equal(t, "get_booking_history", req.Tools[0].Function.Name)
	require.Equal(t, int64(256), req.MaxCompletionTokens.Value)
}

func TestClientCompleteEncodesToolHistory(t *testing.T) {
	mock := &mockChatClient{response: &openai.ChatCompletion{}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.Request{Messages: []*model.Message{
		model.TextMessage(model.RoleUser, "go"),
		{Role: model.RoleAssistant, Parts: []model.Part{
			model.ToolUsePart{ID: "call_1", Name: "get_booking_history", Input: json.RawMessage(`{}`)},
			model.ToolUsePart{ID: "call_2", Name: "send_whatsapp_reminder", Input: json.RawMessage(`{"phone_number":"whatsapp:+1","message_body":"hi"}`)},
		}},
		{Role: model.RoleUser, Parts: []model.Part{
			model.ToolResultPart{ToolUseID: "call_1", Content: "No bookings found in the specified period."},
			model.ToolResultPart{ToolUseID: "call_2", Content: "Error: boom", IsError: true},
		}},
	}})
	require.NoError(t, err)

	msgs := mock.captured.Messages
	require.Len(t, msgs, 4)
	require.NotNil(t, msgs[1].OfAssistant)
	require.Len(t, msgs[1].OfAssistant.ToolCalls, 2)
	require.Equal(t, "call_2", msgs[1].OfAssistant.ToolCalls[1].ID)
	require.NotNil(t, msgs[2].OfTool)
	require.Equal(t, "call_1", msgs[2].OfTool.ToolCallID)
	require.Equal(t, "call_2", msgs[3].OfTool.ToolCallID)
}

func TestClientCompleteMalformedArguments(t *testing.T) {
	mock := &mockChatClient{response: &openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{ToolCalls: []openai.ChatCompletionMessageToolCall{{
			ID:       "call_1",
			Function: openai.ChatCompletionMessageToolCallFunction{Name: "get_booking_history", Arguments: `{"lookback_days":`},
		}}},
	}}}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), model.Request{Messages: []*model.Message{model.TextMessage(model.RoleUser, "go")}})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.True(t, json.Valid(resp.ToolCalls[0].Payload))
}

func TestClientCompleteClassifiesErrors(t *testing.T) {
	mock := &mockChatClient{err: &openai.Error{StatusCode: http.StatusTooManyRequests, Code: "rate_limit_exceeded", Message: "slow down"}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.Request{Messages: []*model.Message{model.TextMessage(model.RoleUser, "go")}})
	require.ErrorIs(t, err, model.ErrRateLimited)
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, "rate_limit_exceeded", pe.Code)
	require.Equal(t, "slow down", pe.Message)

	mock.err = errors.New("connection reset")
	_, err = client.Complete(context.Background(), model.Request{Messages: []*model.Message{model.TextMessage(model.RoleUser, "go")}})
	pe, ok = model.AsProviderError(err)
	require.True(t, ok)
	require.True(t, pe.Retryable())
	require.NotErrorIs(t, err, model.ErrRateLimited)
}

func TestNewValidation(t *testing.T) {
	_, err := openaimodel.New(openaimodel.Options{})
	require.Error(t, err)
	_, err = openaimodel.New(openaimodel.Options{Client: &mockChatClient{}})
	require.Error(t, err)
	_, err = openaimodel.NewFromAPIKey("", "gpt-4o")
	require.Error(t, err)
}
