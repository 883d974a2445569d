// Package model defines the reasoning-function boundary used by the tool
// dispatch loop. It provides a provider-agnostic abstraction over chat
// completion APIs (Anthropic, OpenAI, Bedrock) so the loop can invoke a model
// without coupling to a specific SDK. Adapters under features/model translate
// these normalized types into provider-specific formats.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

type (
	// Client invokes a model. Implementations wrap provider SDKs, translate
	// Request and Response to provider formats and must be safe for concurrent
	// use. Clients do not retry; the caller decides what a failure means.
	Client interface {
		// Complete sends the conversation to the provider and returns either a
		// final answer or a list of requested tool calls.
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		// Model is the provider-specific model identifier. Adapters fall back
		// to their configured default when empty.
		Model string
		// Messages is the ordered conversation, system message first.
		Messages []*Message
		// Tools lists the tools the model may call.
		Tools []*ToolDefinition
		// MaxTokens caps the completion length. Zero selects the adapter
		// default.
		MaxTokens int
		// Temperature controls sampling randomness.
		Temperature float32
	}

	// Response is the typed result of a model invocation. A response with no
	// ToolCalls is a final answer.
	Response struct {
		// Content holds the assistant messages produced by the model.
		Content []Message
		// ToolCalls lists the tools the model requested, in request order.
		ToolCalls []ToolCall
		// Usage reports token consumption when the provider exposes it.
		Usage TokenUsage
		// StopReason is the provider stop reason (for example "tool_use").
		StopReason string
	}

	// ConversationRole is the role of a message in the conversation.
	ConversationRole string

	// Message is a single conversation entry made of ordered parts.
	Message struct {
		Role  ConversationRole
		Parts []Part
	}

	// Part is one piece of message content. The set of parts is closed.
	Part interface {
		isPart()
	}

	// TextPart is plain text content.
	TextPart struct {
		Text string
	}

	// ToolUsePart records a tool call requested by the assistant.
	ToolUsePart struct {
		// ID is the provider-issued call identifier.
		ID string
		// Name is the tool name as requested by the model.
		Name string
		// Input is the raw JSON argument object.
		Input json.RawMessage
	}

	// ToolResultPart carries the outcome of a tool call back to the model.
	ToolResultPart struct {
		// ToolUseID correlates the result with the originating ToolUsePart.
		ToolUseID string
		// Name is the tool name.
		Name string
		// Content is the textual tool output or error message.
		Content string
		// IsError reports whether the tool failed.
		IsError bool
	}

	// ToolDefinition describes a tool exposed to the model.
	ToolDefinition struct {
		Name        string
		Description string
		// InputSchema is the JSON schema of the argument object.
		InputSchema map[string]any
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		ID      string
		Name    string
		Payload json.RawMessage
	}

	// TokenUsage tracks token counts for one invocation.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
	}
)

const (
	// RoleSystem carries instructions.
	RoleSystem ConversationRole = "system"
	// RoleUser carries user and tool-result content.
	RoleUser ConversationRole = "user"
	// RoleAssistant carries model output and tool calls.
	RoleAssistant ConversationRole = "assistant"
)

// ErrRateLimited indicates the provider throttled the request. Adapters wrap it
// so callers can match with errors.Is.
var ErrRateLimited = errors.New("model: rate limited")

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Final reports whether the response is a final answer.
func (r Response) Final() bool {
	return len(r.ToolCalls) == 0
}

// Text concatenates the text parts of all content messages.
func (r Response) Text() string {
	var b strings.Builder
	for _, m := range r.Content {
		for _, p := range m.Parts {
			if t, ok := p.(TextPart); ok {
				b.WriteString(t.Text)
			}
		}
	}
	return b.String()
}

// Add returns the sum of two usage values.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// TextMessage builds a single-part text message.
func TextMessage(role ConversationRole, text string) *Message {
	return &Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// AssistantTurn builds the assistant message recording a response: its text
// followed by one ToolUsePart per requested call.
func AssistantTurn(resp Response) *Message {
	msg := &Message{Role: RoleAssistant}
	if text := resp.Text(); text != "" {
		msg.Parts = append(msg.Parts, TextPart{Text: text})
	}
	for _, c := range resp.ToolCalls {
		msg.Parts = append(msg.Parts, ToolUsePart{ID: c.ID, Name: c.Name, Input: c.Payload})
	}
	return msg
}
