package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/royalbadminton/streakbot/runtime/agent/model"
)

func TestAppendIsPrefixExtension(t *testing.T) {
	l := New(model.TextMessage(model.RoleSystem, "sys"), model.TextMessage(model.RoleUser, "go"))
	before := l.Messages()

	require.NoError(t, l.Append(&model.Message{Role: model.RoleAssistant, Parts: []model.Part{
		model.ToolUsePart{ID: "c1", Name: "get_booking_history", Input: json.RawMessage(`{}`)},
	}}))
	require.Equal(t, 1, l.Pending())
	require.NoError(t, l.Append(&model.Message{Role: model.RoleUser, Parts: []model.Part{
		model.ToolResultPart{ToolUseID: "c1", Name: "get_booking_history", Content: "No bookings found in database."},
	}}))
	require.Equal(t, 0, l.Pending())

	after := l.Messages()
	require.Len(t, after, 4)
	require.Equal(t, before, after[:len(before)])
}

func TestAppendRejectsOrphanResults(t *testing.T) {
	l := New()
	err := l.Append(&model.Message{Role: model.RoleUser, Parts: []model.Part{
		model.ToolResultPart{ToolUseID: "nope"},
	}})
	require.ErrorIs(t, err, ErrOrphanResult)
	require.Zero(t, l.Len())
}

func TestMessagesReturnsCopy(t *testing.T) {
	l := New(model.TextMessage(model.RoleUser, "hello"))
	msgs := l.Messages()
	msgs[0] = model.TextMessage(model.RoleUser, "mutated")
	require.Equal(t, model.TextPart{Text: "hello"}, l.Messages()[0].Parts[0])
}
