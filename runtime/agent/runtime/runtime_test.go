package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/royalbadminton/streakbot/runtime/agent/model"
	"github.com/royalbadminton/streakbot/runtime/agent/stream"
	"github.com/royalbadminton/streakbot/runtime/agent/toolerrors"
	"github.com/royalbadminton/streakbot/runtime/agent/tools"
)

type stubModel struct {
	mu       sync.Mutex
	requests []model.Request
	script   func(turn int, req model.Request) (model.Response, error)
}

func (m *stubModel) Complete(_ context.Context, req model.Request) (model.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	turn := len(m.requests)
	m.mu.Unlock()
	return m.script(turn, req)
}

func (m *stubModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type stubExecutor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call tools.Call) (string, error)
}

func (e *stubExecutor) Execute(ctx context.Context, call tools.Call) (string, error) {
	e.calls.Add(1)
	return e.fn(ctx, call)
}

func final(text string) model.Response {
	return model.Response{Content: []model.Message{*model.TextMessage(model.RoleAssistant, text)}, StopReason: "end_turn"}
}

func toolCalls(calls ...model.ToolCall) model.Response {
	return model.Response{ToolCalls: calls, StopReason: "tool_use"}
}

func fetchCall(id string) model.ToolCall {
	return model.ToolCall{ID: id, Name: string(tools.FetchRecentBookingsName), Payload: json.RawMessage(`{"lookback_days": 7}`)}
}

func sendCall(id, to string) model.ToolCall {
	return model.ToolCall{ID: id, Name: string(tools.SendReminderName), Payload: json.RawMessage(`{"phone_number":"` + to + `","message_body":"hi"}`)}
}

func okExecutor() *stubExecutor {
	return &stubExecutor{fn: func(_ context.Context, call tools.Call) (string, error) {
		return "ok:" + string(call.Name()), nil
	}}
}

func newRuntime(t *testing.T, m model.Client, e ToolExecutor, opts ...RuntimeOption) *Runtime {
	t.Helper()
	rt, err := New(m, e, opts...)
	require.NoError(t, err)
	return rt
}

func toolResults(msg *model.Message) []model.ToolResultPart {
	var out []model.ToolResultPart
	for _, p := range msg.Parts {
		if r, ok := p.(model.ToolResultPart); ok {
			out = append(out, r)
		}
	}
	return out
}

func TestFinalAnswerTerminatesInOneTurn(t *testing.T) {
	m := &stubModel{script: func(int, model.Request) (model.Response, error) {
		return final("No reminders needed."), nil
	}}
	exec := okExecutor()
	rec := &stream.Recorder{}
	rt := newRuntime(t, m, exec, WithStream(rec))

	res, err := rt.Run(context.Background(), RunInput{RunID: "r1", System: "sys", Prompt: "check"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Turns)
	require.Equal(t, "No reminders needed.", res.Output)
	require.Equal(t, 1, m.calls())
	require.Zero(t, exec.calls.Load())
	require.Equal(t, []stream.EventType{stream.EventRunStarted, stream.EventRunCompleted}, rec.Types())

	req := m.requests[0]
	require.Len(t, req.Messages, 2)
	require.Equal(t, model.RoleSystem, req.Messages[0].Role)
	require.Len(t, req.Tools, 2)
}

func TestTurnLimitBoundsAlwaysToolingModel(t *testing.T) {
	m := &stubModel{script: func(turn int, _ model.Request) (model.Response, error) {
		return toolCalls(fetchCall("")), nil
	}}
	exec := okExecutor()
	rt := newRuntime(t, m, exec, WithMaxTurns(3))

	res, err := rt.Run(context.Background(), RunInput{RunID: "r", Prompt: "loop"})
	require.ErrorIs(t, err, ErrTurnLimit)
	require.NotNil(t, res)
	require.Equal(t, 3, res.Turns)
	require.Equal(t, 3, m.calls())
	require.EqualValues(t, 3, exec.calls.Load())
	require.Len(t, res.ToolCalls, 3)
	require.NotEqual(t, res.ToolCalls[0].CallID, res.ToolCalls[1].CallID)
}

func TestHistoryIsAppendOnly(t *testing.T) {
	m := &stubModel{script: func(turn int, _ model.Request) (model.Response, error) {
		if turn < 3 {
			return toolCalls(fetchCall(fmt.Sprintf("c%d", turn))), nil
		}
		return final("done"), nil
	}}
	rt := newRuntime(t, m, okExecutor())

	res, err := rt.Run(context.Background(), RunInput{Prompt: "go"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Turns)
	for i := 1; i < len(m.requests); i++ {
		prev, cur := m.requests[i-1].Messages, m.requests[i].Messages
		require.Greater(t, len(cur), len(prev))
		require.Equal(t, prev, cur[:len(prev)])
	}
	// user, (assistant, tool results) x2, final assistant
	require.Len(t, res.Messages, 6)
}

func TestToolFailureBecomesErrorResult(t *testing.T) {
	m := &stubModel{script: func(turn int, req model.Request) (model.Response, error) {
		if turn == 1 {
			return toolCalls(fetchCall("c1")), nil
		}
		results := toolResults(req.Messages[len(req.Messages)-1])
		require.Len(t, results, 1)
		require.True(t, results[0].IsError)
		require.Equal(t, "c1", results[0].ToolUseID)
		require.Equal(t, "Error: store unreachable", results[0].Content)
		return final("gave up"), nil
	}}
	exec := &stubExecutor{fn: func(context.Context, tools.Call) (string, error) {
		return "", errors.New("store unreachable")
	}}
	res, err := newRuntime(t, m, exec).Run(context.Background(), RunInput{Prompt: "go"})
	require.NoError(t, err)
	require.Equal(t, "gave up", res.Output)
	require.Equal(t, toolerrors.KindInternal, res.ToolCalls[0].Kind)
}

func TestUnknownToolAndInvalidArgsAreExplicit(t *testing.T) {
	m := &stubModel{script: func(turn int, req model.Request) (model.Response, error) {
		if turn == 1 {
			return toolCalls(
				model.ToolCall{ID: "u", Name: "drop_tables", Payload: json.RawMessage(`{}`)},
				model.ToolCall{ID: "z", Name: string(tools.FetchRecentBookingsName), Payload: json.RawMessage(`{"lookback_days":0}`)},
			), nil
		}
		return final("ok"), nil
	}}
	exec := okExecutor()
	res, err := newRuntime(t, m, exec).Run(context.Background(), RunInput{Prompt: "go"})
	require.NoError(t, err)
	require.Zero(t, exec.calls.Load())
	require.Len(t, res.ToolCalls, 2)
	require.Equal(t, toolerrors.KindUnknownTool, res.ToolCalls[0].Kind)
	require.Contains(t, res.ToolCalls[0].Content, `unknown tool "drop_tables"`)
	require.Equal(t, toolerrors.KindInvalidArgument, res.ToolCalls[1].Kind)

	results := toolResults(m.requests[1].Messages[len(m.requests[1].Messages)-1])
	require.Len(t, results, 2, "every requested call gets a result")
}

func TestToolTimeoutAndPanicAreContained(t *testing.T) {
	m := &stubModel{script: func(turn int, _ model.Request) (model.Response, error) {
		if turn == 1 {
			return toolCalls(fetchCall("slow"), sendCall("boom", "whatsapp:+1")), nil
		}
		return final("ok"), nil
	}}
	exec := &stubExecutor{fn: func(ctx context.Context, call tools.Call) (string, error) {
		if _, ok := call.(tools.SendReminder); ok {
			panic("driver exploded")
		}
		<-ctx.Done()
		return "", ctx.Err()
	}}
	res, err := newRuntime(t, m, exec, WithToolTimeout(20*time.Millisecond)).Run(context.Background(), RunInput{Prompt: "go"})
	require.NoError(t, err)
	require.Equal(t, toolerrors.KindTimeout, res.ToolCalls[0].Kind)
	require.Equal(t, toolerrors.KindInternal, res.ToolCalls[1].Kind)
	require.Contains(t, res.ToolCalls[1].Content, "driver exploded")
}

func TestRunTimeoutDuringToolIsNotReportedAsToolTimeout(t *testing.T) {
	m := &stubModel{script: func(int, model.Request) (model.Response, error) {
		return toolCalls(fetchCall("slow")), nil
	}}
	exec := &stubExecutor{fn: func(ctx context.Context, _ tools.Call) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	rt := newRuntime(t, m, exec, WithToolTimeout(5*time.Second), WithRunTimeout(40*time.Millisecond))
	res, err := rt.Run(context.Background(), RunInput{Prompt: "go"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, res.ToolCalls, 1)
	require.Equal(t, toolerrors.KindTimeout, res.ToolCalls[0].Kind)
	require.Contains(t, res.ToolCalls[0].Content, "aborted: run timed out")
	require.NotContains(t, res.ToolCalls[0].Content, "5s")
	require.Equal(t, 1, m.calls())
}

func TestActRunsCallsConcurrentlyAndKeepsOrder(t *testing.T) {
	m := &stubModel{script: func(turn int, _ model.Request) (model.Response, error) {
		if turn == 1 {
			return toolCalls(sendCall("a", "whatsapp:+1"), sendCall("b", "whatsapp:+2")), nil
		}
		return final("ok"), nil
	}}
	var started sync.WaitGroup
	started.Add(2)
	exec := &stubExecutor{fn: func(ctx context.Context, call tools.Call) (string, error) {
		started.Done()
		waitCh := make(chan struct{})
		go func() { started.Wait(); close(waitCh) }()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return "", errors.New("calls were serialized")
		}
		to := call.(tools.SendReminder).ContactAddress
		if to == "whatsapp:+1" {
			time.Sleep(20 * time.Millisecond)
		}
		return "sent " + to, nil
	}}
	res, err := newRuntime(t, m, exec, WithToolTimeout(time.Second)).Run(context.Background(), RunInput{Prompt: "go"})
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 2)
	require.Equal(t, "a", res.ToolCalls[0].CallID)
	require.Equal(t, "sent whatsapp:+1", res.ToolCalls[0].Content)
	require.Equal(t, "b", res.ToolCalls[1].CallID)
	require.False(t, res.ToolCalls[1].IsError)
}

func TestReasoningFailureAborts(t *testing.T) {
	cause := model.NewProviderError("anthropic", "messages.new", 503, model.ProviderErrorKindUnavailable, "", "overloaded", nil)
	m := &stubModel{script: func(turn int, _ model.Request) (model.Response, error) {
		if turn == 1 {
			return toolCalls(fetchCall("c1")), nil
		}
		return model.Response{}, cause
	}}
	rec := &stream.Recorder{}
	res, err := newRuntime(t, m, okExecutor(), WithStream(rec)).Run(context.Background(), RunInput{Prompt: "go"})
	require.ErrorIs(t, err, ErrReasoning)
	require.ErrorIs(t, err, cause)
	require.Equal(t, 2, res.Turns)
	require.Equal(t, 2, m.calls())
	require.Equal(t, []stream.EventType{
		stream.EventRunStarted, stream.EventToolCall, stream.EventToolResult, stream.EventRunFailed,
	}, rec.Types())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, okExecutor())
	require.Error(t, err)
	_, err = New(&stubModel{}, nil)
	require.Error(t, err)

	rt, err := New(&stubModel{}, okExecutor())
	require.NoError(t, err)
	require.Equal(t, DefaultMaxTurns, rt.MaxTurns())
}
