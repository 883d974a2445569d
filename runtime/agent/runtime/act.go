package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/royalbadminton/streakbot/runtime/agent/model"
	"github.com/royalbadminton/streakbot/runtime/agent/stream"
	"github.com/royalbadminton/streakbot/runtime/agent/toolerrors"
	"github.com/royalbadminton/streakbot/runtime/agent/tools"
)

const previewLimit = 200

type execResult struct {
	out string
	err error
}

// act executes every call of one ACT step concurrently and returns outcomes
// in request order. It returns only after every call has finished or timed
// out.
func (r *Runtime) act(ctx context.Context, runID string, turn int, calls []model.ToolCall) []ToolOutcome {
	outcomes := make([]ToolOutcome, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = r.runCall(ctx, runID, turn, c)
		}()
	}
	wg.Wait()
	return outcomes
}

func (r *Runtime) runCall(ctx context.Context, runID string, turn int, c model.ToolCall) ToolOutcome {
	ctx, span := r.tracer.Start(ctx, "streakbot.tool")
	defer span.End()
	span.AddEvent("tool_call", "tool", c.Name, "call_id", c.ID)

	r.publish(ctx, stream.NewEvent(stream.EventToolCall, runID, stream.ToolCallPayload{
		CallID: c.ID,
		Name:   c.Name,
		Turn:   turn,
		Args:   c.Payload,
	}))
	r.logger.Info(ctx, "invoking tool", "run_id", runID, "tool", c.Name, "call_id", c.ID)

	start := time.Now()
	out := ToolOutcome{CallID: c.ID, Name: c.Name}
	call, err := tools.Decode(c.Name, c.Payload)
	if err == nil {
		out.Call = call
		var content string
		content, err = r.execute(ctx, c.Name, call)
		out.Content = content
	}
	out.Duration = time.Since(start)
	if err != nil {
		out.IsError = true
		out.Kind = toolerrors.KindOf(err)
		out.Content = fmt.Sprintf("Error: %s", err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn(ctx, "tool failed", "run_id", runID, "tool", c.Name, "call_id", c.ID, "kind", string(out.Kind), "err", err)
	}

	outcome := "ok"
	if out.IsError {
		outcome = string(out.Kind)
	}
	r.metrics.IncCounter("streakbot.tool.calls", 1, "tool", c.Name, "outcome", outcome)
	r.metrics.RecordTimer("streakbot.tool.duration", out.Duration, "tool", c.Name)
	r.publish(ctx, stream.NewEvent(stream.EventToolResult, runID, stream.ToolResultPayload{
		CallID:   c.ID,
		Name:     c.Name,
		IsError:  out.IsError,
		Preview:  preview(out.Content),
		Duration: out.Duration,
	}))
	return out
}

// execute runs call under the tool timeout. Panics are recovered into
// internal errors. The loop does not wait for an executor that ignores
// cancellation past the deadline.
func (r *Runtime) execute(parent context.Context, name string, call tools.Call) (string, error) {
	ctx, cancel := context.WithTimeout(parent, r.opts.ToolTimeout)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- execResult{err: toolerrors.Internal(fmt.Sprintf("tool %q panicked: %v", name, p), nil)}
			}
		}()
		out, err := r.exec.Execute(ctx, call)
		done <- execResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return res.out, r.deadlineErr(parent, name)
		}
		return res.out, res.err
	case <-ctx.Done():
		return "", r.deadlineErr(parent, name)
	}
}

// deadlineErr reports whether the call hit its own timeout or was cut short
// by the enclosing run.
func (r *Runtime) deadlineErr(parent context.Context, name string) error {
	if err := parent.Err(); err != nil {
		return toolerrors.Aborted(name, err)
	}
	return toolerrors.Timeout(name, r.opts.ToolTimeout)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLimit {
		return s
	}
	return string(r[:previewLimit]) + "…"
}
