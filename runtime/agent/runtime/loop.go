package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/codes"

	"github.com/royalbadminton/streakbot/runtime/agent/model"
	"github.com/royalbadminton/streakbot/runtime/agent/stream"
	"github.com/royalbadminton/streakbot/runtime/agent/tools"
	"github.com/royalbadminton/streakbot/runtime/agent/transcript"
)

type state int

const (
	stateReason state = iota
	stateAct
	stateDone
)

func (s state) String() string {
	switch s {
	case stateReason:
		return "REASON"
	case stateAct:
		return "ACT"
	case stateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Run executes one invocation. It returns the final answer when the model
// stops requesting tools. On ErrTurnLimit, ErrReasoning or run timeout the
// returned Result holds the partial state and the error says why the run
// stopped.
func (r *Runtime) Run(ctx context.Context, in RunInput) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.RunTimeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "streakbot.run")
	defer span.End()

	log := transcript.New()
	if in.System != "" {
		_ = log.Append(model.TextMessage(model.RoleSystem, in.System))
	}
	_ = log.Append(model.TextMessage(model.RoleUser, in.Prompt))

	res := &Result{RunID: in.RunID}
	r.publish(ctx, stream.NewEvent(stream.EventRunStarted, in.RunID, stream.RunStartedPayload{}))
	r.logger.Info(ctx, "run started", "run_id", in.RunID, "max_turns", r.opts.MaxTurns)

	var (
		pending []model.ToolCall
		st      = stateReason
		err     error
	)
	for st != stateDone && err == nil {
		switch st {
		case stateReason:
			if res.Turns >= r.opts.MaxTurns {
				err = fmt.Errorf("%w: %d turns", ErrTurnLimit, r.opts.MaxTurns)
				break
			}
			if cerr := ctx.Err(); cerr != nil {
				err = fmt.Errorf("run aborted: %w", cerr)
				break
			}
			res.Turns++
			var resp model.Response
			resp, err = r.reason(ctx, log, res.Turns)
			if err != nil {
				break
			}
			res.Usage = res.Usage.Add(resp.Usage)
			resp.ToolCalls = uniqueCallIDs(resp.ToolCalls, res.Turns)
			_ = log.Append(model.AssistantTurn(resp))
			if resp.Final() {
				res.Output = resp.Text()
				st = stateDone
				break
			}
			pending = resp.ToolCalls
			st = stateAct

		case stateAct:
			outcomes := r.act(ctx, in.RunID, res.Turns, pending)
			parts := make([]model.Part, len(outcomes))
			for i, o := range outcomes {
				parts[i] = model.ToolResultPart{
					ToolUseID: o.CallID,
					Name:      o.Name,
					Content:   o.Content,
					IsError:   o.IsError,
				}
			}
			if aerr := log.Append(&model.Message{Role: model.RoleUser, Parts: parts}); aerr != nil {
				err = fmt.Errorf("record tool results: %w", aerr)
				break
			}
			res.ToolCalls = append(res.ToolCalls, outcomes...)
			pending = nil
			st = stateReason
		}
	}
	res.Messages = log.Messages()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error(ctx, "run failed", "run_id", in.RunID, "turns", res.Turns, "err", err)
		r.publish(ctx, stream.NewEvent(stream.EventRunFailed, in.RunID, stream.RunFailedPayload{Turns: res.Turns, Error: err.Error()}))
		return res, err
	}
	span.SetStatus(codes.Ok, "")
	r.logger.Info(ctx, "run completed", "run_id", in.RunID, "turns", res.Turns, "tool_calls", len(res.ToolCalls))
	r.publish(ctx, stream.NewEvent(stream.EventRunCompleted, in.RunID, stream.RunCompletedPayload{Turns: res.Turns, Output: res.Output}))
	return res, nil
}

// reason performs one REASON step over the full transcript.
func (r *Runtime) reason(ctx context.Context, log *transcript.Log, turn int) (model.Response, error) {
	ctx, span := r.tracer.Start(ctx, "streakbot.reason")
	defer span.End()

	resp, err := r.model.Complete(ctx, model.Request{
		Model:       r.opts.ModelID,
		Messages:    log.Messages(),
		Tools:       tools.Definitions(),
		MaxTokens:   r.opts.MaxTokens,
		Temperature: r.opts.Temperature,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.IncCounter("streakbot.model.errors", 1, "turn", strconv.Itoa(turn))
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return model.Response{}, fmt.Errorf("%w: run timeout: %w", ErrReasoning, err)
		}
		return model.Response{}, fmt.Errorf("%w: %w", ErrReasoning, err)
	}
	r.logger.Debug(ctx, "reasoning step", "turn", turn, "tool_calls", len(resp.ToolCalls), "stop_reason", resp.StopReason)
	return resp, nil
}

func (r *Runtime) publish(ctx context.Context, ev stream.Event) {
	if err := r.stream.Send(ctx, ev); err != nil {
		r.logger.Warn(ctx, "stream event dropped", "type", string(ev.Type), "run_id", ev.RunID, "err", err)
	}
}

// uniqueCallIDs assigns ids to calls that lack one and disambiguates repeated
// ids so every tool result correlates with exactly one call.
func uniqueCallIDs(calls []model.ToolCall, turn int) []model.ToolCall {
	seen := make(map[string]struct{}, len(calls))
	for i := range calls {
		id := calls[i].ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", turn, i)
		}
		if _, dup := seen[id]; dup {
			id = fmt.Sprintf("%s_%d", id, i)
		}
		seen[id] = struct{}{}
		calls[i].ID = id
	}
	return calls
}
