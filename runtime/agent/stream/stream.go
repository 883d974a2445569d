// Package stream delivers run lifecycle events (run start, tool calls, tool
// results, completion) to observers such as dashboards or message buses.
//
// Sinks must be safe for concurrent use: the loop publishes tool events from
// the goroutines executing tool calls.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type (
	// Sink publishes run events to a transport.
	Sink interface {
		// Send publishes an event. Errors are reported to the caller, which
		// logs them; event delivery never fails a run.
		Send(ctx context.Context, event Event) error
		// Close releases transport resources. Close is idempotent.
		Close(ctx context.Context) error
	}

	// EventType names a run event.
	EventType string

	// Event is a single run event.
	Event struct {
		Type      EventType `json:"type"`
		RunID     string    `json:"run_id"`
		Timestamp time.Time `json:"timestamp"`
		// Payload is one of the *Payload types below.
		Payload any `json:"payload,omitempty"`
	}

	// RunStartedPayload describes a new run.
	RunStartedPayload struct {
		Trigger string `json:"trigger,omitempty"`
		Mode    string `json:"mode,omitempty"`
	}

	// ToolCallPayload describes a tool call about to execute.
	ToolCallPayload struct {
		CallID string          `json:"call_id"`
		Name   string          `json:"name"`
		Turn   int             `json:"turn"`
		Args   json.RawMessage `json:"args,omitempty"`
	}

	// ToolResultPayload describes a finished tool call.
	ToolResultPayload struct {
		CallID   string        `json:"call_id"`
		Name     string        `json:"name"`
		IsError  bool          `json:"is_error"`
		Preview  string        `json:"preview"`
		Duration time.Duration `json:"duration"`
	}

	// RunCompletedPayload describes a run that reached DONE.
	RunCompletedPayload struct {
		Turns  int    `json:"turns"`
		Output string `json:"output"`
	}

	// RunFailedPayload describes a run that aborted.
	RunFailedPayload struct {
		Turns int    `json:"turns"`
		Error string `json:"error"`
	}

	// NoopSink discards events.
	NoopSink struct{}

	// Recorder keeps every event in memory. It is used by tests and by the
	// local development server.
	Recorder struct {
		mu     sync.Mutex
		events []Event
	}
)

const (
	EventRunStarted   EventType = "run_started"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
)

// NewEvent stamps a new event with the current time.
func NewEvent(t EventType, runID string, payload any) Event {
	return Event{Type: t, RunID: runID, Timestamp: time.Now().UTC(), Payload: payload}
}

// Send implements Sink.
func (NoopSink) Send(context.Context, Event) error { return nil }

// Close implements Sink.
func (NoopSink) Close(context.Context) error { return nil }

// Send implements Sink.
func (r *Recorder) Send(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close implements Sink.
func (r *Recorder) Close(context.Context) error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	evs := r.Events()
	out := make([]EventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
