// Package runtime implements the tool-dispatch loop: a bounded state machine
// that alternates between asking the model what to do next (REASON) and
// executing the tool calls it requested (ACT) until the model produces a
// final answer (DONE).
//
// The loop owns the conversation transcript of one invocation. Tool failures,
// unknown tool names, invalid arguments and timeouts never abort the loop: they
// become error tool results the model sees on its next turn. Model failures
// abort the invocation without retry.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/royalbadminton/streakbot/runtime/agent/model"
	"github.com/royalbadminton/streakbot/runtime/agent/stream"
	"github.com/royalbadminton/streakbot/runtime/agent/telemetry"
	"github.com/royalbadminton/streakbot/runtime/agent/toolerrors"
	"github.com/royalbadminton/streakbot/runtime/agent/tools"
)

const (
	// DefaultMaxTurns bounds the number of REASON steps of one invocation.
	DefaultMaxTurns = 8
	// DefaultToolTimeout bounds a single tool call.
	DefaultToolTimeout = 30 * time.Second
	// DefaultRunTimeout bounds a whole invocation.
	DefaultRunTimeout = 5 * time.Minute
	// DefaultMaxTokens caps each completion.
	DefaultMaxTokens = 2048
)

var (
	// ErrTurnLimit indicates the model kept requesting tools past MaxTurns.
	ErrTurnLimit = errors.New("turn limit reached")
	// ErrReasoning wraps model failures that abort an invocation.
	ErrReasoning = errors.New("reasoning failed")
)

type (
	// ToolExecutor runs decoded tool calls. Execute returns the textual tool
	// output; a non-nil error is reported to the model as an error result.
	// Implementations must be safe for concurrent use.
	ToolExecutor interface {
		Execute(ctx context.Context, call tools.Call) (string, error)
	}

	// Options configures a Runtime.
	Options struct {
		// ModelID is passed to the client on every request. Empty selects
		// the adapter default.
		ModelID string
		// MaxTurns bounds REASON steps. Defaults to DefaultMaxTurns.
		MaxTurns int
		// ToolTimeout bounds each tool call. Defaults to DefaultToolTimeout.
		ToolTimeout time.Duration
		// RunTimeout bounds the whole invocation. Defaults to DefaultRunTimeout.
		RunTimeout time.Duration
		// MaxTokens caps each completion. Defaults to DefaultMaxTokens.
		MaxTokens int
		// Temperature is passed through to the model.
		Temperature float32
		// Stream receives run events. Defaults to stream.NoopSink.
		Stream stream.Sink
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// RuntimeOption configures the runtime via functional options passed to New.
	RuntimeOption func(*Options)

	// Runtime runs tool-dispatch loop invocations. A Runtime holds no
	// per-invocation state and may run concurrent invocations.
	Runtime struct {
		model   model.Client
		exec    ToolExecutor
		opts    Options
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		stream  stream.Sink
	}

	// RunInput describes one invocation.
	RunInput struct {
		// RunID identifies the invocation in logs and events.
		RunID string
		// System is the optional system instruction.
		System string
		// Prompt is the initial user message.
		Prompt string
	}

	// Result is the outcome of an invocation. On failure it holds the state
	// reached before the failure.
	Result struct {
		RunID string
		// Output is the text of the final model answer.
		Output string
		// Turns is the number of REASON steps performed.
		Turns int
		// ToolCalls lists every executed tool call in request order.
		ToolCalls []ToolOutcome
		// Usage sums token usage across turns.
		Usage model.TokenUsage
		// Messages is the complete transcript.
		Messages []*model.Message
	}

	// ToolOutcome describes one executed tool call.
	ToolOutcome struct {
		CallID string
		Name   string
		// Call is the decoded call; nil when decoding failed.
		Call    tools.Call
		Content string
		IsError bool
		// Kind classifies the failure when IsError is set.
		Kind     toolerrors.Kind
		Duration time.Duration
	}
)

// WithModelID sets the model identifier.
func WithModelID(id string) RuntimeOption { return func(o *Options) { o.ModelID = id } }

// WithMaxTurns sets the turn bound.
func WithMaxTurns(n int) RuntimeOption { return func(o *Options) { o.MaxTurns = n } }

// WithToolTimeout sets the per-call tool timeout.
func WithToolTimeout(d time.Duration) RuntimeOption { return func(o *Options) { o.ToolTimeout = d } }

// WithRunTimeout sets the invocation timeout.
func WithRunTimeout(d time.Duration) RuntimeOption { return func(o *Options) { o.RunTimeout = d } }

// WithMaxTokens sets the completion cap.
func WithMaxTokens(n int) RuntimeOption { return func(o *Options) { o.MaxTokens = n } }

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) RuntimeOption { return func(o *Options) { o.Temperature = t } }

// WithStream sets the run event sink.
func WithStream(s stream.Sink) RuntimeOption { return func(o *Options) { o.Stream = s } }

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) RuntimeOption { return func(o *Options) { o.Logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) RuntimeOption { return func(o *Options) { o.Metrics = m } }

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) RuntimeOption { return func(o *Options) { o.Tracer = t } }

// New builds a Runtime driving client and executing tools with exec.
func New(client model.Client, exec ToolExecutor, opts ...RuntimeOption) (*Runtime, error) {
	if client == nil {
		return nil, errors.New("model client is required")
	}
	if exec == nil {
		return nil, errors.New("tool executor is required")
	}
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = DefaultToolTimeout
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = DefaultRunTimeout
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Stream == nil {
		o.Stream = stream.NoopSink{}
	}
	if o.Logger == nil {
		o.Logger = telemetry.NewNoopLogger()
	}
	if o.Metrics == nil {
		o.Metrics = telemetry.NewNoopMetrics()
	}
	if o.Tracer == nil {
		o.Tracer = telemetry.NewNoopTracer()
	}
	return &Runtime{
		model:   client,
		exec:    exec,
		opts:    o,
		logger:  o.Logger,
		metrics: o.Metrics,
		tracer:  o.Tracer,
		stream:  o.Stream,
	}, nil
}

// MaxTurns returns the configured turn bound.
func (r *Runtime) MaxTurns() int { return r.opts.MaxTurns }
