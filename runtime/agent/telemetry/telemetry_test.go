package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"goa.design/clue/log"
)

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()
	l := NewNoopLogger()
	l.Debug(ctx, "d")
	l.Info(ctx, "i", "k", "v")
	l.Warn(ctx, "w")
	l.Error(ctx, "e", "err", errors.New("boom"))

	m := NewNoopMetrics()
	m.IncCounter("c", 1, "k", "v")
	m.RecordTimer("t", time.Second)

	got, span := NewNoopTracer().Start(ctx, "span")
	require.Equal(t, ctx, got)
	span.AddEvent("ev", "k", 1)
	span.SetStatus(codes.Ok, "")
	span.RecordError(errors.New("boom"))
	span.End()
}

func TestFieldersFlattensErrorsAndDropsBadKeys(t *testing.T) {
	out := fielders("hello", []any{"player", "p1", 42, "ignored", "err", errors.New("boom"), "dangling"})
	require.Equal(t, []log.Fielder{
		log.KV{K: "msg", V: "hello"},
		log.KV{K: "player", V: "p1"},
		log.KV{K: "err", V: "boom"},
		log.KV{K: "dangling", V: nil},
	}, out)
}

func TestTagAttrs(t *testing.T) {
	require.Equal(t, []attribute.KeyValue{
		attribute.String("provider", "anthropic"),
		attribute.String("odd", ""),
	}, tagAttrs([]string{"provider", "anthropic", "odd"}))
}

func TestKVAttrs(t *testing.T) {
	attrs := kvAttrs([]any{"s", "x", "i", 3, "b", true, "d", time.Second})
	require.Equal(t, []attribute.KeyValue{
		attribute.String("s", "x"),
		attribute.Int("i", 3),
		attribute.Bool("b", true),
		attribute.String("d", "1s"),
	}, attrs)
}
