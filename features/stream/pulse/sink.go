// Package pulse publishes run events to goa.design/pulse streams so that
// dashboards and other services can follow streak-check runs as they happen.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/royalbadminton/streakbot/features/stream/pulse/clients/pulse"
	"github.com/royalbadminton/streakbot/runtime/agent/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client publishes the events. Required.
		Client pulse.Client
		// StreamID derives the target stream from an event. Defaults to
		// "streakbot/run/<RunID>".
		StreamID func(stream.Event) (string, error)
	}

	// Sink publishes run events into Pulse streams. It is safe for
	// concurrent use.
	Sink struct {
		client   pulse.Client
		streamID func(stream.Event) (string, error)

		mu      sync.Mutex
		handles map[string]pulse.Stream
		closed  bool
	}
)

var _ stream.Sink = (*Sink)(nil)

// NewSink constructs a Pulse-backed sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	id := opts.StreamID
	if id == nil {
		id = defaultStreamID
	}
	return &Sink{client: opts.Client, streamID: id, handles: make(map[string]pulse.Stream)}, nil
}

// Send publishes the event as a JSON envelope. The Pulse entry name is the
// event type.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	name, err := s.streamID(event)
	if err != nil {
		return err
	}
	h, err := s.handle(name)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	_, err = h.Add(ctx, string(event.Type), payload)
	return err
}

// Close releases the client. Subsequent sends fail.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.handles = nil
	s.mu.Unlock()
	return s.client.Close(ctx)
}

func (s *Sink) handle(name string) (pulse.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("pulse sink is closed")
	}
	if h, ok := s.handles[name]; ok {
		return h, nil
	}
	h, err := s.client.Stream(name)
	if err != nil {
		return nil, err
	}
	s.handles[name] = h
	return h, nil
}

func defaultStreamID(event stream.Event) (string, error) {
	if event.RunID == "" {
		return "", errors.New("stream event missing run id")
	}
	return "streakbot/run/" + event.RunID, nil
}
