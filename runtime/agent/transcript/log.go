// Package transcript records the ordered conversation of one loop invocation.
//
// A Log is append-only: messages are never edited or removed once recorded, so
// the slice handed to the model on every REASON step is a prefix-extension of
// the previous one. A Log is owned by a single invocation and is not safe for
// concurrent use; concurrent invocations each build their own.
package transcript

import (
	"errors"
	"fmt"
	"slices"

	"github.com/royalbadminton/streakbot/runtime/agent/model"
)

// Log is an append-only message log.
type Log struct {
	msgs    []*model.Message
	pending map[string]struct{}
}

// ErrOrphanResult indicates a tool result whose call id was never requested by
// the assistant, or was already answered.
var ErrOrphanResult = errors.New("transcript: tool result without matching tool use")

// New returns a log seeded with the given messages.
func New(seed ...*model.Message) *Log {
	l := &Log{pending: make(map[string]struct{})}
	for _, m := range seed {
		_ = l.Append(m)
	}
	return l
}

// Append records m. Tool results must answer an outstanding tool use from a
// previous assistant message; orphan results are rejected and nothing is
// appended.
func (l *Log) Append(m *model.Message) error {
	if m == nil {
		return nil
	}
	for _, p := range m.Parts {
		if r, ok := p.(model.ToolResultPart); ok {
			if _, open := l.pending[r.ToolUseID]; !open {
				return fmt.Errorf("%w: %q", ErrOrphanResult, r.ToolUseID)
			}
		}
	}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case model.ToolUsePart:
			l.pending[v.ID] = struct{}{}
		case model.ToolResultPart:
			delete(l.pending, v.ToolUseID)
		}
	}
	cp := *m
	cp.Parts = slices.Clone(m.Parts)
	l.msgs = append(l.msgs, &cp)
	return nil
}

// Messages returns a copy of the recorded messages in order.
func (l *Log) Messages() []*model.Message {
	return slices.Clone(l.msgs)
}

// Len returns the number of recorded messages.
func (l *Log) Len() int { return len(l.msgs) }

// Pending reports the number of tool uses still awaiting a result.
func (l *Log) Pending() int { return len(l.pending) }
