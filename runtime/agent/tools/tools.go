// Package tools defines the closed set of tools the model may call, their JSON
// schemas and the decoding of raw tool-call arguments into typed variants.
//
// Decoding is the only way to obtain a Call: names outside the set and payloads
// that fail schema validation are reported as structured tool errors rather
// than silently dropped.
package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/royalbadminton/streakbot/runtime/agent/model"
	"github.com/royalbadminton/streakbot/runtime/agent/toolerrors"
)

// Ident is a tool name as seen by the model.
type Ident string

const (
	// FetchRecentBookingsName is the wire name of the fetch-recent-bookings tool.
	FetchRecentBookingsName Ident = "get_booking_history"
	// SendReminderName is the wire name of the send-reminder tool.
	SendReminderName Ident = "send_whatsapp_reminder"

	// DefaultLookbackDays is used when the model omits lookback_days.
	DefaultLookbackDays = 30
)

type (
	// Call is a decoded tool invocation. The set of implementations is closed.
	Call interface {
		Name() Ident
		isCall()
	}

	// FetchRecentBookings requests the bookings of the last LookbackDays days.
	FetchRecentBookings struct {
		LookbackDays *int `json:"lookback_days,omitempty"`
	}

	// SendReminder requests delivery of a message to a contact address.
	SendReminder struct {
		ContactAddress string `json:"phone_number"`
		MessageBody    string `json:"message_body"`
	}

	spec struct {
		name        Ident
		description string
		rawSchema   string
		schema      map[string]any
		compiled    *jsonschema.Schema
		decode      func([]byte) (Call, error)
	}
)

var specs = mustCompile(
	&spec{
		name:        FetchRecentBookingsName,
		description: "Return recent bookings as a CSV string (user,phone,date,day), newest first, for analysis.",
		rawSchema: `{
			"type": "object",
			"properties": {
				"lookback_days": {
					"type": "integer",
					"description": "Number of days of history to fetch. Defaults to 30."
				}
			},
			"additionalProperties": false
		}`,
		decode: decodeFetch,
	},
	&spec{
		name:        SendReminderName,
		description: "Send (or simulate) a WhatsApp reminder to a player.",
		rawSchema: `{
			"type": "object",
			"properties": {
				"phone_number": {
					"type": "string",
					"minLength": 1,
					"description": "Destination address, e.g. whatsapp:+15550000001."
				},
				"message_body": {
					"type": "string",
					"minLength": 1,
					"description": "Personalized reminder text."
				}
			},
			"required": ["phone_number", "message_body"],
			"additionalProperties": false
		}`,
		decode: decodeSend,
	},
)

func (FetchRecentBookings) Name() Ident { return FetchRecentBookingsName }
func (SendReminder) Name() Ident        { return SendReminderName }
func (FetchRecentBookings) isCall()     {}
func (SendReminder) isCall()            {}

// Days returns the requested lookback, applying the default.
func (f FetchRecentBookings) Days() int {
	if f.LookbackDays == nil {
		return DefaultLookbackDays
	}
	return *f.LookbackDays
}

// Names returns the tool names in declaration order.
func Names() []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, string(s.name))
	}
	return out
}

// Definitions returns the tool definitions advertised to the model.
func Definitions() []*model.ToolDefinition {
	out := make([]*model.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		out = append(out, &model.ToolDefinition{
			Name:        string(s.name),
			Description: s.description,
			InputSchema: s.schema,
		})
	}
	return out
}

// Decode validates payload against the schema of the named tool and returns
// the typed call. Failures are *toolerrors.ToolError values of kind
// KindUnknownTool or KindInvalidArgument.
func Decode(name string, payload json.RawMessage) (Call, error) {
	idx := slices.IndexFunc(specs, func(s *spec) bool { return string(s.name) == name })
	if idx < 0 {
		return nil, toolerrors.UnknownTool(name, Names())
	}
	s := specs[idx]

	raw := bytes.TrimSpace(payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, toolerrors.InvalidArgument("%s: arguments are not valid JSON: %v", name, err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return nil, toolerrors.InvalidArgument("%s: invalid arguments: %v", name, err)
	}
	return s.decode(raw)
}

func decodeFetch(raw []byte) (Call, error) {
	var f FetchRecentBookings
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, toolerrors.InvalidArgument("%s: %v", FetchRecentBookingsName, err)
	}
	if f.Days() <= 0 {
		return nil, toolerrors.InvalidArgument("lookback_days must be a positive integer, got %d", f.Days())
	}
	return f, nil
}

func decodeSend(raw []byte) (Call, error) {
	var s SendReminder
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, toolerrors.InvalidArgument("%s: %v", SendReminderName, err)
	}
	return s, nil
}

func mustCompile(in ...*spec) []*spec {
	for _, s := range in {
		if err := json.Unmarshal([]byte(s.rawSchema), &s.schema); err != nil {
			panic(fmt.Errorf("tools: parse schema %s: %w", s.name, err))
		}
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(s.rawSchema))
		if err != nil {
			panic(fmt.Errorf("tools: parse schema %s: %w", s.name, err))
		}
		c := jsonschema.NewCompiler()
		url := string(s.name) + ".json"
		if err := c.AddResource(url, doc); err != nil {
			panic(fmt.Errorf("tools: add schema %s: %w", s.name, err))
		}
		compiled, err := c.Compile(url)
		if err != nil {
			panic(fmt.Errorf("tools: compile schema %s: %w", s.name, err))
		}
		s.compiled = compiled
	}
	return in
}
