package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/royalbadminton/streakbot/runtime/booking"
)

type (
	// demoPlayer is a synthetic player booking the same weekday every week.
	demoPlayer struct {
		ID      string
		Name    string
		Contact string
		Court   string
		// Offset is the number of days after Monday.
		Offset int
	}

	seedOptions struct {
		Records    []booking.Booking
		MockWeeks  int
		SkipLatest []string
		Purge      []string
		DryRun     bool
		Today      time.Time
	}

	seedReport struct {
		Prepared int
		Purged   int64
		Upserted int
		Sample   *booking.Booking
	}
)

const (
	defaultContact = "whatsapp:+10000000000"
	defaultCourt   = "Court A"
	unknownPlayer  = "Unknown Player"
)

var demoPlayers = []demoPlayer{
	{ID: "demo_sri", Name: "Sri Sampath", Contact: "whatsapp:+15550000001", Court: "Court A", Offset: 0},
	{ID: "demo_lara", Name: "Lara Patel", Contact: "whatsapp:+15550000002", Court: "Court B", Offset: 2},
	{ID: "demo_bia", Name: "Bia Rodrigues", Contact: "whatsapp:+15550000003", Court: "Court A", Offset: 4},
	{ID: "demo_ken", Name: "Ken Ito", Contact: "whatsapp:+15550000004", Court: "Court C", Offset: 5},
}

// seed purges, then upserts the prepared bookings. In dry-run mode nothing is
// written.
func seed(ctx context.Context, store booking.Store, opts seedOptions) (*seedReport, error) {
	records := append([]booking.Booking(nil), opts.Records...)
	if opts.MockWeeks > 0 {
		records = append(records, mockBookings(opts.Today, opts.MockWeeks, opts.SkipLatest)...)
	}
	rep := &seedReport{Prepared: len(records)}
	if len(records) > 0 {
		rep.Sample = &records[0]
	}
	if opts.DryRun {
		return rep, nil
	}
	if len(opts.Purge) > 0 {
		n, err := store.DeleteByPlayer(ctx, opts.Purge)
		if err != nil {
			return rep, fmt.Errorf("purge: %w", err)
		}
		rep.Purged = n
	}
	for _, b := range records {
		written, err := store.Upsert(ctx, b)
		if err != nil {
			return rep, fmt.Errorf("upsert %s: %w", b.Key(), err)
		}
		if written {
			rep.Upserted++
		}
	}
	return rep, nil
}

// mockBookings generates weeks of weekly bookings for the demo players,
// starting from the ISO week containing today. Players listed in skipLatest
// get no booking in the current week.
func mockBookings(today time.Time, weeks int, skipLatest []string) []booking.Booking {
	today = booking.Day(today)
	monday := today.AddDate(0, 0, 1-booking.ISOWeekday(today))
	var out []booking.Booking
	for _, p := range demoPlayers {
		for week := range weeks {
			if week == 0 && slices.Contains(skipLatest, p.ID) {
				continue
			}
			out = append(out, booking.Booking{
				PlayerID:       p.ID,
				PlayerName:     p.Name,
				ContactAddress: p.Contact,
				CourtName:      p.Court,
				Date:           monday.AddDate(0, 0, p.Offset-7*week),
				IsRegularSlot:  true,
			})
		}
	}
	return out
}

// readLegacy reads a JSON array, a single JSON document or newline-delimited
// documents exported from the legacy booking system. Values may use MongoDB
// extended JSON. Records that cannot be converted are returned as errors and
// do not stop the others.
func readLegacy(r io.Reader) ([]booking.Booking, []error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, []error{err}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	docs, err := splitDocuments(raw)
	if err != nil {
		return nil, []error{err}
	}
	var (
		out  []booking.Booking
		errs []error
	)
	for i, doc := range docs {
		var m bson.M
		if err := bson.UnmarshalExtJSON(doc, false, &m); err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i+1, err))
			continue
		}
		b, err := fromLegacy(m)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i+1, err))
			continue
		}
		out = append(out, b)
	}
	return out, errs
}

func splitDocuments(raw []byte) ([]json.RawMessage, error) {
	if raw[0] == '[' {
		var docs []json.RawMessage
		if err := json.Unmarshal(raw, &docs); err != nil {
			return nil, fmt.Errorf("parse json array: %w", err)
		}
		return docs, nil
	}
	var docs []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		var doc json.RawMessage
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse json documents: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// fromLegacy maps a legacy record, falling back to the older field names.
func fromLegacy(m bson.M) (booking.Booking, error) {
	date, err := legacyDate(first(m, "booking_date", "date"))
	if err != nil {
		return booking.Booking{}, err
	}
	name := stringField(m, "user_name")
	if name == "" {
		parts := make([]string, 0, 2)
		for _, k := range []string{"first_name", "last_name"} {
			if v := stringField(m, k); v != "" {
				parts = append(parts, v)
			}
		}
		name = strings.TrimSpace(strings.Join(parts, " "))
	}
	if name == "" {
		name = unknownPlayer
	}
	contact := stringField(m, "whatsapp_number")
	if contact == "" {
		contact = stringField(m, "phone")
	}
	if contact == "" {
		contact = defaultContact
	}
	court := stringField(m, "court_name")
	if court == "" {
		if v, ok := m["court_id"]; ok && v != nil {
			court = scalarString(v)
		} else {
			court = defaultCourt
		}
	}
	id := stringField(m, "user_id")
	if id == "" {
		id = scalarString(m["_id"])
	}
	if id == "" {
		return booking.Booking{}, errors.New("user id missing")
	}
	regular := true
	if v, ok := m["is_regular_slot"].(bool); ok {
		regular = v
	}
	return booking.Booking{
		PlayerID:       id,
		PlayerName:     name,
		ContactAddress: contact,
		CourtName:      court,
		Date:           booking.Day(date),
		IsRegularSlot:  regular,
	}, nil
}

func legacyDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case bson.DateTime:
		return d.Time(), nil
	case time.Time:
		return d, nil
	case string:
		if t, err := time.Parse(time.RFC3339, d); err == nil {
			return t, nil
		}
		return booking.ParseDay(d)
	default:
		return time.Time{}, errors.New("booking date missing or invalid")
	}
}

func first(m bson.M, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(m bson.M, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bson.ObjectID:
		return x.Hex()
	default:
		return fmt.Sprint(x)
	}
}
