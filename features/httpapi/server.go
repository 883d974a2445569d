// Package httpapi exposes bookings, run history, and the manual check trigger
// over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"goa.design/clue/health"
	goahttp "goa.design/goa/v3/http"
	goa "goa.design/goa/v3/pkg"

	"github.com/royalbadminton/streakbot/runtime/agent/runlog"
	"github.com/royalbadminton/streakbot/runtime/agent/telemetry"
	"github.com/royalbadminton/streakbot/runtime/booking"
)

type (
	// Scheduler is the subset of the scheduler the HTTP surface drives.
	Scheduler interface {
		TriggerNow()
		NextRun() time.Time
		Running() bool
	}

	// Options configures a Server.
	Options struct {
		// Bookings is the booking store. Required.
		Bookings booking.Store
		// Runs is the run-history store. Required.
		Runs runlog.Store
		// Scheduler backs the status and trigger endpoints. Required.
		Scheduler Scheduler
		// Health checks downstream dependencies. Defaults to a checker with
		// no dependencies.
		Health health.Checker
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
		// Decoder and Encoder default to the goa JSON codecs.
		Decoder func(*http.Request) goahttp.Decoder
		Encoder func(context.Context, http.ResponseWriter) goahttp.Encoder
	}

	// Server implements the HTTP handlers.
	Server struct {
		// Mounts lists the mounted endpoints.
		Mounts []*MountPoint

		bookings  booking.Store
		runs      runlog.Store
		scheduler Scheduler
		health    health.Checker
		logger    telemetry.Logger
		dec       func(*http.Request) goahttp.Decoder
		enc       func(context.Context, http.ResponseWriter) goahttp.Encoder
	}

	// MountPoint describes one mounted endpoint.
	MountPoint struct {
		Method  string
		Verb    string
		Pattern string
		handler http.HandlerFunc
	}

	createBookingRequestBody struct {
		UserID         *string `json:"user_id"`
		UserName       *string `json:"user_name"`
		WhatsappNumber *string `json:"whatsapp_number"`
		CourtName      *string `json:"court_name"`
		Date           *string `json:"date"`
		IsRegularSlot  *bool   `json:"is_regular_slot"`
	}

	createBookingResponseBody struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		Written bool   `json:"written"`
	}

	bookingResponseBody struct {
		UserID         string `json:"user_id"`
		UserName       string `json:"user_name"`
		WhatsappNumber string `json:"whatsapp_number"`
		CourtName      string `json:"court_name"`
		Date           string `json:"date"`
		IsRegularSlot  bool   `json:"is_regular_slot"`
	}

	messageResponseBody struct {
		Message string `json:"message"`
	}

	statusResponseBody struct {
		Status    string  `json:"status"`
		Scheduler string  `json:"scheduler"`
		NextRun   *string `json:"next_run"`
	}

	runResponseBody struct {
		ID        string                  `json:"id"`
		Trigger   string                  `json:"trigger"`
		Mode      string                  `json:"mode"`
		Status    string                  `json:"status"`
		StartedAt string                  `json:"started_at"`
		EndedAt   *string                 `json:"ended_at,omitempty"`
		Turns     int                     `json:"turns"`
		Output    string                  `json:"output,omitempty"`
		Error     string                  `json:"error,omitempty"`
		Reminders []*reminderResponseBody `json:"reminders,omitempty"`
	}

	reminderResponseBody struct {
		WhatsappNumber string `json:"whatsapp_number"`
		Result         string `json:"result"`
	}
)

const (
	defaultBookingLimit = 100
	maxBookingLimit     = 500
	defaultRunLimit     = 20
	maxRunLimit         = 100
)

// New validates opts and builds the HTTP handlers.
func New(opts Options) (*Server, error) {
	switch {
	case opts.Bookings == nil:
		return nil, errors.New("booking store is required")
	case opts.Runs == nil:
		return nil, errors.New("run store is required")
	case opts.Scheduler == nil:
		return nil, errors.New("scheduler is required")
	}
	s := &Server{
		bookings:  opts.Bookings,
		runs:      opts.Runs,
		scheduler: opts.Scheduler,
		health:    opts.Health,
		logger:    opts.Logger,
		dec:       opts.Decoder,
		enc:       opts.Encoder,
	}
	if s.health == nil {
		s.health = health.NewChecker()
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	if s.dec == nil {
		s.dec = goahttp.RequestDecoder
	}
	if s.enc == nil {
		s.enc = goahttp.ResponseEncoder
	}
	s.Mounts = []*MountPoint{
		{"Status", "GET", "/", s.handleStatus},
		{"CreateBooking", "POST", "/bookings", s.handleCreateBooking},
		{"ListBookings", "GET", "/bookings", s.handleListBookings},
		{"TriggerCheck", "POST", "/admin/trigger-check", s.handleTriggerCheck},
		{"ListRuns", "GET", "/runs", s.handleListRuns},
		{"GetRun", "GET", "/runs/{id}", s.handleGetRun},
		{"Health", "GET", "/healthz", health.Handler(s.health).ServeHTTP},
	}
	return s, nil
}

// Mount configures the mux to serve the endpoints.
func (s *Server) Mount(mux goahttp.Muxer) {
	for _, m := range s.Mounts {
		mux.Handle(m.Verb, m.Pattern, m.handler)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := &statusResponseBody{Status: "online", Scheduler: "stopped"}
	if s.scheduler.Running() {
		body.Scheduler = "running"
	}
	if next := s.scheduler.NextRun(); !next.IsZero() {
		v := next.UTC().Format(time.RFC3339)
		body.NextRun = &v
	}
	s.encode(w, r, http.StatusOK, body)
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body createBookingRequestBody
	if err := s.dec(r).Decode(&body); err != nil {
		s.fail(w, r, goa.DecodePayloadError(err.Error()))
		return
	}
	b, err := bookingFromBody(&body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	written, err := s.bookings.Upsert(r.Context(), b)
	if err != nil {
		if errors.Is(err, booking.ErrInvalidBooking) {
			s.fail(w, r, goa.PermanentError("invalid_payload", "%s", err.Error()))
			return
		}
		s.fail(w, r, err)
		return
	}
	s.logger.Info(r.Context(), "booking stored", "player_id", b.PlayerID, "date", b.Date.Format(booking.DayLayout), "written", written)
	s.encode(w, r, http.StatusCreated, &createBookingResponseBody{
		ID:      b.Key(),
		Message: "Booking confirmed",
		Written: written,
	})
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultBookingLimit, maxBookingLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	bookings, err := s.bookings.Recent(r.Context(), time.Time{}, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]*bookingResponseBody, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, &bookingResponseBody{
			UserID:         b.PlayerID,
			UserName:       b.PlayerName,
			WhatsappNumber: b.ContactAddress,
			CourtName:      b.CourtName,
			Date:           b.Date.UTC().Format(booking.DayLayout),
			IsRegularSlot:  b.IsRegularSlot,
		})
	}
	s.encode(w, r, http.StatusOK, out)
}

func (s *Server) handleTriggerCheck(w http.ResponseWriter, r *http.Request) {
	s.scheduler.TriggerNow()
	s.encode(w, r, http.StatusAccepted, &messageResponseBody{Message: "Agent execution triggered in background."})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]*runResponseBody, 0, len(recs))
	for _, rec := range recs {
		out = append(out, runBody(rec))
	}
	s.encode(w, r, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, runlog.ErrNotFound) {
			s.fail(w, r, goa.PermanentError("not_found", "run %q not found", id))
			return
		}
		s.fail(w, r, err)
		return
	}
	s.encode(w, r, http.StatusOK, runBody(rec))
}

func (s *Server) encode(w http.ResponseWriter, r *http.Request, status int, v any) {
	enc := s.enc(r.Context(), w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		s.logger.Error(r.Context(), "failed to encode response", "path", r.URL.Path, "err", err)
	}
}

// fail writes err as a goa error response. Service errors map to 4xx,
// anything else is reported as an internal fault.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var serr *goa.ServiceError
	status := http.StatusInternalServerError
	if errors.As(err, &serr) {
		switch serr.Name {
		case "not_found":
			status = http.StatusNotFound
		default:
			status = http.StatusBadRequest
		}
	} else {
		s.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		err = goa.Fault("%s", err.Error())
	}
	s.encode(w, r, status, goahttp.NewErrorResponse(r.Context(), err))
}

func bookingFromBody(body *createBookingRequestBody) (booking.Booking, error) {
	var err error
	if body.UserID == nil {
		err = goa.MergeErrors(err, goa.MissingFieldError("user_id", "body"))
	}
	if body.UserName == nil {
		err = goa.MergeErrors(err, goa.MissingFieldError("user_name", "body"))
	}
	if body.WhatsappNumber == nil {
		err = goa.MergeErrors(err, goa.MissingFieldError("whatsapp_number", "body"))
	}
	if body.CourtName == nil {
		err = goa.MergeErrors(err, goa.MissingFieldError("court_name", "body"))
	}
	if body.Date == nil {
		err = goa.MergeErrors(err, goa.MissingFieldError("date", "body"))
	}
	if err != nil {
		return booking.Booking{}, err
	}
	day, perr := booking.ParseDay(*body.Date)
	if perr != nil {
		return booking.Booking{}, goa.InvalidFormatError("date", *body.Date, goa.FormatDate, perr)
	}
	b := booking.Booking{
		PlayerID:       strings.TrimSpace(*body.UserID),
		PlayerName:     *body.UserName,
		ContactAddress: strings.TrimSpace(*body.WhatsappNumber),
		CourtName:      *body.CourtName,
		Date:           day,
		IsRegularSlot:  true,
	}
	if body.IsRegularSlot != nil {
		b.IsRegularSlot = *body.IsRegularSlot
	}
	return b, nil
}

func parseLimit(r *http.Request, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, goa.InvalidFieldTypeError("limit", raw, "integer")
	}
	if n < 1 {
		return 0, goa.InvalidRangeError("limit", n, 1, true)
	}
	return min(n, ceiling), nil
}

func runBody(rec *runlog.Record) *runResponseBody {
	out := &runResponseBody{
		ID:        rec.ID,
		Trigger:   rec.Trigger,
		Mode:      rec.Mode,
		Status:    string(rec.Status),
		StartedAt: rec.StartedAt.UTC().Format(time.RFC3339),
		Turns:     rec.Turns,
		Output:    rec.Output,
		Error:     rec.Error,
	}
	if !rec.EndedAt.IsZero() {
		v := rec.EndedAt.UTC().Format(time.RFC3339)
		out.EndedAt = &v
	}
	for _, rem := range rec.Reminders {
		out.Reminders = append(out.Reminders, &reminderResponseBody{
			WhatsappNumber: rem.ContactAddress,
			Result:         rem.Result,
		})
	}
	return out
}
