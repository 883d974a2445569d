package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	goahttp "goa.design/goa/v3/http"

	"github.com/royalbadminton/streakbot/runtime/agent/runlog"
	runloginmem "github.com/royalbadminton/streakbot/runtime/agent/runlog/inmem"
	"github.com/royalbadminton/streakbot/runtime/booking"
	bookinginmem "github.com/royalbadminton/streakbot/runtime/booking/inmem"
)

type fakeScheduler struct {
	running  bool
	next     time.Time
	triggers atomic.Int32
}

func (f *fakeScheduler) TriggerNow()        { f.triggers.Add(1) }
func (f *fakeScheduler) NextRun() time.Time { return f.next }
func (f *fakeScheduler) Running() bool      { return f.running }

type harness struct {
	handler   http.Handler
	bookings  *bookinginmem.Store
	runs      *runloginmem.Store
	scheduler *fakeScheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bookings:  bookinginmem.New(),
		runs:      runloginmem.New(),
		scheduler: &fakeScheduler{},
	}
	srv, err := New(Options{Bookings: h.bookings, Runs: h.runs, Scheduler: h.scheduler})
	require.NoError(t, err)
	mux := goahttp.NewMuxer()
	srv.Mount(mux)
	h.handler = mux
	return h
}

func (h *harness) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Runs: runloginmem.New(), Scheduler: &fakeScheduler{}})
	require.ErrorContains(t, err, "booking store")
	_, err = New(Options{Bookings: bookinginmem.New(), Scheduler: &fakeScheduler{}})
	require.ErrorContains(t, err, "run store")
	_, err = New(Options{Bookings: bookinginmem.New(), Runs: runloginmem.New()})
	require.ErrorContains(t, err, "scheduler")
}

func TestStatus(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "online", body["status"])
	require.Equal(t, "stopped", body["scheduler"])
	require.Nil(t, body["next_run"])

	h.scheduler.running = true
	h.scheduler.next = time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC)
	_, body = h.do(t, http.MethodGet, "/", "")
	require.Equal(t, "running", body["scheduler"])
	require.Equal(t, "2026-10-18T22:00:00Z", body["next_run"])
}

func TestCreateBooking(t *testing.T) {
	h := newHarness(t)
	payload := `{"user_id":"u1","user_name":"Ana","whatsapp_number":"whatsapp:+15550000001","court_name":"Court 1","date":"2026-10-14"}`

	rec, body := h.do(t, http.MethodPost, "/bookings", payload)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "u1:2026-10-14", body["id"])
	require.Equal(t, "Booking confirmed", body["message"])
	require.Equal(t, true, body["written"])

	rec, body = h.do(t, http.MethodPost, "/bookings", payload)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, false, body["written"])

	d, err := booking.ParseDay("2026-10-14")
	require.NoError(t, err)
	got, err := h.bookings.FindOne(context.Background(), "u1", d, d.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.True(t, got.IsRegularSlot)
	require.Equal(t, "Court 1", got.CourtName)
}

func TestCreateBookingRejectsInvalidPayload(t *testing.T) {
	h := newHarness(t)

	cases := map[string]string{
		"missing fields": `{"user_id":"u1"}`,
		"bad date":       `{"user_id":"u1","user_name":"Ana","whatsapp_number":"whatsapp:+1","court_name":"C","date":"14/10/2026"}`,
		"blank contact":  `{"user_id":"u1","user_name":"Ana","whatsapp_number":" ","court_name":"C","date":"2026-10-14"}`,
		"not json":       `{`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			rec, body := h.do(t, http.MethodPost, "/bookings", payload)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotEmpty(t, body["name"])
		})
	}
	require.Equal(t, 0, h.bookings.Len())
}

func TestListBookings(t *testing.T) {
	h := newHarness(t)
	for _, date := range []string{"2026-10-01", "2026-10-08", "2026-10-15"} {
		d, err := booking.ParseDay(date)
		require.NoError(t, err)
		_, err = h.bookings.Upsert(context.Background(), booking.Booking{
			PlayerID: "u1", PlayerName: "Ana", ContactAddress: "whatsapp:+1", CourtName: "C", Date: d,
		})
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookings?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []bookingResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	require.Equal(t, "2026-10-15", list[0].Date)
	require.Equal(t, "2026-10-08", list[1].Date)
	require.False(t, list[0].IsRegularSlot)

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookings?limit=9999", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 3)

	for _, bad := range []string{"abc", "0", "-3"} {
		rec, _ := h.do(t, http.MethodGet, "/bookings?limit="+bad, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestTriggerCheckReturnsImmediately(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(t, http.MethodPost, "/admin/trigger-check", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "Agent execution triggered in background.", body["message"])
	require.EqualValues(t, 1, h.scheduler.triggers.Load())
}

func TestRuns(t *testing.T) {
	h := newHarness(t)
	started := time.Date(2026, 10, 14, 22, 0, 0, 0, time.UTC)
	require.NoError(t, h.runs.Save(context.Background(), &runlog.Record{
		ID:        "run-1",
		Trigger:   "schedule",
		Mode:      "agent",
		Status:    runlog.StatusSucceeded,
		StartedAt: started,
		EndedAt:   started.Add(time.Minute),
		Turns:     3,
		Output:    "Reminded 1 player.",
		Reminders: []runlog.Reminder{{ContactAddress: "whatsapp:+1", Result: "sent"}},
	}))

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []runResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, "run-1", list[0].ID)
	require.Equal(t, "succeeded", list[0].Status)
	require.NotNil(t, list[0].EndedAt)
	require.Equal(t, "2026-10-14T22:01:00Z", *list[0].EndedAt)
	require.Len(t, list[0].Reminders, 1)

	rec, body := h.do(t, http.MethodGet, "/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "agent", body["mode"])

	rec, body = h.do(t, http.MethodGet, "/runs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", body["name"])
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
