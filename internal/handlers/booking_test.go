package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cictpeerlearninghub/booking-gateway/internal/booking"
	"github.com/cictpeerlearninghub/booking-gateway/internal/hubapi"
)

type fakeHubServer struct {
	mu       sync.Mutex
	sessions []map[string]any
	rejectAt string // preferred_time to reject
}

func (f *fakeHubServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/tutors/") && strings.HasSuffix(r.URL.Path, "/availability"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"availability": []map[string]any{
					{"date": "2026-09-10", "slots": []string{"09:00-10:00", "10:00-11:00", "14:00-15:00"}, "dayName": "Thursday"},
				},
				"existingBookings": []map[string]any{
					{"status": "accepted", "tutor_id": "tutor-1", "student_id": "other", "start_date": "2026-09-10", "preferred_time": "14:00 - 15:00"},
				},
			})
		case r.URL.Path == "/api/sessions" && r.Method == http.MethodPost:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.sessions = append(f.sessions, body)
			reject := f.rejectAt != "" && body["preferred_time"] == f.rejectAt
			f.mu.Unlock()
			if reject {
				_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "slot already booked"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestHandler(t *testing.T, hub *fakeHubServer) (*http.ServeMux, func()) {
	t.Helper()
	upstream := httptest.NewServer(hub.handler())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := hubapi.NewClient(upstream.URL, 5*time.Second)
	workflow := booking.NewWorkflow(booking.NewMemoryStore(), client, logger, booking.Config{
		Now: func() time.Time {
			return time.Date(2026, time.September, 1, 8, 0, 0, 0, time.UTC)
		},
	})

	mux := http.NewServeMux()
	NewBookingHandler(workflow, logger).Register(mux)
	return mux, upstream.Close
}

func doJSON(t *testing.T, mux *http.ServeMux, method, target, userID string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
		req.Header.Set("X-User-Name", "Ana")
	}
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	return rw
}

func TestBookingFlow(t *testing.T) {
	hub := &fakeHubServer{}
	mux, done := newTestHandler(t, hub)
	defer done()

	rw := doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/start", "stud-1", `{"tutor_id":"tutor-1","tutor_name":"Ben","subject_id":"subj-1","subject_name":"Data Structures"}`)
	if rw.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", rw.Code, rw.Body.String())
	}
	var started struct {
		SessionID string `json:"session_id"`
		State     string `json:"state"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if started.SessionID == "" || started.State != "idle" {
		t.Fatalf("start response: %+v", started)
	}

	rw = doJSON(t, mux, http.MethodGet, "/api/v1/booking/session/calendar?session_id="+started.SessionID+"&month=2026-09", "stud-1", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("calendar: %d %s", rw.Code, rw.Body.String())
	}
	var cal struct {
		Days []struct {
			Date      string `json:"date"`
			Available bool   `json:"available"`
		} `json:"days"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &cal); err != nil {
		t.Fatalf("decode calendar: %v", err)
	}
	foundExplicit := false
	for _, d := range cal.Days {
		if d.Date == "2026-09-10" {
			foundExplicit = true
			if !d.Available {
				t.Fatal("explicit availability day not flagged available")
			}
		}
	}
	if !foundExplicit {
		t.Fatalf("calendar missing 2026-09-10: %+v", cal.Days)
	}

	rw = doJSON(t, mux, http.MethodGet, "/api/v1/booking/session/slots?session_id="+started.SessionID+"&date=2026-09-10", "stud-1", "")
	if rw.Code != http.StatusOK {
		t.Fatalf("slots: %d %s", rw.Code, rw.Body.String())
	}
	var slots struct {
		Slots []struct {
			Slot   string `json:"slot"`
			Label  string `json:"label"`
			Booked bool   `json:"booked"`
		} `json:"slots"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	if len(slots.Slots) != 3 {
		t.Fatalf("slots = %+v", slots.Slots)
	}
	if slots.Slots[0].Label != "9:00 AM - 10:00 AM" {
		t.Fatalf("label = %q", slots.Slots[0].Label)
	}
	if !slots.Slots[2].Booked {
		t.Fatalf("booked slot not flagged: %+v", slots.Slots[2])
	}

	rw = doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/select", "stud-1", `{"session_id":"`+started.SessionID+`","date":"2026-09-10"}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("select: %d %s", rw.Code, rw.Body.String())
	}

	// Slot input arrives in the spaced display form and is normalized.
	rw = doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/toggle", "stud-1", `{"session_id":"`+started.SessionID+`","slot":"09:00 - 10:00"}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("toggle: %d %s", rw.Code, rw.Body.String())
	}
	var toggled struct {
		SelectedSlots []string `json:"selected_slots"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &toggled); err != nil {
		t.Fatalf("decode toggle: %v", err)
	}
	if len(toggled.SelectedSlots) != 1 || toggled.SelectedSlots[0] != "09:00-10:00" {
		t.Fatalf("selected slots = %v", toggled.SelectedSlots)
	}

	rw = doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/submit", "stud-1", `{"session_id":"`+started.SessionID+`"}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rw.Code, rw.Body.String())
	}
	var res struct {
		Successful []string `json:"successful"`
		Failed     []any    `json:"failed"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if len(res.Successful) != 1 || len(res.Failed) != 0 {
		t.Fatalf("submit result: %+v", res)
	}

	hub.mu.Lock()
	created := len(hub.sessions)
	hub.mu.Unlock()
	if created != 1 {
		t.Fatalf("hub session requests = %d, want 1", created)
	}
}

func TestSubmitPartialFailure(t *testing.T) {
	hub := &fakeHubServer{rejectAt: "10:00 - 11:00"}
	mux, done := newTestHandler(t, hub)
	defer done()

	rw := doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/start", "stud-1", `{"tutor_id":"tutor-1"}`)
	var started struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}

	doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/select", "stud-1", `{"session_id":"`+started.SessionID+`","date":"2026-09-10"}`)
	for _, slot := range []string{"09:00-10:00", "10:00-11:00"} {
		rw = doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/toggle", "stud-1", `{"session_id":"`+started.SessionID+`","slot":"`+slot+`"}`)
		if rw.Code != http.StatusOK {
			t.Fatalf("toggle %s: %d %s", slot, rw.Code, rw.Body.String())
		}
	}

	rw = doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/submit", "stud-1", `{"session_id":"`+started.SessionID+`"}`)
	if rw.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rw.Code, rw.Body.String())
	}
	var res struct {
		Successful []string `json:"successful"`
		Failed     []struct {
			Label  string `json:"label"`
			Reason string `json:"reason"`
		} `json:"failed"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if len(res.Successful) != 1 || len(res.Failed) != 1 {
		t.Fatalf("partition: %+v", res)
	}
	if res.Failed[0].Label != "10:00 - 11:00" || res.Failed[0].Reason == "" {
		t.Fatalf("failure detail: %+v", res.Failed[0])
	}
}

func TestSubmitConflictingSlotRejected(t *testing.T) {
	hub := &fakeHubServer{}
	mux, done := newTestHandler(t, hub)
	defer done()

	rw := doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/start", "stud-1", `{"tutor_id":"tutor-1"}`)
	var started struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}

	doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/select", "stud-1", `{"session_id":"`+started.SessionID+`","date":"2026-09-10"}`)
	rw = doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/toggle", "stud-1", `{"session_id":"`+started.SessionID+`","slot":"14:00-15:00"}`)
	if rw.Code != http.StatusUnprocessableEntity {
		t.Fatalf("toggling booked slot: %d %s", rw.Code, rw.Body.String())
	}
}

func TestIdentityRequired(t *testing.T) {
	hub := &fakeHubServer{}
	mux, done := newTestHandler(t, hub)
	defer done()

	rw := doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/start", "", `{"tutor_id":"tutor-1"}`)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("missing identity: %d", rw.Code)
	}
}

func TestMethodChecks(t *testing.T) {
	hub := &fakeHubServer{}
	mux, done := newTestHandler(t, hub)
	defer done()

	rw := doJSON(t, mux, http.MethodGet, "/api/v1/booking/session/start", "stud-1", "")
	if rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET start: %d", rw.Code)
	}
	rw = doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/calendar?month=2026-09", "stud-1", "")
	if rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST calendar: %d", rw.Code)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	hub := &fakeHubServer{}
	mux, done := newTestHandler(t, hub)
	defer done()

	rw := doJSON(t, mux, http.MethodGet, "/api/v1/booking/session/slots?session_id=nope&date=2026-09-10", "stud-1", "")
	if rw.Code != http.StatusNotFound {
		t.Fatalf("unknown session: %d %s", rw.Code, rw.Body.String())
	}
}

func TestCancelSession(t *testing.T) {
	hub := &fakeHubServer{}
	mux, done := newTestHandler(t, hub)
	defer done()

	rw := doJSON(t, mux, http.MethodPost, "/api/v1/booking/session/start", "stud-1", `{"tutor_id":"tutor-1"}`)
	var started struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}

	rw = doJSON(t, mux, http.MethodDelete, "/api/v1/booking/session?session_id="+started.SessionID, "stud-1", "")
	if rw.Code != http.StatusNoContent {
		t.Fatalf("cancel: %d %s", rw.Code, rw.Body.String())
	}
	rw = doJSON(t, mux, http.MethodGet, "/api/v1/booking/session?session_id="+started.SessionID, "stud-1", "")
	if rw.Code != http.StatusNotFound {
		t.Fatalf("get after cancel: %d", rw.Code)
	}
}
