package hubapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetAvailability(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"availability": []map[string]any{
				{"date": "2026-09-07", "slots": []string{"09:00-10:00", "10:00-11:00"}, "dayName": "Monday"},
			},
			"existingBookings": []map[string]any{
				{"booking_id": "b-1", "status": "accepted", "tutor_id": "t-1", "student_id": "s-1",
					"start_date": "2026-09-07", "preferred_time": "09:00 - 10:00"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	res, err := c.GetAvailability(context.Background(), AvailabilityRequest{
		TutorID:     "t-1",
		StudentID:   "s-1",
		RequesterID: "s-1",
		Start:       time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("GetAvailability failed: %v", err)
	}

	if gotPath != "/api/tutors/t-1/availability" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotQuery["startDate"] != "2026-09-01" || gotQuery["endDate"] != "2026-10-31" {
		t.Fatalf("unexpected date range: %v", gotQuery)
	}
	if gotQuery["studentId"] != "s-1" || gotQuery["requesterId"] != "s-1" {
		t.Fatalf("identity params missing: %v", gotQuery)
	}
	if len(res.Days) != 1 || res.Days[0].Date != "2026-09-07" {
		t.Fatalf("unexpected days: %+v", res.Days)
	}
	if len(res.Bookings) != 1 || res.Bookings[0].BookingID != "b-1" {
		t.Fatalf("unexpected bookings: %+v", res.Bookings)
	}
}

func TestGetAvailabilityErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "tutor not found"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.GetAvailability(context.Background(), AvailabilityRequest{TutorID: "missing"})
	if err == nil {
		t.Fatal("expected error for success=false envelope")
	}
}

func TestGetAvailabilityNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.GetAvailability(context.Background(), AvailabilityRequest{TutorID: "t-1"})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestGetAvailabilityRequiresTutor(t *testing.T) {
	c := NewClient("http://hub.invalid", 2*time.Second)
	if _, err := c.GetAvailability(context.Background(), AvailabilityRequest{}); err == nil {
		t.Fatal("expected error for empty tutor id")
	}
}

func TestCreateSession(t *testing.T) {
	var got SessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	err := c.CreateSession(context.Background(), SessionRequest{
		TutorID:        "t-1",
		StudentID:      "s-1",
		PreferredDates: []string{"2026-09-07", "2026-09-07"},
		PreferredTime:  "09:00 - 10:00",
		SubjectID:      "subj-1",
		SubjectName:    "Data Structures",
	})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if got.PreferredTime != "09:00 - 10:00" {
		t.Fatalf("unexpected preferred_time %q", got.PreferredTime)
	}
	if len(got.PreferredDates) != 2 || got.PreferredDates[0] != got.PreferredDates[1] {
		t.Fatalf("preferred_dates should repeat the date: %v", got.PreferredDates)
	}
}

func TestCreateSessionRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "slot taken"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	if err := c.CreateSession(context.Background(), SessionRequest{TutorID: "t-1"}); err == nil {
		t.Fatal("expected error for rejected session")
	}
}
