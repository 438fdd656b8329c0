package hubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client is a typed client for the Hub API. All payloads are decoded exactly
// once into the envelope types below; callers never see raw JSON.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// DayAvailability is one calendar day for which the Hub has explicit slot data.
type DayAvailability struct {
	Date    string   `json:"date"`
	Slots   []string `json:"slots"`
	DayName string   `json:"dayName"`
}

// Booking is an existing booking record returned alongside availability.
type Booking struct {
	BookingID     string `json:"booking_id"`
	Status        string `json:"status"`
	ConflictType  string `json:"conflict_type"`
	StudentID     string `json:"student_id"`
	TutorID       string `json:"tutor_id"`
	StudentName   string `json:"student_name"`
	TutorName     string `json:"tutor_name"`
	StartDate     string `json:"start_date"`
	PreferredTime string `json:"preferred_time"`
}

type AvailabilityRequest struct {
	TutorID     string
	StudentID   string
	RequesterID string
	Start       time.Time
	End         time.Time
}

type AvailabilityResult struct {
	Days     []DayAvailability
	Bookings []Booking
}

type SessionRequest struct {
	TutorID        string   `json:"tutor_id"`
	StudentID      string   `json:"student_id"`
	PreferredDates []string `json:"preferred_dates"`
	PreferredTime  string   `json:"preferred_time"`
	SubjectID      string   `json:"subject_id"`
	SubjectName    string   `json:"subject_name"`
}

type availabilityEnvelope struct {
	Success          bool              `json:"success"`
	Availability     []DayAvailability `json:"availability"`
	ExistingBookings []Booking         `json:"existingBookings"`
	Error            string            `json:"error"`
}

type sessionEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

const dateLayout = "2006-01-02"

// GetAvailability fetches a tutor's bookable days and existing bookings for a
// date window.
func (c *Client) GetAvailability(ctx context.Context, req AvailabilityRequest) (AvailabilityResult, error) {
	if req.TutorID == "" {
		return AvailabilityResult{}, fmt.Errorf("tutor id is required")
	}

	endpoint := c.baseURL + "/api/tutors/" + url.PathEscape(req.TutorID) + "/availability"
	q := url.Values{}
	q.Set("startDate", req.Start.Format(dateLayout))
	q.Set("endDate", req.End.Format(dateLayout))
	if req.StudentID != "" {
		q.Set("studentId", req.StudentID)
	}
	if req.RequesterID != "" {
		q.Set("requesterId", req.RequesterID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return AvailabilityResult{}, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return AvailabilityResult{}, fmt.Errorf("availability fetch failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return AvailabilityResult{}, fmt.Errorf("availability fetch failed: hub returned %d", resp.StatusCode)
	}

	var env availabilityEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return AvailabilityResult{}, fmt.Errorf("availability response decode failed: %w", err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "unknown error"
		}
		return AvailabilityResult{}, fmt.Errorf("availability fetch rejected: %s", msg)
	}

	return AvailabilityResult{Days: env.Availability, Bookings: env.ExistingBookings}, nil
}

// CreateSession books a single tutoring slot via the Hub API.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sessions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("session create failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("session create failed: hub returned %d", resp.StatusCode)
	}

	var env sessionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("session response decode failed: %w", err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Errorf("session create rejected: %s", msg)
	}
	return nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}
