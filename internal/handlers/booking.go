package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cictpeerlearninghub/booking-gateway/internal/availability"
	"github.com/cictpeerlearninghub/booking-gateway/internal/booking"
)

const monthLayout = "2006-01"

// BookingHandler exposes the booking session workflow over HTTP. Requester
// identity comes from the X-User-Id and X-User-Name headers set by the auth
// middleware.
type BookingHandler struct {
	workflow *booking.Workflow
	logger   *slog.Logger
}

func NewBookingHandler(workflow *booking.Workflow, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{workflow: workflow, logger: logger}
}

// Register mounts the booking routes on the mux.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/booking/session/start", h.Start)
	mux.HandleFunc("/api/v1/booking/session/calendar", h.Calendar)
	mux.HandleFunc("/api/v1/booking/session/slots", h.Slots)
	mux.HandleFunc("/api/v1/booking/session/select", h.SelectDate)
	mux.HandleFunc("/api/v1/booking/session/toggle", h.ToggleSlot)
	mux.HandleFunc("/api/v1/booking/session/submit", h.Submit)
	mux.HandleFunc("/api/v1/booking/session", h.Session)
}

type sessionView struct {
	SessionID     string              `json:"session_id"`
	TutorID       string              `json:"tutor_id"`
	TutorName     string              `json:"tutor_name,omitempty"`
	SubjectID     string              `json:"subject_id,omitempty"`
	SubjectName   string              `json:"subject_name,omitempty"`
	Window        availability.Window `json:"window"`
	State         booking.State       `json:"state"`
	Status        string              `json:"status,omitempty"`
	SelectedDate  string              `json:"selected_date,omitempty"`
	SelectedSlots []string            `json:"selected_slots"`
}

func viewOf(s *booking.Session) sessionView {
	slots := s.SelectedSlots
	if slots == nil {
		slots = []string{}
	}
	return sessionView{
		SessionID:     s.ID,
		TutorID:       s.TutorID,
		TutorName:     s.TutorName,
		SubjectID:     s.SubjectID,
		SubjectName:   s.SubjectName,
		Window:        s.Window,
		State:         s.State,
		Status:        s.Status,
		SelectedDate:  s.SelectedDate,
		SelectedSlots: slots,
	}
}

type startRequest struct {
	TutorID     string `json:"tutor_id"`
	TutorName   string `json:"tutor_name"`
	SubjectID   string `json:"subject_id"`
	SubjectName string `json:"subject_name"`
}

func (h *BookingHandler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requesterID, requesterName, ok := identity(w, r)
	if !ok {
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.TutorID = strings.TrimSpace(req.TutorID)
	if req.TutorID == "" {
		http.Error(w, "tutor_id is required", http.StatusBadRequest)
		return
	}

	s, err := h.workflow.Start(r.Context(), booking.StartInput{
		RequesterID:   requesterID,
		RequesterName: requesterName,
		TutorID:       req.TutorID,
		TutorName:     strings.TrimSpace(req.TutorName),
		SubjectID:     strings.TrimSpace(req.SubjectID),
		SubjectName:   strings.TrimSpace(req.SubjectName),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(viewOf(s))
}

func (h *BookingHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requesterID, _, ok := identity(w, r)
	if !ok {
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	monthRaw := r.URL.Query().Get("month")
	month, err := time.Parse(monthLayout, monthRaw)
	if err != nil {
		http.Error(w, "invalid month, want YYYY-MM", http.StatusBadRequest)
		return
	}

	s, err := h.workflow.Navigate(r.Context(), requesterID, sessionID, month)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	days := h.workflow.MonthDays(s, month)
	if days == nil {
		days = []booking.DayFlag{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"month":   monthRaw,
		"days":    days,
		"session": viewOf(s),
	})
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requesterID, _, ok := identity(w, r)
	if !ok {
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	dateRaw := r.URL.Query().Get("date")
	date, err := time.Parse(availability.DateLayout, dateRaw)
	if err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	views, err := h.workflow.DaySlots(r.Context(), requesterID, sessionID, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"date":  dateRaw,
		"slots": views,
	})
}

type selectDateRequest struct {
	SessionID string `json:"session_id"`
	Date      string `json:"date"`
}

func (h *BookingHandler) SelectDate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requesterID, _, ok := identity(w, r)
	if !ok {
		return
	}

	var req selectDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	s, err := h.workflow.SelectDate(r.Context(), requesterID, req.SessionID, strings.TrimSpace(req.Date))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewOf(s))
}

type toggleSlotRequest struct {
	SessionID string `json:"session_id"`
	Slot      string `json:"slot"`
}

func (h *BookingHandler) ToggleSlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requesterID, _, ok := identity(w, r)
	if !ok {
		return
	}

	var req toggleSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Slot = strings.TrimSpace(req.Slot)
	if req.Slot == "" {
		http.Error(w, "slot is required", http.StatusBadRequest)
		return
	}

	s, err := h.workflow.ToggleSlot(r.Context(), requesterID, req.SessionID, availability.Normalize(req.Slot))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewOf(s))
}

type submitRequest struct {
	SessionID string `json:"session_id"`
}

func (h *BookingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requesterID, _, ok := identity(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	res, err := h.workflow.Submit(r.Context(), requesterID, req.SessionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Successful == nil {
		res.Successful = []string{}
	}
	if res.Failed == nil {
		res.Failed = []booking.SlotFailure{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

// Session serves the current session state and cancellation.
func (h *BookingHandler) Session(w http.ResponseWriter, r *http.Request) {
	requesterID, _, ok := identity(w, r)
	if !ok {
		return
	}
	sessionID := r.URL.Query().Get("session_id")

	switch r.Method {
	case http.MethodGet:
		s, err := h.workflow.Get(r.Context(), requesterID, sessionID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(viewOf(s))
	case http.MethodDelete:
		if err := h.workflow.Cancel(r.Context(), requesterID, sessionID); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BookingHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *booking.ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, booking.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	default:
		h.logger.Error("booking request failed", "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func identity(w http.ResponseWriter, r *http.Request) (id, name string, ok bool) {
	id = strings.TrimSpace(r.Header.Get("X-User-Id"))
	if id == "" {
		http.Error(w, "missing authenticated user", http.StatusUnauthorized)
		return "", "", false
	}
	return id, strings.TrimSpace(r.Header.Get("X-User-Name")), true
}
