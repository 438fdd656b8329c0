package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cictpeerlearninghub/booking-gateway/internal/availability"
	"github.com/cictpeerlearninghub/booking-gateway/internal/conflict"
	"github.com/cictpeerlearninghub/booking-gateway/internal/hubapi"
	"github.com/google/uuid"
)

// ValidationError is a user-correctable rejection; handlers map it to 422
// and the message is safe to show verbatim.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// HubClient is the slice of the Hub API the workflow needs.
type HubClient interface {
	GetAvailability(ctx context.Context, req hubapi.AvailabilityRequest) (hubapi.AvailabilityResult, error)
	CreateSession(ctx context.Context, req hubapi.SessionRequest) error
}

// SubmissionAttempt is one slot's submission outcome, recorded for audit.
type SubmissionAttempt struct {
	SessionID   string
	RequesterID string
	TutorID     string
	SubjectID   string
	Date        string
	Slot        string
	Outcome     string // "success" or "failed"
	Detail      string
	SubmittedAt time.Time
}

// AuditSink records submission attempts. Nil disables auditing.
type AuditSink interface {
	RecordSubmission(ctx context.Context, attempts []SubmissionAttempt) error
}

// SubmissionEvent summarizes one submit fan-out for downstream consumers.
type SubmissionEvent struct {
	SessionID   string    `json:"session_id"`
	RequesterID string    `json:"requester_id"`
	TutorID     string    `json:"tutor_id"`
	SubjectID   string    `json:"subject_id"`
	Date        string    `json:"date"`
	Successful  []string  `json:"successful"`
	Failed      []string  `json:"failed"`
	At          time.Time `json:"at"`
}

// EventSink publishes submission events. Nil disables publishing.
type EventSink interface {
	PublishSubmission(ctx context.Context, evt SubmissionEvent) error
}

type Config struct {
	SessionTTL      time.Duration
	RefreshDebounce time.Duration
	Audit           AuditSink
	Events          EventSink
	Now             func() time.Time
}

// Workflow drives booking sessions: availability loading, slot selection,
// and the fan-out submission to the Hub API.
type Workflow struct {
	store  Store
	hub    HubClient
	logger *slog.Logger

	ttl      time.Duration
	debounce time.Duration
	audit    AuditSink
	events   EventSink
	now      func() time.Time

	// fetchSeq issues monotonically increasing tokens per session so a
	// superseded availability response is discarded instead of clobbering
	// newer state.
	seqMu    sync.Mutex
	fetchSeq map[string]uint64
}

func NewWorkflow(store Store, hub HubClient, logger *slog.Logger, cfg Config) *Workflow {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.RefreshDebounce <= 0 {
		cfg.RefreshDebounce = 300 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Workflow{
		store:    store,
		hub:      hub,
		logger:   logger,
		ttl:      cfg.SessionTTL,
		debounce: cfg.RefreshDebounce,
		audit:    cfg.Audit,
		events:   cfg.Events,
		now:      cfg.Now,
		fetchSeq: map[string]uint64{},
	}
}

type StartInput struct {
	RequesterID   string
	RequesterName string
	TutorID       string
	TutorName     string
	SubjectID     string
	SubjectName   string
}

// Start opens a new session for a tutor and performs the initial
// availability load. A failed load is not fatal: the session starts with an
// empty day map and a status message, and a later navigation retries.
func (w *Workflow) Start(ctx context.Context, in StartInput) (*Session, error) {
	if in.RequesterID == "" {
		return nil, validationErrorf("requester identity is required")
	}
	if in.TutorID == "" {
		return nil, validationErrorf("tutor_id is required")
	}

	now := w.now()
	s := &Session{
		ID:            uuid.New().String(),
		RequesterID:   in.RequesterID,
		RequesterName: in.RequesterName,
		TutorID:       in.TutorID,
		TutorName:     in.TutorName,
		SubjectID:     in.SubjectID,
		SubjectName:   in.SubjectName,
		Window:        availability.NewWindow(now),
		Days:          map[string][]string{},
		Conflicts:     map[string]conflict.Info{},
		State:         StateIdle,
		CreatedAt:     now,
	}

	if err := w.refresh(ctx, s); err != nil {
		w.logger.Warn("initial availability load failed", "session_id", s.ID, "tutor_id", s.TutorID, "err", err)
	}
	if err := w.store.Put(ctx, s, w.ttl); err != nil {
		return nil, err
	}
	return s, nil
}

// Navigate extends the window to cover the viewed month and refreshes
// availability when the window grew. Refreshes within the debounce interval
// of the previous one are deferred to the next call.
func (w *Workflow) Navigate(ctx context.Context, requesterID, sessionID string, month time.Time) (*Session, error) {
	s, err := w.load(ctx, requesterID, sessionID)
	if err != nil {
		return nil, err
	}

	extended := s.Window.ExtendForMonth(month)
	if !extended.Equal(s.Window) {
		s.Window = extended
		s.WindowDirty = true
	}

	if s.WindowDirty {
		if w.now().Sub(s.LastRefreshAt) >= w.debounce {
			if err := w.refresh(ctx, s); err != nil {
				w.logger.Warn("availability refresh failed", "session_id", s.ID, "err", err)
			}
		}
	}

	if err := w.store.Put(ctx, s, w.ttl); err != nil {
		return nil, err
	}
	return s, nil
}

// refresh reloads availability for the session's window and rebuilds the
// conflict index. On failure the previous data is kept (stale but usable)
// and the session status records the error.
func (w *Workflow) refresh(ctx context.Context, s *Session) error {
	seq := w.nextFetchSeq(s.ID)

	res, err := w.hub.GetAvailability(ctx, hubapi.AvailabilityRequest{
		TutorID:     s.TutorID,
		StudentID:   s.RequesterID,
		RequesterID: s.RequesterID,
		Start:       s.Window.Start,
		End:         s.Window.End,
	})

	if seq != w.latestFetchSeq(s.ID) {
		// A newer refresh superseded this one; its response wins.
		return nil
	}
	if err != nil {
		s.Status = "Failed to load availability. Please try again."
		return err
	}

	days := make(map[string][]string, len(res.Days))
	for _, d := range res.Days {
		days[d.Date] = d.Slots
	}
	s.Days = days
	s.Conflicts = conflict.BuildIndex(res.Bookings, s.RequesterID, s.TutorID)
	s.LastRefreshAt = w.now()
	s.WindowDirty = false
	s.Status = ""
	return nil
}

func (w *Workflow) nextFetchSeq(sessionID string) uint64 {
	w.seqMu.Lock()
	defer w.seqMu.Unlock()
	w.fetchSeq[sessionID]++
	return w.fetchSeq[sessionID]
}

func (w *Workflow) latestFetchSeq(sessionID string) uint64 {
	w.seqMu.Lock()
	defer w.seqMu.Unlock()
	return w.fetchSeq[sessionID]
}

// DayFlag is one calendar day's availability for rendering.
type DayFlag struct {
	Date      string `json:"date"`
	DayName   string `json:"day_name"`
	Available bool   `json:"available"`
}

// MonthDays returns availability flags for every day of the viewed month
// that falls inside the session window.
func (w *Workflow) MonthDays(s *Session, month time.Time) []DayFlag {
	now := w.now()
	monthStart := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	next := monthStart.AddDate(0, 1, 0)

	var flags []DayFlag
	for d := monthStart; d.Before(next); d = d.AddDate(0, 0, 1) {
		if !s.Window.Contains(d) {
			continue
		}
		flags = append(flags, DayFlag{
			Date:      d.Format(availability.DateLayout),
			DayName:   d.Weekday().String(),
			Available: availability.HasSlots(s.Days, d, now),
		})
	}
	return flags
}

// SlotView is one resolved slot with its booking state.
type SlotView struct {
	Slot     string         `json:"slot"`
	Label    string         `json:"label"`
	Booked   bool           `json:"booked"`
	Selected bool           `json:"selected"`
	Conflict *conflict.Info `json:"conflict,omitempty"`
}

// DaySlots resolves the bookable slots for a date inside the session window.
func (w *Workflow) DaySlots(ctx context.Context, requesterID, sessionID string, date time.Time) ([]SlotView, error) {
	s, err := w.load(ctx, requesterID, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.Window.Contains(date) {
		return nil, validationErrorf("date %s is outside the loaded calendar range", date.Format(availability.DateLayout))
	}

	dateStr := date.Format(availability.DateLayout)
	views := []SlotView{}
	for _, slot := range availability.SlotsForDate(s.Days, date, w.now()) {
		view := SlotView{
			Slot:     slot,
			Label:    availability.Label(slot),
			Selected: s.SelectedDate == dateStr && s.IsSelected(slot),
		}
		if info, ok := conflict.Details(s.Conflicts, dateStr, slot); ok {
			view.Booked = true
			infoCopy := info
			view.Conflict = &infoCopy
		}
		views = append(views, view)
	}
	return views, nil
}

// SelectDate sets the session's active date, clearing any slot selection.
func (w *Workflow) SelectDate(ctx context.Context, requesterID, sessionID, date string) (*Session, error) {
	s, err := w.load(ctx, requesterID, sessionID)
	if err != nil {
		return nil, err
	}

	if date != "" {
		parsed, err := time.Parse(availability.DateLayout, date)
		if err != nil {
			return nil, validationErrorf("invalid date %q, want YYYY-MM-DD", date)
		}
		if !s.Window.Contains(parsed) {
			return nil, validationErrorf("date %s is outside the loaded calendar range", date)
		}
	}

	s.SelectDate(date)
	s.Status = ""
	if err := w.store.Put(ctx, s, w.ttl); err != nil {
		return nil, err
	}
	return s, nil
}

// ToggleSlot adds or removes a slot from the selection. Booked slots cannot
// be selected regardless of conflict type.
func (w *Workflow) ToggleSlot(ctx context.Context, requesterID, sessionID, slot string) (*Session, error) {
	s, err := w.load(ctx, requesterID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.SelectedDate == "" {
		return nil, validationErrorf("select a date before choosing time slots")
	}

	if !s.IsSelected(slot) {
		date, err := time.Parse(availability.DateLayout, s.SelectedDate)
		if err != nil {
			return nil, validationErrorf("session has an invalid selected date %q", s.SelectedDate)
		}
		open := false
		for _, candidate := range availability.SlotsForDate(s.Days, date, w.now()) {
			if candidate == slot {
				open = true
				break
			}
		}
		if !open {
			return nil, validationErrorf("slot %s is not available on %s", slot, s.SelectedDate)
		}
		if info, ok := conflict.Details(s.Conflicts, s.SelectedDate, slot); ok {
			return nil, validationErrorf("slot %s is unavailable: %s", slot, info.Message)
		}
	}

	s.ToggleSlot(slot)
	if err := w.store.Put(ctx, s, w.ttl); err != nil {
		return nil, err
	}
	return s, nil
}

// SlotFailure is one slot whose booking request did not succeed.
type SlotFailure struct {
	Slot   string `json:"slot"`
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// SubmitResult aggregates the fan-out outcome of one submission.
type SubmitResult struct {
	Date       string        `json:"date"`
	Successful []string      `json:"successful"`
	Failed     []SlotFailure `json:"failed"`
	Message    string        `json:"message"`
}

// Submit validates the selection and books every selected slot with one Hub
// request per slot, all in flight concurrently. Bookings are independent:
// a failed slot never aborts or rolls back the others.
func (w *Workflow) Submit(ctx context.Context, requesterID, sessionID string) (*SubmitResult, error) {
	s, err := w.load(ctx, requesterID, sessionID)
	if err != nil {
		return nil, err
	}

	if s.SelectedDate == "" || len(s.SelectedSlots) == 0 {
		return nil, w.rejectSubmit(ctx, s, "Please select a date and at least one time slot.")
	}
	if s.TutorID == s.RequesterID {
		return nil, w.rejectSubmit(ctx, s, "You cannot book yourself as a tutor.")
	}
	// Requester conflicts are re-checked here, not only at render time, in
	// case the selection went stale across the async gap.
	var clashes []string
	for _, slot := range s.SelectedSlots {
		if info, ok := conflict.Details(s.Conflicts, s.SelectedDate, slot); ok && info.Type == conflict.TypeRequester {
			clashes = append(clashes, availability.SpacedRange(slot))
		}
	}
	if len(clashes) > 0 {
		return nil, w.rejectSubmit(ctx, s, fmt.Sprintf("You already have sessions at: %s.", strings.Join(clashes, ", ")))
	}

	s.State = StateSubmitting
	if err := w.store.Put(ctx, s, w.ttl); err != nil {
		return nil, err
	}

	slots := append([]string(nil), s.SelectedSlots...)
	outcomes := make([]error, len(slots))
	var wg sync.WaitGroup
	for i, slot := range slots {
		wg.Add(1)
		go func(i int, slot string) {
			defer wg.Done()
			outcomes[i] = w.hub.CreateSession(ctx, hubapi.SessionRequest{
				TutorID:        s.TutorID,
				StudentID:      s.RequesterID,
				PreferredDates: []string{s.SelectedDate, s.SelectedDate},
				PreferredTime:  availability.SpacedRange(slot),
				SubjectID:      s.SubjectID,
				SubjectName:    s.SubjectName,
			})
		}(i, slot)
	}
	wg.Wait()

	result := &SubmitResult{Date: s.SelectedDate}
	now := w.now()
	attempts := make([]SubmissionAttempt, 0, len(slots))
	for i, slot := range slots {
		attempt := SubmissionAttempt{
			SessionID:   s.ID,
			RequesterID: s.RequesterID,
			TutorID:     s.TutorID,
			SubjectID:   s.SubjectID,
			Date:        s.SelectedDate,
			Slot:        slot,
			SubmittedAt: now,
		}
		if err := outcomes[i]; err != nil {
			attempt.Outcome = "failed"
			attempt.Detail = err.Error()
			result.Failed = append(result.Failed, SlotFailure{
				Slot:   slot,
				Label:  availability.SpacedRange(slot),
				Reason: err.Error(),
			})
		} else {
			attempt.Outcome = "success"
			result.Successful = append(result.Successful, availability.SpacedRange(slot))
		}
		attempts = append(attempts, attempt)
	}

	switch {
	case len(result.Failed) == 0:
		result.Message = fmt.Sprintf("Booked %d session(s): %s.", len(result.Successful), strings.Join(result.Successful, ", "))
	case len(result.Successful) > 0:
		result.Message = fmt.Sprintf("Booked %d session(s); %d request(s) failed.", len(result.Successful), len(result.Failed))
	default:
		result.Message = "Booking failed. Please try again."
	}

	if len(result.Successful) > 0 {
		// The Hub is the source of truth; reload before clearing the selection.
		if err := w.refresh(ctx, s); err != nil {
			w.logger.Warn("post-submit availability refresh failed", "session_id", s.ID, "err", err)
		}
		s.clearSelection()
	} else {
		// Total failure keeps the selection so the user can retry as-is.
		s.State = StateSlotsSelected
	}
	s.Status = result.Message
	if err := w.store.Put(ctx, s, w.ttl); err != nil {
		return nil, err
	}

	if w.audit != nil {
		if err := w.audit.RecordSubmission(ctx, attempts); err != nil {
			w.logger.Error("submission audit write failed", "session_id", s.ID, "err", err)
		}
	}
	if w.events != nil {
		failedSlots := make([]string, 0, len(result.Failed))
		for _, f := range result.Failed {
			failedSlots = append(failedSlots, f.Label)
		}
		evt := SubmissionEvent{
			SessionID:   s.ID,
			RequesterID: s.RequesterID,
			TutorID:     s.TutorID,
			SubjectID:   s.SubjectID,
			Date:        result.Date,
			Successful:  result.Successful,
			Failed:      failedSlots,
			At:          now,
		}
		if err := w.events.PublishSubmission(ctx, evt); err != nil {
			w.logger.Error("submission event publish failed", "session_id", s.ID, "err", err)
		}
	}

	return result, nil
}

func (w *Workflow) rejectSubmit(ctx context.Context, s *Session, msg string) error {
	s.Status = msg
	if err := w.store.Put(ctx, s, w.ttl); err != nil {
		return err
	}
	return &ValidationError{msg: msg}
}

// Cancel discards the session.
func (w *Workflow) Cancel(ctx context.Context, requesterID, sessionID string) error {
	if _, err := w.load(ctx, requesterID, sessionID); err != nil {
		return err
	}
	w.seqMu.Lock()
	delete(w.fetchSeq, sessionID)
	w.seqMu.Unlock()
	return w.store.Delete(ctx, sessionID)
}

// Get returns the session for rendering.
func (w *Workflow) Get(ctx context.Context, requesterID, sessionID string) (*Session, error) {
	return w.load(ctx, requesterID, sessionID)
}

// load fetches a session and enforces ownership; a session id belonging to
// another requester reads as not found.
func (w *Workflow) load(ctx context.Context, requesterID, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	s, err := w.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.RequesterID != requesterID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}
