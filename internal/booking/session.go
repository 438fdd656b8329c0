package booking

import (
	"time"

	"github.com/cictpeerlearninghub/booking-gateway/internal/availability"
	"github.com/cictpeerlearninghub/booking-gateway/internal/conflict"
)

// State tracks where a session is in the selection flow.
type State string

const (
	StateIdle          State = "idle"
	StateSelecting     State = "selecting"
	StateSlotsSelected State = "slots_selected"
	StateSubmitting    State = "submitting"
)

// Session is one user's booking workflow for one tutor: the availability
// window, the last fetched day/conflict data, and the current selection.
// A session is owned by a single requester and replaced wholesale on refresh.
type Session struct {
	ID            string `json:"id"`
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name"`
	TutorID       string `json:"tutor_id"`
	TutorName     string `json:"tutor_name"`
	SubjectID     string `json:"subject_id"`
	SubjectName   string `json:"subject_name"`

	Window    availability.Window      `json:"window"`
	Days      map[string][]string      `json:"days"`
	Conflicts map[string]conflict.Info `json:"conflicts"`

	SelectedDate  string   `json:"selected_date"`
	SelectedSlots []string `json:"selected_slots"`

	State         State     `json:"state"`
	Status        string    `json:"status"`
	WindowDirty   bool      `json:"window_dirty"`
	LastRefreshAt time.Time `json:"last_refresh_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// SelectDate sets the active date and clears any slot selection. An empty
// date returns the session to idle.
func (s *Session) SelectDate(date string) {
	s.SelectedDate = date
	s.SelectedSlots = nil
	if date == "" {
		s.State = StateIdle
		return
	}
	s.State = StateSelecting
}

// ToggleSlot adds the slot to the selection, or removes it when already
// selected. Order of the remaining entries is preserved.
func (s *Session) ToggleSlot(slot string) {
	for i, existing := range s.SelectedSlots {
		if existing == slot {
			s.SelectedSlots = append(s.SelectedSlots[:i:i], s.SelectedSlots[i+1:]...)
			if len(s.SelectedSlots) == 0 && s.State == StateSlotsSelected {
				s.State = StateSelecting
			}
			return
		}
	}
	s.SelectedSlots = append(s.SelectedSlots, slot)
	s.State = StateSlotsSelected
}

// IsSelected reports whether the slot is currently part of the selection.
func (s *Session) IsSelected(slot string) bool {
	for _, existing := range s.SelectedSlots {
		if existing == slot {
			return true
		}
	}
	return false
}

func (s *Session) clearSelection() {
	s.SelectedDate = ""
	s.SelectedSlots = nil
	s.State = StateIdle
}
