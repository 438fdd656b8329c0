package conflict

import (
	"strings"

	"github.com/cictpeerlearninghub/booking-gateway/internal/availability"
	"github.com/cictpeerlearninghub/booking-gateway/internal/hubapi"
)

// Type classifies why a slot is unavailable.
type Type string

const (
	TypeTutor     Type = "tutor_conflict"
	TypeStudent   Type = "student_conflict"
	TypeRequester Type = "requester_conflict"
)

const (
	msgRequesterTutor   = "You are tutoring at this time"
	msgRequesterStudent = "You have a session at this time"
	msgTutorBooked      = "Tutor is booked"
	msgStudentBooked    = "Student is booked"
)

// Info describes the existing booking occupying a slot.
type Info struct {
	StudentName        string `json:"student_name"`
	TutorName          string `json:"tutor_name"`
	StudentID          string `json:"student_id"`
	TutorID            string `json:"tutor_id"`
	Status             string `json:"status"`
	Type               Type   `json:"conflict_type"`
	Message            string `json:"message"`
	IsRequesterTutor   bool   `json:"is_requester_tutor,omitempty"`
	IsRequesterStudent bool   `json:"is_requester_student,omitempty"`
}

// Key builds the index key for a date and slot. The slot is normalized so
// spaced wire values and slot keys land on the same entry.
func Key(date, slot string) string {
	return date + "_" + availability.Normalize(slot)
}

// BuildIndex classifies existing bookings into a slot-keyed conflict index.
// Only bookings whose status is accepted or booked (case-insensitive) count.
// The requester's own bookings take precedence over third-party conflicts;
// tutorID distinguishes tutor-side from student-side conflicts for the rest.
func BuildIndex(bookings []hubapi.Booking, requesterID, tutorID string) map[string]Info {
	idx := make(map[string]Info, len(bookings))
	for _, b := range bookings {
		status := strings.ToLower(strings.TrimSpace(b.Status))
		if status != "accepted" && status != "booked" {
			continue
		}

		dateStr := bookingDate(b.StartDate)
		if dateStr == "" || b.PreferredTime == "" {
			continue
		}
		key := Key(dateStr, b.PreferredTime)
		if _, seen := idx[key]; seen {
			continue
		}

		info := Info{
			StudentName: b.StudentName,
			TutorName:   b.TutorName,
			StudentID:   b.StudentID,
			TutorID:     b.TutorID,
			Status:      status,
		}
		switch {
		case requesterID != "" && b.TutorID == requesterID:
			info.Type = TypeRequester
			info.Message = msgRequesterTutor
			info.IsRequesterTutor = true
		case requesterID != "" && b.StudentID == requesterID:
			info.Type = TypeRequester
			info.Message = msgRequesterStudent
			info.IsRequesterStudent = true
		case b.TutorID == tutorID:
			info.Type = TypeTutor
			info.Message = msgTutorBooked
		default:
			info.Type = TypeStudent
			info.Message = msgStudentBooked
		}
		idx[key] = info
	}
	return idx
}

// IsBooked reports whether any conflict occupies the slot; every conflict
// type disables the slot for selection.
func IsBooked(idx map[string]Info, date, slot string) bool {
	_, ok := idx[Key(date, slot)]
	return ok
}

// Details returns the conflict entry for a slot, if any.
func Details(idx map[string]Info, date, slot string) (Info, bool) {
	info, ok := idx[Key(date, slot)]
	return info, ok
}

// bookingDate reduces a start_date value to YYYY-MM-DD. The Hub sends either
// a bare date or an ISO timestamp.
func bookingDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 10 {
		return raw[:10]
	}
	return ""
}
