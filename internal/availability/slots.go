package availability

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// pastBuffer lets a user book a slot that started moments ago; a slot is
// excluded only once its start is more than 30 minutes in the past.
const pastBuffer = 30 * time.Minute

// Slot is one entry in the fixed hourly catalog.
type Slot struct {
	Key   string
	Label string
	Start string
	End   string
}

// Catalog returns the eight fixed one-hour slots from 09:00 to 17:00.
func Catalog() []Slot {
	slots := make([]Slot, 0, 8)
	for h := 9; h < 17; h++ {
		start := fmt.Sprintf("%02d:00", h)
		end := fmt.Sprintf("%02d:00", h+1)
		slots = append(slots, Slot{
			Key:   start + "-" + end,
			Label: clockLabel(h) + " - " + clockLabel(h+1),
			Start: start,
			End:   end,
		})
	}
	return slots
}

func clockLabel(hour24 int) string {
	suffix := "AM"
	h := hour24
	if hour24 >= 12 {
		suffix = "PM"
		if hour24 > 12 {
			h = hour24 - 12
		}
	}
	return fmt.Sprintf("%d:00 %s", h, suffix)
}

// fallbackStarts are half-hour slot starts offered for dates the Hub has no
// explicit entry for. Weekends stay bookable through this template.
var fallbackStarts = []string{
	"09:00", "09:30", "10:00", "10:30", "11:00", "11:30",
	"14:00", "14:30", "15:00", "15:30", "16:00", "16:30",
}

// FallbackTemplate returns a copy of the default half-hour slot starts.
func FallbackTemplate() []string {
	out := make([]string, len(fallbackStarts))
	copy(out, fallbackStarts)
	return out
}

// Normalize rewrites a spaced time range ("09:00 - 10:00") into slot-key form
// ("09:00-10:00"). Already-normalized values pass through unchanged.
func Normalize(slot string) string {
	return strings.ReplaceAll(slot, " - ", "-")
}

// SpacedRange renders a slot in the Hub's preferred_time wire format
// ("HH:MM - HH:MM"). Bare half-hour starts get a computed 30-minute end.
func SpacedRange(slot string) string {
	if i := strings.Index(slot, "-"); i >= 0 {
		return strings.TrimSpace(slot[:i]) + " - " + strings.TrimSpace(slot[i+1:])
	}
	start, err := time.Parse("15:04", slot)
	if err != nil {
		return slot
	}
	return slot + " - " + start.Add(30*time.Minute).Format("15:04")
}

// Label returns the display label for a slot: hourly catalog slots get their
// clock labels, anything else the spaced range.
func Label(slot string) string {
	key := Normalize(slot)
	for _, s := range Catalog() {
		if s.Key == key {
			return s.Label
		}
	}
	return SpacedRange(key)
}

// SlotStart returns a slot's start clock time ("09:00-10:00" -> "09:00").
func SlotStart(slot string) string {
	if i := strings.Index(slot, "-"); i >= 0 {
		return strings.TrimSpace(slot[:i])
	}
	return strings.TrimSpace(slot)
}

// SlotsForDate resolves the bookable slots for date. explicit maps
// "YYYY-MM-DD" to the Hub-provided slots for that day; days absent from the
// map fall back to the default template unless the date is already past.
func SlotsForDate(explicit map[string][]string, date time.Time, now time.Time) []string {
	dateStr := date.Format(DateLayout)
	if slots, ok := explicit[dateStr]; ok {
		return filterPast(slots, date, now)
	}
	if date.Before(startOfDay(now)) {
		return nil
	}
	return filterPast(fallbackStarts, date, now)
}

// HasSlots reports whether date has at least one bookable slot.
func HasSlots(explicit map[string][]string, date time.Time, now time.Time) bool {
	return len(SlotsForDate(explicit, date, now)) > 0
}

// filterPast drops slots whose start is more than pastBuffer before now.
// Only same-day dates are affected; future days pass through untouched.
func filterPast(slots []string, date time.Time, now time.Time) []string {
	if !sameDay(date, now) {
		out := make([]string, len(slots))
		copy(out, slots)
		return out
	}

	cutoff := now.Add(-pastBuffer)
	out := make([]string, 0, len(slots))
	for _, slot := range slots {
		start, err := time.Parse("15:04", SlotStart(slot))
		if err != nil {
			continue
		}
		startAt := time.Date(date.Year(), date.Month(), date.Day(), start.Hour(), start.Minute(), 0, 0, now.Location())
		if startAt.Before(cutoff) {
			continue
		}
		out = append(out, slot)
	}
	return out
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
