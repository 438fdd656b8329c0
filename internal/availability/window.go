package availability

import "time"

// Window is the date range availability has been requested for. It only ever
// grows; calendar navigation outside the loaded range widens it.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow returns the initial window of today through +60 days.
func NewWindow(now time.Time) Window {
	start := startOfDay(now)
	return Window{Start: start, End: start.AddDate(0, 0, 60)}
}

// ExtendForMonth widens the window to cover one month before and two months
// after the viewed month. Bounds never move inward.
func (w Window) ExtendForMonth(month time.Time) Window {
	monthStart := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	candStart := monthStart.AddDate(0, -1, 0)
	candEnd := monthStart.AddDate(0, 3, 0)

	out := w
	if candStart.Before(out.Start) {
		out.Start = candStart
	}
	if candEnd.After(out.End) {
		out.End = candEnd
	}
	return out
}

// Contains reports whether date falls inside the window (inclusive bounds).
func (w Window) Contains(date time.Time) bool {
	d := startOfDay(date)
	return !d.Before(startOfDay(w.Start)) && !d.After(startOfDay(w.End))
}

// Equal reports whether two windows cover the same range.
func (w Window) Equal(other Window) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End)
}
