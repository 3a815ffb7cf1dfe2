package quota

import "time"

// Window accumulates character and request counts for one calendar period.
type Window struct {
	Characters int64     `json:"characters"`
	Requests   int64     `json:"requests"`
	StartedAt  time.Time `json:"started_at"`
}

// RealignTo resets the window when the current calendar boundary has moved
// past the recorded start. Must run before any read or write of the counters.
func (w *Window) RealignTo(boundary time.Time) {
	if w.StartedAt.Equal(boundary) {
		return
	}
	w.Characters = 0
	w.Requests = 0
	w.StartedAt = boundary
}

// Add charges one request of the given character count to the window.
func (w *Window) Add(characters int64) {
	w.Characters += characters
	w.Requests++
}
