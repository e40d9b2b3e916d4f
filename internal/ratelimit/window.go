package ratelimit

import "time"

// Window counts reservations in a fixed interval that restarts on the first
// reservation after it expires.
type Window struct {
	Count   int       `json:"count"`
	StartAt time.Time `json:"startAt"`
}

func (w *Window) expired(now time.Time, length time.Duration) bool {
	return w.StartAt.IsZero() || !now.Before(w.StartAt.Add(length))
}

// Reserve takes one slot when the window has room. On refusal it reports the
// time left until the window resets and leaves the counter untouched.
func (w *Window) Reserve(now time.Time, limit int, length time.Duration) (bool, time.Duration) {
	if w.expired(now, length) {
		if limit <= 0 {
			return false, length
		}
		w.StartAt = now
		w.Count = 1
		return true, 0
	}
	if w.Count >= limit {
		return false, w.StartAt.Add(length).Sub(now)
	}
	w.Count++
	return true, 0
}
