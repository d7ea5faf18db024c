package models

import "time"

// RateWindow is the fixed-window request counter for one client on one endpoint
type RateWindow struct {
	ClientID    string    `db:"client_id" json:"client_id"`
	Endpoint    string    `db:"endpoint" json:"endpoint"`
	Requests    int       `db:"requests" json:"requests"`
	WindowStart time.Time `db:"window_start" json:"window_start"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Elapsed reports whether the window has run its full duration at now
func (w *RateWindow) Elapsed(now time.Time, window time.Duration) bool {
	return now.Sub(w.WindowStart) >= window
}
