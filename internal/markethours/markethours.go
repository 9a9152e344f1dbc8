// Package markethours decides which candles fall inside tradable hours.
//
// Two mechanisms exist: a plain local-hour Window at a fixed UTC offset, and
// the session profile, which classifies forex sessions as seen from a named
// location (Havana by default) and blocks weekends.
package markethours

import (
	"log"
	"time"
	_ "time/tzdata" // session locations must resolve without a system zoneinfo
)

// Window is a [StartHour, EndHour) local-hour window at OffsetHours from UTC.
// A disabled window allows everything.
type Window struct {
	StartHour   int
	EndHour     int
	OffsetHours int
	Enabled     bool
}

// LocalHour returns (UTC hour + offset) mod 24.
func (w Window) LocalHour(t time.Time) int {
	return ((t.UTC().Hour()+w.OffsetHours)%24 + 24) % 24
}

// Allows reports whether t lies inside the window.
func (w Window) Allows(t time.Time) bool {
	if !w.Enabled {
		return true
	}
	h := w.LocalHour(t)
	return h >= w.StartHour && h < w.EndHour
}

// Session labels a forex session by local hour.
type Session string

const (
	LondonOpen      Session = "LONDON_OPEN"       // 04:00–08:59
	LondonNYOverlap Session = "LONDON_NY_OVERLAP" // 09:00–12:59
	NYActive        Session = "NY_ACTIVE"         // 13:00–15:59
	NYClose         Session = "NY_CLOSE"          // 16:00–17:59
	LowActivity     Session = "LOW_ACTIVITY"
)

// DefaultSessionLocation is the location sessions are measured from.
const DefaultSessionLocation = "America/Havana"

// FallbackZone is used when a session location cannot be loaded (UTC−4).
var FallbackZone = time.FixedZone("UTC-4", -4*3600)

// LoadLocation resolves name, falling back to FallbackZone.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultSessionLocation
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("[markethours] location %q unavailable, using fixed UTC-4: %v", name, err)
		return FallbackZone
	}
	return loc
}

// SessionAt classifies t in loc.
func SessionAt(t time.Time, loc *time.Location) Session {
	h := t.In(loc).Hour()
	switch {
	case h >= 4 && h <= 8:
		return LondonOpen
	case h >= 9 && h <= 12:
		return LondonNYOverlap
	case h >= 13 && h <= 15:
		return NYActive
	case h >= 16 && h <= 17:
		return NYClose
	default:
		return LowActivity
	}
}

// IsWeekday returns true if t is Mon–Fri in loc.
func IsWeekday(t time.Time, loc *time.Location) bool {
	wd := t.In(loc).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// SessionTradable reports whether the session profile permits trading at t:
// a weekday in loc, between 04:00 and 15:59 local.
func SessionTradable(t time.Time, loc *time.Location) bool {
	if !IsWeekday(t, loc) {
		return false
	}
	h := t.In(loc).Hour()
	return h >= 4 && h <= 15
}
