// Package clock converts between "HH:MM" wall-clock strings and minutes since midnight.
package clock

import (
	"fmt"
	"time"
)

// MinutesPerDay is the exclusive upper bound for a start minute and the inclusive bound for an end minute.
const MinutesPerDay = 24 * 60

const dateLayout = "2006-01-02"

// Parse converts "HH:MM" to minutes since midnight. "24:00" is accepted and yields MinutesPerDay
// so that a window may close at the end of the day.
func Parse(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	h, ok1 := twoDigits(s[0], s[1])
	m, ok2 := twoDigits(s[3], s[4])
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	if h == 24 && m == 0 {
		return MinutesPerDay, nil
	}
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q: out of range", s)
	}
	return h*60 + m, nil
}

// Format renders minutes since midnight as "HH:MM".
func Format(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	if minutes >= MinutesPerDay {
		return "24:00"
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// MinuteOfDay returns the minutes elapsed since midnight for t in its own location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ParseDate parses "YYYY-MM-DD" into a calendar day at 00:00 UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// FormatDate renders the calendar day of d as "YYYY-MM-DD".
func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// DateOf returns the calendar day of t (in t's location) as 00:00 UTC.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether a and b fall on the same calendar day, each read in its own location.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}
