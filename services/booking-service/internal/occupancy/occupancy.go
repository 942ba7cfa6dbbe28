// Package occupancy builds the set of minutes a doctor is already booked on a date.
package occupancy

import (
	"time"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/schedule"
)

// Build returns the merged occupied intervals of doctorID on date. Cancelled appointments,
// appointments of other doctors or dates, and records with a non-positive duration are ignored.
// Intervals are clipped to the day.
func Build(doctorID string, date time.Time, appts []model.Appointment) []schedule.Interval {
	busy := make([]schedule.Interval, 0, len(appts))
	for _, a := range appts {
		if !a.Active() || a.DoctorID != doctorID || a.DurationMinutes <= 0 {
			continue
		}
		if !clock.SameDate(a.Date, date) {
			continue
		}
		start := max(a.StartMinute, 0)
		end := min(a.EndMinute(), clock.MinutesPerDay)
		if start >= end {
			continue
		}
		busy = append(busy, schedule.Interval{Start: start, End: end})
	}
	return schedule.Merge(busy)
}
