// Package scheduling answers "which start times can this doctor take on this date" for a clinic,
// either from local schedules and appointments or from the clinic's practice-management system.
package scheduling

import (
	"context"
	"sort"
	"time"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
)

// TimeSlot is a bookable start time in the clinic's local day.
type TimeSlot struct {
	Start string
}

// Minute returns the slot start as minutes since midnight.
func (s TimeSlot) Minute() int {
	m, _ := clock.Parse(s.Start)
	return m
}

// SlotRequest is what every adapter receives. Clinic and Doctor are already loaded and
// Date is the calendar day at 00:00 UTC.
type SlotRequest struct {
	Clinic          model.Clinic
	Doctor          model.Doctor
	Date            time.Time
	DurationMinutes int
	Now             time.Time
}

// Adapter is a source of available slots.
type Adapter interface {
	Name() string
	AvailableSlots(ctx context.Context, req SlotRequest) ([]TimeSlot, error)
}

// cutoff is the minute on req.Date at or before which no slot may start.
// It is NoCutoff for future dates and the whole day for past ones.
func (req SlotRequest) cutoff() int {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	local := now.In(req.Clinic.Location())
	today := clock.DateOf(local)
	switch {
	case req.Date.Before(today):
		return clock.MinutesPerDay
	case req.Date.Equal(today):
		return clock.MinuteOfDay(local)
	default:
		return availability.NoCutoff
	}
}

// normalize turns start minutes into the uniform adapter output: inside the day,
// after the cutoff, ascending and unique.
func normalize(starts []int, cutoff int) []TimeSlot {
	kept := make([]int, 0, len(starts))
	for _, m := range starts {
		if m < 0 || m >= clock.MinutesPerDay || m <= cutoff {
			continue
		}
		kept = append(kept, m)
	}
	sort.Ints(kept)

	out := make([]TimeSlot, 0, len(kept))
	for i, m := range kept {
		if i > 0 && kept[i-1] == m {
			continue
		}
		out = append(out, TimeSlot{Start: clock.Format(m)})
	}
	return out
}
