package schedule

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
)

// Weekly returns the doctor's merged availability for weekday day. Malformed entries are skipped.
func Weekly(entries []model.ScheduleEntry, day time.Weekday) []Interval {
	var out []Interval
	for _, e := range entries {
		if e.Day != int(day) {
			continue
		}
		iv, ok := parseRange(e.StartTime, e.EndTime)
		if !ok {
			continue
		}
		out = append(out, iv)
	}
	return Merge(out)
}

// ClinicHours returns the clinic's opening window for weekday day, or nil when it is closed.
func ClinicHours(hours []model.WorkingHours, day time.Weekday) []Interval {
	var out []Interval
	for _, h := range hours {
		if h.Day != int(day) {
			continue
		}
		iv, ok := parseRange(h.Open, h.Close)
		if !ok {
			continue
		}
		out = append(out, iv)
	}
	return Merge(out)
}

// Nominal is the doctor's availability on date before any appointments are considered:
// the doctor's weekly entries for that weekday intersected with the clinic's hours.
func Nominal(doctor model.Doctor, clinic model.Clinic, date time.Time) []Interval {
	day := date.Weekday()
	return Intersect(Weekly(doctor.Schedule, day), ClinicHours(clinic.WorkingHours, day))
}

// ValidateWeekly rejects entries with an unknown weekday, malformed clock values or an empty range.
func ValidateWeekly(entries []model.ScheduleEntry) error {
	for i, e := range entries {
		if e.Day < 0 || e.Day > 6 {
			return apperr.Validation("schedule entry %d: day %d out of range 0..6", i, e.Day)
		}
		if err := validateRange(e.StartTime, e.EndTime); err != nil {
			return apperr.Validation("schedule entry %d: %v", i, err)
		}
	}
	return nil
}

// ValidateWorkingHours is ValidateWeekly for clinic hours, which additionally allow one window per day.
func ValidateWorkingHours(hours []model.WorkingHours) error {
	seen := make(map[int]bool, len(hours))
	for i, h := range hours {
		if h.Day < 0 || h.Day > 6 {
			return apperr.Validation("working hours %d: day %d out of range 0..6", i, h.Day)
		}
		if seen[h.Day] {
			return apperr.Validation("working hours %d: duplicate day %d", i, h.Day)
		}
		seen[h.Day] = true
		if err := validateRange(h.Open, h.Close); err != nil {
			return apperr.Validation("working hours %d: %v", i, err)
		}
	}
	return nil
}

func parseRange(start, end string) (Interval, bool) {
	s, err := clock.Parse(start)
	if err != nil || s >= clock.MinutesPerDay {
		return Interval{}, false
	}
	e, err := clock.Parse(end)
	if err != nil || e <= s {
		return Interval{}, false
	}
	return Interval{Start: s, End: e}, true
}

func validateRange(start, end string) error {
	s, err := clock.Parse(start)
	if err != nil {
		return err
	}
	if s >= clock.MinutesPerDay {
		return fmt.Errorf("start %s must be before end %s", start, end)
	}
	e, err := clock.Parse(end)
	if err != nil {
		return err
	}
	if e <= s {
		return fmt.Errorf("start %s must be before end %s", start, end)
	}
	return nil
}
