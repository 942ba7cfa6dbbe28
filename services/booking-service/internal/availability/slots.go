package availability

import "github.com/md-rashed-zaman/dentbook/services/booking-service/internal/schedule"

// NoCutoff disables the same-day cutoff in AvailableSlots.
const NoCutoff = -1

// AvailableSlots returns the start minutes, on a fixed grid of step minutes anchored at each
// window's start, where a booking of length duration fits inside a window and overlaps none of
// the busy intervals. Starts at or before after are skipped; pass NoCutoff for dates other than today.
//
// The result is ascending and duplicate-free.
func AvailableSlots(windows []schedule.Interval, duration, step int, busy []schedule.Interval, after int) []int {
	if duration <= 0 || step <= 0 {
		return nil
	}
	windows = schedule.Merge(windows)
	busy = schedule.Merge(busy)

	var slots []int
	for _, w := range windows {
		if w.Start+duration > w.End {
			continue
		}
		for t := w.Start; t+duration <= w.End; t += step {
			if t <= after {
				continue
			}
			if overlapsAny(schedule.Interval{Start: t, End: t + duration}, busy) {
				continue
			}
			if n := len(slots); n > 0 && slots[n-1] >= t {
				continue
			}
			slots = append(slots, t)
		}
	}
	return slots
}

func overlapsAny(candidate schedule.Interval, busy []schedule.Interval) bool {
	for _, b := range busy {
		// busy is sorted, so nothing later can overlap.
		if b.Start >= candidate.End {
			return false
		}
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
