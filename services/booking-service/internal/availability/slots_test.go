package availability

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/schedule"
)

func hhmm(h, m int) int { return h*60 + m }

func TestAvailableSlots_FullMorning(t *testing.T) {
	windows := []schedule.Interval{{Start: hhmm(9, 0), End: hhmm(14, 0)}}
	slots := AvailableSlots(windows, 30, 30, nil, NoCutoff)
	if len(slots) != 10 {
		t.Fatalf("expected 10 slots, got %d: %v", len(slots), slots)
	}
	if slots[0] != hhmm(9, 0) || slots[9] != hhmm(13, 30) {
		t.Fatalf("unexpected bounds %d..%d", slots[0], slots[9])
	}
}

func TestAvailableSlots_SkipsBooked(t *testing.T) {
	windows := []schedule.Interval{{Start: hhmm(9, 0), End: hhmm(14, 0)}}
	busy := []schedule.Interval{{Start: hhmm(10, 0), End: hhmm(10, 45)}}

	slots := AvailableSlots(windows, 30, 30, busy, NoCutoff)
	want := []int{hhmm(9, 0), hhmm(9, 30), hhmm(11, 0), hhmm(11, 30), hhmm(12, 0), hhmm(12, 30), hhmm(13, 0), hhmm(13, 30)}
	if !reflect.DeepEqual(slots, want) {
		t.Fatalf("slots = %v, want %v", slots, want)
	}
}

func TestAvailableSlots_SkipsPast(t *testing.T) {
	windows := []schedule.Interval{{Start: hhmm(9, 0), End: hhmm(14, 0)}}
	slots := AvailableSlots(windows, 30, 30, nil, hhmm(10, 5))
	if len(slots) == 0 || slots[0] != hhmm(10, 30) {
		t.Fatalf("expected first slot 10:30, got %v", slots)
	}
	for _, s := range slots {
		if s <= hhmm(10, 5) {
			t.Fatalf("slot %d is not after the cutoff", s)
		}
	}

	// A start exactly at the cutoff minute is excluded.
	slots = AvailableSlots(windows, 30, 30, nil, hhmm(10, 0))
	if slots[0] != hhmm(10, 30) {
		t.Fatalf("expected 10:00 to be excluded at cutoff 10:00, got %v", slots)
	}
}

func TestAvailableSlots_DurationTooLong(t *testing.T) {
	windows := []schedule.Interval{{Start: hhmm(9, 0), End: hhmm(10, 0)}, {Start: hhmm(11, 0), End: hhmm(11, 45)}}
	if slots := AvailableSlots(windows, 90, 30, nil, NoCutoff); len(slots) != 0 {
		t.Fatalf("expected no slots, got %v", slots)
	}
}

func TestAvailableSlots_GridIsIndependentOfDuration(t *testing.T) {
	windows := []schedule.Interval{{Start: hhmm(9, 0), End: hhmm(11, 0)}}
	slots := AvailableSlots(windows, 45, 30, nil, NoCutoff)
	want := []int{hhmm(9, 0), hhmm(9, 30), hhmm(10, 0)}
	if !reflect.DeepEqual(slots, want) {
		t.Fatalf("slots = %v, want %v", slots, want)
	}
}

func TestAvailableSlots_EndOfDay(t *testing.T) {
	windows := []schedule.Interval{{Start: hhmm(23, 0), End: 24 * 60}}
	slots := AvailableSlots(windows, 30, 30, nil, NoCutoff)
	want := []int{hhmm(23, 0), hhmm(23, 30)}
	if !reflect.DeepEqual(slots, want) {
		t.Fatalf("slots = %v, want %v", slots, want)
	}
}

func TestAvailableSlots_InvalidInput(t *testing.T) {
	windows := []schedule.Interval{{Start: hhmm(9, 0), End: hhmm(10, 0)}}
	if AvailableSlots(windows, 0, 30, nil, NoCutoff) != nil {
		t.Fatal("expected nil for zero duration")
	}
	if AvailableSlots(windows, 30, 0, nil, NoCutoff) != nil {
		t.Fatal("expected nil for zero step")
	}
	if AvailableSlots(nil, 30, 30, nil, NoCutoff) != nil {
		t.Fatal("expected nil for no windows")
	}
}

func TestAvailableSlots_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		var windows, busy []schedule.Interval
		for i := 0; i < 1+rng.Intn(3); i++ {
			s := rng.Intn(1400)
			windows = append(windows, schedule.Interval{Start: s, End: s + 1 + rng.Intn(1440-s)})
		}
		for i := 0; i < rng.Intn(5); i++ {
			s := rng.Intn(1400)
			busy = append(busy, schedule.Interval{Start: s, End: s + 1 + rng.Intn(120)})
		}
		duration := 5 + rng.Intn(120)
		step := []int{5, 10, 15, 30, 60}[rng.Intn(5)]
		after := NoCutoff
		if rng.Intn(2) == 0 {
			after = rng.Intn(1440)
		}

		slots := AvailableSlots(windows, duration, step, busy, after)
		merged := schedule.Merge(windows)
		for i, s := range slots {
			if i > 0 && slots[i-1] >= s {
				t.Fatalf("iteration %d: slots not strictly ascending: %v", iter, slots)
			}
			if s <= after {
				t.Fatalf("iteration %d: slot %d not after cutoff %d", iter, s, after)
			}
			candidate := schedule.Interval{Start: s, End: s + duration}
			inside := false
			for _, w := range merged {
				if w.Contains(candidate) {
					inside = true
					break
				}
			}
			if !inside {
				t.Fatalf("iteration %d: slot %v outside every window %v", iter, candidate, merged)
			}
			for _, b := range busy {
				if candidate.Overlaps(b) {
					t.Fatalf("iteration %d: slot %v overlaps busy %v", iter, candidate, b)
				}
			}
		}

		again := AvailableSlots(windows, duration, step, busy, after)
		if !reflect.DeepEqual(slots, again) {
			t.Fatalf("iteration %d: result not deterministic", iter)
		}
	}
}
