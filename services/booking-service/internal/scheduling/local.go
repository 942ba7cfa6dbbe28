package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/occupancy"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/schedule"
)

// DefaultSlotInterval is the grid in minutes that local slots are aligned to.
const DefaultSlotInterval = 30

// AppointmentSource lists the appointments that may occupy a doctor's day.
type AppointmentSource interface {
	ListActiveAppointments(ctx context.Context, clinicID, doctorID string, date time.Time) ([]model.Appointment, error)
}

// LocalAdapter computes slots from the doctor's weekly schedule, the clinic's hours and
// the doctor's booked appointments.
type LocalAdapter struct {
	appointments AppointmentSource
	step         int
}

func NewLocalAdapter(appointments AppointmentSource, slotInterval int) *LocalAdapter {
	if slotInterval <= 0 {
		slotInterval = DefaultSlotInterval
	}
	return &LocalAdapter{appointments: appointments, step: slotInterval}
}

func (a *LocalAdapter) Name() string { return model.ManagementLocal }

func (a *LocalAdapter) AvailableSlots(ctx context.Context, req SlotRequest) ([]TimeSlot, error) {
	nominal := schedule.Nominal(req.Doctor, req.Clinic, req.Date)
	if len(nominal) == 0 {
		return []TimeSlot{}, nil
	}
	appts, err := a.appointments.ListActiveAppointments(ctx, req.Clinic.ID, req.Doctor.ID, req.Date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	busy := occupancy.Build(req.Doctor.ID, req.Date, appts)
	cutoff := req.cutoff()
	starts := availability.AvailableSlots(nominal, req.DurationMinutes, a.step, busy, cutoff)
	return normalize(starts, cutoff), nil
}
