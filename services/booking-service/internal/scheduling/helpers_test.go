package scheduling

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
)

type memStore struct {
	clinics map[string]model.Clinic
	doctors map[string]model.Doctor
	appts   []model.Appointment
}

func (m *memStore) GetClinic(_ context.Context, clinicID string) (model.Clinic, error) {
	c, ok := m.clinics[clinicID]
	if !ok {
		return model.Clinic{}, apperr.NotFound("clinic %s not found", clinicID)
	}
	return c, nil
}

func (m *memStore) GetDoctor(_ context.Context, clinicID, doctorID string) (model.Doctor, error) {
	d, ok := m.doctors[doctorID]
	if !ok || d.ClinicID != clinicID {
		return model.Doctor{}, apperr.NotFound("doctor %s not found", doctorID)
	}
	return d, nil
}

func (m *memStore) ListActiveAppointments(_ context.Context, clinicID, doctorID string, date time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range m.appts {
		if a.ClinicID == clinicID && a.DoctorID == doctorID && a.Date.Equal(date) && a.Active() {
			out = append(out, a)
		}
	}
	return out, nil
}

// 2026-10-19 is a Monday.
var testNow = time.Date(2026, 10, 19, 10, 5, 0, 0, time.UTC)

func newMemStore() *memStore {
	return &memStore{
		clinics: map[string]model.Clinic{
			"c1": {
				ID: "c1", Slug: "smile", Name: "Smile Dental", ManagementSystem: "local", Timezone: "UTC",
				WorkingHours: []model.WorkingHours{{Day: 1, Open: "09:00", Close: "14:00"}},
			},
		},
		doctors: map[string]model.Doctor{
			"d1": {
				ID: "d1", ClinicID: "c1", Name: "Dr. Rivera", Active: true, ExternalRef: "prov-77",
				Schedule: []model.ScheduleEntry{{Day: 1, StartTime: "09:00", EndTime: "14:00"}},
			},
			"d2": {ID: "d2", ClinicID: "c1", Name: "Dr. Idle", Active: false},
		},
	}
}

func newTestService(t *testing.T, store *memStore, reg *Registry) *Service {
	t.Helper()
	if reg == nil {
		reg = NewRegistry(NewLocalAdapter(store, 30))
	}
	svc, err := NewService(store, reg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithNow(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func starts(slots []TimeSlot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start)
	}
	return out
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := clock.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}
