package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/dentbook/libs/db"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/migrations"
)

func TestIsConflict(t *testing.T) {
	if !IsConflict(&pgconn.PgError{Code: "23P01"}) || !IsConflict(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("expected exclusion and unique violations to be conflicts")
	}
	if IsConflict(&pgconn.PgError{Code: "23503"}) || IsConflict(errors.New("boom")) {
		t.Fatalf("unexpected conflict")
	}
}

func TestDayLockKey(t *testing.T) {
	date := time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC)
	if got := dayLockKey("d1", date); got != "d1|2026-10-26" {
		t.Fatalf("dayLockKey = %q", got)
	}
}

// openTestRepo connects to TEST_DATABASE_URL, applies migrations and seeds a clinic with a
// unique id so runs do not interfere.
func openTestRepo(t *testing.T) (*BookingRepository, model.Doctor) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url, db.Options{MaxConns: 20})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := db.NewMigrator(pool, migrations.Files).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clinics := NewClinicRepository(pool)
	suffix := uuid.NewString()[:8]
	clinic := model.Clinic{
		ID: "clinic-" + suffix, Name: "Test Clinic", Timezone: "UTC",
		WorkingHours: []model.WorkingHours{{Day: 1, Open: "09:00", Close: "17:00"}},
	}
	doctor := model.Doctor{
		ID: "doctor-" + suffix, ClinicID: clinic.ID, Name: "Dr Test", Active: true,
		Schedule: []model.ScheduleEntry{{Day: 1, StartTime: "09:00", EndTime: "12:00"}},
	}
	if err := clinics.UpsertClinic(ctx, clinic); err != nil {
		t.Fatalf("UpsertClinic: %v", err)
	}
	if err := clinics.UpsertDoctor(ctx, doctor); err != nil {
		t.Fatalf("UpsertDoctor: %v", err)
	}
	return NewBookingRepository(pool, clinics, outbox.NewRepository(pool)), doctor
}

func testAppointment(doctor model.Doctor, start int) model.Appointment {
	now := time.Now().UTC()
	return model.Appointment{
		ID: uuid.NewString(), ClinicID: doctor.ClinicID, DoctorID: doctor.ID,
		PatientName: "Pat", PatientEmail: "pat@example.com",
		Date: time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC), StartMinute: start, DurationMinutes: 30,
		Status: model.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
}

func testEvent(t *testing.T, appt model.Appointment) outbox.Event {
	t.Helper()
	evt, err := outbox.NewEvent(context.Background(), "appointment", appt.ID, outbox.EventAppointmentBooked, map[string]string{"id": appt.ID})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return evt
}

func TestClinicRepositoryRoundTrip(t *testing.T) {
	repo, doctor := openTestRepo(t)
	ctx := context.Background()

	got, err := repo.GetDoctor(ctx, doctor.ClinicID, doctor.ID)
	if err != nil {
		t.Fatalf("GetDoctor: %v", err)
	}
	if len(got.Schedule) != 1 || got.Schedule[0].StartTime != "09:00" || !got.Active {
		t.Fatalf("unexpected doctor %+v", got)
	}
	clinic, err := repo.GetClinic(ctx, doctor.ClinicID)
	if err != nil || clinic.ManagementSystem != model.ManagementLocal || len(clinic.WorkingHours) != 1 {
		t.Fatalf("GetClinic = %+v, %v", clinic, err)
	}
	if _, err := repo.GetDoctor(ctx, "other-clinic", doctor.ID); !apperr.Is(err, apperr.TypeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReserveConcurrentOverlap(t *testing.T) {
	repo, doctor := openTestRepo(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		// 09:50, 10:00 and 10:10 starts pairwise overlap for 30-minute bookings.
		appt := testAppointment(doctor, 590+(i%3)*10)
		evt := testEvent(t, appt)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Reserve(ctx, appt, evt)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		if !apperr.Is(err, apperr.TypeConflict) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one reservation, got %d", ok)
	}
}

func TestTransitionStatusAndIdempotency(t *testing.T) {
	repo, doctor := openTestRepo(t)
	ctx := context.Background()

	appt := testAppointment(doctor, 660)
	appt.IdempotencyKey = "key-" + appt.ID
	if err := repo.Reserve(ctx, appt, testEvent(t, appt)); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	dup := testAppointment(doctor, 690)
	dup.IdempotencyKey = appt.IdempotencyKey
	if err := repo.Reserve(ctx, dup, testEvent(t, dup)); !errors.Is(err, apperr.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected duplicate idempotency key, got %v", err)
	}
	found, ok, err := repo.FindByIdempotencyKey(ctx, appt.ClinicID, appt.IdempotencyKey)
	if err != nil || !ok || found.ID != appt.ID || found.DurationMinutes != 30 {
		t.Fatalf("FindByIdempotencyKey = %+v, %v, %v", found, ok, err)
	}

	at := time.Now().UTC()
	evt := testEvent(t, appt)
	if err := repo.TransitionStatus(ctx, appt.ClinicID, appt.ID, model.StatusPending, model.StatusCancelled, "sick", at, evt); err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if err := repo.TransitionStatus(ctx, appt.ClinicID, appt.ID, model.StatusPending, model.StatusConfirmed, "", at, testEvent(t, appt)); !errors.Is(err, apperr.ErrStaleStatus) {
		t.Fatalf("expected stale status, got %v", err)
	}
	got, err := repo.GetAppointment(ctx, appt.ClinicID, appt.ID)
	if err != nil || got.Status != model.StatusCancelled || got.CancelReason != "sick" || got.CancelledAt == nil {
		t.Fatalf("GetAppointment = %+v, %v", got, err)
	}

	active, err := repo.ListActiveAppointments(ctx, appt.ClinicID, appt.DoctorID, appt.Date)
	if err != nil {
		t.Fatalf("ListActiveAppointments: %v", err)
	}
	for _, a := range active {
		if a.ID == appt.ID {
			t.Fatalf("cancelled appointment listed as active")
		}
	}

	// The cancelled range is free again.
	again := testAppointment(doctor, 660)
	if err := repo.Reserve(ctx, again, testEvent(t, again)); err != nil {
		t.Fatalf("rebooking cancelled range: %v", err)
	}
}
