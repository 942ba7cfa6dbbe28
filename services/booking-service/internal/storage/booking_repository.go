package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/dentbook/libs/db"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/outbox"
)

const (
	sqlStateExclusionViolation = "23P01"
	sqlStateUniqueViolation    = "23505"

	idempotencyIndex = "appointments_idempotency_uidx"
)

const appointmentColumns = `
	id::text, clinic_id, doctor_id, COALESCE(service_id, ''), patient_name, patient_email, patient_phone,
	appointment_date, start_minute, end_minute, status, COALESCE(cancel_reason, ''), cancelled_at,
	COALESCE(idempotency_key, ''), created_at, updated_at`

// BookingRepository stores appointments in PostgreSQL. Writes and their outbox events share a transaction.
type BookingRepository struct {
	*ClinicRepository
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, clinics *ClinicRepository, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{ClinicRepository: clinics, pool: pool, outbox: outboxRepo}
}

// Reserve serializes writers per (doctor, date) with a transaction-scoped advisory lock, re-checks
// for overlapping active appointments and inserts. The exclusion constraint backs the check.
func (r *BookingRepository) Reserve(ctx context.Context, appt model.Appointment, evt outbox.Event) error {
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dayLockKey(appt.DoctorID, appt.Date)); err != nil {
			return fmt.Errorf("lock doctor day: %w", err)
		}

		var taken bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE doctor_id = $1
					AND appointment_date = $2
					AND status <> 'cancelled'
					AND start_minute < $4
					AND end_minute > $3
			)
		`, appt.DoctorID, appt.Date, appt.StartMinute, appt.EndMinute()).Scan(&taken)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if taken {
			return bookedConflict(appt)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO appointments
				(id, clinic_id, doctor_id, service_id, patient_name, patient_email, patient_phone,
				 appointment_date, start_minute, end_minute, status, idempotency_key, created_at, updated_at)
			VALUES ($1, $2, $3, NULLIF($4::text, ''), $5, $6, $7, $8, $9, $10, $11, NULLIF($12::text, ''), $13, $14)
		`, appt.ID, appt.ClinicID, appt.DoctorID, appt.ServiceID, appt.PatientName, appt.PatientEmail, appt.PatientPhone,
			appt.Date, appt.StartMinute, appt.EndMinute(), appt.Status, appt.IdempotencyKey, appt.CreatedAt, appt.UpdatedAt); err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation && pgErr.ConstraintName == idempotencyIndex {
		return apperr.ErrDuplicateIdempotencyKey
	}
	if IsConflict(err) {
		return bookedConflict(appt)
	}
	return err
}

func (r *BookingRepository) FindByIdempotencyKey(ctx context.Context, clinicID, key string) (model.Appointment, bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE clinic_id = $1 AND idempotency_key = $2
	`, clinicID, key)
	if err != nil {
		return model.Appointment{}, false, err
	}
	appt, err := pgx.CollectExactlyOneRow(rows, scanAppointment)
	if IsNotFound(err) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, err
	}
	return appt, true, nil
}

func (r *BookingRepository) GetAppointment(ctx context.Context, clinicID, appointmentID string) (model.Appointment, error) {
	if _, err := uuid.Parse(appointmentID); err != nil {
		return model.Appointment{}, apperr.NotFound("appointment %s not found", appointmentID)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND clinic_id = $2
	`, appointmentID, clinicID)
	if err != nil {
		return model.Appointment{}, err
	}
	appt, err := pgx.CollectExactlyOneRow(rows, scanAppointment)
	if IsNotFound(err) {
		return model.Appointment{}, apperr.NotFound("appointment %s not found", appointmentID)
	}
	return appt, err
}

// TransitionStatus updates the status only while it still equals from.
func (r *BookingRepository) TransitionStatus(ctx context.Context, clinicID, appointmentID, from, to, reason string, at time.Time, evt outbox.Event) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET status = $4::text,
				updated_at = $6,
				cancelled_at = CASE WHEN $4::text = 'cancelled' THEN $6 ELSE cancelled_at END,
				cancel_reason = CASE WHEN $4::text = 'cancelled' THEN NULLIF($5::text, '') ELSE cancel_reason END
			WHERE id = $1 AND clinic_id = $2 AND status = $3
		`, appointmentID, clinicID, from, to, reason, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.ErrStaleStatus
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
}

func (r *BookingRepository) ListAppointments(ctx context.Context, clinicID string, filter model.AppointmentFilter) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE clinic_id = $1
			AND ($2::text = '' OR doctor_id = $2)
			AND ($3::date IS NULL OR appointment_date = $3)
		ORDER BY appointment_date DESC, start_minute DESC
		LIMIT $4
	`, clinicID, filter.DoctorID, filter.Date, filter.Limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAppointment)
}

// ListActiveAppointments returns the doctor's non-cancelled appointments on date, by start.
func (r *BookingRepository) ListActiveAppointments(ctx context.Context, clinicID, doctorID string, date time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE clinic_id = $1
			AND doctor_id = $2
			AND appointment_date = $3
			AND status <> 'cancelled'
		ORDER BY start_minute
	`, clinicID, doctorID, date)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAppointment)
}

func scanAppointment(row pgx.CollectableRow) (model.Appointment, error) {
	var (
		a   model.Appointment
		end int
	)
	err := row.Scan(&a.ID, &a.ClinicID, &a.DoctorID, &a.ServiceID, &a.PatientName, &a.PatientEmail, &a.PatientPhone,
		&a.Date, &a.StartMinute, &end, &a.Status, &a.CancelReason, &a.CancelledAt,
		&a.IdempotencyKey, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Date = clock.DateOf(a.Date)
	a.DurationMinutes = end - a.StartMinute
	return a, nil
}

func dayLockKey(doctorID string, date time.Time) string {
	return doctorID + "|" + clock.FormatDate(date)
}

func bookedConflict(appt model.Appointment) error {
	return apperr.Conflict("doctor %s is already booked on %s at %s",
		appt.DoctorID, clock.FormatDate(appt.Date), clock.Format(appt.StartMinute))
}

// IsConflict reports whether err is an exclusion or unique violation.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == sqlStateExclusionViolation || pgErr.Code == sqlStateUniqueViolation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
