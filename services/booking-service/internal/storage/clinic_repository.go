package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/dentbook/libs/db"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
)

// ClinicRepository reads clinic, doctor and service configuration.
type ClinicRepository struct {
	pool *db.Pool
}

func NewClinicRepository(pool *db.Pool) *ClinicRepository {
	return &ClinicRepository{pool: pool}
}

func (r *ClinicRepository) GetClinic(ctx context.Context, clinicID string) (model.Clinic, error) {
	var c model.Clinic
	err := r.pool.QueryRow(ctx, `
		SELECT id, COALESCE(slug, ''), name, management_system, timezone
		FROM clinics
		WHERE id = $1
	`, clinicID).Scan(&c.ID, &c.Slug, &c.Name, &c.ManagementSystem, &c.Timezone)
	if IsNotFound(err) {
		return model.Clinic{}, apperr.NotFound("clinic %s not found", clinicID)
	}
	if err != nil {
		return model.Clinic{}, fmt.Errorf("get clinic: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT day, open_time, close_time
		FROM clinic_working_hours
		WHERE clinic_id = $1
		ORDER BY day
	`, clinicID)
	if err != nil {
		return model.Clinic{}, fmt.Errorf("get working hours: %w", err)
	}
	c.WorkingHours, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WorkingHours, error) {
		var wh model.WorkingHours
		var day int16
		err := row.Scan(&day, &wh.Open, &wh.Close)
		wh.Day = int(day)
		return wh, err
	})
	if err != nil {
		return model.Clinic{}, fmt.Errorf("scan working hours: %w", err)
	}
	return c, nil
}

func (r *ClinicRepository) GetDoctor(ctx context.Context, clinicID, doctorID string) (model.Doctor, error) {
	var d model.Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id, clinic_id, name, active, COALESCE(external_ref, '')
		FROM doctors
		WHERE id = $1 AND clinic_id = $2
	`, doctorID, clinicID).Scan(&d.ID, &d.ClinicID, &d.Name, &d.Active, &d.ExternalRef)
	if IsNotFound(err) {
		return model.Doctor{}, apperr.NotFound("doctor %s not found in clinic %s", doctorID, clinicID)
	}
	if err != nil {
		return model.Doctor{}, fmt.Errorf("get doctor: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT day, start_time, end_time
		FROM doctor_schedule_entries
		WHERE doctor_id = $1
		ORDER BY day, start_time
	`, doctorID)
	if err != nil {
		return model.Doctor{}, fmt.Errorf("get doctor schedule: %w", err)
	}
	d.Schedule, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ScheduleEntry, error) {
		var e model.ScheduleEntry
		var day int16
		err := row.Scan(&day, &e.StartTime, &e.EndTime)
		e.Day = int(day)
		return e, err
	})
	if err != nil {
		return model.Doctor{}, fmt.Errorf("scan doctor schedule: %w", err)
	}
	return d, nil
}

func (r *ClinicRepository) GetService(ctx context.Context, clinicID, serviceID string) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, clinic_id, name, duration_minutes, price::float8
		FROM clinic_services
		WHERE clinic_id = $1 AND id = $2
	`, clinicID, serviceID).Scan(&s.ID, &s.ClinicID, &s.Name, &s.DurationMinutes, &s.Price)
	if IsNotFound(err) {
		return model.Service{}, apperr.NotFound("service %s not found in clinic %s", serviceID, clinicID)
	}
	if err != nil {
		return model.Service{}, fmt.Errorf("get service: %w", err)
	}
	return s, nil
}

// UpsertClinic writes the clinic and replaces its working hours.
func (r *ClinicRepository) UpsertClinic(ctx context.Context, c model.Clinic) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, slug, name, management_system, timezone)
			VALUES ($1, NULLIF($2::text, ''), $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET slug = EXCLUDED.slug,
				name = EXCLUDED.name,
				management_system = EXCLUDED.management_system,
				timezone = EXCLUDED.timezone,
				updated_at = now()
		`, c.ID, c.Slug, c.Name, managementSystemOrLocal(c.ManagementSystem), timezoneOrUTC(c.Timezone)); err != nil {
			return fmt.Errorf("upsert clinic %s: %w", c.ID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM clinic_working_hours WHERE clinic_id = $1`, c.ID); err != nil {
			return err
		}
		for _, wh := range c.WorkingHours {
			if _, err := tx.Exec(ctx, `
				INSERT INTO clinic_working_hours (clinic_id, day, open_time, close_time)
				VALUES ($1, $2, $3, $4)
			`, c.ID, wh.Day, wh.Open, wh.Close); err != nil {
				return fmt.Errorf("insert working hours for %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// UpsertDoctor writes the doctor and replaces its weekly schedule.
func (r *ClinicRepository) UpsertDoctor(ctx context.Context, d model.Doctor) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, clinic_id, name, active, external_ref)
			VALUES ($1, $2, $3, $4, NULLIF($5::text, ''))
			ON CONFLICT (id) DO UPDATE
			SET clinic_id = EXCLUDED.clinic_id,
				name = EXCLUDED.name,
				active = EXCLUDED.active,
				external_ref = EXCLUDED.external_ref,
				updated_at = now()
		`, d.ID, d.ClinicID, d.Name, d.Active, d.ExternalRef); err != nil {
			return fmt.Errorf("upsert doctor %s: %w", d.ID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM doctor_schedule_entries WHERE doctor_id = $1`, d.ID); err != nil {
			return err
		}
		for _, e := range d.Schedule {
			if _, err := tx.Exec(ctx, `
				INSERT INTO doctor_schedule_entries (doctor_id, day, start_time, end_time)
				VALUES ($1, $2, $3, $4)
			`, d.ID, e.Day, e.StartTime, e.EndTime); err != nil {
				return fmt.Errorf("insert schedule entry for %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

func (r *ClinicRepository) UpsertService(ctx context.Context, s model.Service) error {
	name := s.Name
	if name == nil {
		name = map[string]string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clinic_services (clinic_id, id, name, duration_minutes, price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (clinic_id, id) DO UPDATE
		SET name = EXCLUDED.name,
			duration_minutes = EXCLUDED.duration_minutes,
			price = EXCLUDED.price
	`, s.ClinicID, s.ID, name, s.DurationMinutes, s.Price)
	if err != nil {
		return fmt.Errorf("upsert service %s: %w", s.ID, err)
	}
	return nil
}

func managementSystemOrLocal(s string) string {
	if s == "" {
		return model.ManagementLocal
	}
	return s
}

func timezoneOrUTC(s string) string {
	if s == "" {
		return "UTC"
	}
	return s
}
