// Package booking reserves appointment slots and manages the appointment status lifecycle.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/scheduling"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxStatusRetries = 3
)

// Store persists appointments. Reserve and TransitionStatus write the outbox event in the same
// atomic unit as the state change.
type Store interface {
	GetService(ctx context.Context, clinicID, serviceID string) (model.Service, error)
	FindByIdempotencyKey(ctx context.Context, clinicID, key string) (model.Appointment, bool, error)
	// Reserve inserts appt only if no active appointment of the same doctor overlaps it on that date.
	// An overlap is apperr.Conflict; a reused idempotency key is apperr.ErrDuplicateIdempotencyKey.
	Reserve(ctx context.Context, appt model.Appointment, evt outbox.Event) error
	GetAppointment(ctx context.Context, clinicID, appointmentID string) (model.Appointment, error)
	// TransitionStatus moves the appointment from -> to, failing with apperr.ErrStaleStatus when
	// the stored status is no longer from.
	TransitionStatus(ctx context.Context, clinicID, appointmentID, from, to, reason string, at time.Time, evt outbox.Event) error
	ListAppointments(ctx context.Context, clinicID string, filter model.AppointmentFilter) ([]model.Appointment, error)
}

// SlotChecker tells whether a start minute is currently offered for a slot query.
type SlotChecker interface {
	IsOffered(ctx context.Context, q scheduling.Query, startMinute int) (bool, error)
}

type Service struct {
	store  Store
	slots  SlotChecker
	logger *slog.Logger
	now    func() time.Time
	tracer trace.Tracer
}

func NewService(store Store, slots SlotChecker, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		slots:  slots,
		logger: logger,
		now:    time.Now,
		tracer: otel.Tracer("github.com/md-rashed-zaman/dentbook/services/booking-service/internal/booking"),
	}
}

type ReserveRequest struct {
	ClinicID        string
	DoctorID        string
	ServiceID       string
	Date            string // YYYY-MM-DD
	StartTime       string // HH:MM
	DurationMinutes int
	PatientName     string
	PatientEmail    string
	PatientPhone    string
	IdempotencyKey  string
}

type Reservation struct {
	Appointment model.Appointment
	// Replayed is set when the idempotency key matched an earlier reservation.
	Replayed bool
}

// Reserve books the requested slot if it is still offered and still free.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (res Reservation, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Reserve", trace.WithAttributes(
		attribute.String("clinic.id", req.ClinicID),
		attribute.String("doctor.id", req.DoctorID),
		attribute.String("date", req.Date),
		attribute.String("start_time", req.StartTime),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	appt, err := s.validate(req)
	if err != nil {
		return Reservation{}, err
	}

	if appt.IdempotencyKey != "" {
		existing, ok, err := s.store.FindByIdempotencyKey(ctx, appt.ClinicID, appt.IdempotencyKey)
		if err != nil {
			return Reservation{}, fmt.Errorf("lookup idempotency key: %w", err)
		}
		if ok {
			return Reservation{Appointment: existing, Replayed: true}, nil
		}
	}

	if appt.ServiceID != "" {
		svc, err := s.store.GetService(ctx, appt.ClinicID, appt.ServiceID)
		if err != nil {
			return Reservation{}, err
		}
		if appt.DurationMinutes == 0 {
			appt.DurationMinutes = svc.DurationMinutes
		}
	}
	if appt.DurationMinutes <= 0 || appt.DurationMinutes > scheduling.MaxDurationMinutes {
		return Reservation{}, apperr.Validation("duration_minutes must be between 1 and %d", scheduling.MaxDurationMinutes)
	}

	offered, err := s.slots.IsOffered(ctx, scheduling.Query{
		ClinicID:        appt.ClinicID,
		DoctorID:        appt.DoctorID,
		Date:            req.Date,
		DurationMinutes: appt.DurationMinutes,
	}, appt.StartMinute)
	if err != nil {
		return Reservation{}, err
	}
	if !offered {
		if res, ok := s.replay(ctx, appt); ok {
			return res, nil
		}
		return Reservation{}, apperr.SlotUnavailable("%s at %s is not an available slot", req.Date, clock.Format(appt.StartMinute))
	}

	now := s.now().UTC()
	appt.ID = uuid.NewString()
	appt.Status = model.StatusPending
	appt.CreatedAt = now
	appt.UpdatedAt = now

	evt, err := outbox.NewEvent(ctx, "appointment", appt.ID, outbox.EventAppointmentBooked, bookedPayload(appt))
	if err != nil {
		return Reservation{}, err
	}

	if err := s.store.Reserve(ctx, appt, evt); err != nil {
		if errors.Is(err, apperr.ErrDuplicateIdempotencyKey) || apperr.Is(err, apperr.TypeConflict) {
			if res, ok := s.replay(ctx, appt); ok {
				return res, nil
			}
		}
		if apperr.Is(err, apperr.TypeConflict) {
			s.logger.Info("booking conflict", "clinic_id", appt.ClinicID, "doctor_id", appt.DoctorID,
				"date", req.Date, "start", clock.Format(appt.StartMinute))
			return Reservation{}, err
		}
		return Reservation{}, fmt.Errorf("reserve: %w", err)
	}

	span.SetAttributes(attribute.String("appointment.id", appt.ID))
	s.logger.Info("appointment booked", "appointment_id", appt.ID, "clinic_id", appt.ClinicID, "doctor_id", appt.DoctorID)
	return Reservation{Appointment: appt}, nil
}

// replay finds the appointment stored under appt's idempotency key. A request that lost the slot
// to an earlier copy of itself gets that appointment back instead of a conflict.
func (s *Service) replay(ctx context.Context, appt model.Appointment) (Reservation, bool) {
	if appt.IdempotencyKey == "" {
		return Reservation{}, false
	}
	existing, ok, err := s.store.FindByIdempotencyKey(ctx, appt.ClinicID, appt.IdempotencyKey)
	if err != nil {
		s.logger.Warn("idempotency key lookup failed", "clinic_id", appt.ClinicID, "err", err)
		return Reservation{}, false
	}
	if !ok {
		return Reservation{}, false
	}
	return Reservation{Appointment: existing, Replayed: true}, true
}

func (s *Service) validate(req ReserveRequest) (model.Appointment, error) {
	appt := model.Appointment{
		ClinicID:        strings.TrimSpace(req.ClinicID),
		DoctorID:        strings.TrimSpace(req.DoctorID),
		ServiceID:       strings.TrimSpace(req.ServiceID),
		PatientName:     strings.TrimSpace(req.PatientName),
		PatientEmail:    strings.TrimSpace(req.PatientEmail),
		PatientPhone:    strings.TrimSpace(req.PatientPhone),
		DurationMinutes: req.DurationMinutes,
		IdempotencyKey:  strings.TrimSpace(req.IdempotencyKey),
	}
	if appt.ClinicID == "" || appt.DoctorID == "" || appt.PatientName == "" {
		return model.Appointment{}, apperr.Validation("clinic_id, doctor_id and patient_name are required")
	}
	if appt.PatientEmail == "" && appt.PatientPhone == "" {
		return model.Appointment{}, apperr.Validation("patient_email or patient_phone is required")
	}
	if appt.PatientEmail != "" && !strings.Contains(appt.PatientEmail, "@") {
		return model.Appointment{}, apperr.Validation("patient_email is invalid")
	}
	if len(appt.IdempotencyKey) > 200 {
		return model.Appointment{}, apperr.Validation("idempotency key is too long")
	}
	date, err := clock.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		return model.Appointment{}, apperr.Validation("%v", err)
	}
	start, err := clock.Parse(strings.TrimSpace(req.StartTime))
	if err != nil || start >= clock.MinutesPerDay {
		return model.Appointment{}, apperr.Validation("start_time must be HH:MM")
	}
	if appt.DurationMinutes < 0 {
		return model.Appointment{}, apperr.Validation("duration_minutes must not be negative")
	}
	if appt.DurationMinutes == 0 && appt.ServiceID == "" {
		return model.Appointment{}, apperr.Validation("duration_minutes or service_id is required")
	}
	appt.Date = date
	appt.StartMinute = start
	return appt, nil
}

// UpdateStatus moves an appointment through its lifecycle. Setting the status it already has is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, clinicID, appointmentID, status, reason string) (model.Appointment, error) {
	clinicID = strings.TrimSpace(clinicID)
	appointmentID = strings.TrimSpace(appointmentID)
	status = strings.ToLower(strings.TrimSpace(status))
	reason = strings.TrimSpace(reason)
	if clinicID == "" || appointmentID == "" {
		return model.Appointment{}, apperr.Validation("clinic id and appointment_id are required")
	}
	if !model.KnownStatus(status) {
		return model.Appointment{}, apperr.Validation("unknown status %q", status)
	}

	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		appt, err := s.store.GetAppointment(ctx, clinicID, appointmentID)
		if err != nil {
			return model.Appointment{}, err
		}
		if appt.Status == status {
			return appt, nil
		}
		if !model.CanTransition(appt.Status, status) {
			return model.Appointment{}, apperr.InvalidTransition(appt.Status, status)
		}

		now := s.now().UTC()
		evtType := outbox.EventAppointmentStatusChanged
		if status == model.StatusCancelled {
			evtType = outbox.EventAppointmentCancelled
		}
		evt, err := outbox.NewEvent(ctx, "appointment", appt.ID, evtType, statusPayload(appt, status, reason, now))
		if err != nil {
			return model.Appointment{}, err
		}

		err = s.store.TransitionStatus(ctx, clinicID, appt.ID, appt.Status, status, reason, now, evt)
		if errors.Is(err, apperr.ErrStaleStatus) {
			continue
		}
		if err != nil {
			return model.Appointment{}, fmt.Errorf("update status: %w", err)
		}

		s.logger.Info("appointment status changed", "appointment_id", appt.ID, "from", appt.Status, "to", status)
		appt.Status = status
		appt.UpdatedAt = now
		if status == model.StatusCancelled {
			appt.CancelledAt = &now
			appt.CancelReason = reason
		}
		return appt, nil
	}
	return model.Appointment{}, apperr.Conflict("appointment %s is being modified concurrently", appointmentID)
}

// List returns a clinic's appointments for the admin panel, newest first.
func (s *Service) List(ctx context.Context, clinicID string, filter model.AppointmentFilter) ([]model.Appointment, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return nil, apperr.Validation("clinic id is required")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.store.ListAppointments(ctx, clinicID, filter)
}

func bookedPayload(a model.Appointment) map[string]any {
	return map[string]any{
		"appointment_id":   a.ID,
		"clinic_id":        a.ClinicID,
		"doctor_id":        a.DoctorID,
		"service_id":       a.ServiceID,
		"patient_name":     a.PatientName,
		"patient_email":    a.PatientEmail,
		"patient_phone":    a.PatientPhone,
		"date":             clock.FormatDate(a.Date),
		"start_time":       clock.Format(a.StartMinute),
		"duration_minutes": a.DurationMinutes,
		"status":           a.Status,
	}
}

func statusPayload(a model.Appointment, to, reason string, at time.Time) map[string]any {
	return map[string]any{
		"appointment_id": a.ID,
		"clinic_id":      a.ClinicID,
		"doctor_id":      a.DoctorID,
		"date":           clock.FormatDate(a.Date),
		"start_time":     clock.Format(a.StartMinute),
		"from_status":    a.Status,
		"to_status":      to,
		"reason":         reason,
		"changed_at":     at.Format(time.RFC3339),
	}
}
