package scheduling

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MaxDurationMinutes caps the appointment length a slot query may ask for. Anything longer
// cannot fit in a day.
const MaxDurationMinutes = clock.MinutesPerDay

const instrumentationName = "github.com/md-rashed-zaman/dentbook/services/booking-service/internal/scheduling"

// ClinicStore reads clinic and doctor configuration. Missing records are apperr.NotFound.
type ClinicStore interface {
	GetClinic(ctx context.Context, clinicID string) (model.Clinic, error)
	GetDoctor(ctx context.Context, clinicID, doctorID string) (model.Doctor, error)
}

type Query struct {
	ClinicID        string
	DoctorID        string
	Date            string // YYYY-MM-DD
	DurationMinutes int
}

// Service is the entry point for slot queries.
type Service struct {
	clinics  ClinicStore
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time

	tracer         trace.Tracer
	requests       metric.Int64Counter
	externalErrors metric.Int64Counter
	latency        metric.Float64Histogram
}

type Option func(*Service)

// WithNow overrides the clock used to decide what "today" is.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(clinics ClinicStore, registry *Registry, logger *slog.Logger, opts ...Option) (*Service, error) {
	s := &Service{
		clinics:  clinics,
		registry: registry,
		logger:   logger,
		now:      time.Now,
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if s.requests, err = meter.Int64Counter("slots.requests",
		metric.WithDescription("Slot queries by management system and outcome"),
	); err != nil {
		return nil, err
	}
	if s.externalErrors, err = meter.Int64Counter("slots.external_errors",
		metric.WithDescription("Failed calls to external practice-management systems"),
	); err != nil {
		return nil, err
	}
	if s.latency, err = meter.Float64Histogram("slots.duration",
		metric.WithDescription("Slot query latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	return s, nil
}

// Slots returns the ordered start times the doctor can take on q.Date. An empty result is not an error.
func (s *Service) Slots(ctx context.Context, q Query) (slots []TimeSlot, err error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.Slots", trace.WithAttributes(
		attribute.String("clinic.id", q.ClinicID),
		attribute.String("doctor.id", q.DoctorID),
		attribute.String("date", q.Date),
		attribute.Int("duration_minutes", q.DurationMinutes),
	))
	start := time.Now()
	system := ""
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = strings.ToLower(string(apperr.TypeOf(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		attrs := metric.WithAttributes(attribute.String("system", system), attribute.String("outcome", outcome))
		s.requests.Add(ctx, 1, attrs)
		s.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
		span.End()
	}()

	req, adapter, err := s.prepare(ctx, q)
	if err != nil {
		return nil, err
	}
	system = adapter.Name()
	span.SetAttributes(attribute.String("management_system", system))

	if req.Date.Before(clock.DateOf(req.Now.In(req.Clinic.Location()))) {
		return []TimeSlot{}, nil
	}

	slots, err = adapter.AvailableSlots(ctx, req)
	if err != nil {
		if apperr.Is(err, apperr.TypeExternal) {
			s.externalErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("system", system)))
			s.logger.Warn("external availability failed", "system", system, "clinic_id", q.ClinicID, "err", err)
		}
		return nil, err
	}
	if slots == nil {
		slots = []TimeSlot{}
	}
	span.SetAttributes(attribute.Int("slots.count", len(slots)))
	return slots, nil
}

// IsOffered reports whether startMinute is currently one of the slots for q.
func (s *Service) IsOffered(ctx context.Context, q Query, startMinute int) (bool, error) {
	slots, err := s.Slots(ctx, q)
	if err != nil {
		return false, err
	}
	for _, slot := range slots {
		if slot.Minute() == startMinute {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) prepare(ctx context.Context, q Query) (SlotRequest, Adapter, error) {
	q.ClinicID = strings.TrimSpace(q.ClinicID)
	q.DoctorID = strings.TrimSpace(q.DoctorID)
	if q.ClinicID == "" || q.DoctorID == "" {
		return SlotRequest{}, nil, apperr.Validation("clinic_id and doctor_id are required")
	}
	date, err := clock.ParseDate(strings.TrimSpace(q.Date))
	if err != nil {
		return SlotRequest{}, nil, apperr.Validation("%v", err)
	}
	if q.DurationMinutes <= 0 || q.DurationMinutes > MaxDurationMinutes {
		return SlotRequest{}, nil, apperr.Validation("duration_minutes must be between 1 and %d", MaxDurationMinutes)
	}

	clinic, err := s.clinics.GetClinic(ctx, q.ClinicID)
	if err != nil {
		return SlotRequest{}, nil, err
	}
	adapter, err := s.registry.Resolve(clinic.ManagementSystem)
	if err != nil {
		return SlotRequest{}, nil, err
	}
	doctor, err := s.clinics.GetDoctor(ctx, clinic.ID, q.DoctorID)
	if err != nil {
		return SlotRequest{}, nil, err
	}
	if doctor.ClinicID != clinic.ID || !doctor.Active {
		return SlotRequest{}, nil, apperr.NotFound("doctor %s not found", q.DoctorID)
	}

	return SlotRequest{
		Clinic:          clinic,
		Doctor:          doctor,
		Date:            date,
		DurationMinutes: q.DurationMinutes,
		Now:             s.now(),
	}, adapter, nil
}
