package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/outbox"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type appointmentDoc struct {
	ID             string     `bson:"_id"`
	ClinicID       string     `bson:"clinic_id"`
	DoctorID       string     `bson:"doctor_id"`
	ServiceID      string     `bson:"service_id,omitempty"`
	PatientName    string     `bson:"patient_name"`
	PatientEmail   string     `bson:"patient_email,omitempty"`
	PatientPhone   string     `bson:"patient_phone,omitempty"`
	Date           string     `bson:"date"`
	StartMinute    int        `bson:"start_minute"`
	EndMinute      int        `bson:"end_minute"`
	Status         string     `bson:"status"`
	CancelReason   string     `bson:"cancel_reason,omitempty"`
	CancelledAt    *time.Time `bson:"cancelled_at,omitempty"`
	IdempotencyKey string     `bson:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`

	// Work written atomically with the appointment and finished by settle.
	ReleasePending bool        `bson:"release_pending,omitempty"`
	PendingEvents  []outboxDoc `bson:"pending_events,omitempty"`
}

// dayDoc holds the active bookings of one doctor on one date. Every change bumps Version.
type dayDoc struct {
	ID       string       `bson:"_id"`
	DoctorID string       `bson:"doctor_id"`
	Date     string       `bson:"date"`
	Version  int64        `bson:"version"`
	Bookings []dayBooking `bson:"bookings"`
}

type dayBooking struct {
	AppointmentID string    `bson:"appointment_id"`
	Start         int       `bson:"start"`
	End           int       `bson:"end"`
	ClaimedAt     time.Time `bson:"claimed_at"`
}

var errDayContention = errors.New("doctor day changed on every attempt")

func dayKey(doctorID string, date time.Time) string {
	return doctorID + "|" + clock.FormatDate(date)
}

// overlapping returns the first booking that shares time with [start, end).
func overlapping(bookings []dayBooking, start, end int) (dayBooking, bool) {
	for _, b := range bookings {
		if b.Start < end && start < b.End {
			return b, true
		}
	}
	return dayBooking{}, false
}

// Reserve claims the interval on the doctor's day document with a version-conditional write,
// then stores the appointment with its outbox event embedded. Once the appointment is stored the
// reservation stands: moving the event to the outbox is retried by SettlePending if it fails here.
func (s *Store) Reserve(ctx context.Context, appt model.Appointment, evt outbox.Event) error {
	if err := s.claimInterval(ctx, appt); err != nil {
		return err
	}

	doc := toAppointmentDoc(appt)
	doc.PendingEvents = []outboxDoc{s.newOutboxDoc(evt)}
	if _, err := s.appointments.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), idempotencyIndexName) {
			err = apperr.ErrDuplicateIdempotencyKey
		} else {
			err = fmt.Errorf("insert appointment: %w", err)
		}
		if relErr := s.releaseInterval(ctx, appt.DoctorID, appt.Date, appt.ID); relErr != nil {
			return errors.Join(err, relErr)
		}
		return err
	}
	if err := s.relayEvents(ctx, doc.ID, doc.PendingEvents); err != nil {
		s.logger.Warn("outbox relay deferred", "appointment_id", appt.ID, "err", err)
	}
	return nil
}

func (s *Store) claimInterval(ctx context.Context, appt model.Appointment) error {
	key := dayKey(appt.DoctorID, appt.Date)
	booking := dayBooking{AppointmentID: appt.ID, Start: appt.StartMinute, End: appt.EndMinute(), ClaimedAt: s.now().UTC()}

	for attempt := 0; attempt < s.reserveAttempts; attempt++ {
		var day dayDoc
		err := s.days.FindOne(ctx, bson.M{"_id": key}).Decode(&day)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			_, err := s.days.InsertOne(ctx, dayDoc{
				ID:       key,
				DoctorID: appt.DoctorID,
				Date:     clock.FormatDate(appt.Date),
				Version:  1,
				Bookings: []dayBooking{booking},
			})
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return fmt.Errorf("create doctor day: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("load doctor day: %w", err)
		}

		if b, taken := overlapping(day.Bookings, booking.Start, booking.End); taken {
			stale, err := s.staleClaim(ctx, b)
			if err != nil {
				return err
			}
			if !stale {
				return conflict(appt)
			}
			if err := s.releaseInterval(ctx, appt.DoctorID, appt.Date, b.AppointmentID); err != nil {
				return err
			}
			continue
		}
		res, err := s.days.UpdateOne(ctx,
			bson.M{"_id": key, "version": day.Version},
			bson.M{
				"$push": bson.M{"bookings": booking},
				"$inc":  bson.M{"version": 1},
			})
		if err != nil {
			return fmt.Errorf("claim interval: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}

	// Out of attempts: only a booking that is really there makes this a conflict.
	var day dayDoc
	err := s.days.FindOne(ctx, bson.M{"_id": key}).Decode(&day)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("load doctor day: %w", err)
	}
	if _, taken := overlapping(day.Bookings, booking.Start, booking.End); taken {
		return conflict(appt)
	}
	return apperr.Internal("doctor day is busy, retry the reservation", errDayContention)
}

// staleClaim reports whether b no longer backs an active appointment: the appointment was
// cancelled, or it was never stored and the claim is older than the claim TTL.
func (s *Store) staleClaim(ctx context.Context, b dayBooking) (bool, error) {
	var doc appointmentDoc
	err := s.appointments.FindOne(ctx, bson.M{"_id": b.AppointmentID},
		options.FindOne().SetProjection(bson.M{"status": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return !b.ClaimedAt.IsZero() && s.now().Sub(b.ClaimedAt) > s.claimTTL, nil
	}
	if err != nil {
		return false, fmt.Errorf("load claimed appointment: %w", err)
	}
	return doc.Status == model.StatusCancelled, nil
}

func (s *Store) releaseInterval(ctx context.Context, doctorID string, date time.Time, appointmentID string) error {
	var err error
	for attempt := 0; attempt < max(s.releaseAttempts, 1); attempt++ {
		_, err = s.days.UpdateOne(ctx,
			bson.M{"_id": dayKey(doctorID, date)},
			bson.M{
				"$pull": bson.M{"bookings": bson.M{"appointment_id": appointmentID}},
				"$inc":  bson.M{"version": 1},
			})
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("release interval of %s: %w", appointmentID, err)
	}
	return nil
}

// settle finishes the follow-up work recorded on an appointment. Every step is idempotent.
func (s *Store) settle(ctx context.Context, doc appointmentDoc) error {
	if doc.ReleasePending {
		date, err := clock.ParseDate(doc.Date)
		if err != nil {
			return fmt.Errorf("stored appointment %s: %w", doc.ID, err)
		}
		if err := s.releaseInterval(ctx, doc.DoctorID, date, doc.ID); err != nil {
			return err
		}
		if _, err := s.appointments.UpdateOne(ctx, bson.M{"_id": doc.ID},
			bson.M{"$unset": bson.M{"release_pending": ""}}); err != nil {
			return fmt.Errorf("clear release flag: %w", err)
		}
	}
	return s.relayEvents(ctx, doc.ID, doc.PendingEvents)
}

// SettlePending finishes appointment writes whose follow-up steps failed: it frees the intervals
// of cancelled appointments and moves embedded events into the outbox.
func (s *Store) SettlePending(ctx context.Context, limit int) (int, error) {
	cur, err := s.appointments.Find(ctx, bson.M{"$or": bson.A{
		bson.M{"pending_events._id": bson.M{"$exists": true}},
		bson.M{"release_pending": true},
	}}, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return 0, fmt.Errorf("find unsettled appointments: %w", err)
	}
	var docs []appointmentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return 0, fmt.Errorf("decode unsettled appointments: %w", err)
	}
	settled := 0
	for _, doc := range docs {
		if err := s.settle(ctx, doc); err != nil {
			return settled, err
		}
		settled++
	}
	return settled, nil
}

func conflict(appt model.Appointment) error {
	return apperr.Conflict("doctor %s is already booked on %s at %s",
		appt.DoctorID, clock.FormatDate(appt.Date), clock.Format(appt.StartMinute))
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, clinicID, key string) (model.Appointment, bool, error) {
	var doc appointmentDoc
	err := s.appointments.FindOne(ctx, bson.M{"clinic_id": clinicID, "idempotency_key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, err
	}
	appt, err := doc.model()
	return appt, err == nil, err
}

func (s *Store) GetAppointment(ctx context.Context, clinicID, appointmentID string) (model.Appointment, error) {
	var doc appointmentDoc
	err := s.appointments.FindOne(ctx, bson.M{"_id": appointmentID, "clinic_id": clinicID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Appointment{}, apperr.NotFound("appointment %s not found", appointmentID)
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return doc.model()
}

// TransitionStatus updates the status only while it still equals from. The event, and for a
// cancellation the release of the interval, are recorded in the same update and settled after it.
func (s *Store) TransitionStatus(ctx context.Context, clinicID, appointmentID, from, to, reason string, at time.Time, evt outbox.Event) error {
	set := bson.M{"status": to, "updated_at": at}
	if to == model.StatusCancelled {
		set["cancelled_at"] = at
		set["release_pending"] = true
		if reason != "" {
			set["cancel_reason"] = reason
		}
	}
	var doc appointmentDoc
	err := s.appointments.FindOneAndUpdate(ctx,
		bson.M{"_id": appointmentID, "clinic_id": clinicID, "status": from},
		bson.M{"$set": set, "$push": bson.M{"pending_events": s.newOutboxDoc(evt)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.ErrStaleStatus
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if err := s.settle(ctx, doc); err != nil {
		s.logger.Warn("appointment settlement deferred", "appointment_id", appointmentID, "err", err)
	}
	return nil
}

func (s *Store) ListAppointments(ctx context.Context, clinicID string, filter model.AppointmentFilter) ([]model.Appointment, error) {
	q := bson.M{"clinic_id": clinicID}
	if filter.DoctorID != "" {
		q["doctor_id"] = filter.DoctorID
	}
	if filter.Date != nil {
		q["date"] = clock.FormatDate(*filter.Date)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}, {Key: "start_minute", Value: -1}}).
		SetLimit(int64(filter.Limit))
	return s.findAppointments(ctx, q, opts)
}

func (s *Store) ListActiveAppointments(ctx context.Context, clinicID, doctorID string, date time.Time) ([]model.Appointment, error) {
	q := bson.M{
		"clinic_id": clinicID,
		"doctor_id": doctorID,
		"date":      clock.FormatDate(date),
		"status":    bson.M{"$ne": model.StatusCancelled},
	}
	return s.findAppointments(ctx, q, options.Find().SetSort(bson.D{{Key: "start_minute", Value: 1}}))
}

func (s *Store) findAppointments(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.Appointment, error) {
	cur, err := s.appointments.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find appointments: %w", err)
	}
	var docs []appointmentDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode appointments: %w", err)
	}
	out := make([]model.Appointment, 0, len(docs))
	for _, doc := range docs {
		appt, err := doc.model()
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, nil
}

func toAppointmentDoc(a model.Appointment) appointmentDoc {
	return appointmentDoc{
		ID:             a.ID,
		ClinicID:       a.ClinicID,
		DoctorID:       a.DoctorID,
		ServiceID:      a.ServiceID,
		PatientName:    a.PatientName,
		PatientEmail:   a.PatientEmail,
		PatientPhone:   a.PatientPhone,
		Date:           clock.FormatDate(a.Date),
		StartMinute:    a.StartMinute,
		EndMinute:      a.EndMinute(),
		Status:         a.Status,
		CancelReason:   a.CancelReason,
		CancelledAt:    a.CancelledAt,
		IdempotencyKey: a.IdempotencyKey,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func (d appointmentDoc) model() (model.Appointment, error) {
	date, err := clock.ParseDate(d.Date)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("stored appointment %s: %w", d.ID, err)
	}
	return model.Appointment{
		ID:              d.ID,
		ClinicID:        d.ClinicID,
		DoctorID:        d.DoctorID,
		ServiceID:       d.ServiceID,
		PatientName:     d.PatientName,
		PatientEmail:    d.PatientEmail,
		PatientPhone:    d.PatientPhone,
		Date:            date,
		StartMinute:     d.StartMinute,
		DurationMinutes: d.EndMinute - d.StartMinute,
		Status:          d.Status,
		CancelReason:    d.CancelReason,
		CancelledAt:     d.CancelledAt,
		IdempotencyKey:  d.IdempotencyKey,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}, nil
}
