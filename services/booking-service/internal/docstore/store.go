// Package docstore is the MongoDB persistence backend. Reservations serialize on a per-doctor-day
// document guarded by a version counter.
package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/dentbook/libs/mongox"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	clinicsCollection      = "clinics"
	doctorsCollection      = "doctors"
	servicesCollection     = "services"
	appointmentsCollection = "appointments"
	doctorDaysCollection   = "doctor_days"
	outboxCollection       = "outbox_events"

	idempotencyIndexName = "clinic_idempotency_key_uidx"

	defaultReserveAttempts = 5
	defaultReleaseAttempts = 3
	defaultClaimTTL        = 30 * time.Second
)

type Store struct {
	clinics      *mongo.Collection
	doctors      *mongo.Collection
	services     *mongo.Collection
	appointments *mongo.Collection
	days         *mongo.Collection
	outbox       *mongo.Collection

	reserveAttempts int
	releaseAttempts int
	claimTTL        time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

func New(client *mongox.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	db := client.Database()
	return &Store{
		clinics:         db.Collection(clinicsCollection),
		doctors:         db.Collection(doctorsCollection),
		services:        db.Collection(servicesCollection),
		appointments:    db.Collection(appointmentsCollection),
		days:            db.Collection(doctorDaysCollection),
		outbox:          db.Collection(outboxCollection),
		reserveAttempts: defaultReserveAttempts,
		releaseAttempts: defaultReleaseAttempts,
		claimTTL:        defaultClaimTTL,
		now:             time.Now,
		logger:          logger,
	}
}

// EnsureIndexes creates the indexes the store relies on. It is safe to run repeatedly.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.doctors: {
			{
				Keys:    bson.D{{Key: "clinic_id", Value: 1}},
				Options: options.Index().SetName("clinic_idx"),
			},
		},
		s.services: {
			{
				Keys:    bson.D{{Key: "clinic_id", Value: 1}, {Key: "service_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("clinic_service_uidx"),
			},
		},
		s.appointments: {
			{
				Keys: bson.D{{Key: "clinic_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idempotencyIndexName).
					SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$type": "string"}}),
			},
			{
				Keys:    bson.D{{Key: "doctor_id", Value: 1}, {Key: "date", Value: 1}, {Key: "start_minute", Value: 1}},
				Options: options.Index().SetName("doctor_date_start_idx"),
			},
			{
				Keys:    bson.D{{Key: "clinic_id", Value: 1}, {Key: "date", Value: -1}, {Key: "start_minute", Value: -1}},
				Options: options.Index().SetName("clinic_date_idx"),
			},
			{
				Keys:    bson.D{{Key: "pending_events._id", Value: 1}},
				Options: options.Index().SetSparse(true).SetName("pending_events_idx"),
			},
			{
				Keys:    bson.D{{Key: "release_pending", Value: 1}},
				Options: options.Index().SetSparse(true).SetName("release_pending_idx"),
			},
		},
		s.outbox: {
			{
				Keys:    bson.D{{Key: "published_at", Value: 1}, {Key: "created_at", Value: 1}},
				Options: options.Index().SetName("unpublished_idx"),
			},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll.Name(), err)
		}
	}
	return nil
}
