package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/outbox"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type outboxDoc struct {
	ID            string     `bson:"_id"`
	AggregateType string     `bson:"aggregate_type"`
	AggregateID   string     `bson:"aggregate_id"`
	EventType     string     `bson:"event_type"`
	Payload       []byte     `bson:"payload"`
	Traceparent   string     `bson:"traceparent,omitempty"`
	Tracestate    string     `bson:"tracestate,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	PublishedAt   *time.Time `bson:"published_at"`
	ClaimToken    string     `bson:"claim_token,omitempty"`
	ClaimedUntil  *time.Time `bson:"claimed_until,omitempty"`
}

func (s *Store) newOutboxDoc(evt outbox.Event) outboxDoc {
	return outboxDoc{
		ID:            evt.EventID,
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       evt.Payload,
		Traceparent:   evt.Traceparent,
		Tracestate:    evt.Tracestate,
		CreatedAt:     s.now().UTC(),
	}
}

// relayEvents copies events embedded in an appointment into the outbox and then drops them from
// the appointment. An event already in the outbox is not inserted twice.
func (s *Store) relayEvents(ctx context.Context, appointmentID string, events []outboxDoc) error {
	if len(events) == 0 {
		return nil
	}
	ids := make([]string, 0, len(events))
	for _, evt := range events {
		if _, err := s.outbox.InsertOne(ctx, evt); err != nil && !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		ids = append(ids, evt.ID)
	}
	if _, err := s.appointments.UpdateOne(ctx, bson.M{"_id": appointmentID},
		bson.M{"$pull": bson.M{"pending_events": bson.M{"_id": bson.M{"$in": ids}}}}); err != nil {
		return fmt.Errorf("clear relayed events: %w", err)
	}
	return nil
}

// PublishBatch leases up to limit unpublished events to this caller, hands them to fn and marks
// them published when fn succeeds. A lease that is never settled expires after the claim TTL.
// Events still embedded in appointments are relayed first.
func (s *Store) PublishBatch(ctx context.Context, limit int, fn func(context.Context, []outbox.Record) error) (int, error) {
	if _, err := s.SettlePending(ctx, limit); err != nil {
		s.logger.Warn("settle pending appointment writes", "err", err)
	}
	now := s.now().UTC()
	claimable := bson.M{
		"published_at": nil,
		"$or": bson.A{
			bson.M{"claimed_until": bson.M{"$exists": false}},
			bson.M{"claimed_until": bson.M{"$lt": now}},
		},
	}
	cur, err := s.outbox.Find(ctx, claimable,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(int64(limit)).SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return 0, fmt.Errorf("find outbox events: %w", err)
	}
	var candidates []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &candidates); err != nil {
		return 0, fmt.Errorf("decode outbox candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	token := uuid.NewString()
	until := now.Add(s.claimTTL)
	var (
		ids     []string
		records []outbox.Record
	)
	for _, c := range candidates {
		filter := bson.M{"_id": c.ID}
		for k, v := range claimable {
			filter[k] = v
		}
		var doc outboxDoc
		err := s.outbox.FindOneAndUpdate(ctx, filter,
			bson.M{"$set": bson.M{"claim_token": token, "claimed_until": until}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("claim outbox event: %w", err)
		}
		ids = append(ids, doc.ID)
		records = append(records, outbox.Record{
			Event: outbox.Event{
				EventID:       doc.ID,
				AggregateType: doc.AggregateType,
				AggregateID:   doc.AggregateID,
				EventType:     doc.EventType,
				Payload:       doc.Payload,
				Traceparent:   doc.Traceparent,
				Tracestate:    doc.Tracestate,
			},
			CreatedAt: doc.CreatedAt,
		})
	}
	if len(records) == 0 {
		return 0, nil
	}

	owned := bson.M{"_id": bson.M{"$in": ids}, "claim_token": token}
	if err := fn(ctx, records); err != nil {
		_, _ = s.outbox.UpdateMany(ctx, owned, bson.M{"$unset": bson.M{"claim_token": "", "claimed_until": ""}})
		return 0, err
	}
	if _, err := s.outbox.UpdateMany(ctx, owned, bson.M{
		"$set":   bson.M{"published_at": s.now().UTC()},
		"$unset": bson.M{"claim_token": "", "claimed_until": ""},
	}); err != nil {
		return 0, fmt.Errorf("mark outbox events published: %w", err)
	}
	return len(records), nil
}
