package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/dentbook/libs/otel"
)

// Event types published by the booking service. The Kafka topic name equals the event type.
const (
	EventAppointmentBooked        = "booking.appointment.booked.v1"
	EventAppointmentCancelled     = "booking.appointment.cancelled.v1"
	EventAppointmentStatusChanged = "booking.appointment.status_changed.v1"
)

// Event is the domain event envelope written to the outbox alongside the state change.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
}

// Record is an Event read back for publishing.
type Record struct {
	Event
	CreatedAt time.Time
}

// NewEvent encodes payload as JSON and captures the trace of ctx so the publisher can continue it.
func NewEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	return Event{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		Traceparent:   traceparent,
		Tracestate:    tracestate,
	}, nil
}

// Source hands out unpublished records. PublishBatch locks up to limit records, calls fn and
// marks them published only when fn succeeds. It returns the number of records published.
type Source interface {
	PublishBatch(ctx context.Context, limit int, fn func(ctx context.Context, records []Record) error) (int, error)
}
