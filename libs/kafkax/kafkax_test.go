package kafkax

import (
	"context"
	"reflect"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092,")
	want := []string{"kafka-1:9092", "kafka-2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitBrokers = %v, want %v", got, want)
	}
	if SplitBrokers("") != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestInjectTraceHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	headers := InjectTraceHeaders(ctx, EventHeaders("evt-1", "booking.appointment.booked.v1"))
	if HeaderValue(headers, HeaderEventID) != "evt-1" {
		t.Fatalf("event id header lost: %v", headers)
	}
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("expected traceparent header, got %v", headers)
	}
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected error without brokers")
	}
}
