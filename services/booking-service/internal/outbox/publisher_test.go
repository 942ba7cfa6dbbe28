package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/dentbook/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type memSource struct {
	mu        sync.Mutex
	pending   []Record
	published []Record
}

func (m *memSource) PublishBatch(ctx context.Context, limit int, fn func(context.Context, []Record) error) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := min(limit, len(m.pending))
	if n == 0 {
		return 0, nil
	}
	batch := append([]Record(nil), m.pending[:n]...)
	if err := fn(ctx, batch); err != nil {
		return 0, err
	}
	m.published = append(m.published, batch...)
	m.pending = m.pending[n:]
	return n, nil
}

type memWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   error
	closed bool
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func pendingRecords(t *testing.T, n int) []Record {
	t.Helper()
	var out []Record
	for i := 0; i < n; i++ {
		evt, err := NewEvent(context.Background(), "appointment", "appt-1", EventAppointmentBooked, map[string]any{"n": i})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		out = append(out, Record{Event: evt})
	}
	return out
}

func TestPublishOnce(t *testing.T) {
	src := &memSource{pending: pendingRecords(t, 3)}
	w := &memWriter{}
	p := NewPublisher(src, w, discardLogger(), PublisherConfig{BatchSize: 2})

	n, err := p.PublishOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("PublishOnce = %d, %v", n, err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != EventAppointmentBooked || string(msg.Key) != "appt-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID) != src.published[0].EventID {
		t.Fatalf("event id header mismatch: %v", msg.Headers)
	}
}

func TestPublishOnceKeepsRecordsOnWriteFailure(t *testing.T) {
	src := &memSource{pending: pendingRecords(t, 1)}
	w := &memWriter{fail: errors.New("broker down")}
	p := NewPublisher(src, w, discardLogger(), PublisherConfig{})

	if _, err := p.PublishOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(src.pending) != 1 || len(src.published) != 0 {
		t.Fatalf("record must stay pending, pending=%d published=%d", len(src.pending), len(src.published))
	}
}

func TestRunDrainsAndCloses(t *testing.T) {
	src := &memSource{pending: pendingRecords(t, 5)}
	w := &memWriter{}
	p := NewPublisher(src, w, discardLogger(), PublisherConfig{PollEvery: 10 * time.Millisecond, BatchSize: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		src.mu.Lock()
		left := len(src.pending)
		src.mu.Unlock()
		if left == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("outbox not drained, %d left", left)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.msgs) != 5 || !w.closed {
		t.Fatalf("expected 5 messages and a closed writer, got %d closed=%v", len(w.msgs), w.closed)
	}
}
