package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/dentbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/dentbook/libs/otel"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

// Publisher drains the outbox to Kafka on a fixed interval.
type Publisher struct {
	source    Source
	writer    Writer
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

// NewKafkaWriter returns a writer keyed by aggregate id so events of one appointment stay ordered.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
}

func NewPublisher(source Source, writer Writer, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		source:    source,
		writer:    writer,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run publishes until ctx is cancelled, then closes the writer. A nil writer disables publishing.
func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("kafka writer close failed", "err", err)
		}
	}()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := p.PublishOnce(ctx)
				if err != nil {
					if ctx.Err() == nil {
						p.logger.Error("outbox publish failed", "err", err)
					}
					break
				}
				// A full batch likely means more are waiting.
				if n < p.batchSize {
					break
				}
			}
		}
	}
}

// PublishOnce publishes at most one batch and reports how many events were sent.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	return p.source.PublishBatch(ctx, p.batchSize, func(ctx context.Context, records []Record) error {
		msgs := make([]kafka.Message, 0, len(records))
		for _, r := range records {
			msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
			msgs = append(msgs, kafka.Message{
				Topic:   r.EventType,
				Key:     []byte(r.AggregateID),
				Value:   r.Payload,
				Headers: kafkax.InjectTraceHeaders(msgCtx, kafkax.EventHeaders(r.EventID, r.EventType)),
			})
		}
		return p.writer.WriteMessages(ctx, msgs...)
	})
}
