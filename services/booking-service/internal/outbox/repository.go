package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/dentbook/libs/db"
)

// Repository is the PostgreSQL outbox.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes evt inside the caller's transaction.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.EventID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, evt.Traceparent, evt.Tracestate)
	return err
}

func (r *Repository) PublishBatch(ctx context.Context, limit int, fn func(context.Context, []Record) error) (int, error) {
	var published int
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		ids, records, err := fetchUnpublished(ctx, tx, limit)
		if err != nil || len(records) == 0 {
			return err
		}
		if err := fn(ctx, records); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events
			SET published_at = now()
			WHERE id = ANY($1)
		`, ids); err != nil {
			return err
		}
		published = len(records)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, nil
}

func fetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]int64, []Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload,
			COALESCE(traceparent, ''), COALESCE(tracestate, ''), created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		ids     []int64
		records []Record
	)
	for rows.Next() {
		var id int64
		var rcd Record
		if err := rows.Scan(&id, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType, &rcd.Payload,
			&rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		records = append(records, rcd)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return ids, records, nil
}
