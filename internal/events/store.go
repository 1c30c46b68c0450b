package events

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// RowQuerier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const insertEventSQL = `
INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, topic, aggregate_id, payload, occurred_at`

// PGStore records events in the domain_events table.
type PGStore struct {
	DB RowQuerier
}

// InsertEvent implements EventStore.
func (s PGStore) InsertEvent(ctx context.Context, event Event) (Event, error) {
	var out Event
	var payload []byte
	err := s.DB.QueryRow(ctx, insertEventSQL,
		event.ID, event.Topic, event.AggregateID, []byte(event.Payload), event.OccurredAt,
	).Scan(&out.ID, &out.Topic, &out.AggregateID, &payload, &out.OccurredAt)
	if err != nil {
		return Event{}, err
	}
	out.Payload = payload
	return out, nil
}
