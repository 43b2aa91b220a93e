package webhook

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresEventStore persists processed webhook events. The unique
// constraint on event_id is what makes Insert a cross-process
// idempotency gate.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a Postgres-backed event store.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) Insert(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, received_at)
		VALUES ($1, $2, $3)`,
		rec.EventID, rec.Type, rec.ReceivedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

func (s *PostgresEventStore) Delete(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE event_id = $1`, eventID)
	return err
}

var _ EventStore = (*PostgresEventStore)(nil)
