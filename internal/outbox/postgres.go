package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists outbox rows in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed outbox store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertQuery = `
    INSERT INTO outbox (id, topic, payload, created_at, attempts)
    VALUES ($1, $2, $3, $4, 0)`

// Insert writes a standalone outbox row outside any caller transaction.
func (s *PostgresStore) Insert(ctx context.Context, evt Event) error {
	_, err := s.db.Exec(ctx, insertQuery, evt.ID, evt.Topic, evt.Payload, evt.CreatedAt)
	return err
}

// InsertTx writes the row inside the caller's transaction so it commits
// atomically with the domain change it describes.
func InsertTx(ctx context.Context, tx pgx.Tx, evt Event) error {
	_, err := tx.Exec(ctx, insertQuery, evt.ID, evt.Topic, evt.Payload, evt.CreatedAt)
	return err
}

// Unpublished returns pending rows ordered by topic then insertion order.
func (s *PostgresStore) Unpublished(ctx context.Context, limit int) ([]Event, error) {
	const query = `
        SELECT id, topic, payload, created_at, attempts, last_error
        FROM outbox WHERE published_at IS NULL
        ORDER BY topic, created_at, id
        LIMIT $1`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var lastError *string
		if err := rows.Scan(&evt.ID, &evt.Topic, &evt.Payload, &evt.CreatedAt, &evt.Attempts, &lastError); err != nil {
			return nil, err
		}
		if lastError != nil {
			evt.LastError = *lastError
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// MarkPublished stamps the delivery time on a row.
func (s *PostgresStore) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE outbox SET published_at = $2 WHERE id = $1`, id, at)
	return err
}

// MarkFailed records a delivery attempt; the row stays pending.
func (s *PostgresStore) MarkFailed(ctx context.Context, id string, lastError string) error {
	_, err := s.db.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, lastError)
	return err
}

var _ Store = (*PostgresStore)(nil)
