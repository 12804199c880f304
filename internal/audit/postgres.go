package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore appends audit rows to PostgreSQL. No update or delete paths
// exist on purpose.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed audit store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertQuery = `
    INSERT INTO audit (id, actor, action, entity_type, entity_id, detail, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Insert appends one entry.
func (s *PostgresStore) Insert(ctx context.Context, e Entry) error {
	_, err := s.db.Exec(ctx, insertQuery, e.ID, e.Actor, e.Action, e.EntityType, e.EntityID, e.Detail, e.CreatedAt)
	return err
}

// InsertTx appends one entry inside the caller's transaction.
func InsertTx(ctx context.Context, tx pgx.Tx, e Entry) error {
	_, err := tx.Exec(ctx, insertQuery, e.ID, e.Actor, e.Action, e.EntityType, e.EntityID, e.Detail, e.CreatedAt)
	return err
}

// ByEntity lists the trail for one entity in append order.
func (s *PostgresStore) ByEntity(ctx context.Context, entityType, entityID string) ([]Entry, error) {
	const query = `
        SELECT id, actor, action, entity_type, entity_id, detail, created_at
        FROM audit WHERE entity_type = $1 AND entity_id = $2
        ORDER BY created_at, id`
	rows, err := s.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
