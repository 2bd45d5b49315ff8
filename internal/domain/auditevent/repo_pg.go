package auditevent

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moazmaksod/LabFlow-sub000/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// Append joins the caller's transaction when one is open so the audit row
// commits or rolls back with the mutation it describes.
func (r *repoPG) Append(ctx context.Context, e *AuditEvent) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_events (id, action, actor, actor_role, entity_ref, details, request_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Action, e.Actor, e.ActorRole, e.EntityRef, e.Details, e.RequestID, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit event %s: %w", e.Action, err)
	}
	return nil
}

func (r *repoPG) ListByEntity(ctx context.Context, entityRef string, limit, offset int) ([]*AuditEvent, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM audit_events WHERE entity_ref = $1`, entityRef).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `
		SELECT id, action, actor, actor_role, entity_ref, details, request_id, recorded_at
		FROM audit_events WHERE entity_ref = $1
		ORDER BY recorded_at, id LIMIT $2 OFFSET $3`, entityRef, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.ActorRole, &e.EntityRef, &e.Details, &e.RequestID, &e.Timestamp); err != nil {
			return nil, 0, err
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}
