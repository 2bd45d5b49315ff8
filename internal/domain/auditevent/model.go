package auditevent

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent is one append-only entry in the audit trail. Rows are never
// updated or deleted.
type AuditEvent struct {
	ID        uuid.UUID              `db:"id" json:"id"`
	Action    string                 `db:"action" json:"action"`
	Actor     string                 `db:"actor" json:"actor"`
	ActorRole string                 `db:"actor_role" json:"actor_role,omitempty"`
	EntityRef string                 `db:"entity_ref" json:"entity_ref"`
	Details   map[string]interface{} `db:"details" json:"details,omitempty"`
	RequestID string                 `db:"request_id" json:"request_id,omitempty"`
	Timestamp time.Time              `db:"recorded_at" json:"timestamp"`
}
