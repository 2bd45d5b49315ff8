package auditevent

import "context"

type Repository interface {
	Append(ctx context.Context, e *AuditEvent) error
	ListByEntity(ctx context.Context, entityRef string, limit, offset int) ([]*AuditEvent, int, error)
}
