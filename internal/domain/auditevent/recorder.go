package auditevent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/moazmaksod/LabFlow-sub000/internal/platform/auth"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/db"
	"github.com/moazmaksod/LabFlow-sub000/internal/platform/middleware"
)

const mirrorTimeout = 5 * time.Second

// Recorder appends audit events to the repository and, once the surrounding
// transaction commits, mirrors them to the optional publisher.
type Recorder struct {
	repo   Repository
	mirror Publisher
	log    zerolog.Logger
	now    func() time.Time
}

func NewRecorder(repo Repository, log zerolog.Logger) *Recorder {
	return &Recorder{
		repo: repo,
		log:  log.With().Str("component", "audit").Logger(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetMirror enables publishing of committed events.
func (r *Recorder) SetMirror(p Publisher) {
	r.mirror = p
}

// Append writes one audit event. A repository failure is returned so the
// caller's transaction rolls back. Mirror failures are logged only.
func (r *Recorder) Append(ctx context.Context, action, actor, entityRef string, details map[string]interface{}) error {
	e := &AuditEvent{
		ID:        uuid.New(),
		Action:    action,
		Actor:     actor,
		EntityRef: entityRef,
		Details:   details,
		RequestID: middleware.RequestIDFromContext(ctx),
		Timestamp: r.now(),
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok && p.ID == actor {
		e.ActorRole = string(p.Role)
	}
	if err := r.repo.Append(ctx, e); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	if r.mirror != nil {
		db.AfterCommit(ctx, func() {
			mctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()
			if err := r.mirror.Publish(mctx, e); err != nil {
				r.log.Error().Err(err).
					Str("action", e.Action).
					Str("entity_ref", e.EntityRef).
					Msg("audit mirror publish failed")
			}
		})
	}
	return nil
}
