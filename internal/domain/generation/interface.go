package generation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nanobanana/nanobanana-api/internal/pkg/apimart"
)

// Generator is the remote image generation API
type Generator interface {
	Submit(ctx context.Context, req apimart.GenerateRequest) (string, error)
	GetStatus(ctx context.Context, taskID string) (*apimart.Task, error)
}

// Repository is the job record store. Lookups and updates are scoped to
// the owner; an update that matches no pending row reports false.
type Repository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id, userID uuid.UUID) (*Job, error)
	GetByTaskID(ctx context.Context, userID uuid.UUID, taskID string) (*Job, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Job, error)
	CountByStatus(ctx context.Context, userID uuid.UUID) (*Stats, error)

	MarkSucceeded(ctx context.Context, id, userID uuid.UUID, urls []string) (bool, error)
	MarkFailed(ctx context.Context, id, userID uuid.UUID, message string) (bool, error)

	// ListPending returns pending jobs created before olderThan, oldest first.
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Job, error)

	// ListUnarchived returns succeeded jobs with results but no archived
	// copies that have failed fewer than maxAttempts times, least-failed first.
	ListUnarchived(ctx context.Context, limit, maxAttempts int) ([]Job, error)
	SetArchivedURLs(ctx context.Context, id, userID uuid.UUID, urls []string) error
	MarkArchiveFailed(ctx context.Context, id, userID uuid.UUID, reason string) error
}
