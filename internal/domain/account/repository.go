package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// WorkspaceRepository stores user_projects rows
type WorkspaceRepository struct {
	db *sqlx.DB
}

func NewWorkspaceRepository(db *sqlx.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

// CreateDefault inserts the user's default workspace. A user that already
// has one keeps it and created is false.
func (r *WorkspaceRepository) CreateDefault(ctx context.Context, userID uuid.UUID, name string) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		INSERT INTO user_projects (id, user_id, name, is_default)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (user_id) WHERE is_default DO NOTHING
	`, uuid.New(), userID, name)
	if err != nil {
		return false, fmt.Errorf("%w: create default workspace: %v", ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected", ErrInternal)
	}
	return rows == 1, nil
}

// ListByUser returns the user's workspaces, default first
func (r *WorkspaceRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Workspace, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var items []Workspace
	err := r.db.SelectContext(ctx2, &items, `
		SELECT id, user_id, name, is_default, created_at
		FROM user_projects
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list workspaces: %v", ErrInternal, err)
	}
	return items, nil
}
