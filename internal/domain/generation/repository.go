package generation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

const jobColumns = `id, user_id, project_id, prompt, config, cost, remote_task_id, transaction_id,
	status, error_message, result_urls, archived_urls, completed_at, created_at,
	archive_attempts, archive_last_error, archive_failed_at`

// JobRepository is the PostgreSQL job store
type JobRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *Job) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if job.ResultURLs == nil {
		job.ResultURLs = pq.StringArray{}
	}
	if job.ArchivedURLs == nil {
		job.ArchivedURLs = pq.StringArray{}
	}

	err := r.db.QueryRowxContext(ctx2, `
		INSERT INTO generation_jobs (
			id, user_id, project_id, prompt, config, cost, remote_task_id, transaction_id,
			status, result_urls, archived_urls
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, job.ID, job.UserID, job.ProjectID, job.Prompt, job.Config, job.Cost, job.RemoteTaskID,
		job.TransactionID, job.Status, job.ResultURLs, job.ArchivedURLs).Scan(&job.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert job: %v", ErrInternal, err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*Job, error) {
	return r.getOne(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1 AND user_id = $2`, id, userID)
}

func (r *JobRepository) GetByTaskID(ctx context.Context, userID uuid.UUID, taskID string) (*Job, error) {
	return r.getOne(ctx, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE user_id = $1 AND remote_task_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, taskID)
}

func (r *JobRepository) getOne(ctx context.Context, query string, args ...interface{}) (*Job, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var job Job
	if err := r.db.GetContext(ctx2, &job, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: get job: %v", ErrInternal, err)
	}
	return &job, nil
}

func (r *JobRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Job, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	jobs := make([]Job, 0, limit)
	err := r.db.SelectContext(ctx2, &jobs, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", ErrInternal, err)
	}
	return jobs, nil
}

func (r *JobRepository) CountByStatus(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows []struct {
		Status JobStatus `db:"status"`
		Count  int       `db:"count"`
	}
	err := r.db.SelectContext(ctx2, &rows, `
		SELECT status, COUNT(*) AS count
		FROM generation_jobs
		WHERE user_id = $1
		GROUP BY status
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: count jobs: %v", ErrInternal, err)
	}

	stats := &Stats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case JobSucceeded:
			stats.Succeeded = row.Count
		case JobFailed:
			stats.Failed = row.Count
		case JobPending:
			stats.Pending = row.Count
		}
	}
	return stats, nil
}

func (r *JobRepository) MarkSucceeded(ctx context.Context, id, userID uuid.UUID, urls []string) (bool, error) {
	if urls == nil {
		urls = []string{}
	}
	return r.settle(ctx, `
		UPDATE generation_jobs
		SET status = $3, result_urls = $4, completed_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'pending'
	`, id, userID, JobSucceeded, pq.StringArray(urls))
}

func (r *JobRepository) MarkFailed(ctx context.Context, id, userID uuid.UUID, message string) (bool, error) {
	return r.settle(ctx, `
		UPDATE generation_jobs
		SET status = $3, error_message = $4, completed_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'pending'
	`, id, userID, JobFailed, message)
}

func (r *JobRepository) settle(ctx context.Context, query string, args ...interface{}) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, query, args...)
	if err != nil {
		return false, fmt.Errorf("%w: update job: %v", ErrInternal, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected", ErrInternal)
	}
	return rows == 1, nil
}

func (r *JobRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]Job, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	jobs := make([]Job, 0, limit)
	err := r.db.SelectContext(ctx2, &jobs, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending jobs: %v", ErrInternal, err)
	}
	return jobs, nil
}

func (r *JobRepository) ListUnarchived(ctx context.Context, limit, maxAttempts int) ([]Job, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	jobs := make([]Job, 0, limit)
	err := r.db.SelectContext(ctx2, &jobs, `
		SELECT `+jobColumns+`
		FROM generation_jobs
		WHERE status = 'succeeded'
		  AND cardinality(result_urls) > 0
		  AND cardinality(archived_urls) = 0
		  AND archive_attempts < $2
		ORDER BY archive_attempts ASC, completed_at ASC
		LIMIT $1
	`, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("%w: list unarchived jobs: %v", ErrInternal, err)
	}
	return jobs, nil
}

func (r *JobRepository) SetArchivedURLs(ctx context.Context, id, userID uuid.UUID, urls []string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE generation_jobs
		SET archived_urls = $3
		WHERE id = $1 AND user_id = $2
	`, id, userID, pq.StringArray(urls))
	if err != nil {
		return fmt.Errorf("%w: set archived urls: %v", ErrInternal, err)
	}
	return nil
}

func (r *JobRepository) MarkArchiveFailed(ctx context.Context, id, userID uuid.UUID, reason string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE generation_jobs
		SET archive_attempts = archive_attempts + 1,
		    archive_last_error = $3,
		    archive_failed_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, id, userID, reason)
	if err != nil {
		return fmt.Errorf("%w: mark archive failed: %v", ErrInternal, err)
	}
	return nil
}
