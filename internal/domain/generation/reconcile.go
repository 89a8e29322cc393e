package generation

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/nanobanana/nanobanana-api/internal/domain/credit"
	"github.com/nanobanana/nanobanana-api/internal/domain/notify"
	"github.com/nanobanana/nanobanana-api/internal/pkg/logger"
)

const defaultFailureMessage = "Generation failed"

// ReconcileRequest identifies a remote task. JobID and TransactionID are
// optional; when the job record is found its own transaction id wins.
type ReconcileRequest struct {
	UserID        uuid.UUID
	TaskID        string
	JobID         *uuid.UUID
	TransactionID *uuid.UUID
}

// ReconcileResult is the mapped task state
type ReconcileResult struct {
	Status          TaskStatus
	TaskID          string
	JobID           *uuid.UUID
	URLs            []string
	Error           string
	CreditsRefunded bool
	RefundedAmount  int64
	NewBalance      *int64
}

// Reconcile fetches the remote task status and settles the local job:
// success stores the result URLs, failure refunds the charge, anything
// else is reported as processing with no mutation. Safe to repeat.
func (s *Service) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		return nil, invalid("task_id", "is required")
	}

	job := s.lookupJob(ctx, req.UserID, taskID, req.JobID)

	task, err := s.generator.GetStatus(ctx, taskID)
	if err != nil {
		return nil, &UpstreamError{Kind: ErrUpstreamUnavailable, Err: err}
	}

	result := &ReconcileResult{TaskID: taskID}
	if job != nil {
		result.JobID = &job.ID
	}

	// Only the exact terminal strings settle a job; anything else, including
	// other casings, is still processing.
	switch task.Status {
	case string(TaskSucceeded):
		result.Status = TaskSucceeded
		result.URLs = task.ResultURLs
		if result.URLs == nil {
			result.URLs = []string{}
		}
		s.settleSucceeded(ctx, job, result)

	case string(TaskFailed):
		result.Status = TaskFailed
		result.Error = task.ErrorMessage
		if strings.TrimSpace(result.Error) == "" {
			result.Error = defaultFailureMessage
		}
		s.settleFailed(ctx, req, job, result)

	default:
		result.Status = TaskProcessing
	}

	return result, nil
}

// lookupJob resolves the job record. Lookup failures are logged and the
// reconcile continues without a record.
func (s *Service) lookupJob(ctx context.Context, userID uuid.UUID, taskID string, jobID *uuid.UUID) *Job {
	var (
		job *Job
		err error
	)
	if jobID != nil && *jobID != uuid.Nil {
		job, err = s.jobs.GetByID(ctx, *jobID, userID)
	} else {
		job, err = s.jobs.GetByTaskID(ctx, userID, taskID)
	}
	if err != nil {
		if !isNotFound(err) {
			logger.LogError(ctx, err, "Failed to load generation job", "task_id", taskID)
		}
		return nil
	}
	if job.RemoteTaskID != taskID {
		logger.LogWarn(ctx, "Job does not belong to task, ignoring job record",
			"job_id", job.ID.String(),
			"task_id", taskID,
		)
		return nil
	}
	return job
}

func (s *Service) settleSucceeded(ctx context.Context, job *Job, result *ReconcileResult) {
	if job == nil || job.IsTerminal() {
		return
	}

	updated, err := s.jobs.MarkSucceeded(ctx, job.ID, job.UserID, result.URLs)
	if err != nil {
		logger.LogError(ctx, err, "Failed to mark job succeeded",
			"job_id", job.ID.String(),
			"task_id", result.TaskID,
		)
		return
	}
	if !updated {
		return
	}

	s.publish(ctx, notify.JobEvent{
		Type:   notify.EventSucceeded,
		UserID: job.UserID,
		JobID:  job.ID,
		TaskID: result.TaskID,
		Status: string(JobSucceeded),
		URLs:   result.URLs,
	})
}

func (s *Service) settleFailed(ctx context.Context, req ReconcileRequest, job *Job, result *ReconcileResult) {
	txID := uuid.Nil
	switch {
	case job != nil:
		txID = job.TransactionID
	case req.TransactionID != nil:
		txID = *req.TransactionID
	}

	refundErr := s.refundOwnCharge(ctx, req.UserID, txID, result)

	if job == nil || job.IsTerminal() {
		return
	}
	// Leave the job pending so the next pass retries the refund.
	if refundErr != nil {
		return
	}

	updated, err := s.jobs.MarkFailed(ctx, job.ID, job.UserID, result.Error)
	if err != nil {
		logger.LogError(ctx, err, "Failed to mark job failed",
			"job_id", job.ID.String(),
			"task_id", result.TaskID,
		)
		return
	}
	if !updated {
		return
	}

	s.publish(ctx, notify.JobEvent{
		Type:            notify.EventFailed,
		UserID:          job.UserID,
		JobID:           job.ID,
		TaskID:          result.TaskID,
		Status:          string(JobFailed),
		Error:           result.Error,
		CreditsRefunded: result.RefundedAmount,
	})
}

// refundOwnCharge refunds txID if it is a charge owned by userID. The
// returned error is a store failure; a refused or repeated refund is nil.
func (s *Service) refundOwnCharge(ctx context.Context, userID, txID uuid.UUID, result *ReconcileResult) error {
	if txID == uuid.Nil {
		return nil
	}

	charge, err := s.credits.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, credit.ErrTransactionNotFound) {
			return nil
		}
		logger.LogError(ctx, err, "Failed to load charge for refund",
			"transaction_id", txID.String(),
			"task_id", result.TaskID,
		)
		return err
	}
	if charge.UserID != userID {
		logger.LogWarn(ctx, "Refusing refund of another user's charge",
			"transaction_id", txID.String(),
			"task_id", result.TaskID,
		)
		return nil
	}

	refund, err := s.credits.Refund(ctx, txID)
	if err != nil {
		logger.LogError(ctx, err, "Refund for failed task failed",
			"user_id", userID.String(),
			"transaction_id", txID.String(),
			"task_id", result.TaskID,
		)
		return err
	}
	if refund.Refunded {
		result.CreditsRefunded = true
		result.RefundedAmount = refund.Amount
		balance := refund.NewBalance
		result.NewBalance = &balance
	}
	return nil
}
