package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nanobanana/nanobanana-api/internal/domain/credit"
	"github.com/nanobanana/nanobanana-api/internal/domain/notify"
	"github.com/nanobanana/nanobanana-api/internal/pkg/apimart"
	"github.com/nanobanana/nanobanana-api/internal/pkg/logger"
)

// SubmitRequest is one generation job request
type SubmitRequest struct {
	UserID     uuid.UUID
	Prompt     string
	Resolution string
	Count      int
	Size       string
	ProjectID  *uuid.UUID
}

// SubmitResult is returned once the remote task exists. JobID is nil
// when the job record could not be written.
type SubmitResult struct {
	TaskID        string
	JobID         *uuid.UUID
	TransactionID uuid.UUID
	NewBalance    int64
	Cost          int64
}

// Submit charges the user, starts the remote task and records the job.
// Any failure after the charge is compensated by refunding it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, invalid("prompt", "must be a non-empty string")
	}
	cost, err := s.CostFor(req.Resolution, req.Count)
	if err != nil {
		return nil, err
	}

	metadata := credit.Metadata{
		"resolution": req.Resolution,
		"count":      req.Count,
		"size":       req.Size,
	}
	if req.ProjectID != nil {
		metadata["project_id"] = req.ProjectID.String()
	}

	charge, err := s.credits.Deduct(ctx, req.UserID, cost, credit.Entry{
		Description: fmt.Sprintf("generate %s image x %d", req.Resolution, req.Count),
		Metadata:    metadata,
	})
	if err != nil {
		if errors.Is(err, credit.ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: deduct credits: %v", ErrInternal, err)
	}

	// From here on every exit that is not a success refunds the charge.
	comp := &compensation{
		credits:       s.credits,
		transactionID: charge.TransactionID,
		userID:        req.UserID,
		timeout:       s.cfg.RefundTimeout,
	}
	defer comp.abort(ctx)

	taskID, err := s.generator.Submit(ctx, apimart.GenerateRequest{
		Prompt:     prompt,
		Size:       req.Size,
		Resolution: req.Resolution,
		Count:      req.Count,
	})
	if err != nil {
		upstream := &UpstreamError{Kind: classifyUpstream(err), Err: err}
		if refund := comp.run(ctx, err); refund != nil {
			upstream.CreditsRefunded = refund.Amount
			upstream.NewBalance = &refund.NewBalance
		}
		return nil, upstream
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		upstream := &UpstreamError{Kind: ErrUpstreamRejected, Err: apimart.ErrMissingTaskID}
		if refund := comp.run(ctx, upstream.Err); refund != nil {
			upstream.CreditsRefunded = refund.Amount
			upstream.NewBalance = &refund.NewBalance
		}
		return nil, upstream
	}
	comp.release()

	result := &SubmitResult{
		TaskID:        taskID,
		TransactionID: charge.TransactionID,
		NewBalance:    charge.NewBalance,
		Cost:          cost,
	}

	// The paid task exists upstream; a failed insert is logged, not refunded.
	job := &Job{
		ID:            uuid.New(),
		UserID:        req.UserID,
		ProjectID:     req.ProjectID,
		Prompt:        prompt,
		Config:        JobConfig{Resolution: req.Resolution, Count: req.Count, Size: req.Size},
		Cost:          cost,
		RemoteTaskID:  taskID,
		TransactionID: charge.TransactionID,
		Status:        JobPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		logger.LogError(ctx, err, "Failed to record generation job",
			"user_id", req.UserID.String(),
			"task_id", taskID,
			"transaction_id", charge.TransactionID.String(),
		)
		return result, nil
	}
	result.JobID = &job.ID

	s.publish(ctx, notify.JobEvent{
		Type:   notify.EventSubmitted,
		UserID: req.UserID,
		JobID:  job.ID,
		TaskID: taskID,
		Status: string(JobPending),
	})

	logger.LogInfo(ctx, "Generation submitted",
		"user_id", req.UserID.String(),
		"job_id", job.ID.String(),
		"task_id", taskID,
		"cost", cost,
	)
	return result, nil
}

func classifyUpstream(err error) error {
	switch {
	case errors.Is(err, apimart.ErrRejected):
		return ErrUpstreamRejected
	default:
		return ErrUpstreamUnavailable
	}
}

// compensation refunds one charge at most once.
type compensation struct {
	credits       credit.Service
	transactionID uuid.UUID
	userID        uuid.UUID
	timeout       time.Duration
	done          bool
}

// run issues the refund. It returns nil if the refund did not apply.
func (c *compensation) run(ctx context.Context, cause error) *credit.RefundResult {
	if c.done {
		return nil
	}
	c.done = true

	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	result, err := c.credits.Refund(refundCtx, c.transactionID)
	if err != nil {
		logger.LogError(ctx, err, "Compensating refund failed, charge left unrefunded",
			"user_id", c.userID.String(),
			"transaction_id", c.transactionID.String(),
			"cause", errString(cause),
		)
		return nil
	}
	if !result.Refunded {
		logger.LogWarn(ctx, "Compensating refund was a no-op",
			"user_id", c.userID.String(),
			"transaction_id", c.transactionID.String(),
		)
		return nil
	}

	logger.LogInfo(ctx, "Charge compensated",
		"user_id", c.userID.String(),
		"transaction_id", c.transactionID.String(),
		"amount", result.Amount,
		"cause", errString(cause),
	)
	return result
}

// release marks the charge as kept.
func (c *compensation) release() {
	c.done = true
}

// abort refunds if neither run nor release happened, including on panic.
func (c *compensation) abort(ctx context.Context) {
	if c.done {
		return
	}
	if r := recover(); r != nil {
		c.run(ctx, fmt.Errorf("panic: %v", r))
		panic(r)
	}
	c.run(ctx, errors.New("submit aborted"))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
