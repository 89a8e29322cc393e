package generation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubmitRequestDTO is the body of POST /generations
type SubmitRequestDTO struct {
	Prompt     string `json:"prompt" validate:"required,max=4000"`
	Resolution string `json:"resolution" validate:"required,max=16"`
	Count      *int   `json:"count" validate:"omitempty,gte=1,lte=4"`
	N          *int   `json:"n" validate:"omitempty,gte=1,lte=4"`
	Size       string `json:"size" validate:"omitempty,max=32"`
	ProjectID  string `json:"project_id" validate:"omitempty,uuid"`
}

// count prefers "count", then "n", defaulting to one image.
func (d *SubmitRequestDTO) count() int {
	switch {
	case d.Count != nil:
		return *d.Count
	case d.N != nil:
		return *d.N
	}
	return 1
}

// CheckRequestDTO is the body of POST /generations/check
type CheckRequestDTO struct {
	TaskID        string `json:"task_id" validate:"required,max=255"`
	JobID         string `json:"job_id" validate:"omitempty,uuid"`
	TransactionID string `json:"transaction_id" validate:"omitempty,uuid"`
}

// SubmitResponse is returned once the remote task is accepted
type SubmitResponse struct {
	TaskID        string  `json:"task_id"`
	JobID         *string `json:"job_id"`
	TransactionID string  `json:"transaction_id"`
	NewBalance    int64   `json:"new_balance"`
	Cost          int64   `json:"cost"`
	Message       string  `json:"message"`
}

// CheckResponse is the reconciled task state
type CheckResponse struct {
	Status          string   `json:"status"`
	TaskID          string   `json:"task_id"`
	JobID           *string  `json:"job_id,omitempty"`
	URLs            []string `json:"urls,omitempty"`
	Error           string   `json:"error,omitempty"`
	CreditsRefunded bool     `json:"credits_refunded,omitempty"`
	NewBalance      *int64   `json:"new_balance,omitempty"`
	Message         string   `json:"message"`
}

// JobResponse is a job as listed to its owner
type JobResponse struct {
	ID           string    `json:"id"`
	ProjectID    *string   `json:"project_id,omitempty"`
	Prompt       string    `json:"prompt"`
	Resolution   string    `json:"resolution"`
	Count        int       `json:"count"`
	Size         string    `json:"size,omitempty"`
	Cost         int64     `json:"cost"`
	TaskID       string    `json:"task_id"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	ResultURLs   []string  `json:"result_urls"`
	ArchivedURLs []string  `json:"archived_urls,omitempty"`
	CompletedAt  string    `json:"completed_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (d *SubmitRequestDTO) toRequest(userID uuid.UUID) (SubmitRequest, error) {
	req := SubmitRequest{
		UserID:     userID,
		Prompt:     d.Prompt,
		Resolution: d.Resolution,
		Count:      d.count(),
		Size:       d.Size,
	}
	if d.ProjectID != "" {
		id, err := uuid.Parse(d.ProjectID)
		if err != nil {
			return req, invalid("project_id", "invalid UUID format")
		}
		req.ProjectID = &id
	}
	return req, nil
}

func (d *CheckRequestDTO) toRequest(userID uuid.UUID) (ReconcileRequest, error) {
	req := ReconcileRequest{UserID: userID, TaskID: d.TaskID}
	if d.JobID != "" {
		id, err := uuid.Parse(d.JobID)
		if err != nil {
			return req, invalid("job_id", "invalid UUID format")
		}
		req.JobID = &id
	}
	if d.TransactionID != "" {
		id, err := uuid.Parse(d.TransactionID)
		if err != nil {
			return req, invalid("transaction_id", "invalid UUID format")
		}
		req.TransactionID = &id
	}
	return req, nil
}

func newSubmitResponse(res *SubmitResult) *SubmitResponse {
	resp := &SubmitResponse{
		TaskID:        res.TaskID,
		TransactionID: res.TransactionID.String(),
		NewBalance:    res.NewBalance,
		Cost:          res.Cost,
		Message:       fmt.Sprintf("Deducted %d credits, current balance %d credits", res.Cost, res.NewBalance),
	}
	if res.JobID != nil {
		id := res.JobID.String()
		resp.JobID = &id
	}
	return resp
}

func newCheckResponse(res *ReconcileResult) *CheckResponse {
	resp := &CheckResponse{
		Status:          string(res.Status),
		TaskID:          res.TaskID,
		URLs:            res.URLs,
		Error:           res.Error,
		CreditsRefunded: res.CreditsRefunded,
		NewBalance:      res.NewBalance,
	}
	if res.JobID != nil {
		id := res.JobID.String()
		resp.JobID = &id
	}

	switch res.Status {
	case TaskSucceeded:
		resp.Message = "Generation succeeded"
	case TaskFailed:
		if res.CreditsRefunded && res.NewBalance != nil {
			resp.Message = fmt.Sprintf("Generation failed, %d credits refunded, current balance %d credits",
				res.RefundedAmount, *res.NewBalance)
		} else {
			resp.Message = defaultFailureMessage
		}
	default:
		resp.Message = "Generation in progress..."
	}
	return resp
}

func newJobResponse(j *Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID.String(),
		Prompt:       j.Prompt,
		Resolution:   j.Config.Resolution,
		Count:        j.Config.Count,
		Size:         j.Config.Size,
		Cost:         j.Cost,
		TaskID:       j.RemoteTaskID,
		Status:       string(j.Status),
		ResultURLs:   j.ResultURLs,
		ArchivedURLs: j.ArchivedURLs,
		CreatedAt:    j.CreatedAt,
	}
	if resp.ResultURLs == nil {
		resp.ResultURLs = []string{}
	}
	if j.ProjectID != nil {
		id := j.ProjectID.String()
		resp.ProjectID = &id
	}
	if j.ErrorMessage != nil {
		resp.Error = *j.ErrorMessage
	}
	if j.CompletedAt != nil {
		resp.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	return resp
}
