package generation

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JobStatus is the persisted state of a job
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// TaskStatus is what Reconcile reports to the caller
type TaskStatus string

const (
	TaskSucceeded  TaskStatus = "succeeded"
	TaskFailed     TaskStatus = "failed"
	TaskProcessing TaskStatus = "processing"
)

// JobConfig is what was requested from the generator
type JobConfig struct {
	Resolution string `json:"resolution"`
	Count      int    `json:"n"`
	Size       string `json:"size,omitempty"`
}

// Value implements driver.Valuer for jsonb
func (c JobConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for jsonb
func (c *JobConfig) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = JobConfig{}
		return nil
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	}
	return errors.New("generation: unsupported config type")
}

// Job is one submitted generation. It leaves JobPending exactly once.
type Job struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	UserID        uuid.UUID      `db:"user_id" json:"user_id"`
	ProjectID     *uuid.UUID     `db:"project_id" json:"project_id,omitempty"`
	Prompt        string         `db:"prompt" json:"prompt"`
	Config        JobConfig      `db:"config" json:"config"`
	Cost          int64          `db:"cost" json:"cost"`
	RemoteTaskID  string         `db:"remote_task_id" json:"task_id"`
	TransactionID uuid.UUID      `db:"transaction_id" json:"transaction_id"`
	Status        JobStatus      `db:"status" json:"status"`
	ErrorMessage  *string        `db:"error_message" json:"error,omitempty"`
	ResultURLs    pq.StringArray `db:"result_urls" json:"result_urls"`
	ArchivedURLs  pq.StringArray `db:"archived_urls" json:"archived_urls,omitempty"`
	CompletedAt   *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`

	// Archive bookkeeping, never shown to clients.
	ArchiveAttempts  int        `db:"archive_attempts" json:"-"`
	ArchiveLastError *string    `db:"archive_last_error" json:"-"`
	ArchiveFailedAt  *time.Time `db:"archive_failed_at" json:"-"`
}

// IsTerminal reports whether the job has settled
func (j *Job) IsTerminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// Stats counts a user's jobs by status
type Stats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// CostTable is the per-image price in credits by resolution
type CostTable map[string]int64

// DefaultCostTable prices 1K and 2K at 5 credits and 4K at 10.
func DefaultCostTable() CostTable {
	return CostTable{"1K": 5, "2K": 5, "4K": 10}
}

// PerImage returns the price of one image at resolution.
func (t CostTable) PerImage(resolution string) (int64, bool) {
	cost, ok := t[resolution]
	return cost, ok && cost > 0
}

// Resolutions lists the priced resolutions in order.
func (t CostTable) Resolutions() []string {
	out := make([]string, 0, len(t))
	for r, cost := range t {
		if cost > 0 {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}
