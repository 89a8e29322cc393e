package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel is the redis pub/sub channel carrying job events
const Channel = "generation:events"

// EventType of a job event
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
)

// JobEvent is pushed to the job owner when a job is created or settles.
type JobEvent struct {
	Type            EventType `json:"type"`
	UserID          uuid.UUID `json:"user_id"`
	JobID           uuid.UUID `json:"job_id"`
	TaskID          string    `json:"task_id"`
	Status          string    `json:"status"`
	URLs            []string  `json:"urls,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreditsRefunded int64     `json:"credits_refunded,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Publisher delivers job events. Implementations are best-effort.
type Publisher interface {
	Publish(ctx context.Context, event JobEvent) error
}

// DecodeEvent parses a payload received on Channel.
func DecodeEvent(payload string) (JobEvent, error) {
	var event JobEvent
	err := json.Unmarshal([]byte(payload), &event)
	return event, err
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, JobEvent) error { return nil }
