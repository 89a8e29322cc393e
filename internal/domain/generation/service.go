package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nanobanana/nanobanana-api/internal/domain/credit"
	"github.com/nanobanana/nanobanana-api/internal/domain/notify"
	"github.com/nanobanana/nanobanana-api/internal/pkg/logger"
)

const (
	defaultMaxCount      = 4
	defaultRefundTimeout = 5 * time.Second
	defaultListLimit     = 20
	maxListLimit         = 100
)

// Config holds the generation pricing and limits
type Config struct {
	Costs    CostTable
	MaxCount int

	// RefundTimeout bounds a compensating refund. It runs detached from
	// the request context so a cancelled client still gets its refund.
	RefundTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Costs) == 0 {
		c.Costs = DefaultCostTable()
	}
	if c.MaxCount <= 0 {
		c.MaxCount = defaultMaxCount
	}
	if c.RefundTimeout <= 0 {
		c.RefundTimeout = defaultRefundTimeout
	}
	return c
}

// Service submits and reconciles generation jobs against the credit ledger.
type Service struct {
	cfg       Config
	credits   credit.Service
	jobs      Repository
	generator Generator
	events    notify.Publisher
}

// NewService wires the job submitter and reconciler. events may be nil.
func NewService(cfg Config, credits credit.Service, jobs Repository, generator Generator, events notify.Publisher) *Service {
	if events == nil {
		events = notify.Nop{}
	}
	return &Service{
		cfg:       cfg.withDefaults(),
		credits:   credits,
		jobs:      jobs,
		generator: generator,
		events:    events,
	}
}

// CostFor returns the price of count images at resolution.
func (s *Service) CostFor(resolution string, count int) (int64, error) {
	perImage, ok := s.cfg.Costs.PerImage(resolution)
	if !ok {
		return 0, invalid("resolution", "unsupported resolution")
	}
	if count < 1 || count > s.cfg.MaxCount {
		return 0, invalid("count", fmt.Sprintf("must be between 1 and %d", s.cfg.MaxCount))
	}
	return perImage * int64(count), nil
}

// GetJob returns a job owned by userID
func (s *Service) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*Job, error) {
	return s.jobs.GetByID(ctx, jobID, userID)
}

// ListJobs returns the caller's most recent jobs
func (s *Service) ListJobs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Job, error) {
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit < 1 || limit > maxListLimit {
		return nil, invalid("limit", "must be between 1 and 100")
	}
	if offset < 0 {
		offset = 0
	}
	return s.jobs.ListByUser(ctx, userID, limit, offset)
}

// publish sends a job event; failures are logged only.
func (s *Service) publish(ctx context.Context, event notify.JobEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := s.events.Publish(ctx, event); err != nil {
		logger.LogWarn(ctx, "Failed to publish job event",
			"error", err.Error(),
			"job_id", event.JobID.String(),
			"event_type", string(event.Type),
		)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
