package generation_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nanobanana/nanobanana-api/internal/domain/credit"
	"github.com/nanobanana/nanobanana-api/internal/domain/generation"
	"github.com/nanobanana/nanobanana-api/internal/domain/notify"
	"github.com/nanobanana/nanobanana-api/internal/pkg/apimart"
)

type fakeGenerator struct {
	mu       sync.Mutex
	submitFn func(ctx context.Context, req apimart.GenerateRequest) (string, error)
	statusFn func(ctx context.Context, taskID string) (*apimart.Task, error)
	submits  []apimart.GenerateRequest
}

func (g *fakeGenerator) Submit(ctx context.Context, req apimart.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.submits = append(g.submits, req)
	g.mu.Unlock()
	if g.submitFn == nil {
		return "task-1", nil
	}
	return g.submitFn(ctx, req)
}

func (g *fakeGenerator) GetStatus(ctx context.Context, taskID string) (*apimart.Task, error) {
	if g.statusFn == nil {
		return &apimart.Task{TaskID: taskID, Status: "processing"}, nil
	}
	return g.statusFn(ctx, taskID)
}

// fakeJobs is an in-memory job store with the same owner scoping and
// pending-only updates as the postgres one.
type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*generation.Job
	createErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[uuid.UUID]*generation.Job)}
}

func (f *fakeJobs) Create(_ context.Context, job *generation.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeJobs) GetByID(_ context.Context, id, userID uuid.UUID) (*generation.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.UserID != userID {
		return nil, generation.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobs) GetByTaskID(_ context.Context, userID uuid.UUID, taskID string) (*generation.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.UserID == userID && job.RemoteTaskID == taskID {
			copied := *job
			return &copied, nil
		}
	}
	return nil, generation.ErrJobNotFound
}

func (f *fakeJobs) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]generation.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []generation.Job
	for _, job := range f.jobs {
		if job.UserID == userID {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []generation.Job{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeJobs) CountByStatus(_ context.Context, userID uuid.UUID) (*generation.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &generation.Stats{}
	for _, job := range f.jobs {
		if job.UserID != userID {
			continue
		}
		stats.Total++
		switch job.Status {
		case generation.JobSucceeded:
			stats.Succeeded++
		case generation.JobFailed:
			stats.Failed++
		case generation.JobPending:
			stats.Pending++
		}
	}
	return stats, nil
}

func (f *fakeJobs) MarkSucceeded(_ context.Context, id, userID uuid.UUID, urls []string) (bool, error) {
	return f.settle(id, userID, func(job *generation.Job) {
		job.Status = generation.JobSucceeded
		job.ResultURLs = pq.StringArray(urls)
	})
}

func (f *fakeJobs) MarkFailed(_ context.Context, id, userID uuid.UUID, message string) (bool, error) {
	return f.settle(id, userID, func(job *generation.Job) {
		job.Status = generation.JobFailed
		job.ErrorMessage = &message
	})
}

func (f *fakeJobs) settle(id, userID uuid.UUID, apply func(job *generation.Job)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.UserID != userID || job.Status != generation.JobPending {
		return false, nil
	}
	apply(job)
	now := time.Now()
	job.CompletedAt = &now
	return true, nil
}

func (f *fakeJobs) ListPending(_ context.Context, olderThan time.Time, limit int) ([]generation.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []generation.Job
	for _, job := range f.jobs {
		if job.Status == generation.JobPending && job.CreatedAt.Before(olderThan) {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeJobs) ListUnarchived(_ context.Context, limit, maxAttempts int) ([]generation.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []generation.Job
	for _, job := range f.jobs {
		if job.Status == generation.JobSucceeded && len(job.ResultURLs) > 0 && len(job.ArchivedURLs) == 0 &&
			job.ArchiveAttempts < maxAttempts {
			out = append(out, *job)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeJobs) SetArchivedURLs(_ context.Context, id, userID uuid.UUID, urls []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.UserID != userID {
		return nil
	}
	job.ArchivedURLs = pq.StringArray(urls)
	return nil
}

func (f *fakeJobs) MarkArchiveFailed(_ context.Context, id, userID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.UserID != userID {
		return nil
	}
	job.ArchiveAttempts++
	job.ArchiveLastError = &reason
	return nil
}

func (f *fakeJobs) only(t *testing.T) generation.Job {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) != 1 {
		t.Fatalf("expected exactly one job, got %d", len(f.jobs))
	}
	for _, job := range f.jobs {
		return *job
	}
	return generation.Job{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.JobEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event notify.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []notify.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// flakyRefunds fails every Refund with err while it is set. The other
// ledger operations go straight to the wrapped service.
type flakyRefunds struct {
	credit.Service
	mu      sync.Mutex
	err     error
	refunds int
}

func (c *flakyRefunds) Refund(ctx context.Context, transactionID uuid.UUID) (*credit.RefundResult, error) {
	c.mu.Lock()
	err := c.err
	c.refunds++
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.Service.Refund(ctx, transactionID)
}

func (c *flakyRefunds) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *flakyRefunds) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refunds
}

type fixture struct {
	svc       *generation.Service
	credits   credit.Service
	refunds   *flakyRefunds
	store     *credit.MemoryStore
	jobs      *fakeJobs
	generator *fakeGenerator
	events    *recordingPublisher
}

func newFixture() *fixture {
	return newFixtureWith(generation.Config{})
}

func newFixtureWith(cfg generation.Config) *fixture {
	if cfg.RefundTimeout == 0 {
		cfg.RefundTimeout = time.Second
	}
	store := credit.NewMemoryStore()
	refunds := &flakyRefunds{Service: credit.NewService(store)}
	f := &fixture{
		credits:   refunds,
		refunds:   refunds,
		store:     store,
		jobs:      newFakeJobs(),
		generator: &fakeGenerator{},
		events:    &recordingPublisher{},
	}
	f.svc = generation.NewService(cfg, f.credits, f.jobs, f.generator, f.events)
	return f
}

func (f *fixture) seedUser(t *testing.T, balance int64) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	if _, err := f.credits.Add(context.Background(), userID, balance, credit.TxTypeRecharge, credit.Entry{Description: "seed"}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return userID
}

func (f *fixture) balance(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	account, err := f.credits.GetAccount(context.Background(), userID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.Balance
}

func (f *fixture) requireLedgerInvariant(t *testing.T) {
	t.Helper()
	for _, a := range f.store.Accounts() {
		if a.Balance < 0 || a.Balance != a.TotalRecharged-a.TotalConsumed {
			t.Fatalf("ledger invariant broken: %+v", a)
		}
	}
}

func requireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

var errBoom = errors.New("boom")
