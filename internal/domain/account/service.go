package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nanobanana/nanobanana-api/internal/domain/credit"
	"github.com/nanobanana/nanobanana-api/internal/domain/generation"
	"github.com/nanobanana/nanobanana-api/internal/pkg/logger"
)

const (
	defaultReportLimit   = 20
	maxReportLimit       = 100
	defaultWorkspaceName = "Default project"
)

// Config holds the signup settings
type Config struct {
	InitialBonus         int64
	DefaultWorkspaceName string
}

// Workspaces is the workspace store
type Workspaces interface {
	CreateDefault(ctx context.Context, userID uuid.UUID, name string) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Workspace, error)
}

// JobStats counts a user's generation jobs by status
type JobStats interface {
	CountByStatus(ctx context.Context, userID uuid.UUID) (*generation.Stats, error)
}

// Service initializes accounts and reports balances
type Service struct {
	cfg        Config
	credits    credit.Service
	workspaces Workspaces
	jobs       JobStats
}

func NewService(cfg Config, credits credit.Service, workspaces Workspaces, jobs JobStats) *Service {
	if cfg.DefaultWorkspaceName == "" {
		cfg.DefaultWorkspaceName = defaultWorkspaceName
	}
	return &Service{cfg: cfg, credits: credits, workspaces: workspaces, jobs: jobs}
}

// Initialize opens the caller's ledger with the signup bonus and creates
// a default workspace. Calling it again changes nothing.
func (s *Service) Initialize(ctx context.Context, userID uuid.UUID) (*InitResult, error) {
	opened, err := s.credits.Open(ctx, userID, s.cfg.InitialBonus, credit.Entry{
		Description: "signup bonus",
		Metadata:    credit.Metadata{"type": "signup_bonus"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open account: %v", ErrInternal, err)
	}

	if !opened.Created {
		return &InitResult{
			AlreadyInitialized: true,
			Balance:            opened.Account.Balance,
		}, nil
	}

	// The ledger row is what matters; a missing workspace is only logged.
	if _, err := s.workspaces.CreateDefault(ctx, userID, s.cfg.DefaultWorkspaceName); err != nil {
		logger.LogError(ctx, err, "Failed to create default workspace", "user_id", userID.String())
	}

	txID := opened.TransactionID
	logger.LogInfo(ctx, "Account initialized",
		"user_id", userID.String(),
		"initial_bonus", s.cfg.InitialBonus,
		"transaction_id", txID.String(),
	)
	return &InitResult{
		Balance:       opened.Account.Balance,
		TransactionID: &txID,
		InitialBonus:  s.cfg.InitialBonus,
	}, nil
}

// Report returns the caller's balance, the newest limit transactions and
// job counts. limit 0 means the default.
func (s *Service) Report(ctx context.Context, userID uuid.UUID, limit int) (*Report, error) {
	if limit == 0 {
		limit = defaultReportLimit
	}
	if limit < 1 || limit > maxReportLimit {
		return nil, ErrInvalidLimit
	}

	report := &Report{}

	acct, err := s.credits.GetAccount(ctx, userID)
	switch {
	case err == nil:
		report.Credits = Summary{
			Balance:        acct.Balance,
			TotalRecharged: acct.TotalRecharged,
			TotalConsumed:  acct.TotalConsumed,
		}
	case errors.Is(err, credit.ErrAccountNotFound):
	default:
		return nil, fmt.Errorf("%w: get account: %v", ErrInternal, err)
	}

	txs, err := s.credits.ListTransactions(ctx, userID, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", ErrInternal, err)
	}
	if txs == nil {
		txs = []credit.Transaction{}
	}
	report.Transactions = txs

	stats, err := s.jobs.CountByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: count jobs: %v", ErrInternal, err)
	}
	report.GenerationStats = *stats

	return report, nil
}

// Workspaces returns the caller's workspaces
func (s *Service) Workspaces(ctx context.Context, userID uuid.UUID) ([]Workspace, error) {
	items, err := s.workspaces.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Workspace{}
	}
	return items, nil
}
