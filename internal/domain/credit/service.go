package credit

import (
	"context"

	"github.com/google/uuid"

	"github.com/nanobanana/nanobanana-api/internal/pkg/logger"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// service implements the Service interface
type service struct {
	repo Repository
}

// NewService creates a ledger gateway over repo
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Deduct(ctx context.Context, userID uuid.UUID, amount int64, entry Entry) (*DeductResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	result, err := s.repo.Deduct(ctx, userID, amount, entry)
	if err != nil {
		return nil, err
	}

	logger.LogInfo(ctx, "Credits deducted",
		"user_id", userID.String(),
		"transaction_id", result.TransactionID.String(),
		"amount", amount,
		"new_balance", result.NewBalance,
	)
	return result, nil
}

func (s *service) Refund(ctx context.Context, transactionID uuid.UUID) (*RefundResult, error) {
	if transactionID == uuid.Nil {
		return &RefundResult{}, nil
	}

	result, err := s.repo.Refund(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if result.Refunded {
		logger.LogInfo(ctx, "Credits refunded",
			"transaction_id", transactionID.String(),
			"refund_transaction_id", result.TransactionID.String(),
			"amount", result.Amount,
			"new_balance", result.NewBalance,
		)
	} else {
		logger.LogDebug(ctx, "Refund skipped: charge unknown or already refunded",
			"transaction_id", transactionID.String(),
		)
	}
	return result, nil
}

func (s *service) Add(ctx context.Context, userID uuid.UUID, amount int64, txType TxType, entry Entry) (*AddResult, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	if !txType.Valid() {
		return nil, ErrInvalidType
	}
	return s.repo.Add(ctx, userID, amount, txType, entry)
}

func (s *service) Open(ctx context.Context, userID uuid.UUID, bonus int64, entry Entry) (*OpenResult, error) {
	if bonus < 0 {
		return nil, ErrInvalidAmount
	}
	return s.repo.Open(ctx, userID, bonus, entry)
}

func (s *service) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	return s.repo.GetAccount(ctx, userID)
}

func (s *service) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	return s.repo.GetTransaction(ctx, transactionID)
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransactions(ctx, userID, limit, offset)
}
