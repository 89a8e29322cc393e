package credit

import (
	"context"

	"github.com/google/uuid"
)

// Service is the ledger gateway. Each mutation is one atomic store
// transaction that writes exactly one Transaction row together with
// the account counters.
type Service interface {
	// Deduct charges amount if the balance covers it.
	// Returns an *InsufficientFundsError (matches ErrInsufficientFunds) otherwise.
	Deduct(ctx context.Context, userID uuid.UUID, amount int64, entry Entry) (*DeductResult, error)

	// Refund reverses a charge by its transaction id. Unknown ids and
	// charges already refunded yield Refunded=false and no mutation.
	Refund(ctx context.Context, transactionID uuid.UUID) (*RefundResult, error)

	// Add credits a non-negative amount, creating the account if needed.
	Add(ctx context.Context, userID uuid.UUID, amount int64, txType TxType, entry Entry) (*AddResult, error)

	// Open creates the account with an opening bonus unless it already exists.
	Open(ctx context.Context, userID uuid.UUID, bonus int64, entry Entry) (*OpenResult, error)

	GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error)
	GetTransaction(ctx context.Context, transactionID uuid.UUID) (*Transaction, error)

	// ListTransactions returns the newest transactions first
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error)
}
