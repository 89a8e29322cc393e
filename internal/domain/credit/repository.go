package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// Repository is the atomic ledger store. Every mutating method runs in a
// single database transaction.
type Repository interface {
	Deduct(ctx context.Context, userID uuid.UUID, amount int64, entry Entry) (*DeductResult, error)
	Refund(ctx context.Context, transactionID uuid.UUID) (*RefundResult, error)
	Add(ctx context.Context, userID uuid.UUID, amount int64, txType TxType, entry Entry) (*AddResult, error)
	Open(ctx context.Context, userID uuid.UUID, bonus int64, entry Entry) (*OpenResult, error)
	GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error)
	GetTransaction(ctx context.Context, transactionID uuid.UUID) (*Transaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error)
}

// CreditRepository is the PostgreSQL ledger store.
type CreditRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

const transactionColumns = `id, user_id, amount, type, description, metadata, refund_of, refunded_at, created_at`

func (r *CreditRepository) Deduct(ctx context.Context, userID uuid.UUID, amount int64, entry Entry) (*DeductResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	// The conditional update takes the row lock, so concurrent charges
	// for one user serialize here and each sees the committed balance.
	var newBalance int64
	err = tx.QueryRowxContext(ctx2, `
		UPDATE user_credits
		SET balance = balance - $2,
		    total_consumed = total_consumed + $2,
		    updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`, userID, amount).Scan(&newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		var balance int64
		if err := tx.GetContext(ctx2, &balance, `SELECT balance FROM user_credits WHERE user_id = $1`, userID); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: read balance", ErrInternal)
		}
		return nil, &InsufficientFundsError{Required: amount, Balance: balance}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update balance", ErrInternal)
	}

	txID, err := r.insertTransaction(ctx2, tx, userID, -amount, TxTypeCharge, entry, nil)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &DeductResult{TransactionID: txID, NewBalance: newBalance}, nil
}

func (r *CreditRepository) Refund(ctx context.Context, transactionID uuid.UUID) (*RefundResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	// Lock the charge row; a concurrent refund of the same id waits here
	// and then sees refunded_at set.
	var charge Transaction
	err = tx.GetContext(ctx2, &charge, `
		SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE id = $1 AND type = $2
		FOR UPDATE
	`, transactionID, TxTypeCharge)
	if errors.Is(err, sql.ErrNoRows) {
		return &RefundResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock charge", ErrInternal)
	}
	if charge.RefundedAt != nil {
		return &RefundResult{}, nil
	}

	amount := -charge.Amount

	var newBalance int64
	err = tx.QueryRowxContext(ctx2, `
		UPDATE user_credits
		SET balance = balance + $2,
		    total_recharged = total_recharged + $2,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING balance
	`, charge.UserID, amount).Scan(&newBalance)
	if err != nil {
		return nil, fmt.Errorf("%w: credit balance", ErrInternal)
	}

	entry := Entry{
		Description: refundDescription(charge.Description),
		Metadata:    Metadata{"original_transaction_id": charge.ID.String()},
	}
	refundID, err := r.insertTransaction(ctx2, tx, charge.UserID, amount, TxTypeRefund, entry, &charge.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return &RefundResult{}, nil
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx2, `UPDATE credit_transactions SET refunded_at = NOW() WHERE id = $1`, charge.ID); err != nil {
		return nil, fmt.Errorf("%w: mark refunded", ErrInternal)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return &RefundResult{}, nil
		}
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &RefundResult{
		Refunded:      true,
		Amount:        amount,
		NewBalance:    newBalance,
		TransactionID: refundID,
	}, nil
}

func (r *CreditRepository) Add(ctx context.Context, userID uuid.UUID, amount int64, txType TxType, entry Entry) (*AddResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	var newBalance int64
	err = tx.QueryRowxContext(ctx2, `
		INSERT INTO user_credits (user_id, balance, total_recharged, total_consumed)
		VALUES ($1, $2, $2, 0)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = user_credits.balance + EXCLUDED.balance,
		    total_recharged = user_credits.total_recharged + EXCLUDED.total_recharged,
		    updated_at = NOW()
		RETURNING balance
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert balance", ErrInternal)
	}

	txID, err := r.insertTransaction(ctx2, tx, userID, amount, txType, entry, nil)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &AddResult{TransactionID: txID, NewBalance: newBalance}, nil
}

func (r *CreditRepository) Open(ctx context.Context, userID uuid.UUID, bonus int64, entry Entry) (*OpenResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	// A concurrent Open for the same user blocks on the conflicting insert
	// and then takes the DO NOTHING branch.
	var account Account
	err = tx.GetContext(ctx2, &account, `
		INSERT INTO user_credits (user_id, balance, total_recharged, total_consumed)
		VALUES ($1, $2, $2, 0)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING user_id, balance, total_recharged, total_consumed, created_at, updated_at
	`, userID, bonus)
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		existing, err := r.GetAccount(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &OpenResult{Created: false, Account: *existing}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: insert account", ErrInternal)
	}

	txID, err := r.insertTransaction(ctx2, tx, userID, bonus, TxTypeBonus, entry, nil)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return &OpenResult{Created: true, Account: account, TransactionID: txID}, nil
}

func (r *CreditRepository) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var account Account
	err := r.db.GetContext(ctx2, &account, `
		SELECT user_id, balance, total_recharged, total_consumed, created_at, updated_at
		FROM user_credits
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: get account", ErrInternal)
	}
	return &account, nil
}

func (r *CreditRepository) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Transaction
	err := r.db.GetContext(ctx2, &t, `SELECT `+transactionColumns+` FROM credit_transactions WHERE id = $1`, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: get transaction", ErrInternal)
	}
	return &t, nil
}

func (r *CreditRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	transactions := make([]Transaction, 0, limit)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions", ErrInternal)
	}
	return transactions, nil
}

func (r *CreditRepository) insertTransaction(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount int64, txType TxType, entry Entry, refundOf *uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()
	metadata := entry.Metadata
	if metadata == nil {
		metadata = Metadata{}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, type, description, metadata, refund_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, userID, amount, txType, strings.TrimSpace(entry.Description), metadata, refundOf)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, err
		}
		return uuid.Nil, fmt.Errorf("%w: insert transaction", ErrInternal)
	}
	return id, nil
}

func refundDescription(chargeDescription string) string {
	if chargeDescription == "" {
		return "refund"
	}
	return "refund: " + chargeDescription
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
