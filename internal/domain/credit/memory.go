package credit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository with the same atomic contract
// as CreditRepository. One mutex guards every account, so each mutation
// is serialized.
type MemoryStore struct {
	mu sync.Mutex

	accounts     map[uuid.UUID]*Account
	transactions map[uuid.UUID]*Transaction
	// insertion order; ListTransactions walks it backwards
	order []uuid.UUID

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[uuid.UUID]*Account),
		transactions: make(map[uuid.UUID]*Transaction),
		now:          time.Now,
	}
}

func (s *MemoryStore) Deduct(_ context.Context, userID uuid.UUID, amount int64, entry Entry) (*DeductResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok || account.Balance < amount {
		var balance int64
		if ok {
			balance = account.Balance
		}
		return nil, &InsufficientFundsError{Required: amount, Balance: balance}
	}

	account.Balance -= amount
	account.TotalConsumed += amount
	account.UpdatedAt = s.now()

	t := s.append(userID, -amount, TxTypeCharge, entry, nil)
	return &DeductResult{TransactionID: t.ID, NewBalance: account.Balance}, nil
}

func (s *MemoryStore) Refund(_ context.Context, transactionID uuid.UUID) (*RefundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	charge, ok := s.transactions[transactionID]
	if !ok || charge.Type != TxTypeCharge || charge.RefundedAt != nil {
		return &RefundResult{}, nil
	}
	account, ok := s.accounts[charge.UserID]
	if !ok {
		return nil, ErrInternal
	}

	amount := -charge.Amount
	account.Balance += amount
	account.TotalRecharged += amount
	account.UpdatedAt = s.now()

	refunded := s.now()
	charge.RefundedAt = &refunded

	chargeID := charge.ID
	t := s.append(charge.UserID, amount, TxTypeRefund, Entry{
		Description: refundDescription(charge.Description),
		Metadata:    Metadata{"original_transaction_id": chargeID.String()},
	}, &chargeID)

	return &RefundResult{
		Refunded:      true,
		Amount:        amount,
		NewBalance:    account.Balance,
		TransactionID: t.ID,
	}, nil
}

func (s *MemoryStore) Add(_ context.Context, userID uuid.UUID, amount int64, txType TxType, entry Entry) (*AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := s.ensure(userID)
	account.Balance += amount
	account.TotalRecharged += amount
	account.UpdatedAt = s.now()

	t := s.append(userID, amount, txType, entry, nil)
	return &AddResult{TransactionID: t.ID, NewBalance: account.Balance}, nil
}

func (s *MemoryStore) Open(_ context.Context, userID uuid.UUID, bonus int64, entry Entry) (*OpenResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account, ok := s.accounts[userID]; ok {
		return &OpenResult{Created: false, Account: *account}, nil
	}

	account := s.ensure(userID)
	account.Balance = bonus
	account.TotalRecharged = bonus

	t := s.append(userID, bonus, TxTypeBonus, entry, nil)
	return &OpenResult{Created: true, Account: *account, TransactionID: t.ID}, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID uuid.UUID) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, transactionID uuid.UUID) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Transaction, 0, limit)
	skipped := 0
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		t := s.transactions[s.order[i]]
		if t.UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

// Accounts returns a snapshot of every account, ordered by user id.
func (s *MemoryStore) Accounts() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out
}

func (s *MemoryStore) ensure(userID uuid.UUID) *Account {
	if account, ok := s.accounts[userID]; ok {
		return account
	}
	now := s.now()
	account := &Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.accounts[userID] = account
	return account
}

func (s *MemoryStore) append(userID uuid.UUID, amount int64, txType TxType, entry Entry, refundOf *uuid.UUID) *Transaction {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = Metadata{}
	}
	t := &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: entry.Description,
		Metadata:    metadata,
		RefundOf:    refundOf,
		CreatedAt:   s.now(),
	}
	s.transactions[t.ID] = t
	s.order = append(s.order, t.ID)
	return t
}
