package account

import (
	"time"

	"github.com/google/uuid"

	"github.com/nanobanana/nanobanana-api/internal/domain/credit"
	"github.com/nanobanana/nanobanana-api/internal/domain/generation"
)

// Workspace groups a user's generations
type Workspace struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Name      string    `db:"name" json:"name"`
	IsDefault bool      `db:"is_default" json:"is_default"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// InitResult is returned by Initialize. TransactionID is set only when
// the account was created by this call.
type InitResult struct {
	AlreadyInitialized bool
	Balance            int64
	TransactionID      *uuid.UUID
	InitialBonus       int64
}

// Summary is the ledger row as reported. A user without a ledger row
// gets the zero value.
type Summary struct {
	Balance        int64 `json:"balance"`
	TotalRecharged int64 `json:"total_recharged"`
	TotalConsumed  int64 `json:"total_consumed"`
}

// Report is the caller's balance, recent history and job counts
type Report struct {
	Credits         Summary              `json:"credits"`
	Transactions    []credit.Transaction `json:"transactions"`
	GenerationStats generation.Stats     `json:"generation_stats"`
}
