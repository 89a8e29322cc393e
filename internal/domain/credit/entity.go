package credit

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TxType defines supported credit transaction types.
type TxType string

const (
	TxTypeCharge   TxType = "charge"
	TxTypeRefund   TxType = "refund"
	TxTypeBonus    TxType = "bonus"
	TxTypeRecharge TxType = "recharge"
)

// Valid reports whether t can be written through Add.
func (t TxType) Valid() bool {
	switch t {
	case TxTypeBonus, TxTypeRecharge:
		return true
	}
	return false
}

// Metadata is free-form JSON attached to a transaction.
type Metadata map[string]interface{}

// Value implements driver.Valuer for jsonb columns.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for jsonb columns.
func (m *Metadata) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("credit: unsupported metadata type")
	}
	out := Metadata{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// Entry describes what a ledger mutation is for.
type Entry struct {
	Description string
	Metadata    Metadata
}

// Account is the per-user ledger row.
// Balance always equals TotalRecharged - TotalConsumed. Both counters only
// grow; a refund is credited to TotalRecharged.
type Account struct {
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	Balance        int64     `db:"balance" json:"balance"`
	TotalRecharged int64     `db:"total_recharged" json:"total_recharged"`
	TotalConsumed  int64     `db:"total_consumed" json:"total_consumed"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is an append-only ledger record. Amount is signed:
// negative for charges, positive for refunds and credits.
type Transaction struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	UserID      uuid.UUID  `db:"user_id" json:"user_id"`
	Amount      int64      `db:"amount" json:"amount"`
	Type        TxType     `db:"type" json:"type"`
	Description string     `db:"description" json:"description"`
	Metadata    Metadata   `db:"metadata" json:"metadata"`
	RefundOf    *uuid.UUID `db:"refund_of" json:"refund_of,omitempty"`
	RefundedAt  *time.Time `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// DeductResult is returned by a successful Deduct.
type DeductResult struct {
	TransactionID uuid.UUID
	NewBalance    int64
}

// RefundResult reports whether a refund was applied. Refunded is false
// when the charge is unknown or was already refunded; nothing changed then.
type RefundResult struct {
	Refunded      bool
	Amount        int64
	NewBalance    int64
	TransactionID uuid.UUID
}

// AddResult is returned by Add.
type AddResult struct {
	TransactionID uuid.UUID
	NewBalance    int64
}

// OpenResult is returned by Open. Created is false when the account
// already existed; Account is the row as stored in both cases.
type OpenResult struct {
	Created       bool
	Account       Account
	TransactionID uuid.UUID
}
