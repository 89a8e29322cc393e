package credit

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is returned when the balance does not cover a charge
	ErrInsufficientFunds = errors.New("insufficient credits")

	// ErrInvalidAmount is returned for non-positive charges and negative credits
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidType is returned when Add is called with a charge or refund type
	ErrInvalidType = errors.New("invalid transaction type")

	ErrAccountNotFound     = errors.New("credit account not found")
	ErrTransactionNotFound = errors.New("credit transaction not found")

	ErrInternal = errors.New("internal error")
)

// InsufficientFundsError carries the amount asked for and the balance held.
type InsufficientFundsError struct {
	Required int64
	Balance  int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, balance %d", e.Required, e.Balance)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
