package domain

import (
	"context"
	"errors"
)

// Business-rule errors. They are permanent: retrying the same request yields the same answer.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicatePhone    = errors.New("account with this phone number already exists")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds in the source account")
	// ErrDuplicateTransfer refuses a second posting of a transfer reference to the same account.
	ErrDuplicateTransfer = errors.New("transfer already posted")
)

// Infrastructural errors.
var (
	ErrConflict          = errors.New("concurrent commit conflict")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// IsBusiness reports whether err belongs to the business-rule taxonomy.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDuplicatePhone) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrDuplicateTransfer)
}

// IsRetryable reports whether a failed call may succeed if issued again.
func IsRetryable(err error) bool {
	if err == nil || IsBusiness(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
