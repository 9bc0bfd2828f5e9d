package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	AtmDeposit             TransactionKind = "AtmDeposit"
	AccountAccountTransfer TransactionKind = "AccountAccountTransfer"
)

func (k TransactionKind) Valid() bool {
	return k == AtmDeposit || k == AccountAccountTransfer
}

func ParseTransactionKind(s string) (TransactionKind, error) {
	k := TransactionKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown transaction kind %q", ErrInvalidInput, s)
	}
	return k, nil
}

// Account is a snapshot of one account and its transaction log, in posting order.
// Balance is never stored; it is always the sum of Transactions.
type Account struct {
	Id           int           `json:"id"`
	PhoneNumber  string        `json:"phoneNumber"`
	Transactions []Transaction `json:"transactions"`
}

func (a Account) Balance() decimal.Decimal {
	return Balance(a.Transactions)
}

// HasTransfer reports whether a leg of transfer id is already in the log.
func (a Account) HasTransfer(id uuid.UUID) bool {
	for _, t := range a.Transactions {
		if t.TransferId == id {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no memory with a.
func (a Account) Clone() Account {
	cp := a
	cp.Transactions = append([]Transaction(nil), a.Transactions...)
	return cp
}

// Transaction is one immutable leg posted to an account. A positive amount is a credit.
type Transaction struct {
	Id         int64           `json:"id"`
	AccountId  int             `json:"accountId"`
	Amount     decimal.Decimal `json:"amount"`
	Kind       TransactionKind `json:"kind"`
	TransferId uuid.UUID       `json:"transferId"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Balance sums the amounts of txs.
func Balance(txs []Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range txs {
		sum = sum.Add(t.Amount)
	}
	return sum
}

// NormalizePhone trims surrounding whitespace and rejects empty phone numbers.
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimSpace(phone)
	if p == "" {
		return "", fmt.Errorf("%w: phone number must be provided", ErrInvalidInput)
	}
	return p, nil
}
