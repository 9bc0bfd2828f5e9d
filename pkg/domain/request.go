package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionRequest asks to credit ToAccountId with Amount. When FromAccountId is set the
// amount is moved out of that account, otherwise it is an ATM deposit.
//
// TransferId names the posting. Retries of one request reuse it, so a posting whose commit
// was acknowledged late is never applied twice. Left nil, a fresh one is drawn per post.
type TransactionRequest struct {
	ToAccountId   int             `json:"toAccountId"`
	FromAccountId *int            `json:"fromAccountId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	TransferId    uuid.UUID       `json:"-"`
}

func Deposit(to int, amount decimal.Decimal) TransactionRequest {
	return TransactionRequest{ToAccountId: to, Amount: amount}
}

func Transfer(from, to int, amount decimal.Decimal) TransactionRequest {
	return TransactionRequest{ToAccountId: to, FromAccountId: &from, Amount: amount}
}

func (r TransactionRequest) Kind() TransactionKind {
	if r.FromAccountId != nil {
		return AccountAccountTransfer
	}
	return AtmDeposit
}

// Validate checks the parts of the request that need no ledger state.
func (r TransactionRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}
	if r.FromAccountId != nil && *r.FromAccountId == r.ToAccountId {
		return fmt.Errorf("%w: source and destination accounts must differ", ErrInvalidInput)
	}
	return nil
}

// AccountIds lists the accounts the request touches in ascending order.
func (r TransactionRequest) AccountIds() []int {
	ids := []int{r.ToAccountId}
	if r.FromAccountId != nil {
		ids = append(ids, *r.FromAccountId)
	}
	sort.Ints(ids)
	return ids
}

// Legs builds the transactions that realise the request: a single credit for a deposit, or a
// debit on the source and a matching credit on the destination for a transfer.
func (r TransactionRequest) Legs(at time.Time, transferId uuid.UUID) map[int][]Transaction {
	kind := r.Kind()
	legs := map[int][]Transaction{
		r.ToAccountId: {{
			AccountId:  r.ToAccountId,
			Amount:     r.Amount,
			Kind:       kind,
			TransferId: transferId,
			CreatedAt:  at,
		}},
	}
	if r.FromAccountId != nil {
		from := *r.FromAccountId
		legs[from] = append(legs[from], Transaction{
			AccountId:  from,
			Amount:     r.Amount.Neg(),
			Kind:       kind,
			TransferId: transferId,
			CreatedAt:  at,
		})
	}
	return legs
}

// LegAccountIds returns the keys of legs in ascending order.
func LegAccountIds(legs map[int][]Transaction) []int {
	ids := make([]int, 0, len(legs))
	for id := range legs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
