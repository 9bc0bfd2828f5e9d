package repositories

import (
	"context"
	"fmt"
	"sort"

	"github.com/andrenbrandao/ledger/pkg/domain"
)

// LedgerStore owns accounts and their transaction logs. It is the only component that reads or
// mutates committed state.
type LedgerStore interface {
	CreateAccount(ctx context.Context, phone string) (domain.Account, error)
	GetAccountByID(ctx context.Context, id int) (domain.Account, error)
	GetAccountByPhone(ctx context.Context, phone string) (domain.Account, error)
	// GetAllAccounts returns accounts in creation order.
	GetAllAccounts(ctx context.Context) ([]domain.Account, error)
	// CommitTransactions appends every leg to its account, or none of them, and returns the legs
	// with their assigned ids ordered by account id.
	CommitTransactions(ctx context.Context, legs map[int][]domain.Transaction) ([]domain.Transaction, error)
	// Atomically holds the given accounts exclusively (acquired in ascending id order) while fn
	// runs. Commits staged through tx become visible together, and only when fn returns nil.
	Atomically(ctx context.Context, accountIDs []int, fn func(tx LedgerTx) error) error
	Close() error
}

// LedgerTx is the view of the ledger handed to an Atomically callback.
type LedgerTx interface {
	GetAccountByID(ctx context.Context, id int) (domain.Account, error)
	CommitTransactions(ctx context.Context, legs map[int][]domain.Transaction) ([]domain.Transaction, error)
}

func commitAtomically(ctx context.Context, s LedgerStore, legs map[int][]domain.Transaction) ([]domain.Transaction, error) {
	var posted []domain.Transaction
	err := s.Atomically(ctx, domain.LegAccountIds(legs), func(tx LedgerTx) error {
		var err error
		posted, err = tx.CommitTransactions(ctx, legs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return posted, nil
}

// lockOrder returns ids sorted ascending without duplicates.
func lockOrder(ids []int) []int {
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	out := make([]int, 0, len(sorted))
	for _, id := range sorted {
		if n := len(out); n > 0 && out[n-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

func checkLegs(legs map[int][]domain.Transaction) error {
	if len(legs) == 0 {
		return fmt.Errorf("%w: nothing to commit", domain.ErrInvalidInput)
	}
	for id, txs := range legs {
		for _, t := range txs {
			if t.AccountId != id {
				return fmt.Errorf("%w: leg for account %d filed under account %d", domain.ErrInvalidInput, t.AccountId, id)
			}
			if !t.Kind.Valid() {
				return fmt.Errorf("%w: unknown transaction kind %q", domain.ErrInvalidInput, t.Kind)
			}
		}
	}
	return nil
}

// checkReplay refuses legs whose transfer reference already appears in the account's log.
func checkReplay(id int, log, legs []domain.Transaction) error {
	for _, leg := range legs {
		for _, t := range log {
			if t.TransferId == leg.TransferId {
				return duplicateTransfer(id, leg.TransferId.String())
			}
		}
	}
	return nil
}

func duplicateTransfer(id int, transferId string) error {
	return fmt.Errorf("%w: transfer %s on account %d", domain.ErrDuplicateTransfer, transferId, id)
}

func accountNotFound(id int) error {
	return fmt.Errorf("%w: id %d", domain.ErrAccountNotFound, id)
}
