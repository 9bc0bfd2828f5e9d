package repositories

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/andrenbrandao/ledger/pkg/domain"
)

type memoryAccount struct {
	id    int
	phone string
	// lock serializes read-check-write sequences on this account. Waiting on it honours the
	// caller's context, unlike a sync.Mutex.
	lock *semaphore.Weighted
	txs  []domain.Transaction
}

func (a *memoryAccount) snapshot() domain.Account {
	return domain.Account{
		Id:           a.id,
		PhoneNumber:  a.phone,
		Transactions: append([]domain.Transaction{}, a.txs...),
	}
}

// MemoryStore keeps the ledger in process memory. mu guards the maps and every log; per-account
// locks order the Atomically sections.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[int]*memoryAccount
	byPhone  map[string]int
	order    []int
	lastID   int
	lastTxID int64
}

var _ LedgerStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[int]*memoryAccount),
		byPhone: make(map[string]int),
	}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, phone string) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	phone, err := domain.NormalizePhone(phone)
	if err != nil {
		return domain.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byPhone[phone]; exists {
		return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrDuplicatePhone, phone)
	}
	s.lastID++
	a := &memoryAccount{id: s.lastID, phone: phone, lock: semaphore.NewWeighted(1)}
	s.byID[a.id] = a
	s.byPhone[phone] = a.id
	s.order = append(s.order, a.id)
	return a.snapshot(), nil
}

func (s *MemoryStore) GetAccountByID(ctx context.Context, id int) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return domain.Account{}, accountNotFound(id)
	}
	return a.snapshot(), nil
}

func (s *MemoryStore) GetAccountByPhone(ctx context.Context, phone string) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	phone, err := domain.NormalizePhone(phone)
	if err != nil {
		return domain.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPhone[phone]
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: phone %s", domain.ErrAccountNotFound, phone)
	}
	return s.byID[id].snapshot(), nil
}

func (s *MemoryStore) GetAllAccounts(ctx context.Context) ([]domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].snapshot())
	}
	return out, nil
}

func (s *MemoryStore) CommitTransactions(ctx context.Context, legs map[int][]domain.Transaction) ([]domain.Transaction, error) {
	return commitAtomically(ctx, s, legs)
}

func (s *MemoryStore) Atomically(ctx context.Context, accountIDs []int, fn func(tx LedgerTx) error) error {
	held := make(map[int]bool)
	var locks []*semaphore.Weighted
	s.mu.RLock()
	for _, id := range lockOrder(accountIDs) {
		// Unknown ids hold nothing; fn sees them as not found.
		if a, ok := s.byID[id]; ok {
			held[id] = true
			locks = append(locks, a.lock)
		}
	}
	s.mu.RUnlock()

	acquired := 0
	defer func() {
		for i := acquired - 1; i >= 0; i-- {
			locks[i].Release(1)
		}
	}()
	for _, l := range locks {
		if err := l.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire account lock: %w", err)
		}
		acquired++
	}

	tx := &memoryTx{store: s, held: held, staged: make(map[int][]domain.Transaction)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.apply(tx.staged)
	return nil
}

func (s *MemoryStore) apply(staged map[int][]domain.Transaction) {
	if len(staged) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, txs := range staged {
		a := s.byID[id]
		a.txs = append(a.txs, txs...)
	}
}

func (s *MemoryStore) nextTxID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTxID++
	return s.lastTxID
}

func (s *MemoryStore) Close() error {
	return nil
}

type memoryTx struct {
	store  *MemoryStore
	held   map[int]bool
	staged map[int][]domain.Transaction
}

func (tx *memoryTx) GetAccountByID(ctx context.Context, id int) (domain.Account, error) {
	a, err := tx.store.GetAccountByID(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	a.Transactions = append(a.Transactions, tx.staged[id]...)
	return a, nil
}

func (tx *memoryTx) CommitTransactions(ctx context.Context, legs map[int][]domain.Transaction) ([]domain.Transaction, error) {
	if err := checkLegs(legs); err != nil {
		return nil, err
	}
	ids := domain.LegAccountIds(legs)
	for _, id := range ids {
		acc, err := tx.GetAccountByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !tx.held[id] {
			return nil, fmt.Errorf("account %d is not held by this transaction", id)
		}
		if err := checkReplay(id, acc.Transactions, legs[id]); err != nil {
			return nil, err
		}
	}

	var posted []domain.Transaction
	for _, id := range ids {
		for _, t := range legs[id] {
			t.Id = tx.store.nextTxID()
			tx.staged[id] = append(tx.staged[id], t)
			posted = append(posted, t)
		}
	}
	return posted, nil
}
