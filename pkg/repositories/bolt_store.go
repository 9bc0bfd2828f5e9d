package repositories

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/andrenbrandao/ledger/pkg/domain"
)

var (
	accountsBucket     = []byte("accounts")
	phonesBucket       = []byte("phones")
	transactionsBucket = []byte("transactions")
)

type boltAccount struct {
	Id          int    `json:"id"`
	PhoneNumber string `json:"phoneNumber"`
}

// BoltStore keeps the ledger in a single BoltDB file. Bolt allows one writer at a time, so every
// Atomically section is serializable against every other.
//
// Layout: accounts/<id> -> account, phones/<phone> -> id, transactions/<account id>/<tx id> -> leg.
type BoltStore struct {
	db *bolt.DB
}

var _ LedgerStore = (*BoltStore)(nil)

func NewBoltStore(path string, openTimeout time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt file %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{accountsBucket, phonesBucket, transactionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) CreateAccount(ctx context.Context, phone string) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	phone, err := domain.NormalizePhone(phone)
	if err != nil {
		return domain.Account{}, err
	}

	var created boltAccount
	err = s.db.Update(func(tx *bolt.Tx) error {
		phones := tx.Bucket(phonesBucket)
		if phones.Get([]byte(phone)) != nil {
			return fmt.Errorf("%w: %s", domain.ErrDuplicatePhone, phone)
		}

		accounts := tx.Bucket(accountsBucket)
		seq, err := accounts.NextSequence()
		if err != nil {
			return err
		}
		created = boltAccount{Id: int(seq), PhoneNumber: phone}
		data, err := json.Marshal(created)
		if err != nil {
			return err
		}
		if err := accounts.Put(itob(uint64(created.Id)), data); err != nil {
			return err
		}
		if err := phones.Put([]byte(phone), itob(uint64(created.Id))); err != nil {
			return err
		}
		if _, err := tx.Bucket(transactionsBucket).CreateBucket(itob(uint64(created.Id))); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		return domain.Account{}, err
	}

	return domain.Account{Id: created.Id, PhoneNumber: created.PhoneNumber, Transactions: []domain.Transaction{}}, nil
}

func (s *BoltStore) GetAccountByID(ctx context.Context, id int) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	var acc domain.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		acc, err = readBoltAccount(tx, id)
		return err
	})
	return acc, err
}

func (s *BoltStore) GetAccountByPhone(ctx context.Context, phone string) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	phone, err := domain.NormalizePhone(phone)
	if err != nil {
		return domain.Account{}, err
	}
	var acc domain.Account
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(phonesBucket).Get([]byte(phone))
		if v == nil {
			return fmt.Errorf("%w: phone %s", domain.ErrAccountNotFound, phone)
		}
		var err error
		acc, err = readBoltAccount(tx, int(btoi(v)))
		return err
	})
	return acc, err
}

func (s *BoltStore) GetAllAccounts(ctx context.Context) ([]domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	accounts := []domain.Account{}
	err := s.db.View(func(tx *bolt.Tx) error {
		// Big-endian keys iterate in id order, which is creation order.
		return tx.Bucket(accountsBucket).ForEach(func(k, _ []byte) error {
			acc, err := readBoltAccount(tx, int(btoi(k)))
			if err != nil {
				return err
			}
			accounts = append(accounts, acc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *BoltStore) CommitTransactions(ctx context.Context, legs map[int][]domain.Transaction) ([]domain.Transaction, error) {
	return commitAtomically(ctx, s, legs)
}

// Atomically runs fn inside one read-write bolt transaction; accountIDs need no explicit locks
// because bolt admits a single writer.
func (s *BoltStore) Atomically(ctx context.Context, _ []int, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := fn(&boltTx{tx: tx}); err != nil {
			return err
		}
		return ctx.Err()
	})
}

type boltTx struct {
	tx *bolt.Tx
}

func (b *boltTx) GetAccountByID(ctx context.Context, id int) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	return readBoltAccount(b.tx, id)
}

func (b *boltTx) CommitTransactions(ctx context.Context, legs map[int][]domain.Transaction) ([]domain.Transaction, error) {
	if err := checkLegs(legs); err != nil {
		return nil, err
	}
	ids := domain.LegAccountIds(legs)
	root := b.tx.Bucket(transactionsBucket)
	for _, id := range ids {
		acc, err := readBoltAccount(b.tx, id)
		if err != nil {
			return nil, err
		}
		if err := checkReplay(id, acc.Transactions, legs[id]); err != nil {
			return nil, err
		}
	}

	var posted []domain.Transaction
	for _, id := range ids {
		log := root.Bucket(itob(uint64(id)))
		for _, t := range legs[id] {
			seq, err := root.NextSequence()
			if err != nil {
				return nil, err
			}
			t.Id = int64(seq)
			t.CreatedAt = t.CreatedAt.UTC()
			data, err := json.Marshal(t)
			if err != nil {
				return nil, err
			}
			if err := log.Put(itob(seq), data); err != nil {
				return nil, err
			}
			posted = append(posted, t)
		}
	}
	return posted, ctx.Err()
}

func readBoltAccount(tx *bolt.Tx, id int) (domain.Account, error) {
	v := tx.Bucket(accountsBucket).Get(itob(uint64(id)))
	if v == nil {
		return domain.Account{}, accountNotFound(id)
	}
	var stored boltAccount
	if err := json.Unmarshal(v, &stored); err != nil {
		return domain.Account{}, fmt.Errorf("decode account %d: %w", id, err)
	}

	acc := domain.Account{Id: stored.Id, PhoneNumber: stored.PhoneNumber, Transactions: []domain.Transaction{}}
	log := tx.Bucket(transactionsBucket).Bucket(itob(uint64(id)))
	if log == nil {
		return acc, nil
	}
	err := log.ForEach(func(_, v []byte) error {
		var t domain.Transaction
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		acc.Transactions = append(acc.Transactions, t)
		return nil
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("decode transactions of account %d: %w", id, err)
	}
	return acc, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
