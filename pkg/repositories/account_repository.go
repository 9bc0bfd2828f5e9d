package repositories

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/andrenbrandao/ledger/pkg/domain"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps the ledger in PostgreSQL. Account rows double as the per-account locks:
// Atomically takes them with SELECT ... FOR UPDATE in id order.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ LedgerStore = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the ledger tables if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("unable to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, phone string) (domain.Account, error) {
	phone, err := domain.NormalizePhone(phone)
	if err != nil {
		return domain.Account{}, err
	}

	acc := domain.Account{PhoneNumber: phone, Transactions: []domain.Transaction{}}
	row := s.pool.QueryRow(ctx, "INSERT INTO accounts (phone_number) VALUES ($1) RETURNING id;", phone)
	err = row.Scan(&acc.Id)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrDuplicatePhone, phone)
	}
	if err != nil {
		return domain.Account{}, classify(err)
	}
	return acc, nil
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, id int) (domain.Account, error) {
	var acc domain.Account
	err := s.read(ctx, func(tx pgx.Tx) error {
		var err error
		acc, err = GetAccount(ctx, tx, id)
		return err
	})
	return acc, err
}

func (s *PostgresStore) GetAccountByPhone(ctx context.Context, phone string) (domain.Account, error) {
	phone, err := domain.NormalizePhone(phone)
	if err != nil {
		return domain.Account{}, err
	}
	var acc domain.Account
	err = s.read(ctx, func(tx pgx.Tx) error {
		var id int
		err := tx.QueryRow(ctx, "SELECT id FROM accounts WHERE phone_number = $1;", phone).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: phone %s", domain.ErrAccountNotFound, phone)
		}
		if err != nil {
			return err
		}
		acc, err = GetAccount(ctx, tx, id)
		return err
	})
	return acc, err
}

func (s *PostgresStore) GetAllAccounts(ctx context.Context) ([]domain.Account, error) {
	accounts := []domain.Account{}
	err := s.read(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, "SELECT id, phone_number FROM accounts ORDER BY id;")
		if err != nil {
			return err
		}
		accounts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Account, error) {
			acc := domain.Account{Transactions: []domain.Transaction{}}
			err := row.Scan(&acc.Id, &acc.PhoneNumber)
			return acc, err
		})
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, selectTransactions+" ORDER BY id;")
		if err != nil {
			return err
		}
		txs, err := pgx.CollectRows(rows, scanTransaction)
		if err != nil {
			return err
		}
		byAccount := make(map[int][]domain.Transaction)
		for _, t := range txs {
			byAccount[t.AccountId] = append(byAccount[t.AccountId], t)
		}
		for i := range accounts {
			if log, ok := byAccount[accounts[i].Id]; ok {
				accounts[i].Transactions = log
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *PostgresStore) CommitTransactions(ctx context.Context, legs map[int][]domain.Transaction) ([]domain.Transaction, error) {
	return commitAtomically(ctx, s, legs)
}

func (s *PostgresStore) Atomically(ctx context.Context, accountIDs []int, fn func(tx LedgerTx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if err := lockAccounts(ctx, tx, lockOrder(accountIDs)); err != nil {
			return err
		}
		if err := fn(&postgresTx{tx: tx}); err != nil {
			return err
		}
		return ctx.Err()
	})
	return classify(err)
}

func (s *PostgresStore) read(ctx context.Context, fn func(tx pgx.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return classify(pgx.BeginTxFunc(ctx, s.pool, opts, fn))
}

type postgresTx struct {
	tx pgx.Tx
}

func (p *postgresTx) GetAccountByID(ctx context.Context, id int) (domain.Account, error) {
	return GetAccount(ctx, p.tx, id)
}

func (p *postgresTx) CommitTransactions(ctx context.Context, legs map[int][]domain.Transaction) ([]domain.Transaction, error) {
	if err := checkLegs(legs); err != nil {
		return nil, err
	}

	var posted []domain.Transaction
	for _, id := range domain.LegAccountIds(legs) {
		for _, t := range legs[id] {
			createdAt := pgtype.Timestamptz{Time: t.CreatedAt.UTC(), Valid: true}
			row := p.tx.QueryRow(ctx,
				`INSERT INTO transactions (account_id, amount, kind, transfer_id, created_at)
				VALUES ($1, $2::numeric, $3, $4::uuid, $5) RETURNING id;`,
				id, t.Amount.String(), string(t.Kind), t.TransferId.String(), createdAt)
			err := row.Scan(&t.Id)

			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
				return nil, accountNotFound(id)
			}
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return nil, duplicateTransfer(id, t.TransferId.String())
			}
			if err != nil {
				return nil, err
			}
			t.CreatedAt = createdAt.Time
			posted = append(posted, t)
		}
	}
	return posted, nil
}

const selectTransactions = "SELECT id, account_id, amount::text, kind, transfer_id::text, created_at FROM transactions"

// GetAccount loads one account and its log through q, which may be the pool or an open transaction.
func GetAccount(ctx context.Context, q querier, id int) (domain.Account, error) {
	acc := domain.Account{Transactions: []domain.Transaction{}}
	row := q.QueryRow(ctx, "SELECT id, phone_number FROM accounts WHERE id = $1;", id)
	err := row.Scan(&acc.Id, &acc.PhoneNumber)

	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, accountNotFound(id)
	}
	if err != nil {
		return domain.Account{}, err
	}

	rows, err := q.Query(ctx, selectTransactions+" WHERE account_id = $1 ORDER BY id;", id)
	if err != nil {
		return domain.Account{}, err
	}
	txs, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return domain.Account{}, err
	}
	if len(txs) > 0 {
		acc.Transactions = txs
	}
	return acc, nil
}

// lockAccounts takes the row locks of ids in ascending order; missing ids are skipped.
func lockAccounts(ctx context.Context, tx pgx.Tx, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx, "SELECT id FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE;", ids)
	if err != nil {
		return err
	}
	_, err = pgx.CollectRows(rows, pgx.RowTo[int32])
	return err
}

func scanTransaction(row pgx.CollectableRow) (domain.Transaction, error) {
	var (
		t          domain.Transaction
		amount     string
		kind       string
		transferId string
		createdAt  pgtype.Timestamptz
	)
	if err := row.Scan(&t.Id, &t.AccountId, &amount, &kind, &transferId, &createdAt); err != nil {
		return t, err
	}

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return t, fmt.Errorf("transaction %d amount: %w", t.Id, err)
	}
	if t.Kind, err = domain.ParseTransactionKind(kind); err != nil {
		return t, fmt.Errorf("transaction %d: %v", t.Id, err)
	}
	if t.TransferId, err = uuid.Parse(transferId); err != nil {
		return t, fmt.Errorf("transaction %d transfer id: %w", t.Id, err)
	}
	t.CreatedAt = createdAt.Time.UTC()
	return t, nil
}

// classify marks lock and serialization failures as conflicts worth retrying.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Message)
	}
	return err
}
