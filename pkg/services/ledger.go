package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/andrenbrandao/ledger/pkg/domain"
	"github.com/andrenbrandao/ledger/pkg/logging"
	"github.com/andrenbrandao/ledger/pkg/repositories"
)

// AccountView is what callers outside the ledger see of an account.
type AccountView struct {
	Id          int             `json:"id"`
	PhoneNumber string          `json:"phoneNumber"`
	Balance     decimal.Decimal `json:"balance"`
}

func NewAccountView(a domain.Account) AccountView {
	return AccountView{Id: a.Id, PhoneNumber: a.PhoneNumber, Balance: a.Balance()}
}

// Ledger is the entry point for request handlers. Account creation and lookups go straight to
// the store, postings go through the TransferEngine, and every call is retried per RetryPolicy.
type Ledger struct {
	store  repositories.LedgerStore
	engine *TransferEngine
	retry  RetryPolicy
	logger *zap.Logger
}

func NewLedger(store repositories.LedgerStore, engine *TransferEngine, retry RetryPolicy, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, engine: engine, retry: retry, logger: logger}
}

func (l *Ledger) CreateAccount(ctx context.Context, phone string) (AccountView, error) {
	var acc domain.Account
	err := l.retry.Do(ctx, func() error {
		var err error
		acc, err = l.store.CreateAccount(ctx, phone)
		return err
	})
	if err != nil {
		l.logFailure(ctx, "create account failed", err)
		return AccountView{}, err
	}
	logging.WithTrace(ctx, l.logger).Info("account created", zap.Int("account_id", acc.Id))
	return NewAccountView(acc), nil
}

func (l *Ledger) ListAccounts(ctx context.Context) ([]AccountView, error) {
	var accounts []domain.Account
	err := l.retry.Do(ctx, func() error {
		var err error
		accounts, err = l.store.GetAllAccounts(ctx)
		return err
	})
	if err != nil {
		l.logFailure(ctx, "list accounts failed", err)
		return nil, err
	}

	views := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, NewAccountView(a))
	}
	return views, nil
}

func (l *Ledger) FindAccountByPhone(ctx context.Context, phone string) (AccountView, error) {
	var acc domain.Account
	err := l.retry.Do(ctx, func() error {
		var err error
		acc, err = l.store.GetAccountByPhone(ctx, phone)
		return err
	})
	if err != nil {
		l.logFailure(ctx, "find account by phone failed", err)
		return AccountView{}, err
	}
	return NewAccountView(acc), nil
}

// GetAccount returns the account with its full transaction log.
func (l *Ledger) GetAccount(ctx context.Context, id int) (domain.Account, error) {
	var acc domain.Account
	err := l.retry.Do(ctx, func() error {
		var err error
		acc, err = l.store.GetAccountByID(ctx, id)
		return err
	})
	if err != nil {
		l.logFailure(ctx, "get account failed", err)
		return domain.Account{}, err
	}
	return acc, nil
}

// PostTransaction posts req under one transfer reference for every attempt. When a retry finds
// the reference already posted, the earlier attempt committed and its legs are returned.
func (l *Ledger) PostTransaction(ctx context.Context, req domain.TransactionRequest) (PostedTransaction, error) {
	if req.TransferId == uuid.Nil {
		req.TransferId = uuid.New()
	}

	var posted PostedTransaction
	attempts := 0
	err := l.retry.Do(ctx, func() error {
		attempts++
		var err error
		posted, err = l.engine.PostTransaction(ctx, req)
		if attempts > 1 && errors.Is(err, domain.ErrDuplicateTransfer) {
			posted, err = l.postedEarlier(ctx, req)
		}
		return err
	})
	if err != nil {
		l.logFailure(ctx, "post transaction failed", err)
		return PostedTransaction{}, err
	}
	logging.WithTrace(ctx, l.logger).Info("transaction posted",
		zap.String("transfer_id", posted.TransferId.String()),
		zap.String("kind", string(posted.Kind)),
		zap.String("amount", req.Amount.String()))
	return posted, nil
}

func (l *Ledger) postedEarlier(ctx context.Context, req domain.TransactionRequest) (PostedTransaction, error) {
	posted := PostedTransaction{TransferId: req.TransferId, Kind: req.Kind()}
	for _, id := range req.AccountIds() {
		acc, err := l.store.GetAccountByID(ctx, id)
		if err != nil {
			return PostedTransaction{}, err
		}
		for _, t := range acc.Transactions {
			if t.TransferId == req.TransferId {
				posted.Legs = append(posted.Legs, t)
			}
		}
	}
	logging.WithTrace(ctx, l.logger).Warn("transfer committed by an earlier attempt",
		zap.String("transfer_id", req.TransferId.String()))
	return posted, nil
}

// logFailure reports infrastructural failures; business rejections are logged where they occur.
func (l *Ledger) logFailure(ctx context.Context, msg string, err error) {
	if domain.IsBusiness(err) {
		return
	}
	logging.WithTrace(ctx, l.logger).Error(msg, zap.Error(err))
}
