package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/andrenbrandao/ledger/pkg/domain"
	"github.com/andrenbrandao/ledger/pkg/logging"
	"github.com/andrenbrandao/ledger/pkg/repositories"
)

const instrumentationName = "github.com/andrenbrandao/ledger/pkg/services"

var tracer = otel.Tracer(instrumentationName)

// PostedTransaction is the outcome of a successful PostTransaction: every committed leg, ordered
// by account id.
type PostedTransaction struct {
	TransferId uuid.UUID              `json:"transferId"`
	Kind       domain.TransactionKind `json:"kind"`
	Legs       []domain.Transaction   `json:"transactions"`
}

// TransferEngine applies deposits and transfers to a LedgerStore, enforcing the rules the store
// does not know about.
type TransferEngine struct {
	store  repositories.LedgerStore
	logger *zap.Logger
	now    func() time.Time

	posted   metric.Int64Counter
	rejected metric.Int64Counter
}

func NewTransferEngine(store repositories.LedgerStore, logger *zap.Logger) (*TransferEngine, error) {
	meter := otel.Meter(instrumentationName)
	posted, err := meter.Int64Counter("ledger.transactions.posted",
		metric.WithDescription("Deposits and transfers committed to the ledger"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("ledger.transactions.rejected",
		metric.WithDescription("Deposits and transfers refused by a business rule"))
	if err != nil {
		return nil, err
	}

	return &TransferEngine{
		store:    store,
		logger:   logger,
		now:      time.Now,
		posted:   posted,
		rejected: rejected,
	}, nil
}

// PostTransaction validates req and commits its legs in one unit. The source balance is checked
// while the involved accounts are held, so concurrent debits cannot overdraw the source.
func (e *TransferEngine) PostTransaction(ctx context.Context, req domain.TransactionRequest) (PostedTransaction, error) {
	kind := req.Kind()
	attrs := []attribute.KeyValue{
		attribute.String("ledger.kind", string(kind)),
		attribute.Int("ledger.to_account_id", req.ToAccountId),
		attribute.String("ledger.amount", req.Amount.String()),
	}
	if req.FromAccountId != nil {
		attrs = append(attrs, attribute.Int("ledger.from_account_id", *req.FromAccountId))
	}
	ctx, span := tracer.Start(ctx, "TransferEngine.PostTransaction", trace.WithAttributes(attrs...))
	defer span.End()

	result, err := e.post(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if domain.IsBusiness(err) {
			e.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("ledger.kind", string(kind)),
				attribute.String("ledger.reason", rejectionReason(err))))
			logging.WithTrace(ctx, e.logger).Info("transaction rejected",
				zap.String("kind", string(kind)), zap.Error(err))
		}
		return PostedTransaction{}, err
	}

	e.posted.Add(ctx, 1, metric.WithAttributes(attribute.String("ledger.kind", string(kind))))
	span.SetAttributes(attribute.String("ledger.transfer_id", result.TransferId.String()))
	return result, nil
}

func (e *TransferEngine) post(ctx context.Context, req domain.TransactionRequest) (PostedTransaction, error) {
	if err := req.Validate(); err != nil {
		return PostedTransaction{}, err
	}

	transferId := req.TransferId
	if transferId == uuid.Nil {
		transferId = uuid.New()
	}
	result := PostedTransaction{TransferId: transferId, Kind: req.Kind()}
	err := e.store.Atomically(ctx, req.AccountIds(), func(tx repositories.LedgerTx) error {
		dest, err := tx.GetAccountByID(ctx, req.ToAccountId)
		if err != nil {
			return err
		}
		if dest.HasTransfer(transferId) {
			return fmt.Errorf("%w: transfer %s", domain.ErrDuplicateTransfer, transferId)
		}

		if req.FromAccountId != nil {
			source, err := tx.GetAccountByID(ctx, *req.FromAccountId)
			if err != nil {
				return fmt.Errorf("source %w", err)
			}
			if balance := source.Balance(); balance.LessThan(req.Amount) {
				return fmt.Errorf("%w: account %d has %s, requested %s",
					domain.ErrInsufficientFunds, source.Id, balance, req.Amount)
			}
		}

		legs, err := tx.CommitTransactions(ctx, req.Legs(e.now().UTC(), result.TransferId))
		result.Legs = legs
		return err
	})
	if err != nil {
		return PostedTransaction{}, err
	}
	return result, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrDuplicatePhone):
		return "duplicate_phone"
	case errors.Is(err, domain.ErrDuplicateTransfer):
		return "duplicate_transfer"
	default:
		return "other"
	}
}
