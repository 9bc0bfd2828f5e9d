package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/andrenbrandao/ledger/pkg/domain"
	"github.com/andrenbrandao/ledger/pkg/logging"
	"github.com/andrenbrandao/ledger/pkg/services"
)

// Ledger is the part of services.Ledger the HTTP layer calls.
type Ledger interface {
	CreateAccount(ctx context.Context, phone string) (services.AccountView, error)
	ListAccounts(ctx context.Context) ([]services.AccountView, error)
	FindAccountByPhone(ctx context.Context, phone string) (services.AccountView, error)
	GetAccount(ctx context.Context, id int) (domain.Account, error)
	PostTransaction(ctx context.Context, req domain.TransactionRequest) (services.PostedTransaction, error)
}

type Handler struct {
	ledger Ledger
	logger *zap.Logger
}

func NewHandler(ledger Ledger, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

type createAccountRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type accountDetail struct {
	services.AccountView
	Transactions []domain.Transaction `json:"transactions"`
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "Server is running!\n")
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.ledger.ListAccounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) FindAccountByPhone(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.FindAccountByPhone(r.Context(), r.PathValue("phone"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: account id %q", domain.ErrInvalidInput, r.PathValue("id")))
		return
	}

	account, err := h.ledger.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	transactions := account.Transactions
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, accountDetail{
		AccountView:  services.NewAccountView(account),
		Transactions: transactions,
	})
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var body createAccountRequest
	if !h.decode(w, r, &body) {
		return
	}

	account, err := h.ledger.CreateAccount(r.Context(), body.PhoneNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// PostTransaction accepts {toAccountId, fromAccountId?, amount}. The amount may be a JSON number
// or a decimal string.
func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	posted, err := h.ledger.PostTransaction(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posted)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logging.WithTrace(r.Context(), h.logger).Debug("malformed request body", zap.Error(err))
		writeError(w, fmt.Errorf("%w: malformed request body", domain.ErrInvalidInput))
		return false
	}
	return true
}
