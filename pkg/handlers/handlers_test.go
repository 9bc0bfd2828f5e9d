package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/andrenbrandao/ledger/pkg/domain"
	"github.com/andrenbrandao/ledger/pkg/repositories"
	"github.com/andrenbrandao/ledger/pkg/services"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := repositories.NewMemoryStore()
	engine, err := services.NewTransferEngine(store, logger)
	require.NoError(t, err)
	ledger := services.NewLedger(store, engine, services.DefaultRetryPolicy(), logger)

	srv := httptest.NewServer(NewRouter(ledger, logger, time.Second))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func createAccount(t *testing.T, srv *httptest.Server, phone string) services.AccountView {
	t.Helper()
	status, body := do(t, srv, http.MethodPost, "/api/v1/accounts", fmt.Sprintf(`{"phoneNumber":%q}`, phone))
	require.Equal(t, http.StatusCreated, status, string(body))
	var v services.AccountView
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func errorMessage(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Error
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	status, body := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Server is running!\n", string(body))
}

func TestAccounts(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, srv, http.MethodGet, "/api/v1/accounts", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))

	first := createAccount(t, srv, "1234567890")
	assert.Positive(t, first.Id)
	assert.True(t, first.Balance.IsZero())

	status, body = do(t, srv, http.MethodPost, "/api/v1/accounts", `{"phoneNumber":"1234567890"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, errorMessage(t, body), domain.ErrDuplicatePhone.Error())
	assert.Contains(t, errorMessage(t, body), "1234567890")

	status, body = do(t, srv, http.MethodPost, "/api/v1/accounts", `{"phoneNumber":"   "}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errorMessage(t, body), "invalid input")

	status, _ = do(t, srv, http.MethodPost, "/api/v1/accounts", `{"phoneNumber":`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, srv, http.MethodGet, "/api/v1/accounts/search/1234567890", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, fmt.Sprintf(`{"id":%d,"phoneNumber":"1234567890","balance":"0"}`, first.Id), string(body))

	status, _ = do(t, srv, http.MethodGet, "/api/v1/accounts/search/0000000000", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, srv, http.MethodGet, "/api/v1/accounts/abc", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, srv, http.MethodGet, "/api/v1/accounts/999", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d", first.Id), "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, fmt.Sprintf(`{"id":%d,"phoneNumber":"1234567890","balance":"0","transactions":[]}`, first.Id), string(body))
}

func TestTransactions(t *testing.T) {
	srv := newTestServer(t)
	first := createAccount(t, srv, "1234567890")
	second := createAccount(t, srv, "2222222222")

	status, body := do(t, srv, http.MethodPost, "/api/v1/transactions",
		fmt.Sprintf(`{"toAccountId":%d,"amount":200}`, first.Id))
	require.Equal(t, http.StatusOK, status, string(body))
	var posted services.PostedTransaction
	require.NoError(t, json.Unmarshal(body, &posted))
	assert.Equal(t, domain.AtmDeposit, posted.Kind)
	require.Len(t, posted.Legs, 1)
	assert.Equal(t, "200", posted.Legs[0].Amount.String())

	status, body = do(t, srv, http.MethodPost, "/api/v1/transactions",
		fmt.Sprintf(`{"toAccountId":%d,"fromAccountId":%d,"amount":"150.50"}`, second.Id, first.Id))
	require.Equal(t, http.StatusOK, status, string(body))
	require.NoError(t, json.Unmarshal(body, &posted))
	assert.Equal(t, domain.AccountAccountTransfer, posted.Kind)
	require.Len(t, posted.Legs, 2)
	assert.NotEqual(t, uuid.Nil, posted.TransferId)

	status, body = do(t, srv, http.MethodPost, "/api/v1/transactions",
		fmt.Sprintf(`{"toAccountId":%d,"fromAccountId":%d,"amount":"1000"}`, second.Id, first.Id))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, errorMessage(t, body), "insufficient funds")

	status, _ = do(t, srv, http.MethodPost, "/api/v1/transactions",
		fmt.Sprintf(`{"toAccountId":%d,"fromAccountId":999,"amount":"1"}`, second.Id))
	assert.Equal(t, http.StatusNotFound, status)

	for _, amount := range []string{`0`, `"-5"`, `null`} {
		status, _ = do(t, srv, http.MethodPost, "/api/v1/transactions",
			fmt.Sprintf(`{"toAccountId":%d,"amount":%s}`, first.Id, amount))
		assert.Equal(t, http.StatusBadRequest, status, "amount %s", amount)
	}

	status, _ = do(t, srv, http.MethodPost, "/api/v1/transactions",
		fmt.Sprintf(`{"toAccountId":%d,"amount":true}`, first.Id))
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d", first.Id), "")
	require.Equal(t, http.StatusOK, status)
	var detail struct {
		Balance      string               `json:"balance"`
		Transactions []domain.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(body, &detail))
	assert.Equal(t, "49.5", detail.Balance)
	assert.Len(t, detail.Transactions, 2)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Contains(t, raw, "phoneNumber")
	legs, ok := raw["transactions"].([]any)
	require.True(t, ok)
	leg, ok := legs[0].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"id", "accountId", "amount", "kind", "transferId", "createdAt"} {
		assert.Contains(t, leg, key)
	}
}

// stubLedger fails every call with err.
type stubLedger struct{ err error }

func (s stubLedger) CreateAccount(context.Context, string) (services.AccountView, error) {
	return services.AccountView{}, s.err
}

func (s stubLedger) ListAccounts(context.Context) ([]services.AccountView, error) {
	return nil, s.err
}

func (s stubLedger) FindAccountByPhone(context.Context, string) (services.AccountView, error) {
	return services.AccountView{}, s.err
}

func (s stubLedger) GetAccount(context.Context, int) (domain.Account, error) {
	return domain.Account{}, s.err
}

func (s stubLedger) PostTransaction(context.Context, domain.TransactionRequest) (services.PostedTransaction, error) {
	return services.PostedTransaction{}, s.err
}

func TestInfrastructureFailuresHideDetails(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{
			name:   "unavailable",
			err:    fmt.Errorf("%w after 4 attempts: %w", domain.ErrLedgerUnavailable, errors.New("dial tcp: refused")),
			status: http.StatusServiceUnavailable,
			msg:    "ledger temporarily unavailable",
		},
		{
			name:   "unexpected",
			err:    errors.New("disk on fire"),
			status: http.StatusInternalServerError,
			msg:    "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewRouter(stubLedger{err: tt.err}, zap.NewNop(), time.Second))
			defer srv.Close()

			status, body := do(t, srv, http.MethodGet, "/api/v1/accounts", "")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.msg, errorMessage(t, body))
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("%w: x", domain.ErrInvalidInput)))
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("source %w", domain.ErrAccountNotFound)))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrDuplicatePhone))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrDuplicateTransfer))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.ErrInsufficientFunds))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.ErrLedgerUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(context.DeadlineExceeded))
}

func TestRequestLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	srv := httptest.NewServer(NewRouter(stubLedger{err: domain.ErrAccountNotFound}, zap.New(core), time.Second))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/v1/accounts/search/123")
	require.NoError(t, err)
	resp.Body.Close()

	id := resp.Header.Get(requestIDHeader)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, id, fields["request_id"])
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/api/v1/accounts/search/123", fields["path"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	given := uuid.NewString()
	req.Header.Set(requestIDHeader, given)
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, given, resp.Header.Get(requestIDHeader))
}
