package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/baggage"
	"go.uber.org/zap"

	"github.com/andrenbrandao/ledger/pkg/logging"
)

const requestIDHeader = "X-Request-Id"

// NewRouter wires the ledger routes. Every request is traced, logged with a request id and bounded
// by requestTimeout.
func NewRouter(ledger Ledger, logger *zap.Logger, requestTimeout time.Duration) http.Handler {
	h := NewHandler(ledger, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/v1/accounts", h.ListAccounts)
	mux.HandleFunc("GET /api/v1/accounts/search/{phone}", h.FindAccountByPhone)
	mux.HandleFunc("GET /api/v1/accounts/{id}", h.GetAccount)
	mux.HandleFunc("POST /api/v1/accounts", h.CreateAccount)
	mux.HandleFunc("POST /api/v1/transactions", h.PostTransaction)

	var handler http.Handler = mux
	handler = withTimeout(handler, requestTimeout)
	handler = withRequestLog(handler, logger)
	return otelhttp.NewHandler(handler, "ledger",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

func withTimeout(next http.Handler, timeout time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRequestLog tags the request with an id, echoed in the response header and carried as
// baggage so spans started further down record it too.
func withRequestLog(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := r.Context()
		if member, err := baggage.NewMember("request.id", id); err == nil {
			if bag, err := baggage.FromContext(ctx).SetMember(member); err == nil {
				ctx = baggage.ContextWithBaggage(ctx, bag)
			}
		}
		r = r.WithContext(ctx)

		m := httpsnoop.CaptureMetrics(next, w, r)
		logging.WithTrace(ctx, logger).Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", m.Code),
			zap.Duration("duration", m.Duration),
			zap.Int64("bytes", m.Written))
	})
}
