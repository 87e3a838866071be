package payment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newStatusServer(t *testing.T, ledger Ledger) *httptest.Server {
	t.Helper()
	h := &Handler{Ledger: ledger, Advisor: Advisor{MaxAttempts: 3, Methods: []string{"CARD", "NEQUI"}}}
	r := chi.NewRouter()
	r.Get("/api/v1/payments/{reference}/status", h.Status)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusEndpoint(t *testing.T) {
	rec := pendingRecord()
	rec.Status = StatusCompleted
	rec.ProviderTransactionID = "tx-1"
	srv := newStatusServer(t, newMockLedger(rec))

	resp, err := http.Get(srv.URL + "/api/v1/payments/ORD-2024-001/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out statusResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "COMPLETED", out.Status)
	require.Equal(t, "tx-1", out.TransactionID)
	require.Nil(t, out.Failure)
	require.Nil(t, out.Retry)
}

func TestStatusEndpointFailedPaymentCarriesRetryAdvice(t *testing.T) {
	now := time.Now()
	rec := pendingRecord()
	rec.Status = StatusFailed
	rec.ErrorCode = "WOMPI_DECLINED"
	rec.ErrorMessage = "Insufficient funds"
	rec.FailedAttempts = 1
	rec.FailedAt = &now
	srv := newStatusServer(t, newMockLedger(rec))

	resp, err := http.Get(srv.URL + "/api/v1/payments/ORD-2024-001/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out statusResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "FAILED", out.Status)
	require.NotNil(t, out.Failure)
	require.Equal(t, "Fondos insuficientes en tu cuenta.", out.Failure.Message)
	require.NotNil(t, out.Retry)
	require.True(t, out.Retry.Allowed)
	require.Equal(t, []string{"NEQUI"}, out.Retry.SuggestedMethods)
}

func TestStatusEndpointNotFound(t *testing.T) {
	srv := newStatusServer(t, newMockLedger())

	resp, err := http.Get(srv.URL + "/api/v1/payments/UNKNOWN/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
