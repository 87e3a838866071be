package checkout

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/codenix-ai/store-chismo/internal/payment"
)

// stubLedger backs the retry tests with a couple of fixed records.
type stubLedger struct {
	mu      sync.Mutex
	records map[string]payment.Record
	created []payment.CreateInput
}

func (s *stubLedger) PaymentByReference(_ context.Context, reference string) (payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[reference]
	if !ok {
		return payment.Record{}, fmt.Errorf("%w: %s", payment.ErrPaymentNotFound, reference)
	}
	return rec, nil
}

func (s *stubLedger) UpdatePayment(_ context.Context, _ string, _ payment.UpdateInput, _ payment.Status) (payment.Record, error) {
	return payment.Record{}, fmt.Errorf("not implemented")
}

func (s *stubLedger) CreatePayment(_ context.Context, input payment.CreateInput) (payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, input)
	return payment.Record{
		ID:            "pay-new",
		OrderID:       input.OrderID,
		Reference:     input.Reference,
		AmountInCents: input.AmountInCents,
		Currency:      input.Currency,
		Status:        input.Status,
		Provider:      input.Provider,
		Method:        input.Method,
	}, nil
}

func (s *stubLedger) AppendPaymentLog(_ context.Context, _ payment.LogEntry) error { return nil }

func failedRecord() payment.Record {
	return payment.Record{
		ID:             "pay-1",
		OrderID:        "ord-1",
		Reference:      "ORD-2024-001",
		AmountInCents:  4490000,
		Currency:       "COP",
		Status:         payment.StatusFailed,
		Provider:       "wompi",
		Method:         "CARD",
		FailedAttempts: 1,
	}
}

func newService(ledger payment.Ledger) *Service {
	return &Service{
		Ledger:          ledger,
		Advisor:         payment.Advisor{MaxAttempts: 3, Methods: []string{"CARD", "NEQUI", "PSE"}},
		PublicKey:       "pub_test_abc",
		IntegritySecret: "integrity_secret",
		CheckoutBaseURL: "https://checkout.wompi.co",
		Currency:        "COP",
		Now:             func() time.Time { return time.UnixMilli(1709300000000) },
	}
}

func TestCheckEligibility(t *testing.T) {
	ledger := &stubLedger{records: map[string]payment.Record{"ORD-2024-001": failedRecord()}}
	svc := newService(ledger)

	out, err := svc.CheckEligibility(context.Background(), "ORD-2024-001")
	require.NoError(t, err)
	require.Equal(t, "FAILED", out.Status)
	require.True(t, out.Retry.Allowed)
	require.Equal(t, 2, out.Retry.RemainingAttempts)
	require.Equal(t, []string{"NEQUI", "PSE"}, out.Retry.SuggestedMethods)
}

func TestRetryCreatesNewPendingPayment(t *testing.T) {
	ledger := &stubLedger{records: map[string]payment.Record{"ORD-2024-001": failedRecord()}}
	svc := newService(ledger)

	out, err := svc.Retry(context.Background(), "ORD-2024-001", RetryInput{PaymentMethod: "NEQUI"})
	require.NoError(t, err)
	require.Equal(t, "ORD-2024-001_retry_1709300000000", out.NewReference)
	require.Equal(t, int64(4490000), out.AmountInCents)
	require.Equal(t, "pub_test_abc", out.PublicKey)
	require.Contains(t, out.CheckoutURL, "reference=ORD-2024-001_retry_1709300000000")

	require.Len(t, ledger.created, 1)
	require.Equal(t, payment.StatusPending, ledger.created[0].Status)
	require.Equal(t, "NEQUI", ledger.created[0].Method)
	require.Equal(t, "ord-1", ledger.created[0].OrderID)
}

func TestRetryDefaultsCurrencyFromService(t *testing.T) {
	rec := failedRecord()
	rec.Currency = ""
	ledger := &stubLedger{records: map[string]payment.Record{"ORD-2024-001": rec}}
	svc := newService(ledger)

	out, err := svc.Retry(context.Background(), "ORD-2024-001", RetryInput{PaymentMethod: "NEQUI"})
	require.NoError(t, err)
	require.Equal(t, "COP", out.Currency)
	require.Len(t, ledger.created, 1)
	require.Equal(t, "COP", ledger.created[0].Currency)
}

func TestRetryIntegritySignature(t *testing.T) {
	svc := newService(&stubLedger{})

	got := svc.IntegritySignature("ORD-1_retry_1", 4490000, "COP")
	sum := sha256.Sum256([]byte("ORD-1_retry_1" + "4490000" + "COP" + "integrity_secret"))
	require.Equal(t, hex.EncodeToString(sum[:]), got)
}

func TestRetryRejectsUnsupportedMethod(t *testing.T) {
	ledger := &stubLedger{records: map[string]payment.Record{"ORD-2024-001": failedRecord()}}
	svc := newService(ledger)

	_, err := svc.Retry(context.Background(), "ORD-2024-001", RetryInput{PaymentMethod: "BITCOIN"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not offered")
	require.Empty(t, ledger.created)
}

func TestRetryRefusedWhenNotAllowed(t *testing.T) {
	rec := failedRecord()
	rec.FailedAttempts = 3
	ledger := &stubLedger{records: map[string]payment.Record{"ORD-2024-001": rec}}
	svc := newService(ledger)

	_, err := svc.Retry(context.Background(), "ORD-2024-001", RetryInput{PaymentMethod: "NEQUI"})
	require.Error(t, err)
	require.Empty(t, ledger.created)
}

func TestRetryHandlers(t *testing.T) {
	ledger := &stubLedger{records: map[string]payment.Record{"ORD-2024-001": failedRecord()}}
	h := &Handler{Svc: newService(ledger)}

	r := chi.NewRouter()
	r.Get("/api/v1/checkout/retry/{reference}", h.Eligibility)
	r.Post("/api/v1/checkout/retry/{reference}", h.Retry)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/v1/checkout/retry/ORD-2024-001")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v1/checkout/retry/ORD-2024-001", "application/json",
		bytes.NewReader([]byte(`{"paymentMethod": "NEQUI"}`)))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Data RetryOutput `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, strings.HasPrefix(out.Data.NewReference, "ORD-2024-001_retry_"))

	resp, err = http.Get(srv.URL + "/api/v1/checkout/retry/UNKNOWN")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
