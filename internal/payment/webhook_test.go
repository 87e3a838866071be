package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codenix-ai/store-chismo/internal/wompi"
)

const webhookSecret = "test_events_secret"

func signedBody(t *testing.T, eventType, reference, status string, amount int64, env string, ts int64) []byte {
	t.Helper()
	data := fmt.Sprintf(`{"transaction":{"id":"tx-1","amount_in_cents":%d,"reference":%q,"currency":"COP","payment_method_type":"CARD","status":%q,"status_message":"","finalized_at":"2024-03-01T17:22:05.000Z"}}`,
		amount, reference, status)
	ev := &wompi.Event{
		Event:       eventType,
		Data:        json.RawMessage(data),
		Environment: env,
		Timestamp:   ts,
		Signature: wompi.Signature{
			Properties: []string{"transaction.id", "transaction.status", "transaction.amount_in_cents"},
		},
	}
	checksum, err := wompi.ComputeChecksum(ev, webhookSecret)
	require.NoError(t, err)
	ev.Signature.Checksum = checksum
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return body
}

func newWebhookServer(t *testing.T, ledger Ledger, replay *redis.Client) *httptest.Server {
	t.Helper()
	h := Webhook{
		Gateways: map[string]Gateway{"wompi": WompiGateway{
			Verifier: wompi.Verifier{
				Secret:      webhookSecret,
				MaxEventAge: time.Hour,
				Environment: "test",
			},
			Classifier: wompi.Classifier{Processable: []string{"transaction.updated"}},
		}},
		Engine:    &Engine{Ledger: ledger, Advisor: Advisor{MaxAttempts: 3}},
		Replay:    replay,
		ReplayTTL: time.Minute,
	}
	r := chi.NewRouter()
	r.Post("/api/v1/webhooks/payments/{provider}", h.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postWebhook(t *testing.T, srv *httptest.Server, provider string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/webhooks/payments/"+provider, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestWebhookApprovedFlow(t *testing.T) {
	ledger := newMockLedger(pendingRecord())
	srv := newWebhookServer(t, ledger, nil)

	body := signedBody(t, "transaction.updated", "ORD-2024-001", "APPROVED", 4490000, "test", time.Now().Unix())
	resp := postWebhook(t, srv, "wompi", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "applied", out["result"])
	require.Equal(t, "COMPLETED", out["status"])
	require.Equal(t, StatusCompleted, ledger.record("ORD-2024-001").Status)
}

func TestWebhookTamperedChecksum(t *testing.T) {
	ledger := newMockLedger(pendingRecord())
	srv := newWebhookServer(t, ledger, nil)

	body := signedBody(t, "transaction.updated", "ORD-2024-001", "APPROVED", 4490000, "test", time.Now().Unix())
	body = bytes.Replace(body, []byte(`"checksum":"`), []byte(`"checksum":"0000`), 1)

	resp := postWebhook(t, srv, "wompi", body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, StatusPending, ledger.record("ORD-2024-001").Status)
}

func TestWebhookAmountMismatch(t *testing.T) {
	ledger := newMockLedger(pendingRecord())
	srv := newWebhookServer(t, ledger, nil)

	// Correctly signed event, but the amount disagrees with the ledger.
	body := signedBody(t, "transaction.updated", "ORD-2024-001", "APPROVED", 100, "test", time.Now().Unix())
	resp := postWebhook(t, srv, "wompi", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, StatusPending, ledger.record("ORD-2024-001").Status)
}

func TestWebhookUnknownPayment(t *testing.T) {
	srv := newWebhookServer(t, newMockLedger(), nil)

	body := signedBody(t, "transaction.updated", "ORD-MISSING", "APPROVED", 4490000, "test", time.Now().Unix())
	resp := postWebhook(t, srv, "wompi", body)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookIgnoredEventType(t *testing.T) {
	ledger := newMockLedger(pendingRecord())
	srv := newWebhookServer(t, ledger, nil)

	body := signedBody(t, "transaction.created", "ORD-2024-001", "PENDING", 4490000, "test", time.Now().Unix())
	resp := postWebhook(t, srv, "wompi", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "event type not processed", out["message"])
	require.Equal(t, StatusPending, ledger.record("ORD-2024-001").Status)
}

func TestWebhookMalformedBody(t *testing.T) {
	srv := newWebhookServer(t, newMockLedger(), nil)

	resp := postWebhook(t, srv, "wompi", []byte(`{"event": "transaction.updated"`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookStaleEvent(t *testing.T) {
	srv := newWebhookServer(t, newMockLedger(pendingRecord()), nil)

	body := signedBody(t, "transaction.updated", "ORD-2024-001", "APPROVED", 4490000, "test", time.Now().Add(-2*time.Hour).Unix())
	resp := postWebhook(t, srv, "wompi", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookEnvironmentMismatch(t *testing.T) {
	srv := newWebhookServer(t, newMockLedger(pendingRecord()), nil)

	body := signedBody(t, "transaction.updated", "ORD-2024-001", "APPROVED", 4490000, "prod", time.Now().Unix())
	resp := postWebhook(t, srv, "wompi", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookUnknownProvider(t *testing.T) {
	srv := newWebhookServer(t, newMockLedger(), nil)

	resp := postWebhook(t, srv, "stripe", []byte(`{}`))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookChecksumHeaderMismatch(t *testing.T) {
	srv := newWebhookServer(t, newMockLedger(pendingRecord()), nil)

	body := signedBody(t, "transaction.updated", "ORD-2024-001", "APPROVED", 4490000, "test", time.Now().Unix())
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/webhooks/payments/wompi", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("x-event-checksum", "DEADBEEF")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	replay := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ledger := newMockLedger(pendingRecord())
	srv := newWebhookServer(t, ledger, replay)

	body := signedBody(t, "transaction.updated", "ORD-2024-001", "APPROVED", 4490000, "test", time.Now().Unix())

	first := postWebhook(t, srv, "wompi", body)
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postWebhook(t, srv, "wompi", body)
	require.Equal(t, http.StatusOK, second.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(second.Body).Decode(&out))
	require.Equal(t, "duplicate delivery", out["message"])

	// The first delivery already applied; the guard kept the second away
	// from the ledger entirely.
	require.Len(t, ledger.logs, 1)
}

func TestWebhookRedeliveryAfterGuardExpiryIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	replay := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ledger := newMockLedger(pendingRecord())
	srv := newWebhookServer(t, ledger, replay)

	body := signedBody(t, "transaction.updated", "ORD-2024-001", "APPROVED", 4490000, "test", time.Now().Unix())

	first := postWebhook(t, srv, "wompi", body)
	require.Equal(t, http.StatusOK, first.StatusCode)

	mr.FastForward(2 * time.Minute)

	second := postWebhook(t, srv, "wompi", body)
	require.Equal(t, http.StatusOK, second.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(second.Body).Decode(&out))
	require.Equal(t, "duplicate", out["result"])
	require.Equal(t, StatusCompleted, ledger.record("ORD-2024-001").Status)
}
