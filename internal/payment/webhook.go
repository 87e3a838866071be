package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/codenix-ai/store-chismo/internal/common"
	"github.com/codenix-ai/store-chismo/internal/obs"
)

// Webhook handles payment provider callbacks: signature verification,
// classification and reconciliation against the ledger.
type Webhook struct {
	Gateways  map[string]Gateway
	Engine    *Engine
	Replay    *redis.Client
	ReplayTTL time.Duration
	// HandleTimeout bounds a single delivery end to end so a slow ledger
	// never holds the provider's connection open indefinitely.
	HandleTimeout time.Duration
	Log           zerolog.Logger
}

// Handle processes one webhook delivery. Responses follow the provider
// contract: 2xx acknowledges, 401 signals a forged signature, 4xx rejects the
// payload and 5xx asks the provider to redeliver later.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil || h.Gateways == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	gateway, ok := h.Gateways[providerKey]
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	ctx := r.Context()
	if h.HandleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.HandleTimeout)
		defer cancel()
	}

	ev, err := gateway.ParseAndVerify(body, time.Now())
	if err != nil {
		h.rejectVerification(w, r, providerKey, err)
		return
	}

	// Some providers echo the body checksum in a header. When both are
	// present they must agree, otherwise the delivery was tampered in flight.
	if header := r.Header.Get("x-event-checksum"); header != "" && !strings.EqualFold(header, ev.Checksum) {
		h.Log.Warn().
			Str("category", "security").
			Str("provider", providerKey).
			Str("reference", ev.Reference).
			Msg("checksum header disagrees with event body")
		h.count(providerKey, "header_mismatch")
		common.JSONError(w, http.StatusBadRequest, "CHECKSUM_HEADER_MISMATCH", "checksum header does not match event", nil)
		return
	}

	if h.isReplay(ctx, providerKey, body) {
		h.count(providerKey, "duplicate")
		common.JSON(w, http.StatusOK, map[string]string{"message": "duplicate delivery"})
		return
	}

	outcome, err := h.Engine.Reconcile(ctx, ev)
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			h.count(providerKey, "not_found")
			h.Log.Warn().Str("provider", providerKey).Str("reference", ev.Reference).Msg("webhook for unknown payment")
			common.JSONError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found", nil)
		case errors.Is(err, ErrAmountMismatch):
			h.count(providerKey, "amount_mismatch")
			common.JSONError(w, http.StatusBadRequest, "AMOUNT_MISMATCH", "provider amount mismatch", nil)
		default:
			h.count(providerKey, "error")
			h.Log.Error().Err(err).Str("provider", providerKey).Str("reference", ev.Reference).Msg("reconciliation failed")
			common.JSONError(w, http.StatusInternalServerError, "RECONCILE_ERROR", "unable to process event", nil)
		}
		return
	}

	h.count(providerKey, outcomeLabel(outcome))
	common.JSON(w, http.StatusOK, map[string]any{
		"reference":      outcome.Record.Reference,
		"transactionId":  ev.TransactionID,
		"previousStatus": string(outcome.FromStatus),
		"status":         string(outcome.ToStatus),
		"result":         outcomeLabel(outcome),
	})
}

func (h Webhook) rejectVerification(w http.ResponseWriter, r *http.Request, provider string, err error) {
	switch {
	case errors.Is(err, ErrEventSkipped):
		h.count(provider, "skipped")
		common.JSON(w, http.StatusOK, map[string]string{"message": "event type not processed"})
	case errors.Is(err, ErrEventMalformed):
		h.count(provider, "malformed")
		common.JSONError(w, http.StatusBadRequest, "MALFORMED_EVENT", "event payload is malformed", nil)
	case errors.Is(err, ErrInvalidSignature):
		if obs.SignatureRejectsTotal != nil {
			obs.SignatureRejectsTotal.WithLabelValues(provider, "checksum").Inc()
		}
		h.Log.Warn().
			Str("category", "security").
			Str("provider", provider).
			Str("remoteIp", common.ClientIP(r)).
			Msg("webhook signature verification failed")
		h.count(provider, "invalid_signature")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
	case errors.Is(err, ErrEventTooOld):
		if obs.SignatureRejectsTotal != nil {
			obs.SignatureRejectsTotal.WithLabelValues(provider, "stale").Inc()
		}
		h.count(provider, "stale")
		common.JSONError(w, http.StatusBadRequest, "EVENT_TOO_OLD", err.Error(), nil)
	case errors.Is(err, ErrEnvironmentMismatch):
		if obs.SignatureRejectsTotal != nil {
			obs.SignatureRejectsTotal.WithLabelValues(provider, "environment").Inc()
		}
		h.count(provider, "environment")
		common.JSONError(w, http.StatusBadRequest, "ENVIRONMENT_MISMATCH", "event environment does not match", nil)
	default:
		h.count(provider, "error")
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
	}
}

// isReplay is a fast-path guard against duplicate deliveries of the same
// body. It is best effort: when redis is unavailable processing continues and
// the engine's idempotency check is the safety net.
func (h Webhook) isReplay(ctx context.Context, provider string, body []byte) bool {
	if h.Replay == nil || h.ReplayTTL <= 0 {
		return false
	}
	key := fmt.Sprintf("wh:%s:%s", provider, common.Sha256Hex(string(body)))
	ok, err := h.Replay.SetNX(ctx, key, "1", h.ReplayTTL).Result()
	if err != nil {
		h.Log.Warn().Err(err).Msg("replay guard unavailable, continuing without it")
		return false
	}
	return !ok
}

func (h Webhook) count(provider, result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(provider, result).Inc()
	}
}

func outcomeLabel(o Outcome) string {
	switch {
	case o.Conflict:
		return "conflict"
	case o.Duplicate:
		return "duplicate"
	default:
		return "applied"
	}
}
