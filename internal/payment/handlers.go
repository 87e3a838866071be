package payment

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codenix-ai/store-chismo/internal/common"
)

// Handler exposes HTTP endpoints for payment status polling.
type Handler struct {
	Ledger  Ledger
	Advisor Advisor
}

type statusResp struct {
	Reference     string         `json:"reference"`
	OrderID       string         `json:"orderId,omitempty"`
	Status        string         `json:"status"`
	TransactionID string         `json:"transactionId,omitempty"`
	Method        string         `json:"method,omitempty"`
	AmountInCents int64          `json:"amountInCents"`
	Currency      string         `json:"currency"`
	Failure       *FailureReason `json:"failure,omitempty"`
	Retry         *Decision      `json:"retry,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Status reports the current payment state for a checkout reference. The
// storefront polls this while the customer waits on the result page.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Ledger == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "reference is required", nil)
		return
	}
	rec, err := h.Ledger.PaymentByReference(r.Context(), reference)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			common.JSONError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "STATUS_ERROR", "unable to fetch payment", nil)
		return
	}
	resp := statusResp{
		Reference:     rec.Reference,
		OrderID:       rec.OrderID,
		Status:        string(rec.Status),
		TransactionID: rec.ProviderTransactionID,
		Method:        rec.Method,
		AmountInCents: rec.AmountInCents,
		Currency:      rec.Currency,
		UpdatedAt:     rec.UpdatedAt,
	}
	if rec.Status == StatusFailed {
		reason := HumanizeFailure(strings.TrimPrefix(rec.ErrorCode, "WOMPI_"), rec.ErrorMessage)
		resp.Failure = &reason
		decision := h.Advisor.CanRetry(rec)
		resp.Retry = &decision
	}
	common.JSON(w, http.StatusOK, resp)
}
