package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/codenix-ai/store-chismo/internal/common"
	"github.com/codenix-ai/store-chismo/internal/payment"
)

type Handler struct {
	Svc *Service
}

// Eligibility reports whether the referenced payment can be retried.
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "reference is required", nil)
		return
	}
	out, err := h.Svc.CheckEligibility(r.Context(), reference)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, out)
}

// Retry opens a fresh checkout for a failed payment.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "reference is required", nil)
		return
	}
	var payload RetryInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	out, err := h.Svc.Retry(r.Context(), reference, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, payment.ErrPaymentNotFound) {
		common.JSONError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found", nil)
		return
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = "BAD_REQUEST"
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process request", nil)
}
