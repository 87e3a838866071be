// Package checkout drives payment retries: eligibility checks and the
// creation of a fresh Wompi checkout for a failed payment.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codenix-ai/store-chismo/internal/common"
	"github.com/codenix-ai/store-chismo/internal/events"
	"github.com/codenix-ai/store-chismo/internal/obs"
	"github.com/codenix-ai/store-chismo/internal/payment"
)

type Service struct {
	Ledger  payment.Ledger
	Advisor payment.Advisor
	Events  *events.Bus
	// PublicKey and IntegritySecret belong to the Wompi merchant account.
	PublicKey       string
	IntegritySecret string
	CheckoutBaseURL string
	// Currency is the fallback for records stored without one.
	Currency string
	// Now is swappable for tests.
	Now func() time.Time
}

// Eligibility describes whether and how a payment can be retried.
type Eligibility struct {
	Reference     string           `json:"reference"`
	OrderID       string           `json:"orderId,omitempty"`
	Status        string           `json:"status"`
	AmountInCents int64            `json:"amountInCents"`
	Currency      string           `json:"currency"`
	Retry         payment.Decision `json:"retry"`
}

type RetryInput struct {
	PaymentMethod string `json:"paymentMethod"`
}

// RetryOutput carries everything the storefront needs to open the new Wompi
// checkout widget.
type RetryOutput struct {
	NewReference       string `json:"newReference"`
	AmountInCents      int64  `json:"amountInCents"`
	Currency           string `json:"currency"`
	PublicKey          string `json:"publicKey"`
	IntegritySignature string `json:"integritySignature"`
	CheckoutURL        string `json:"checkoutUrl,omitempty"`
	PaymentMethod      string `json:"paymentMethod"`
}

// CheckEligibility fetches the payment and evaluates the retry policy.
func (s *Service) CheckEligibility(ctx context.Context, reference string) (Eligibility, error) {
	if s == nil || s.Ledger == nil {
		return Eligibility{}, errors.New("checkout service not configured")
	}
	rec, err := s.Ledger.PaymentByReference(ctx, reference)
	if err != nil {
		return Eligibility{}, err
	}
	return Eligibility{
		Reference:     rec.Reference,
		OrderID:       rec.OrderID,
		Status:        string(rec.Status),
		AmountInCents: rec.AmountInCents,
		Currency:      rec.Currency,
		Retry:         s.Advisor.CanRetry(rec),
	}, nil
}

// Retry creates a new pending payment record for the failed one and signs a
// fresh Wompi checkout. The old record keeps its failure history untouched.
func (s *Service) Retry(ctx context.Context, reference string, in RetryInput) (RetryOutput, error) {
	if s == nil || s.Ledger == nil {
		return RetryOutput{}, errors.New("checkout service not configured")
	}
	method := strings.ToUpper(strings.TrimSpace(in.PaymentMethod))
	if method == "" {
		return RetryOutput{}, common.NewAppError("BAD_REQUEST", "paymentMethod is required", http.StatusBadRequest, nil)
	}
	if !s.methodSupported(method) {
		return RetryOutput{}, common.NewAppError("METHOD_NOT_SUPPORTED",
			fmt.Sprintf("payment method %s is not offered", method), http.StatusBadRequest, nil)
	}

	rec, err := s.Ledger.PaymentByReference(ctx, reference)
	if err != nil {
		return RetryOutput{}, err
	}
	decision := s.Advisor.CanRetry(rec)
	if !decision.Allowed {
		return RetryOutput{}, common.NewAppError("RETRY_NOT_ALLOWED", decision.Reason, http.StatusConflict, nil)
	}

	currency := rec.Currency
	if currency == "" {
		currency = s.Currency
	}
	newReference := fmt.Sprintf("%s_retry_%d", rec.Reference, s.now().UnixMilli())
	created, err := s.Ledger.CreatePayment(ctx, payment.CreateInput{
		OrderID:       rec.OrderID,
		Reference:     newReference,
		AmountInCents: rec.AmountInCents,
		Currency:      currency,
		Status:        payment.StatusPending,
		Provider:      rec.Provider,
		Method:        method,
		CustomerEmail: rec.CustomerEmail,
	})
	if err != nil {
		return RetryOutput{}, fmt.Errorf("create retry payment: %w", err)
	}

	if obs.RetryInitiatedTotal != nil {
		obs.RetryInitiatedTotal.WithLabelValues(strings.ToLower(method)).Inc()
	}
	if s.Events != nil {
		_ = s.Events.Emit(ctx, events.TopicPaymentRetried, map[string]any{
			"reference":    rec.Reference,
			"newReference": created.Reference,
			"orderId":      created.OrderID,
			"method":       method,
		})
	}

	out := RetryOutput{
		NewReference:       created.Reference,
		AmountInCents:      created.AmountInCents,
		Currency:           created.Currency,
		PublicKey:          s.PublicKey,
		IntegritySignature: s.IntegritySignature(created.Reference, created.AmountInCents, created.Currency),
		PaymentMethod:      method,
	}
	if s.CheckoutBaseURL != "" {
		out.CheckoutURL = s.checkoutURL(out)
	}
	return out, nil
}

// IntegritySignature computes the signature Wompi requires to open a
// checkout: SHA-256 over reference, amount, currency and the merchant secret.
func (s *Service) IntegritySignature(reference string, amountInCents int64, currency string) string {
	raw := reference + strconv.FormatInt(amountInCents, 10) + currency + s.IntegritySecret
	return common.Sha256Hex(raw)
}

func (s *Service) checkoutURL(out RetryOutput) string {
	q := url.Values{}
	q.Set("public-key", s.PublicKey)
	q.Set("currency", out.Currency)
	q.Set("amount-in-cents", strconv.FormatInt(out.AmountInCents, 10))
	q.Set("reference", out.NewReference)
	q.Set("signature:integrity", out.IntegritySignature)
	return strings.TrimRight(s.CheckoutBaseURL, "/") + "/?" + q.Encode()
}

func (s *Service) methodSupported(method string) bool {
	for _, m := range s.Advisor.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
