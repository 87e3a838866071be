package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/codenix-ai/store-chismo/internal/events"
	"github.com/codenix-ai/store-chismo/internal/obs"
)

// ProviderEvent is a verified, normalised provider notification ready for
// reconciliation.
type ProviderEvent struct {
	Provider      string
	EventType     string
	TransactionID string
	Reference     string
	AmountInCents int64
	Currency      string
	RawStatus     string
	Status        Status
	StatusMessage string
	Method        string
	FinalizedAt   *time.Time
	Checksum      string
	Timestamp     int64
}

// Outcome reports what a reconciliation did to the ledger.
type Outcome struct {
	// Applied is true when the record transitioned to a new status.
	Applied bool
	// Duplicate is true when the event restated the stored status.
	Duplicate bool
	// Conflict is true when a terminal record refused a conflicting event.
	Conflict   bool
	FromStatus Status
	ToStatus   Status
	Record     Record
}

// Engine applies verified provider events to the payment ledger. It is the
// only writer of payment status and enforces idempotency and terminal-state
// monotonicity.
type Engine struct {
	Ledger  Ledger
	Events  *events.Bus
	Advisor Advisor
	Log     zerolog.Logger
	// Now is swappable for tests.
	Now func() time.Time
}

// Reconcile looks up the referenced payment, validates the event against it
// and persists the resulting transition. Duplicate and conflicting events
// return a successful outcome without writing status.
func (e *Engine) Reconcile(ctx context.Context, ev ProviderEvent) (Outcome, error) {
	if e == nil || e.Ledger == nil {
		return Outcome{}, errors.New("reconcile engine not configured")
	}
	ctx, span := otel.Tracer("payment.Engine").Start(ctx, "Engine.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", normaliseLabel(ev.Provider)),
		attribute.String("payment.reference", ev.Reference),
		attribute.String("payment.raw_status", ev.RawStatus),
	)

	rec, err := e.Ledger.PaymentByReference(ctx, ev.Reference)
	if err != nil {
		return Outcome{}, err
	}
	return e.apply(ctx, ev, rec, true)
}

func (e *Engine) apply(ctx context.Context, ev ProviderEvent, rec Record, mayRefetch bool) (Outcome, error) {
	if ev.AmountInCents != rec.AmountInCents || ev.Currency != rec.Currency {
		if obs.AmountMismatchTotal != nil {
			obs.AmountMismatchTotal.WithLabelValues(normaliseLabel(ev.Provider)).Inc()
		}
		e.Log.Error().
			Str("category", "security").
			Str("reference", ev.Reference).
			Int64("eventAmount", ev.AmountInCents).
			Int64("recordAmount", rec.AmountInCents).
			Str("eventCurrency", ev.Currency).
			Str("recordCurrency", rec.Currency).
			Msg("webhook amount mismatch")
		return Outcome{}, fmt.Errorf("%w: event %d %s, record %d %s",
			ErrAmountMismatch, ev.AmountInCents, ev.Currency, rec.AmountInCents, rec.Currency)
	}

	if ev.Status == rec.Status {
		e.Log.Info().
			Str("reference", ev.Reference).
			Str("status", string(rec.Status)).
			Msg("event restates stored status, nothing to do")
		return Outcome{Duplicate: true, FromStatus: rec.Status, ToStatus: rec.Status, Record: rec}, nil
	}

	if rec.Status.Terminal() || e.Advisor.Exhausted(rec) {
		return e.recordConflict(ctx, ev, rec)
	}

	input := e.buildUpdate(ev, rec)
	updated, err := e.Ledger.UpdatePayment(ctx, rec.ID, input, rec.Status)
	if err != nil {
		if errors.Is(err, ErrStaleUpdate) && mayRefetch {
			// A concurrent delivery won the write. Re-read once and decide
			// against the fresh record.
			fresh, ferr := e.Ledger.PaymentByReference(ctx, ev.Reference)
			if ferr != nil {
				return Outcome{}, ferr
			}
			return e.apply(ctx, ev, fresh, false)
		}
		return Outcome{}, err
	}

	e.appendLog(ctx, ev, rec.Status, updated)
	if obs.ReconcileTransitions != nil {
		obs.ReconcileTransitions.WithLabelValues(string(rec.Status), string(updated.Status)).Inc()
	}
	e.Log.Info().
		Str("reference", ev.Reference).
		Str("transactionId", ev.TransactionID).
		Str("from", string(rec.Status)).
		Str("to", string(updated.Status)).
		Msg("payment reconciled")

	e.emitSideEffects(ctx, ev, updated)
	return Outcome{Applied: true, FromStatus: rec.Status, ToStatus: updated.Status, Record: updated}, nil
}

// buildUpdate derives the fields to persist for the transition. Failure
// details and timestamps only move in the direction the new status implies.
func (e *Engine) buildUpdate(ev ProviderEvent, rec Record) UpdateInput {
	input := UpdateInput{
		Status:                ev.Status,
		ProviderTransactionID: ev.TransactionID,
	}
	now := e.now()
	switch ev.Status {
	case StatusCompleted:
		completedAt := now
		if ev.FinalizedAt != nil {
			completedAt = *ev.FinalizedAt
		}
		input.CompletedAt = &completedAt
	case StatusFailed:
		code := "WOMPI_" + strings.ToUpper(ev.RawStatus)
		attempts := rec.FailedAttempts + 1
		failedAt := now
		input.ErrorCode = &code
		input.FailedAttempts = &attempts
		input.FailedAt = &failedAt
		if ev.StatusMessage != "" {
			msg := ev.StatusMessage
			input.ErrorMessage = &msg
		}
	}
	return input
}

// recordConflict audits a conflicting event against a terminal record and
// raises an alert without touching status. The delivery is still acknowledged.
func (e *Engine) recordConflict(ctx context.Context, ev ProviderEvent, rec Record) (Outcome, error) {
	if obs.TerminalConflictTotal != nil {
		obs.TerminalConflictTotal.WithLabelValues(
			normaliseLabel(ev.Provider), string(rec.Status), string(ev.Status)).Inc()
	}
	e.Log.Error().
		Str("category", "alert").
		Str("reference", ev.Reference).
		Str("transactionId", ev.TransactionID).
		Str("stored", string(rec.Status)).
		Str("incoming", string(ev.Status)).
		Msg("conflicting event for terminal payment, manual review required")
	e.appendLog(ctx, ev, rec.Status, rec)
	return Outcome{Conflict: true, FromStatus: rec.Status, ToStatus: rec.Status, Record: rec}, nil
}

func (e *Engine) appendLog(ctx context.Context, ev ProviderEvent, from Status, rec Record) {
	entry := LogEntry{
		PaymentID:  rec.ID,
		EventType:  ev.EventType,
		FromStatus: from,
		ToStatus:   rec.Status,
		RawStatus:  ev.RawStatus,
		OccurredAt: e.now(),
	}
	if from == rec.Status {
		entry.Detail = fmt.Sprintf("conflicting %s event ignored for terminal payment", ev.RawStatus)
	} else if ev.StatusMessage != "" {
		entry.Detail = ev.StatusMessage
	}
	if err := e.Ledger.AppendPaymentLog(ctx, entry); err != nil {
		// The audit trail is best effort. Losing a line never fails the
		// reconciliation itself.
		e.Log.Warn().Err(err).Str("paymentId", rec.ID).Msg("append payment log failed")
	}
}

func (e *Engine) emitSideEffects(ctx context.Context, ev ProviderEvent, rec Record) {
	if e.Events == nil {
		return
	}
	payload := map[string]any{
		"reference":     rec.Reference,
		"orderId":       rec.OrderID,
		"paymentId":     rec.ID,
		"transactionId": ev.TransactionID,
		"amountInCents": rec.AmountInCents,
		"currency":      rec.Currency,
		"method":        ev.Method,
		"status":        string(rec.Status),
	}
	if rec.CustomerEmail != "" {
		payload["email"] = rec.CustomerEmail
	}
	switch rec.Status {
	case StatusCompleted:
		_ = e.Events.Emit(ctx, events.TopicPaymentCompleted, payload)
	case StatusFailed:
		reason := HumanizeFailure(ev.RawStatus, ev.StatusMessage)
		payload["failureMessage"] = reason.Message
		payload["failureSuggestion"] = reason.Suggestion
		payload["retry"] = e.Advisor.CanRetry(rec)
		_ = e.Events.Emit(ctx, events.TopicPaymentFailed, payload)
	case StatusCancelled:
		_ = e.Events.Emit(ctx, events.TopicPaymentCancelled, payload)
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
