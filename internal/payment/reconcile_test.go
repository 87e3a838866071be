package payment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codenix-ai/store-chismo/internal/events"
)

type capturingNotifier struct {
	got []events.Event
}

func (n *capturingNotifier) Notify(_ context.Context, ev events.Event) error {
	n.got = append(n.got, ev)
	return nil
}

func newTestEngine(ledger Ledger) (*Engine, *capturingNotifier) {
	notifier := &capturingNotifier{}
	return &Engine{
		Ledger:  ledger,
		Events:  &events.Bus{Notifiers: []events.Notifier{notifier}},
		Advisor: Advisor{MaxAttempts: 3, Methods: []string{"CARD", "NEQUI", "PSE"}},
	}, notifier
}

func TestReconcileApproved(t *testing.T) {
	ledger := newMockLedger(pendingRecord())
	engine, notifier := newTestEngine(ledger)

	outcome, err := engine.Reconcile(context.Background(), approvedEvent())
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.Equal(t, StatusPending, outcome.FromStatus)
	require.Equal(t, StatusCompleted, outcome.ToStatus)

	rec := ledger.record("ORD-2024-001")
	require.Equal(t, StatusCompleted, rec.Status)
	require.Equal(t, "tx-1", rec.ProviderTransactionID)
	require.NotNil(t, rec.CompletedAt)
	require.Equal(t, time.Date(2024, 3, 1, 17, 22, 5, 0, time.UTC), *rec.CompletedAt)

	require.Len(t, ledger.logs, 1)
	require.Equal(t, StatusPending, ledger.logs[0].FromStatus)
	require.Equal(t, StatusCompleted, ledger.logs[0].ToStatus)

	require.Len(t, notifier.got, 1)
	require.Equal(t, events.TopicPaymentCompleted, notifier.got[0].Topic)
}

func TestReconcileDeclinedRecordsFailureFields(t *testing.T) {
	ledger := newMockLedger(pendingRecord())
	engine, notifier := newTestEngine(ledger)

	outcome, err := engine.Reconcile(context.Background(), declinedEvent())
	require.NoError(t, err)
	require.True(t, outcome.Applied)

	rec := ledger.record("ORD-2024-001")
	require.Equal(t, StatusFailed, rec.Status)
	require.Equal(t, "WOMPI_DECLINED", rec.ErrorCode)
	require.Equal(t, "Insufficient funds", rec.ErrorMessage)
	require.Equal(t, 1, rec.FailedAttempts)
	require.NotNil(t, rec.FailedAt)
	require.Nil(t, rec.CompletedAt)

	require.Len(t, notifier.got, 1)
	require.Equal(t, events.TopicPaymentFailed, notifier.got[0].Topic)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(notifier.got[0].Payload, &payload))
	require.Equal(t, "Fondos insuficientes en tu cuenta.", payload["failureMessage"])
	retry, ok := payload["retry"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, retry["allowed"])
}

func TestReconcileDuplicateEventIsNoOp(t *testing.T) {
	rec := pendingRecord()
	rec.Status = StatusCompleted
	ledger := newMockLedger(rec)
	engine, notifier := newTestEngine(ledger)

	outcome, err := engine.Reconcile(context.Background(), approvedEvent())
	require.NoError(t, err)
	require.True(t, outcome.Duplicate)
	require.False(t, outcome.Applied)
	require.Empty(t, ledger.logs)
	require.Empty(t, notifier.got)
}

func TestReconcileAmountMismatch(t *testing.T) {
	ledger := newMockLedger(pendingRecord())
	engine, _ := newTestEngine(ledger)

	ev := approvedEvent()
	ev.AmountInCents = 100

	_, err := engine.Reconcile(context.Background(), ev)
	require.ErrorIs(t, err, ErrAmountMismatch)
	require.Equal(t, StatusPending, ledger.record("ORD-2024-001").Status)
}

func TestReconcileCurrencyMismatch(t *testing.T) {
	ledger := newMockLedger(pendingRecord())
	engine, _ := newTestEngine(ledger)

	ev := approvedEvent()
	ev.Currency = "USD"

	_, err := engine.Reconcile(context.Background(), ev)
	require.ErrorIs(t, err, ErrAmountMismatch)
}

func TestReconcileUnknownReference(t *testing.T) {
	engine, _ := newTestEngine(newMockLedger())

	_, err := engine.Reconcile(context.Background(), approvedEvent())
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestReconcileTerminalConflict(t *testing.T) {
	completed := time.Now().Add(-time.Hour)
	rec := pendingRecord()
	rec.Status = StatusCompleted
	rec.CompletedAt = &completed
	ledger := newMockLedger(rec)
	engine, notifier := newTestEngine(ledger)

	outcome, err := engine.Reconcile(context.Background(), declinedEvent())
	require.NoError(t, err)
	require.True(t, outcome.Conflict)
	require.False(t, outcome.Applied)

	// Status untouched, but the conflict is on the audit trail.
	require.Equal(t, StatusCompleted, ledger.record("ORD-2024-001").Status)
	require.Len(t, ledger.logs, 1)
	require.Contains(t, ledger.logs[0].Detail, "conflicting")
	require.Empty(t, notifier.got)
}

func TestReconcileCancelledIsTerminal(t *testing.T) {
	rec := pendingRecord()
	rec.Status = StatusCancelled
	ledger := newMockLedger(rec)
	engine, _ := newTestEngine(ledger)

	outcome, err := engine.Reconcile(context.Background(), approvedEvent())
	require.NoError(t, err)
	require.True(t, outcome.Conflict)
	require.Equal(t, StatusCancelled, ledger.record("ORD-2024-001").Status)
}

func TestReconcileFailedIsNotTerminal(t *testing.T) {
	rec := pendingRecord()
	rec.Status = StatusFailed
	rec.FailedAttempts = 1
	ledger := newMockLedger(rec)
	engine, notifier := newTestEngine(ledger)

	outcome, err := engine.Reconcile(context.Background(), approvedEvent())
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.Equal(t, StatusCompleted, outcome.ToStatus)
	require.Len(t, notifier.got, 1)
}

func TestReconcileExhaustedFailureIsFinal(t *testing.T) {
	rec := pendingRecord()
	rec.Status = StatusFailed
	rec.FailedAttempts = 3
	ledger := newMockLedger(rec)
	engine, notifier := newTestEngine(ledger)

	outcome, err := engine.Reconcile(context.Background(), approvedEvent())
	require.NoError(t, err)
	require.True(t, outcome.Conflict)
	require.False(t, outcome.Applied)

	require.Equal(t, StatusFailed, ledger.record("ORD-2024-001").Status)
	require.Len(t, ledger.logs, 1)
	require.Contains(t, ledger.logs[0].Detail, "conflicting")
	require.Empty(t, notifier.got)
}

func TestReconcileUppercasesProviderErrorCode(t *testing.T) {
	ledger := newMockLedger(pendingRecord())
	engine, _ := newTestEngine(ledger)

	ev := declinedEvent()
	ev.RawStatus = "declined"

	_, err := engine.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, "WOMPI_DECLINED", ledger.record("ORD-2024-001").ErrorCode)
}

func TestReconcileStaleUpdateRefetchesOnce(t *testing.T) {
	ledger := newMockLedger(pendingRecord())
	engine, notifier := newTestEngine(ledger)

	// A concurrent delivery completes the payment between our read and write.
	stale := pendingRecord()
	ledger.staleFirstRead = &stale
	ledger.setStatus("ORD-2024-001", StatusCompleted)

	outcome, err := engine.Reconcile(context.Background(), approvedEvent())
	require.NoError(t, err)
	require.True(t, outcome.Duplicate)
	require.Empty(t, notifier.got)
}

func TestReconcileSecondFailureIncrementsAttempts(t *testing.T) {
	rec := pendingRecord()
	rec.FailedAttempts = 1
	ledger := newMockLedger(rec)
	engine, _ := newTestEngine(ledger)

	_, err := engine.Reconcile(context.Background(), declinedEvent())
	require.NoError(t, err)
	require.Equal(t, 2, ledger.record("ORD-2024-001").FailedAttempts)
}
