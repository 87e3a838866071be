package payment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanRetryFailedPayment(t *testing.T) {
	advisor := Advisor{MaxAttempts: 3, Methods: []string{"CARD", "NEQUI", "PSE"}}

	rec := pendingRecord()
	rec.Status = StatusFailed
	rec.FailedAttempts = 1
	rec.Method = "CARD"

	decision := advisor.CanRetry(rec)
	require.True(t, decision.Allowed)
	require.Equal(t, 2, decision.RemainingAttempts)
	require.Equal(t, []string{"NEQUI", "PSE"}, decision.SuggestedMethods)
}

func TestCanRetryRefusesAfterMaxAttempts(t *testing.T) {
	advisor := Advisor{MaxAttempts: 3, Methods: []string{"CARD"}}

	rec := pendingRecord()
	rec.Status = StatusFailed
	rec.FailedAttempts = 3

	decision := advisor.CanRetry(rec)
	require.False(t, decision.Allowed)
	require.Equal(t, "maximum payment attempts reached", decision.Reason)
}

func TestCanRetryOnlyFailedPayments(t *testing.T) {
	advisor := Advisor{MaxAttempts: 3, Methods: []string{"CARD"}}

	for _, status := range []Status{StatusPending, StatusCompleted, StatusCancelled} {
		rec := pendingRecord()
		rec.Status = status
		require.False(t, advisor.CanRetry(rec).Allowed, "status %s must not be retryable", status)
	}
}

func TestCanRetryKeepsMethodsWhenOnlyOneConfigured(t *testing.T) {
	advisor := Advisor{MaxAttempts: 3, Methods: []string{"CARD"}}

	rec := pendingRecord()
	rec.Status = StatusFailed
	rec.FailedAttempts = 1
	rec.Method = "CARD"

	// Filtering out the failed method would leave nothing to offer.
	require.Equal(t, []string{"CARD"}, advisor.CanRetry(rec).SuggestedMethods)
}

func TestExhaustedOnlyForFailedAtCap(t *testing.T) {
	advisor := Advisor{MaxAttempts: 3}

	rec := pendingRecord()
	rec.Status = StatusFailed
	rec.FailedAttempts = 2
	require.False(t, advisor.Exhausted(rec))

	rec.FailedAttempts = 3
	require.True(t, advisor.Exhausted(rec))

	rec.Status = StatusPending
	require.False(t, advisor.Exhausted(rec))
}

func TestCanRetryDefaultsMaxAttempts(t *testing.T) {
	advisor := Advisor{Methods: []string{"CARD", "NEQUI"}}

	rec := pendingRecord()
	rec.Status = StatusFailed
	rec.FailedAttempts = 2

	decision := advisor.CanRetry(rec)
	require.True(t, decision.Allowed)
	require.Equal(t, 1, decision.RemainingAttempts)
}
