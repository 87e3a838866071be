package payment

import "strings"

// Advisor decides whether a failed payment may be retried and with which
// payment methods.
type Advisor struct {
	// MaxAttempts bounds how many times a payment may fail before retries
	// are refused.
	MaxAttempts int
	// Methods is the full list of payment methods offered at checkout.
	Methods []string
}

// Decision is the advisor's answer for one payment record.
type Decision struct {
	Allowed           bool     `json:"allowed"`
	RemainingAttempts int      `json:"remainingAttempts"`
	SuggestedMethods  []string `json:"suggestedMethods"`
	Reason            string   `json:"reason,omitempty"`
}

// CanRetry evaluates a record against the retry policy. Only FAILED payments
// under the attempt cap are retryable; the method that just failed is dropped
// from the suggestions.
func (a Advisor) CanRetry(rec Record) Decision {
	max := a.MaxAttempts
	if max <= 0 {
		max = 3
	}
	if rec.Status != StatusFailed {
		return Decision{Reason: "payment is not in a failed state"}
	}
	if rec.FailedAttempts >= max {
		return Decision{Reason: "maximum payment attempts reached"}
	}
	return Decision{
		Allowed:           true,
		RemainingAttempts: max - rec.FailedAttempts,
		SuggestedMethods:  a.suggestMethods(rec.Method),
	}
}

// Exhausted reports whether a FAILED record has used up its attempt budget.
// Such a record is final and later events may not move it silently.
func (a Advisor) Exhausted(rec Record) bool {
	max := a.MaxAttempts
	if max <= 0 {
		max = 3
	}
	return rec.Status == StatusFailed && rec.FailedAttempts >= max
}

func (a Advisor) suggestMethods(failed string) []string {
	suggested := make([]string, 0, len(a.Methods))
	for _, m := range a.Methods {
		if !strings.EqualFold(m, failed) {
			suggested = append(suggested, m)
		}
	}
	if len(suggested) == 0 {
		return a.Methods
	}
	return suggested
}
