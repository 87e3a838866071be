package payment

import "strings"

// MapWompiStatus translates a Wompi transaction status into the internal
// lifecycle. The mapping is total: unknown or empty statuses stay PENDING so
// a new provider vocabulary never breaks reconciliation.
func MapWompiStatus(status string) Status {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "APPROVED":
		return StatusCompleted
	case "DECLINED", "ERROR":
		return StatusFailed
	case "VOIDED":
		return StatusCancelled
	default:
		return StatusPending
	}
}
