package payment

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status is the internal payment lifecycle status. Provider vocabularies are
// mapped onto this set before any state is touched.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether a status may never be overwritten by a later event.
// FAILED is retryable and therefore not terminal on its own.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var (
	ErrPaymentNotFound = errors.New("payment: record not found")
	ErrStaleUpdate     = errors.New("payment: record changed since read")
	ErrAmountMismatch  = errors.New("payment: amount or currency mismatch")
)

// Record is a payment as stored in the ledger.
type Record struct {
	ID                    string
	OrderID               string
	Reference             string
	AmountInCents         int64
	Currency              string
	Status                Status
	Provider              string
	Method                string
	CustomerEmail         string
	ProviderTransactionID string
	ErrorCode             string
	ErrorMessage          string
	FailedAttempts        int
	CompletedAt           *time.Time
	FailedAt              *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// UpdateInput carries the fields a reconciliation may persist. Nil pointers
// leave the stored value untouched.
type UpdateInput struct {
	Status                Status
	ProviderTransactionID string
	ErrorCode             *string
	ErrorMessage          *string
	FailedAttempts        *int
	CompletedAt           *time.Time
	FailedAt              *time.Time
}

// CreateInput describes a new payment record, used when a retry is initiated.
type CreateInput struct {
	OrderID       string
	Reference     string
	AmountInCents int64
	Currency      string
	Status        Status
	Provider      string
	Method        string
	CustomerEmail string
}

// LogEntry is one append-only audit line attached to a payment.
type LogEntry struct {
	PaymentID  string
	EventType  string
	FromStatus Status
	ToStatus   Status
	RawStatus  string
	Detail     string
	OccurredAt time.Time
}

// Ledger is the system of record for payments. Implementations must make
// UpdatePayment conditional on the expected current status and report
// ErrStaleUpdate when that check fails.
type Ledger interface {
	PaymentByReference(ctx context.Context, reference string) (Record, error)
	UpdatePayment(ctx context.Context, id string, input UpdateInput, expected Status) (Record, error)
	CreatePayment(ctx context.Context, input CreateInput) (Record, error)
	AppendPaymentLog(ctx context.Context, entry LogEntry) error
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
