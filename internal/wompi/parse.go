package wompi

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedEvent      = errors.New("wompi: malformed event")
	ErrInvalidChecksum     = errors.New("wompi: invalid event checksum")
	ErrEventTooOld         = errors.New("wompi: event is too old")
	ErrEnvironmentMismatch = errors.New("wompi: event environment mismatch")
)

var validate = validator.New()

// Parse decodes and structurally validates a webhook body. Events missing the
// envelope fields required for verification are rejected as malformed.
func Parse(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(&ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &ev, nil
}

// Classifier decides which event types the webhook processes. Anything outside
// the allow list is acknowledged without touching payment state.
type Classifier struct {
	Processable []string
}

func (c Classifier) ShouldProcess(eventType string) bool {
	for _, allowed := range c.Processable {
		if eventType == allowed {
			return true
		}
	}
	return false
}

// TransactionInfo is a flat summary of an event used for structured logging.
type TransactionInfo struct {
	EventType     string
	TransactionID string
	Reference     string
	Status        string
	AmountInCents int64
	Currency      string
	Method        string
	Environment   string
}

// ExtractTransactionInfo pulls log-safe transaction fields from an event. It
// never fails; a payload without a transaction yields a partial summary.
func ExtractTransactionInfo(ev *Event) TransactionInfo {
	info := TransactionInfo{EventType: ev.Event, Environment: ev.Environment}
	tx, err := ev.Transaction()
	if err != nil {
		return info
	}
	info.TransactionID = tx.ID
	info.Reference = tx.Reference
	info.Status = tx.Status
	info.AmountInCents = tx.AmountInCents
	info.Currency = tx.Currency
	info.Method = tx.PaymentMethodType
	return info
}
