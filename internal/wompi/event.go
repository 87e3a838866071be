package wompi

import (
	"encoding/json"
	"time"
)

// Event is the envelope Wompi posts to the webhook endpoint. Data is kept raw
// because the signature covers property paths resolved against the original
// payload, not against any decoded struct.
type Event struct {
	Event       string          `json:"event" validate:"required"`
	Data        json.RawMessage `json:"data" validate:"required"`
	Environment string          `json:"environment"`
	Signature   Signature       `json:"signature"`
	Timestamp   int64           `json:"timestamp" validate:"required"`
	SentAt      string          `json:"sent_at"`
}

// Signature declares which property paths participate in the checksum.
type Signature struct {
	Properties []string `json:"properties"`
	Checksum   string   `json:"checksum" validate:"required"`
}

// Transaction is the decoded transaction section of an event's data payload.
type Transaction struct {
	ID                string `json:"id"`
	AmountInCents     int64  `json:"amount_in_cents"`
	Reference         string `json:"reference"`
	CustomerEmail     string `json:"customer_email"`
	Currency          string `json:"currency"`
	PaymentMethodType string `json:"payment_method_type"`
	Status            string `json:"status"`
	StatusMessage     string `json:"status_message"`
	CreatedAt         string `json:"created_at"`
	FinalizedAt       string `json:"finalized_at"`
}

// Transaction decodes the transaction section of the data payload.
func (e *Event) Transaction() (Transaction, error) {
	var data struct {
		Transaction Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return Transaction{}, err
	}
	return data.Transaction, nil
}

// FinalizedTime parses the transaction's finalized_at timestamp when present.
func (t Transaction) FinalizedTime() (time.Time, bool) {
	if t.FinalizedAt == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, t.FinalizedAt)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
