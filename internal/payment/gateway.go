package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/codenix-ai/store-chismo/internal/wompi"
)

// Verification failures surfaced by gateways. The webhook adapter maps each
// to its own HTTP response.
var (
	ErrEventMalformed      = errors.New("payment: malformed provider event")
	ErrInvalidSignature    = errors.New("payment: invalid event signature")
	ErrEventTooOld         = errors.New("payment: provider event too old")
	ErrEnvironmentMismatch = errors.New("payment: event environment mismatch")
	// ErrEventSkipped marks event types outside the processing allow list.
	// They are acknowledged without reconciliation.
	ErrEventSkipped = errors.New("payment: event type not processed")
)

// Gateway parses and authenticates a provider webhook body into a normalised
// event ready for reconciliation.
type Gateway interface {
	ParseAndVerify(body []byte, now time.Time) (ProviderEvent, error)
}

// WompiGateway adapts Wompi webhook events.
type WompiGateway struct {
	Verifier   wompi.Verifier
	Classifier wompi.Classifier
}

func (g WompiGateway) ParseAndVerify(body []byte, now time.Time) (ProviderEvent, error) {
	ev, err := wompi.Parse(body)
	if err != nil {
		return ProviderEvent{}, fmt.Errorf("%w: %v", ErrEventMalformed, err)
	}
	if err := g.Verifier.Verify(ev, now); err != nil {
		switch {
		case errors.Is(err, wompi.ErrInvalidChecksum):
			return ProviderEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		case errors.Is(err, wompi.ErrEventTooOld):
			return ProviderEvent{}, fmt.Errorf("%w: %v", ErrEventTooOld, err)
		case errors.Is(err, wompi.ErrEnvironmentMismatch):
			return ProviderEvent{}, fmt.Errorf("%w: %v", ErrEnvironmentMismatch, err)
		default:
			return ProviderEvent{}, err
		}
	}
	if !g.Classifier.ShouldProcess(ev.Event) {
		return ProviderEvent{}, fmt.Errorf("%w: %s", ErrEventSkipped, ev.Event)
	}
	tx, err := ev.Transaction()
	if err != nil || tx.ID == "" || tx.Reference == "" {
		return ProviderEvent{}, fmt.Errorf("%w: event carries no transaction", ErrEventMalformed)
	}
	normalised := ProviderEvent{
		Provider:      "wompi",
		EventType:     ev.Event,
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		AmountInCents: tx.AmountInCents,
		Currency:      tx.Currency,
		RawStatus:     tx.Status,
		Status:        MapWompiStatus(tx.Status),
		StatusMessage: tx.StatusMessage,
		Method:        tx.PaymentMethodType,
		Checksum:      ev.Signature.Checksum,
		Timestamp:     ev.Timestamp,
	}
	if finalized, ok := tx.FinalizedTime(); ok {
		normalised.FinalizedAt = &finalized
	}
	return normalised, nil
}
