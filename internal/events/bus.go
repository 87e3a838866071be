package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one emitted domain event. Payload is always a JSON object.
type Event struct {
	ID         uuid.UUID
	Topic      string
	Payload    []byte
	OccurredAt time.Time
}

// Notifier reacts to emitted events (e.g. email, fulfillment, queue).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus fans emitted events out to downstream handlers. There is no persistence
// here; the payment ledger's audit log is the durable trail, the bus only
// drives side effects.
type Bus struct {
	Notifiers []Notifier
	Log       zerolog.Logger
}

// Emit dispatches the event to all configured notifiers. A failing notifier
// never blocks the others; the joined error carries every failure.
func (b *Bus) Emit(ctx context.Context, topic string, payload any) error {
	if b == nil {
		return errors.New("events: bus not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("events: topic is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("events: encode payload: %w", err)
	}
	ev := Event{
		ID:         uuid.New(),
		Topic:      topic,
		Payload:    encoded,
		OccurredAt: time.Now(),
	}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			b.Log.Warn().Err(notifyErr).Str("topic", topic).Str("eventId", ev.ID.String()).Msg("notifier failed")
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		return encodePayload([]byte(v))
	case string:
		if strings.TrimSpace(v) == "" {
			return []byte("{}"), nil
		}
		data := []byte(v)
		if !json.Valid(data) {
			return nil, errors.New("payload is not valid json")
		}
		return data, nil
	default:
		return json.Marshal(v)
	}
}
