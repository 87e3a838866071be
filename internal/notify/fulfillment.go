package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/codenix-ai/store-chismo/internal/events"
	"github.com/codenix-ai/store-chismo/internal/obs"
	"github.com/codenix-ai/store-chismo/internal/resilience"
)

// Fulfillment asks the fulfillment service to start preparing an order once
// its payment completes. Other topics are ignored.
type Fulfillment struct {
	URL  string
	HTTP resilience.HTTPClient
	Log  zerolog.Logger
}

// Notify implements the events.Notifier interface.
func (f Fulfillment) Notify(ctx context.Context, event events.Event) error {
	if event.Topic != events.TopicPaymentCompleted || f.URL == "" {
		return nil
	}
	body := map[string]any{
		"eventId":    event.ID.String(),
		"occurredAt": event.OccurredAt,
		"payment":    json.RawMessage(event.Payload),
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("fulfillment notify: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("fulfillment notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.HTTP.Do(ctx, req)
	if err == nil {
		_ = resp.Body.Close()
	}
	if obs.NotificationTotal != nil {
		result := "sent"
		if err != nil {
			result = "error"
		}
		obs.NotificationTotal.WithLabelValues("fulfillment", result).Inc()
	}
	if err != nil {
		f.Log.Error().Err(err).Str("eventId", event.ID.String()).Msg("fulfillment trigger failed")
		return fmt.Errorf("fulfillment notify: %w", err)
	}
	return nil
}
