package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/codenix-ai/store-chismo/internal/common"
	"github.com/codenix-ai/store-chismo/internal/events"
	"github.com/codenix-ai/store-chismo/internal/obs"
)

// EmailNotifier sends transactional emails for selected topics.
type EmailNotifier struct {
	Mail         common.EmailSender
	Enabled      bool
	From         string
	TopicToggles map[string]bool
}

// DefaultTopicToggles enables email for every notification topic.
func DefaultTopicToggles() map[string]bool {
	topics := events.DefaultTopics()
	toggles := make(map[string]bool, len(topics))
	for _, topic := range topics {
		toggles[topic] = true
	}
	return toggles
}

// Notify implements the events.Notifier interface.
func (n EmailNotifier) Notify(_ context.Context, event events.Event) error {
	if !n.Enabled || n.Mail == nil {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[event.Topic]; ok && !enabled {
			return nil
		}
	}
	payload := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("email notify: decode payload: %w", err)
		}
	}
	to := extractRecipient(payload)
	if to == "" {
		return nil
	}
	subject := subjectFor(event.Topic)
	body := bodyFor(event.Topic, payload, event.OccurredAt)
	err := n.Mail.Send(to, subject, body)
	if obs.NotificationTotal != nil {
		result := "sent"
		if err != nil {
			result = "error"
		}
		obs.NotificationTotal.WithLabelValues("email", result).Inc()
	}
	return err
}

func extractRecipient(payload map[string]any) string {
	keys := []string{"email", "recipient", "customerEmail"}
	for _, key := range keys {
		if val, ok := payload[key]; ok {
			if s, ok := val.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func subjectFor(topic string) string {
	switch topic {
	case events.TopicPaymentCompleted:
		return "Confirmación de tu pago"
	case events.TopicPaymentFailed:
		return "Tu pago no pudo ser procesado"
	case events.TopicPaymentCancelled:
		return "Tu pago fue anulado"
	case events.TopicPaymentRetried:
		return "Nuevo intento de pago"
	default:
		return fmt.Sprintf("Notificación %s", topic)
	}
}

func bodyFor(topic string, payload map[string]any, occurred time.Time) string {
	var summary string
	switch topic {
	case events.TopicPaymentCompleted:
		summary = "Recibimos tu pago. Estamos preparando tu pedido."
	case events.TopicPaymentFailed:
		summary = "Tu pago no pudo ser procesado."
		if msg, ok := payload["failureMessage"].(string); ok && msg != "" {
			summary += "\n" + msg
		}
		if suggestion, ok := payload["failureSuggestion"].(string); ok && suggestion != "" {
			summary += "\n" + suggestion
		}
	case events.TopicPaymentCancelled:
		summary = "El pago de tu pedido fue anulado."
	case events.TopicPaymentRetried:
		summary = "Generamos un nuevo intento de pago para tu pedido."
	default:
		summary = fmt.Sprintf("Evento %s ocurrió el %s.", topic, occurred.Format(time.RFC3339))
	}
	if orderID, ok := payload["orderId"].(string); ok && orderID != "" {
		summary += fmt.Sprintf("\nPedido: %s", orderID)
	}
	if reference, ok := payload["reference"].(string); ok && reference != "" {
		summary += fmt.Sprintf("\nReferencia: %s", reference)
	}
	return summary
}
