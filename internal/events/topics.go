package events

// Topic constants for domain events emitted by the payment subsystem.
const (
	TopicPaymentCompleted = "payment.completed"
	TopicPaymentFailed    = "payment.failed"
	TopicPaymentCancelled = "payment.cancelled"
	TopicPaymentRetried   = "payment.retried"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicPaymentCompleted,
		TopicPaymentFailed,
		TopicPaymentCancelled,
		TopicPaymentRetried,
	}
}
