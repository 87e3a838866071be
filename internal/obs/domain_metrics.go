package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// SignatureRejectsTotal counts webhook events rejected during authenticity checks.
	// The reason label separates bad checksums from stale events and environment mismatches.
	SignatureRejectsTotal *prometheus.CounterVec
	// AmountMismatchTotal counts events whose reported amount disagreed with the ledger.
	AmountMismatchTotal *prometheus.CounterVec
	// TerminalConflictTotal counts events that attempted to overwrite a terminal payment status.
	TerminalConflictTotal *prometheus.CounterVec
	// ReconcileTransitions counts applied status transitions by from/to state.
	ReconcileTransitions *prometheus.CounterVec
	// NotificationTotal tracks side-effect notification outcomes.
	NotificationTotal *prometheus.CounterVec
	// RetryInitiatedTotal counts storefront-initiated payment retries.
	RetryInitiatedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		SignatureRejectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_signature_rejects_total",
			Help:      "Count of webhook events failing authenticity validation.",
		}, []string{"provider", "reason"})
		AmountMismatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_amount_mismatch_total",
			Help:      "Count of webhook events whose amount or currency disagreed with the stored payment.",
		}, []string{"provider"})
		TerminalConflictTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_terminal_conflict_total",
			Help:      "Count of events that conflicted with an already-terminal payment status.",
		}, []string{"provider", "stored", "incoming"})
		ReconcileTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_status_transitions_total",
			Help:      "Count of payment status transitions applied by the reconciliation engine.",
		}, []string{"from", "to"})
		NotificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_notification_total",
			Help:      "Count of side-effect notification outcomes.",
		}, []string{"kind", "result"})
		RetryInitiatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_retry_initiated_total",
			Help:      "Count of payment retries initiated through the checkout surface.",
		}, []string{"method"})

		for _, c := range []*prometheus.CounterVec{
			PaymentWebhookTotal,
			SignatureRejectsTotal,
			AmountMismatchTotal,
			TerminalConflictTotal,
			ReconcileTransitions,
			NotificationTotal,
			RetryInitiatedTotal,
		} {
			mustRegisterCollector(reg, c)
		}
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector) {
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
