package payment

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// mockLedger is an in-memory payment.Ledger with the same conditional-update
// semantics as the platform API.
type mockLedger struct {
	mu      sync.Mutex
	records map[string]Record // keyed by reference
	logs    []LogEntry
	created []Record
	// failUpdates queues one error per upcoming UpdatePayment call.
	failUpdates []error
	// staleFirstRead, when set, is served for the first lookup only. It
	// simulates a record that changed between read and conditional write.
	staleFirstRead *Record
	lookupErr      error
}

func newMockLedger(records ...Record) *mockLedger {
	m := &mockLedger{records: map[string]Record{}}
	for _, rec := range records {
		m.records[rec.Reference] = rec
	}
	return m
}

func (m *mockLedger) PaymentByReference(_ context.Context, reference string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return Record{}, m.lookupErr
	}
	if m.staleFirstRead != nil && m.staleFirstRead.Reference == reference {
		stale := *m.staleFirstRead
		m.staleFirstRead = nil
		return stale, nil
	}
	rec, ok := m.records[reference]
	if !ok {
		return Record{}, fmt.Errorf("%w: reference %s", ErrPaymentNotFound, reference)
	}
	return rec, nil
}

func (m *mockLedger) UpdatePayment(_ context.Context, id string, input UpdateInput, expected Status) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failUpdates) > 0 {
		err := m.failUpdates[0]
		m.failUpdates = m.failUpdates[1:]
		if err != nil {
			return Record{}, err
		}
	}
	for ref, rec := range m.records {
		if rec.ID != id {
			continue
		}
		if rec.Status != expected {
			return Record{}, fmt.Errorf("%w: status is %s", ErrStaleUpdate, rec.Status)
		}
		rec.Status = input.Status
		if input.ProviderTransactionID != "" {
			rec.ProviderTransactionID = input.ProviderTransactionID
		}
		if input.ErrorCode != nil {
			rec.ErrorCode = *input.ErrorCode
		}
		if input.ErrorMessage != nil {
			rec.ErrorMessage = *input.ErrorMessage
		}
		if input.FailedAttempts != nil {
			rec.FailedAttempts = *input.FailedAttempts
		}
		if input.CompletedAt != nil {
			rec.CompletedAt = input.CompletedAt
		}
		if input.FailedAt != nil {
			rec.FailedAt = input.FailedAt
		}
		rec.UpdatedAt = time.Now()
		m.records[ref] = rec
		return rec, nil
	}
	return Record{}, fmt.Errorf("%w: id %s", ErrPaymentNotFound, id)
}

func (m *mockLedger) CreatePayment(_ context.Context, input CreateInput) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := Record{
		ID:            fmt.Sprintf("pay-%d", len(m.created)+100),
		OrderID:       input.OrderID,
		Reference:     input.Reference,
		AmountInCents: input.AmountInCents,
		Currency:      input.Currency,
		Status:        input.Status,
		Provider:      input.Provider,
		Method:        input.Method,
		CustomerEmail: input.CustomerEmail,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	m.records[rec.Reference] = rec
	m.created = append(m.created, rec)
	return rec, nil
}

func (m *mockLedger) AppendPaymentLog(_ context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *mockLedger) record(reference string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[reference]
}

func (m *mockLedger) setStatus(reference string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[reference]
	rec.Status = status
	m.records[reference] = rec
}

func pendingRecord() Record {
	return Record{
		ID:            "pay-1",
		OrderID:       "ord-1",
		Reference:     "ORD-2024-001",
		AmountInCents: 4490000,
		Currency:      "COP",
		Status:        StatusPending,
		Provider:      "wompi",
		Method:        "CARD",
		CustomerEmail: "cliente@example.com",
		CreatedAt:     time.Now().Add(-time.Hour),
		UpdatedAt:     time.Now().Add(-time.Hour),
	}
}

func approvedEvent() ProviderEvent {
	finalized := time.Date(2024, 3, 1, 17, 22, 5, 0, time.UTC)
	return ProviderEvent{
		Provider:      "wompi",
		EventType:     "transaction.updated",
		TransactionID: "tx-1",
		Reference:     "ORD-2024-001",
		AmountInCents: 4490000,
		Currency:      "COP",
		RawStatus:     "APPROVED",
		Status:        StatusCompleted,
		Method:        "CARD",
		FinalizedAt:   &finalized,
		Timestamp:     finalized.Unix(),
	}
}

func declinedEvent() ProviderEvent {
	ev := approvedEvent()
	ev.TransactionID = "tx-2"
	ev.RawStatus = "DECLINED"
	ev.Status = StatusFailed
	ev.StatusMessage = "Insufficient funds"
	ev.FinalizedAt = nil
	return ev
}
