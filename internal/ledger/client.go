// Package ledger talks to the commerce platform's GraphQL API, the system of
// record for payments and orders.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/codenix-ai/store-chismo/internal/payment"
	"github.com/codenix-ai/store-chismo/internal/resilience"
)

const (
	codeNotFound       = "NOT_FOUND"
	codeStatusConflict = "STATUS_CONFLICT"
)

// Client implements payment.Ledger over the platform GraphQL endpoint.
type Client struct {
	Endpoint string
	Token    string
	HTTP     resilience.HTTPClient
	Log      zerolog.Logger
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// paymentDTO mirrors the Payment type exposed by the platform schema.
type paymentDTO struct {
	ID                    string     `json:"id"`
	OrderID               string     `json:"orderId"`
	Reference             string     `json:"reference"`
	AmountInCents         int64      `json:"amountInCents"`
	Currency              string     `json:"currency"`
	Status                string     `json:"status"`
	Provider              string     `json:"provider"`
	Method                string     `json:"method"`
	CustomerEmail         string     `json:"customerEmail"`
	ProviderTransactionID string     `json:"providerTransactionId"`
	ErrorCode             string     `json:"errorCode"`
	ErrorMessage          string     `json:"errorMessage"`
	FailedAttempts        int        `json:"failedAttempts"`
	CompletedAt           *time.Time `json:"completedAt"`
	FailedAt              *time.Time `json:"failedAt"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

func (d paymentDTO) toRecord() payment.Record {
	return payment.Record{
		ID:                    d.ID,
		OrderID:               d.OrderID,
		Reference:             d.Reference,
		AmountInCents:         d.AmountInCents,
		Currency:              d.Currency,
		Status:                payment.Status(d.Status),
		Provider:              d.Provider,
		Method:                d.Method,
		CustomerEmail:         d.CustomerEmail,
		ProviderTransactionID: d.ProviderTransactionID,
		ErrorCode:             d.ErrorCode,
		ErrorMessage:          d.ErrorMessage,
		FailedAttempts:        d.FailedAttempts,
		CompletedAt:           d.CompletedAt,
		FailedAt:              d.FailedAt,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

const paymentFields = `id orderId reference amountInCents currency status provider method customerEmail providerTransactionId errorCode errorMessage failedAttempts completedAt failedAt createdAt updatedAt`

// PaymentByReference fetches a payment by its checkout reference.
func (c *Client) PaymentByReference(ctx context.Context, reference string) (payment.Record, error) {
	query := fmt.Sprintf(`query($reference: String!) { paymentByReference(reference: $reference) { %s } }`, paymentFields)
	var out struct {
		Payment *paymentDTO `json:"paymentByReference"`
	}
	if err := c.do(ctx, query, map[string]any{"reference": reference}, &out); err != nil {
		return payment.Record{}, err
	}
	if out.Payment == nil {
		return payment.Record{}, fmt.Errorf("%w: reference %s", payment.ErrPaymentNotFound, reference)
	}
	return out.Payment.toRecord(), nil
}

// UpdatePayment applies the update only while the stored status still equals
// expected. The server rejects stale writes with a STATUS_CONFLICT error.
func (c *Client) UpdatePayment(ctx context.Context, id string, input payment.UpdateInput, expected payment.Status) (payment.Record, error) {
	query := fmt.Sprintf(`mutation($id: ID!, $expectedStatus: PaymentStatus!, $input: UpdatePaymentInput!) {
		updatePaymentWhereStatus(id: $id, expectedStatus: $expectedStatus, input: $input) { %s }
	}`, paymentFields)
	vars := map[string]any{
		"id":             id,
		"expectedStatus": string(expected),
		"input":          updateInputVars(input),
	}
	var out struct {
		Payment *paymentDTO `json:"updatePaymentWhereStatus"`
	}
	if err := c.do(ctx, query, vars, &out); err != nil {
		return payment.Record{}, err
	}
	if out.Payment == nil {
		return payment.Record{}, fmt.Errorf("%w: id %s", payment.ErrPaymentNotFound, id)
	}
	return out.Payment.toRecord(), nil
}

// CreatePayment inserts a new payment record, used when a retry is initiated.
func (c *Client) CreatePayment(ctx context.Context, input payment.CreateInput) (payment.Record, error) {
	query := fmt.Sprintf(`mutation($input: CreatePaymentInput!) { createPayment(input: $input) { %s } }`, paymentFields)
	vars := map[string]any{"input": map[string]any{
		"orderId":       input.OrderID,
		"reference":     input.Reference,
		"amountInCents": input.AmountInCents,
		"currency":      input.Currency,
		"status":        string(input.Status),
		"provider":      input.Provider,
		"method":        input.Method,
		"customerEmail": input.CustomerEmail,
	}}
	var out struct {
		Payment *paymentDTO `json:"createPayment"`
	}
	if err := c.do(ctx, query, vars, &out); err != nil {
		return payment.Record{}, err
	}
	if out.Payment == nil {
		return payment.Record{}, errors.New("ledger: createPayment returned no payment")
	}
	return out.Payment.toRecord(), nil
}

// AppendPaymentLog appends one audit line to the payment's log. Lines are
// append only; the platform never updates or deletes them.
func (c *Client) AppendPaymentLog(ctx context.Context, entry payment.LogEntry) error {
	query := `mutation($input: PaymentLogInput!) { appendPaymentLog(input: $input) { id } }`
	vars := map[string]any{"input": map[string]any{
		"paymentId":  entry.PaymentID,
		"eventType":  entry.EventType,
		"fromStatus": string(entry.FromStatus),
		"toStatus":   string(entry.ToStatus),
		"rawStatus":  entry.RawStatus,
		"detail":     entry.Detail,
		"occurredAt": entry.OccurredAt.UTC().Format(time.RFC3339),
	}}
	var out struct {
		Entry *struct {
			ID string `json:"id"`
		} `json:"appendPaymentLog"`
	}
	return c.do(ctx, query, vars, &out)
}

// Ping verifies the endpoint answers GraphQL at all, used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Typename string `json:"__typename"`
	}
	return c.do(ctx, `query { __typename }`, nil, &out)
}

func updateInputVars(input payment.UpdateInput) map[string]any {
	vars := map[string]any{"status": string(input.Status)}
	if input.ProviderTransactionID != "" {
		vars["providerTransactionId"] = input.ProviderTransactionID
	}
	if input.ErrorCode != nil {
		vars["errorCode"] = *input.ErrorCode
	}
	if input.ErrorMessage != nil {
		vars["errorMessage"] = *input.ErrorMessage
	}
	if input.FailedAttempts != nil {
		vars["failedAttempts"] = *input.FailedAttempts
	}
	if input.CompletedAt != nil {
		vars["completedAt"] = input.CompletedAt.UTC().Format(time.RFC3339)
	}
	if input.FailedAt != nil {
		vars["failedAt"] = input.FailedAt.UTC().Format(time.RFC3339)
	}
	return vars
}

func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	payloadBytes, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("ledger: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("ledger: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ledger: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger: endpoint returned %s", resp.Status)
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("ledger: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return c.mapError(envelope.Errors[0])
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("ledger: decode data: %w", err)
		}
	}
	return nil
}

func (c *Client) mapError(gqlErr graphqlError) error {
	switch gqlErr.Extensions.Code {
	case codeNotFound:
		return fmt.Errorf("%w: %s", payment.ErrPaymentNotFound, gqlErr.Message)
	case codeStatusConflict:
		return fmt.Errorf("%w: %s", payment.ErrStaleUpdate, gqlErr.Message)
	default:
		c.Log.Warn().Str("code", gqlErr.Extensions.Code).Str("message", gqlErr.Message).Msg("unexpected ledger error")
		return fmt.Errorf("ledger: %s", gqlErr.Message)
	}
}
