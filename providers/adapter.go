package providers

import (
	"context"
	"math/big"
	"time"

	"github.com/jingkai27/payments-dashboard/model"
)

// Result statuses an adapter may report.
const (
	ResultAuthorized = "authorized"
	ResultCaptured   = "captured"
	ResultRefunded   = "refunded"
	ResultVoided     = "voided"
)

// AuthorizeRequest carries everything a provider needs to take a payment.
// Capture false means authorize-only; funds are reserved until Capture or
// Void.
type AuthorizeRequest struct {
	TransactionID string                 `json:"transaction_id"`
	MerchantID    string                 `json:"merchant_id"`
	Amount        *big.Int               `json:"amount"`
	Currency      string                 `json:"currency"`
	PaymentMethod model.PaymentMethod    `json:"payment_method"`
	Capture       bool                   `json:"capture"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
}

// PaymentResult is a successful adapter call: the provider's reference and
// which lifecycle stage the money reached.
type PaymentResult struct {
	ProviderTransactionID string    `json:"provider_transaction_id"`
	Status                string    `json:"status"`
	ProcessedAt           time.Time `json:"processed_at"`
}

// ProviderEvent is a webhook payload parsed into the provider-agnostic
// shape the orchestrator applies to its state machine.
type ProviderEvent struct {
	EventID               string    `json:"event_id"`
	EventType             string    `json:"event_type"`
	ProviderTransactionID string    `json:"provider_transaction_id"`
	Status                string    `json:"status"`
	Amount                *big.Int  `json:"amount,omitempty"`
	Currency              string    `json:"currency,omitempty"`
	OccurredAt            time.Time `json:"occurred_at"`
}

// Adapter is the uniform provider contract. The orchestrator and routing
// engine depend only on this interface, never on a concrete integration.
type Adapter interface {
	Code() string
	Authorize(ctx context.Context, req *AuthorizeRequest) (*PaymentResult, error)
	Capture(ctx context.Context, providerTransactionID string, amount *big.Int) (*PaymentResult, error)
	Refund(ctx context.Context, providerTransactionID string, amount *big.Int) (*PaymentResult, error)
	Void(ctx context.Context, providerTransactionID string) (*PaymentResult, error)
	HealthCheck(ctx context.Context) error
	VerifyWebhookSignature(payload []byte, signature string) bool
	ParseWebhookEvent(payload []byte) (*ProviderEvent, error)
}
