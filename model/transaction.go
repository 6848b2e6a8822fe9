/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"fmt"
	"math/big"
	"time"
)

// Transaction lifecycle statuses.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
	StatusRefunded   = "REFUNDED"
)

// Transaction types.
const (
	TypePayment  = "PAYMENT"
	TypeRefund   = "REFUND"
	TypePayout   = "PAYOUT"
	TypeTransfer = "TRANSFER"
)

// statusTransitions is the single authority on the lifecycle. PENDING holds
// both freshly created and authorized-awaiting-capture transactions, which
// is why PROCESSING may step back to it and capture may complete from it.
var statusTransitions = map[string][]string{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusCompleted},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusPending},
	StatusCompleted:  {StatusRefunded},
	StatusFailed:     {},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to string) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further transitions exist from status.
func IsTerminalStatus(status string) bool {
	return len(statusTransitions[status]) == 0
}

// PaymentMethod is the instrument snapshot captured at creation time. Only
// routing-relevant attributes are kept; the PAN never enters this system.
type PaymentMethod struct {
	Type      string `json:"type"`
	CardBrand string `json:"card_brand,omitempty"`
	Last4     string `json:"last4,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Transaction is a money movement: a customer payment, a refund linked to
// its parent payment, a payout or an internal transfer. Amounts are minor
// units; ConvertedAmount/SettlementCurrency are set when FX applied.
type Transaction struct {
	TransactionID         string                 `json:"transaction_id"`
	MerchantID            string                 `json:"merchant_id"`
	CustomerID            string                 `json:"customer_id,omitempty"`
	Type                  string                 `json:"type"`
	Status                string                 `json:"status"`
	Amount                *big.Int               `json:"amount"`
	Currency              string                 `json:"currency"`
	ConvertedAmount       *big.Int               `json:"converted_amount,omitempty"`
	SettlementCurrency    string                 `json:"settlement_currency,omitempty"`
	FxQuoteID             string                 `json:"fx_quote_id,omitempty"`
	PaymentMethod         PaymentMethod          `json:"payment_method"`
	ProviderCode          string                 `json:"provider_code,omitempty"`
	ProviderTransactionID string                 `json:"provider_transaction_id,omitempty"`
	IdempotencyKey        string                 `json:"idempotency_key,omitempty"`
	ParentTransactionID   string                 `json:"parent_transaction_id,omitempty"`
	Description           string                 `json:"description,omitempty"`
	FailureCode           string                 `json:"failure_code,omitempty"`
	FailureReason         string                 `json:"failure_reason,omitempty"`
	MetaData              map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
	CompletedAt           *time.Time             `json:"completed_at,omitempty"`
}

// TransactionStatusHistory records one lifecycle step. Every transition
// appends exactly one row, written atomically with the status update.
type TransactionStatusHistory struct {
	HistoryID     string    `json:"history_id"`
	TransactionID string    `json:"transaction_id"`
	FromStatus    string    `json:"from_status"`
	ToStatus      string    `json:"to_status"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// CanTransitionTo reports whether the transaction may move to the target
// status from its current one.
func (t *Transaction) CanTransitionTo(target string) bool {
	return CanTransition(t.Status, target)
}

// SettledAmount is the amount the ledger books: the converted amount when
// FX applied, the original otherwise.
func (t *Transaction) SettledAmount() *big.Int {
	if t.ConvertedAmount != nil {
		return t.ConvertedAmount
	}
	return t.Amount
}

// SettledCurrency pairs with SettledAmount.
func (t *Transaction) SettledCurrency() string {
	if t.SettlementCurrency != "" {
		return t.SettlementCurrency
	}
	return t.Currency
}

// Validate checks the fields a transaction needs before it can enter the
// lifecycle.
func (t *Transaction) Validate() error {
	if t.MerchantID == "" {
		return NewPaymentError(PaymentInvalidRequest, "merchant_id is required")
	}
	if t.Amount == nil || t.Amount.Sign() <= 0 {
		return NewPaymentError(PaymentInvalidRequest, "amount must be a positive integer in minor units")
	}
	if len(t.Currency) != 3 {
		return NewPaymentError(PaymentInvalidRequest, fmt.Sprintf("invalid currency %q", t.Currency))
	}
	switch t.Type {
	case TypePayment, TypeRefund, TypePayout, TypeTransfer:
	default:
		return NewPaymentError(PaymentInvalidRequest, fmt.Sprintf("unknown transaction type %q", t.Type))
	}
	return nil
}

// TransactionFilter narrows list queries.
type TransactionFilter struct {
	MerchantID   string
	Status       string
	ProviderCode string
	Limit        int
	Offset       int
}

// PaymentErrorKind tags orchestration failures so callers can branch with
// errors.As instead of matching message text.
type PaymentErrorKind string

const (
	PaymentInvalidRequest     PaymentErrorKind = "INVALID_REQUEST"
	PaymentNotFound           PaymentErrorKind = "NOT_FOUND"
	PaymentInvalidStatus      PaymentErrorKind = "INVALID_STATUS"
	PaymentProviderError      PaymentErrorKind = "PROVIDER_ERROR"
	PaymentAllProvidersFailed PaymentErrorKind = "ALL_PROVIDERS_FAILED"
)

// PaymentError is the orchestrator's error surface.
type PaymentError struct {
	Kind    PaymentErrorKind `json:"kind"`
	Message string           `json:"message"`
	Err     error            `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

func NewPaymentError(kind PaymentErrorKind, message string) *PaymentError {
	return &PaymentError{Kind: kind, Message: message}
}

// WrapPaymentError keeps the cause reachable through errors.As/Is.
func WrapPaymentError(kind PaymentErrorKind, message string, err error) *PaymentError {
	return &PaymentError{Kind: kind, Message: message, Err: err}
}
