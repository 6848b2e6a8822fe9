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
	"errors"
	"math/big"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	paydash "github.com/jingkai27/payments-dashboard"
	"github.com/jingkai27/payments-dashboard/model"
)

// CreatePayment is the POST /payments body. Amount is minor units in the
// request currency.
type CreatePayment struct {
	MerchantID     string                 `json:"merchant_id"`
	CustomerID     string                 `json:"customer_id"`
	Amount         int64                  `json:"amount"`
	Currency       string                 `json:"currency"`
	PaymentMethod  model.PaymentMethod    `json:"payment_method"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Description    string                 `json:"description"`
	Capture        bool                   `json:"capture"`
	MetaData       map[string]interface{} `json:"meta_data"`
}

func currencyRules() []validation.Rule {
	return []validation.Rule{validation.Required, validation.Length(3, 3)}
}

func (p *CreatePayment) ValidateCreatePayment() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.MerchantID, validation.Required),
		validation.Field(&p.Amount, validation.Required, validation.Min(1)),
		validation.Field(&p.Currency, currencyRules()...),
		validation.Field(&p.PaymentMethod, validation.By(func(interface{}) error {
			if p.PaymentMethod.Type == "" {
				return errors.New("payment_method.type is required")
			}
			return nil
		})),
	)
}

func (p *CreatePayment) ToPaymentRequest() *paydash.PaymentRequest {
	return &paydash.PaymentRequest{
		MerchantID:     p.MerchantID,
		CustomerID:     p.CustomerID,
		Amount:         big.NewInt(p.Amount),
		Currency:       p.Currency,
		PaymentMethod:  p.PaymentMethod,
		IdempotencyKey: p.IdempotencyKey,
		Description:    p.Description,
		Capture:        p.Capture,
		MetaData:       p.MetaData,
	}
}

// RefundPayment is the POST /payments/:id/refund body. A zero amount
// refunds the full settled amount.
type RefundPayment struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (r *RefundPayment) ValidateRefundPayment() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Amount, validation.Min(0)),
	)
}

// CancelPayment is the POST /payments/:id/cancel body.
type CancelPayment struct {
	Reason string `json:"reason"`
}

// CreateRoutingRule is the body for rule create and update.
type CreateRoutingRule struct {
	MerchantID   string               `json:"merchant_id"`
	Name         string               `json:"name"`
	ProviderCode string               `json:"provider_code"`
	Priority     int                  `json:"priority"`
	Enabled      bool                 `json:"enabled"`
	Conditions   model.RuleConditions `json:"conditions"`
}

func (r *CreateRoutingRule) ValidateCreateRoutingRule() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.ProviderCode, validation.Required),
		validation.Field(&r.Priority, validation.Required, validation.Min(1)),
	)
}

func (r *CreateRoutingRule) ToRoutingRule(ruleID string) *model.RoutingRule {
	return &model.RoutingRule{
		RuleID:       ruleID,
		MerchantID:   r.MerchantID,
		Name:         r.Name,
		ProviderCode: r.ProviderCode,
		Priority:     r.Priority,
		Enabled:      r.Enabled,
		Conditions:   r.Conditions,
	}
}

// RoutingDecisionRequest is the POST /routing-decision body: a dry-run
// routing context to explain which provider would take the payment.
type RoutingDecisionRequest struct {
	MerchantID    string                 `json:"merchant_id"`
	CustomerID    string                 `json:"customer_id"`
	Amount        int64                  `json:"amount"`
	Currency      string                 `json:"currency"`
	Region        string                 `json:"region"`
	PaymentMethod model.PaymentMethod    `json:"payment_method"`
	MetaData      map[string]interface{} `json:"meta_data"`
}

func (r *RoutingDecisionRequest) ValidateRoutingDecisionRequest() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.MerchantID, validation.Required),
		validation.Field(&r.Amount, validation.Required, validation.Min(1)),
		validation.Field(&r.Currency, currencyRules()...),
	)
}

func (r *RoutingDecisionRequest) ToRoutingContext() *model.RoutingContext {
	return &model.RoutingContext{
		MerchantID:    r.MerchantID,
		CustomerID:    r.CustomerID,
		Amount:        big.NewInt(r.Amount),
		Currency:      r.Currency,
		Region:        r.Region,
		PaymentMethod: r.PaymentMethod,
		MetaData:      r.MetaData,
	}
}

// FxQuoteRequest is the POST /fx/quote body.
type FxQuoteRequest struct {
	SourceCurrency string `json:"source_currency"`
	TargetCurrency string `json:"target_currency"`
	Amount         int64  `json:"amount"`
}

func (r *FxQuoteRequest) ValidateFxQuoteRequest() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.SourceCurrency, currencyRules()...),
		validation.Field(&r.TargetCurrency, currencyRules()...),
		validation.Field(&r.Amount, validation.Required, validation.Min(1)),
	)
}

// LedgerEntryInput is one leg of a RecordLedgerEntries posting.
type LedgerEntryInput struct {
	AccountCode string `json:"account_code"`
	EntryType   string `json:"entry_type"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

// RecordLedgerEntries is the POST /ledger-entries body. The legs must
// balance per currency; the service rejects the batch otherwise.
type RecordLedgerEntries struct {
	TransactionID string             `json:"transaction_id"`
	Entries       []LedgerEntryInput `json:"entries"`
}

func (r *RecordLedgerEntries) ValidateRecordLedgerEntries() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TransactionID, validation.Required),
		validation.Field(&r.Entries, validation.Required, validation.Length(2, 0)),
	)
}

func (r *RecordLedgerEntries) ToLedgerEntries() []*model.LedgerEntry {
	entries := make([]*model.LedgerEntry, 0, len(r.Entries))
	for _, input := range r.Entries {
		entries = append(entries, &model.LedgerEntry{
			TransactionID: r.TransactionID,
			AccountCode:   input.AccountCode,
			EntryType:     input.EntryType,
			Amount:        big.NewInt(input.Amount),
			Currency:      input.Currency,
			Description:   input.Description,
		})
	}
	return entries
}

// StartReconciliation is the POST /reconciliation body: the settlement
// records inline plus the window they cover.
type StartReconciliation struct {
	MerchantID   string                    `json:"merchant_id"`
	ProviderCode string                    `json:"provider_code"`
	WindowStart  time.Time                 `json:"window_start"`
	WindowEnd    time.Time                 `json:"window_end"`
	Records      []*model.SettlementRecord `json:"records"`
}

func (r *StartReconciliation) ValidateStartReconciliation() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ProviderCode, validation.Required),
		validation.Field(&r.WindowStart, validation.Required),
		validation.Field(&r.WindowEnd, validation.Required),
	)
}

func (r *StartReconciliation) ToReconcileRequest() paydash.ReconcileRequest {
	return paydash.ReconcileRequest{
		MerchantID:   r.MerchantID,
		ProviderCode: r.ProviderCode,
		WindowStart:  r.WindowStart,
		WindowEnd:    r.WindowEnd,
		Records:      r.Records,
	}
}

// ResolveDiscrepancy is the body of the discrepancy resolve route.
type ResolveDiscrepancy struct {
	Action     string `json:"action"`
	Note       string `json:"note"`
	ResolvedBy string `json:"resolved_by"`
}

func (r *ResolveDiscrepancy) ValidateResolveDiscrepancy() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Action, validation.Required, validation.In(
			model.ResolutionForceMatch, model.ResolutionRefund,
			model.ResolutionIgnore)),
		validation.Field(&r.ResolvedBy, validation.Required),
	)
}

func (r *ResolveDiscrepancy) ToResolution() *model.Resolution {
	return &model.Resolution{
		Action:     r.Action,
		Note:       r.Note,
		ResolvedBy: r.ResolvedBy,
	}
}
