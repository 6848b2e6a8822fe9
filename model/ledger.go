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

// Ledger entry types.
const (
	EntryDebit  = "DEBIT"
	EntryCredit = "CREDIT"
)

// Chart of accounts. The set is closed; postings against anything else are
// rejected before they reach storage.
const (
	AccountCash               = "CASH"
	AccountMerchantPayable    = "MERCHANT_PAYABLE"
	AccountProviderReceivable = "PROVIDER_RECEIVABLE"
	AccountFxSpreadRevenue    = "FX_SPREAD_REVENUE"
	AccountProcessingFees     = "PROCESSING_FEES"
	AccountRefundClearing     = "REFUND_CLEARING"
)

var ledgerAccounts = map[string]struct{}{
	AccountCash:               {},
	AccountMerchantPayable:    {},
	AccountProviderReceivable: {},
	AccountFxSpreadRevenue:    {},
	AccountProcessingFees:     {},
	AccountRefundClearing:     {},
}

// ValidAccountCode reports whether code belongs to the chart of accounts.
func ValidAccountCode(code string) bool {
	_, ok := ledgerAccounts[code]
	return ok
}

// LedgerEntry is one leg of a double-entry posting. Entries are immutable:
// corrections are posted as new entries, never as updates.
type LedgerEntry struct {
	EntryID       string    `json:"entry_id"`
	TransactionID string    `json:"transaction_id"`
	AccountCode   string    `json:"account_code"`
	EntryType     string    `json:"entry_type"`
	Amount        *big.Int  `json:"amount"`
	Currency      string    `json:"currency"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AccountBalance aggregates an account within one currency.
// Net is debits minus credits.
type AccountBalance struct {
	AccountCode string   `json:"account_code"`
	Currency    string   `json:"currency"`
	Debits      *big.Int `json:"debits"`
	Credits     *big.Int `json:"credits"`
	Net         *big.Int `json:"net"`
}

// CurrencyTotals sums all postings of one currency across accounts.
type CurrencyTotals struct {
	Currency string   `json:"currency"`
	Debits   *big.Int `json:"debits"`
	Credits  *big.Int `json:"credits"`
}

// LedgerSummary is the journal rolled up: every account balance, the
// per-currency totals, and whether the books hold (debits == credits in
// every currency).
type LedgerSummary struct {
	Balances    []AccountBalance `json:"balances"`
	Totals      []CurrencyTotals `json:"totals"`
	IsBalanced  bool             `json:"is_balanced"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// ValidateEntries enforces the invariants a posting batch must satisfy
// before it touches storage: at least two legs, known accounts, positive
// amounts, and per-currency debit/credit equality computed with big.Int so
// large books cannot overflow.
func ValidateEntries(entries []*LedgerEntry) error {
	if len(entries) < 2 {
		return NewLedgerError(LedgerUnbalancedEntry, "a posting needs at least one debit and one credit")
	}

	debits := make(map[string]*big.Int)
	credits := make(map[string]*big.Int)

	for _, entry := range entries {
		if !ValidAccountCode(entry.AccountCode) {
			return NewLedgerError(LedgerInvalidAccountCode, fmt.Sprintf("unknown account code %q", entry.AccountCode))
		}
		if entry.Amount == nil || entry.Amount.Sign() <= 0 {
			return NewLedgerError(LedgerUnbalancedEntry, fmt.Sprintf("entry for %s must carry a positive amount", entry.AccountCode))
		}
		if len(entry.Currency) != 3 {
			return NewLedgerError(LedgerUnbalancedEntry, fmt.Sprintf("invalid currency %q", entry.Currency))
		}

		switch entry.EntryType {
		case EntryDebit:
			addAmount(debits, entry.Currency, entry.Amount)
		case EntryCredit:
			addAmount(credits, entry.Currency, entry.Amount)
		default:
			return NewLedgerError(LedgerUnbalancedEntry, fmt.Sprintf("unknown entry type %q", entry.EntryType))
		}
	}

	for currency, debit := range debits {
		credit, ok := credits[currency]
		if !ok || debit.Cmp(credit) != 0 {
			return NewLedgerError(LedgerUnbalancedEntry,
				fmt.Sprintf("debits and credits do not balance for %s", currency))
		}
	}
	for currency := range credits {
		if _, ok := debits[currency]; !ok {
			return NewLedgerError(LedgerUnbalancedEntry,
				fmt.Sprintf("debits and credits do not balance for %s", currency))
		}
	}

	return nil
}

func addAmount(totals map[string]*big.Int, currency string, amount *big.Int) {
	if existing, ok := totals[currency]; ok {
		existing.Add(existing, amount)
		return
	}
	totals[currency] = new(big.Int).Set(amount)
}

// LedgerErrorKind tags journal failures for errors.As dispatch.
type LedgerErrorKind string

const (
	LedgerUnbalancedEntry     LedgerErrorKind = "UNBALANCED_ENTRY"
	LedgerTransactionNotFound LedgerErrorKind = "TRANSACTION_NOT_FOUND"
	LedgerInvalidAccountCode  LedgerErrorKind = "INVALID_ACCOUNT_CODE"
	LedgerDuplicateEntry      LedgerErrorKind = "DUPLICATE_ENTRY"
)

// LedgerError is the journal's error surface.
type LedgerError struct {
	Kind    LedgerErrorKind `json:"kind"`
	Message string          `json:"message"`
	Err     error           `json:"-"`
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

func NewLedgerError(kind LedgerErrorKind, message string) *LedgerError {
	return &LedgerError{Kind: kind, Message: message}
}

func WrapLedgerError(kind LedgerErrorKind, message string, err error) *LedgerError {
	return &LedgerError{Kind: kind, Message: message, Err: err}
}
