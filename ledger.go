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

package paydash

import (
	"context"
	"time"

	"github.com/jingkai27/payments-dashboard/model"
)

// RecordEntries posts a balanced batch of ledger entries against a known
// transaction. Validation happens in memory before any write: unknown
// accounts, non-positive amounts and per-currency debit/credit imbalance
// are all rejected without touching storage. The batch lands atomically.
func (l *Paydash) RecordEntries(ctx context.Context, transactionID string, entries []*model.LedgerEntry) ([]*model.LedgerEntry, error) {
	if _, err := l.datasource.GetTransaction(ctx, transactionID); err != nil {
		if isNotFound(err) {
			return nil, model.WrapLedgerError(model.LedgerTransactionNotFound, "transaction "+transactionID+" not found", err)
		}
		return nil, err
	}

	now := time.Now()
	for _, entry := range entries {
		entry.TransactionID = transactionID
		if entry.EntryID == "" {
			entry.EntryID = model.GenerateUUIDWithSuffix("ent")
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
	}

	if err := model.ValidateEntries(entries); err != nil {
		return nil, err
	}
	if err := l.datasource.RecordLedgerEntries(ctx, entries); err != nil {
		if isConflict(err) {
			return nil, model.WrapLedgerError(model.LedgerDuplicateEntry,
				"posting already recorded for transaction "+transactionID, err)
		}
		return nil, err
	}
	return entries, nil
}

// RecordPayment books the canonical posting for a captured payment: debit
// CASH, credit MERCHANT_PAYABLE, in the settled currency.
func (l *Paydash) RecordPayment(ctx context.Context, txn *model.Transaction) error {
	amount := txn.SettledAmount()
	currency := txn.SettledCurrency()
	_, err := l.RecordEntries(ctx, txn.TransactionID, []*model.LedgerEntry{
		{AccountCode: model.AccountCash, EntryType: model.EntryDebit, Amount: amount, Currency: currency, Description: "payment captured"},
		{AccountCode: model.AccountMerchantPayable, EntryType: model.EntryCredit, Amount: amount, Currency: currency, Description: "payment captured"},
	})
	return err
}

// RecordRefund reverses the merchant payable for a settled refund: debit
// MERCHANT_PAYABLE, credit CASH.
func (l *Paydash) RecordRefund(ctx context.Context, refund *model.Transaction) error {
	amount := refund.SettledAmount()
	currency := refund.SettledCurrency()
	_, err := l.RecordEntries(ctx, refund.TransactionID, []*model.LedgerEntry{
		{AccountCode: model.AccountMerchantPayable, EntryType: model.EntryDebit, Amount: amount, Currency: currency, Description: "refund settled"},
		{AccountCode: model.AccountCash, EntryType: model.EntryCredit, Amount: amount, Currency: currency, Description: "refund settled"},
	})
	return err
}

// RecordFxSpread books the platform's take on a conversion: debit
// PROVIDER_RECEIVABLE, credit FX_SPREAD_REVENUE, in the settlement
// currency. The margin stays due from the provider until payout, which is
// also what keeps this posting's legs distinct from the payment posting
// under the one-leg-per-account uniqueness guard. Zero margin posts
// nothing.
func (l *Paydash) RecordFxSpread(ctx context.Context, txn *model.Transaction, quote *model.Quote) error {
	margin := quote.SpreadMargin()
	if margin.Sign() <= 0 {
		return nil
	}
	_, err := l.RecordEntries(ctx, txn.TransactionID, []*model.LedgerEntry{
		{AccountCode: model.AccountProviderReceivable, EntryType: model.EntryDebit, Amount: margin, Currency: quote.Target, Description: "fx spread margin"},
		{AccountCode: model.AccountFxSpreadRevenue, EntryType: model.EntryCredit, Amount: margin, Currency: quote.Target, Description: "fx spread margin"},
	})
	return err
}

// GetAccountBalance aggregates one account per currency. An empty currency
// covers every currency the account holds; asOf bounds the aggregation to
// entries posted at or before that instant.
func (l *Paydash) GetAccountBalance(ctx context.Context, accountCode, currency string, asOf *time.Time) ([]*model.AccountBalance, error) {
	if !model.ValidAccountCode(accountCode) {
		return nil, model.NewLedgerError(model.LedgerInvalidAccountCode, "unknown account code "+accountCode)
	}
	return l.datasource.GetAccountBalance(ctx, accountCode, currency, asOf)
}

// GetLedgerSummary rolls up every account and currency and reports whether
// the books balance.
func (l *Paydash) GetLedgerSummary(ctx context.Context) (*model.LedgerSummary, error) {
	return l.datasource.GetLedgerSummary(ctx)
}

// GetEntriesByTransaction returns all postings of a transaction. An unknown
// transaction id is an error; a known transaction with no postings returns
// an empty set.
func (l *Paydash) GetEntriesByTransaction(ctx context.Context, transactionID string) ([]*model.LedgerEntry, error) {
	entries, err := l.datasource.GetLedgerEntriesByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if _, err := l.datasource.GetTransaction(ctx, transactionID); err != nil {
			if isNotFound(err) {
				return nil, model.WrapLedgerError(model.LedgerTransactionNotFound, "transaction "+transactionID+" not found", err)
			}
			return nil, err
		}
	}
	return entries, nil
}
