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
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/internal/cache"

	"github.com/jingkai27/payments-dashboard/model"

	"github.com/jingkai27/payments-dashboard/database"
	"github.com/stretchr/testify/assert"
)

func newTestDataSource() (database.IDataSource, sqlmock.Sqlmock, error) {
	mr, err := miniredis.Run()
	if err != nil {
		log.Printf("an error '%s' was not expected when starting miniredis", err)
	}
	config.MockConfig(&config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}})
	db, mock, err := sqlmock.New()
	if err != nil {
		log.Printf("an error '%s' was not expected when opening a stub database Connection", err)
	}
	newCache, err := cache.NewCache()
	if err != nil {
		log.Printf("an error '%s' was not expected", err)
	}

	return &database.Datasource{Conn: db, Cache: newCache}, mock, nil
}

var transactionTestColumns = []string{
	"transaction_id", "merchant_id", "customer_id", "type", "status",
	"amount", "currency", "converted_amount", "settlement_currency", "fx_quote_id",
	"payment_method", "provider_code", "provider_transaction_id", "idempotency_key",
	"parent_transaction_id", "description", "failure_code", "failure_reason",
	"meta_data", "created_at", "completed_at",
}

func transactionRows(txns ...*model.Transaction) *sqlmock.Rows {
	rows := sqlmock.NewRows(transactionTestColumns)
	for _, txn := range txns {
		paymentMethod, _ := json.Marshal(txn.PaymentMethod)
		var converted interface{}
		if txn.ConvertedAmount != nil {
			converted = txn.ConvertedAmount.String()
		}
		var completed interface{}
		if txn.CompletedAt != nil {
			completed = *txn.CompletedAt
		}
		createdAt := txn.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		rows.AddRow(txn.TransactionID, txn.MerchantID, txn.CustomerID, txn.Type, txn.Status,
			txn.Amount.String(), txn.Currency, converted, txn.SettlementCurrency, txn.FxQuoteID,
			paymentMethod, txn.ProviderCode, txn.ProviderTransactionID, txn.IdempotencyKey,
			txn.ParentTransactionID, txn.Description, txn.FailureCode, txn.FailureReason,
			nil, createdAt, completed)
	}
	return rows
}

func TestRecordPaymentPostsBalancedEntries(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	txn := &model.Transaction{
		TransactionID: "txn_" + gofakeit.UUID(),
		MerchantID:    "mch_" + gofakeit.UUID(),
		Type:          model.TypePayment,
		Status:        model.StatusCompleted,
		Amount:        big.NewInt(12500),
		Currency:      "USD",
	}

	mock.ExpectQuery("SELECT .* FROM paydash.transactions WHERE transaction_id = \\$1").
		WithArgs(txn.TransactionID).
		WillReturnRows(transactionRows(txn))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO paydash.ledger_entries").
		WithArgs(sqlmock.AnyArg(), txn.TransactionID, model.AccountCash, model.EntryDebit, "12500", "USD", "payment captured", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO paydash.ledger_entries").
		WithArgs(sqlmock.AnyArg(), txn.TransactionID, model.AccountMerchantPayable, model.EntryCredit, "12500", "USD", "payment captured", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = l.RecordPayment(context.Background(), txn)
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRecordRefundReversesMerchantPayable(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	refund := &model.Transaction{
		TransactionID: "txn_" + gofakeit.UUID(),
		MerchantID:    "mch_" + gofakeit.UUID(),
		Type:          model.TypeRefund,
		Status:        model.StatusCompleted,
		Amount:        big.NewInt(4000),
		Currency:      "USD",
	}

	mock.ExpectQuery("SELECT .* FROM paydash.transactions WHERE transaction_id = \\$1").
		WithArgs(refund.TransactionID).
		WillReturnRows(transactionRows(refund))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO paydash.ledger_entries").
		WithArgs(sqlmock.AnyArg(), refund.TransactionID, model.AccountMerchantPayable, model.EntryDebit, "4000", "USD", "refund settled", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO paydash.ledger_entries").
		WithArgs(sqlmock.AnyArg(), refund.TransactionID, model.AccountCash, model.EntryCredit, "4000", "USD", "refund settled", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = l.RecordRefund(context.Background(), refund)
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRecordEntriesRejectsUnbalancedBatch(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	txn := &model.Transaction{
		TransactionID: "txn_" + gofakeit.UUID(),
		MerchantID:    "mch_" + gofakeit.UUID(),
		Type:          model.TypePayment,
		Status:        model.StatusCompleted,
		Amount:        big.NewInt(1000),
		Currency:      "USD",
	}

	mock.ExpectQuery("SELECT .* FROM paydash.transactions WHERE transaction_id = \\$1").
		WithArgs(txn.TransactionID).
		WillReturnRows(transactionRows(txn))

	_, err = l.RecordEntries(context.Background(), txn.TransactionID, []*model.LedgerEntry{
		{AccountCode: model.AccountCash, EntryType: model.EntryDebit, Amount: big.NewInt(1000), Currency: "USD"},
		{AccountCode: model.AccountMerchantPayable, EntryType: model.EntryCredit, Amount: big.NewInt(900), Currency: "USD"},
	})

	var ledgerErr *model.LedgerError
	assert.True(t, errors.As(err, &ledgerErr))
	assert.Equal(t, model.LedgerUnbalancedEntry, ledgerErr.Kind)
	assert.ErrorContains(t, err, "debits and credits do not balance for USD")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRecordEntriesUnknownTransaction(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	mock.ExpectQuery("SELECT .* FROM paydash.transactions WHERE transaction_id = \\$1").
		WithArgs("txn_missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err = l.RecordEntries(context.Background(), "txn_missing", []*model.LedgerEntry{
		{AccountCode: model.AccountCash, EntryType: model.EntryDebit, Amount: big.NewInt(100), Currency: "USD"},
		{AccountCode: model.AccountMerchantPayable, EntryType: model.EntryCredit, Amount: big.NewInt(100), Currency: "USD"},
	})

	var ledgerErr *model.LedgerError
	assert.True(t, errors.As(err, &ledgerErr))
	assert.Equal(t, model.LedgerTransactionNotFound, ledgerErr.Kind)
}

func TestRecordFxSpreadPostsMarginInTargetCurrency(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	txn := &model.Transaction{
		TransactionID: "txn_" + gofakeit.UUID(),
		MerchantID:    "mch_" + gofakeit.UUID(),
		Type:          model.TypePayment,
		Status:        model.StatusCompleted,
		Amount:        big.NewInt(5000),
		Currency:      "USD",
	}
	quote := &model.Quote{
		QuoteID:         "fxq_" + gofakeit.UUID(),
		Source:          "USD",
		Target:          "EUR",
		Amount:          big.NewInt(5000),
		ConvertedAmount: big.NewInt(4577),
		Rate:            decimal.RequireFromString("0.92"),
		SpreadBps:       50,
	}

	mock.ExpectQuery("SELECT .* FROM paydash.transactions WHERE transaction_id = \\$1").
		WithArgs(txn.TransactionID).
		WillReturnRows(transactionRows(txn))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO paydash.ledger_entries").
		WithArgs(sqlmock.AnyArg(), txn.TransactionID, model.AccountProviderReceivable, model.EntryDebit, "23", "EUR", "fx spread margin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO paydash.ledger_entries").
		WithArgs(sqlmock.AnyArg(), txn.TransactionID, model.AccountFxSpreadRevenue, model.EntryCredit, "23", "EUR", "fx spread margin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = l.RecordFxSpread(context.Background(), txn, quote)
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestRecordFxSpreadSkipsZeroMargin(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	txn := &model.Transaction{
		TransactionID: "txn_" + gofakeit.UUID(),
		Amount:        big.NewInt(5000),
		Currency:      "USD",
	}
	quote := &model.Quote{
		Source:          "USD",
		Target:          "EUR",
		Amount:          big.NewInt(5000),
		ConvertedAmount: big.NewInt(4600),
		Rate:            decimal.RequireFromString("0.92"),
	}

	err = l.RecordFxSpread(context.Background(), txn, quote)
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGetAccountBalance(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	mock.ExpectQuery("SELECT currency, .* FROM paydash.ledger_entries WHERE account_code = \\$1").
		WithArgs(model.AccountCash, "USD", nil).
		WillReturnRows(sqlmock.NewRows([]string{"currency", "debits", "credits"}).AddRow("USD", "250000", "40000"))

	balances, err := l.GetAccountBalance(context.Background(), model.AccountCash, "USD", nil)
	assert.NoError(t, err)
	assert.Len(t, balances, 1)
	assert.Equal(t, "250000", balances[0].Debits.String())
	assert.Equal(t, "40000", balances[0].Credits.String())
	assert.Equal(t, "210000", balances[0].Net.String())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGetAccountBalanceAcrossCurrenciesAsOf(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	asOf := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT currency, .* FROM paydash.ledger_entries WHERE account_code = \\$1").
		WithArgs(model.AccountCash, "", asOf).
		WillReturnRows(sqlmock.NewRows([]string{"currency", "debits", "credits"}).
			AddRow("EUR", "9000", "4000").
			AddRow("USD", "250000", "40000"))

	balances, err := l.GetAccountBalance(context.Background(), model.AccountCash, "", &asOf)
	assert.NoError(t, err)
	assert.Len(t, balances, 2)
	assert.Equal(t, "EUR", balances[0].Currency)
	assert.Equal(t, "5000", balances[0].Net.String())
	assert.Equal(t, "USD", balances[1].Currency)
	assert.Equal(t, "210000", balances[1].Net.String())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGetAccountBalanceRejectsUnknownAccount(t *testing.T) {
	datasource, _, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	_, err = l.GetAccountBalance(context.Background(), "SLUSH_FUND", "USD", nil)

	var ledgerErr *model.LedgerError
	assert.True(t, errors.As(err, &ledgerErr))
	assert.Equal(t, model.LedgerInvalidAccountCode, ledgerErr.Kind)
}

func TestGetLedgerSummaryFlagsImbalance(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	rows := sqlmock.NewRows([]string{"account_code", "currency", "debits", "credits"}).
		AddRow(model.AccountCash, "USD", "100000", "0").
		AddRow(model.AccountMerchantPayable, "USD", "0", "90000")
	mock.ExpectQuery("SELECT account_code, currency, .* FROM paydash.ledger_entries GROUP BY account_code, currency").
		WillReturnRows(rows)

	summary, err := l.GetLedgerSummary(context.Background())
	assert.NoError(t, err)
	assert.False(t, summary.IsBalanced)
	assert.Len(t, summary.Balances, 2)
	assert.Len(t, summary.Totals, 1)
	assert.Equal(t, "100000", summary.Totals[0].Debits.String())
	assert.Equal(t, "90000", summary.Totals[0].Credits.String())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGetLedgerSummaryBalancedBooks(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	rows := sqlmock.NewRows([]string{"account_code", "currency", "debits", "credits"}).
		AddRow(model.AccountCash, "USD", "100000", "4000").
		AddRow(model.AccountMerchantPayable, "USD", "4000", "100000")
	mock.ExpectQuery("SELECT account_code, currency, .* FROM paydash.ledger_entries GROUP BY account_code, currency").
		WillReturnRows(rows)

	summary, err := l.GetLedgerSummary(context.Background())
	assert.NoError(t, err)
	assert.True(t, summary.IsBalanced)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGetEntriesByTransactionUnknownTransaction(t *testing.T) {
	datasource, mock, err := newTestDataSource()
	assert.NoError(t, err)
	l, err := NewPaydash(datasource)
	assert.NoError(t, err)

	entryColumns := []string{"entry_id", "transaction_id", "account_code", "entry_type", "amount", "currency", "description", "created_at"}
	mock.ExpectQuery("SELECT .* FROM paydash.ledger_entries WHERE transaction_id = \\$1").
		WithArgs("txn_missing").
		WillReturnRows(sqlmock.NewRows(entryColumns))
	mock.ExpectQuery("SELECT .* FROM paydash.transactions WHERE transaction_id = \\$1").
		WithArgs("txn_missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err = l.GetEntriesByTransaction(context.Background(), "txn_missing")

	var ledgerErr *model.LedgerError
	assert.True(t, errors.As(err, &ledgerErr))
	assert.Equal(t, model.LedgerTransactionNotFound, ledgerErr.Kind)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
