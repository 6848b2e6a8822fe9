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

package database

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/model"
)

func newTestTransaction() *model.Transaction {
	return &model.Transaction{
		TransactionID:  "txn_123",
		MerchantID:     "merchant_1",
		Type:           model.TypePayment,
		Status:         model.StatusPending,
		Amount:         big.NewInt(10000),
		Currency:       "USD",
		PaymentMethod:  model.PaymentMethod{Type: "card", CardBrand: "visa"},
		IdempotencyKey: "idem-1",
		CreatedAt:      time.Now(),
	}
}

func TestRecordTransaction_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	txn := newTestTransaction()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO paydash.transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO paydash.transaction_status_history").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	saved, err := ds.RecordTransaction(context.TODO(), txn)
	assert.NoError(t, err)
	assert.Equal(t, txn.TransactionID, saved.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTransaction_IdempotencyConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	txn := newTestTransaction()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO paydash.transactions").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})
	mock.ExpectRollback()

	_, err = ds.RecordTransaction(context.TODO(), txn)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}

func transactionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"transaction_id", "merchant_id", "customer_id", "type", "status", "amount", "currency",
		"converted_amount", "settlement_currency", "fx_quote_id", "payment_method", "provider_code",
		"provider_transaction_id", "idempotency_key", "parent_transaction_id", "description",
		"failure_code", "failure_reason", "meta_data", "created_at", "completed_at",
	})
}

func TestGetTransaction_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := transactionRows().AddRow(
		"txn_123", "merchant_1", "", "PAYMENT", "COMPLETED", "10000", "USD",
		"9200", "EUR", "quote_1", []byte(`{"type":"card","card_brand":"visa"}`), "alphapay",
		"alphapay_ref_9", "idem-1", "", "", "", "", []byte(`{"order":"o-1"}`), time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT (.+) FROM paydash.transactions").
		WithArgs("txn_123").
		WillReturnRows(rows)

	txn, err := ds.GetTransaction(context.TODO(), "txn_123")
	assert.NoError(t, err)
	assert.Equal(t, "txn_123", txn.TransactionID)
	assert.Equal(t, big.NewInt(10000), txn.Amount)
	assert.Equal(t, big.NewInt(9200), txn.ConvertedAmount)
	assert.Equal(t, "visa", txn.PaymentMethod.CardBrand)
	assert.Equal(t, "idem-1", txn.IdempotencyKey)
	assert.NotNil(t, txn.CompletedAt)
}

func TestGetTransaction_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM paydash.transactions").
		WithArgs("txn_missing").
		WillReturnRows(transactionRows())

	_, err = ds.GetTransaction(context.TODO(), "txn_missing")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestGetTransactionByIdempotencyKey_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := transactionRows().AddRow(
		"txn_123", "merchant_1", "", "PAYMENT", "PENDING", "10000", "USD",
		nil, "", "", []byte(`{"type":"card"}`), "",
		"", "idem-1", "", "", "", "", nil, time.Now(), nil,
	)
	mock.ExpectQuery("SELECT (.+) FROM paydash.transactions").
		WithArgs("merchant_1", "idem-1").
		WillReturnRows(rows)

	txn, err := ds.GetTransactionByIdempotencyKey(context.TODO(), "merchant_1", "idem-1")
	assert.NoError(t, err)
	assert.Equal(t, "txn_123", txn.TransactionID)
	assert.Nil(t, txn.ConvertedAmount)
	assert.Nil(t, txn.CompletedAt)
}

func TestUpdateTransactionStatus_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM paydash.transactions").
		WithArgs("txn_123").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PENDING"))
	mock.ExpectExec("UPDATE paydash.transactions").
		WithArgs("txn_123", "PROCESSING", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO paydash.transaction_status_history").
		WithArgs(sqlmock.AnyArg(), "txn_123", "PENDING", "PROCESSING", "attempting alphapay", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = ds.UpdateTransactionStatus(context.TODO(), "txn_123", "PROCESSING", "attempting alphapay")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTransactionStatus_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM paydash.transactions").
		WithArgs("txn_missing").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	err = ds.UpdateTransactionStatus(context.TODO(), "txn_missing", "PROCESSING", "")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestUpdateTransactionOutcome_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	txn := newTestTransaction()
	txn.Status = model.StatusCompleted
	txn.ProviderCode = "alphapay"
	txn.ProviderTransactionID = "alphapay_ref_9"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM paydash.transactions").
		WithArgs("txn_123").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("PROCESSING"))
	mock.ExpectExec("UPDATE paydash.transactions").
		WithArgs("txn_123", "COMPLETED", "alphapay", "alphapay_ref_9", "", "", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO paydash.transaction_status_history").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = ds.UpdateTransactionOutcome(context.TODO(), txn, "provider approved")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSumCompletedRefunds(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("txn_parent").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("2500"))

	sum, err := ds.SumCompletedRefunds(context.TODO(), "txn_parent")
	assert.NoError(t, err)
	assert.Equal(t, big.NewInt(2500), sum)
}

func TestGetTransactionsInWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	start := time.Now().Add(-24 * time.Hour)
	end := time.Now()

	rows := transactionRows().
		AddRow("txn_1", "merchant_1", "", "PAYMENT", "COMPLETED", "1000", "USD", nil, "", "", []byte(`{}`), "alphapay", "ref_1", nil, "", "", "", "", nil, time.Now(), time.Now()).
		AddRow("txn_2", "merchant_1", "", "PAYMENT", "FAILED", "2000", "USD", nil, "", "", []byte(`{}`), "alphapay", "ref_2", nil, "", "", "card_declined", "declined", nil, time.Now(), time.Now())

	mock.ExpectQuery("SELECT (.+) FROM paydash.transactions").
		WithArgs("alphapay", start, end).
		WillReturnRows(rows)

	transactions, err := ds.GetTransactionsInWindow(context.TODO(), "alphapay", start, end)
	assert.NoError(t, err)
	assert.Len(t, transactions, 2)
	assert.Equal(t, "txn_2", transactions[1].TransactionID)
	assert.Equal(t, "card_declined", transactions[1].FailureCode)
}
