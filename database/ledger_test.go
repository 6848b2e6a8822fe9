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

func newTestEntries() []*model.LedgerEntry {
	now := time.Now()
	return []*model.LedgerEntry{
		{EntryID: "entry_1", TransactionID: "txn_1", AccountCode: model.AccountCash, EntryType: model.EntryDebit, Amount: big.NewInt(10000), Currency: "USD", CreatedAt: now},
		{EntryID: "entry_2", TransactionID: "txn_1", AccountCode: model.AccountMerchantPayable, EntryType: model.EntryCredit, Amount: big.NewInt(10000), Currency: "USD", CreatedAt: now},
	}
}

func TestRecordLedgerEntries_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	entries := newTestEntries()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO paydash.ledger_entries").
		WithArgs("entry_1", "txn_1", model.AccountCash, model.EntryDebit, "10000", "USD", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO paydash.ledger_entries").
		WithArgs("entry_2", "txn_1", model.AccountMerchantPayable, model.EntryCredit, "10000", "USD", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err = ds.RecordLedgerEntries(context.TODO(), entries)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordLedgerEntries_DuplicateLeg(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	entries := newTestEntries()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO paydash.ledger_entries").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})
	mock.ExpectRollback()

	err = ds.RecordLedgerEntries(context.TODO(), entries)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT currency").
		WithArgs(model.AccountCash, "USD", nil).
		WillReturnRows(sqlmock.NewRows([]string{"currency", "debits", "credits"}).AddRow("USD", "50000", "12000"))

	balances, err := ds.GetAccountBalance(context.TODO(), model.AccountCash, "USD", nil)
	assert.NoError(t, err)
	assert.Len(t, balances, 1)
	assert.Equal(t, big.NewInt(50000), balances[0].Debits)
	assert.Equal(t, big.NewInt(12000), balances[0].Credits)
	assert.Equal(t, big.NewInt(38000), balances[0].Net)
}

func TestGetAccountBalanceGroupsCurrenciesWhenUnpinned(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT currency").
		WithArgs(model.AccountCash, "", nil).
		WillReturnRows(sqlmock.NewRows([]string{"currency", "debits", "credits"}).
			AddRow("EUR", "3000", "1000").
			AddRow("USD", "50000", "12000"))

	balances, err := ds.GetAccountBalance(context.TODO(), model.AccountCash, "", nil)
	assert.NoError(t, err)
	assert.Len(t, balances, 2)
	assert.Equal(t, "EUR", balances[0].Currency)
	assert.Equal(t, big.NewInt(2000), balances[0].Net)
	assert.Equal(t, "USD", balances[1].Currency)
	assert.Equal(t, big.NewInt(38000), balances[1].Net)
}

func TestGetAccountBalanceAsOfBoundsAggregation(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	asOf := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT currency").
		WithArgs(model.AccountCash, "USD", asOf).
		WillReturnRows(sqlmock.NewRows([]string{"currency", "debits", "credits"}).AddRow("USD", "20000", "5000"))

	balances, err := ds.GetAccountBalance(context.TODO(), model.AccountCash, "USD", &asOf)
	assert.NoError(t, err)
	assert.Len(t, balances, 1)
	assert.Equal(t, big.NewInt(15000), balances[0].Net)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccountBalanceZeroesEmptyPinnedCurrency(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT currency").
		WithArgs(model.AccountCash, "GBP", nil).
		WillReturnRows(sqlmock.NewRows([]string{"currency", "debits", "credits"}))

	balances, err := ds.GetAccountBalance(context.TODO(), model.AccountCash, "GBP", nil)
	assert.NoError(t, err)
	assert.Len(t, balances, 1)
	assert.Equal(t, "GBP", balances[0].Currency)
	assert.Equal(t, big.NewInt(0), balances[0].Net)
}

func TestGetLedgerSummary_Balanced(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows([]string{"account_code", "currency", "debits", "credits"}).
		AddRow(model.AccountCash, "USD", "10000", "0").
		AddRow(model.AccountMerchantPayable, "USD", "0", "10000")
	mock.ExpectQuery("SELECT account_code, currency").WillReturnRows(rows)

	summary, err := ds.GetLedgerSummary(context.TODO())
	assert.NoError(t, err)
	assert.True(t, summary.IsBalanced)
	assert.Len(t, summary.Balances, 2)
	assert.Len(t, summary.Totals, 1)
	assert.Equal(t, big.NewInt(10000), summary.Totals[0].Debits)
	assert.Equal(t, big.NewInt(10000), summary.Totals[0].Credits)
}

func TestGetLedgerSummary_Unbalanced(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows([]string{"account_code", "currency", "debits", "credits"}).
		AddRow(model.AccountCash, "USD", "10000", "0").
		AddRow(model.AccountMerchantPayable, "USD", "0", "9000")
	mock.ExpectQuery("SELECT account_code, currency").WillReturnRows(rows)

	summary, err := ds.GetLedgerSummary(context.TODO())
	assert.NoError(t, err)
	assert.False(t, summary.IsBalanced)
}

func TestGetLedgerEntriesByTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows([]string{"entry_id", "transaction_id", "account_code", "entry_type", "amount", "currency", "description", "created_at"}).
		AddRow("entry_1", "txn_1", model.AccountCash, model.EntryDebit, "10000", "USD", "payment", time.Now()).
		AddRow("entry_2", "txn_1", model.AccountMerchantPayable, model.EntryCredit, "10000", "USD", "payment", time.Now())
	mock.ExpectQuery("SELECT entry_id").WithArgs("txn_1").WillReturnRows(rows)

	entries, err := ds.GetLedgerEntriesByTransaction(context.TODO(), "txn_1")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, big.NewInt(10000), entries[0].Amount)
	assert.NoError(t, model.ValidateEntries(entries))
}
