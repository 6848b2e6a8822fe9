package paydash

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/model"
)

const settlementCSV = `record_id,transaction_id,provider_code,amount,currency,status,settled_at
stl_1,txn_1,alpha,12500,usd,SETTLED,2024-01-15T10:30:00Z
stl_2,txn_2,alpha,4000,USD,refunded,2024-01-15
`

func TestParseSettlementFileCSV(t *testing.T) {
	records, err := ParseSettlementFile(strings.NewReader(settlementCSV), "settlement.csv")
	assert.NoError(t, err)
	assert.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "stl_1", first.RecordID)
	assert.Equal(t, "txn_1", first.TransactionID)
	assert.Equal(t, "alpha", first.ProviderCode)
	assert.Equal(t, big.NewInt(12500), first.Amount)
	assert.Equal(t, "USD", first.Currency)
	assert.Equal(t, "settled", first.Status)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), first.SettledAt)
	assert.Equal(t, "12500", first.RawRow["amount"])

	// Bare dates parse too.
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), records[1].SettledAt)
	assert.Equal(t, "refunded", records[1].Status)
}

func TestParseSettlementFileDetectsCSVWithoutExtension(t *testing.T) {
	records, err := ParseSettlementFile(strings.NewReader(settlementCSV), "upload")
	assert.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestParseSettlementFileJSON(t *testing.T) {
	payload := `[
		{"transaction_id": "txn_1", "provider_code": "alpha", "amount": 12500, "currency": "usd", "status": "SETTLED", "settled_at": "2024-01-15T10:30:00Z"},
		{"record_id": "stl_9", "transaction_id": "txn_2", "provider_code": "alpha", "amount": 4000, "currency": "USD", "status": "failed", "settled_at": "2024-01-15T11:00:00Z"}
	]`

	records, err := ParseSettlementFile(strings.NewReader(payload), "settlement.json")
	assert.NoError(t, err)
	assert.Len(t, records, 2)

	// A record id is minted when the file carries none.
	assert.True(t, strings.HasPrefix(records[0].RecordID, "stl_"))
	assert.Equal(t, "USD", records[0].Currency)
	assert.Equal(t, "settled", records[0].Status)
	assert.Equal(t, "stl_9", records[1].RecordID)
}

func TestParseSettlementFileRejectsJSONRowWithoutAmount(t *testing.T) {
	payload := `[
		{"transaction_id": "txn_1", "provider_code": "alpha", "amount": 12500, "currency": "USD", "status": "settled"},
		{"transaction_id": "txn_2", "provider_code": "alpha", "currency": "USD", "status": "settled"}
	]`
	_, err := ParseSettlementFile(strings.NewReader(payload), "settlement.json")
	assert.ErrorContains(t, err, "settlement record 2 (txn_2) is missing amount")
}

func TestParseSettlementFileRejectsJSONRowWithoutTransactionID(t *testing.T) {
	payload := `[{"provider_code": "alpha", "amount": 12500, "currency": "USD", "status": "settled"}]`
	_, err := ParseSettlementFile(strings.NewReader(payload), "settlement.json")
	assert.ErrorContains(t, err, "settlement record 1 is missing transaction_id")
}

func TestParseSettlementFileRejectsMissingColumns(t *testing.T) {
	csv := "transaction_id,currency,status\ntxn_1,USD,settled\n"
	_, err := ParseSettlementFile(strings.NewReader(csv), "settlement.csv")
	assert.ErrorContains(t, err, "required column 'amount' not found")
}

func TestParseSettlementFileRejectsNonIntegerAmounts(t *testing.T) {
	csv := "transaction_id,amount,currency,status\ntxn_1,125.00,USD,settled\n"
	_, err := ParseSettlementFile(strings.NewReader(csv), "settlement.csv")
	assert.ErrorContains(t, err, "expected minor units")
}

func TestWriteSettlementCSVReadsBack(t *testing.T) {
	records := []*model.SettlementRecord{
		{
			RecordID:      "stl_1",
			TransactionID: "txn_1",
			ProviderCode:  "alpha",
			Amount:        big.NewInt(12500),
			Currency:      "USD",
			Status:        SettlementStatusSettled,
			SettledAt:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	assert.NoError(t, WriteSettlementCSV(&buf, records))

	parsed, err := ParseSettlementFile(&buf, "settlement.csv")
	assert.NoError(t, err)
	assert.Len(t, parsed, 1)
	assert.Equal(t, records[0].TransactionID, parsed[0].TransactionID)
	assert.Equal(t, records[0].Amount, parsed[0].Amount)
	assert.Equal(t, records[0].Status, parsed[0].Status)
	assert.Equal(t, records[0].SettledAt, parsed[0].SettledAt)
}

func TestGenerateMockSettlementProjectsWindow(t *testing.T) {
	l, mock := newReconciliationTestSetup(t)
	config.MockConfig(&config.Configuration{
		Reconciliation: config.ReconciliationConfig{MockPerturbRate: 0},
	})

	windowStart := time.Now().Add(-24 * time.Hour)
	windowEnd := time.Now()

	completed := settledTransaction("txn_done", 1000, model.StatusCompleted)
	refunded := settledTransaction("txn_back", 2000, model.StatusRefunded)
	failed := settledTransaction("txn_bad", 3000, model.StatusFailed)
	pending := settledTransaction("txn_open", 4000, model.StatusPending)
	otherMerchant := settledTransaction("txn_other", 5000, model.StatusCompleted)
	otherMerchant.MerchantID = "mch_other"

	mock.ExpectQuery("SELECT .* FROM paydash.transactions WHERE provider_code = \\$1 AND created_at >= \\$2 AND created_at < \\$3").
		WithArgs("alpha", windowStart, windowEnd).
		WillReturnRows(transactionRows(completed, refunded, failed, pending, otherMerchant))

	records, err := l.GenerateMockSettlement(context.Background(), "mch_recon", "alpha", windowStart, windowEnd, 42)
	assert.NoError(t, err)
	assert.Len(t, records, 3)

	byTxn := make(map[string]*model.SettlementRecord)
	for _, record := range records {
		byTxn[record.TransactionID] = record
	}
	assert.Equal(t, SettlementStatusSettled, byTxn["txn_done"].Status)
	assert.Equal(t, big.NewInt(1000), byTxn["txn_done"].Amount)
	assert.Equal(t, SettlementStatusRefunded, byTxn["txn_back"].Status)
	assert.Equal(t, SettlementStatusFailed, byTxn["txn_bad"].Status)
	assert.NotContains(t, byTxn, "txn_open")
	assert.NotContains(t, byTxn, "txn_other")
}

func TestGenerateMockSettlementIsSeedDeterministic(t *testing.T) {
	l, mock := newReconciliationTestSetup(t)
	config.MockConfig(&config.Configuration{
		Reconciliation: config.ReconciliationConfig{MockPerturbRate: 0.5},
	})

	windowStart := time.Now().Add(-24 * time.Hour)
	windowEnd := time.Now()

	transactions := make([]*model.Transaction, 0, 20)
	for i := 0; i < 20; i++ {
		transactions = append(transactions, settledTransaction("txn_"+strings.Repeat("a", i+1), int64(1000+i*100), model.StatusCompleted))
	}

	type row struct {
		txnID  string
		amount string
		status string
	}
	project := func() []row {
		mock.ExpectQuery("SELECT .* FROM paydash.transactions WHERE provider_code = \\$1 AND created_at >= \\$2 AND created_at < \\$3").
			WithArgs("alpha", windowStart, windowEnd).
			WillReturnRows(transactionRows(transactions...))
		records, err := l.GenerateMockSettlement(context.Background(), "", "alpha", windowStart, windowEnd, 7)
		assert.NoError(t, err)
		rows := make([]row, 0, len(records))
		for _, record := range records {
			rows = append(rows, row{txnID: record.TransactionID, amount: record.Amount.String(), status: record.Status})
		}
		return rows
	}

	first := project()
	second := project()
	assert.Equal(t, first, second)
}
