package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/model"
)

func TestRecordRoutingRule_UnknownProvider(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	rule := &model.RoutingRule{
		RuleID:       "rule_1",
		MerchantID:   "merchant_1",
		Name:         "eur to betapay",
		ProviderCode: "ghostpay",
		Priority:     10,
		Enabled:      true,
		Conditions:   model.RuleConditions{Currency: "EUR"},
		CreatedAt:    time.Now(),
	}

	mock.ExpectExec("INSERT INTO paydash.routing_rules").
		WillReturnError(&pq.Error{Code: "23503", Message: "foreign_key_violation"})

	_, err = ds.RecordRoutingRule(context.TODO(), rule)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
}

func TestGetRoutingRules_MerchantAndGlobal(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows([]string{"rule_id", "merchant_id", "name", "provider_code", "priority", "enabled", "conditions", "created_at"}).
		AddRow("rule_1", "merchant_1", "eur to betapay", "betapay", 1, true, []byte(`{"currency":"EUR"}`), time.Now()).
		AddRow("rule_2", "", "large to alphapay", "alphapay", 5, true, []byte(`{"amount_min":100000}`), time.Now())
	mock.ExpectQuery("SELECT rule_id").
		WithArgs("merchant_1").
		WillReturnRows(rows)

	rules, err := ds.GetRoutingRules(context.TODO(), "merchant_1")
	assert.NoError(t, err)
	assert.Len(t, rules, 2)
	assert.Equal(t, "EUR", rules[0].Conditions.Currency)
	assert.Equal(t, "", rules[1].MerchantID)
	assert.NotNil(t, rules[1].Conditions.AmountMin)
}

func TestDeleteRoutingRule_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("DELETE FROM paydash.routing_rules").
		WithArgs("rule_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.DeleteRoutingRule(context.TODO(), "rule_missing")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestSeedProviders(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	providers := []*model.Provider{
		{ProviderID: "prov_1", Code: "alphapay", Name: "AlphaPay", Status: model.ProviderActive, SupportedCurrencies: []string{"USD"}, SupportedMethods: []string{"card"}, FeePercent: 2.9, BaseLatencyMS: 120, Priority: 1, CreatedAt: time.Now()},
		{ProviderID: "prov_2", Code: "betapay", Name: "BetaPay", Status: model.ProviderActive, SupportedCurrencies: []string{"USD", "EUR"}, SupportedMethods: []string{"card", "wallet"}, FeePercent: 1.4, BaseLatencyMS: 450, Priority: 2, CreatedAt: time.Now()},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO paydash.providers").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO paydash.providers").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err = ds.SeedProviders(context.TODO(), providers)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProviderStatus_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE paydash.providers").
		WithArgs("ghostpay", model.ProviderInactive).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdateProviderStatus(context.TODO(), "ghostpay", model.ProviderInactive)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}
