package paydash

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/model"
)

func cardRoutingContext(amount int64, currency string) *model.RoutingContext {
	return &model.RoutingContext{
		MerchantID:    "mch_" + gofakeit.UUID(),
		Amount:        big.NewInt(amount),
		Currency:      currency,
		PaymentMethod: model.PaymentMethod{Type: "card", CardBrand: "visa", Last4: "4242"},
	}
}

func TestSelectProviderPrefersMatchingRule(t *testing.T) {
	l, mock := newPaymentTestSetup(t, testProviderPair())
	routingCtx := cardRoutingContext(5000, "USD")

	// without the rule alpha would win on priority; the rule pins USD
	// card traffic to beta
	ruleRows := sqlmock.NewRows(routingRuleTestColumns).
		AddRow("rule_fixed", routingCtx.MerchantID, "USD via beta", "beta", 1, true, []byte(`{"currency":"USD"}`), time.Now())
	mock.ExpectQuery("SELECT .* FROM paydash.routing_rules WHERE merchant_id = \\$1").
		WithArgs(routingCtx.MerchantID).
		WillReturnRows(ruleRows)
	mock.ExpectQuery("SELECT .* FROM paydash.providers ORDER BY priority ASC, code ASC").
		WillReturnRows(providerDirectoryRows(testProviderPair()...))

	decision, err := l.SelectProvider(context.Background(), routingCtx)
	assert.NoError(t, err)
	assert.Equal(t, "beta", decision.SelectedProvider)
	assert.Equal(t, model.ReasonRuleMatch, decision.Reason)
	assert.Equal(t, "rule_fixed", decision.MatchedRuleID)
	assert.Equal(t, []string{"alpha"}, decision.Fallbacks)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSelectProviderMatchesCustomerAttributeRules(t *testing.T) {
	l, mock := newPaymentTestSetup(t, testProviderPair())
	routingCtx := cardRoutingContext(5000, "USD")
	routingCtx.Region = "eu-west"
	routingCtx.CustomerID = "cust_42"
	routingCtx.MetaData = map[string]interface{}{"plan": "enterprise"}

	conditions := []byte(`{"region":"eu-west","all":[` +
		`{"field":"customer_id","operator":"equals","value":"cust_42"},` +
		`{"field":"metadata.plan","operator":"equals","value":"enterprise"}]}`)
	ruleRows := sqlmock.NewRows(routingRuleTestColumns).
		AddRow("rule_region", routingCtx.MerchantID, "EU enterprise via beta", "beta", 1, true, conditions, time.Now())
	mock.ExpectQuery("SELECT .* FROM paydash.routing_rules WHERE merchant_id = \\$1").
		WithArgs(routingCtx.MerchantID).
		WillReturnRows(ruleRows)
	mock.ExpectQuery("SELECT .* FROM paydash.providers ORDER BY priority ASC, code ASC").
		WillReturnRows(providerDirectoryRows(testProviderPair()...))

	decision, err := l.SelectProvider(context.Background(), routingCtx)
	assert.NoError(t, err)
	assert.Equal(t, "beta", decision.SelectedProvider)
	assert.Equal(t, model.ReasonRuleMatch, decision.Reason)
	assert.Equal(t, "rule_region", decision.MatchedRuleID)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSelectProviderSkipsRuleWithIneligibleTarget(t *testing.T) {
	configs := []config.ProviderConfig{
		{Code: "alpha", Name: "Alpha Payments", Status: model.ProviderActive, Currencies: []string{"USD"}, Methods: []string{"card"}, Priority: 1},
		{Code: "beta", Name: "Beta Gateway", Status: model.ProviderInactive, Currencies: []string{"USD"}, Methods: []string{"card"}, Priority: 2},
	}
	l, mock := newPaymentTestSetup(t, configs)
	routingCtx := cardRoutingContext(5000, "USD")

	ruleRows := sqlmock.NewRows(routingRuleTestColumns).
		AddRow("rule_fixed", routingCtx.MerchantID, "USD via beta", "beta", 1, true, []byte(`{"currency":"USD"}`), time.Now())
	mock.ExpectQuery("SELECT .* FROM paydash.routing_rules WHERE merchant_id = \\$1").
		WithArgs(routingCtx.MerchantID).
		WillReturnRows(ruleRows)
	mock.ExpectQuery("SELECT .* FROM paydash.providers ORDER BY priority ASC, code ASC").
		WillReturnRows(providerDirectoryRows(configs...))

	decision, err := l.SelectProvider(context.Background(), routingCtx)
	assert.NoError(t, err)
	assert.Equal(t, "alpha", decision.SelectedProvider)
	assert.Equal(t, model.ReasonWeightedScore, decision.Reason)
	assert.Empty(t, decision.MatchedRuleID)

	assert.Len(t, decision.Scores, 2)
	for _, score := range decision.Scores {
		if score.ProviderCode == "beta" {
			assert.False(t, score.Eligible)
			assert.Equal(t, "provider is INACTIVE", score.Reason)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSelectProviderWeightsLiveSuccessRate(t *testing.T) {
	l, mock := newPaymentTestSetup(t, testProviderPair())
	ctx := context.Background()

	// alpha has been failing inside the window, beta has not
	for i := 0; i < 3; i++ {
		l.metrics.RecordAttempt(ctx, "alpha", false, 50*time.Millisecond)
		l.metrics.RecordAttempt(ctx, "beta", true, 50*time.Millisecond)
	}

	routingCtx := cardRoutingContext(5000, "USD")
	mock.ExpectQuery("SELECT .* FROM paydash.routing_rules WHERE merchant_id = \\$1").
		WithArgs(routingCtx.MerchantID).
		WillReturnRows(sqlmock.NewRows(routingRuleTestColumns))
	mock.ExpectQuery("SELECT .* FROM paydash.providers ORDER BY priority ASC, code ASC").
		WillReturnRows(providerDirectoryRows(testProviderPair()...))

	decision, err := l.SelectProvider(ctx, routingCtx)
	assert.NoError(t, err)
	assert.Equal(t, "beta", decision.SelectedProvider)
	assert.Equal(t, model.ReasonWeightedScore, decision.Reason)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSelectProviderHonorsConfiguredWeights(t *testing.T) {
	l, mock := newPaymentTestSetup(t, testProviderPair())
	ctx := context.Background()

	// same failing-alpha window as above, but the configuration now scores
	// on directory priority alone
	for i := 0; i < 3; i++ {
		l.metrics.RecordAttempt(ctx, "alpha", false, 50*time.Millisecond)
		l.metrics.RecordAttempt(ctx, "beta", true, 50*time.Millisecond)
	}

	conf, err := config.Fetch()
	assert.NoError(t, err)
	conf.Routing.Weights = config.RoutingWeights{Priority: 1.0}
	config.MockConfig(conf)

	routingCtx := cardRoutingContext(5000, "USD")
	mock.ExpectQuery("SELECT .* FROM paydash.routing_rules WHERE merchant_id = \\$1").
		WithArgs(routingCtx.MerchantID).
		WillReturnRows(sqlmock.NewRows(routingRuleTestColumns))
	mock.ExpectQuery("SELECT .* FROM paydash.providers ORDER BY priority ASC, code ASC").
		WillReturnRows(providerDirectoryRows(testProviderPair()...))

	decision, err := l.SelectProvider(ctx, routingCtx)
	assert.NoError(t, err)
	assert.Equal(t, "alpha", decision.SelectedProvider)
	assert.Equal(t, model.ReasonWeightedScore, decision.Reason)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGetNextFallbackExcludesAttemptedProviders(t *testing.T) {
	l, mock := newPaymentTestSetup(t, testProviderPair())
	routingCtx := cardRoutingContext(5000, "USD")

	mock.ExpectQuery("SELECT .* FROM paydash.providers ORDER BY priority ASC, code ASC").
		WillReturnRows(providerDirectoryRows(testProviderPair()...))

	next, err := l.GetNextFallback(context.Background(), routingCtx, []string{"alpha"})
	assert.NoError(t, err)
	assert.Equal(t, "beta", next.Code)

	mock.ExpectQuery("SELECT .* FROM paydash.providers ORDER BY priority ASC, code ASC").
		WillReturnRows(providerDirectoryRows(testProviderPair()...))

	_, err = l.GetNextFallback(context.Background(), routingCtx, []string{"alpha", "beta"})
	assert.True(t, errors.Is(err, ErrNoEligibleProvider))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCreateRoutingRule(t *testing.T) {
	l, mock := newPaymentTestSetup(t, testProviderPair())

	rule := &model.RoutingRule{
		MerchantID:   "mch_" + gofakeit.UUID(),
		Name:         "EUR traffic to alpha",
		ProviderCode: "alpha",
		Priority:     1,
		Enabled:      true,
		Conditions:   model.RuleConditions{Currency: "EUR"},
	}

	mock.ExpectQuery("SELECT .* FROM paydash.providers WHERE code = \\$1").
		WithArgs("alpha").
		WillReturnRows(providerDirectoryRows(testProviderPair()[0]))
	mock.ExpectExec("INSERT INTO paydash.routing_rules").
		WithArgs(sqlmock.AnyArg(), rule.MerchantID, rule.Name, "alpha", 1, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := l.CreateRoutingRule(context.Background(), rule)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.RuleID, "rule_"))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCreateRoutingRuleUnknownProvider(t *testing.T) {
	l, mock := newPaymentTestSetup(t, testProviderPair())

	rule := &model.RoutingRule{
		MerchantID:   "mch_" + gofakeit.UUID(),
		Name:         "route to nowhere",
		ProviderCode: "ghost",
		Priority:     1,
	}

	mock.ExpectQuery("SELECT .* FROM paydash.providers WHERE code = \\$1").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := l.CreateRoutingRule(context.Background(), rule)

	var apiErr apierror.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCreateRoutingRuleRejectsBadShape(t *testing.T) {
	l, _ := newPaymentTestSetup(t, testProviderPair())
	ctx := context.Background()

	_, err := l.CreateRoutingRule(ctx, &model.RoutingRule{Priority: 1})
	assert.ErrorContains(t, err, "requires a provider code")

	_, err = l.CreateRoutingRule(ctx, &model.RoutingRule{ProviderCode: "alpha", Priority: 0})
	assert.ErrorContains(t, err, "priority must be at least 1")
}

func TestCreateRoutingRuleRejectsUnknownConditionField(t *testing.T) {
	l, mock := newPaymentTestSetup(t, testProviderPair())

	rule := &model.RoutingRule{
		ProviderCode: "alpha",
		Priority:     1,
		Conditions: model.RuleConditions{
			All: []model.RuleCondition{{Field: "shoe_size", Operator: model.OpEquals, Value: "42"}},
		},
	}

	mock.ExpectQuery("SELECT .* FROM paydash.providers WHERE code = \\$1").
		WithArgs("alpha").
		WillReturnRows(providerDirectoryRows(testProviderPair()[0]))

	_, err := l.CreateRoutingRule(context.Background(), rule)
	assert.ErrorContains(t, err, "Unknown condition field 'shoe_size'")
}

func TestProviderMetricsRollingWindow(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	metrics := NewProviderMetrics(client, config.RoutingConfig{MetricsWindowSec: 300})
	ctx := context.Background()

	metrics.RecordAttempt(ctx, "alpha", true, 10*time.Millisecond)
	metrics.RecordAttempt(ctx, "alpha", true, 30*time.Millisecond)
	metrics.RecordAttempt(ctx, "alpha", false, 100*time.Millisecond)

	health, err := metrics.Snapshot(ctx, "alpha")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), health.Samples)
	assert.InDelta(t, 0.667, health.SuccessRate, 0.01)
	assert.Equal(t, int64(46), health.AvgLatencyMS)
}

func TestProviderMetricsIgnoresSamplesOutsideWindow(t *testing.T) {
	mr, err := miniredis.Run()
	assert.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	metrics := NewProviderMetrics(client, config.RoutingConfig{MetricsWindowSec: 300})
	ctx := context.Background()

	stale := float64(time.Now().Add(-10 * time.Minute).Unix())
	err = client.ZAdd(ctx, attemptsKey("alpha"), redis.Z{Score: stale, Member: "1:ok"}).Err()
	assert.NoError(t, err)
	err = client.ZAdd(ctx, latencyKey("alpha"), redis.Z{Score: stale, Member: "1:50"}).Err()
	assert.NoError(t, err)

	health, err := metrics.Snapshot(ctx, "alpha")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), health.Samples)
	assert.Equal(t, 1.0, health.SuccessRate)
	assert.Equal(t, int64(0), health.AvgLatencyMS)
}
