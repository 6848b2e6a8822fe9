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
	"math/big"
	"strings"
	"time"
)

// Provider directory statuses.
const (
	ProviderActive      = "ACTIVE"
	ProviderDegraded    = "DEGRADED"
	ProviderInactive    = "INACTIVE"
	ProviderMaintenance = "MAINTENANCE"
)

// Routing decision reasons.
const (
	ReasonRuleMatch     = "RULE_MATCH"
	ReasonWeightedScore = "WEIGHTED_SCORE"
)

// Condition operators accepted in routing rules.
const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpIn         = "in"
	OpNotIn      = "not_in"
	OpGt         = "gt"
	OpGte        = "gte"
	OpLt         = "lt"
	OpLte        = "lte"
	OpBetween    = "between"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
)

// Condition fields resolvable from a routing context.
const (
	FieldAmount            = "amount"
	FieldCurrency          = "currency"
	FieldPaymentMethodType = "payment_method_type"
	FieldCardBrand         = "card_brand"
	FieldCountry           = "country"
	FieldRegion            = "region"
	FieldCustomerID        = "customer_id"

	// MetadataFieldPrefix addresses transaction metadata keys in rule
	// conditions, e.g. "metadata.plan".
	MetadataFieldPrefix = "metadata."
)

// Provider is a directory entry for a payment provider integration.
// FeePercent and BaseLatencyMS are the static priors used for scoring
// until the rolling window has live samples.
type Provider struct {
	ProviderID          string    `json:"provider_id"`
	Code                string    `json:"code"`
	Name                string    `json:"name"`
	Status              string    `json:"status"`
	SupportedCurrencies []string  `json:"supported_currencies"`
	SupportedMethods    []string  `json:"supported_methods"`
	FeePercent          float64   `json:"fee_percent"`
	BaseLatencyMS       int64     `json:"base_latency_ms"`
	Priority            int       `json:"priority"`
	CreatedAt           time.Time `json:"created_at"`
}

// IsRoutable reports whether the provider may receive traffic at all.
// DEGRADED providers stay routable with a reduced availability score.
func (p *Provider) IsRoutable() bool {
	return p.Status == ProviderActive || p.Status == ProviderDegraded
}

func (p *Provider) SupportsCurrency(currency string) bool {
	for _, c := range p.SupportedCurrencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

func (p *Provider) SupportsMethod(method string) bool {
	for _, m := range p.SupportedMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// ProviderHealth is a point-in-time read of the rolling attempt window.
type ProviderHealth struct {
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMS int64   `json:"avg_latency_ms"`
	Samples      int64   `json:"samples"`
}

// RoutingContext carries the transaction attributes rules and scoring see.
type RoutingContext struct {
	MerchantID    string                 `json:"merchant_id"`
	CustomerID    string                 `json:"customer_id,omitempty"`
	Amount        *big.Int               `json:"amount"`
	Currency      string                 `json:"currency"`
	Region        string                 `json:"region,omitempty"`
	PaymentMethod PaymentMethod          `json:"payment_method"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
}

// FieldValue resolves a condition field against the context. The second
// return is false when the field is unknown or unset; conditions on such
// fields evaluate to false rather than erroring.
func (c *RoutingContext) FieldValue(field string) (interface{}, bool) {
	field = strings.ToLower(field)
	if key, ok := strings.CutPrefix(field, MetadataFieldPrefix); ok {
		if c.MetaData == nil {
			return nil, false
		}
		val, ok := c.MetaData[key]
		return val, ok
	}
	switch field {
	case FieldAmount:
		if c.Amount == nil {
			return nil, false
		}
		return c.Amount, true
	case FieldCurrency:
		return c.Currency, c.Currency != ""
	case FieldPaymentMethodType:
		return c.PaymentMethod.Type, c.PaymentMethod.Type != ""
	case FieldCardBrand:
		return c.PaymentMethod.CardBrand, c.PaymentMethod.CardBrand != ""
	case FieldCountry:
		return c.PaymentMethod.Country, c.PaymentMethod.Country != ""
	case FieldRegion:
		return c.Region, c.Region != ""
	case FieldCustomerID:
		return c.CustomerID, c.CustomerID != ""
	}
	return nil, false
}

// RuleCondition is one field/operator/value predicate.
type RuleCondition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// Matches evaluates the condition against the context.
func (rc *RuleCondition) Matches(ctx *RoutingContext) bool {
	val, ok := ctx.FieldValue(rc.Field)
	if !ok {
		return false
	}

	switch rc.Operator {
	case OpEquals:
		return valueEquals(val, rc.Value)
	case OpNotEquals:
		return !valueEquals(val, rc.Value)
	case OpIn:
		return valueIn(val, rc.Value)
	case OpNotIn:
		return !valueIn(val, rc.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return compareNumeric(val, rc.Operator, rc.Value)
	case OpBetween:
		return numericBetween(val, rc.Value)
	case OpContains:
		return stringOp(val, rc.Value, strings.Contains)
	case OpStartsWith:
		return stringOp(val, rc.Value, strings.HasPrefix)
	case OpEndsWith:
		return stringOp(val, rc.Value, strings.HasSuffix)
	}
	return false
}

// RuleConditions groups predicates. All listed parts must hold: the named
// shorthands, the amount bounds, every condition under All, and at least
// one under Any when present. An empty set matches everything, which is
// how catch-all rules are written.
type RuleConditions struct {
	All               []RuleCondition `json:"all,omitempty"`
	Any               []RuleCondition `json:"any,omitempty"`
	Currency          string          `json:"currency,omitempty"`
	PaymentMethodType string          `json:"payment_method_type,omitempty"`
	CardBrand         string          `json:"card_brand,omitempty"`
	Country           string          `json:"country,omitempty"`
	Region            string          `json:"region,omitempty"`
	AmountMin         *big.Int        `json:"amount_min,omitempty"`
	AmountMax         *big.Int        `json:"amount_max,omitempty"`
}

// Matches evaluates the full group against the context.
func (rcs *RuleConditions) Matches(ctx *RoutingContext) bool {
	if rcs.Currency != "" && !strings.EqualFold(rcs.Currency, ctx.Currency) {
		return false
	}
	if rcs.PaymentMethodType != "" && !strings.EqualFold(rcs.PaymentMethodType, ctx.PaymentMethod.Type) {
		return false
	}
	if rcs.CardBrand != "" && !strings.EqualFold(rcs.CardBrand, ctx.PaymentMethod.CardBrand) {
		return false
	}
	if rcs.Country != "" && !strings.EqualFold(rcs.Country, ctx.PaymentMethod.Country) {
		return false
	}
	if rcs.Region != "" && !strings.EqualFold(rcs.Region, ctx.Region) {
		return false
	}
	if rcs.AmountMin != nil && (ctx.Amount == nil || ctx.Amount.Cmp(rcs.AmountMin) < 0) {
		return false
	}
	if rcs.AmountMax != nil && (ctx.Amount == nil || ctx.Amount.Cmp(rcs.AmountMax) > 0) {
		return false
	}

	for i := range rcs.All {
		if !rcs.All[i].Matches(ctx) {
			return false
		}
	}

	if len(rcs.Any) > 0 {
		matched := false
		for i := range rcs.Any {
			if rcs.Any[i].Matches(ctx) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// RoutingRule directs matching traffic to a provider. Lower priority wins.
type RoutingRule struct {
	RuleID       string         `json:"rule_id"`
	MerchantID   string         `json:"merchant_id"`
	Name         string         `json:"name"`
	ProviderCode string         `json:"provider_code"`
	Priority     int            `json:"priority"`
	Enabled      bool           `json:"enabled"`
	Conditions   RuleConditions `json:"conditions"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ProviderScore is one row of a routing decision: the weighted total plus
// each 0-100 component that produced it.
type ProviderScore struct {
	ProviderCode string  `json:"provider_code"`
	Score        float64 `json:"score"`
	SuccessRate  float64 `json:"success_rate"`
	Availability float64 `json:"availability"`
	Latency      float64 `json:"latency"`
	Cost         float64 `json:"cost"`
	Priority     float64 `json:"priority"`
	Eligible     bool    `json:"eligible"`
	Reason       string  `json:"reason,omitempty"`
}

// RoutingDecision is the full routing outcome, kept for explainability:
// selected provider, why, and the scored field behind it.
type RoutingDecision struct {
	SelectedProvider string          `json:"selected_provider"`
	Reason           string          `json:"reason"`
	MatchedRuleID    string          `json:"matched_rule_id,omitempty"`
	Scores           []ProviderScore `json:"scores"`
	Fallbacks        []string        `json:"fallbacks"`
	DecidedAt        time.Time       `json:"decided_at"`
}

// ScoreWeights are the component weights of the total score. They sum to 1.
type ScoreWeights struct {
	SuccessRate  float64 `json:"success_rate"`
	Availability float64 `json:"availability"`
	Latency      float64 `json:"latency"`
	Cost         float64 `json:"cost"`
	Priority     float64 `json:"priority"`
}

// DefaultScoreWeights weight reliability first, then availability, speed,
// price and configured preference.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		SuccessRate:  0.40,
		Availability: 0.25,
		Latency:      0.15,
		Cost:         0.10,
		Priority:     0.10,
	}
}

// Total folds the components of s into the weighted score.
func (w ScoreWeights) Total(s ProviderScore) float64 {
	return w.SuccessRate*s.SuccessRate +
		w.Availability*s.Availability +
		w.Latency*s.Latency +
		w.Cost*s.Cost +
		w.Priority*s.Priority
}

// ScoreAvailability maps directory status to a component score.
func ScoreAvailability(status string) float64 {
	switch status {
	case ProviderActive:
		return 100
	case ProviderDegraded:
		return 50
	default:
		return 0
	}
}

// ScoreLatency maps an average latency to a component score: full marks
// below 100ms, then linear decay across bands until 1s scores zero.
func ScoreLatency(avgMS int64) float64 {
	ms := float64(avgMS)
	switch {
	case ms < 100:
		return 100
	case ms < 300:
		return 100 - (ms-100)/200*20 // 100 -> 80
	case ms < 500:
		return 80 - (ms-300)/200*20 // 80 -> 60
	case ms < 1000:
		return 60 - (ms-500)/500*40 // 60 -> 20
	default:
		return 0
	}
}

// ScoreCost maps a fee percentage to a component score, piecewise linear:
// free scores 100, anything above 5% scores zero.
func ScoreCost(feePercent float64) float64 {
	switch {
	case feePercent <= 0:
		return 100
	case feePercent <= 1.0:
		return 100 - feePercent/1.0*20 // 100 -> 80
	case feePercent <= 2.5:
		return 80 - (feePercent-1.0)/1.5*30 // 80 -> 50
	case feePercent <= 5.0:
		return 50 - (feePercent-2.5)/2.5*40 // 50 -> 10
	default:
		return 0
	}
}

// ScorePriority maps directory priority (1 = most preferred) to a score,
// ten points per step.
func ScorePriority(priority int) float64 {
	score := 110 - 10*float64(priority)
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ScoreSuccessRate scales a 0..1 ratio to 0..100, clamped.
func ScoreSuccessRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 100
	}
	return rate * 100
}

func valueEquals(val, target interface{}) bool {
	if amount, ok := val.(*big.Int); ok {
		t, ok := toBigInt(target)
		return ok && amount.Cmp(t) == 0
	}
	return strings.EqualFold(toString(val), toString(target))
}

func valueIn(val, target interface{}) bool {
	list, ok := target.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if valueEquals(val, item) {
			return true
		}
	}
	return false
}

func compareNumeric(val interface{}, op string, target interface{}) bool {
	amount, ok := toBigInt(val)
	if !ok {
		return false
	}
	t, ok := toBigInt(target)
	if !ok {
		return false
	}
	cmp := amount.Cmp(t)
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func numericBetween(val, target interface{}) bool {
	bounds, ok := target.([]interface{})
	if !ok || len(bounds) != 2 {
		return false
	}
	return compareNumeric(val, OpGte, bounds[0]) && compareNumeric(val, OpLte, bounds[1])
}

func stringOp(val, target interface{}, fn func(string, string) bool) bool {
	return fn(strings.ToLower(toString(val)), strings.ToLower(toString(target)))
}

// toBigInt coerces condition values, which arrive from JSON as float64 or
// string, into amounts.
func toBigInt(v interface{}) (*big.Int, bool) {
	switch n := v.(type) {
	case *big.Int:
		return n, true
	case int:
		return big.NewInt(int64(n)), true
	case int64:
		return big.NewInt(n), true
	case float64:
		return big.NewInt(int64(n)), true
	case string:
		parsed, ok := new(big.Int).SetString(n, 10)
		return parsed, ok
	}
	return nil, false
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if n, ok := toBigInt(v); ok {
		return n.String()
	}
	return ""
}

// ValidOperator reports whether op is one of the accepted rule operators.
func ValidOperator(op string) bool {
	switch op {
	case OpEquals, OpNotEquals, OpIn, OpNotIn, OpGt, OpGte, OpLt, OpLte,
		OpBetween, OpContains, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// ValidConditionField reports whether field can be resolved at evaluation
// time.
func ValidConditionField(field string) bool {
	field = strings.ToLower(field)
	if key, ok := strings.CutPrefix(field, MetadataFieldPrefix); ok {
		return key != ""
	}
	switch field {
	case FieldAmount, FieldCurrency, FieldPaymentMethodType, FieldCardBrand, FieldCountry,
		FieldRegion, FieldCustomerID:
		return true
	}
	return false
}
