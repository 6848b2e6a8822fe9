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
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/internal/apierror"
	"github.com/jingkai27/payments-dashboard/internal/cache"
	"github.com/jingkai27/payments-dashboard/model"
)

// ErrNoEligibleProvider is returned when no provider in the directory can
// take the transaction. During orchestration it marks fallback exhaustion
// rather than a failure of the routing call itself.
var ErrNoEligibleProvider = errors.New("no eligible provider for transaction")

// providersFromConfig maps configured provider entries into directory
// records for seeding.
func providersFromConfig(configuration *config.Configuration) []*model.Provider {
	seed := make([]*model.Provider, 0, len(configuration.Providers))
	for _, pc := range configuration.Providers {
		seed = append(seed, &model.Provider{
			ProviderID:          model.GenerateUUIDWithSuffix("prov"),
			Code:                pc.Code,
			Name:                pc.Name,
			Status:              pc.Status,
			SupportedCurrencies: pc.Currencies,
			SupportedMethods:    pc.Methods,
			FeePercent:          pc.FeePercent,
			BaseLatencyMS:       pc.BaseLatencyMS,
			Priority:            pc.Priority,
			CreatedAt:           time.Now(),
		})
	}
	return seed
}

// SelectProvider picks the provider for a transaction. Merchant rules win
// when one matches and its target is eligible; otherwise providers are
// ranked by the weighted score over live metrics. The decision carries
// every score so a routing choice can always be explained after the fact.
func (l *Paydash) SelectProvider(ctx context.Context, routingCtx *model.RoutingContext) (*model.RoutingDecision, error) {
	ctx, span := otel.Tracer("paydash.routing").Start(ctx, "Selecting provider")
	defer span.End()

	rules, err := l.getCachedRules(ctx, routingCtx.MerchantID)
	if err != nil {
		return nil, err
	}
	scores, eligible, err := l.scoreProviders(ctx, routingCtx, nil)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleProvider
	}

	decision := &model.RoutingDecision{
		Scores:    scores,
		DecidedAt: time.Now(),
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !rule.Conditions.Matches(routingCtx) {
			continue
		}
		if _, ok := eligible[rule.ProviderCode]; !ok {
			// matched rule targets a provider that cannot take this
			// transaction, fall through to the next rule or to scoring
			continue
		}
		decision.SelectedProvider = rule.ProviderCode
		decision.Reason = model.ReasonRuleMatch
		decision.MatchedRuleID = rule.RuleID
		decision.Fallbacks = rankedFallbacks(scores, rule.ProviderCode, 2)
		return decision, nil
	}

	ranked := rankedEligible(scores)
	decision.SelectedProvider = ranked[0]
	decision.Reason = model.ReasonWeightedScore
	decision.Fallbacks = rankedFallbacks(scores, ranked[0], 2)
	return decision, nil
}

// GetNextFallback re-runs eligibility and scoring excluding providers
// already attempted. Exhaustion surfaces as ErrNoEligibleProvider; the
// orchestrator treats that as the end of the attempt loop.
func (l *Paydash) GetNextFallback(ctx context.Context, routingCtx *model.RoutingContext, attempted []string) (*model.Provider, error) {
	excluded := make(map[string]bool, len(attempted))
	for _, code := range attempted {
		excluded[code] = true
	}

	scores, eligible, err := l.scoreProviders(ctx, routingCtx, excluded)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleProvider
	}
	return eligible[rankedEligible(scores)[0]], nil
}

// scoreProviders loads the directory and produces one ProviderScore per
// provider, eligible or not. The eligible map holds the scorable subset.
func (l *Paydash) scoreProviders(ctx context.Context, routingCtx *model.RoutingContext, excluded map[string]bool) ([]model.ProviderScore, map[string]*model.Provider, error) {
	directory, err := l.datasource.GetProviders(ctx)
	if err != nil {
		return nil, nil, err
	}

	weights := scoreWeights()
	scores := make([]model.ProviderScore, 0, len(directory))
	eligible := make(map[string]*model.Provider)

	for _, provider := range directory {
		score := model.ProviderScore{ProviderCode: provider.Code}

		switch {
		case excluded[provider.Code]:
			score.Reason = "already attempted"
		case !provider.IsRoutable():
			score.Reason = "provider is " + provider.Status
		case !provider.SupportsCurrency(routingCtx.Currency):
			score.Reason = "currency " + routingCtx.Currency + " not supported"
		case routingCtx.PaymentMethod.Type != "" && !provider.SupportsMethod(routingCtx.PaymentMethod.Type):
			score.Reason = "payment method " + routingCtx.PaymentMethod.Type + " not supported"
		default:
			score.Eligible = true
		}

		if score.Eligible {
			health, err := l.metrics.Snapshot(ctx, provider.Code)
			if err != nil {
				return nil, nil, err
			}
			latencyMS := health.AvgLatencyMS
			if health.Samples == 0 {
				latencyMS = provider.BaseLatencyMS
			}
			score.SuccessRate = model.ScoreSuccessRate(health.SuccessRate)
			score.Availability = model.ScoreAvailability(provider.Status)
			score.Latency = model.ScoreLatency(latencyMS)
			score.Cost = model.ScoreCost(provider.FeePercent)
			score.Priority = model.ScorePriority(provider.Priority)
			score.Score = weights.Total(score)
			eligible[provider.Code] = provider
		}

		scores = append(scores, score)
	}

	return scores, eligible, nil
}

// scoreWeights resolves the configured scoring weights, falling back to the
// defaults when the config leaves them all unset.
func scoreWeights() model.ScoreWeights {
	conf, err := config.Fetch()
	if err != nil || conf.Routing.Weights.IsZero() {
		return model.DefaultScoreWeights()
	}
	return model.ScoreWeights{
		SuccessRate:  conf.Routing.Weights.SuccessRate,
		Availability: conf.Routing.Weights.Availability,
		Latency:      conf.Routing.Weights.Latency,
		Cost:         conf.Routing.Weights.Cost,
		Priority:     conf.Routing.Weights.Priority,
	}
}

// rankedEligible orders eligible provider codes by score descending, ties
// broken by priority component then code.
func rankedEligible(scores []model.ProviderScore) []string {
	ranked := make([]model.ProviderScore, 0, len(scores))
	for _, s := range scores {
		if s.Eligible {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority > ranked[j].Priority
		}
		return ranked[i].ProviderCode < ranked[j].ProviderCode
	})

	codes := make([]string, len(ranked))
	for i, s := range ranked {
		codes[i] = s.ProviderCode
	}
	return codes
}

// rankedFallbacks takes the top n ranked codes after removing selected.
func rankedFallbacks(scores []model.ProviderScore, selected string, n int) []string {
	var fallbacks []string
	for _, code := range rankedEligible(scores) {
		if code == selected {
			continue
		}
		fallbacks = append(fallbacks, code)
		if len(fallbacks) == n {
			break
		}
	}
	return fallbacks
}

// getCachedRules returns the merchant's routing rules, including global
// rules, from cache or the database. Mutations invalidate synchronously so
// a stale read here lasts at most the TTL.
func (l *Paydash) getCachedRules(ctx context.Context, merchantID string) ([]*model.RoutingRule, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	cacheKey := cache.Key("rules", "merchant", merchantID)

	var rules []*model.RoutingRule
	if err := l.cache.Get(ctx, cacheKey, &rules); err == nil && len(rules) > 0 {
		return rules, nil
	}

	rules, err = l.datasource.GetRoutingRules(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		ttl := time.Duration(cfg.Routing.RuleCacheTTLSec) * time.Second
		if err := l.cache.Set(ctx, cacheKey, rules, ttl); err != nil {
			logrusWarnCache(err)
		}
	}
	return rules, nil
}

func logrusWarnCache(err error) {
	logrus.Warnf("cache operation failed: %v", err)
}

func (l *Paydash) invalidateRuleCache(ctx context.Context, merchantID string) {
	if err := l.cache.Delete(ctx, cache.Key("rules", "merchant", merchantID)); err != nil {
		logrusWarnCache(err)
	}
	// global rules appear in every merchant's evaluation order
	if merchantID == "" {
		if err := l.cache.DeleteByPattern(ctx, cache.Key("rules", "merchant", "*")); err != nil {
			logrusWarnCache(err)
		}
	}
}

// CreateRoutingRule validates and persists a rule, invalidating the
// merchant's cached rule set.
func (l *Paydash) CreateRoutingRule(ctx context.Context, rule *model.RoutingRule) (*model.RoutingRule, error) {
	if err := l.validateRule(ctx, rule); err != nil {
		return nil, err
	}
	if rule.RuleID == "" {
		rule.RuleID = model.GenerateUUIDWithSuffix("rule")
	}
	rule.CreatedAt = time.Now()

	created, err := l.datasource.RecordRoutingRule(ctx, rule)
	if err != nil {
		return nil, err
	}
	l.invalidateRuleCache(ctx, created.MerchantID)
	return created, nil
}

// UpdateRoutingRule replaces a rule's mutable fields and invalidates the
// rule cache.
func (l *Paydash) UpdateRoutingRule(ctx context.Context, rule *model.RoutingRule) (*model.RoutingRule, error) {
	if err := l.validateRule(ctx, rule); err != nil {
		return nil, err
	}
	existing, err := l.datasource.GetRoutingRule(ctx, rule.RuleID)
	if err != nil {
		return nil, err
	}

	rule.MerchantID = existing.MerchantID
	if err := l.datasource.UpdateRoutingRule(ctx, rule); err != nil {
		return nil, err
	}
	l.invalidateRuleCache(ctx, existing.MerchantID)
	return l.datasource.GetRoutingRule(ctx, rule.RuleID)
}

// DeleteRoutingRule removes a rule and invalidates the merchant's cache.
func (l *Paydash) DeleteRoutingRule(ctx context.Context, ruleID string) error {
	existing, err := l.datasource.GetRoutingRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if err := l.datasource.DeleteRoutingRule(ctx, ruleID); err != nil {
		return err
	}
	l.invalidateRuleCache(ctx, existing.MerchantID)
	return nil
}

func (l *Paydash) GetRoutingRule(ctx context.Context, ruleID string) (*model.RoutingRule, error) {
	return l.datasource.GetRoutingRule(ctx, ruleID)
}

// ListRoutingRules returns the rules evaluated for a merchant, global
// rules included, in evaluation order.
func (l *Paydash) ListRoutingRules(ctx context.Context, merchantID string) ([]*model.RoutingRule, error) {
	return l.datasource.GetRoutingRules(ctx, merchantID)
}

// validateRule checks rule shape before persistence: a known target
// provider, valid priority and well-formed conditions.
func (l *Paydash) validateRule(ctx context.Context, rule *model.RoutingRule) error {
	if rule.ProviderCode == "" {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Routing rule requires a provider code", nil)
	}
	if rule.Priority < 1 {
		return apierror.NewAPIError(apierror.ErrBadRequest, "Routing rule priority must be at least 1", nil)
	}
	if _, err := l.datasource.GetProvider(ctx, rule.ProviderCode); err != nil {
		return err
	}
	for _, cond := range append(rule.Conditions.All, rule.Conditions.Any...) {
		if !model.ValidConditionField(cond.Field) {
			return apierror.NewAPIError(apierror.ErrBadRequest, "Unknown condition field '"+cond.Field+"'", nil)
		}
		if !model.ValidOperator(cond.Operator) {
			return apierror.NewAPIError(apierror.ErrBadRequest, "Unknown condition operator '"+cond.Operator+"'", nil)
		}
	}
	return nil
}
