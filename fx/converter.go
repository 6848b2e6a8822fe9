package fx

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/internal/cache"
	"github.com/jingkai27/payments-dashboard/model"
)

// ErrNoRate means every configured source failed or had no answer for the
// pair. Payments that need conversion fail fast on it.
var ErrNoRate = errors.New("no rate available for currency pair")

// Converter fixes conversion quotes for transactions: it resolves a
// mid-market rate through the source chain, shaves the configured spread
// and floors the result to minor units. Rates are cached; quotes are not,
// each one is fixed for exactly one transaction.
type Converter struct {
	sources   []RateSource
	cache     cache.Cache
	spreadBps int64
	rateTTL   time.Duration
}

func NewConverter(cfg config.FxConfig, ca cache.Cache) (*Converter, error) {
	sources, err := NewSources(cfg)
	if err != nil {
		return nil, err
	}
	return &Converter{
		sources:   sources,
		cache:     ca,
		spreadBps: cfg.SpreadBps,
		rateTTL:   time.Duration(cfg.RateTTLSec) * time.Second,
	}, nil
}

// GetRate returns the mid-market rate for source/target, from cache when
// fresh, otherwise from the first source in the chain that answers.
func (c *Converter) GetRate(ctx context.Context, source, target string) (*model.Rate, error) {
	source, target = strings.ToUpper(source), strings.ToUpper(target)
	cacheKey := cache.Key("fx", "rate", source, target)

	var cached model.Rate
	if err := c.cache.Get(ctx, cacheKey, &cached); err == nil && !cached.Rate.IsZero() {
		return &cached, nil
	}

	var lastErr error
	for _, src := range c.sources {
		rate, err := src.FetchRate(ctx, source, target)
		if err != nil {
			logrus.WithError(err).Warnf("rate source %s failed for %s/%s, trying next", src.Name(), source, target)
			lastErr = err
			continue
		}
		fetched := &model.Rate{
			Source:    source,
			Target:    target,
			Rate:      rate,
			Provider:  src.Name(),
			FetchedAt: time.Now(),
		}
		if err := c.cache.Set(ctx, cacheKey, fetched, c.rateTTL); err != nil {
			logrus.WithError(err).Warnf("failed to cache rate %s/%s", source, target)
		}
		return fetched, nil
	}
	if lastErr != nil {
		return nil, errors.Wrapf(ErrNoRate, "%s/%s: %v", source, target, lastErr)
	}
	return nil, errors.Wrapf(ErrNoRate, "%s/%s: no sources configured", source, target)
}

// GetQuote fixes a conversion for amount minor units of source currency.
// Same-currency conversions yield an identity quote with no spread.
func (c *Converter) GetQuote(ctx context.Context, source, target string, amount *big.Int) (*model.Quote, error) {
	if amount == nil {
		return nil, errors.New("amount is required to build a quote")
	}
	source, target = strings.ToUpper(source), strings.ToUpper(target)
	now := time.Now()

	if source == target {
		return &model.Quote{
			QuoteID:         model.GenerateUUIDWithSuffix("fxq"),
			Source:          source,
			Target:          target,
			Amount:          new(big.Int).Set(amount),
			ConvertedAmount: new(big.Int).Set(amount),
			Rate:            decimal.NewFromInt(1),
			SpreadBps:       0,
			EffectiveRate:   decimal.NewFromInt(1),
			Provider:        "identity",
			CreatedAt:       now,
			ExpiresAt:       now.Add(c.rateTTL),
		}, nil
	}

	rate, err := c.GetRate(ctx, source, target)
	if err != nil {
		return nil, err
	}

	spread := decimal.NewFromInt(c.spreadBps).Div(decimal.NewFromInt(10000))
	effective := rate.Rate.Mul(decimal.NewFromInt(1).Sub(spread))
	converted := decimal.NewFromBigInt(amount, 0).Mul(effective).Floor().BigInt()

	return &model.Quote{
		QuoteID:         model.GenerateUUIDWithSuffix("fxq"),
		Source:          source,
		Target:          target,
		Amount:          new(big.Int).Set(amount),
		ConvertedAmount: converted,
		Rate:            rate.Rate,
		SpreadBps:       c.spreadBps,
		EffectiveRate:   effective,
		Provider:        rate.Provider,
		CreatedAt:       now,
		ExpiresAt:       now.Add(c.rateTTL),
	}, nil
}
