package paydash

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/internal/cache"
	"github.com/jingkai27/payments-dashboard/model"
)

// Attempt outcomes recorded in the rolling window.
const (
	outcomeSuccess = "ok"
	outcomeFailure = "fail"
)

// ProviderMetrics keeps a rolling window of attempt outcomes and latencies
// per provider in redis sorted sets, scored by unix time. Writes trim
// everything older than the window in the same round trip, so reads only
// ever see live samples. Routing reads these to score providers, which is
// the feedback loop that moves traffic away from a failing provider.
type ProviderMetrics struct {
	client redis.UniversalClient
	window time.Duration
}

func NewProviderMetrics(client redis.UniversalClient, cfg config.RoutingConfig) *ProviderMetrics {
	window := time.Duration(cfg.MetricsWindowSec) * time.Second
	if window <= 0 {
		window = time.Hour
	}
	return &ProviderMetrics{client: client, window: window}
}

func attemptsKey(code string) string {
	return cache.Key("metrics", "attempts", code)
}

func latencyKey(code string) string {
	return cache.Key("metrics", "latency", code)
}

// RecordAttempt feeds one provider attempt into the window. Failures to
// write metrics are logged, never propagated; a payment must not fail
// because redis hiccuped on bookkeeping.
func (m *ProviderMetrics) RecordAttempt(ctx context.Context, providerCode string, success bool, latency time.Duration) {
	now := time.Now()
	score := float64(now.Unix())
	cutoff := fmt.Sprintf("%d", now.Add(-m.window).Unix())

	outcome := outcomeFailure
	if success {
		outcome = outcomeSuccess
	}

	pipe := m.client.TxPipeline()
	pipe.ZAdd(ctx, attemptsKey(providerCode), redis.Z{
		Score:  score,
		Member: fmt.Sprintf("%d:%s", now.UnixNano(), outcome),
	})
	pipe.ZRemRangeByScore(ctx, attemptsKey(providerCode), "-inf", cutoff)
	pipe.ZAdd(ctx, latencyKey(providerCode), redis.Z{
		Score:  score,
		Member: fmt.Sprintf("%d:%d", now.UnixNano(), latency.Milliseconds()),
	})
	pipe.ZRemRangeByScore(ctx, latencyKey(providerCode), "-inf", cutoff)
	pipe.Expire(ctx, attemptsKey(providerCode), m.window*2)
	pipe.Expire(ctx, latencyKey(providerCode), m.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		logrus.Errorf("failed to record provider metrics for %s: %v", providerCode, err)
	}
}

// Snapshot reads the provider's rolling window. With no samples the
// provider is treated as fully healthy with zero measured latency;
// scoring falls back to the directory's static latency prior in that
// case.
func (m *ProviderMetrics) Snapshot(ctx context.Context, providerCode string) (*model.ProviderHealth, error) {
	cutoff := fmt.Sprintf("%d", time.Now().Add(-m.window).Unix())

	attempts, err := m.client.ZRangeByScore(ctx, attemptsKey(providerCode), &redis.ZRangeBy{Min: cutoff, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	latencies, err := m.client.ZRangeByScore(ctx, latencyKey(providerCode), &redis.ZRangeBy{Min: cutoff, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}

	health := &model.ProviderHealth{SuccessRate: 1.0, Samples: int64(len(attempts))}
	if len(attempts) > 0 {
		var successes int64
		for _, member := range attempts {
			if strings.HasSuffix(member, ":"+outcomeSuccess) {
				successes++
			}
		}
		health.SuccessRate = float64(successes) / float64(len(attempts))
	}

	if len(latencies) > 0 {
		var totalMS int64
		var counted int64
		for _, member := range latencies {
			parts := strings.SplitN(member, ":", 2)
			if len(parts) != 2 {
				continue
			}
			ms, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				continue
			}
			totalMS += ms
			counted++
		}
		if counted > 0 {
			health.AvgLatencyMS = totalMS / counted
		}
	}

	return health, nil
}
