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
	"fmt"
	"math/big"

	"github.com/redis/go-redis/v9"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/database"
	"github.com/jingkai27/payments-dashboard/fx"
	"github.com/jingkai27/payments-dashboard/internal/cache"
	redis_db "github.com/jingkai27/payments-dashboard/internal/redis-db"
	"github.com/jingkai27/payments-dashboard/model"
	"github.com/jingkai27/payments-dashboard/providers"
)

// Paydash wires the payment services together: routing, orchestration,
// ledger, FX and reconciliation all hang off this struct. It is built
// once at process start and passed by reference; none of its fields are
// package globals.
type Paydash struct {
	datasource database.IDataSource
	registry   *providers.Registry
	converter  *fx.Converter
	metrics    *ProviderMetrics
	queue      *Queue
	search     *TypesenseClient
	events     *EventPublisher
	redis      redis.UniversalClient
	cache      cache.Cache
}

// NewPaydash assembles a Paydash from configuration: redis, cache, queue,
// search, the provider registry, the FX converter and the kafka emitter.
// The provider directory is seeded into the database so routing and the
// API read one source of truth.
func NewPaydash(db database.IDataSource) (*Paydash, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	registry := providers.NewRegistry()
	for _, pc := range configuration.Providers {
		store := providers.NewCacheStateStore(newCache, pc.Code)
		registry.Register(providers.NewMockAdapter(pc, store))
	}

	converter, err := fx.NewConverter(configuration.Fx, newCache)
	if err != nil {
		return nil, err
	}

	newQueue := NewQueue(configuration)
	newSearch := NewTypesenseClient(configuration.TypeSenseKey, []string{configuration.TypeSense.Dns})

	newPaydash := &Paydash{
		datasource: db,
		registry:   registry,
		converter:  converter,
		metrics:    NewProviderMetrics(redisClient.Client(), configuration.Routing),
		queue:      newQueue,
		search:     newSearch,
		events:     NewEventPublisher(configuration.Kafka),
		redis:      redisClient.Client(),
		cache:      newCache,
	}
	return newPaydash, nil
}

// Registry exposes the provider adapters, mainly for webhook ingress and
// health endpoints.
func (l *Paydash) Registry() *providers.Registry {
	return l.registry
}

// GetSearchClient exposes the typesense client, used by reindexing.
func (l *Paydash) GetSearchClient() *TypesenseClient {
	return l.search
}

// GetDataSource exposes the datasource, used by reindexing.
func (l *Paydash) GetDataSource() database.IDataSource {
	return l.datasource
}

// ListProviders returns the provider directory in routing order.
func (l *Paydash) ListProviders(ctx context.Context) ([]*model.Provider, error) {
	return l.datasource.GetProviders(ctx)
}

// ProviderHealthReport is a provider's live view: the directory record,
// adapter reachability, and the rolling metrics routing scores from.
type ProviderHealthReport struct {
	Provider  *model.Provider       `json:"provider"`
	Reachable bool                  `json:"reachable"`
	Health    *model.ProviderHealth `json:"health"`
}

// GetProviderHealth checks a provider's adapter and reads its rolling
// metrics window.
func (l *Paydash) GetProviderHealth(ctx context.Context, code string) (*ProviderHealthReport, error) {
	provider, err := l.datasource.GetProvider(ctx, code)
	if err != nil {
		return nil, err
	}
	adapter, err := l.registry.Get(code)
	if err != nil {
		return nil, err
	}
	health, err := l.metrics.Snapshot(ctx, code)
	if err != nil {
		return nil, err
	}
	return &ProviderHealthReport{
		Provider:  provider,
		Reachable: adapter.HealthCheck(ctx) == nil,
		Health:    health,
	}, nil
}

// GetFxRate returns the current effective rate for a currency pair.
func (l *Paydash) GetFxRate(ctx context.Context, source, target string) (*model.Rate, error) {
	return l.converter.GetRate(ctx, source, target)
}

// GetFxQuote prices a conversion of amount minor units from source to
// target, spread included.
func (l *Paydash) GetFxQuote(ctx context.Context, source, target string, amount *big.Int) (*model.Quote, error) {
	return l.converter.GetQuote(ctx, source, target, amount)
}

// SeedProviders upserts the configured provider directory into the
// database. Called once at boot, before the API starts serving.
func (l *Paydash) SeedProviders(ctx context.Context) error {
	configuration, err := config.Fetch()
	if err != nil {
		return err
	}
	seed := providersFromConfig(configuration)
	if len(seed) == 0 {
		return nil
	}
	return l.datasource.SeedProviders(ctx, seed)
}
