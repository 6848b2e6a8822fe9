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
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	"github.com/jingkai27/payments-dashboard/config"
	redis_db "github.com/jingkai27/payments-dashboard/internal/redis-db"
)

// Cache is the caching surface used across the service: routing rules,
// FX rates and routing decisions all go through it. Beyond plain get/set
// it supports counters, explicit expiry and pattern-based invalidation.
type Cache interface {
	// Set stores a value under key with the given time-to-live.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get loads the value stored under key into data. A cache miss is not
	// an error; data is left untouched and nil is returned.
	Get(ctx context.Context, key string, data interface{}) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// Increment adds one to the integer stored at key and returns the new
	// value, creating the key at 1 when absent.
	Increment(ctx context.Context, key string) (int64, error)

	// Expire sets a fresh TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// DeleteByPattern removes every key matching a glob pattern, e.g.
	// "paydash:rules:merchant:*". Used for grouped invalidation.
	DeleteByPattern(ctx context.Context, pattern string) error
}

// RedisCache implements Cache on top of Redis with a local TinyLFU tier
// for hot reads. Pattern deletes and counters bypass the local tier and
// talk to Redis directly.
type RedisCache struct {
	cache  *cache.Cache
	client redis.UniversalClient
}

// cacheSize defines the size of the local cache (in number of entries) used alongside Redis.
const cacheSize = 128000

// NewCache creates a RedisCache from the loaded configuration.
func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	ca, err := newRedisCache([]string{fmt.Sprintf("redis://%s", cfg.Redis.Dns)}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return ca, nil
}

func newRedisCache(addresses []string, skipTLSVerify bool) (*RedisCache, error) {
	client, err := redis_db.NewRedisClient(addresses, skipTLSVerify)
	if err != nil {
		return nil, err
	}

	c := cache.New(&cache.Options{
		Redis:      client.Client(),
		LocalCache: cache.NewTinyLFU(cacheSize, 1*time.Minute),
	})

	return &RedisCache{cache: c, client: client.Client()}, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}

	return err
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}

func (r *RedisCache) Increment(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

// DeleteByPattern scans for matching keys in batches and deletes them.
// The local tier holds entries for at most a minute, so a short window of
// stale local reads after a pattern delete is accepted.
func (r *RedisCache) DeleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
