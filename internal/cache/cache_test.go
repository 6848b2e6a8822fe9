package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := newRedisCache([]string{mr.Addr()}, false)
	require.NoError(t, err)
	return c, mr
}

func TestKeyNamespacing(t *testing.T) {
	assert.Equal(t, "paydash:rules:merchant:mch_1", Key("rules", "merchant", "mch_1"))
	assert.Equal(t, "paydash:fx:rate:USD:EUR", Key("fx", "rate", "USD", "EUR"))
	assert.Equal(t, "paydash:rules:merchant:*", Key("rules", "merchant", "*"))
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	type payload struct {
		Provider string `json:"provider"`
		Score    float64
	}

	require.NoError(t, c.Set(ctx, Key("test", "decision"), payload{Provider: "alphapay", Score: 87.5}, time.Minute))

	var got payload
	require.NoError(t, c.Get(ctx, Key("test", "decision"), &got))
	assert.Equal(t, "alphapay", got.Provider)
	assert.Equal(t, 87.5, got.Score)
}

func TestGetMissReturnsNil(t *testing.T) {
	c, _ := newTestCache(t)

	var got string
	err := c.Get(context.Background(), Key("test", "absent"), &got)
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteByPattern(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(Key("rules", "merchant", "mch_1"), "a"))
	require.NoError(t, mr.Set(Key("rules", "merchant", "mch_2"), "b"))
	require.NoError(t, mr.Set(Key("fx", "rate", "USD:EUR"), "c"))

	require.NoError(t, c.DeleteByPattern(ctx, Key("rules", "merchant", "*")))

	assert.False(t, mr.Exists(Key("rules", "merchant", "mch_1")))
	assert.False(t, mr.Exists(Key("rules", "merchant", "mch_2")))
	assert.True(t, mr.Exists(Key("fx", "rate", "USD:EUR")))
}

func TestIncrementAndExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	n, err := c.Increment(ctx, Key("test", "counter"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Increment(ctx, Key("test", "counter"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, c.Expire(ctx, Key("test", "counter"), 30*time.Second))
	assert.Greater(t, mr.TTL(Key("test", "counter")), time.Duration(0))
}
