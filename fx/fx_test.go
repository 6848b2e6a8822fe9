package fx

import (
	"context"
	"math/big"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jarcoal/httpmock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/internal/cache"
	"github.com/jingkai27/payments-dashboard/model"
)

func newTestConverter(t *testing.T, cfg config.FxConfig) *Converter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		Redis:      config.RedisConfig{Dns: mr.Addr()},
		DataSource: config.DataSourceConfig{Dns: "postgres://ignored"},
	})
	ca, err := cache.NewCache()
	require.NoError(t, err)

	if cfg.RateTTLSec == 0 {
		cfg.RateTTLSec = 300
	}
	converter, err := NewConverter(cfg, ca)
	require.NoError(t, err)
	return converter
}

func TestGetQuoteSameCurrency(t *testing.T) {
	converter := newTestConverter(t, config.FxConfig{SpreadBps: 50})

	quote, err := converter.GetQuote(context.Background(), "usd", "USD", big.NewInt(125000))
	require.NoError(t, err)
	assert.Equal(t, "USD", quote.Source)
	assert.Equal(t, "USD", quote.Target)
	assert.Equal(t, big.NewInt(125000), quote.ConvertedAmount)
	assert.Equal(t, int64(0), quote.SpreadBps)
	assert.Equal(t, "identity", quote.Provider)
	assert.True(t, quote.EffectiveRate.Equal(quote.Rate))
	assert.True(t, quote.SpreadMargin().Cmp(big.NewInt(0)) == 0)
}

func TestGetQuoteAppliesSpread(t *testing.T) {
	converter := newTestConverter(t, config.FxConfig{
		SpreadBps:   50,
		StaticRates: map[string]string{"USD:EUR": "0.92"},
	})

	quote, err := converter.GetQuote(context.Background(), "USD", "EUR", big.NewInt(10000))
	require.NoError(t, err)

	// 0.92 less 50bps is 0.9154, so 10000 converts to 9154 with 46 kept
	assert.Equal(t, big.NewInt(9154), quote.ConvertedAmount)
	assert.Equal(t, int64(50), quote.SpreadBps)
	assert.Equal(t, "0.9154", quote.EffectiveRate.String())
	assert.Equal(t, "static", quote.Provider)
	assert.Equal(t, big.NewInt(46), quote.SpreadMargin())
}

func TestGetQuoteFloorsFractionalMinorUnits(t *testing.T) {
	converter := newTestConverter(t, config.FxConfig{
		StaticRates: map[string]string{"USD:EUR": "0.925"},
	})

	quote, err := converter.GetQuote(context.Background(), "USD", "EUR", big.NewInt(999))
	require.NoError(t, err)
	// 999 * 0.925 = 924.075, merchant gets the floor
	assert.Equal(t, big.NewInt(924), quote.ConvertedAmount)
}

func TestStaticSourceDerivesInverse(t *testing.T) {
	converter := newTestConverter(t, config.FxConfig{
		StaticRates: map[string]string{"EUR:USD": "1.25"},
	})

	rate, err := converter.GetRate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.8", rate.Rate.String())
}

func TestHTTPSourceChainFallback(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://rates-a.test/latest?base=USD&symbols=EUR",
		httpmock.NewStringResponder(500, `{"error":"upstream down"}`))
	httpmock.RegisterResponder("GET", "http://rates-b.test/latest?base=USD&symbols=EUR",
		httpmock.NewStringResponder(200, `{"base":"USD","rates":{"EUR":0.92}}`))

	converter := newTestConverter(t, config.FxConfig{
		Sources: []config.FxSourceConfig{
			{Name: "rates-a", Url: "http://rates-a.test/latest"},
			{Name: "rates-b", Url: "http://rates-b.test/latest"},
		},
	})

	rate, err := converter.GetRate(context.Background(), "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, "rates-b", rate.Provider)
	assert.Equal(t, "0.92", rate.Rate.String())
}

func TestGetRateUsesCache(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://rates-a.test/latest?base=USD&symbols=EUR",
		httpmock.NewStringResponder(200, `{"base":"USD","rates":{"EUR":0.92}}`))

	converter := newTestConverter(t, config.FxConfig{
		Sources: []config.FxSourceConfig{{Name: "rates-a", Url: "http://rates-a.test/latest"}},
	})
	ctx := context.Background()

	first, err := converter.GetRate(ctx, "USD", "EUR")
	require.NoError(t, err)
	second, err := converter.GetRate(ctx, "USD", "EUR")
	require.NoError(t, err)

	assert.True(t, first.Rate.Equal(second.Rate))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestGetRateNoSources(t *testing.T) {
	converter := newTestConverter(t, config.FxConfig{})

	_, err := converter.GetRate(context.Background(), "USD", "EUR")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoRate))
}

func TestQuoteSpreadMarginBooksToRevenue(t *testing.T) {
	quote := &model.Quote{
		Amount:          big.NewInt(100000),
		ConvertedAmount: big.NewInt(91540),
		Rate:            decimal.RequireFromString("0.92"),
	}
	assert.Equal(t, big.NewInt(460), quote.SpreadMargin())
}
