package providers

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkai27/payments-dashboard/config"
	"github.com/jingkai27/payments-dashboard/internal/cache"
	"github.com/jingkai27/payments-dashboard/model"
)

func newTestAdapter(t *testing.T) (*MockAdapter, *MemoryStateStore) {
	t.Helper()
	store := NewMemoryStateStore()
	adapter := NewMockAdapter(config.ProviderConfig{
		Code:          "alphapay",
		WebhookSecret: "alphapay-sandbox-secret",
	}, store)
	return adapter, store
}

func authorizeRequest(amount int64) *AuthorizeRequest {
	return &AuthorizeRequest{
		TransactionID: model.GenerateUUIDWithSuffix("txn"),
		MerchantID:    "mch_1",
		Amount:        big.NewInt(amount),
		Currency:      "USD",
		PaymentMethod: model.PaymentMethod{Type: "card", CardBrand: "visa", Last4: "4242"},
	}
}

func TestMockAdapterAuthorizeThenCapture(t *testing.T) {
	adapter, store := newTestAdapter(t)
	ctx := context.Background()

	result, err := adapter.Authorize(ctx, authorizeRequest(5000))
	require.NoError(t, err)
	assert.Equal(t, ResultAuthorized, result.Status)
	assert.NotEmpty(t, result.ProviderTransactionID)
	assert.Equal(t, 1, store.Len())

	captured, err := adapter.Capture(ctx, result.ProviderTransactionID, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultCaptured, captured.Status)

	// second capture must be rejected, not replayed
	_, err = adapter.Capture(ctx, result.ProviderTransactionID, nil)
	require.Error(t, err)
	assert.Equal(t, ErrDuplicateTransaction, CodeOf(err))
}

func TestMockAdapterAutoCapture(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	req := authorizeRequest(5000)
	req.Capture = true
	result, err := adapter.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ResultCaptured, result.Status)
}

func TestMockAdapterCardDeclines(t *testing.T) {
	adapter, store := newTestAdapter(t)
	ctx := context.Background()

	tests := []struct {
		last4 string
		code  ErrorCode
	}{
		{"0002", ErrCardDeclined},
		{"9995", ErrInsufficientFunds},
		{"0069", ErrExpiredCard},
		{"0127", ErrInvalidCVV},
		{"0019", ErrFraudSuspected},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			req := authorizeRequest(5000)
			req.PaymentMethod.Last4 = tt.last4
			_, err := adapter.Authorize(ctx, req)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.False(t, IsRetryable(err))
		})
	}
	assert.Equal(t, 0, store.Len())
}

func TestMockAdapterAmountTriggers(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	tests := []struct {
		amount    int64
		code      ErrorCode
		retryable bool
	}{
		{10429, ErrRateLimited, true},
		{10502, ErrNetworkError, true},
		{10503, ErrProviderUnavailable, true},
		{10504, ErrTimeout, true},
		{10409, ErrDuplicateTransaction, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			_, err := adapter.Authorize(ctx, authorizeRequest(tt.amount))
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestMockAdapterRefundLifecycle(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	req := authorizeRequest(10000)
	req.Capture = true
	result, err := adapter.Authorize(ctx, req)
	require.NoError(t, err)

	// two partial refunds up to the captured amount
	_, err = adapter.Refund(ctx, result.ProviderTransactionID, big.NewInt(4000))
	require.NoError(t, err)
	refunded, err := adapter.Refund(ctx, result.ProviderTransactionID, big.NewInt(6000))
	require.NoError(t, err)
	assert.Equal(t, ResultRefunded, refunded.Status)

	// fully refunded, one more minor unit must fail
	_, err = adapter.Refund(ctx, result.ProviderTransactionID, big.NewInt(1))
	require.Error(t, err)
	assert.Equal(t, ErrCardDeclined, CodeOf(err))
}

func TestMockAdapterRefundRequiresCapture(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	result, err := adapter.Authorize(ctx, authorizeRequest(5000))
	require.NoError(t, err)

	_, err = adapter.Refund(ctx, result.ProviderTransactionID, big.NewInt(5000))
	require.Error(t, err)
	assert.Equal(t, ErrCardDeclined, CodeOf(err))
}

func TestMockAdapterVoid(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	result, err := adapter.Authorize(ctx, authorizeRequest(5000))
	require.NoError(t, err)

	voided, err := adapter.Void(ctx, result.ProviderTransactionID)
	require.NoError(t, err)
	assert.Equal(t, ResultVoided, voided.Status)

	_, err = adapter.Capture(ctx, result.ProviderTransactionID, nil)
	require.Error(t, err)
	assert.Equal(t, ErrDuplicateTransaction, CodeOf(err))
}

func TestMockAdapterUnknownReference(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.Capture(context.Background(), "alphapay_missing", nil)
	require.Error(t, err)
	assert.Equal(t, ErrNotFound, CodeOf(err))
	assert.False(t, IsRetryable(err))
}

func TestMockAdapterWebhookSignature(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	payload := []byte(`{"event_type":"payment.captured"}`)
	signature := adapter.SignWebhook(payload)
	assert.True(t, adapter.VerifyWebhookSignature(payload, signature))
	assert.False(t, adapter.VerifyWebhookSignature([]byte(`{"event_type":"tampered"}`), signature))
	assert.False(t, adapter.VerifyWebhookSignature(payload, "deadbeef"))
}

func TestMockAdapterParseWebhookEvent(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	payload, err := json.Marshal(map[string]interface{}{
		"event_id":   "evt_1",
		"event_type": "payment.captured",
		"data": map[string]interface{}{
			"provider_transaction_id": "alphapay_abc",
			"status":                  "captured",
			"amount":                  12500,
			"currency":                "USD",
		},
		"created_at": time.Now().UTC(),
	})
	require.NoError(t, err)

	event, err := adapter.ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "payment.captured", event.EventType)
	assert.Equal(t, "alphapay_abc", event.ProviderTransactionID)
	assert.Equal(t, big.NewInt(12500), event.Amount)

	_, err = adapter.ParseWebhookEvent([]byte(`{"data":{}}`))
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	alpha, _ := newTestAdapter(t)
	beta := NewMockAdapter(config.ProviderConfig{Code: "betapay", WebhookSecret: "betapay-sandbox-secret"}, NewMemoryStateStore())

	registry.Register(beta)
	registry.Register(alpha)

	got, err := registry.Get("alphapay")
	require.NoError(t, err)
	assert.Equal(t, "alphapay", got.Code())

	_, err = registry.Get("gammapay")
	require.Error(t, err)
	assert.Equal(t, ErrNotFound, CodeOf(err))

	assert.Equal(t, []string{"alphapay", "betapay"}, registry.Codes())
}

func TestIsRetryableIgnoresForeignErrors(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.Empty(t, CodeOf(errors.New("boom")))
}

func TestCacheStateStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	config.MockConfig(&config.Configuration{
		Redis:      config.RedisConfig{Dns: mr.Addr()},
		DataSource: config.DataSourceConfig{Dns: "postgres://ignored"},
	})

	ca, err := cache.NewCache()
	require.NoError(t, err)

	store := NewCacheStateStore(ca, "alphapay")
	ctx := context.Background()

	missing, err := store.Get(ctx, "alphapay_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	state := &TransactionState{
		ProviderTransactionID: "alphapay_abc",
		TransactionID:         "txn_1",
		Amount:                big.NewInt(5000),
		Currency:              "USD",
		Status:                ResultAuthorized,
		RefundedAmount:        big.NewInt(0),
		CreatedAt:             time.Now(),
	}
	require.NoError(t, store.Save(ctx, state))

	got, err := store.Get(ctx, "alphapay_abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ResultAuthorized, got.Status)
	assert.Equal(t, big.NewInt(5000), got.Amount)
}
