package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jingkai27/payments-dashboard/config"
)

// Card-number triggers, matched on the last four digits of the instrument.
// Same convention sandbox acquirers use: a specific test card forces a
// specific decline.
var cardDeclines = map[string]ErrorCode{
	"0002": ErrCardDeclined,
	"9995": ErrInsufficientFunds,
	"0069": ErrExpiredCard,
	"0127": ErrInvalidCVV,
	"0019": ErrFraudSuspected,
}

// Amount triggers, matched on the last three digits of the minor-unit
// amount. The values read as HTTP statuses so scenarios are easy to
// remember: charging 10.04 forces a timeout.
var amountFailures = map[int64]ErrorCode{
	429: ErrRateLimited,
	502: ErrNetworkError,
	503: ErrProviderUnavailable,
	504: ErrTimeout,
	409: ErrDuplicateTransaction,
}

// MockAdapter simulates a card acquirer end to end: authorizations,
// captures, refunds, voids and signed webhooks. Failure scenarios are
// driven by card and amount patterns so they are reproducible, plus an
// optional random failure rate for soak testing. All lifecycle state
// lives in the injected StateStore, never in the adapter itself.
type MockAdapter struct {
	code          string
	webhookSecret []byte
	failureRate   float64
	latency       time.Duration
	store         StateStore

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockAdapter builds a simulated provider from its config entry.
// Two entries with different codes behave as two independent providers.
func NewMockAdapter(cfg config.ProviderConfig, store StateStore) *MockAdapter {
	return &MockAdapter{
		code:          cfg.Code,
		webhookSecret: []byte(cfg.WebhookSecret),
		failureRate:   cfg.FailureRate,
		latency:       time.Duration(cfg.SimulateLatencyMS) * time.Millisecond,
		store:         store,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockAdapter) Code() string {
	return m.code
}

func (m *MockAdapter) Authorize(ctx context.Context, req *AuthorizeRequest) (*PaymentResult, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}

	if code, ok := m.declineFor(req); ok {
		return nil, NewError(m.code, code, declineMessage(code))
	}
	if m.roll() < m.failureRate {
		return nil, NewError(m.code, ErrNetworkError, "connection reset by provider")
	}

	now := time.Now()
	status := ResultAuthorized
	if req.Capture {
		status = ResultCaptured
	}
	state := &TransactionState{
		ProviderTransactionID: m.code + "_" + uuid.New().String(),
		TransactionID:         req.TransactionID,
		MerchantID:            req.MerchantID,
		Amount:                new(big.Int).Set(req.Amount),
		Currency:              req.Currency,
		Status:                status,
		RefundedAmount:        big.NewInt(0),
		CreatedAt:             now,
	}
	if err := m.store.Save(ctx, state); err != nil {
		return nil, NewError(m.code, ErrProviderUnavailable, "state store unavailable: "+err.Error())
	}

	return &PaymentResult{
		ProviderTransactionID: state.ProviderTransactionID,
		Status:                status,
		ProcessedAt:           now,
	}, nil
}

func (m *MockAdapter) Capture(ctx context.Context, providerTransactionID string, amount *big.Int) (*PaymentResult, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}
	state, err := m.loadState(ctx, providerTransactionID)
	if err != nil {
		return nil, err
	}
	if state.Status != ResultAuthorized {
		return nil, NewError(m.code, ErrDuplicateTransaction, "authorization already "+state.Status)
	}
	if amount != nil && amount.Cmp(state.Amount) > 0 {
		return nil, NewError(m.code, ErrCardDeclined, "capture amount exceeds authorization")
	}

	state.Status = ResultCaptured
	if amount != nil {
		state.Amount = new(big.Int).Set(amount)
	}
	if err := m.store.Save(ctx, state); err != nil {
		return nil, NewError(m.code, ErrProviderUnavailable, "state store unavailable: "+err.Error())
	}
	return &PaymentResult{
		ProviderTransactionID: providerTransactionID,
		Status:                ResultCaptured,
		ProcessedAt:           time.Now(),
	}, nil
}

func (m *MockAdapter) Refund(ctx context.Context, providerTransactionID string, amount *big.Int) (*PaymentResult, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}
	state, err := m.loadState(ctx, providerTransactionID)
	if err != nil {
		return nil, err
	}
	if state.Status != ResultCaptured && state.Status != ResultRefunded {
		return nil, NewError(m.code, ErrCardDeclined, "nothing captured to refund")
	}

	if amount == nil {
		amount = new(big.Int).Sub(state.Amount, state.RefundedAmount)
	}
	refunded := new(big.Int).Add(state.RefundedAmount, amount)
	if refunded.Cmp(state.Amount) > 0 {
		return nil, NewError(m.code, ErrCardDeclined, "refund exceeds captured amount")
	}

	state.RefundedAmount = refunded
	if refunded.Cmp(state.Amount) == 0 {
		state.Status = ResultRefunded
	}
	if err := m.store.Save(ctx, state); err != nil {
		return nil, NewError(m.code, ErrProviderUnavailable, "state store unavailable: "+err.Error())
	}
	return &PaymentResult{
		ProviderTransactionID: providerTransactionID,
		Status:                ResultRefunded,
		ProcessedAt:           time.Now(),
	}, nil
}

func (m *MockAdapter) Void(ctx context.Context, providerTransactionID string) (*PaymentResult, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}
	state, err := m.loadState(ctx, providerTransactionID)
	if err != nil {
		return nil, err
	}
	if state.Status != ResultAuthorized {
		return nil, NewError(m.code, ErrDuplicateTransaction, "only an open authorization can be voided, current state is "+state.Status)
	}

	state.Status = ResultVoided
	if err := m.store.Save(ctx, state); err != nil {
		return nil, NewError(m.code, ErrProviderUnavailable, "state store unavailable: "+err.Error())
	}
	return &PaymentResult{
		ProviderTransactionID: providerTransactionID,
		Status:                ResultVoided,
		ProcessedAt:           time.Now(),
	}, nil
}

// HealthCheck fails only when the adapter is configured to fail every
// call, which is how an outage is simulated in tests and demos.
func (m *MockAdapter) HealthCheck(ctx context.Context) error {
	if err := m.simulateLatency(ctx); err != nil {
		return err
	}
	if m.failureRate >= 1 {
		return NewError(m.code, ErrProviderUnavailable, "provider reports unhealthy")
	}
	return nil
}

// VerifyWebhookSignature checks an HMAC-SHA256 hex signature over the raw
// payload against this provider's webhook secret.
func (m *MockAdapter) VerifyWebhookSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, m.webhookSecret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignWebhook produces the signature VerifyWebhookSignature expects.
// Used by the settlement simulator and by tests.
func (m *MockAdapter) SignWebhook(payload []byte) string {
	mac := hmac.New(sha256.New, m.webhookSecret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *MockAdapter) ParseWebhookEvent(payload []byte) (*ProviderEvent, error) {
	var wire struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Data      struct {
			ProviderTransactionID string   `json:"provider_transaction_id"`
			Status                string   `json:"status"`
			Amount                *big.Int `json:"amount"`
			Currency              string   `json:"currency"`
		} `json:"data"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, NewError(m.code, ErrNotFound, "malformed webhook payload: "+err.Error())
	}
	if wire.EventType == "" || wire.Data.ProviderTransactionID == "" {
		return nil, NewError(m.code, ErrNotFound, "webhook payload missing event_type or provider_transaction_id")
	}
	return &ProviderEvent{
		EventID:               wire.EventID,
		EventType:             wire.EventType,
		ProviderTransactionID: wire.Data.ProviderTransactionID,
		Status:                wire.Data.Status,
		Amount:                wire.Data.Amount,
		Currency:              wire.Data.Currency,
		OccurredAt:            wire.CreatedAt,
	}, nil
}

// loadState fetches a stored authorization and translates a miss into the
// NOT_FOUND error a real provider would return for an unknown reference.
func (m *MockAdapter) loadState(ctx context.Context, providerTransactionID string) (*TransactionState, error) {
	state, err := m.store.Get(ctx, providerTransactionID)
	if err != nil {
		return nil, NewError(m.code, ErrProviderUnavailable, "state store unavailable: "+err.Error())
	}
	if state == nil {
		return nil, NewError(m.code, ErrNotFound, "unknown provider transaction "+providerTransactionID)
	}
	return state, nil
}

func (m *MockAdapter) declineFor(req *AuthorizeRequest) (ErrorCode, bool) {
	if code, ok := cardDeclines[req.PaymentMethod.Last4]; ok {
		return code, true
	}
	if req.Amount != nil {
		tail := new(big.Int).Mod(req.Amount, big.NewInt(1000)).Int64()
		if code, ok := amountFailures[tail]; ok {
			return code, true
		}
	}
	return "", false
}

func (m *MockAdapter) roll() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

// simulateLatency waits the configured base latency, honoring ctx the way
// an HTTP client deadline would.
func (m *MockAdapter) simulateLatency(ctx context.Context) error {
	if m.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(m.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return NewError(m.code, ErrTimeout, "request deadline exceeded while waiting on provider")
	case <-timer.C:
		return nil
	}
}

func declineMessage(code ErrorCode) string {
	switch code {
	case ErrCardDeclined:
		return "card was declined"
	case ErrInsufficientFunds:
		return "insufficient funds on card"
	case ErrExpiredCard:
		return "card has expired"
	case ErrInvalidCVV:
		return "security code verification failed"
	case ErrFraudSuspected:
		return "transaction flagged by risk checks"
	case ErrDuplicateTransaction:
		return "duplicate transaction detected"
	case ErrRateLimited:
		return "too many requests, slow down"
	case ErrProviderUnavailable:
		return "provider temporarily unavailable"
	case ErrTimeout:
		return "provider timed out processing the request"
	case ErrNetworkError:
		return "connection reset by provider"
	default:
		return strings.ToLower(strings.ReplaceAll(string(code), "_", " "))
	}
}
