package providers

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/jingkai27/payments-dashboard/internal/cache"
)

// TransactionState is what a simulated provider remembers about one
// authorization: enough to answer captures, refunds and voids the way a
// real acquirer's ledger would.
type TransactionState struct {
	ProviderTransactionID string    `json:"provider_transaction_id"`
	TransactionID         string    `json:"transaction_id"`
	MerchantID            string    `json:"merchant_id"`
	Amount                *big.Int  `json:"amount"`
	Currency              string    `json:"currency"`
	Status                string    `json:"status"`
	RefundedAmount        *big.Int  `json:"refunded_amount"`
	CreatedAt             time.Time `json:"created_at"`
}

// StateStore is where a mock adapter keeps its side of the world. It is
// injected at construction so tests can seed and inspect it directly, and
// so two adapter instances never share state by accident. Get returns
// (nil, nil) for an unknown reference; the adapter decides what that means.
type StateStore interface {
	Save(ctx context.Context, state *TransactionState) error
	Get(ctx context.Context, providerTransactionID string) (*TransactionState, error)
}

// MemoryStateStore keeps state in a plain map. The zero value is not
// usable; construct with NewMemoryStateStore.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]*TransactionState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*TransactionState)}
}

func (s *MemoryStateStore) Save(_ context.Context, state *TransactionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.states[state.ProviderTransactionID] = &copied
	return nil
}

func (s *MemoryStateStore) Get(_ context.Context, providerTransactionID string) (*TransactionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[providerTransactionID]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

// Len reports how many authorizations the store holds. Test helper.
func (s *MemoryStateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// stateTTL bounds how long a simulated authorization survives in Redis.
const stateTTL = 24 * time.Hour

// CacheStateStore persists adapter state in the shared cache so simulated
// providers survive a process restart. Keys are namespaced per provider.
type CacheStateStore struct {
	cache        cache.Cache
	providerCode string
}

func NewCacheStateStore(ca cache.Cache, providerCode string) *CacheStateStore {
	return &CacheStateStore{cache: ca, providerCode: providerCode}
}

func (s *CacheStateStore) key(providerTransactionID string) string {
	return cache.Key("provider", s.providerCode, "state", providerTransactionID)
}

func (s *CacheStateStore) Save(ctx context.Context, state *TransactionState) error {
	return s.cache.Set(ctx, s.key(state.ProviderTransactionID), state, stateTTL)
}

func (s *CacheStateStore) Get(ctx context.Context, providerTransactionID string) (*TransactionState, error) {
	var state TransactionState
	if err := s.cache.Get(ctx, s.key(providerTransactionID), &state); err != nil {
		return nil, err
	}
	if state.ProviderTransactionID == "" {
		return nil, nil
	}
	return &state, nil
}
