package lookup

import (
	"context"
	"sync"

	"github.com/yourorg/settlement-reconciler/internal/settlement"
)

// MockClient is a scriptable Client for tests. If FindFunc is nil every
// call returns no records.
type MockClient struct {
	mu       sync.Mutex
	calls    []string
	FindFunc func(ctx context.Context, orderID string) ([]settlement.Record, error)
}

// NewMockClient creates a MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// FindByOrder implements Client. It records the call, then delegates to
// FindFunc when set.
func (m *MockClient) FindByOrder(ctx context.Context, orderID string) ([]settlement.Record, error) {
	m.mu.Lock()
	m.calls = append(m.calls, orderID)
	m.mu.Unlock()

	if m.FindFunc != nil {
		return m.FindFunc(ctx, orderID)
	}
	return nil, nil
}

// Calls returns the order ids looked up so far, in call order.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many lookups were issued.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
