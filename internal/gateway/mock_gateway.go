package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway implements PaymentGateway for development and load testing.
// Outcomes are drawn from a configurable success rate; saga tests pin the
// rate to 1.0 or 0.0 to force a branch.
type MockGateway struct {
	mu           sync.RWMutex
	successRate  float64
	delay        time.Duration
	failureCodes []string
	transactions sync.Map
}

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// SuccessRate is the probability of a successful charge (0.0 to 1.0)
	SuccessRate float64

	// Delay is the simulated processing latency per call
	Delay time.Duration

	// FailureCodes is the pool of decline codes drawn from on failure
	FailureCodes []string
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		SuccessRate: 0.95,
		Delay:       50 * time.Millisecond,
		FailureCodes: []string{
			"insufficient_funds",
			"card_declined",
			"expired_card",
			"processing_error",
		},
	}
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}

	return &MockGateway{
		successRate:  clampRate(config.SuccessRate),
		delay:        config.Delay,
		failureCodes: config.FailureCodes,
	}
}

// Charge processes a mock payment charge
func (g *MockGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("charge request is required")
	}

	if err := g.simulateLatency(ctx); err != nil {
		return nil, err
	}

	transactionID := fmt.Sprintf("mock_txn_%s", uuid.New().String()[:8])

	resp := &ChargeResponse{
		TransactionID: transactionID,
		Metadata:      req.Metadata,
	}

	if rand.Float64() < g.GetSuccessRate() {
		resp.Success = true
		resp.Status = "completed"

		g.transactions.Store(transactionID, &TransactionInfo{
			TransactionID: transactionID,
			Status:        "completed",
			Amount:        req.Amount,
			Currency:      req.Currency,
			Method:        req.Method,
			CreatedAt:     time.Now().Format(time.RFC3339),
			Metadata:      req.Metadata,
		})
		return resp, nil
	}

	resp.Success = false
	resp.Status = "failed"

	g.mu.RLock()
	codes := g.failureCodes
	g.mu.RUnlock()

	if len(codes) > 0 {
		resp.FailureCode = codes[rand.Intn(len(codes))]
	} else {
		resp.FailureCode = "payment_failed"
	}
	resp.FailureReason = resp.FailureCode

	return resp, nil
}

// Refund processes a mock refund
func (g *MockGateway) Refund(ctx context.Context, transactionID string, amount float64) error {
	if transactionID == "" {
		return fmt.Errorf("transaction ID is required")
	}

	if err := g.simulateLatency(ctx); err != nil {
		return err
	}

	txn, ok := g.transactions.Load(transactionID)
	if !ok {
		return fmt.Errorf("transaction not found: %s", transactionID)
	}

	info := txn.(*TransactionInfo)
	info.Status = "refunded"
	g.transactions.Store(transactionID, info)

	return nil
}

// GetTransaction retrieves transaction details
func (g *MockGateway) GetTransaction(ctx context.Context, transactionID string) (*TransactionInfo, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("transaction ID is required")
	}

	txn, ok := g.transactions.Load(transactionID)
	if !ok {
		return nil, fmt.Errorf("transaction not found: %s", transactionID)
	}

	return txn.(*TransactionInfo), nil
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}

// SetSuccessRate updates the success rate
func (g *MockGateway) SetSuccessRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successRate = clampRate(rate)
}

// GetSuccessRate returns the current success rate
func (g *MockGateway) GetSuccessRate() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.successRate
}

func (g *MockGateway) simulateLatency(ctx context.Context) error {
	if g.delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.delay):
		return nil
	}
}

func clampRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}

var _ PaymentGateway = (*MockGateway)(nil)
