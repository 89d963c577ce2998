package gateway

import (
	"context"
)

// PaymentGateway defines the interface for charging a user's payment
// method. The saga treats the gateway as an opaque external system: a
// failed charge is a normal response, not an error. Errors are reserved
// for transport problems talking to the provider.
type PaymentGateway interface {
	// Charge processes a payment charge
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error)

	// Refund returns a charged amount
	Refund(ctx context.Context, transactionID string, amount float64) error

	// GetTransaction retrieves transaction details
	GetTransaction(ctx context.Context, transactionID string) (*TransactionInfo, error)

	// Name returns the gateway name
	Name() string
}

// ChargeRequest represents a charge request
type ChargeRequest struct {
	OrderID     string
	UserID      string
	Amount      float64
	Currency    string
	Method      string
	Description string
	Metadata    map[string]string
}

// ChargeResponse represents a charge response
type ChargeResponse struct {
	Success       bool
	TransactionID string
	Status        string
	FailureReason string
	FailureCode   string
	Metadata      map[string]string
}

// TransactionInfo represents transaction details
type TransactionInfo struct {
	TransactionID string
	Status        string
	Amount        float64
	Currency      string
	Method        string
	CreatedAt     string
	Metadata      map[string]string
}

// Config holds common gateway configuration
type Config struct {
	SecretKey     string
	WebhookSecret string
	Environment   string // "test" or "live"
}
