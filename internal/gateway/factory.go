package gateway

import (
	"fmt"
	"strings"
)

// Type identifies a payment gateway implementation
type Type string

const (
	TypeMock   Type = "mock"
	TypeStripe Type = "stripe"
)

// New creates a payment gateway of the given type. An empty type defaults
// to the mock gateway.
func New(gatewayType string, config *Config) (PaymentGateway, error) {
	switch Type(strings.ToLower(gatewayType)) {
	case TypeMock, "":
		return NewMockGateway(DefaultMockGatewayConfig()), nil

	case TypeStripe:
		if config == nil || config.SecretKey == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		return NewStripeGateway(config)

	default:
		return nil, fmt.Errorf("unsupported gateway type: %s", gatewayType)
	}
}
