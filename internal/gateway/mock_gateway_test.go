package gateway

import (
	"context"
	"testing"
)

func TestNewMockGateway(t *testing.T) {
	gw := NewMockGateway(nil)
	if gw == nil {
		t.Fatal("Expected non-nil gateway")
	}

	if gw.Name() != "mock" {
		t.Errorf("Expected name 'mock', got '%s'", gw.Name())
	}
}

func TestMockGateway_Charge_Success(t *testing.T) {
	gw := NewMockGateway(&MockGatewayConfig{
		SuccessRate: 1.0,
	})

	ctx := context.Background()
	req := &ChargeRequest{
		OrderID:  "ord-123",
		UserID:   "user-456",
		Amount:   1000.00,
		Currency: "THB",
		Method:   "balance",
	}

	resp, err := gw.Charge(ctx, req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !resp.Success {
		t.Error("Expected successful charge")
	}

	if resp.TransactionID == "" {
		t.Error("Expected transaction ID")
	}

	if resp.Status != "completed" {
		t.Errorf("Expected status 'completed', got '%s'", resp.Status)
	}
}

func TestMockGateway_Charge_Failure(t *testing.T) {
	gw := NewMockGateway(&MockGatewayConfig{
		SuccessRate:  0.0,
		FailureCodes: []string{"card_declined"},
	})

	ctx := context.Background()
	req := &ChargeRequest{
		OrderID:  "ord-123",
		UserID:   "user-456",
		Amount:   1000.00,
		Currency: "THB",
		Method:   "balance",
	}

	resp, err := gw.Charge(ctx, req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if resp.Success {
		t.Error("Expected failed charge")
	}

	if resp.FailureReason != "card_declined" {
		t.Errorf("Expected failure reason 'card_declined', got '%s'", resp.FailureReason)
	}
}

func TestMockGateway_Charge_NilRequest(t *testing.T) {
	gw := NewMockGateway(nil)

	ctx := context.Background()
	_, err := gw.Charge(ctx, nil)
	if err == nil {
		t.Error("Expected error for nil request")
	}
}

func TestMockGateway_Refund(t *testing.T) {
	gw := NewMockGateway(&MockGatewayConfig{
		SuccessRate: 1.0,
	})

	ctx := context.Background()

	req := &ChargeRequest{
		OrderID:  "ord-123",
		UserID:   "user-456",
		Amount:   1000.00,
		Currency: "THB",
		Method:   "balance",
	}

	resp, _ := gw.Charge(ctx, req)

	err := gw.Refund(ctx, resp.TransactionID, 1000.00)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	txn, err := gw.GetTransaction(ctx, resp.TransactionID)
	if err != nil {
		t.Fatalf("Failed to get transaction: %v", err)
	}

	if txn.Status != "refunded" {
		t.Errorf("Expected status 'refunded', got '%s'", txn.Status)
	}
}

func TestMockGateway_Refund_NotFound(t *testing.T) {
	gw := NewMockGateway(nil)

	ctx := context.Background()
	err := gw.Refund(ctx, "non-existent", 1000.00)
	if err == nil {
		t.Error("Expected error for non-existent transaction")
	}
}

func TestMockGateway_GetTransaction(t *testing.T) {
	gw := NewMockGateway(&MockGatewayConfig{
		SuccessRate: 1.0,
	})

	ctx := context.Background()

	req := &ChargeRequest{
		OrderID:  "ord-123",
		UserID:   "user-456",
		Amount:   500.00,
		Currency: "THB",
		Method:   "balance",
	}

	resp, _ := gw.Charge(ctx, req)

	txn, err := gw.GetTransaction(ctx, resp.TransactionID)
	if err != nil {
		t.Fatalf("Failed to get transaction: %v", err)
	}

	if txn.Amount != 500.00 {
		t.Errorf("Expected amount 500.00, got %f", txn.Amount)
	}

	if txn.Currency != "THB" {
		t.Errorf("Expected currency 'THB', got '%s'", txn.Currency)
	}
}

func TestMockGateway_SetSuccessRate(t *testing.T) {
	gw := NewMockGateway(&MockGatewayConfig{
		SuccessRate: 0.5,
	})

	if gw.GetSuccessRate() != 0.5 {
		t.Errorf("Expected success rate 0.5, got %f", gw.GetSuccessRate())
	}

	gw.SetSuccessRate(0.8)
	if gw.GetSuccessRate() != 0.8 {
		t.Errorf("Expected success rate 0.8, got %f", gw.GetSuccessRate())
	}

	gw.SetSuccessRate(-0.5)
	if gw.GetSuccessRate() != 0.0 {
		t.Errorf("Expected success rate 0.0, got %f", gw.GetSuccessRate())
	}

	gw.SetSuccessRate(1.5)
	if gw.GetSuccessRate() != 1.0 {
		t.Errorf("Expected success rate 1.0, got %f", gw.GetSuccessRate())
	}
}

func TestNew_Mock(t *testing.T) {
	gw, err := New("mock", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if gw.Name() != "mock" {
		t.Errorf("Expected name 'mock', got '%s'", gw.Name())
	}
}

func TestNew_EmptyDefaultsToMock(t *testing.T) {
	gw, err := New("", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if gw.Name() != "mock" {
		t.Errorf("Expected default to mock, got '%s'", gw.Name())
	}
}

func TestNew_Stripe_NoKey(t *testing.T) {
	_, err := New("stripe", nil)
	if err == nil {
		t.Error("Expected error for stripe without key")
	}
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("unknown", nil)
	if err == nil {
		t.Error("Expected error for unknown gateway type")
	}
}
