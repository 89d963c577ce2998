package domain

import (
	"encoding/json"
	"testing"
)

func TestNewEvent(t *testing.T) {
	payload := &OrderCreatedPayload{
		OrderID:     "ord-123",
		UserID:      "user-456",
		ItemID:      "item-789",
		Quantity:    1,
		TotalAmount: 10000,
		FinalAmount: 10000,
	}

	event, err := NewEvent(EventOrderCreated, payload)
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}

	if event.EventType != EventOrderCreated {
		t.Errorf("EventType = %v, want %v", event.EventType, EventOrderCreated)
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}

	var decoded OrderCreatedPayload
	if err := event.Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.OrderID != "ord-123" {
		t.Errorf("OrderID = %v, want ord-123", decoded.OrderID)
	}
	if decoded.TotalAmount != 10000 {
		t.Errorf("TotalAmount = %v, want 10000", decoded.TotalAmount)
	}
}

func TestEvent_WireFormat(t *testing.T) {
	event, err := NewEvent(EventPaymentReserved, &PaymentReservedPayload{
		OrderID:          "ord-1",
		UserID:           "user-1",
		ItemID:           "item-1",
		Quantity:         2,
		ReservedAmount:   10000,
		RemainingBalance: 40000,
	})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	// The envelope and payload use the camelCase wire contract
	var wire map[string]interface{}
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if wire["eventType"] != EventPaymentReserved {
		t.Errorf("eventType = %v, want %v", wire["eventType"], EventPaymentReserved)
	}
	if _, ok := wire["timestamp"]; !ok {
		t.Error("envelope should carry timestamp")
	}

	data, ok := wire["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("data is not an object: %T", wire["data"])
	}
	for _, field := range []string{"orderId", "userId", "itemId", "quantity", "reservedAmount", "remainingBalance"} {
		if _, ok := data[field]; !ok {
			t.Errorf("payload missing field %s", field)
		}
	}
}

func TestEvent_DecodeRoundTrip(t *testing.T) {
	env, err := NewEvent(EventOrderFailed, &OrderFailedPayload{
		OrderID:    "ord-1",
		UserID:     "user-1",
		Reason:     ReasonInsufficientStock,
		FailedStep: StepItemReservation,
	})
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}

	raw, _ := json.Marshal(env)
	var back Event
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}

	var payload OrderFailedPayload
	if err := back.Decode(&payload); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if payload.FailedStep != StepItemReservation {
		t.Errorf("FailedStep = %v, want %v", payload.FailedStep, StepItemReservation)
	}
	if payload.Reason != ReasonInsufficientStock {
		t.Errorf("Reason = %v, want %v", payload.Reason, ReasonInsufficientStock)
	}
}

func TestAllEventTypes(t *testing.T) {
	types := AllEventTypes()

	if len(types) != 21 {
		t.Errorf("AllEventTypes() returned %d types, want 21", len(types))
	}

	seen := make(map[string]bool)
	for _, et := range types {
		if seen[et] {
			t.Errorf("duplicate event type %s", et)
		}
		seen[et] = true
	}

	for _, required := range []string{
		EventOrderCreated, EventOrderCompleted, EventOrderFailed,
		EventPaymentProcessed, EventPaymentSuccess, EventPaymentFailed,
		EventItemReserved, EventItemRestored, EventNotificationSent,
	} {
		if !seen[required] {
			t.Errorf("AllEventTypes() missing %s", required)
		}
	}
}

func TestSagaStep_IsValid(t *testing.T) {
	tests := []struct {
		step SagaStep
		want bool
	}{
		{StepCouponValidation, true},
		{StepUserValidation, true},
		{StepInventoryReservation, true},
		{StepItemReservation, true},
		{StepPayment, true},
		{SagaStep("unknown"), false},
		{SagaStep(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.step), func(t *testing.T) {
			if got := tt.step.IsValid(); got != tt.want {
				t.Errorf("SagaStep.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}
