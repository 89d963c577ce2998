package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/dto"
)

// MockOrderService is a mock implementation of OrderService for testing
type MockOrderService struct {
	CreateOrderFunc      func(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error)
	GetOrderFunc         func(ctx context.Context, orderID, userID string) (*dto.OrderResponse, error)
	GetUserOrdersFunc    func(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error)
	GetOrderTimelineFunc func(ctx context.Context, orderID, userID string) (*dto.OrderTimelineResponse, error)
}

func (m *MockOrderService) CreateOrder(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, userID, req)
	}
	return nil, nil
}

func (m *MockOrderService) GetOrder(ctx context.Context, orderID, userID string) (*dto.OrderResponse, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, orderID, userID)
	}
	return nil, nil
}

func (m *MockOrderService) GetUserOrders(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error) {
	if m.GetUserOrdersFunc != nil {
		return m.GetUserOrdersFunc(ctx, userID, page, pageSize)
	}
	return nil, nil
}

func (m *MockOrderService) GetOrderTimeline(ctx context.Context, orderID, userID string) (*dto.OrderTimelineResponse, error) {
	if m.GetOrderTimelineFunc != nil {
		return m.GetOrderTimelineFunc(ctx, orderID, userID)
	}
	return nil, nil
}

func setupTestRouter(handler *OrderHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	orders := router.Group("/orders")
	{
		orders.POST("", handler.CreateOrder)
		orders.GET("", handler.GetUserOrders)
		orders.GET("/:id", handler.GetOrder)
		orders.GET("/:id/timeline", handler.GetOrderTimeline)
	}

	return router
}

func setupTestRouterWithAuth(handler *OrderHandler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	// Add middleware to set user_id
	router.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	})

	orders := router.Group("/orders")
	{
		orders.POST("", handler.CreateOrder)
		orders.GET("", handler.GetUserOrders)
		orders.GET("/:id", handler.GetOrder)
		orders.GET("/:id/timeline", handler.GetOrderTimeline)
	}

	return router
}

func TestOrderHandler_CreateOrder(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		request        *dto.CreateOrderRequest
		mockFunc       func(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error)
		expectedStatus int
		expectedCode   string
	}{
		{
			name:   "successful create",
			userID: "user-123",
			request: &dto.CreateOrderRequest{
				ItemID:   "item-123",
				Quantity: 2,
			},
			mockFunc: func(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error) {
				return &dto.CreateOrderResponse{
					OrderID:     "order-123",
					Status:      "PENDING",
					TotalAmount: 200.00,
					FinalAmount: 200.00,
					CreatedAt:   time.Now(),
				}, nil
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "unauthorized - no user_id",
			userID:         "",
			request:        &dto.CreateOrderRequest{ItemID: "item-123", Quantity: 1},
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "UNAUTHORIZED",
		},
		{
			name:   "unknown item",
			userID: "user-123",
			request: &dto.CreateOrderRequest{
				ItemID:   "ghost-item",
				Quantity: 1,
			},
			mockFunc: func(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error) {
				return nil, domain.ErrItemNotFound
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "ITEM_NOT_FOUND",
		},
		{
			name:   "unknown user",
			userID: "ghost",
			request: &dto.CreateOrderRequest{
				ItemID:   "item-123",
				Quantity: 1,
			},
			mockFunc: func(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error) {
				return nil, domain.ErrUserNotFound
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "USER_NOT_FOUND",
		},
		{
			name:   "invalid quantity",
			userID: "user-123",
			request: &dto.CreateOrderRequest{
				ItemID:   "item-123",
				Quantity: 99,
			},
			mockFunc: func(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error) {
				return nil, domain.ErrInvalidQuantity
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_QUANTITY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockOrderService{
				CreateOrderFunc: tt.mockFunc,
			}
			handler := NewOrderHandler(mockService)

			var router *gin.Engine
			if tt.userID != "" {
				router = setupTestRouterWithAuth(handler, tt.userID)
			} else {
				router = setupTestRouter(handler)
			}

			body, _ := json.Marshal(tt.request)
			req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			if tt.expectedCode != "" {
				var response dto.ErrorResponse
				if err := json.Unmarshal(w.Body.Bytes(), &response); err == nil {
					if response.Code != tt.expectedCode {
						t.Errorf("expected code %s, got %s", tt.expectedCode, response.Code)
					}
				}
			}
		})
	}
}

func TestOrderHandler_GetOrder(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		orderID        string
		mockFunc       func(ctx context.Context, orderID, userID string) (*dto.OrderResponse, error)
		expectedStatus int
		expectedCode   string
	}{
		{
			name:    "successful get",
			userID:  "user-123",
			orderID: "order-123",
			mockFunc: func(ctx context.Context, orderID, userID string) (*dto.OrderResponse, error) {
				return &dto.OrderResponse{
					ID:          orderID,
					UserID:      userID,
					ItemID:      "item-123",
					Quantity:    2,
					Status:      "COMPLETED",
					TotalAmount: 200.00,
					FinalAmount: 200.00,
				}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unauthorized - no user_id",
			userID:         "",
			orderID:        "order-123",
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   "UNAUTHORIZED",
		},
		{
			name:    "order not found",
			userID:  "user-123",
			orderID: "non-existent",
			mockFunc: func(ctx context.Context, orderID, userID string) (*dto.OrderResponse, error) {
				return nil, domain.ErrOrderNotFound
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
		},
		{
			name:    "wrong user",
			userID:  "user-123",
			orderID: "order-456",
			mockFunc: func(ctx context.Context, orderID, userID string) (*dto.OrderResponse, error) {
				return nil, domain.ErrInvalidUserID
			},
			expectedStatus: http.StatusForbidden,
			expectedCode:   "FORBIDDEN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockOrderService{
				GetOrderFunc: tt.mockFunc,
			}
			handler := NewOrderHandler(mockService)

			var router *gin.Engine
			if tt.userID != "" {
				router = setupTestRouterWithAuth(handler, tt.userID)
			} else {
				router = setupTestRouter(handler)
			}

			req := httptest.NewRequest(http.MethodGet, "/orders/"+tt.orderID, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			if tt.expectedCode != "" {
				var response dto.ErrorResponse
				if err := json.Unmarshal(w.Body.Bytes(), &response); err == nil {
					if response.Code != tt.expectedCode {
						t.Errorf("expected code %s, got %s", tt.expectedCode, response.Code)
					}
				}
			}
		})
	}
}

func TestOrderHandler_GetUserOrders(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		query          string
		mockFunc       func(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error)
		expectedStatus int
	}{
		{
			name:   "successful list with defaults",
			userID: "user-123",
			query:  "",
			mockFunc: func(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error) {
				if page != 1 {
					t.Errorf("expected page 1, got %d", page)
				}
				if pageSize != 20 {
					t.Errorf("expected pageSize 20, got %d", pageSize)
				}
				return &dto.PaginatedResponse{
					Data:     []*dto.OrderResponse{},
					Page:     page,
					PageSize: pageSize,
				}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:   "successful list with pagination",
			userID: "user-123",
			query:  "?page=2&page_size=50",
			mockFunc: func(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error) {
				if page != 2 {
					t.Errorf("expected page 2, got %d", page)
				}
				if pageSize != 50 {
					t.Errorf("expected pageSize 50, got %d", pageSize)
				}
				return &dto.PaginatedResponse{
					Data:     []*dto.OrderResponse{},
					Page:     page,
					PageSize: pageSize,
				}, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unauthorized - no user_id",
			userID:         "",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockOrderService{
				GetUserOrdersFunc: tt.mockFunc,
			}
			handler := NewOrderHandler(mockService)

			var router *gin.Engine
			if tt.userID != "" {
				router = setupTestRouterWithAuth(handler, tt.userID)
			} else {
				router = setupTestRouter(handler)
			}

			req := httptest.NewRequest(http.MethodGet, "/orders"+tt.query, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestOrderHandler_GetOrderTimeline(t *testing.T) {
	tests := []struct {
		name           string
		userID         string
		orderID        string
		mockFunc       func(ctx context.Context, orderID, userID string) (*dto.OrderTimelineResponse, error)
		expectedStatus int
		wantEvents     int
	}{
		{
			name:    "timeline returned",
			userID:  "user-123",
			orderID: "order-123",
			mockFunc: func(ctx context.Context, orderID, userID string) (*dto.OrderTimelineResponse, error) {
				return &dto.OrderTimelineResponse{
					OrderID: orderID,
					Events: []*dto.OrderTimelineEntry{
						{EventID: "a-1", EventType: domain.EventOrderCreated, OccurredAt: time.Now()},
						{EventID: "a-2", EventType: domain.EventOrderCompleted, OccurredAt: time.Now()},
					},
				}, nil
			},
			expectedStatus: http.StatusOK,
			wantEvents:     2,
		},
		{
			name:    "order not found",
			userID:  "user-123",
			orderID: "non-existent",
			mockFunc: func(ctx context.Context, orderID, userID string) (*dto.OrderTimelineResponse, error) {
				return nil, domain.ErrOrderNotFound
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "unauthorized - no user_id",
			userID:         "",
			orderID:        "order-123",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockOrderService{
				GetOrderTimelineFunc: tt.mockFunc,
			}
			handler := NewOrderHandler(mockService)

			var router *gin.Engine
			if tt.userID != "" {
				router = setupTestRouterWithAuth(handler, tt.userID)
			} else {
				router = setupTestRouter(handler)
			}

			req := httptest.NewRequest(http.MethodGet, "/orders/"+tt.orderID+"/timeline", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			if tt.wantEvents > 0 {
				var response dto.OrderTimelineResponse
				if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if len(response.Events) != tt.wantEvents {
					t.Errorf("expected %d events, got %d", tt.wantEvents, len(response.Events))
				}
			}
		})
	}
}

func TestOrderHandler_InvalidRequestBody(t *testing.T) {
	mockService := &MockOrderService{}
	handler := NewOrderHandler(mockService)
	router := setupTestRouterWithAuth(handler, "user-123")

	// Send invalid JSON
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("invalid json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var response dto.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if response.Code != "INVALID_REQUEST" {
		t.Errorf("expected code INVALID_REQUEST, got %s", response.Code)
	}
}

func TestOrderHandler_MissingQuantityRejectedByBinding(t *testing.T) {
	called := false
	mockService := &MockOrderService{
		CreateOrderFunc: func(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error) {
			called = true
			return nil, nil
		},
	}
	handler := NewOrderHandler(mockService)
	router := setupTestRouterWithAuth(handler, "user-123")

	body, _ := json.Marshal(map[string]interface{}{"item_id": "item-123"})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if called {
		t.Error("service should not be called when binding fails")
	}
}
