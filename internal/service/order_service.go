package service

import (
	"context"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/internal/dto"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
)

// OrderCreator starts the purchase saga for an order. The order participant
// satisfies this.
type OrderCreator interface {
	CreateOrder(ctx context.Context, userID, itemID string, quantity int, userCouponID string) (*domain.Order, error)
}

// OrderService defines the interface for order business logic
type OrderService interface {
	// CreateOrder validates the request and starts a purchase saga
	CreateOrder(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error)

	// GetOrder retrieves an order by ID
	GetOrder(ctx context.Context, orderID, userID string) (*dto.OrderResponse, error)

	// GetUserOrders retrieves orders for a user, newest first
	GetUserOrders(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error)

	// GetOrderTimeline retrieves the recorded saga events for an order
	GetOrderTimeline(ctx context.Context, orderID, userID string) (*dto.OrderTimelineResponse, error)
}

// orderService implements OrderService
type orderService struct {
	creator     OrderCreator
	orders      repository.OrderRepository
	audits      repository.AuditRepository
	maxQuantity int
}

// OrderServiceConfig contains configuration for the order service
type OrderServiceConfig struct {
	MaxQuantity int
}

// NewOrderService creates a new order service
func NewOrderService(
	creator OrderCreator,
	orders repository.OrderRepository,
	audits repository.AuditRepository,
	cfg *OrderServiceConfig,
) OrderService {
	maxQuantity := 10
	if cfg != nil && cfg.MaxQuantity > 0 {
		maxQuantity = cfg.MaxQuantity
	}
	return &orderService{
		creator:     creator,
		orders:      orders,
		audits:      audits,
		maxQuantity: maxQuantity,
	}
}

// CreateOrder validates the request and starts a purchase saga. The response
// carries the PENDING order; the saga settles it asynchronously.
func (s *orderService) CreateOrder(ctx context.Context, userID string, req *dto.CreateOrderRequest) (*dto.CreateOrderResponse, error) {
	if req == nil || req.Quantity < 1 || req.Quantity > s.maxQuantity {
		return nil, domain.ErrInvalidQuantity
	}

	order, err := s.creator.CreateOrder(ctx, userID, req.ItemID, req.Quantity, req.UserCouponID)
	if err != nil {
		return nil, err
	}

	return &dto.CreateOrderResponse{
		OrderID:     order.ID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		FinalAmount: order.FinalAmount,
		CreatedAt:   order.CreatedAt,
	}, nil
}

// GetOrder retrieves an order by ID
func (s *orderService) GetOrder(ctx context.Context, orderID, userID string) (*dto.OrderResponse, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrInvalidUserID
	}
	return dto.FromDomain(order), nil
}

// GetUserOrders retrieves orders for a user, newest first
func (s *orderService) GetUserOrders(ctx context.Context, userID string, page, pageSize int) (*dto.PaginatedResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	offset := (page - 1) * pageSize
	orders, err := s.orders.GetByUserID(ctx, userID, pageSize, offset)
	if err != nil {
		return nil, err
	}

	responses := make([]*dto.OrderResponse, len(orders))
	for i, o := range orders {
		responses[i] = dto.FromDomain(o)
	}

	return &dto.PaginatedResponse{
		Data:     responses,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// GetOrderTimeline retrieves the recorded saga events for an order. The
// owner check runs against the order row, so an unknown order yields not
// found before any audit read.
func (s *orderService) GetOrderTimeline(ctx context.Context, orderID, userID string) (*dto.OrderTimelineResponse, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrInvalidUserID
	}

	entries, err := s.audits.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return dto.TimelineFromDomain(orderID, entries), nil
}
