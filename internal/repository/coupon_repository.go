package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

// CouponRepository defines the interface for coupon data access. User coupon
// transitions are guarded updates keyed on the reserving order so repeated
// deliveries and cross-order races settle cleanly.
type CouponRepository interface {
	// CreateCoupon inserts a coupon definition
	CreateCoupon(ctx context.Context, coupon *domain.Coupon) error

	// GetCouponByID retrieves a coupon definition by ID
	GetCouponByID(ctx context.Context, id string) (*domain.Coupon, error)

	// CreateUserCoupon inserts a coupon instance owned by a user
	CreateUserCoupon(ctx context.Context, userCoupon *domain.UserCoupon) error

	// GetUserCoupon retrieves a user coupon by ID
	GetUserCoupon(ctx context.Context, id string) (*domain.UserCoupon, error)

	// GetUserCouponForUpdate retrieves a user coupon with an exclusive row
	// lock held for the duration of the transaction
	GetUserCouponForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.UserCoupon, error)

	// GetUserCouponsByUserID retrieves all coupon instances owned by a user
	GetUserCouponsByUserID(ctx context.Context, userID string) ([]*domain.UserCoupon, error)

	// ReserveUsageTx transitions an ACTIVE user coupon to RESERVED for the
	// given order. Returns ErrCouponNotUsable when the coupon is no longer
	// reservable.
	ReserveUsageTx(ctx context.Context, tx pgx.Tx, id, orderID string) error

	// ConfirmUsageTx transitions a user coupon RESERVED by the given order
	// to USED and increments the coupon's used count. Returns false when
	// the reservation was already settled.
	ConfirmUsageTx(ctx context.Context, tx pgx.Tx, id, orderID string) (bool, error)

	// CancelUsageTx releases a user coupon RESERVED by the given order back
	// to ACTIVE. Returns false when the reservation was already settled.
	CancelUsageTx(ctx context.Context, tx pgx.Tx, id, orderID string) (bool, error)

	// BeginTx starts a transaction on the underlying pool
	BeginTx(ctx context.Context) (pgx.Tx, error)
}
