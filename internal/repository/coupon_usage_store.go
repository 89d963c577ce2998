package repository

import (
	"context"
	"time"
)

// CouponUsageStore defines the fast-path coupon gate kept in the KV store.
// The counter absorbs the burst of concurrent validations before any row is
// touched; the durable used count in the relational store follows on
// confirmation. Reservation markers pin a user coupon to the single order
// holding it while the saga is in flight.
type CouponUsageStore interface {
	// AcquireUsage atomically claims one usage against the limit. Returns
	// false when the limit is already reached, along with the current count.
	AcquireUsage(ctx context.Context, couponID string, limit int) (bool, int64, error)

	// ReleaseUsage returns one claimed usage
	ReleaseUsage(ctx context.Context, couponID string) error

	// GetUsage retrieves the current claimed count
	GetUsage(ctx context.Context, couponID string) (int64, error)

	// MarkReserved pins a user coupon to an order. Returns true when the
	// marker was set or already points at the same order.
	MarkReserved(ctx context.Context, userCouponID, orderID string, ttl time.Duration) (bool, error)

	// ClearReserved removes the marker pinning a user coupon to an order
	ClearReserved(ctx context.Context, userCouponID string) error
}
