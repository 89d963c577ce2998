package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	pkgredis "github.com/prohmpiriya/purchase-saga/pkg/redis"
	"github.com/prohmpiriya/purchase-saga/pkg/telemetry"
)

//go:embed scripts/acquire_coupon_usage.lua
var acquireCouponUsageScript string

//go:embed scripts/release_coupon_usage.lua
var releaseCouponUsageScript string

// Script names for caching
const (
	scriptAcquireCouponUsage = "acquire_coupon_usage"
	scriptReleaseCouponUsage = "release_coupon_usage"
)

// RedisCouponUsageStore implements CouponUsageStore using Redis
type RedisCouponUsageStore struct {
	client *pkgredis.Client
}

// NewRedisCouponUsageStore creates a new Redis coupon usage store
func NewRedisCouponUsageStore(client *pkgredis.Client) *RedisCouponUsageStore {
	return &RedisCouponUsageStore{client: client}
}

// LoadScripts loads all Lua scripts into Redis
func (r *RedisCouponUsageStore) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptAcquireCouponUsage: acquireCouponUsageScript,
		scriptReleaseCouponUsage: releaseCouponUsageScript,
	}

	for name, script := range scripts {
		if _, err := r.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load script %s: %w", name, err)
		}
	}

	return nil
}

func couponUsageKey(couponID string) string {
	return fmt.Sprintf("coupon:usage:%s", couponID)
}

func couponReservationKey(userCouponID string) string {
	return fmt.Sprintf("coupon:reservation:%s", userCouponID)
}

// AcquireUsage atomically claims one usage against the limit
func (r *RedisCouponUsageStore) AcquireUsage(ctx context.Context, couponID string, limit int) (bool, int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.coupon.acquire_usage")
	defer span.End()

	span.SetAttributes(
		attribute.String("coupon.id", couponID),
		attribute.Int("coupon.usage_limit", limit),
	)

	keys := []string{couponUsageKey(couponID)}
	result := r.client.EvalWithFallback(ctx, scriptAcquireCouponUsage, acquireCouponUsageScript, keys, limit)
	if result.Err() != nil {
		span.RecordError(result.Err())
		span.SetStatus(codes.Error, result.Err().Error())
		return false, 0, fmt.Errorf("failed to execute acquire_coupon_usage script: %w", result.Err())
	}

	values, err := result.Slice()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, 0, fmt.Errorf("failed to parse script result: %w", err)
	}

	if len(values) < 2 {
		span.SetStatus(codes.Error, "unexpected result length")
		return false, 0, fmt.Errorf("unexpected script result length: %d", len(values))
	}

	success, _ := toInt64(values[0])
	count, _ := toInt64(values[1])

	span.SetAttributes(attribute.Int64("coupon.usage_count", count))
	span.SetStatus(codes.Ok, "")
	return success == 1, count, nil
}

// ReleaseUsage returns one claimed usage
func (r *RedisCouponUsageStore) ReleaseUsage(ctx context.Context, couponID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.coupon.release_usage")
	defer span.End()

	span.SetAttributes(attribute.String("coupon.id", couponID))

	keys := []string{couponUsageKey(couponID)}
	result := r.client.EvalWithFallback(ctx, scriptReleaseCouponUsage, releaseCouponUsageScript, keys)
	if result.Err() != nil {
		span.RecordError(result.Err())
		span.SetStatus(codes.Error, result.Err().Error())
		return fmt.Errorf("failed to execute release_coupon_usage script: %w", result.Err())
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetUsage retrieves the current claimed count
func (r *RedisCouponUsageStore) GetUsage(ctx context.Context, couponID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.coupon.get_usage")
	defer span.End()

	span.SetAttributes(attribute.String("coupon.id", couponID))

	value, err := r.client.Get(ctx, couponUsageKey(couponID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			span.SetStatus(codes.Ok, "")
			return 0, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to get coupon usage: %w", err)
	}

	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to parse coupon usage: %w", err)
	}

	span.SetAttributes(attribute.Int64("coupon.usage_count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// MarkReserved pins a user coupon to an order
func (r *RedisCouponUsageStore) MarkReserved(ctx context.Context, userCouponID, orderID string, ttl time.Duration) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.coupon.mark_reserved")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_coupon.id", userCouponID),
		attribute.String("order.id", orderID),
	)

	key := couponReservationKey(userCouponID)
	set, err := r.client.SetNX(ctx, key, orderID, ttl).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to mark coupon reserved: %w", err)
	}
	if set {
		span.SetStatus(codes.Ok, "")
		return true, nil
	}

	// Marker already present. Redelivery of the same order is fine; a
	// different order means the coupon is held elsewhere.
	holder, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Marker expired between SetNX and Get, retry the claim.
			set, err = r.client.SetNX(ctx, key, orderID, ttl).Result()
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return false, fmt.Errorf("failed to mark coupon reserved: %w", err)
			}
			span.SetStatus(codes.Ok, "")
			return set, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to check coupon reservation: %w", err)
	}

	span.SetAttributes(attribute.Bool("coupon.reserved_by_same_order", holder == orderID))
	span.SetStatus(codes.Ok, "")
	return holder == orderID, nil
}

// ClearReserved removes the marker pinning a user coupon to an order
func (r *RedisCouponUsageStore) ClearReserved(ctx context.Context, userCouponID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.coupon.clear_reserved")
	defer span.End()

	span.SetAttributes(attribute.String("user_coupon.id", userCouponID))

	if err := r.client.Del(ctx, couponReservationKey(userCouponID)).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to clear coupon reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// toInt64 converts a Lua script result value to int64
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

var _ CouponUsageStore = (*RedisCouponUsageStore)(nil)
