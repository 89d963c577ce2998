package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
	pkgredis "github.com/prohmpiriya/purchase-saga/pkg/redis"
	"github.com/prohmpiriya/purchase-saga/pkg/telemetry"
)

// RedisReservationStore implements ReservationStore using Redis
type RedisReservationStore struct {
	client *pkgredis.Client
}

// NewRedisReservationStore creates a new Redis reservation store
func NewRedisReservationStore(client *pkgredis.Client) *RedisReservationStore {
	return &RedisReservationStore{client: client}
}

func balanceReservationKey(userID, orderID string) string {
	return fmt.Sprintf("balance_reserve:%s:%s", userID, orderID)
}

func slotReservationKey(userID, orderID string) string {
	return fmt.Sprintf("inventory_reserve:%s:%s", userID, orderID)
}

// SaveBalanceReservation stores a balance hold for a user and order
func (r *RedisReservationStore) SaveBalanceReservation(ctx context.Context, reservation *domain.BalanceReservation, ttl time.Duration) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.reservation.save_balance")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", reservation.UserID),
		attribute.String("order.id", reservation.OrderID),
	)

	return r.save(ctx, span, balanceReservationKey(reservation.UserID, reservation.OrderID), reservation, ttl)
}

// GetBalanceReservation retrieves a balance hold, nil when absent
func (r *RedisReservationStore) GetBalanceReservation(ctx context.Context, userID, orderID string) (*domain.BalanceReservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.reservation.get_balance")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("order.id", orderID),
	)

	var reservation domain.BalanceReservation
	found, err := r.get(ctx, span, balanceReservationKey(userID, orderID), &reservation)
	if err != nil || !found {
		return nil, err
	}
	return &reservation, nil
}

// DeleteBalanceReservation removes a balance hold
func (r *RedisReservationStore) DeleteBalanceReservation(ctx context.Context, userID, orderID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.reservation.delete_balance")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("order.id", orderID),
	)

	return r.delete(ctx, span, balanceReservationKey(userID, orderID))
}

// SaveSlotReservation stores an inventory slot hold for a user and order
func (r *RedisReservationStore) SaveSlotReservation(ctx context.Context, reservation *domain.SlotReservation, ttl time.Duration) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.reservation.save_slot")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", reservation.UserID),
		attribute.String("order.id", reservation.OrderID),
	)

	return r.save(ctx, span, slotReservationKey(reservation.UserID, reservation.OrderID), reservation, ttl)
}

// GetSlotReservation retrieves an inventory slot hold, nil when absent
func (r *RedisReservationStore) GetSlotReservation(ctx context.Context, userID, orderID string) (*domain.SlotReservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.reservation.get_slot")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("order.id", orderID),
	)

	var reservation domain.SlotReservation
	found, err := r.get(ctx, span, slotReservationKey(userID, orderID), &reservation)
	if err != nil || !found {
		return nil, err
	}
	return &reservation, nil
}

// DeleteSlotReservation removes an inventory slot hold
func (r *RedisReservationStore) DeleteSlotReservation(ctx context.Context, userID, orderID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.reservation.delete_slot")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("order.id", orderID),
	)

	return r.delete(ctx, span, slotReservationKey(userID, orderID))
}

func (r *RedisReservationStore) save(ctx context.Context, span trace.Span, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal reservation: %w", err)
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to save reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *RedisReservationStore) get(ctx context.Context, span trace.Span, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			span.SetStatus(codes.Ok, "reservation not found")
			return false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to get reservation: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to unmarshal reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return true, nil
}

func (r *RedisReservationStore) delete(ctx context.Context, span trace.Span, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

var _ ReservationStore = (*RedisReservationStore)(nil)
