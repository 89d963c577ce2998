package repository

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	pkgredis "github.com/prohmpiriya/purchase-saga/pkg/redis"
	"github.com/prohmpiriya/purchase-saga/pkg/telemetry"
)

// RedisLockRepository implements LockRepository using Redis SETNX
type RedisLockRepository struct {
	client *pkgredis.Client
}

// NewRedisLockRepository creates a new Redis lock repository
func NewRedisLockRepository(client *pkgredis.Client) *RedisLockRepository {
	return &RedisLockRepository{client: client}
}

func lockKey(resource string) string {
	return fmt.Sprintf("lock:%s", resource)
}

// Acquire attempts to take the lock for a resource
func (r *RedisLockRepository) Acquire(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.lock.acquire")
	defer span.End()

	span.SetAttributes(attribute.String("lock.resource", resource))

	acquired, err := r.client.SetNX(ctx, lockKey(resource), "1", ttl).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	span.SetAttributes(attribute.Bool("lock.acquired", acquired))
	span.SetStatus(codes.Ok, "")
	return acquired, nil
}

// Release drops the lock for a resource
func (r *RedisLockRepository) Release(ctx context.Context, resource string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.lock.release")
	defer span.End()

	span.SetAttributes(attribute.String("lock.resource", resource))

	if err := r.client.Del(ctx, lockKey(resource)).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to release lock: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

var _ LockRepository = (*RedisLockRepository)(nil)
