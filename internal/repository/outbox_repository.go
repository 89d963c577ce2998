package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

// OutboxRepository defines the interface for outbox message persistence
type OutboxRepository interface {
	// Create inserts an outbox message
	Create(ctx context.Context, msg *domain.OutboxMessage) error

	// CreateTx inserts an outbox message within an existing transaction
	CreateTx(ctx context.Context, tx pgx.Tx, msg *domain.OutboxMessage) error

	// GetPendingMessages fetches pending messages ready to publish
	GetPendingMessages(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)

	// GetFailedMessages fetches failed messages with retries remaining
	GetFailedMessages(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)

	// MarkAsPublished marks a message as successfully published
	MarkAsPublished(ctx context.Context, id string) error

	// MarkAsFailed records a publish failure and bumps the retry count
	MarkAsFailed(ctx context.Context, id string, errMsg string) error

	// DeletePublished removes published messages older than the given age
	DeletePublished(ctx context.Context, olderThanDays int) (int64, error)

	// CountByStatus returns message counts grouped by status
	CountByStatus(ctx context.Context) (map[domain.OutboxStatus]int64, error)
}
