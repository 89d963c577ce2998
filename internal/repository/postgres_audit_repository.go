package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
	"github.com/prohmpiriya/purchase-saga/pkg/telemetry"
)

// PostgresAuditRepository implements AuditRepository using PostgreSQL
type PostgresAuditRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditRepository creates a new PostgreSQL audit repository
func NewPostgresAuditRepository(pool *pgxpool.Pool) *PostgresAuditRepository {
	return &PostgresAuditRepository{pool: pool}
}

// Append writes a batch of audit entries in a single transaction
func (r *PostgresAuditRepository) Append(ctx context.Context, entries []*domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.audit.append")
	defer span.End()

	span.SetAttributes(attribute.Int("audit.count", len(entries)))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO saga_audit_log (
			id, event_type, order_id, payload, occurred_at, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	for _, entry := range entries {
		_, err := tx.Exec(ctx, query,
			entry.ID,
			entry.EventType,
			entry.OrderID,
			entry.Payload,
			entry.OccurredAt,
			entry.RecordedAt,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByOrderID retrieves all entries recorded for an order
func (r *PostgresAuditRepository) GetByOrderID(ctx context.Context, orderID string) ([]*domain.AuditEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.audit.get_by_order_id")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID))

	query := `
		SELECT id, event_type, order_id, payload, occurred_at, recorded_at
		FROM saga_audit_log
		WHERE order_id = $1
		ORDER BY recorded_at ASC
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		err := rows.Scan(
			&entry.ID,
			&entry.EventType,
			&entry.OrderID,
			&entry.Payload,
			&entry.OccurredAt,
			&entry.RecordedAt,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	span.SetAttributes(attribute.Int("audit.count", len(entries)))
	span.SetStatus(codes.Ok, "")
	return entries, nil
}

var _ AuditRepository = (*PostgresAuditRepository)(nil)
