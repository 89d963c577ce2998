package repository

import (
	"context"

	"github.com/prohmpiriya/purchase-saga/internal/domain"
)

// AuditRepository defines the interface for the append-only saga event log
type AuditRepository interface {
	// Append writes a batch of audit entries
	Append(ctx context.Context, entries []*domain.AuditEntry) error

	// GetByOrderID retrieves all entries recorded for an order in the order
	// they were recorded
	GetByOrderID(ctx context.Context, orderID string) ([]*domain.AuditEntry, error)
}
