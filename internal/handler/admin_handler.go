package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/purchase-saga/internal/dto"
	"github.com/prohmpiriya/purchase-saga/internal/repository"
	"github.com/prohmpiriya/purchase-saga/internal/saga"
	"github.com/prohmpiriya/purchase-saga/internal/worker"
	"github.com/prohmpiriya/purchase-saga/pkg/database"
)

// AdminHandler exposes operational state of the saga machinery: order counts,
// outbox and sweeper progress, and a manual sweep trigger for incident
// response.
type AdminHandler struct {
	db      *database.PostgresDB
	orders  repository.OrderRepository
	outbox  *worker.OutboxWorker
	sweeper *worker.ReservationExpiryWorker
	audit   *saga.AuditConsumer
}

// NewAdminHandler creates a new admin handler. Any component may be nil when
// the process does not run it.
func NewAdminHandler(
	db *database.PostgresDB,
	orders repository.OrderRepository,
	outbox *worker.OutboxWorker,
	sweeper *worker.ReservationExpiryWorker,
	audit *saga.AuditConsumer,
) *AdminHandler {
	return &AdminHandler{
		db:      db,
		orders:  orders,
		outbox:  outbox,
		sweeper: sweeper,
		audit:   audit,
	}
}

// SagaStatsResponse aggregates the operational counters of one process
type SagaStatsResponse struct {
	Orders       map[string]int64          `json:"orders"`
	Outbox       *worker.OutboxWorkerStats `json:"outbox,omitempty"`
	Sweeper      *worker.ExpiryWorkerStats `json:"sweeper,omitempty"`
	AuditBacklog int                       `json:"audit_backlog"`
}

// GetSagaStats handles GET /admin/saga/stats
func (h *AdminHandler) GetSagaStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats := &SagaStatsResponse{
		Orders: make(map[string]int64),
	}

	if h.orders != nil {
		counts, err := h.orders.CountByStatus(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
				Error:   "failed to count orders",
				Code:    "QUERY_FAILED",
				Message: err.Error(),
			})
			return
		}
		for status, count := range counts {
			stats.Orders[string(status)] = count
		}
	}

	if h.outbox != nil {
		outboxStats, err := h.outbox.Stats(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
				Error:   "failed to read outbox stats",
				Code:    "QUERY_FAILED",
				Message: err.Error(),
			})
			return
		}
		stats.Outbox = outboxStats
	}

	if h.sweeper != nil {
		stats.Sweeper = h.sweeper.Stats()
	}

	if h.audit != nil {
		stats.AuditBacklog = h.audit.Pending()
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Success: true,
		Data:    stats,
	})
}

// RunSweep handles POST /admin/saga/sweep
// Runs one sweep pass immediately instead of waiting for the next tick
func (h *AdminHandler) RunSweep(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error: "sweeper not running in this process",
			Code:  "NOT_AVAILABLE",
		})
		return
	}

	expired := h.sweeper.Sweep(c.Request.Context())

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Success: true,
		Data:    gin.H{"expired": expired},
	})
}

// GetStuckOrders handles GET /admin/saga/stuck
// Lists non-terminal orders that have not moved for a while. A busy saga
// settles in seconds, so anything sitting here points at a lost event or a
// dead participant.
func (h *AdminHandler) GetStuckOrders(c *gin.Context) {
	ctx := c.Request.Context()

	minutes := 30
	if m := c.Query("minutes"); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			minutes = n
		}
	}

	query := `
		SELECT id, user_id, item_id, quantity, status, created_at, updated_at
		FROM orders
		WHERE status IN ('PENDING', 'PROCESSING')
		  AND updated_at < NOW() - make_interval(mins => $1)
		ORDER BY updated_at ASC
		LIMIT 100
	`

	rows, err := h.db.Pool().Query(ctx, query, minutes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "failed to query orders",
			Code:    "QUERY_FAILED",
			Message: err.Error(),
		})
		return
	}
	defer rows.Close()

	type StuckOrder struct {
		ID        string    `json:"id"`
		UserID    string    `json:"user_id"`
		ItemID    string    `json:"item_id"`
		Quantity  int       `json:"quantity"`
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		StuckFor  string    `json:"stuck_for"`
	}

	var orders []StuckOrder
	for rows.Next() {
		var o StuckOrder
		if err := rows.Scan(&o.ID, &o.UserID, &o.ItemID, &o.Quantity, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			continue
		}
		o.StuckFor = time.Since(o.UpdatedAt).Round(time.Second).String()
		orders = append(orders, o)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    orders,
		"count":   len(orders),
	})
}
