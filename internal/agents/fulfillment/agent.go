// internal/agents/fulfillment/agent.go
package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/common/metrics"
	"pharmacy-agents/internal/models"
	"pharmacy-agents/internal/store"
)

// Inventory is the reservation surface the agent needs.
type Inventory interface {
	ReserveAll(ctx context.Context, lines []models.OrderLine) error
}

// Orders persists fulfillment orders.
type Orders interface {
	Create(ctx context.Context, order *models.FulfillmentOrder) error
	MarkWarehouseNotified(ctx context.Context, orderID string) (bool, error)
}

// RetryQueue holds failed warehouse notifications for redelivery.
type RetryQueue interface {
	Push(ctx context.Context, entry store.RetryEntry) error
}

// Agent commits inventory for approved orders and notifies the
// warehouse. It may only be called with an approved verdict.
type Agent struct {
	config    *Config
	inventory Inventory
	orders    Orders
	notifier  WarehouseNotifier
	queue     RetryQueue
	logger    logger.Logger
}

func NewAgent(cfg *Config, inventory Inventory, orders Orders, notifier WarehouseNotifier, queue RetryQueue, log logger.Logger) *Agent {
	return &Agent{
		config:    cfg,
		inventory: inventory,
		orders:    orders,
		notifier:  notifier,
		queue:     queue,
		logger:    log.WithFields(map[string]interface{}{"agent": "fulfillment"}),
	}
}

// Fulfill reserves every line of the approved candidate atomically and
// persists the resulting order. Reservation failure persists a failed
// order with zero net reservation change; notification failure leaves
// the order reserved and queues a redelivery, it never unwinds the
// reservation.
func (a *Agent) Fulfill(ctx context.Context, verdict *models.SafetyVerdict) (*models.FulfillmentOrder, error) {
	if verdict.Outcome != models.VerdictApproved {
		return nil, stderrors.NewVerdictNotApprovedError(string(verdict.Outcome))
	}

	candidate := verdict.Candidate
	now := time.Now().UTC()
	order := &models.FulfillmentOrder{
		ID:        "ORD-" + uuid.New().String(),
		PatientID: candidate.PatientID,
		Status:    models.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, item := range candidate.Items {
		order.Lines = append(order.Lines, models.OrderLine{
			MedicationID:   item.MedicationID,
			MedicationName: item.MedicationName,
			Quantity:       item.Quantity,
		})
	}

	if err := a.inventory.ReserveAll(ctx, order.Lines); err != nil {
		metrics.InventoryReservations.WithLabelValues("failed").Inc()
		if stderrors.IsCode(err, stderrors.ErrCodeInventoryInsufficient) {
			order.Status = models.OrderFailed
			order.FailureReason = err.Error()
			if createErr := a.orders.Create(ctx, order); createErr != nil {
				a.logger.Error("failed to persist failed order", map[string]interface{}{
					"orderId": order.ID,
					"error":   createErr.Error(),
				})
			}
			return order, err
		}
		return nil, err
	}
	metrics.InventoryReservations.WithLabelValues("reserved").Inc()

	order.Status = models.OrderReserved
	if err := a.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	a.notifyWarehouse(ctx, order)
	return order, nil
}

// notifyWarehouse attempts delivery once. On failure the order stays
// reserved and the notification is queued for the background retrier.
func (a *Agent) notifyWarehouse(ctx context.Context, order *models.FulfillmentOrder) {
	if err := a.notifier.Notify(ctx, order); err != nil {
		metrics.WarehouseNotifications.WithLabelValues("failed").Inc()
		a.logger.Warn("warehouse notification failed, queued for retry", map[string]interface{}{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		if qErr := a.queue.Push(ctx, store.RetryEntry{
			OrderID:    order.ID,
			EnqueuedAt: time.Now().UTC(),
		}); qErr != nil {
			a.logger.Error("failed to queue warehouse retry", map[string]interface{}{
				"orderId": order.ID,
				"error":   qErr.Error(),
			})
		}
		return
	}

	metrics.WarehouseNotifications.WithLabelValues("sent").Inc()
	notified, err := a.orders.MarkWarehouseNotified(ctx, order.ID)
	if err != nil {
		a.logger.Error("failed to record warehouse notification", map[string]interface{}{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	order.WarehouseNotified = notified || order.WarehouseNotified
}
