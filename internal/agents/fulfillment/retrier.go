// internal/agents/fulfillment/retrier.go
package fulfillment

import (
	"context"
	"time"

	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/common/metrics"
	"pharmacy-agents/internal/models"
	"pharmacy-agents/internal/store"
)

// OrderReader loads persisted orders for redelivery.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*models.FulfillmentOrder, error)
	MarkWarehouseNotified(ctx context.Context, orderID string) (bool, error)
}

// PopQueue is the drain side of the retry queue.
type PopQueue interface {
	Pop(ctx context.Context) (*store.RetryEntry, error)
	Push(ctx context.Context, entry store.RetryEntry) error
}

// WarehouseRetrier drains the retry queue in the background,
// re-attempting warehouse delivery for orders whose first notification
// failed. An entry is re-queued with an incremented attempt count until
// the cap, then dropped with an error log for operator attention.
type WarehouseRetrier struct {
	config   *Config
	queue    PopQueue
	orders   OrderReader
	notifier WarehouseNotifier
	logger   logger.Logger
}

func NewWarehouseRetrier(cfg *Config, queue PopQueue, orders OrderReader, notifier WarehouseNotifier, log logger.Logger) *WarehouseRetrier {
	return &WarehouseRetrier{
		config:   cfg,
		queue:    queue,
		orders:   orders,
		notifier: notifier,
		logger:   log.WithFields(map[string]interface{}{"component": "warehouse-retrier"}),
	}
}

// Run polls until the context is cancelled.
func (r *WarehouseRetrier) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain processes everything currently queued.
func (r *WarehouseRetrier) drain(ctx context.Context) {
	for {
		entry, err := r.queue.Pop(ctx)
		if err != nil {
			r.logger.Error("failed to pop retry queue", map[string]interface{}{"error": err.Error()})
			return
		}
		if entry == nil {
			return
		}
		r.deliver(ctx, *entry)
	}
}

func (r *WarehouseRetrier) deliver(ctx context.Context, entry store.RetryEntry) {
	order, err := r.orders.Get(ctx, entry.OrderID)
	if err != nil {
		r.logger.Error("failed to load order for retry", map[string]interface{}{
			"orderId": entry.OrderID,
			"error":   err.Error(),
		})
		return
	}
	if order.WarehouseNotified {
		return
	}

	if err := r.notifier.Notify(ctx, order); err != nil {
		entry.Attempts++
		if entry.Attempts >= r.config.MaxRetryAttempts {
			metrics.WarehouseNotifications.WithLabelValues("abandoned").Inc()
			r.logger.Error("warehouse notification abandoned after max attempts", map[string]interface{}{
				"orderId":  entry.OrderID,
				"attempts": entry.Attempts,
			})
			return
		}
		if qErr := r.queue.Push(ctx, entry); qErr != nil {
			r.logger.Error("failed to requeue warehouse retry", map[string]interface{}{
				"orderId": entry.OrderID,
				"error":   qErr.Error(),
			})
		}
		return
	}

	metrics.WarehouseNotifications.WithLabelValues("sent").Inc()
	if _, err := r.orders.MarkWarehouseNotified(ctx, entry.OrderID); err != nil {
		r.logger.Error("failed to record warehouse notification", map[string]interface{}{
			"orderId": entry.OrderID,
			"error":   err.Error(),
		})
	}
	r.logger.Info("warehouse notification delivered on retry", map[string]interface{}{
		"orderId":  entry.OrderID,
		"attempts": entry.Attempts + 1,
	})
}
