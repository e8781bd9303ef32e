// internal/store/queue.go
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	stderrors "pharmacy-agents/internal/common/errors"
)

const warehouseRetryKey = "warehouse:retry"

// RetryEntry is one queued warehouse notification awaiting redelivery.
type RetryEntry struct {
	OrderID    string    `json:"orderId"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// WarehouseRetryQueue holds orders whose warehouse notification failed.
// A background retrier drains it; delivery stays at-least-once because
// entries are only removed after a publish attempt is made.
type WarehouseRetryQueue struct {
	client *redis.Client
}

func NewWarehouseRetryQueue(client *redis.Client) *WarehouseRetryQueue {
	return &WarehouseRetryQueue{client: client}
}

// Push enqueues an order for notification retry.
func (q *WarehouseRetryQueue) Push(ctx context.Context, entry RetryEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return stderrors.NewWarehousePublishFailedError(entry.OrderID, err)
	}
	if err := q.client.RPush(ctx, warehouseRetryKey, raw).Err(); err != nil {
		return stderrors.NewWarehousePublishFailedError(entry.OrderID, err)
	}
	return nil
}

// Pop dequeues the oldest entry. Returns (nil, nil) when the queue is
// empty.
func (q *WarehouseRetryQueue) Pop(ctx context.Context) (*RetryEntry, error) {
	raw, err := q.client.LPop(ctx, warehouseRetryKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, stderrors.NewWarehousePublishFailedError("", err)
	}

	var entry RetryEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, stderrors.NewWarehousePublishFailedError("", err)
	}
	return &entry, nil
}

// Len reports the current queue depth.
func (q *WarehouseRetryQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, warehouseRetryKey).Result()
}
