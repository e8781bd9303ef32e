// internal/store/orders.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/models"
)

// OrderStore persists fulfillment orders. Line items are stored as a
// JSON column; status changes go through UpdateStatus so the monotonic
// transition rules are enforced in one place.
type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// Create inserts a new fulfillment order.
func (s *OrderStore) Create(ctx context.Context, order *models.FulfillmentOrder) error {
	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("orders.create", fmt.Errorf("encode lines: %w", err))
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fulfillment_orders
		 (id, patient_id, lines, status, warehouse_notified, failure_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		order.ID, order.PatientID, lines, string(order.Status),
		order.WarehouseNotified, order.FailureReason, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("orders.create", err)
	}
	return nil
}

// Get loads one order by id.
func (s *OrderStore) Get(ctx context.Context, orderID string) (*models.FulfillmentOrder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, lines, status, warehouse_notified, failure_reason, created_at, updated_at
		 FROM fulfillment_orders WHERE id = $1`,
		orderID,
	)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, stderrors.NewOrderNotFoundError(orderID)
	}
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("orders.get", err)
	}
	return order, nil
}

// ListByPatient returns a patient's orders, newest first.
func (s *OrderStore) ListByPatient(ctx context.Context, patientID string) ([]*models.FulfillmentOrder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, lines, status, warehouse_notified, failure_reason, created_at, updated_at
		 FROM fulfillment_orders WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("orders.listByPatient", err)
	}
	defer rows.Close()

	var orders []*models.FulfillmentOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("orders.listByPatient", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("orders.listByPatient", err)
	}
	return orders, nil
}

// UpdateStatus moves an order between statuses. Regressions are
// rejected before any write.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID string, to models.OrderStatus) error {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !models.CanTransition(order.Status, to) {
		return stderrors.NewOrderStatusRegressionError(orderID, string(order.Status), string(to))
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE fulfillment_orders SET status = $1, updated_at = $2 WHERE id = $3`,
		string(to), time.Now().UTC(), orderID,
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("orders.updateStatus", err)
	}
	return nil
}

// Dispatch acknowledges a warehouse dispatch: the order moves to
// dispatched and its reservation converts to a stock decrement, both
// in one transaction so a mid-flight failure leaves the order
// reserved and the acknowledgement retryable. A replay for an order
// that already left reserved changes nothing.
func (s *OrderStore) Dispatch(ctx context.Context, order *models.FulfillmentOrder) error {
	if !models.CanTransition(order.Status, models.OrderDispatched) {
		return stderrors.NewOrderStatusRegressionError(order.ID, string(order.Status), string(models.OrderDispatched))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE fulfillment_orders SET status = $1, updated_at = $2
		 WHERE id = $3 AND status = $4`,
		string(models.OrderDispatched), time.Now().UTC(), order.ID, string(models.OrderReserved),
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("orders.dispatch", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("orders.dispatch", err)
	}
	if affected == 0 {
		// a concurrent acknowledgement won; its transaction moved the stock
		return nil
	}

	for _, line := range order.Lines {
		if _, err := tx.ExecContext(ctx,
			`UPDATE inventory
			 SET on_hand = on_hand - $1, reserved = reserved - $1
			 WHERE medication_id = $2 AND reserved >= $1`,
			line.Quantity, line.MedicationID,
		); err != nil {
			return stderrors.NewQueryExecutionFailedError("orders.dispatch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return stderrors.NewQueryExecutionFailedError("orders.dispatch", err)
	}
	return nil
}

// MarkWarehouseNotified flips the notification flag. Idempotent: a
// replayed notification for an already-notified order is a no-op and
// reports false.
func (s *OrderStore) MarkWarehouseNotified(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fulfillment_orders
		 SET warehouse_notified = TRUE, updated_at = $1
		 WHERE id = $2 AND warehouse_notified = FALSE`,
		time.Now().UTC(), orderID,
	)
	if err != nil {
		return false, stderrors.NewQueryExecutionFailedError("orders.markNotified", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, stderrors.NewQueryExecutionFailedError("orders.markNotified", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.FulfillmentOrder, error) {
	var (
		order    models.FulfillmentOrder
		rawLines []byte
		status   string
	)
	if err := row.Scan(
		&order.ID, &order.PatientID, &rawLines, &status,
		&order.WarehouseNotified, &order.FailureReason,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rawLines, &order.Lines); err != nil {
		return nil, fmt.Errorf("decode lines: %w", err)
	}
	order.Status = models.OrderStatus(status)
	return &order, nil
}
