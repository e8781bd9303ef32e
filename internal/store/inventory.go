// internal/store/inventory.go
package store

import (
	"context"
	"database/sql"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/models"
)

// InventoryStore guards the stock table. The reserved column never
// exceeds on_hand; the conditional UPDATE enforces that under
// concurrent reservations without application-side locking.
type InventoryStore struct {
	db *sql.DB
}

func NewInventoryStore(db *sql.DB) *InventoryStore {
	return &InventoryStore{db: db}
}

// Get returns current stock for one medication.
func (s *InventoryStore) Get(ctx context.Context, medicationID string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := s.db.QueryRowContext(ctx,
		`SELECT medication_id, on_hand, reserved FROM inventory WHERE medication_id = $1`,
		medicationID,
	).Scan(&item.MedicationID, &item.OnHand, &item.Reserved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("inventory.get", err)
	}
	return &item, nil
}

// ReserveAll reserves every line of an order inside one transaction.
// If any single line cannot be covered the whole transaction rolls
// back, leaving zero net reservation change. Returns an
// InventoryInsufficient error naming the first line that failed.
func (s *InventoryStore) ReserveAll(ctx context.Context, lines []models.OrderLine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	for _, line := range lines {
		res, err := tx.ExecContext(ctx,
			`UPDATE inventory
			 SET reserved = reserved + $1
			 WHERE medication_id = $2 AND reserved + $1 <= on_hand`,
			line.Quantity, line.MedicationID,
		)
		if err != nil {
			return stderrors.NewReservationConflictError(line.MedicationID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return stderrors.NewReservationConflictError(line.MedicationID, err)
		}
		if affected == 0 {
			return stderrors.NewInventoryInsufficientError(line.MedicationID, line.Quantity)
		}
	}

	if err := tx.Commit(); err != nil {
		return stderrors.NewReservationConflictError("", err)
	}
	return nil
}
