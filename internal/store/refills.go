// internal/store/refills.go
package store

import (
	"context"
	"database/sql"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/models"
)

// RefillStore persists refill schedules keyed by (patient, medication)
// and reads fill history for rate estimation.
type RefillStore struct {
	db *sql.DB
}

func NewRefillStore(db *sql.DB) *RefillStore {
	return &RefillStore{db: db}
}

// FillHistory returns a patient's dispense events for one medication,
// oldest first.
func (s *RefillStore) FillHistory(ctx context.Context, patientID, medicationID string) ([]models.FillRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, medication_id, quantity, filled_at
		 FROM fill_history
		 WHERE patient_id = $1 AND medication_id = $2
		 ORDER BY filled_at ASC`,
		patientID, medicationID,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("refills.fillHistory", err)
	}
	defer rows.Close()

	var fills []models.FillRecord
	for rows.Next() {
		var f models.FillRecord
		if err := rows.Scan(&f.PatientID, &f.MedicationID, &f.Quantity, &f.FilledAt); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("refills.fillHistory", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// PatientsWithHistory lists every patient with at least one dispense
// event, for batch refill recomputation.
func (s *RefillStore) PatientsWithHistory(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT patient_id FROM fill_history`)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("refills.patients", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("refills.patients", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MedicationsWithHistory lists the distinct medications a patient has
// ever filled.
func (s *RefillStore) MedicationsWithHistory(ctx context.Context, patientID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT medication_id FROM fill_history WHERE patient_id = $1`,
		patientID,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("refills.medications", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("refills.medications", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Get loads the current schedule for a (patient, medication) pair, or
// nil when none has been computed yet.
func (s *RefillStore) Get(ctx context.Context, patientID, medicationID string) (*models.RefillSchedule, error) {
	var (
		sched  models.RefillSchedule
		status string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT patient_id, medication_id, depletion_date, daily_rate, status, last_computed_at, last_fill_date
		 FROM refill_schedules WHERE patient_id = $1 AND medication_id = $2`,
		patientID, medicationID,
	).Scan(
		&sched.PatientID, &sched.MedicationID, &sched.DepletionDate,
		&sched.DailyRate, &status, &sched.LastComputedAt, &sched.LastFillDate,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("refills.get", err)
	}
	sched.Status = models.SuggestionStatus(status)
	return &sched, nil
}

// ListByPatient returns all current schedules for a patient.
func (s *RefillStore) ListByPatient(ctx context.Context, patientID string) ([]models.RefillSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, medication_id, depletion_date, daily_rate, status, last_computed_at, last_fill_date
		 FROM refill_schedules WHERE patient_id = $1 ORDER BY depletion_date ASC`,
		patientID,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("refills.listByPatient", err)
	}
	defer rows.Close()

	var result []models.RefillSchedule
	for rows.Next() {
		var (
			sched  models.RefillSchedule
			status string
		)
		if err := rows.Scan(
			&sched.PatientID, &sched.MedicationID, &sched.DepletionDate,
			&sched.DailyRate, &status, &sched.LastComputedAt, &sched.LastFillDate,
		); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("refills.listByPatient", err)
		}
		sched.Status = models.SuggestionStatus(status)
		result = append(result, sched)
	}
	return result, rows.Err()
}

// Upsert writes a schedule, replacing any prior row for the pair.
func (s *RefillStore) Upsert(ctx context.Context, sched *models.RefillSchedule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refill_schedules
		 (patient_id, medication_id, depletion_date, daily_rate, status, last_computed_at, last_fill_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (patient_id, medication_id) DO UPDATE SET
		   depletion_date = EXCLUDED.depletion_date,
		   daily_rate = EXCLUDED.daily_rate,
		   status = EXCLUDED.status,
		   last_computed_at = EXCLUDED.last_computed_at,
		   last_fill_date = EXCLUDED.last_fill_date`,
		sched.PatientID, sched.MedicationID, sched.DepletionDate,
		sched.DailyRate, string(sched.Status), sched.LastComputedAt, sched.LastFillDate,
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("refills.upsert", err)
	}
	return nil
}

// SetStatus updates only the suggestion status for a pair.
func (s *RefillStore) SetStatus(ctx context.Context, patientID, medicationID string, status models.SuggestionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE refill_schedules SET status = $1 WHERE patient_id = $2 AND medication_id = $3`,
		string(status), patientID, medicationID,
	)
	if err != nil {
		return stderrors.NewQueryExecutionFailedError("refills.setStatus", err)
	}
	return nil
}
