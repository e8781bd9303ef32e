// internal/store/patients.go
package store

import (
	"context"
	"database/sql"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/models"
)

// PatientStore reads patient profiles, prescriptions, active
// medications and interaction rules.
type PatientStore struct {
	db *sql.DB
}

func NewPatientStore(db *sql.DB) *PatientStore {
	return &PatientStore{db: db}
}

// GetRecord assembles the full record the safety agent evaluates
// against: profile, prescriptions, active medications, and the
// interaction rules touching any of those medications.
func (s *PatientStore) GetRecord(ctx context.Context, patientID string) (*models.PatientRecord, error) {
	var record models.PatientRecord

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, age_years, weight_kg FROM patients WHERE id = $1`,
		patientID,
	).Scan(
		&record.Patient.ID, &record.Patient.Name, &record.Patient.Email,
		&record.Patient.AgeYears, &record.Patient.WeightKG,
	)
	if err == sql.ErrNoRows {
		return nil, stderrors.NewPatientNotFoundError(patientID)
	}
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("patients.get", err)
	}

	if record.Prescriptions, err = s.prescriptions(ctx, patientID); err != nil {
		return nil, err
	}
	if record.ActiveMedications, err = s.activeMedications(ctx, patientID); err != nil {
		return nil, err
	}
	if record.Interactions, err = s.interactions(ctx); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *PatientStore) prescriptions(ctx context.Context, patientID string) ([]models.Prescription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, medication_id, quantity_per_fill, daily_dose_mg, expires_at
		 FROM prescriptions WHERE patient_id = $1`,
		patientID,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("patients.prescriptions", err)
	}
	defer rows.Close()

	var result []models.Prescription
	for rows.Next() {
		var p models.Prescription
		if err := rows.Scan(
			&p.ID, &p.PatientID, &p.MedicationID,
			&p.QuantityPerFill, &p.DailyDoseMG, &p.ExpiresAt,
		); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("patients.prescriptions", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *PatientStore) activeMedications(ctx context.Context, patientID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT medication_id FROM active_medications WHERE patient_id = $1`,
		patientID,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("patients.activeMedications", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("patients.activeMedications", err)
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (s *PatientStore) interactions(ctx context.Context) ([]models.InteractionRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT medication_a, medication_b, severity, description FROM interaction_rules`,
	)
	if err != nil {
		return nil, stderrors.NewQueryExecutionFailedError("patients.interactions", err)
	}
	defer rows.Close()

	var result []models.InteractionRule
	for rows.Next() {
		var r models.InteractionRule
		if err := rows.Scan(&r.MedicationA, &r.MedicationB, &r.Severity, &r.Description); err != nil {
			return nil, stderrors.NewQueryExecutionFailedError("patients.interactions", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
