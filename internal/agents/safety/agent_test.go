// internal/agents/safety/agent_test.go
package safety

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/models"
)

func testConfig() *Config {
	return LoadConfig()
}

func testMedications() MedicationInfo {
	return MedicationInfo{
		"med-lis": {
			ID: "med-lis", Name: "Lisinopril",
			UnitDoseMG: 10, PrescriptionRequired: true, MaxDailyDoseMG: 40,
		},
		"med-asp": {
			ID: "med-asp", Name: "Aspirin",
			UnitDoseMG: 325, PrescriptionRequired: false,
		},
	}
}

func testRecord() *models.PatientRecord {
	return &models.PatientRecord{
		Patient: models.Patient{ID: "pat-1", Name: "Jo Smith", AgeYears: 54, WeightKG: 70},
		Prescriptions: []models.Prescription{
			{
				ID: "rx-1", PatientID: "pat-1", MedicationID: "med-lis",
				QuantityPerFill: 30, DailyDoseMG: 10,
				ExpiresAt: time.Now().UTC().Add(90 * 24 * time.Hour),
			},
		},
		ActiveMedications: []string{"med-lis"},
		Interactions: []models.InteractionRule{
			{MedicationA: "med-asp", MedicationB: "med-lis", Severity: "moderate", Description: "aspirin may blunt lisinopril's effect"},
		},
	}
}

func candidate(items ...models.CandidateItem) *models.OrderCandidate {
	return &models.OrderCandidate{
		PatientID:   "pat-1",
		Items:       items,
		ExtractedAt: time.Now().UTC(),
	}
}

func TestAgent_Evaluate_Approved(t *testing.T) {
	a := NewAgent(testConfig(), logger.NewTestLogger(t))
	record := testRecord()
	record.ActiveMedications = []string{"med-lis"} // no conflicting actives

	v := a.Evaluate(context.Background(), candidate(models.CandidateItem{
		MedicationID: "med-lis", MedicationName: "Lisinopril",
		Quantity: 30, DosageMG: 10, DosesPerDay: 1,
	}), record, testMedications())

	assert.Equal(t, models.VerdictApproved, v.Outcome)
	assert.Empty(t, v.Violations)
	assert.Equal(t, "all safety checks passed", v.Rationale)
}

func TestAgent_Evaluate_MissingPrescription(t *testing.T) {
	a := NewAgent(testConfig(), logger.NewTestLogger(t))
	record := testRecord()
	record.Prescriptions = nil
	record.ActiveMedications = nil

	v := a.Evaluate(context.Background(), candidate(models.CandidateItem{
		MedicationID: "med-lis", MedicationName: "Lisinopril",
		Quantity: 30, DosageMG: 10, DosesPerDay: 1,
	}), record, testMedications())

	assert.Equal(t, models.VerdictRejected, v.Outcome)
	require.NotEmpty(t, v.Violations)
	assert.Equal(t, models.ViolationMissingPrescription, v.Violations[0].Code)
	assert.Contains(t, v.Rationale, "no prescription on file")
}

func TestAgent_Evaluate_ExpiredPrescription(t *testing.T) {
	a := NewAgent(testConfig(), logger.NewTestLogger(t))
	record := testRecord()
	record.Prescriptions[0].ExpiresAt = time.Now().UTC().Add(-24 * time.Hour)

	v := a.Evaluate(context.Background(), candidate(models.CandidateItem{
		MedicationID: "med-lis", MedicationName: "Lisinopril",
		Quantity: 30, DosageMG: 10, DosesPerDay: 1,
	}), record, testMedications())

	assert.Equal(t, models.VerdictRejected, v.Outcome)
	assert.Equal(t, models.ViolationMissingPrescription, v.Violations[0].Code)
}

func TestAgent_Evaluate_QuantityNeverApproved(t *testing.T) {
	// any quantity above the prescribed fill must not approve
	a := NewAgent(testConfig(), logger.NewTestLogger(t))

	for _, qty := range []int{31, 50, 89} {
		v := a.Evaluate(context.Background(), candidate(models.CandidateItem{
			MedicationID: "med-lis", MedicationName: "Lisinopril",
			Quantity: qty, DosageMG: 10, DosesPerDay: 1,
		}), testRecord(), testMedications())

		assert.NotEqual(t, models.VerdictApproved, v.Outcome, "quantity %d", qty)
		assert.Equal(t, models.VerdictRejected, v.Outcome)
	}
}

func TestAgent_Evaluate_InteractionConflict(t *testing.T) {
	a := NewAgent(testConfig(), logger.NewTestLogger(t))

	// aspirin requested while lisinopril is active
	v := a.Evaluate(context.Background(), candidate(models.CandidateItem{
		MedicationID: "med-asp", MedicationName: "Aspirin",
		Quantity: 20, DosageMG: 325, DosesPerDay: 2,
	}), testRecord(), testMedications())

	assert.Equal(t, models.VerdictRejected, v.Outcome)
	require.NotEmpty(t, v.Violations)
	assert.Equal(t, models.ViolationInteractionConflict, v.Violations[0].Code)
}

func TestAgent_Evaluate_DosageExceeded(t *testing.T) {
	a := NewAgent(testConfig(), logger.NewTestLogger(t))

	// 10mg x 8/day = 80mg against Lisinopril's 40mg ceiling
	v := a.Evaluate(context.Background(), candidate(models.CandidateItem{
		MedicationID: "med-lis", MedicationName: "Lisinopril",
		Quantity: 30, DosageMG: 10, DosesPerDay: 8,
	}), testRecord(), testMedications())

	assert.Equal(t, models.VerdictRejected, v.Outcome)
	hasDosage := false
	for _, viol := range v.Violations {
		if viol.Code == models.ViolationDosageExceeded && !viol.MissingData {
			hasDosage = true
		}
	}
	assert.True(t, hasDosage)
}

func TestAgent_Evaluate_MissingDataIsClarificationNotRejection(t *testing.T) {
	a := NewAgent(testConfig(), logger.NewTestLogger(t))
	record := testRecord()
	record.Patient.WeightKG = 0 // weight not on file

	v := a.Evaluate(context.Background(), candidate(models.CandidateItem{
		MedicationID: "med-lis", MedicationName: "Lisinopril",
		Quantity: 30, DosageMG: 10, DosesPerDay: 1,
	}), record, testMedications())

	assert.Equal(t, models.VerdictNeedsClarification, v.Outcome)
	require.NotEmpty(t, v.Violations)
	assert.True(t, v.Violations[0].MissingData)
	assert.Contains(t, v.Rationale, "additional information needed")
}

func TestAgent_Evaluate_AllChecksPopulateRationale(t *testing.T) {
	a := NewAgent(testConfig(), logger.NewTestLogger(t))
	record := testRecord()
	record.Prescriptions = nil
	record.ActiveMedications = []string{"med-asp"}
	record.Interactions = []models.InteractionRule{
		{MedicationA: "med-lis", MedicationB: "med-asp", Description: "conflict"},
	}

	// missing prescription, excessive quantity and an interaction all
	// at once: every violation shows up, not just the first
	v := a.Evaluate(context.Background(), candidate(models.CandidateItem{
		MedicationID: "med-lis", MedicationName: "Lisinopril",
		Quantity: 120, DosageMG: 10, DosesPerDay: 1,
	}), record, testMedications())

	assert.Equal(t, models.VerdictRejected, v.Outcome)
	codes := map[string]bool{}
	for _, viol := range v.Violations {
		codes[viol.Code] = true
	}
	assert.True(t, codes[models.ViolationMissingPrescription])
	assert.True(t, codes[models.ViolationQuantityExceeded])
	assert.True(t, codes[models.ViolationInteractionConflict])
	// the first failing check supplies the headline reason
	assert.Equal(t, models.ViolationMissingPrescription, v.Violations[0].Code)
}
