// internal/agents/refill/agent_test.go
package refill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/models"
)

type fakeHistory struct {
	medIDs  []string
	fills   map[string][]models.FillRecord
	prev    map[string]*models.RefillSchedule
	upserts []*models.RefillSchedule
}

func (f *fakeHistory) FillHistory(_ context.Context, _, medicationID string) ([]models.FillRecord, error) {
	return f.fills[medicationID], nil
}

func (f *fakeHistory) MedicationsWithHistory(_ context.Context, _ string) ([]string, error) {
	return f.medIDs, nil
}

func (f *fakeHistory) Get(_ context.Context, _, medicationID string) (*models.RefillSchedule, error) {
	return f.prev[medicationID], nil
}

func (f *fakeHistory) Upsert(_ context.Context, sched *models.RefillSchedule) error {
	f.upserts = append(f.upserts, sched)
	return nil
}

type fakePrescriptions struct {
	record *models.PatientRecord
}

func (f *fakePrescriptions) GetRecord(_ context.Context, _ string) (*models.PatientRecord, error) {
	return f.record, nil
}

type fakeMedications struct {
	meds map[string]*models.Medication
}

func (f *fakeMedications) GetMedication(_ context.Context, medicationID string) (*models.Medication, error) {
	return f.meds[medicationID], nil
}

var refillBase = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return refillBase.AddDate(0, 0, n)
}

func fill(medID string, at time.Time, qty int) models.FillRecord {
	return models.FillRecord{PatientID: "pat-1", MedicationID: medID, Quantity: qty, FilledAt: at}
}

func newRefillAgent(t *testing.T, h *fakeHistory, record *models.PatientRecord, meds map[string]*models.Medication, now time.Time) *Agent {
	a := NewAgent(LoadConfig(), h, &fakePrescriptions{record: record}, &fakeMedications{meds: meds}, logger.NewTestLogger(t))
	a.now = func() time.Time { return now }
	return a
}

// 60 units consumed over 60 days is one unit per day; the last fill of
// 10 units runs out 10 days later.
func historyAtOnePerDay() *fakeHistory {
	return &fakeHistory{
		medIDs: []string{"med-lis"},
		fills: map[string][]models.FillRecord{
			"med-lis": {
				fill("med-lis", day(0), 60),
				fill("med-lis", day(60), 10),
			},
		},
		prev: map[string]*models.RefillSchedule{},
	}
}

func TestComputeSchedule_EmitsWithinLeadTime(t *testing.T) {
	h := historyAtOnePerDay()
	a := newRefillAgent(t, h, &models.PatientRecord{}, nil, day(65))

	due, err := a.ComputeSchedule(context.Background(), "pat-1")

	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "med-lis", due[0].MedicationID)
	assert.Equal(t, models.SuggestionPending, due[0].Status)
	assert.InDelta(t, 1.0, due[0].DailyRate, 0.001)
	assert.True(t, due[0].DepletionDate.Equal(day(70)), "depletion %s", due[0].DepletionDate)
	require.Len(t, h.upserts, 1)
}

func TestComputeSchedule_OutsideLeadTimeOnlyPersists(t *testing.T) {
	h := historyAtOnePerDay()
	a := newRefillAgent(t, h, &models.PatientRecord{}, nil, day(60))

	due, err := a.ComputeSchedule(context.Background(), "pat-1")

	require.NoError(t, err)
	assert.Empty(t, due)
	// the projection is still recorded for later sweeps
	require.Len(t, h.upserts, 1)
	assert.True(t, h.upserts[0].DepletionDate.Equal(day(70)))
}

func TestComputeSchedule_SentWithinToleranceNotRepeated(t *testing.T) {
	h := historyAtOnePerDay()
	h.prev["med-lis"] = &models.RefillSchedule{
		PatientID:     "pat-1",
		MedicationID:  "med-lis",
		DepletionDate: day(69),
		Status:        models.SuggestionSent,
		LastFillDate:  day(60),
	}
	a := newRefillAgent(t, h, &models.PatientRecord{}, nil, day(65))

	due, err := a.ComputeSchedule(context.Background(), "pat-1")

	require.NoError(t, err)
	assert.Empty(t, due)
	require.Len(t, h.upserts, 1)
	// one-day drift keeps the suggestion marked sent
	assert.Equal(t, models.SuggestionSent, h.upserts[0].Status)
}

func TestComputeSchedule_SentBeyondToleranceRepeated(t *testing.T) {
	h := historyAtOnePerDay()
	h.prev["med-lis"] = &models.RefillSchedule{
		PatientID:     "pat-1",
		MedicationID:  "med-lis",
		DepletionDate: day(60),
		Status:        models.SuggestionSent,
		LastFillDate:  day(60),
	}
	a := newRefillAgent(t, h, &models.PatientRecord{}, nil, day(65))

	due, err := a.ComputeSchedule(context.Background(), "pat-1")

	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, models.SuggestionPending, due[0].Status)
}

func TestComputeSchedule_DismissalSticksUntilNewerFill(t *testing.T) {
	h := historyAtOnePerDay()
	h.prev["med-lis"] = &models.RefillSchedule{
		PatientID:     "pat-1",
		MedicationID:  "med-lis",
		DepletionDate: day(70),
		Status:        models.SuggestionDismissed,
		LastFillDate:  day(60),
	}
	a := newRefillAgent(t, h, &models.PatientRecord{}, nil, day(65))

	due, err := a.ComputeSchedule(context.Background(), "pat-1")

	require.NoError(t, err)
	assert.Empty(t, due)
	require.Len(t, h.upserts, 1)
	assert.Equal(t, models.SuggestionDismissed, h.upserts[0].Status)

	// a newer fill restarts the cycle
	h.prev["med-lis"].LastFillDate = day(30)
	h.upserts = nil

	due, err = a.ComputeSchedule(context.Background(), "pat-1")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, models.SuggestionPending, due[0].Status)
}

func TestComputeSchedule_SingleFillUsesPrescribedRate(t *testing.T) {
	h := &fakeHistory{
		medIDs: []string{"med-lis"},
		fills: map[string][]models.FillRecord{
			"med-lis": {fill("med-lis", day(0), 30)},
		},
		prev: map[string]*models.RefillSchedule{},
	}
	record := &models.PatientRecord{
		Prescriptions: []models.Prescription{
			{PatientID: "pat-1", MedicationID: "med-lis", DailyDoseMG: 20},
		},
	}
	meds := map[string]*models.Medication{
		"med-lis": {ID: "med-lis", UnitDoseMG: 10},
	}
	a := newRefillAgent(t, h, record, meds, day(12))

	due, err := a.ComputeSchedule(context.Background(), "pat-1")

	require.NoError(t, err)
	require.Len(t, due, 1)
	// 20mg/day at 10mg per unit consumes two units a day
	assert.InDelta(t, 2.0, due[0].DailyRate, 0.001)
	assert.True(t, due[0].DepletionDate.Equal(day(15)), "depletion %s", due[0].DepletionDate)
}

func TestComputeSchedule_NoRateSkipsMedication(t *testing.T) {
	h := &fakeHistory{
		medIDs: []string{"med-unknown"},
		fills: map[string][]models.FillRecord{
			"med-unknown": {fill("med-unknown", day(0), 30)},
		},
		prev: map[string]*models.RefillSchedule{},
	}
	a := newRefillAgent(t, h, &models.PatientRecord{}, nil, day(12))

	due, err := a.ComputeSchedule(context.Background(), "pat-1")

	require.NoError(t, err)
	assert.Empty(t, due)
	assert.Empty(t, h.upserts)
}

func TestComputeSchedule_DepletionNeverBeforeLastFill(t *testing.T) {
	h := &fakeHistory{
		medIDs: []string{"med-lis"},
		fills: map[string][]models.FillRecord{
			"med-lis": {
				fill("med-lis", day(0), 120),
				fill("med-lis", day(30), 0),
			},
		},
		prev: map[string]*models.RefillSchedule{},
	}
	a := newRefillAgent(t, h, &models.PatientRecord{}, nil, day(30))

	due, err := a.ComputeSchedule(context.Background(), "pat-1")

	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.False(t, due[0].DepletionDate.Before(day(30)))
}
