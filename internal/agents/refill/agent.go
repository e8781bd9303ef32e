// internal/agents/refill/agent.go
package refill

import (
	"context"
	"time"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/common/metrics"
	"pharmacy-agents/internal/models"
)

// History reads fill records and persisted schedules.
type History interface {
	FillHistory(ctx context.Context, patientID, medicationID string) ([]models.FillRecord, error)
	MedicationsWithHistory(ctx context.Context, patientID string) ([]string, error)
	Get(ctx context.Context, patientID, medicationID string) (*models.RefillSchedule, error)
	Upsert(ctx context.Context, sched *models.RefillSchedule) error
}

// Prescriptions provides the prescribed daily dose fallback when fill
// history is too thin to estimate a rate.
type Prescriptions interface {
	GetRecord(ctx context.Context, patientID string) (*models.PatientRecord, error)
}

// Medications resolves unit dose strength for rate conversion.
type Medications interface {
	GetMedication(ctx context.Context, medicationID string) (*models.Medication, error)
}

// Agent predicts refill due dates from consumption history. It runs
// independently of live conversations, on a schedule or on demand.
type Agent struct {
	config        *Config
	history       History
	prescriptions Prescriptions
	medications   Medications
	logger        logger.Logger
	now           func() time.Time
}

func NewAgent(cfg *Config, history History, prescriptions Prescriptions, medications Medications, log logger.Logger) *Agent {
	return &Agent{
		config:        cfg,
		history:       history,
		prescriptions: prescriptions,
		medications:   medications,
		logger:        log.WithFields(map[string]interface{}{"agent": "refill"}),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ComputeSchedule recomputes every (patient, medication) schedule for
// one patient and returns the schedules whose suggestion should be
// surfaced now. Schedules already sent are re-emitted only when the
// projection moved by more than the configured tolerance.
func (a *Agent) ComputeSchedule(ctx context.Context, patientID string) ([]models.RefillSchedule, error) {
	medIDs, err := a.history.MedicationsWithHistory(ctx, patientID)
	if err != nil {
		return nil, stderrors.NewRefillComputeFailedError(patientID, err)
	}

	record, err := a.prescriptions.GetRecord(ctx, patientID)
	if err != nil {
		return nil, err
	}

	var due []models.RefillSchedule
	for _, medID := range medIDs {
		sched, emit, err := a.computeOne(ctx, patientID, medID, record)
		if err != nil {
			return nil, err
		}
		if sched == nil {
			continue
		}
		if err := a.history.Upsert(ctx, sched); err != nil {
			return nil, err
		}
		if emit {
			due = append(due, *sched)
		}
	}

	a.logger.Info("refill schedules computed", map[string]interface{}{
		"patientId":   patientID,
		"medications": len(medIDs),
		"due":         len(due),
	})
	return due, nil
}

// computeOne projects depletion for one medication. Returns the
// refreshed schedule and whether its suggestion should be emitted.
func (a *Agent) computeOne(ctx context.Context, patientID, medID string, record *models.PatientRecord) (*models.RefillSchedule, bool, error) {
	fills, err := a.history.FillHistory(ctx, patientID, medID)
	if err != nil {
		return nil, false, err
	}
	if len(fills) == 0 {
		return nil, false, nil
	}
	lastFill := fills[len(fills)-1]

	rate, err := a.estimateRate(ctx, fills, medID, record)
	if err != nil {
		return nil, false, err
	}
	if rate <= 0 {
		return nil, false, nil
	}

	supplyDays := float64(lastFill.Quantity) / rate
	depletion := lastFill.FilledAt.Add(time.Duration(supplyDays * 24 * float64(time.Hour)))
	// never project depletion before the last confirmed refill
	if depletion.Before(lastFill.FilledAt) {
		depletion = lastFill.FilledAt
	}

	now := a.now()
	sched := &models.RefillSchedule{
		PatientID:      patientID,
		MedicationID:   medID,
		DepletionDate:  depletion,
		DailyRate:      rate,
		Status:         models.SuggestionPending,
		LastComputedAt: now,
		LastFillDate:   lastFill.FilledAt,
	}

	prev, err := a.history.Get(ctx, patientID, medID)
	if err != nil {
		return nil, false, err
	}

	inWindow := !depletion.After(now.AddDate(0, 0, a.config.LeadTimeDays))
	if prev == nil {
		return sched, a.emit(inWindow, "new"), nil
	}

	switch prev.Status {
	case models.SuggestionDismissed:
		// a dismissal sticks until a newer fill restarts the cycle
		if !lastFill.FilledAt.After(prev.LastFillDate) {
			sched.Status = models.SuggestionDismissed
			return sched, false, nil
		}
		return sched, a.emit(inWindow, "new"), nil
	case models.SuggestionSent:
		shift := depletion.Sub(prev.DepletionDate)
		if shift < 0 {
			shift = -shift
		}
		if shift <= time.Duration(a.config.ToleranceDays)*24*time.Hour {
			sched.Status = models.SuggestionSent
			return sched, false, nil
		}
		return sched, a.emit(inWindow, "shifted"), nil
	default:
		return sched, a.emit(inWindow, "new"), nil
	}
}

func (a *Agent) emit(inWindow bool, reason string) bool {
	if inWindow {
		metrics.RefillSuggestionsEmitted.WithLabelValues(reason).Inc()
	}
	return inWindow
}

// estimateRate derives units consumed per day. With two or more fills
// the rate comes from observed refill intervals; otherwise it falls
// back to the prescribed daily dose divided by unit strength.
func (a *Agent) estimateRate(ctx context.Context, fills []models.FillRecord, medID string, record *models.PatientRecord) (float64, error) {
	if len(fills) >= 2 {
		var consumed int
		for _, f := range fills[:len(fills)-1] {
			consumed += f.Quantity
		}
		elapsed := fills[len(fills)-1].FilledAt.Sub(fills[0].FilledAt)
		if days := elapsed.Hours() / 24; days > 0 {
			return float64(consumed) / days, nil
		}
	}

	if record != nil {
		if rx := record.PrescriptionFor(medID); rx != nil && rx.DailyDoseMG > 0 {
			med, err := a.medications.GetMedication(ctx, medID)
			if err != nil {
				return 0, err
			}
			if med != nil && med.UnitDoseMG > 0 {
				return rx.DailyDoseMG / med.UnitDoseMG, nil
			}
		}
	}
	return 0, nil
}
