// internal/agents/refill/runner.go
package refill

import (
	"context"
	"time"

	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/models"
)

// PatientLister enumerates patients to recompute.
type PatientLister interface {
	PatientsWithHistory(ctx context.Context) ([]string, error)
}

// Runner recomputes refill schedules for every patient on a fixed
// interval and hands due suggestions to the sender. One failed patient
// never stops the sweep.
type Runner struct {
	config  *Config
	agent   *Agent
	lister  PatientLister
	sender  SuggestionSender
	catalog Medications
	logger  logger.Logger
}

func NewRunner(cfg *Config, agent *Agent, lister PatientLister, sender SuggestionSender, catalog Medications, log logger.Logger) *Runner {
	return &Runner{
		config:  cfg,
		agent:   agent,
		lister:  lister,
		sender:  sender,
		catalog: catalog,
		logger:  log.WithFields(map[string]interface{}{"component": "refill-runner"}),
	}
}

// Run sweeps until the context is cancelled. The first sweep happens
// immediately on start.
func (r *Runner) Run(ctx context.Context) {
	r.Sweep(ctx)

	ticker := time.NewTicker(r.config.RecomputeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep recomputes all patients once.
func (r *Runner) Sweep(ctx context.Context) {
	patients, err := r.lister.PatientsWithHistory(ctx)
	if err != nil {
		r.logger.Error("failed to list patients for refill sweep", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	for _, patientID := range patients {
		if ctx.Err() != nil {
			return
		}
		r.sweepPatient(ctx, patientID)
	}
}

func (r *Runner) sweepPatient(ctx context.Context, patientID string) {
	due, err := r.agent.ComputeSchedule(ctx, patientID)
	if err != nil {
		r.logger.Error("refill recompute failed", map[string]interface{}{
			"patientId": patientID,
			"error":     err.Error(),
		})
		return
	}
	if len(due) == 0 {
		return
	}

	record, err := r.agent.prescriptions.GetRecord(ctx, patientID)
	if err != nil {
		r.logger.Error("failed to load patient for suggestion", map[string]interface{}{
			"patientId": patientID,
			"error":     err.Error(),
		})
		return
	}

	for _, sched := range due {
		name := r.medicationName(ctx, sched)
		if err := r.sender.Send(ctx, record.Patient, sched, name); err != nil {
			r.logger.Error("failed to send refill suggestion", map[string]interface{}{
				"patientId":    patientID,
				"medicationId": sched.MedicationID,
				"error":        err.Error(),
			})
		}
	}
}

func (r *Runner) medicationName(ctx context.Context, sched models.RefillSchedule) string {
	med, err := r.catalog.GetMedication(ctx, sched.MedicationID)
	if err != nil || med == nil {
		return sched.MedicationID
	}
	return med.Name
}
