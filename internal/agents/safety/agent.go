// internal/agents/safety/agent.go
package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/models"
)

// MedicationInfo is the catalog subset the checks need per line item,
// keyed by medication id.
type MedicationInfo map[string]models.Medication

// Agent evaluates an order candidate against medical policy. Checks run
// in a fixed order and all of them run every time, so the verdict
// carries the complete violation list; the first failing check supplies
// the headline rationale.
type Agent struct {
	config *Config
	logger logger.Logger
}

func NewAgent(cfg *Config, log logger.Logger) *Agent {
	return &Agent{
		config: cfg,
		logger: log.WithFields(map[string]interface{}{"agent": "safety"}),
	}
}

// Evaluate produces an immutable verdict for the candidate. The outcome
// is rejected on any actual violation, needs-clarification only when
// the sole failures are soft checks missing patient data, and approved
// when every check passes.
func (a *Agent) Evaluate(_ context.Context, candidate *models.OrderCandidate, record *models.PatientRecord, meds MedicationInfo) *models.SafetyVerdict {
	now := time.Now().UTC()
	var violations []models.RuleViolation

	for _, item := range candidate.Items {
		med := meds[item.MedicationID]

		if v := a.checkPrescription(item, med, record, now); v != nil {
			violations = append(violations, *v)
		}
		if v := a.checkQuantity(item, record); v != nil {
			violations = append(violations, *v)
		}
		if v := a.checkInteractions(item, record); v != nil {
			violations = append(violations, *v)
		}
		if v := a.checkDosage(item, med, record); v != nil {
			violations = append(violations, *v)
		}
	}

	outcome := outcomeFor(violations)
	verdict := &models.SafetyVerdict{
		Candidate:   candidate,
		Outcome:     outcome,
		Violations:  violations,
		Rationale:   rationaleFor(outcome, violations),
		EvaluatedAt: now,
	}

	a.logger.Info("safety verdict", map[string]interface{}{
		"patientId":  candidate.PatientID,
		"outcome":    string(outcome),
		"violations": len(violations),
	})
	return verdict
}

// Check 1 (hard): a valid, unexpired prescription must exist for
// prescription-required medications.
func (a *Agent) checkPrescription(item models.CandidateItem, med models.Medication, record *models.PatientRecord, now time.Time) *models.RuleViolation {
	if !med.PrescriptionRequired {
		return nil
	}
	rx := record.PrescriptionFor(item.MedicationID)
	if rx == nil {
		return &models.RuleViolation{
			Code:       models.ViolationMissingPrescription,
			Medication: item.MedicationName,
			Detail:     "no prescription on file for " + item.MedicationName,
		}
	}
	if rx.Expired(now) {
		return &models.RuleViolation{
			Code:       models.ViolationMissingPrescription,
			Medication: item.MedicationName,
			Detail:     fmt.Sprintf("prescription for %s expired on %s", item.MedicationName, rx.ExpiresAt.Format("2006-01-02")),
		}
	}
	return nil
}

// Check 2 (soft): requested quantity must not exceed the prescribed
// fill or the configured maximum. With no prescription to compare
// against, only the configured ceiling applies; a prescription-optional
// medication with no quantity baseline is flagged as missing data, not
// a violation.
func (a *Agent) checkQuantity(item models.CandidateItem, record *models.PatientRecord) *models.RuleViolation {
	if a.config.MaxQuantityPerOrder > 0 && item.Quantity > a.config.MaxQuantityPerOrder {
		return &models.RuleViolation{
			Code:       models.ViolationQuantityExceeded,
			Medication: item.MedicationName,
			Detail:     fmt.Sprintf("requested %d exceeds the per-order maximum of %d", item.Quantity, a.config.MaxQuantityPerOrder),
		}
	}
	rx := record.PrescriptionFor(item.MedicationID)
	if rx == nil {
		return nil
	}
	if rx.QuantityPerFill > 0 && item.Quantity > rx.QuantityPerFill {
		return &models.RuleViolation{
			Code:       models.ViolationQuantityExceeded,
			Medication: item.MedicationName,
			Detail:     fmt.Sprintf("requested %d exceeds the prescribed fill of %d", item.Quantity, rx.QuantityPerFill),
		}
	}
	return nil
}

// Check 3 (hard): no interaction conflict with the patient's active
// medications.
func (a *Agent) checkInteractions(item models.CandidateItem, record *models.PatientRecord) *models.RuleViolation {
	for _, active := range record.ActiveMedications {
		if active == item.MedicationID {
			continue
		}
		for _, rule := range record.Interactions {
			if rule.Conflicts(item.MedicationID, active) {
				return &models.RuleViolation{
					Code:       models.ViolationInteractionConflict,
					Medication: item.MedicationName,
					Detail:     fmt.Sprintf("%s conflicts with an active medication: %s", item.MedicationName, rule.Description),
				}
			}
		}
	}
	return nil
}

// Check 4 (soft): daily dose within policy limits. The weight-adjusted
// limit needs the patient's weight; when that is not on file the check
// reports missing data instead of a violation.
func (a *Agent) checkDosage(item models.CandidateItem, med models.Medication, record *models.PatientRecord) *models.RuleViolation {
	if item.DosageMG == 0 || item.DosesPerDay == 0 {
		return &models.RuleViolation{
			Code:        models.ViolationDosageExceeded,
			Medication:  item.MedicationName,
			Detail:      "dosage instructions incomplete; daily dose cannot be verified",
			MissingData: true,
		}
	}

	daily := item.DosageMG * item.DosesPerDay

	limit := a.config.MaxDailyDoseMG
	if med.MaxDailyDoseMG > 0 {
		limit = med.MaxDailyDoseMG
	}
	if limit > 0 && daily > limit {
		return &models.RuleViolation{
			Code:       models.ViolationDosageExceeded,
			Medication: item.MedicationName,
			Detail:     fmt.Sprintf("daily dose %.0fmg exceeds the limit of %.0fmg", daily, limit),
		}
	}

	if a.config.MaxDailyDosePerKgMG > 0 {
		if record.Patient.WeightKG == 0 {
			return &models.RuleViolation{
				Code:        models.ViolationDosageExceeded,
				Medication:  item.MedicationName,
				Detail:      "patient weight not on file; weight-adjusted dose cannot be verified",
				MissingData: true,
			}
		}
		if daily > a.config.MaxDailyDosePerKgMG*record.Patient.WeightKG {
			return &models.RuleViolation{
				Code:       models.ViolationDosageExceeded,
				Medication: item.MedicationName,
				Detail:     fmt.Sprintf("daily dose %.0fmg exceeds the weight-adjusted limit", daily),
			}
		}
	}
	return nil
}

// outcomeFor distinguishes actual violations from soft checks that
// failed only because patient data is absent. Any actual violation
// rejects; missing data alone asks for clarification.
func outcomeFor(violations []models.RuleViolation) models.VerdictOutcome {
	if len(violations) == 0 {
		return models.VerdictApproved
	}
	for _, v := range violations {
		if !v.MissingData {
			return models.VerdictRejected
		}
	}
	return models.VerdictNeedsClarification
}

func rationaleFor(outcome models.VerdictOutcome, violations []models.RuleViolation) string {
	switch outcome {
	case models.VerdictApproved:
		return "all safety checks passed"
	case models.VerdictNeedsClarification:
		return "additional information needed: " + violations[0].Detail
	default:
		details := make([]string, 0, len(violations))
		for _, v := range violations {
			if !v.MissingData {
				details = append(details, v.Detail)
			}
		}
		return "order rejected: " + strings.Join(details, "; ")
	}
}
