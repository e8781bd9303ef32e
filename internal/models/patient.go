// internal/models/patient.go
package models

import "time"

// Patient is the profile subset the pipeline needs.
type Patient struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Email    string  `json:"email,omitempty"`
	AgeYears int     `json:"ageYears"`
	WeightKG float64 `json:"weightKg"` // 0 when not on file
}

// Prescription is one active or lapsed prescription line.
type Prescription struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patientId"`
	MedicationID    string    `json:"medicationId"`
	QuantityPerFill int       `json:"quantityPerFill"`
	DailyDoseMG     float64   `json:"dailyDoseMg"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Expired reports whether the prescription lapsed before now.
func (p Prescription) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now)
}

// InteractionRule flags a known conflict between two medications.
type InteractionRule struct {
	MedicationA string `json:"medicationA"`
	MedicationB string `json:"medicationB"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Conflicts reports whether the rule covers the given pair, in either
// direction.
func (r InteractionRule) Conflicts(medA, medB string) bool {
	return (r.MedicationA == medA && r.MedicationB == medB) ||
		(r.MedicationA == medB && r.MedicationB == medA)
}

// PatientRecord bundles everything the safety agent evaluates against.
type PatientRecord struct {
	Patient           Patient           `json:"patient"`
	Prescriptions     []Prescription    `json:"prescriptions"`
	ActiveMedications []string          `json:"activeMedications"` // medication ids currently taken
	Interactions      []InteractionRule `json:"interactions"`
}

// PrescriptionFor returns the patient's prescription for a medication,
// or nil when none exists.
func (r PatientRecord) PrescriptionFor(medicationID string) *Prescription {
	for i := range r.Prescriptions {
		if r.Prescriptions[i].MedicationID == medicationID {
			return &r.Prescriptions[i]
		}
	}
	return nil
}
