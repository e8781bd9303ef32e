// internal/models/refill.go
package models

import "time"

// Refill suggestion statuses.
type SuggestionStatus string

const (
	SuggestionPending   SuggestionStatus = "pending"
	SuggestionSent      SuggestionStatus = "sent"
	SuggestionDismissed SuggestionStatus = "dismissed"
)

// FillRecord is one historical dispense event for a patient/medication
// pair, ordered by FilledAt.
type FillRecord struct {
	PatientID    string    `json:"patientId"`
	MedicationID string    `json:"medicationId"`
	Quantity     int       `json:"quantity"`
	FilledAt     time.Time `json:"filledAt"`
}

// RefillSchedule is a predicted refill need, keyed by
// (patient, medication). Depletion dates are never back-dated below the
// last confirmed refill.
type RefillSchedule struct {
	PatientID      string           `json:"patientId"`
	MedicationID   string           `json:"medicationId"`
	DepletionDate  time.Time        `json:"depletionDate"`
	DailyRate      float64          `json:"dailyRate"` // units consumed per day
	Status         SuggestionStatus `json:"status"`
	LastComputedAt time.Time        `json:"lastComputedAt"`
	LastFillDate   time.Time        `json:"lastFillDate"`
}

// Key returns the (patient, medication) identity of the schedule.
func (r RefillSchedule) Key() string {
	return r.PatientID + ":" + r.MedicationID
}
