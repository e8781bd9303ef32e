// internal/models/medication.go
package models

// Medication is one catalog entry.
type Medication struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Aliases              []string `json:"aliases,omitempty"` // brand and common names
	UnitDoseMG           float64  `json:"unitDoseMg"`
	PrescriptionRequired bool     `json:"prescriptionRequired"`
	MaxDailyDoseMG       float64  `json:"maxDailyDoseMg"` // 0 means use the global policy limit
}

// InventoryItem tracks stock for one medication. reserved never exceeds
// on-hand; any reservation that would break that is rejected atomically
// at the store layer.
type InventoryItem struct {
	MedicationID string `json:"medicationId"`
	OnHand       int    `json:"onHand"`
	Reserved     int    `json:"reserved"`
}

// Available returns the unreserved stock.
func (i InventoryItem) Available() int {
	return i.OnHand - i.Reserved
}
