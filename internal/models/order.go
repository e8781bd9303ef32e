// internal/models/order.go
package models

import "time"

// CandidateItem is one requested medication line within an order
// candidate. Quantity 0 means the patient never specified one.
type CandidateItem struct {
	MedicationID   string  `json:"medicationId"`
	MedicationName string  `json:"medicationName"`
	Quantity       int     `json:"quantity"`
	DosageMG       float64 `json:"dosageMg"`    // per-dose strength
	DosesPerDay    float64 `json:"dosesPerDay"` // parsed from instructions
	RawTerm        string  `json:"rawTerm"`     // the patient's wording
	MatchScore     float64 `json:"matchScore"`  // catalog similarity
}

// OrderCandidate is the structured, not-yet-validated order produced by
// extraction. It is immutable once handed to the safety agent.
type OrderCandidate struct {
	PatientID       string          `json:"patientId"`
	Items           []CandidateItem `json:"items"`
	SourceUtterance string          `json:"sourceUtterance"`
	Ambiguous       bool            `json:"ambiguous"`
	UnresolvedTerms []string        `json:"unresolvedTerms,omitempty"`
	ExtractedAt     time.Time       `json:"extractedAt"`
}

// ClarificationRequest asks the patient for a specific missing or
// ambiguous field instead of guessing.
type ClarificationRequest struct {
	Field  string `json:"field"`
	Term   string `json:"term,omitempty"`
	Prompt string `json:"prompt"`
}

// Verdict outcomes.
type VerdictOutcome string

const (
	VerdictApproved           VerdictOutcome = "approved"
	VerdictRejected           VerdictOutcome = "rejected"
	VerdictNeedsClarification VerdictOutcome = "needs-clarification"
)

// Rule violation codes, in check order.
const (
	ViolationMissingPrescription = "missing-prescription"
	ViolationQuantityExceeded    = "quantity-exceeds-limit"
	ViolationInteractionConflict = "interaction-conflict"
	ViolationDosageExceeded      = "dosage-exceeded"
)

// RuleViolation is one failed policy check.
type RuleViolation struct {
	Code        string `json:"code"`
	Medication  string `json:"medication"`
	Detail      string `json:"detail"`
	MissingData bool   `json:"missingData"` // soft check failed on absent patient data
}

// SafetyVerdict is the immutable outcome of policy evaluation on one
// order candidate.
type SafetyVerdict struct {
	Candidate   *OrderCandidate `json:"candidate"`
	Outcome     VerdictOutcome  `json:"outcome"`
	Violations  []RuleViolation `json:"violations,omitempty"`
	Rationale   string          `json:"rationale"`
	EvaluatedAt time.Time       `json:"evaluatedAt"`
}

// Fulfillment order statuses. Transitions are monotonic in this listed
// order; failed is reachable from pending only.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderReserved   OrderStatus = "reserved"
	OrderDispatched OrderStatus = "dispatched"
	OrderFailed     OrderStatus = "failed"
)

var statusRank = map[OrderStatus]int{
	OrderPending:    0,
	OrderReserved:   1,
	OrderDispatched: 2,
}

// CanTransition reports whether an order status change is allowed.
// Regressions (dispatched back to pending) are not.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return false
	}
	if to == OrderFailed {
		return from == OrderPending
	}
	if from == OrderFailed {
		return false
	}
	return statusRank[to] > statusRank[from]
}

// OrderLine is an approved line item with its committed reservation.
type OrderLine struct {
	MedicationID   string `json:"medicationId"`
	MedicationName string `json:"medicationName"`
	Quantity       int    `json:"quantity"`
}

// FulfillmentOrder is a persisted, inventory-committed order record.
type FulfillmentOrder struct {
	ID                string      `json:"id"`
	PatientID         string      `json:"patientId"`
	Lines             []OrderLine `json:"lines"`
	Status            OrderStatus `json:"status"`
	WarehouseNotified bool        `json:"warehouseNotified"`
	FailureReason     string      `json:"failureReason,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}
