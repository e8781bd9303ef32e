// internal/orchestrator/models.go
package orchestrator

import "pharmacy-agents/internal/models"

// ResponseKind tags what a turn produced.
type ResponseKind string

const (
	// KindClarification asks the patient for a specific missing field.
	KindClarification ResponseKind = "clarification"
	// KindRejected surfaces a safety rejection with its rationale.
	KindRejected ResponseKind = "rejected"
	// KindConfirmed reports a reserved order.
	KindConfirmed ResponseKind = "confirmed"
	// KindDelayed reports a reserved order whose warehouse handoff is
	// still pending ("order accepted, fulfillment delayed").
	KindDelayed ResponseKind = "delayed"
	// KindFulfillmentError reports an order that could not be covered
	// by inventory. Distinct from a safety rejection.
	KindFulfillmentError ResponseKind = "fulfillment-error"
	// KindAborted acknowledges an explicit cancellation.
	KindAborted ResponseKind = "aborted"
)

// TurnRequest is one inbound utterance for a session.
type TurnRequest struct {
	SessionID string `json:"sessionId"`
	PatientID string `json:"patientId"`
	Utterance string `json:"utterance"`
}

// TurnResponse is the caller-visible outcome of one turn.
type TurnResponse struct {
	SessionID     string                       `json:"sessionId"`
	Stage         models.Stage                 `json:"stage"`
	Kind          ResponseKind                 `json:"kind"`
	Message       string                       `json:"message"`
	Clarification *models.ClarificationRequest `json:"clarification,omitempty"`
	Verdict       *models.SafetyVerdict        `json:"verdict,omitempty"`
	Order         *models.FulfillmentOrder     `json:"order,omitempty"`
}
