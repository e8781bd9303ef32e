// internal/models/session.go
package models

import (
	"fmt"
	"time"
)

// Stage is the pipeline stage a conversation session is currently in.
type Stage string

const (
	StageCollecting     Stage = "collecting"
	StageExtracting     Stage = "extracting"
	StageSafetyChecking Stage = "safety-checking"
	StageFulfilling     Stage = "fulfilling"
	StageCompleted      Stage = "completed"
	StageAborted        Stage = "aborted"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageAborted
}

// validTransitions encodes the session state machine. Clarification
// re-enters collecting from extracting or safety-checking; terminal
// stages have no outgoing edges.
var validTransitions = map[Stage][]Stage{
	StageCollecting:     {StageExtracting, StageAborted},
	StageExtracting:     {StageSafetyChecking, StageCollecting, StageAborted},
	StageSafetyChecking: {StageFulfilling, StageCollecting, StageCompleted, StageAborted},
	StageFulfilling:     {StageCompleted, StageAborted},
	StageCompleted:      {},
	StageAborted:        {},
}

// Turn is one utterance/reply pair in a conversation.
type Turn struct {
	Role      string    `json:"role"` // "patient" or "system"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationSession holds per-session pipeline state. It is owned and
// mutated exclusively by the orchestrator.
type ConversationSession struct {
	ID        string          `json:"id"`
	PatientID string          `json:"patientId"`
	Stage     Stage           `json:"stage"`
	Turns     []Turn          `json:"turns"`
	Candidate *OrderCandidate `json:"candidate,omitempty"` // accumulated, possibly partial
	Verdict   *SafetyVerdict  `json:"verdict,omitempty"`
	OrderID   string          `json:"orderId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewSession creates a session in the collecting stage.
func NewSession(id, patientID string) *ConversationSession {
	now := time.Now().UTC()
	return &ConversationSession{
		ID:        id,
		PatientID: patientID,
		Stage:     StageCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the session to the target stage, enforcing the state
// machine edges. Terminal stages reject every transition.
func (s *ConversationSession) Advance(to Stage) error {
	for _, next := range validTransitions[s.Stage] {
		if next == to {
			s.Stage = to
			s.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid stage transition %s -> %s", s.Stage, to)
}

// AppendTurn records one turn in the session history.
func (s *ConversationSession) AppendTurn(role, text string) {
	s.Turns = append(s.Turns, Turn{
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
}
