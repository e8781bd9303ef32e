// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy-agents/internal/agents/safety"
	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/common/retry"
	"pharmacy-agents/internal/common/tracing"
	"pharmacy-agents/internal/models"
)

type memSessions struct {
	store map[string]*models.ConversationSession
}

func (m *memSessions) Get(_ context.Context, sessionID string) (*models.ConversationSession, error) {
	return m.store[sessionID], nil
}

func (m *memSessions) Put(_ context.Context, session *models.ConversationSession) error {
	if m.store == nil {
		m.store = map[string]*models.ConversationSession{}
	}
	m.store[session.ID] = session
	return nil
}

type fakeExtractor struct {
	candidate     *models.OrderCandidate
	clarification *models.ClarificationRequest
	err           error
	calls         int
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, _ []models.Turn) (*models.OrderCandidate, *models.ClarificationRequest, error) {
	f.calls++
	return f.candidate, f.clarification, f.err
}

type fakeEvaluator struct {
	verdict *models.SafetyVerdict
	calls   int
}

func (f *fakeEvaluator) Evaluate(_ context.Context, candidate *models.OrderCandidate, _ *models.PatientRecord, _ safety.MedicationInfo) *models.SafetyVerdict {
	f.calls++
	f.verdict.Candidate = candidate
	return f.verdict
}

type fakeFulfiller struct {
	order *models.FulfillmentOrder
	err   error
	calls int
}

func (f *fakeFulfiller) Fulfill(_ context.Context, _ *models.SafetyVerdict) (*models.FulfillmentOrder, error) {
	f.calls++
	return f.order, f.err
}

type fakePatients struct{}

func (fakePatients) GetRecord(_ context.Context, patientID string) (*models.PatientRecord, error) {
	return &models.PatientRecord{Patient: models.Patient{ID: patientID}}, nil
}

type fakeCatalog struct{}

func (fakeCatalog) GetMedication(_ context.Context, medicationID string) (*models.Medication, error) {
	return &models.Medication{ID: medicationID, Name: medicationID}, nil
}

type fixture struct {
	orch      *Orchestrator
	sessions  *memSessions
	extractor *fakeExtractor
	evaluator *fakeEvaluator
	fulfiller *fakeFulfiller
}

func newFixture(t *testing.T, extractor *fakeExtractor, evaluator *fakeEvaluator, fulfiller *fakeFulfiller) *fixture {
	sessions := &memSessions{store: map[string]*models.ConversationSession{}}
	policy := retry.Policy{MaxAttempts: 1}
	orch := New(LoadConfig(), sessions, extractor, evaluator, fulfiller,
		fakePatients{}, fakeCatalog{}, tracing.NewNoop(), nil, policy, logger.NewTestLogger(t))
	return &fixture{orch: orch, sessions: sessions, extractor: extractor, evaluator: evaluator, fulfiller: fulfiller}
}

func candidateFor(patientID string) *models.OrderCandidate {
	return &models.OrderCandidate{
		PatientID: patientID,
		Items: []models.CandidateItem{
			{MedicationID: "med-lis", MedicationName: "Lisinopril", Quantity: 30, DosageMG: 10},
		},
		ExtractedAt: time.Now().UTC(),
	}
}

func verdictWith(outcome models.VerdictOutcome, rationale string) *models.SafetyVerdict {
	return &models.SafetyVerdict{Outcome: outcome, Rationale: rationale, EvaluatedAt: time.Now().UTC()}
}

func turn(sessionID string) TurnRequest {
	return TurnRequest{SessionID: sessionID, PatientID: "pat-1", Utterance: "refill my lisinopril, 30 tablets"}
}

func TestHandleTurn_ClarificationReturnsToCollecting(t *testing.T) {
	f := newFixture(t,
		&fakeExtractor{clarification: &models.ClarificationRequest{Field: "quantity", Prompt: "How many units?"}},
		&fakeEvaluator{}, &fakeFulfiller{})

	resp, err := f.orch.HandleTurn(context.Background(), turn("sess-1"))

	require.NoError(t, err)
	assert.Equal(t, KindClarification, resp.Kind)
	assert.Equal(t, models.StageCollecting, resp.Stage)
	assert.Equal(t, "How many units?", resp.Message)
	// safety and fulfillment never ran
	assert.Zero(t, f.evaluator.calls)
	assert.Zero(t, f.fulfiller.calls)

	saved := f.sessions.store["sess-1"]
	require.NotNil(t, saved)
	assert.Equal(t, models.StageCollecting, saved.Stage)
	// patient turn plus the clarification prompt
	assert.Len(t, saved.Turns, 2)
}

func TestHandleTurn_RejectedVerdictCompletesWithoutFulfillment(t *testing.T) {
	f := newFixture(t,
		&fakeExtractor{candidate: candidateFor("pat-1")},
		&fakeEvaluator{verdict: verdictWith(models.VerdictRejected, "no valid prescription for Lisinopril")},
		&fakeFulfiller{})

	resp, err := f.orch.HandleTurn(context.Background(), turn("sess-1"))

	require.NoError(t, err)
	assert.Equal(t, KindRejected, resp.Kind)
	assert.Equal(t, models.StageCompleted, resp.Stage)
	assert.Equal(t, "no valid prescription for Lisinopril", resp.Message)
	assert.Zero(t, f.fulfiller.calls)
	assert.True(t, f.sessions.store["sess-1"].Stage.IsTerminal())
}

func TestHandleTurn_ApprovedVerdictFulfills(t *testing.T) {
	order := &models.FulfillmentOrder{ID: "ORD-1", Status: models.OrderReserved, WarehouseNotified: true}
	f := newFixture(t,
		&fakeExtractor{candidate: candidateFor("pat-1")},
		&fakeEvaluator{verdict: verdictWith(models.VerdictApproved, "all safety checks passed")},
		&fakeFulfiller{order: order})

	resp, err := f.orch.HandleTurn(context.Background(), turn("sess-1"))

	require.NoError(t, err)
	assert.Equal(t, KindConfirmed, resp.Kind)
	assert.Equal(t, models.StageCompleted, resp.Stage)
	assert.Equal(t, 1, f.fulfiller.calls)
	assert.Equal(t, "ORD-1", f.sessions.store["sess-1"].OrderID)
}

func TestHandleTurn_DelayedWhenWarehouseUnnotified(t *testing.T) {
	order := &models.FulfillmentOrder{ID: "ORD-1", Status: models.OrderReserved, WarehouseNotified: false}
	f := newFixture(t,
		&fakeExtractor{candidate: candidateFor("pat-1")},
		&fakeEvaluator{verdict: verdictWith(models.VerdictApproved, "all safety checks passed")},
		&fakeFulfiller{order: order})

	resp, err := f.orch.HandleTurn(context.Background(), turn("sess-1"))

	require.NoError(t, err)
	assert.Equal(t, KindDelayed, resp.Kind)
	assert.Equal(t, models.StageCompleted, resp.Stage)
}

func TestHandleTurn_InventoryShortfallCompletesWithError(t *testing.T) {
	failed := &models.FulfillmentOrder{ID: "ORD-1", Status: models.OrderFailed}
	f := newFixture(t,
		&fakeExtractor{candidate: candidateFor("pat-1")},
		&fakeEvaluator{verdict: verdictWith(models.VerdictApproved, "all safety checks passed")},
		&fakeFulfiller{order: failed, err: stderrors.NewInventoryInsufficientError("med-lis", 30)})

	resp, err := f.orch.HandleTurn(context.Background(), turn("sess-1"))

	require.NoError(t, err)
	assert.Equal(t, KindFulfillmentError, resp.Kind)
	assert.Equal(t, models.StageCompleted, resp.Stage)
	require.NotNil(t, resp.Order)
	assert.Equal(t, models.OrderFailed, resp.Order.Status)
}

func TestHandleTurn_TransientFailureKeepsSessionResumable(t *testing.T) {
	extractor := &fakeExtractor{err: stderrors.NewExtractionBackendFailedError(assertErr{})}
	f := newFixture(t, extractor, &fakeEvaluator{}, &fakeFulfiller{})

	_, err := f.orch.HandleTurn(context.Background(), turn("sess-1"))
	require.Error(t, err)

	saved := f.sessions.store["sess-1"]
	require.NotNil(t, saved)
	assert.Equal(t, models.StageCollecting, saved.Stage)

	// the next turn runs the pipeline again from the start
	extractor.err = nil
	extractor.clarification = &models.ClarificationRequest{Field: "medication", Prompt: "Which medication?"}

	resp, err := f.orch.HandleTurn(context.Background(), turn("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, KindClarification, resp.Kind)
}

type assertErr struct{}

func (assertErr) Error() string { return "backend unavailable" }

func TestHandleTurn_TerminalSessionRejectsFurtherTurns(t *testing.T) {
	f := newFixture(t, &fakeExtractor{}, &fakeEvaluator{}, &fakeFulfiller{})
	done := models.NewSession("sess-1", "pat-1")
	done.Stage = models.StageCompleted
	require.NoError(t, f.sessions.Put(context.Background(), done))

	_, err := f.orch.HandleTurn(context.Background(), turn("sess-1"))

	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeSessionTerminal))
	assert.Zero(t, f.extractor.calls)
}

func TestCancel_AbortsActiveSession(t *testing.T) {
	f := newFixture(t, &fakeExtractor{}, &fakeEvaluator{}, &fakeFulfiller{})
	require.NoError(t, f.sessions.Put(context.Background(), models.NewSession("sess-1", "pat-1")))

	resp, err := f.orch.Cancel(context.Background(), "sess-1")

	require.NoError(t, err)
	assert.Equal(t, KindAborted, resp.Kind)
	assert.Equal(t, models.StageAborted, resp.Stage)
	assert.True(t, f.sessions.store["sess-1"].Stage.IsTerminal())
}

func TestCancel_UnknownSession(t *testing.T) {
	f := newFixture(t, &fakeExtractor{}, &fakeEvaluator{}, &fakeFulfiller{})

	_, err := f.orch.Cancel(context.Background(), "missing")

	require.Error(t, err)
}

func TestHandleTurn_TurnLimitAborts(t *testing.T) {
	f := newFixture(t, &fakeExtractor{}, &fakeEvaluator{}, &fakeFulfiller{})
	session := models.NewSession("sess-1", "pat-1")
	for i := 0; i < f.orch.config.MaxTurns; i++ {
		session.AppendTurn("patient", "hello")
	}
	require.NoError(t, f.sessions.Put(context.Background(), session))

	resp, err := f.orch.HandleTurn(context.Background(), turn("sess-1"))

	require.NoError(t, err)
	assert.Equal(t, KindAborted, resp.Kind)
	assert.Zero(t, f.extractor.calls)
}
