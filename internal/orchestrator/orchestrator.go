// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pharmacy-agents/internal/agents/safety"
	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/common/metrics"
	"pharmacy-agents/internal/common/observability"
	"pharmacy-agents/internal/common/retry"
	"pharmacy-agents/internal/common/tracing"
	"pharmacy-agents/internal/models"
)

// Sessions is the session persistence surface.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*models.ConversationSession, error)
	Put(ctx context.Context, session *models.ConversationSession) error
}

// Extractor is the extraction agent contract.
type Extractor interface {
	Extract(ctx context.Context, patientID string, turns []models.Turn) (*models.OrderCandidate, *models.ClarificationRequest, error)
}

// Evaluator is the safety agent contract.
type Evaluator interface {
	Evaluate(ctx context.Context, candidate *models.OrderCandidate, record *models.PatientRecord, meds safety.MedicationInfo) *models.SafetyVerdict
}

// Fulfiller is the fulfillment agent contract.
type Fulfiller interface {
	Fulfill(ctx context.Context, verdict *models.SafetyVerdict) (*models.FulfillmentOrder, error)
}

// Patients loads the record safety evaluates against.
type Patients interface {
	GetRecord(ctx context.Context, patientID string) (*models.PatientRecord, error)
}

// MedCatalog loads catalog entries for candidate items.
type MedCatalog interface {
	GetMedication(ctx context.Context, medicationID string) (*models.Medication, error)
}

// Orchestrator sequences the per-session pipeline: extraction, safety
// checking, fulfillment. It owns session state exclusively; fulfillment
// runs only behind an approved verdict.
type Orchestrator struct {
	config     *Config
	sessions   Sessions
	extractor  Extractor
	evaluator  Evaluator
	fulfiller  Fulfiller
	patients   Patients
	catalog    MedCatalog
	tracer     *tracing.Tracer
	obs        *observability.Observability
	retry      retry.Policy
	logger     logger.Logger
	sessionMus sync.Map // session id -> *sync.Mutex
}

func New(cfg *Config, sessions Sessions, extractor Extractor, evaluator Evaluator, fulfiller Fulfiller, patients Patients, catalog MedCatalog, tracer *tracing.Tracer, obs *observability.Observability, policy retry.Policy, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		config:    cfg,
		sessions:  sessions,
		extractor: extractor,
		evaluator: evaluator,
		fulfiller: fulfiller,
		patients:  patients,
		catalog:   catalog,
		tracer:    tracer,
		obs:       obs,
		retry:     policy,
		logger:    log.WithFields(map[string]interface{}{"component": "orchestrator"}),
	}
}

// lockSession serializes pipeline executions per session. Turns on
// different sessions run fully concurrently.
func (o *Orchestrator) lockSession(sessionID string) *sync.Mutex {
	mu, _ := o.sessionMus.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// HandleTurn drives one utterance through the pipeline and returns the
// caller-visible outcome. A second turn arriving while one is in flight
// for the same session queues behind it.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	mu := o.lockSession(req.SessionID)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	session, err := o.loadOrCreate(ctx, req)
	if err != nil {
		return nil, err
	}
	if session.Stage.IsTerminal() {
		return nil, stderrors.NewSessionTerminalError(session.ID, string(session.Stage))
	}

	session.AppendTurn("patient", req.Utterance)
	if o.config.MaxTurns > 0 && len(session.Turns) > o.config.MaxTurns {
		return o.abort(ctx, session, "conversation exceeded the turn limit, please start a new order")
	}

	resp, err := o.runPipeline(ctx, session)
	if err != nil {
		// the session stays resumable after a transient failure: the
		// next turn restarts the pipeline from collecting
		if !session.Stage.IsTerminal() {
			session.Stage = models.StageCollecting
		}
		if putErr := o.sessions.Put(ctx, session); putErr != nil {
			o.logger.Error("failed to persist session after pipeline error", map[string]interface{}{
				"sessionId": session.ID,
				"error":     putErr.Error(),
			})
		}
		return nil, err
	}

	session.AppendTurn("system", resp.Message)
	if err := o.sessions.Put(ctx, session); err != nil {
		return nil, err
	}

	o.obs.RecordTurnProcessed(ctx, string(session.Stage))
	o.obs.RecordTurnDuration(ctx, time.Since(start), string(session.Stage))
	return resp, nil
}

// Cancel aborts a session. Honored only between stages: the session
// lock means an in-flight pipeline finishes its current turn first.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) (*TurnResponse, error) {
	mu := o.lockSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, stderrors.NewSessionLoadFailedError(sessionID, errors.New("session not found"))
	}
	if session.Stage.IsTerminal() {
		return nil, stderrors.NewSessionTerminalError(sessionID, string(session.Stage))
	}

	return o.abort(ctx, session, "order cancelled")
}

func (o *Orchestrator) abort(ctx context.Context, session *models.ConversationSession, message string) (*TurnResponse, error) {
	if err := session.Advance(models.StageAborted); err != nil {
		return nil, err
	}
	session.AppendTurn("system", message)
	if err := o.sessions.Put(ctx, session); err != nil {
		return nil, err
	}
	return &TurnResponse{
		SessionID: session.ID,
		Stage:     session.Stage,
		Kind:      KindAborted,
		Message:   message,
	}, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, req TurnRequest) (*models.ConversationSession, error) {
	session, err := o.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		session = models.NewSession(req.SessionID, req.PatientID)
		metrics.SessionsActive.WithLabelValues(string(models.StageCollecting)).Inc()
	}
	return session, nil
}

// runPipeline executes the stage sequence for one turn. Clarifications
// re-enter collecting; a rejected verdict or a fulfillment outcome
// completes the session.
func (o *Orchestrator) runPipeline(ctx context.Context, session *models.ConversationSession) (*TurnResponse, error) {
	candidate, clarification, err := o.extractStage(ctx, session)
	if err != nil {
		return nil, err
	}
	if clarification != nil {
		if err := session.Advance(models.StageCollecting); err != nil {
			return nil, err
		}
		return &TurnResponse{
			SessionID:     session.ID,
			Stage:         session.Stage,
			Kind:          KindClarification,
			Message:       clarification.Prompt,
			Clarification: clarification,
		}, nil
	}

	verdict, err := o.safetyStage(ctx, session, candidate)
	if err != nil {
		return nil, err
	}

	switch verdict.Outcome {
	case models.VerdictRejected:
		if err := session.Advance(models.StageCompleted); err != nil {
			return nil, err
		}
		return &TurnResponse{
			SessionID: session.ID,
			Stage:     session.Stage,
			Kind:      KindRejected,
			Message:   verdict.Rationale,
			Verdict:   verdict,
		}, nil
	case models.VerdictNeedsClarification:
		if err := session.Advance(models.StageCollecting); err != nil {
			return nil, err
		}
		return &TurnResponse{
			SessionID: session.ID,
			Stage:     session.Stage,
			Kind:      KindClarification,
			Message:   verdict.Rationale,
			Verdict:   verdict,
		}, nil
	}

	return o.fulfillStage(ctx, session, verdict)
}

// extractStage runs extraction with retry inside a stage span. nil
// candidate with nil clarification never happens on success.
func (o *Orchestrator) extractStage(ctx context.Context, session *models.ConversationSession) (*models.OrderCandidate, *models.ClarificationRequest, error) {
	if err := session.Advance(models.StageExtracting); err != nil {
		return nil, nil, err
	}

	spanCtx, span := o.tracer.StartStage(ctx, "extracting", session.ID)
	defer span.End()
	start := time.Now()

	var (
		candidate     *models.OrderCandidate
		clarification *models.ClarificationRequest
	)
	err := o.retry.Do(spanCtx, "extraction", o.logger, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, o.config.StageTimeout)
		defer cancel()
		var callErr error
		candidate, clarification, callErr = o.extractor.Extract(ctx, session.PatientID, session.Turns)
		return callErr
	})
	o.finishStage(span, "extraction", start, err)
	if err != nil {
		return nil, nil, err
	}

	// an ambiguous candidate never reaches safety; it always pairs
	// with a clarification
	if clarification == nil && candidate != nil {
		session.Candidate = candidate
	}
	return candidate, clarification, nil
}

func (o *Orchestrator) safetyStage(ctx context.Context, session *models.ConversationSession, candidate *models.OrderCandidate) (*models.SafetyVerdict, error) {
	if err := session.Advance(models.StageSafetyChecking); err != nil {
		return nil, err
	}

	spanCtx, span := o.tracer.StartStage(ctx, "safety-checking", session.ID)
	defer span.End()
	start := time.Now()

	record, err := o.patients.GetRecord(spanCtx, candidate.PatientID)
	if err != nil {
		o.finishStage(span, "safety", start, err)
		return nil, err
	}

	meds := safety.MedicationInfo{}
	for _, item := range candidate.Items {
		med, err := o.catalog.GetMedication(spanCtx, item.MedicationID)
		if err != nil {
			o.finishStage(span, "safety", start, err)
			return nil, err
		}
		if med != nil {
			meds[item.MedicationID] = *med
		}
	}

	verdict := o.evaluator.Evaluate(spanCtx, candidate, record, meds)
	session.Verdict = verdict
	metrics.SafetyVerdicts.WithLabelValues(string(verdict.Outcome)).Inc()
	o.finishStage(span, "safety", start, nil)
	return verdict, nil
}

func (o *Orchestrator) fulfillStage(ctx context.Context, session *models.ConversationSession, verdict *models.SafetyVerdict) (*TurnResponse, error) {
	if err := session.Advance(models.StageFulfilling); err != nil {
		return nil, err
	}

	spanCtx, span := o.tracer.StartStage(ctx, "fulfilling", session.ID)
	defer span.End()
	start := time.Now()

	order, err := o.fulfiller.Fulfill(spanCtx, verdict)
	o.finishStage(span, "fulfillment", start, err)

	if err != nil {
		// inventory insufficiency is a user-visible fulfillment error:
		// the safety approval stands, the session completes with a
		// failed order
		if stderrors.IsCode(err, stderrors.ErrCodeInventoryInsufficient) {
			if advErr := session.Advance(models.StageCompleted); advErr != nil {
				return nil, advErr
			}
			if order != nil {
				session.OrderID = order.ID
			}
			return &TurnResponse{
				SessionID: session.ID,
				Stage:     session.Stage,
				Kind:      KindFulfillmentError,
				Message:   "we can't cover that order from current stock; the pharmacy team has been notified",
				Order:     order,
			}, nil
		}
		return nil, err
	}

	if err := session.Advance(models.StageCompleted); err != nil {
		return nil, err
	}
	session.OrderID = order.ID

	resp := &TurnResponse{
		SessionID: session.ID,
		Stage:     session.Stage,
		Order:     order,
	}
	if order.WarehouseNotified {
		resp.Kind = KindConfirmed
		resp.Message = "order " + order.ID + " is reserved and on its way to the warehouse"
	} else {
		resp.Kind = KindDelayed
		resp.Message = "order " + order.ID + " is accepted; fulfillment is delayed and will proceed automatically"
	}
	return resp, nil
}

// finishStage records span outcome and stage metrics. Tracing problems
// never abort the pipeline.
func (o *Orchestrator) finishStage(span trace.Span, agent string, start time.Time, err error) {
	elapsed := time.Since(start)
	metrics.AgentTurnDuration.WithLabelValues(agent).Observe(elapsed.Seconds())

	if err != nil {
		metrics.AgentTurnsFailed.WithLabelValues(agent, stderrors.ToTurnError(err).Code).Inc()
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("outcome", "error"))
		return
	}
	metrics.AgentTurnsCompleted.WithLabelValues(agent).Inc()
	span.SetAttributes(attribute.String("outcome", "ok"))
}
