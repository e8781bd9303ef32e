// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/models"
	"pharmacy-agents/internal/orchestrator"
	"pharmacy-agents/internal/store"
)

// RefillAgent is the on-demand recompute surface.
type RefillAgent interface {
	ComputeSchedule(ctx context.Context, patientID string) ([]models.RefillSchedule, error)
}

// HealthCheck pings one backing dependency for the health endpoint.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Server exposes the turn-taking API, order and inventory lookups, the
// refill surface, and the warehouse acknowledgement webhook.
type Server struct {
	orch      *orchestrator.Orchestrator
	orders    *store.OrderStore
	inventory *store.InventoryStore
	refills   *store.RefillStore
	refiller  RefillAgent
	checks    []HealthCheck
	logger    logger.Logger
}

func New(orch *orchestrator.Orchestrator, orders *store.OrderStore, inventory *store.InventoryStore, refills *store.RefillStore, refiller RefillAgent, log logger.Logger, checks ...HealthCheck) *Server {
	return &Server{
		orch:      orch,
		orders:    orders,
		inventory: inventory,
		refills:   refills,
		refiller:  refiller,
		checks:    checks,
		logger:    log.WithFields(map[string]interface{}{"component": "server"}),
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/turns", s.handleTurn)
		r.Post("/sessions/{sessionID}/cancel", s.handleCancel)

		r.Get("/orders/{orderID}", s.handleGetOrder)
		r.Get("/patients/{patientID}/orders", s.handleListOrders)
		r.Get("/inventory/{medicationID}", s.handleGetInventory)

		r.Get("/refills/{patientID}", s.handleListRefills)
		r.Post("/refills/{patientID}/recompute", s.handleRecomputeRefills)
		r.Post("/refills/{patientID}/{medicationID}/dismiss", s.handleDismissRefill)
		r.Post("/refills/{patientID}/{medicationID}/sent", s.handleMarkRefillSent)

		r.Post("/webhook/warehouse", s.handleWarehouseWebhook)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	for _, check := range s.checks {
		if err := check.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[check.Name] = err.Error()
			continue
		}
		body[check.Name] = "ok"
	}
	s.writeJSON(w, status, body)
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.SessionID == "" || req.PatientID == "" || req.Utterance == "" {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "sessionId, patientId and utterance are required")
		return
	}

	resp, err := s.orch.HandleTurn(r.Context(), req)
	if err != nil {
		s.writeStandardError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	resp, err := s.orch.Cancel(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeStandardError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeStandardError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.ListByPatient(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		s.writeStandardError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (s *Server) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	medicationID := chi.URLParam(r, "medicationID")
	item, err := s.inventory.Get(r.Context(), medicationID)
	if err != nil {
		s.writeStandardError(w, err)
		return
	}
	if item == nil {
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "no inventory record for "+medicationID)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleListRefills(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.refills.ListByPatient(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		s.writeStandardError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": schedules})
}

func (s *Server) handleRecomputeRefills(w http.ResponseWriter, r *http.Request) {
	due, err := s.refiller.ComputeSchedule(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		s.writeStandardError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"due": due})
}

func (s *Server) handleDismissRefill(w http.ResponseWriter, r *http.Request) {
	s.setRefillStatus(w, r, models.SuggestionDismissed)
}

func (s *Server) handleMarkRefillSent(w http.ResponseWriter, r *http.Request) {
	s.setRefillStatus(w, r, models.SuggestionSent)
}

func (s *Server) setRefillStatus(w http.ResponseWriter, r *http.Request, status models.SuggestionStatus) {
	patientID := chi.URLParam(r, "patientID")
	medicationID := chi.URLParam(r, "medicationID")
	if err := s.refills.SetStatus(r.Context(), patientID, medicationID, status); err != nil {
		s.writeStandardError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// handleWarehouseWebhook acknowledges dispatch from the warehouse side.
// Replays for an already-dispatched order are no-ops; committed stock
// is only moved once.
func (s *Server) handleWarehouseWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "orderId is required")
		return
	}

	order, err := s.orders.Get(r.Context(), req.OrderID)
	if err != nil {
		s.writeStandardError(w, err)
		return
	}
	if order.Status == models.OrderDispatched {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": string(order.Status)})
		return
	}

	if err := s.orders.Dispatch(r.Context(), order); err != nil {
		s.logger.Error("failed to dispatch order", map[string]interface{}{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		s.writeStandardError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(models.OrderDispatched)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeStandardError(w http.ResponseWriter, err error) {
	turnErr := stderrors.ToTurnError(err)
	s.writeJSONError(w, stderrors.HTTPStatus(err), turnErr)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSONError(w, status, &stderrors.TurnError{Code: code, Message: message})
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, turnErr *stderrors.TurnError) {
	s.writeJSON(w, status, map[string]interface{}{"error": turnErr})
}
