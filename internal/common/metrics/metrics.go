// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AgentTurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_turns_completed_total",
			Help: "Total number of turns completed per agent",
		},
		[]string{"agent"},
	)

	AgentTurnsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_turns_failed_total",
			Help: "Total number of turns failed per agent",
		},
		[]string{"agent", "error_code"},
	)

	AgentTurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "agent_turn_duration_seconds",
			Help: "Duration of agent stage processing in seconds",
		},
		[]string{"agent"},
	)

	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of sessions currently in a non-terminal stage",
		},
		[]string{"stage"},
	)

	SafetyVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safety_verdicts_total",
			Help: "Total number of safety verdicts by outcome",
		},
		[]string{"verdict"},
	)

	InventoryReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_reservations_total",
			Help: "Total number of inventory reservation attempts",
		},
		[]string{"result"},
	)

	WarehouseNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_notifications_total",
			Help: "Total number of warehouse notification attempts",
		},
		[]string{"result"},
	)

	RefillSuggestionsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refill_suggestions_emitted_total",
			Help: "Total number of refill suggestions emitted",
		},
		[]string{"reason"},
	)
)
