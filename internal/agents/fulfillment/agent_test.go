// internal/agents/fulfillment/agent_test.go
package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/models"
	"pharmacy-agents/internal/store"
)

type fakeInventory struct {
	reserveErr error
	reserved   [][]models.OrderLine
}

func (f *fakeInventory) ReserveAll(_ context.Context, lines []models.OrderLine) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reserved = append(f.reserved, lines)
	return nil
}

type fakeOrders struct {
	created  []*models.FulfillmentOrder
	notified map[string]bool
}

func (f *fakeOrders) Create(_ context.Context, order *models.FulfillmentOrder) error {
	f.created = append(f.created, order)
	return nil
}

func (f *fakeOrders) MarkWarehouseNotified(_ context.Context, orderID string) (bool, error) {
	if f.notified == nil {
		f.notified = map[string]bool{}
	}
	if f.notified[orderID] {
		return false, nil
	}
	f.notified[orderID] = true
	return true, nil
}

func (f *fakeOrders) Get(_ context.Context, orderID string) (*models.FulfillmentOrder, error) {
	for _, o := range f.created {
		if o.ID == orderID {
			o.WarehouseNotified = f.notified[orderID]
			return o, nil
		}
	}
	return nil, stderrors.NewOrderNotFoundError(orderID)
}

type fakeNotifier struct {
	err   error
	calls []string
}

func (f *fakeNotifier) Notify(_ context.Context, order *models.FulfillmentOrder) error {
	f.calls = append(f.calls, order.ID)
	return f.err
}

type fakeQueue struct {
	entries []store.RetryEntry
}

func (f *fakeQueue) Push(_ context.Context, entry store.RetryEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeQueue) Pop(_ context.Context) (*store.RetryEntry, error) {
	if len(f.entries) == 0 {
		return nil, nil
	}
	entry := f.entries[0]
	f.entries = f.entries[1:]
	return &entry, nil
}

func approvedVerdict(items ...models.CandidateItem) *models.SafetyVerdict {
	return &models.SafetyVerdict{
		Candidate: &models.OrderCandidate{
			PatientID:   "pat-1",
			Items:       items,
			ExtractedAt: time.Now().UTC(),
		},
		Outcome:     models.VerdictApproved,
		Rationale:   "all safety checks passed",
		EvaluatedAt: time.Now().UTC(),
	}
}

func item(medID string, qty int) models.CandidateItem {
	return models.CandidateItem{MedicationID: medID, MedicationName: medID, Quantity: qty}
}

func newTestAgent(t *testing.T, inv *fakeInventory, orders *fakeOrders, notifier *fakeNotifier, queue *fakeQueue) *Agent {
	return NewAgent(LoadConfig(), inv, orders, notifier, queue, logger.NewTestLogger(t))
}

func TestAgent_Fulfill_Success(t *testing.T) {
	inv := &fakeInventory{}
	orders := &fakeOrders{}
	notifier := &fakeNotifier{}
	queue := &fakeQueue{}
	a := newTestAgent(t, inv, orders, notifier, queue)

	order, err := a.Fulfill(context.Background(), approvedVerdict(item("med-x", 3)))

	require.NoError(t, err)
	assert.Equal(t, models.OrderReserved, order.Status)
	assert.True(t, order.WarehouseNotified)
	assert.Len(t, inv.reserved, 1)
	assert.Len(t, orders.created, 1)
	assert.Len(t, notifier.calls, 1)
	assert.Empty(t, queue.entries)
}

func TestAgent_Fulfill_RejectsUnapprovedVerdict(t *testing.T) {
	a := newTestAgent(t, &fakeInventory{}, &fakeOrders{}, &fakeNotifier{}, &fakeQueue{})

	for _, outcome := range []models.VerdictOutcome{models.VerdictRejected, models.VerdictNeedsClarification} {
		v := approvedVerdict(item("med-x", 1))
		v.Outcome = outcome

		_, err := a.Fulfill(context.Background(), v)

		require.Error(t, err)
		assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeVerdictNotApproved))
	}
}

func TestAgent_Fulfill_InsufficientInventoryPersistsFailedOrder(t *testing.T) {
	inv := &fakeInventory{reserveErr: stderrors.NewInventoryInsufficientError("med-x", 10)}
	orders := &fakeOrders{}
	notifier := &fakeNotifier{}
	a := newTestAgent(t, inv, orders, notifier, &fakeQueue{})

	order, err := a.Fulfill(context.Background(), approvedVerdict(item("med-x", 10)))

	require.Error(t, err)
	assert.True(t, stderrors.IsCode(err, stderrors.ErrCodeInventoryInsufficient))
	require.NotNil(t, order)
	assert.Equal(t, models.OrderFailed, order.Status)
	require.Len(t, orders.created, 1)
	assert.Equal(t, models.OrderFailed, orders.created[0].Status)
	// no warehouse traffic for a failed order
	assert.Empty(t, notifier.calls)
	assert.Empty(t, inv.reserved)
}

func TestAgent_Fulfill_NotifyFailureKeepsReservationAndQueuesRetry(t *testing.T) {
	inv := &fakeInventory{}
	orders := &fakeOrders{}
	notifier := &fakeNotifier{err: errors.New("sns unavailable")}
	queue := &fakeQueue{}
	a := newTestAgent(t, inv, orders, notifier, queue)

	order, err := a.Fulfill(context.Background(), approvedVerdict(item("med-x", 3)))

	require.NoError(t, err)
	// reservation stays committed
	assert.Equal(t, models.OrderReserved, order.Status)
	assert.False(t, order.WarehouseNotified)
	assert.Len(t, inv.reserved, 1)
	require.Len(t, queue.entries, 1)
	assert.Equal(t, order.ID, queue.entries[0].OrderID)
}

func TestWarehouseRetrier_DeliversQueuedNotification(t *testing.T) {
	orders := &fakeOrders{}
	order := &models.FulfillmentOrder{ID: "ORD-1", PatientID: "pat-1", Status: models.OrderReserved}
	orders.created = append(orders.created, order)

	notifier := &fakeNotifier{}
	queue := &fakeQueue{entries: []store.RetryEntry{{OrderID: "ORD-1"}}}

	r := NewWarehouseRetrier(LoadConfig(), queue, orders, notifier, logger.NewTestLogger(t))
	r.drain(context.Background())

	assert.Equal(t, []string{"ORD-1"}, notifier.calls)
	assert.True(t, orders.notified["ORD-1"])
	assert.Empty(t, queue.entries)
}

func TestWarehouseRetrier_RequeuesOnFailureUntilCap(t *testing.T) {
	orders := &fakeOrders{}
	orders.created = append(orders.created, &models.FulfillmentOrder{ID: "ORD-1", Status: models.OrderReserved})

	notifier := &fakeNotifier{err: errors.New("still down")}
	queue := &fakeQueue{}

	cfg := LoadConfig()
	cfg.MaxRetryAttempts = 2
	r := NewWarehouseRetrier(cfg, queue, orders, notifier, logger.NewTestLogger(t))

	// deliver does not pop; a failed attempt comes back with an
	// incremented count
	r.deliver(context.Background(), store.RetryEntry{OrderID: "ORD-1"})
	require.Len(t, queue.entries, 1)
	assert.Equal(t, 1, queue.entries[0].Attempts)

	// the next failure reaches the cap and the entry is abandoned
	requeued := queue.entries[0]
	queue.entries = nil
	r.deliver(context.Background(), requeued)
	assert.Empty(t, queue.entries)
}

func TestWarehouseRetrier_SkipsAlreadyNotified(t *testing.T) {
	orders := &fakeOrders{notified: map[string]bool{"ORD-1": true}}
	orders.created = append(orders.created, &models.FulfillmentOrder{ID: "ORD-1", Status: models.OrderReserved})

	notifier := &fakeNotifier{}
	r := NewWarehouseRetrier(LoadConfig(), &fakeQueue{}, orders, notifier, logger.NewTestLogger(t))

	r.deliver(context.Background(), store.RetryEntry{OrderID: "ORD-1"})

	assert.Empty(t, notifier.calls)
}
