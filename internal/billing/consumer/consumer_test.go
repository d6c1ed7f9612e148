package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	billingmodels "github.com/smarttoll/pipeline/internal/billing/models"
	"github.com/smarttoll/pipeline/internal/billing/payment"
	"github.com/smarttoll/pipeline/internal/billing/store"
	"github.com/smarttoll/pipeline/internal/platform/metrics"
	tollmodels "github.com/smarttoll/pipeline/internal/tollprocessor/models"
)

// fakeStore is an in-memory TransactionStore keyed by toll_event_id,
// standing in for Postgres so these tests pin Workflow behavior without
// a live database.
type fakeStore struct {
	mu       sync.Mutex
	byEvent  map[string]*billingmodels.BillingTransaction
	nextID   int64
	insertErr error
	finalizeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{byEvent: make(map[string]*billingmodels.BillingTransaction)}
}

func (f *fakeStore) Probe(ctx context.Context, tollEventID string) (*billingmodels.BillingTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.byEvent[tollEventID]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

func (f *fakeStore) InsertPending(ctx context.Context, vehicleID, tollEventID string, amount decimal.Decimal, currency string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	if _, exists := f.byEvent[tollEventID]; exists {
		return 0, store.ErrDuplicateTollEvent
	}
	f.nextID++
	f.byEvent[tollEventID] = &billingmodels.BillingTransaction{
		ID: f.nextID, TollEventID: tollEventID, VehicleID: vehicleID,
		Amount: amount, Currency: currency, Status: billingmodels.StatusPending,
	}
	return f.nextID, nil
}

func (f *fakeStore) MarkProcessing(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.byEvent {
		if tx.ID == id {
			tx.Status = billingmodels.StatusProcessing
			return nil
		}
	}
	return errors.New("fakeStore: unknown id")
}

func (f *fakeStore) FinalizeStatus(ctx context.Context, id int64, status billingmodels.Status, gatewayRef, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	for _, tx := range f.byEvent {
		if tx.ID == id {
			tx.Status = status
			tx.PaymentGatewayRef = gatewayRef
			tx.ErrorMessage = errMsg
			return nil
		}
	}
	return errors.New("fakeStore: unknown id")
}

// fixedGateway always returns the same outcome, so a test can pin an
// exact number of gateway invocations.
type fixedGateway struct {
	mu    sync.Mutex
	calls int
	err   error
	ref   string
}

func (g *fixedGateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.err != nil {
		return payment.ChargeResult{}, g.err
	}
	return payment.ChargeResult{GatewayReference: g.ref}, nil
}

func (g *fixedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// recordingPublisher captures every PaymentResult it is handed.
type recordingPublisher struct {
	mu      sync.Mutex
	results []billingmodels.PaymentResult
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, result billingmodels.PaymentResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.results = append(p.results, result)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

func testEvent() tollmodels.TollEvent {
	return tollmodels.TollEvent{
		EventID:    "evt-1",
		VehicleID:  "vehicle-1",
		ZoneID:     "zone-a",
		DistanceKm: 5,
		RatePerKm:  2,
		TollAmount: decimal.NewFromInt(10),
		Currency:   "USD",
	}
}

func newWorkflow(t *testing.T, st TransactionStore, gw payment.Gateway, pub ResultPublisher) *Workflow {
	t.Helper()
	logger := zap.NewNop()
	return New(st, gw, pub, time.Second, metrics.NewBillingWorkerMetrics(), logger)
}

func TestDuplicateTollEventDeliveryProcessesExactlyOnce(t *testing.T) {
	st := newFakeStore()
	gw := &fixedGateway{ref: "MOCKGW_abc"}
	pub := &recordingPublisher{}
	wf := newWorkflow(t, st, gw, pub)

	event := testEvent()

	res1, err1 := wf.Process(context.Background(), event)
	require.NoError(t, err1)
	require.Equal(t, ResultCommit, res1)
	require.Equal(t, 1, gw.callCount())
	require.Equal(t, 1, pub.count())

	// Redelivery of the identical TollEvent: the probe finds the row
	// already SUCCESS and must not call the gateway or publish again.
	res2, err2 := wf.Process(context.Background(), event)
	require.NoError(t, err2)
	require.Equal(t, ResultCommit, res2)
	require.Equal(t, 1, gw.callCount(), "gateway must not be called twice for the same toll event")
	require.Equal(t, 1, pub.count(), "payment result must be emitted once per transaction")
}

func TestConcurrentInsertRaceTreatedAsAlreadyHandled(t *testing.T) {
	st := newFakeStore()
	// Simulate another goroutine having already inserted the row between
	// this call's probe and its own insert attempt.
	st.insertErr = store.ErrDuplicateTollEvent
	gw := &fixedGateway{ref: "MOCKGW_abc"}
	pub := &recordingPublisher{}
	wf := newWorkflow(t, st, gw, pub)

	res, err := wf.Process(context.Background(), testEvent())
	require.NoError(t, err)
	require.Equal(t, ResultCommit, res)
	require.Equal(t, 0, gw.callCount())
	require.Equal(t, 0, pub.count())
}

func TestFinalizeFailureStillPublishesResultButBlocksCommit(t *testing.T) {
	st := newFakeStore()
	st.finalizeErr = errors.New("connection reset")
	gw := &fixedGateway{ref: "MOCKGW_abc"}
	pub := &recordingPublisher{}
	wf := newWorkflow(t, st, gw, pub)

	res, err := wf.Process(context.Background(), testEvent())
	require.Error(t, err)
	require.Equal(t, ResultRetry, res)
	require.Equal(t, 1, pub.count(), "payment result must be published even if the DB write fails")
	require.Equal(t, string(billingmodels.StatusSuccess), pub.results[0].Status)

	// On redelivery the row is still PROCESSING (the failed finalize
	// write never landed), so the idempotency probe short-circuits
	// without a second gateway call or a second publish.
	st.finalizeErr = nil
	res2, err2 := wf.Process(context.Background(), testEvent())
	require.NoError(t, err2)
	require.Equal(t, ResultCommit, res2)
	require.Equal(t, 1, gw.callCount(), "redelivery after a finalize failure must not re-bill the gateway")
	require.Equal(t, 1, pub.count(), "redelivery after a finalize failure must not re-emit a payment result")
}

func TestGatewayDeclineProducesFailedStatusAndPublishesResult(t *testing.T) {
	st := newFakeStore()
	gw := &fixedGateway{err: &payment.GatewayError{Code: payment.ErrCardDeclined, Message: "Card declined"}}
	pub := &recordingPublisher{}
	wf := newWorkflow(t, st, gw, pub)

	res, err := wf.Process(context.Background(), testEvent())
	require.NoError(t, err)
	require.Equal(t, ResultCommit, res)
	require.Equal(t, 1, pub.count())
	require.Equal(t, "FAILED", pub.results[0].Status)
	require.NotNil(t, pub.results[0].ErrorMessage)
	require.Contains(t, *pub.results[0].ErrorMessage, "CARD_DECLINED")
}
