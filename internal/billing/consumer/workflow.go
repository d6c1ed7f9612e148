// Package consumer implements the Billing Consumer: the five-step
// transactional workflow from spec §4.5, plus the ingest loop and
// offset discipline that drives it.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	billingmodels "github.com/smarttoll/pipeline/internal/billing/models"
	"github.com/smarttoll/pipeline/internal/billing/payment"
	"github.com/smarttoll/pipeline/internal/billing/store"
	"github.com/smarttoll/pipeline/internal/platform/metrics"
	tollmodels "github.com/smarttoll/pipeline/internal/tollprocessor/models"
)

// TransactionStore is the subset of the Transaction Store's contract the
// Workflow depends on, narrowed to an interface so tests can substitute
// a fake Postgres-free implementation.
type TransactionStore interface {
	Probe(ctx context.Context, tollEventID string) (*billingmodels.BillingTransaction, error)
	InsertPending(ctx context.Context, vehicleID, tollEventID string, amount decimal.Decimal, currency string) (int64, error)
	MarkProcessing(ctx context.Context, id int64) error
	FinalizeStatus(ctx context.Context, id int64, status billingmodels.Status, gatewayRef, errMsg *string) error
}

// ResultPublisher is the subset of the Payment Publisher's contract the
// Workflow depends on.
type ResultPublisher interface {
	Publish(ctx context.Context, result billingmodels.PaymentResult) error
}

// Result describes how Workflow.Process resolved one TollEvent, letting
// the caller (the ingest loop) decide the offset-commit outcome without
// the workflow itself touching the broker.
type Result int

const (
	// ResultCommit means the offset may advance past this record:
	// either the event was fully processed (payment attempted, final
	// status persisted) or it was recognized as already-handled.
	ResultCommit Result = iota
	// ResultRetry means a transient dependency failure occurred before
	// (or while) persisting a durable outcome; the offset must not
	// advance and the same event must be retried.
	ResultRetry
)

// Workflow runs the Billing Consumer's per-event transaction lifecycle.
// It never commits or publishes to the GPS/TollEvent topics; its only
// side effects are the transaction store, the payment gateway, and the
// PaymentResult publisher.
type Workflow struct {
	store      TransactionStore
	gateway    payment.Gateway
	publisher  ResultPublisher
	gatewayTTL time.Duration
	metrics    *metrics.BillingWorkerMetrics
	logger     *zap.Logger
}

// New constructs a Workflow.
func New(
	st TransactionStore,
	gw payment.Gateway,
	pub ResultPublisher,
	gatewayTimeout time.Duration,
	m *metrics.BillingWorkerMetrics,
	logger *zap.Logger,
) *Workflow {
	return &Workflow{store: st, gateway: gw, publisher: pub, gatewayTTL: gatewayTimeout, metrics: m, logger: logger}
}

// Process runs spec §4.5's five steps for one TollEvent.
func (w *Workflow) Process(ctx context.Context, event tollmodels.TollEvent) (Result, error) {
	// --- Step 1: idempotency probe ---
	existing, err := w.store.Probe(ctx, event.EventID)
	if err != nil {
		return ResultRetry, fmt.Errorf("consumer: idempotency probe: %w", err)
	}
	if existing != nil && existing.Status.AlreadyHandled() {
		w.logger.Info("toll event already handled, skipping gateway call",
			zap.String("eventId", event.EventID), zap.String("status", string(existing.Status)))
		w.metrics.MessagesProcessed.WithLabelValues("duplicate").Inc()
		return ResultCommit, nil
	}

	// --- Step 2: insert PENDING row ---
	txID, err := w.store.InsertPending(ctx, event.VehicleID, event.EventID, event.TollAmount, event.Currency)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTollEvent) {
			w.logger.Info("concurrent insert raced ahead, treating as already-handled",
				zap.String("eventId", event.EventID))
			w.metrics.MessagesProcessed.WithLabelValues("duplicate").Inc()
			return ResultCommit, nil
		}
		return ResultRetry, fmt.Errorf("consumer: insert pending: %w", err)
	}

	// --- Step 3: mark PROCESSING ---
	if err := w.store.MarkProcessing(ctx, txID); err != nil {
		return ResultRetry, fmt.Errorf("consumer: mark processing %d: %w", txID, err)
	}

	// --- Step 4: invoke payment gateway ---
	finalStatus, gatewayRef, errMsg := w.charge(ctx, txID, event)

	// --- Step 5: persist final status, publish PaymentResult ---
	finalizeErr := w.store.FinalizeStatus(ctx, txID, finalStatus, gatewayRef, errMsg)

	result := billingmodels.PaymentResult{
		EventID:          event.EventID,
		TransactionID:    &txID,
		VehicleID:        event.VehicleID,
		Status:           string(finalStatus),
		GatewayReference: gatewayRef,
		ErrorMessage:     errMsg,
		ProcessedTimeMs:  time.Now().UTC().UnixMilli(),
	}
	w.metrics.PaymentResultsEmitted.WithLabelValues(string(finalStatus)).Inc()

	if pubErr := w.publisher.Publish(ctx, result); pubErr != nil {
		// The gateway outcome (if any) is already final; a failure to
		// publish it is logged but does not change the commit decision
		// beyond what finalizeErr already dictates, matching spec §4.6
		// ("publisher failures... never swallow data silently").
		w.logger.Error("failed to publish payment result",
			zap.String("eventId", event.EventID), zap.Error(pubErr))
	}

	if finalizeErr != nil {
		w.logger.Error("failed to persist final transaction status; payment result published regardless",
			zap.Int64("transactionId", txID), zap.String("eventId", event.EventID), zap.Error(finalizeErr))
		w.metrics.DBErrors.Inc()
		return ResultRetry, fmt.Errorf("consumer: finalize status: %w", finalizeErr)
	}

	w.metrics.MessagesProcessed.WithLabelValues("processed").Inc()
	return ResultCommit, nil
}

// charge invokes the payment gateway under a bounded timeout and maps
// its outcome to a terminal BillingTransaction status, exactly
// following spec §4.5 step 4's three outcome branches.
func (w *Workflow) charge(ctx context.Context, txID int64, event tollmodels.TollEvent) (billingmodels.Status, *string, *string) {
	gwCtx, cancel := context.WithTimeout(ctx, w.gatewayTTL)
	defer cancel()

	start := time.Now()
	res, err := w.gateway.Charge(gwCtx, payment.ChargeRequest{
		TransactionID: txID,
		TollEventID:   event.EventID,
		VehicleID:     event.VehicleID,
		Amount:        event.TollAmount,
		Currency:      event.Currency,
	})
	w.metrics.PaymentDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		ref := res.GatewayReference
		w.logger.Info("payment succeeded", zap.Int64("transactionId", txID), zap.String("gatewayReference", ref))
		return billingmodels.StatusSuccess, &ref, nil
	}

	var gwErr *payment.GatewayError
	if errors.As(err, &gwErr) {
		w.metrics.PaymentFailuresByCode.WithLabelValues(string(gwErr.Code)).Inc()
		msg := gwErr.Error()
		w.logger.Warn("payment declined", zap.Int64("transactionId", txID), zap.String("errorCode", string(gwErr.Code)))
		return billingmodels.StatusFailed, nil, &msg
	}

	w.metrics.PaymentFailuresByCode.WithLabelValues("SYSTEM_ERROR").Inc()
	msg := fmt.Sprintf("Unexpected system error: %s", err.Error())
	w.logger.Error("unexpected error during payment processing", zap.Int64("transactionId", txID), zap.Error(err))
	return billingmodels.StatusFailed, nil, &msg
}
