package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smarttoll/pipeline/internal/platform/broker"
	"github.com/smarttoll/pipeline/internal/platform/metrics"
	tollmodels "github.com/smarttoll/pipeline/internal/tollprocessor/models"
)

// Loop runs the Billing Consumer's poll/process/commit cycle, applying
// the same offset-commit discipline as the GPS Ingest Loop (spec §4.7):
// one goroutine handles every assigned partition in fetch order, commits
// only the highest contiguous run of successfully resolved offsets, and
// retries a record in place rather than skip past it on a transient
// failure.
type Loop struct {
	consumer *broker.Consumer
	workflow *Workflow
	errSink  *broker.ErrorSink
	metrics  *metrics.BillingWorkerMetrics
	logger   *zap.Logger

	batchSize    int
	pollTimeout  time.Duration
	retryBackoff time.Duration

	ready atomic.Bool
}

// NewLoop constructs a Loop.
func NewLoop(
	consumer *broker.Consumer,
	workflow *Workflow,
	errSink *broker.ErrorSink,
	m *metrics.BillingWorkerMetrics,
	logger *zap.Logger,
	batchSize int,
	pollTimeout time.Duration,
) *Loop {
	return &Loop{
		consumer:     consumer,
		workflow:     workflow,
		errSink:      errSink,
		metrics:      m,
		logger:       logger,
		batchSize:    batchSize,
		pollTimeout:  pollTimeout,
		retryBackoff: 2 * time.Second,
	}
}

// Ready reports whether the loop has completed at least one successful
// poll.
func (l *Loop) Ready() bool {
	return l.ready.Load()
}

// Run polls and processes batches until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("billing consumer loop starting")
	for {
		if ctx.Err() != nil {
			l.logger.Info("billing consumer loop stopping: context cancelled")
			return nil
		}
		if err := l.runBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("batch processing failed, backing off", zap.Error(err))
			time.Sleep(l.retryBackoff)
		}
	}
}

func (l *Loop) runBatch(ctx context.Context) error {
	var toCommit []kafka.Message
	deadline := time.Now().Add(l.pollTimeout)

	for len(toCommit) < l.batchSize {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		fetchCtx, cancel := context.WithTimeout(ctx, remaining)
		msg, err := l.consumer.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}
			if ctx.Err() != nil {
				return l.commit(ctx, toCommit)
			}
			if commitErr := l.commit(ctx, toCommit); commitErr != nil {
				l.logger.Error("commit failed after poll error", zap.Error(commitErr))
			}
			return fmt.Errorf("billing consumer: poll: %w", err)
		}

		l.ready.Store(true)
		l.metrics.MessagesReceived.Inc()

		if err := l.processWithRetry(ctx, msg); err != nil {
			if commitErr := l.commit(ctx, toCommit); commitErr != nil {
				l.logger.Error("commit failed during shutdown", zap.Error(commitErr))
			}
			return err
		}
		toCommit = append(toCommit, msg)
	}

	return l.commit(ctx, toCommit)
}

func (l *Loop) commit(ctx context.Context, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := l.consumer.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("billing consumer: commit offsets: %w", err)
	}
	return nil
}

// processWithRetry processes msg until it reaches a committable outcome
// or ctx is cancelled. A transient store/gateway-setup failure blocks
// this partition here, preserving per-vehicle ordering. A finalize
// write failure also lands here: the retry re-enters Workflow.Process,
// which finds the row already PROCESSING at the idempotency probe and
// commits without a second gateway call, matching the Open Question
// decision recorded in SPEC_FULL.md (the row is left for out-of-scope
// reconciliation, not silently re-billed).
func (l *Loop) processWithRetry(ctx context.Context, msg kafka.Message) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out, procErr := l.processOne(ctx, msg)
		switch out {
		case outcomeLoopCommit:
			return nil
		case outcomeLoopRetry:
			l.logger.Warn("transient failure processing toll event, retrying",
				zap.Error(procErr), zap.Int64("offset", msg.Offset))
			l.metrics.DBErrors.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.retryBackoff):
			}
		}
	}
}

// loopOutcome mirrors the ingest loop's outcome type, kept distinct so
// this package's own Result (workflow-level) and the loop's commit
// decision don't collapse into one enum with two different meanings.
type loopOutcome int

const (
	outcomeLoopCommit loopOutcome = iota
	outcomeLoopRetry
)

func (l *Loop) processOne(ctx context.Context, msg kafka.Message) (out loopOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.publishUnhandledError(ctx, msg, fmt.Errorf("panic: %v", r))
			l.metrics.MessagesProcessed.WithLabelValues("unhandled_error").Inc()
			out, err = outcomeLoopCommit, fmt.Errorf("recovered panic: %v", r)
		}
	}()

	var event tollmodels.TollEvent
	if decodeErr := json.Unmarshal(msg.Value, &event); decodeErr != nil {
		l.publishPoisonPill(ctx, msg, "TollEventDecodeError", decodeErr)
		l.metrics.MessagesProcessed.WithLabelValues("poison_pill").Inc()
		return outcomeLoopCommit, nil
	}
	if event.EventID == "" || event.VehicleID == "" {
		l.publishPoisonPill(ctx, msg, "TollEventValidationError", fmt.Errorf("missing eventId or vehicleId"))
		l.metrics.MessagesProcessed.WithLabelValues("poison_pill").Inc()
		return outcomeLoopCommit, nil
	}

	result, procErr := l.workflow.Process(ctx, event)
	if procErr != nil && result == ResultRetry {
		return outcomeLoopRetry, procErr
	}
	if procErr != nil {
		// ResultCommit paired with a non-nil error does not occur in the
		// current Workflow implementation, but treat it as an unhandled
		// error rather than silently committing on an unrecognized state.
		l.publishUnhandledError(ctx, msg, procErr)
		l.metrics.MessagesProcessed.WithLabelValues("unhandled_error").Inc()
		return outcomeLoopCommit, nil
	}
	return outcomeLoopCommit, nil
}

func (l *Loop) publishPoisonPill(ctx context.Context, msg kafka.Message, errorType string, cause error) {
	l.logger.Warn("poison pill toll event, committing past it",
		zap.String("errorType", errorType), zap.Error(cause), zap.Int64("offset", msg.Offset))
	l.errSink.Publish(ctx, broker.ErrorEnvelope{
		ErrorType:       errorType,
		Message:         cause.Error(),
		OriginalMessage: rawMessageOrNil(msg.Value),
		Context: map[string]any{
			"offset":    msg.Offset,
			"partition": msg.Partition,
		},
	})
}

func (l *Loop) publishUnhandledError(ctx context.Context, msg kafka.Message, cause error) {
	l.logger.Error("unhandled error processing toll event, committing to avoid blocking partition",
		zap.Error(cause), zap.Int64("offset", msg.Offset))
	l.errSink.Publish(ctx, broker.ErrorEnvelope{
		ErrorType:       "UnhandledProcessingError",
		Message:         cause.Error(),
		OriginalMessage: rawMessageOrNil(msg.Value),
		Context: map[string]any{
			"offset":    msg.Offset,
			"partition": msg.Partition,
		},
	})
}

func rawMessageOrNil(raw []byte) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return json.RawMessage(raw)
}
