// Package ingest implements the GPS Ingest Loop: polls the broker for
// batches of GPS fixes, validates and dispatches them to the Zone
// Tracker, and applies the offset-commit discipline described in spec
// §4.1 and §4.7.
package ingest

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
	"github.com/smarttoll/pipeline/internal/tollprocessor/models"
	"github.com/smarttoll/pipeline/internal/tollprocessor/publisher"
	"github.com/smarttoll/pipeline/internal/tollprocessor/tracker"
)

// outcome classifies how one record's processing finished, which
// determines whether the Offset Manager may commit past it.
type outcome int

const (
	// outcomeCommit means the record is safe to commit past: it was
	// processed successfully, or it is a poison pill / unexpected error
	// that must not be allowed to block the partition forever.
	outcomeCommit outcome = iota
	// outcomeRetry means a transient dependency failure occurred; the
	// record must be retried and the offset must not advance past it.
	outcomeRetry
)

// Loop runs the GPS Ingest Loop in a single goroutine over every
// partition its consumer-group reader is assigned. Records are handled
// one at a time in fetch order, so each partition's order is preserved;
// the broker's partition assignment across instances is the only
// parallelism primitive, per spec §5.
type Loop struct {
	consumer *broker.Consumer
	tracker  *tracker.Tracker
	tollPub  *publisher.TollPublisher
	errSink  *broker.ErrorSink
	metrics  *metrics.TollProcessorMetrics
	logger   *zap.Logger

	batchSize   int
	pollTimeout time.Duration
	retryBackoff time.Duration

	ready atomic.Bool
}

// New constructs a Loop. batchSize and pollTimeout bound how many
// records a single poll cycle accumulates before committing; retryBackoff
// is the pause between retries of a record stuck on a transient error.
func New(
	consumer *broker.Consumer,
	trk *tracker.Tracker,
	tollPub *publisher.TollPublisher,
	errSink *broker.ErrorSink,
	m *metrics.TollProcessorMetrics,
	logger *zap.Logger,
	batchSize int,
	pollTimeout time.Duration,
) *Loop {
	return &Loop{
		consumer:     consumer,
		tracker:      trk,
		tollPub:      tollPub,
		errSink:      errSink,
		metrics:      m,
		logger:       logger,
		batchSize:    batchSize,
		pollTimeout:  pollTimeout,
		retryBackoff: 2 * time.Second,
	}
}

// Ready reports whether the loop has completed at least one successful
// poll, matching the source's consumer_ready flag (spec's readiness
// surface is external, but the flag this backs is a component of the
// ingest loop itself).
func (l *Loop) Ready() bool {
	return l.ready.Load()
}

// Run polls and processes batches until ctx is cancelled. It never
// returns a non-nil error on clean shutdown; errors from individual
// batches are logged and followed by a backoff, not propagated, so a
// transient broker outage does not crash the process.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("GPS ingest loop starting")
	for {
		if ctx.Err() != nil {
			l.logger.Info("GPS ingest loop stopping: context cancelled")
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

// runBatch accumulates up to batchSize records within pollTimeout,
// processes each in order, and commits the highest contiguous run of
// committable offsets per spec §4.7. A transient failure on a given
// record is retried in place (the record is never skipped) and the batch
// resumes once it succeeds; if ctx is cancelled during the retry, the
// records that preceded it are committed before returning.
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
			return fmt.Errorf("ingest: poll: %w", err)
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

// commit commits every message in msgs. It is a no-op for an empty
// slice, matching the spec's requirement that offsets are committed at
// batch boundary only for the partitions actually polled.
func (l *Loop) commit(ctx context.Context, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := l.consumer.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("ingest: commit offsets: %w", err)
	}
	l.metrics.OffsetCommits.Add(float64(len(msgs)))
	return nil
}

// processWithRetry processes msg until it reaches a committable
// outcome or ctx is cancelled. A transient Keyed State Store failure
// blocks this partition here rather than skipping ahead, preserving
// per-vehicle ordering at the cost of partition throughput during an
// outage.
func (l *Loop) processWithRetry(ctx context.Context, msg kafka.Message) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out, procErr := l.processOne(ctx, msg)
		switch out {
		case outcomeCommit:
			return nil
		case outcomeRetry:
			l.logger.Warn("transient failure processing GPS fix, retrying",
				zap.Error(procErr), zap.Int64("offset", msg.Offset))
			l.metrics.StateStoreErrors.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.retryBackoff):
			}
		}
	}
}

// processOne decodes, validates, and dispatches a single GPS fix
// record. It never panics past its own boundary: a panic inside the
// tracker is recovered and treated as an unhandled-exception poison
// pill per spec §7's taxonomy.
func (l *Loop) processOne(ctx context.Context, msg kafka.Message) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.publishUnhandledError(ctx, msg, fmt.Errorf("panic: %v", r))
			l.metrics.MessagesProcessed.WithLabelValues("unhandled_error").Inc()
			out, err = outcomeCommit, fmt.Errorf("recovered panic: %v", r)
		}
	}()

	fix, decodeErr := models.ParseGpsFix(msg.Value)
	if decodeErr != nil {
		l.publishPoisonPill(ctx, msg, "GpsFixDecodeError", decodeErr)
		l.metrics.MessagesProcessed.WithLabelValues("poison_pill").Inc()
		return outcomeCommit, nil
	}

	if validateErr := fix.Validate(time.Now().UTC()); validateErr != nil {
		l.publishPoisonPill(ctx, msg, "GpsFixValidationError", validateErr)
		l.metrics.MessagesProcessed.WithLabelValues("poison_pill").Inc()
		return outcomeCommit, nil
	}

	res, trackErr := l.tracker.ProcessFix(ctx, fix)
	if trackErr != nil {
		return outcomeRetry, trackErr
	}

	for _, event := range res.TollEvents {
		if pubErr := l.tollPub.Publish(ctx, event); pubErr != nil {
			l.publishUnhandledError(ctx, msg, pubErr)
			l.metrics.MessagesProcessed.WithLabelValues("publish_error").Inc()
			return outcomeCommit, nil
		}
		l.metrics.TollEventsEmitted.Inc()
	}

	l.metrics.MessagesProcessed.WithLabelValues("success").Inc()
	return outcomeCommit, nil
}

func (l *Loop) publishPoisonPill(ctx context.Context, msg kafka.Message, errorType string, cause error) {
	l.logger.Warn("poison pill GPS fix, committing past it",
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
	l.logger.Error("unhandled error processing GPS fix, committing to avoid blocking partition",
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

// rawMessageOrNil returns raw as a json.RawMessage only if it is
// well-formed JSON, so a fully garbled record doesn't break the error
// envelope's own serialization.
func rawMessageOrNil(raw []byte) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return json.RawMessage(raw)
}
