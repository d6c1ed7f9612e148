// Package publisher implements the Payment Publisher component: emits a
// PaymentResult keyed by vehicleId regardless of whether the
// transaction store's final write succeeded, per spec §4.5 step 5.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/smarttoll/pipeline/internal/billing/models"
	"github.com/smarttoll/pipeline/internal/platform/broker"
)

// PaymentPublisher publishes PaymentResults to the outbound topic.
type PaymentPublisher struct {
	producer *broker.Producer
	logger   *zap.Logger
}

// New wraps an existing broker.Producer pointed at the PaymentResult
// topic.
func New(producer *broker.Producer, logger *zap.Logger) *PaymentPublisher {
	return &PaymentPublisher{producer: producer, logger: logger}
}

// Publish serializes result and sends it keyed by vehicleId, so a
// downstream reader observes each vehicle's payment outcomes in
// issuance order (spec §5).
func (p *PaymentPublisher) Publish(ctx context.Context, result models.PaymentResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("payment publisher: marshal result %s: %w", result.EventID, err)
	}
	ok, err := p.producer.Publish(ctx, []byte(result.VehicleID), payload)
	if err != nil {
		return fmt.Errorf("payment publisher: publish result %s: %w", result.EventID, err)
	}
	if !ok {
		return fmt.Errorf("payment publisher: publish result %s: producer reported failure", result.EventID)
	}
	p.logger.Debug("published payment result",
		zap.String("eventId", result.EventID),
		zap.String("vehicleId", result.VehicleID),
		zap.String("status", result.Status))
	return nil
}

// Close releases the underlying producer's connections.
func (p *PaymentPublisher) Close() error {
	return p.producer.Close()
}
