// Package publisher implements the Toll Publisher component: serializes
// TollEvents and publishes them keyed by vehicleId, per spec §4.6.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/smarttoll/pipeline/internal/platform/broker"
	"github.com/smarttoll/pipeline/internal/tollprocessor/models"
)

// TollPublisher publishes TollEvents to the inter-stage topic.
type TollPublisher struct {
	producer *broker.Producer
	logger   *zap.Logger
}

// New wraps an existing broker.Producer pointed at the TollEvent topic.
func New(producer *broker.Producer, logger *zap.Logger) *TollPublisher {
	return &TollPublisher{producer: producer, logger: logger}
}

// Publish serializes event and sends it keyed by vehicleId so every
// TollEvent for one vehicle lands on the same partition as its
// PaymentResult, per spec §5's ordering guarantee.
func (p *TollPublisher) Publish(ctx context.Context, event models.TollEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("toll publisher: marshal event %s: %w", event.EventID, err)
	}
	ok, err := p.producer.Publish(ctx, []byte(event.VehicleID), payload)
	if err != nil {
		return fmt.Errorf("toll publisher: publish event %s: %w", event.EventID, err)
	}
	if !ok {
		return fmt.Errorf("toll publisher: publish event %s: producer reported failure", event.EventID)
	}
	p.logger.Debug("published toll event",
		zap.String("eventId", event.EventID),
		zap.String("vehicleId", event.VehicleID),
		zap.String("zoneId", event.ZoneID))
	return nil
}

// Close releases the underlying producer's connections.
func (p *TollPublisher) Close() error {
	return p.producer.Close()
}
