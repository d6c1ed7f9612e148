package broker

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// ErrorEnvelope is the structured payload published to a service's error
// sink topic, matching spec §4.6 exactly: poison pills and unhandled
// mid-record exceptions both flow through this shape.
type ErrorEnvelope struct {
	ErrorType       string          `json:"errorType"`
	Message         string          `json:"message"`
	Traceback       string          `json:"traceback,omitempty"`
	OriginalMessage json.RawMessage `json:"originalMessage,omitempty"`
	Context         map[string]any  `json:"context,omitempty"`
}

// ErrorSink publishes ErrorEnvelope records to one dedicated topic per
// service, as spec §4.6 allows.
type ErrorSink struct {
	producer *Producer
	logger   *zap.Logger
}

// NewErrorSink wraps an existing Producer pointed at the error topic.
func NewErrorSink(producer *Producer, logger *zap.Logger) *ErrorSink {
	return &ErrorSink{producer: producer, logger: logger}
}

// Publish serializes env and sends it keyed by errorType. A failure to
// publish the error envelope itself is logged rather than propagated:
// there is no further fallback once the error sink is unreachable, but
// it must never be swallowed silently.
func (s *ErrorSink) Publish(ctx context.Context, env ErrorEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("failed to marshal error envelope", zap.Error(err))
		return
	}
	ok, err := s.producer.Publish(ctx, []byte(env.ErrorType), payload)
	if err != nil || !ok {
		s.logger.Error("CRITICAL: failed to publish error envelope to error sink",
			zap.String("errorType", env.ErrorType), zap.Error(err))
	}
}
