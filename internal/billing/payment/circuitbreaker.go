package payment

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerGateway wraps a Gateway with a sony/gobreaker circuit
// breaker, so a gateway outage trips open after a run of consecutive
// failures instead of letting every Billing Consumer goroutine pile up
// on a dependency that is already down (spec §6: "the payment gateway
// is the one dependency this pipeline does not own").
type CircuitBreakerGateway struct {
	inner   Gateway
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerGateway wraps inner. The breaker trips after 5
// consecutive failures and probes again after openTimeout.
func NewCircuitBreakerGateway(inner Gateway, openTimeout time.Duration) *CircuitBreakerGateway {
	settings := gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &CircuitBreakerGateway{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Charge routes through the breaker. A GatewayError (a business decline,
// not a dependency failure) does not count against the breaker's trip
// threshold; only unexpected/transport errors do, so a run of declined
// cards never falsely trips the breaker open.
func (g *CircuitBreakerGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	type outcome struct {
		res ChargeResult
		err error
	}

	raw, execErr := g.breaker.Execute(func() (any, error) {
		res, err := g.inner.Charge(ctx, req)
		var gwErr *GatewayError
		if err != nil && errors.As(err, &gwErr) {
			// A business decline is not a dependency failure: report it
			// through the outcome payload, not the breaker's own error,
			// so it never counts against the trip threshold.
			return outcome{res: res, err: err}, nil
		}
		return outcome{res: res, err: err}, err
	})
	if execErr != nil {
		if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
			return ChargeResult{}, &GatewayError{Code: ErrGatewayTimeout, Message: "circuit breaker open: " + execErr.Error()}
		}
		return ChargeResult{}, execErr
	}
	out := raw.(outcome)
	return out.res, out.err
}
