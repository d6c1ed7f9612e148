// Package payment implements the Payment Caller component: a typed
// client interface around the external payment gateway, plus a
// configurable-failure-rate mock so the Billing Consumer has something
// concrete to call end-to-end in dev and tests (spec §6: "the payment
// gateway... is external, specified only by the interface the core
// consumes").
package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mathrand "math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// ErrorCode enumerates the typed failure reasons a gateway call can
// raise, exactly the set in spec §4.5 step 4.
type ErrorCode string

const (
	ErrInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCardDeclined      ErrorCode = "CARD_DECLINED"
	ErrAccountFrozen     ErrorCode = "ACCOUNT_FROZEN"
	ErrInvalidCard       ErrorCode = "INVALID_CARD"
	ErrExpiredCard       ErrorCode = "EXPIRED_CARD"
	ErrGatewayTimeout    ErrorCode = "GW_TIMEOUT"
)

// GatewayError is the typed failure a Gateway.Charge call raises on a
// declined or rejected payment. The Billing Consumer formats its
// errorMessage column as "<code>: <message>" directly from this type.
type GatewayError struct {
	Code    ErrorCode
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ChargeRequest carries everything the gateway needs to attempt a
// charge, keyed for idempotency by TollEventID per spec §6.
type ChargeRequest struct {
	TransactionID int64
	TollEventID   string
	VehicleID     string
	Amount        decimal.Decimal
	Currency      string
}

// ChargeResult is returned on a successful charge.
type ChargeResult struct {
	GatewayReference string
}

// Gateway is the Payment Caller's contract. Implementations must honor
// ctx's deadline; the Billing Consumer always calls Charge with a
// bounded timeout per spec §5.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// MockGateway simulates a real gateway with a configurable failure rate
// and a small transient-timeout rate, grounded in the source's
// billing_service/app/payment.py mock.
type MockGateway struct {
	FailRate  float64
	MinDelay  time.Duration
	MaxDelay  time.Duration
	rng       *mathrand.Rand
}

// NewMockGateway constructs a MockGateway. failRate must be in [0,1];
// the config layer validates this before the gateway is built.
func NewMockGateway(failRate float64) *MockGateway {
	return &MockGateway{
		FailRate: failRate,
		MinDelay: 50 * time.Millisecond,
		MaxDelay: 300 * time.Millisecond,
		rng:      mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
}

var mockFailures = []struct {
	code    ErrorCode
	message string
}{
	{ErrInsufficientFunds, "Insufficient funds"},
	{ErrCardDeclined, "Card declined"},
	{ErrAccountFrozen, "Account frozen"},
	{ErrInvalidCard, "Invalid card details"},
	{ErrExpiredCard, "Expired card"},
}

// Charge simulates network delay, a small transient-timeout chance, and
// then a success/failure draw against FailRate, mirroring the Python
// mock gateway's behavior exactly (3% simulated GW_TIMEOUT, the
// remainder split between success and one of five decline reasons).
func (g *MockGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	delay := g.MinDelay + time.Duration(g.rng.Int63n(int64(g.MaxDelay-g.MinDelay)+1))
	select {
	case <-ctx.Done():
		return ChargeResult{}, ctx.Err()
	case <-time.After(delay):
	}

	if g.rng.Float64() < 0.03 {
		return ChargeResult{}, &GatewayError{Code: ErrGatewayTimeout, Message: "Simulated network timeout"}
	}

	if g.rng.Float64() > g.FailRate {
		return ChargeResult{GatewayReference: newMockReference()}, nil
	}

	pick := mockFailures[g.rng.Intn(len(mockFailures))]
	return ChargeResult{}, &GatewayError{Code: pick.code, Message: pick.message}
}

func newMockReference() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is effectively unreachable on supported
		// platforms; fall back to a timestamp-derived reference rather
		// than panic.
		return fmt.Sprintf("MOCKGW_%d", time.Now().UnixNano())
	}
	return "MOCKGW_" + hex.EncodeToString(buf)
}
