// Package models defines the billing worker's own wire and storage
// types. It never reads the Zone Tracker's private VehicleState; the
// only input it accepts is a TollEvent read off the inter-stage topic.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is a BillingTransaction's lifecycle state, per spec §3.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusRetry      Status = "RETRY"
)

// IsTerminal reports whether s is one of the two terminal statuses.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// AlreadyHandled reports whether a BillingTransaction in status s should
// short-circuit a redelivered TollEvent at the idempotency probe (spec
// §4.5 step 1): SUCCESS, PROCESSING, PENDING, and RETRY are all
// "already handled"; only FAILED falls through to the insert attempt.
func (s Status) AlreadyHandled() bool {
	switch s {
	case StatusSuccess, StatusProcessing, StatusPending, StatusRetry:
		return true
	default:
		return false
	}
}

// BillingTransaction is the durable row the Billing Consumer owns
// exclusively, mirroring spec §3's field list.
type BillingTransaction struct {
	ID                   int64
	TollEventID          string
	VehicleID            string
	Amount               decimal.Decimal
	Currency             string
	Status               Status
	TransactionTime      time.Time
	LastUpdated          time.Time
	PaymentGatewayRef    *string
	PaymentMethodDetails *string
	ErrorMessage         *string
	RetryCount           int
}

// PaymentResult is the outbound wire record published for both SUCCESS
// and FAILED outcomes, per spec §3 and §4.5 step 5.
type PaymentResult struct {
	EventID          string  `json:"eventId"`
	TransactionID    *int64  `json:"transactionId,omitempty"`
	VehicleID        string  `json:"vehicleId"`
	Status           string  `json:"status"`
	GatewayReference *string `json:"gatewayReference,omitempty"`
	ErrorMessage     *string `json:"errorMessage,omitempty"`
	ProcessedTimeMs  int64   `json:"processedTime"`
}
