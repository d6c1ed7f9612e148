package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smarttoll/pipeline/internal/platform/money"
)

// DefaultCurrency is used for every TollEvent unless a zone specifies
// otherwise; the spec carries no per-zone currency override today.
const DefaultCurrency = "USD"

// TollEvent is the inter-service wire record announcing one completed
// zone sojourn.
type TollEvent struct {
	EventID            string          `json:"eventId"`
	VehicleID          string          `json:"vehicleId"`
	DeviceID           string          `json:"deviceId"`
	ZoneID             string          `json:"zoneId"`
	EntryTimeMs        int64           `json:"entryTime"`
	ExitTimeMs         int64           `json:"exitTime"`
	DistanceKm         float64         `json:"distanceKm"`
	RatePerKm          float64         `json:"ratePerKm"`
	TollAmount         decimal.Decimal `json:"tollAmount"`
	Currency           string          `json:"currency"`
	ProcessedTimestamp int64           `json:"processedTimestamp"`
}

// NewTollEvent builds a TollEvent for one completed sojourn, computing
// tollAmount with half-up decimal rounding to two fractional digits.
func NewTollEvent(vehicleID, deviceID, zoneID string, entryTimeMs, exitTimeMs int64, distanceKm, ratePerKm float64, now time.Time) TollEvent {
	return TollEvent{
		EventID:            uuid.NewString(),
		VehicleID:          vehicleID,
		DeviceID:           deviceID,
		ZoneID:             zoneID,
		EntryTimeMs:        entryTimeMs,
		ExitTimeMs:         exitTimeMs,
		DistanceKm:         distanceKm,
		RatePerKm:          ratePerKm,
		TollAmount:         money.TollAmount(distanceKm, ratePerKm),
		Currency:           DefaultCurrency,
		ProcessedTimestamp: now.UnixMilli(),
	}
}
