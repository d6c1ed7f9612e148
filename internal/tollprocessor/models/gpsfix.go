package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Freshness window bounds for GpsFix.Timestamp, per the spec: a fix more
// than 10 minutes old or more than 60 seconds in the future is rejected
// as stale or implausible.
const (
	MaxFixAge    = 10 * time.Minute
	MaxFixAhead  = 60 * time.Second
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// ErrStaleFix indicates a GpsFix whose timestamp falls outside the
// accepted freshness window.
var ErrStaleFix = errors.New("gpsfix: timestamp outside accepted freshness window")

// ErrOutOfRange indicates a GpsFix whose latitude or longitude falls
// outside valid WGS-84 bounds.
var ErrOutOfRange = errors.New("gpsfix: latitude or longitude out of range")

// ErrMissingField indicates a required GpsFix field was empty.
var ErrMissingField = errors.New("gpsfix: required field missing")

// GpsFix is the inbound wire record consumed from the GPS topic.
type GpsFix struct {
	DeviceID       string   `json:"deviceId"`
	VehicleID      string   `json:"vehicleId"`
	TimestampMs    int64    `json:"timestamp"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	SpeedKmph      *float64 `json:"speedKmph,omitempty"`
	Heading        *float64 `json:"heading,omitempty"`
	AltitudeMeters *float64 `json:"altitudeMeters,omitempty"`
	GpsQuality     *string  `json:"gpsQuality,omitempty"`
}

// Timestamp returns the fix's timestamp as a UTC time.Time.
func (f GpsFix) Timestamp() time.Time {
	return time.UnixMilli(f.TimestampMs).UTC()
}

// Validate checks GpsFix against the invariants in the spec: required
// identifiers present, coordinates in range, and the timestamp inside
// [now-10min, now+60s]. Validation failures are the poison-pill path for
// the GPS Ingest Loop.
func (f GpsFix) Validate(now time.Time) error {
	if f.DeviceID == "" {
		return ErrMissingField
	}
	if f.VehicleID == "" {
		return ErrMissingField
	}
	if f.Latitude < MinLatitude || f.Latitude > MaxLatitude ||
		f.Longitude < MinLongitude || f.Longitude > MaxLongitude {
		return ErrOutOfRange
	}

	// Fix timestamps carry millisecond precision, so the window is
	// evaluated at that precision too.
	now = now.Truncate(time.Millisecond)
	ts := f.Timestamp()
	earliest := now.Add(-MaxFixAge)
	latest := now.Add(MaxFixAhead)
	if ts.Before(earliest) || ts.After(latest) {
		return ErrStaleFix
	}
	return nil
}

// ParseGpsFix decodes a JSON-encoded GpsFix payload. Decode errors are
// indistinguishable from schema validation errors to callers: both are
// poison pills.
func ParseGpsFix(payload []byte) (GpsFix, error) {
	var f GpsFix
	if err := json.Unmarshal(payload, &f); err != nil {
		return GpsFix{}, err
	}
	return f, nil
}
