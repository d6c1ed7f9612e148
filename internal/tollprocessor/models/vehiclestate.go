package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptState indicates a VehicleState value read from the keyed
// state store could not be deserialized; the caller is expected to
// delete the offending key and treat the vehicle as having no prior
// state, per the Keyed State Store's "auto-delete corrupt values"
// contract.
var ErrCorruptState = errors.New("vehiclestate: corrupt serialized value")

// VehicleState is the per-vehicle state the Zone Tracker keeps in the
// external keyed state store. Fields mirror §3 of the spec exactly.
type VehicleState struct {
	InZone     bool    `json:"inZone"`
	ZoneID     string  `json:"zoneId,omitempty"`
	RatePerKm  float64 `json:"ratePerKm,omitempty"`
	EntryTime  int64   `json:"entryTime,omitempty"`
	DistanceKm float64 `json:"distanceKm"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	LastUpdate int64   `json:"lastUpdate"`
	DeviceID   string  `json:"deviceId,omitempty"`
}

// NewEntryState builds the VehicleState created the moment a vehicle is
// first observed inside a zone.
func NewEntryState(zoneID string, ratePerKm float64, fixTimeMs int64, lat, lon float64, deviceID string) *VehicleState {
	return &VehicleState{
		InZone:     true,
		ZoneID:     zoneID,
		RatePerKm:  ratePerKm,
		EntryTime:  fixTimeMs,
		DistanceKm: 0,
		Lat:        lat,
		Lon:        lon,
		LastUpdate: fixTimeMs,
		DeviceID:   deviceID,
	}
}

// Marshal serializes the state for storage. The representation is opaque
// to external readers per the Keyed State Store contract.
func (s *VehicleState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalVehicleState deserializes a stored value, returning
// ErrCorruptState (wrapping the underlying decode error) on malformed
// input so callers can distinguish "never existed" from "corrupt".
func UnmarshalVehicleState(raw []byte) (*VehicleState, error) {
	var s VehicleState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	return &s, nil
}
