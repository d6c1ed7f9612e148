package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validFix(now time.Time) GpsFix {
	return GpsFix{
		DeviceID:    "D1",
		VehicleID:   "V1",
		TimestampMs: now.UnixMilli(),
		Latitude:    40.71,
		Longitude:   -74.0,
	}
}

func TestGpsFixValidateAcceptsFreshFix(t *testing.T) {
	now := time.Now().UTC()
	fix := validFix(now)
	assert.NoError(t, fix.Validate(now))
}

func TestGpsFixValidateRejectsStaleFix(t *testing.T) {
	now := time.Now().UTC()
	fix := validFix(now.Add(-11 * time.Minute))
	assert.ErrorIs(t, fix.Validate(now), ErrStaleFix)
}

func TestGpsFixValidateRejectsFarFutureFix(t *testing.T) {
	now := time.Now().UTC()
	fix := validFix(now.Add(61 * time.Second))
	assert.ErrorIs(t, fix.Validate(now), ErrStaleFix)
}

func TestGpsFixValidateAcceptsBoundaryAges(t *testing.T) {
	now := time.Now().UTC()

	oldest := validFix(now.Add(-MaxFixAge))
	assert.NoError(t, oldest.Validate(now))

	newest := validFix(now.Add(MaxFixAhead))
	assert.NoError(t, newest.Validate(now))
}

func TestGpsFixValidateRejectsMissingIdentifiers(t *testing.T) {
	now := time.Now().UTC()

	noDevice := validFix(now)
	noDevice.DeviceID = ""
	assert.ErrorIs(t, noDevice.Validate(now), ErrMissingField)

	noVehicle := validFix(now)
	noVehicle.VehicleID = ""
	assert.ErrorIs(t, noVehicle.Validate(now), ErrMissingField)
}

func TestGpsFixValidateRejectsOutOfRangeCoordinates(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name string
		lat  float64
		lon  float64
	}{
		{"latitude too high", 90.1, 0},
		{"latitude too low", -90.1, 0},
		{"longitude too high", 0, 180.1},
		{"longitude too low", 0, -180.1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fix := validFix(now)
			fix.Latitude = tc.lat
			fix.Longitude = tc.lon
			assert.ErrorIs(t, fix.Validate(now), ErrOutOfRange)
		})
	}
}

func TestParseGpsFixRejectsMalformedJSON(t *testing.T) {
	_, err := ParseGpsFix([]byte(`{"deviceId": `))
	assert.Error(t, err)
}

func TestParseGpsFixRoundTrips(t *testing.T) {
	raw := []byte(`{"deviceId":"D1","vehicleId":"V1","timestamp":1000,"latitude":40.71,"longitude":-74.0}`)
	fix, err := ParseGpsFix(raw)
	assert.NoError(t, err)
	assert.Equal(t, "D1", fix.DeviceID)
	assert.Equal(t, "V1", fix.VehicleID)
	assert.Equal(t, int64(1000), fix.TimestampMs)
}
