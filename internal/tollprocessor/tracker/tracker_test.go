package tracker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smarttoll/pipeline/internal/platform/money"
	"github.com/smarttoll/pipeline/internal/tollprocessor/geofence"
	"github.com/smarttoll/pipeline/internal/tollprocessor/models"
	"github.com/smarttoll/pipeline/internal/tollprocessor/state"
)

// memStore is an in-memory state.Store for tests; it never fails.
type memStore struct {
	data map[string]*models.VehicleState
}

func newMemStore() *memStore { return &memStore{data: map[string]*models.VehicleState{}} }

func (m *memStore) Get(_ context.Context, vehicleID string) (*models.VehicleState, error) {
	v, ok := m.data[vehicleID]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) Put(_ context.Context, vehicleID string, st *models.VehicleState) error {
	cp := *st
	m.data[vehicleID] = &cp
	return nil
}

func (m *memStore) Delete(_ context.Context, vehicleID string) error {
	delete(m.data, vehicleID)
	return nil
}

func (m *memStore) Close() error { return nil }

var _ state.Store = (*memStore)(nil)

// staticZones is a geofence.Index that maps fixed lat/lon pairs to zones
// for deterministic tests, bypassing real polygon math.
type staticZones struct {
	zones map[string]*geofence.ZoneMatch
}

func zoneKey(lat, lon float64) string {
	return fmt.Sprintf("%g,%g", lat, lon)
}

func (s *staticZones) Lookup(_ context.Context, lat, lon float64) (*geofence.ZoneMatch, error) {
	z, ok := s.zones[zoneKey(lat, lon)]
	if !ok {
		return nil, nil
	}
	return z, nil
}

func newTracker(store state.Store, idx geofence.Index) *Tracker {
	return New(store, idx, zap.NewNop())
}

func TestEntryThenExit(t *testing.T) {
	store := newMemStore()
	zoneA := &geofence.ZoneMatch{ZoneID: "ZoneA", RatePerKm: 0.15}
	idx := &staticZones{zones: map[string]*geofence.ZoneMatch{
		zoneKey(40.710, -74.005): zoneA,
	}}
	tr := newTracker(store, idx)
	ctx := context.Background()

	fix1 := models.GpsFix{VehicleID: "V1", DeviceID: "D1", Latitude: 40.710, Longitude: -74.005, TimestampMs: 1000}
	out, err := tr.ProcessFix(ctx, fix1)
	require.NoError(t, err)
	assert.Empty(t, out.TollEvents)

	st, err := store.Get(ctx, "V1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.InZone)
	assert.Equal(t, "ZoneA", st.ZoneID)
	assert.Equal(t, float64(0), st.DistanceKm)

	fix2 := models.GpsFix{VehicleID: "V1", DeviceID: "D1", Latitude: 40.720, Longitude: -74.000, TimestampMs: 6000}
	out2, err := tr.ProcessFix(ctx, fix2)
	require.NoError(t, err)
	require.Len(t, out2.TollEvents, 1)

	ev := out2.TollEvents[0]
	assert.Equal(t, "ZoneA", ev.ZoneID)
	assert.Equal(t, int64(6000), ev.ExitTimeMs)
	assert.Greater(t, ev.DistanceKm, 0.0)

	after, err := store.Get(ctx, "V1")
	require.NoError(t, err)
	assert.Nil(t, after)
}

func TestOutsideToOutsideIsNoop(t *testing.T) {
	store := newMemStore()
	idx := &staticZones{zones: map[string]*geofence.ZoneMatch{}}
	tr := newTracker(store, idx)
	ctx := context.Background()

	fix := models.GpsFix{VehicleID: "V2", DeviceID: "D2", Latitude: 1.0, Longitude: 1.0, TimestampMs: 1000}
	out, err := tr.ProcessFix(ctx, fix)
	require.NoError(t, err)
	assert.Empty(t, out.TollEvents)

	st, err := store.Get(ctx, "V2")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestDistanceMonotonicWithinSojourn(t *testing.T) {
	store := newMemStore()
	zoneA := &geofence.ZoneMatch{ZoneID: "ZoneA", RatePerKm: 0.15}
	idx := &staticZones{zones: map[string]*geofence.ZoneMatch{
		zoneKey(40.0, -75.0):   zoneA,
		zoneKey(40.001, -75.0): zoneA,
		zoneKey(40.002, -75.0): zoneA,
	}}
	tr := newTracker(store, idx)
	ctx := context.Background()

	points := []models.GpsFix{
		{VehicleID: "V3", DeviceID: "D3", Latitude: 40.0, Longitude: -75.0, TimestampMs: 0},
		{VehicleID: "V3", DeviceID: "D3", Latitude: 40.001, Longitude: -75.0, TimestampMs: 1000},
		{VehicleID: "V3", DeviceID: "D3", Latitude: 40.002, Longitude: -75.0, TimestampMs: 2000},
	}

	var last float64
	for _, fix := range points {
		_, err := tr.ProcessFix(ctx, fix)
		require.NoError(t, err)
		st, err := store.Get(ctx, "V3")
		require.NoError(t, err)
		if st != nil {
			assert.GreaterOrEqual(t, st.DistanceKm, last)
			last = st.DistanceKm
		}
	}
}

func TestZoneToZoneTransition(t *testing.T) {
	store := newMemStore()
	zoneB := &geofence.ZoneMatch{ZoneID: "ZoneB", RatePerKm: 0.20}

	// Seed prior state directly: inside ZoneA with accumulated distance.
	require.NoError(t, store.Put(context.Background(), "V4", &models.VehicleState{
		InZone: true, ZoneID: "ZoneA", RatePerKm: 0.15, EntryTime: 0,
		DistanceKm: 1.25, Lat: 40.0, Lon: -75.0, LastUpdate: 5000, DeviceID: "D4",
	}))

	idx := &staticZones{zones: map[string]*geofence.ZoneMatch{
		zoneKey(40.01, -75.01): zoneB,
	}}
	tr := newTracker(store, idx)
	ctx := context.Background()

	fix := models.GpsFix{VehicleID: "V4", DeviceID: "D4", Latitude: 40.01, Longitude: -75.01, TimestampMs: 9000}
	out, err := tr.ProcessFix(ctx, fix)
	require.NoError(t, err)
	require.Len(t, out.TollEvents, 1)

	ev := out.TollEvents[0]
	assert.Equal(t, "ZoneA", ev.ZoneID)
	assert.Greater(t, ev.DistanceKm, 1.25)
	assert.True(t, ev.TollAmount.Equal(money.TollAmount(ev.DistanceKm, 0.15)))

	after, err := store.Get(ctx, "V4")
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, "ZoneB", after.ZoneID)
	assert.Equal(t, float64(0), after.DistanceKm)
	assert.Equal(t, int64(9000), after.EntryTime)
}

func TestGeofenceErrorTreatedAsAbsent(t *testing.T) {
	store := newMemStore()
	idx := &erroringIndex{}
	tr := newTracker(store, idx)

	fix := models.GpsFix{VehicleID: "V5", DeviceID: "D5", Latitude: 1.0, Longitude: 1.0, TimestampMs: 1000}
	out, err := tr.ProcessFix(context.Background(), fix)
	require.NoError(t, err)
	assert.Empty(t, out.TollEvents)
}

type erroringIndex struct{}

func (e *erroringIndex) Lookup(_ context.Context, _, _ float64) (*geofence.ZoneMatch, error) {
	return nil, errSimulatedGeofenceTimeout
}

var errSimulatedGeofenceTimeout = fmt.Errorf("simulated geofence timeout")
