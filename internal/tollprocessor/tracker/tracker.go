// Package tracker implements the Zone Tracker: the per-vehicle
// zone-traversal state machine described in spec §4.2.
package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smarttoll/pipeline/internal/geo"
	"github.com/smarttoll/pipeline/internal/tollprocessor/geofence"
	"github.com/smarttoll/pipeline/internal/tollprocessor/models"
	"github.com/smarttoll/pipeline/internal/tollprocessor/state"
)

// Outcome describes what a single ProcessFix call did, so the caller
// (the GPS Ingest Loop) can decide whether to publish a TollEvent.
type Outcome struct {
	// TollEvents holds zero or one emitted events: one on Exit, and one
	// for the vacated zone on Transition. A slice keeps the contract
	// uniform across all five transition kinds.
	TollEvents []models.TollEvent
}

// Tracker runs the zone-traversal state machine for one partition's
// worth of vehicles. It is not safe for concurrent use by multiple
// goroutines against the same vehicleId; the spec requires the Tracker
// to be single-threaded per partition, with the broker's partition
// assignment as the only parallelism primitive.
type Tracker struct {
	state    state.Store
	geofence geofence.Index
	logger   *zap.Logger
}

// New constructs a Tracker over the given Keyed State Store and Geofence
// Index.
func New(store state.Store, index geofence.Index, logger *zap.Logger) *Tracker {
	return &Tracker{state: store, geofence: index, logger: logger}
}

// ProcessFix runs one GpsFix through the state machine described in
// spec §4.2's transition table. It returns a transient error only for
// Keyed State Store failures (network timeouts); Geofence Index failures
// are fail-safe and treated as "no zone" per spec §4.4, never returned
// as an error.
func (t *Tracker) ProcessFix(ctx context.Context, fix models.GpsFix) (Outcome, error) {
	prior, err := t.state.Get(ctx, fix.VehicleID)
	if err != nil {
		return Outcome{}, fmt.Errorf("tracker: load state for %q: %w", fix.VehicleID, err)
	}

	currentZone, zErr := t.geofence.Lookup(ctx, fix.Latitude, fix.Longitude)
	if zErr != nil {
		t.logger.Warn("geofence lookup failed, treating as absent",
			zap.String("vehicleId", fix.VehicleID), zap.Error(zErr))
		currentZone = nil
	}

	priorInZone := prior != nil && prior.InZone

	switch {
	case !priorInZone && currentZone == nil:
		// Outside -> Outside: no-op.
		return Outcome{}, nil

	case !priorInZone && currentZone != nil:
		return Outcome{}, t.handleEntry(ctx, fix, currentZone)

	case priorInZone && currentZone != nil && currentZone.ZoneID == prior.ZoneID:
		return Outcome{}, t.handleInZone(ctx, fix, prior)

	case priorInZone && currentZone == nil:
		event := t.buildExitEvent(fix, prior)
		if err := t.state.Delete(ctx, fix.VehicleID); err != nil {
			return Outcome{}, fmt.Errorf("tracker: delete state for %q: %w", fix.VehicleID, err)
		}
		return Outcome{TollEvents: []models.TollEvent{event}}, nil

	default:
		// priorInZone && currentZone != nil && currentZone.ZoneID != prior.ZoneID: Transition.
		exitEvent := t.buildExitEvent(fix, prior)
		if err := t.handleEntry(ctx, fix, currentZone); err != nil {
			return Outcome{}, err
		}
		return Outcome{TollEvents: []models.TollEvent{exitEvent}}, nil
	}
}

func (t *Tracker) handleEntry(ctx context.Context, fix models.GpsFix, zone *geofence.ZoneMatch) error {
	st := models.NewEntryState(zone.ZoneID, zone.RatePerKm, fix.TimestampMs, fix.Latitude, fix.Longitude, fix.DeviceID)
	if err := t.state.Put(ctx, fix.VehicleID, st); err != nil {
		return fmt.Errorf("tracker: store entry state for %q: %w", fix.VehicleID, err)
	}
	return nil
}

func (t *Tracker) handleInZone(ctx context.Context, fix models.GpsFix, prior *models.VehicleState) error {
	segment := geo.HaversineKm(&geo.Point{Lat: prior.Lat, Lon: prior.Lon}, &geo.Point{Lat: fix.Latitude, Lon: fix.Longitude})
	prior.DistanceKm += segment
	prior.Lat = fix.Latitude
	prior.Lon = fix.Longitude
	prior.LastUpdate = fix.TimestampMs

	if err := t.state.Put(ctx, fix.VehicleID, prior); err != nil {
		return fmt.Errorf("tracker: store in-zone state for %q: %w", fix.VehicleID, err)
	}
	return nil
}

func (t *Tracker) buildExitEvent(fix models.GpsFix, prior *models.VehicleState) models.TollEvent {
	segment := geo.HaversineKm(&geo.Point{Lat: prior.Lat, Lon: prior.Lon}, &geo.Point{Lat: fix.Latitude, Lon: fix.Longitude})
	totalDistance := prior.DistanceKm + segment

	return models.NewTollEvent(
		fix.VehicleID,
		prior.DeviceID,
		prior.ZoneID,
		prior.EntryTime,
		fix.TimestampMs,
		totalDistance,
		prior.RatePerKm,
		time.Now().UTC(),
	)
}
