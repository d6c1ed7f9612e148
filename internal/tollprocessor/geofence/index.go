// Package geofence implements the Geofence Index component: point lookup
// against the set of toll zones, returning the owning zone's id and rate
// per kilometre.
package geofence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smarttoll/pipeline/internal/geo"
)

// ZoneMatch is the result of a successful geofence lookup.
type ZoneMatch struct {
	ZoneID    string
	RatePerKm float64
}

// Index is the Geofence Index contract. On transient errors the Tracker
// treats the lookup as absent (fail-safe: missing a toll beats
// double-billing); Lookup signals that distinction to the caller via the
// returned error, leaving the "treat as absent" decision to the Tracker.
type Index interface {
	Lookup(ctx context.Context, lat, lon float64) (*ZoneMatch, error)
}

// zone is one polygon-backed toll zone held in memory.
type zone struct {
	id        string
	ratePerKm float64
	polygon   *geo.Polygon
}

// StaticIndex is an in-memory Index over a fixed set of zones, loaded
// once at startup. Zones are assumed static within a run, matching the
// spec's "no cache invalidation protocol" note.
type StaticIndex struct {
	zones []zone
}

// ZoneDefinition describes one toll zone's polygon for StaticIndex
// construction, expressed as a ring of (lon, lat) pairs in WGS-84.
type ZoneDefinition struct {
	ZoneID    string
	RatePerKm float64
	Ring      [][2]float64
}

// NewStaticIndex builds a StaticIndex from zone definitions, rejecting any
// zone whose polygon is degenerate.
func NewStaticIndex(defs []ZoneDefinition) (*StaticIndex, error) {
	zones := make([]zone, 0, len(defs))
	for _, d := range defs {
		poly, err := geo.NewPolygon(d.Ring)
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", d.ZoneID, err)
		}
		zones = append(zones, zone{id: d.ZoneID, ratePerKm: d.RatePerKm, polygon: poly})
	}
	return &StaticIndex{zones: zones}, nil
}

// Lookup returns the first zone containing (lat, lon), or nil if none
// does. Zones are not expected to overlap; if they do, the first match in
// definition order wins.
func (idx *StaticIndex) Lookup(_ context.Context, lat, lon float64) (*ZoneMatch, error) {
	p := geo.Point{Lat: lat, Lon: lon}
	for _, z := range idx.zones {
		if z.polygon.Contains(p) {
			return &ZoneMatch{ZoneID: z.id, RatePerKm: z.ratePerKm}, nil
		}
	}
	return nil, nil
}

// ErrQueryFailed wraps any underlying spatial-DB error from PostgresIndex.
var ErrQueryFailed = errors.New("geofence: spatial query failed")

// PostgresIndex queries the toll_zones table (zone_id, zone_name,
// rate_per_km, geom GEOGRAPHY(Polygon, 4326)) via PostGIS's ST_Covers,
// delegating the point-in-polygon test to the spatial index rather than
// pulling geometry into the process.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex wraps an existing connection pool.
func NewPostgresIndex(pool *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{pool: pool}
}

const lookupQuery = `
SELECT zone_id, rate_per_km
FROM toll_zones
WHERE ST_Covers(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
LIMIT 1;
`

// Lookup delegates to PostGIS. A nil, nil result means no zone contains
// the point; a non-nil error means the query itself failed (transient
// dependency failure), which the caller must treat as "absent" per the
// spec's fail-safe policy while also surfacing it to metrics.
func (p *PostgresIndex) Lookup(ctx context.Context, lat, lon float64) (*ZoneMatch, error) {
	row := p.pool.QueryRow(ctx, lookupQuery, lon, lat)

	var m ZoneMatch
	if err := row.Scan(&m.ZoneID, &m.RatePerKm); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return &m, nil
}
