package geo

import (
	"errors"
	"math"

	"github.com/twpayne/go-geom"
)

// ErrInvalidPolygon is returned when a zone's geometry cannot support a
// containment query (too few points, NaN/Inf coordinates).
var ErrInvalidPolygon = errors.New("geo: invalid polygon")

// Polygon wraps a go-geom linear ring in a single exterior ring (toll
// zones are not expected to have holes) and answers point-in-polygon
// queries via ray casting.
type Polygon struct {
	ring *geom.Polygon
}

// NewPolygon builds a Polygon from a closed or open ring of (lon, lat)
// pairs in WGS-84 (SRID 4326), matching the coordinate order go-geom and
// PostGIS both use for geography points.
func NewPolygon(lonLatRing [][2]float64) (*Polygon, error) {
	if len(lonLatRing) < 3 {
		return nil, ErrInvalidPolygon
	}
	flat := make([]float64, 0, (len(lonLatRing)+1)*2)
	for _, pt := range lonLatRing {
		if math.IsNaN(pt[0]) || math.IsInf(pt[0], 0) || math.IsNaN(pt[1]) || math.IsInf(pt[1], 0) {
			return nil, ErrInvalidPolygon
		}
		flat = append(flat, pt[0], pt[1])
	}
	first, last := lonLatRing[0], lonLatRing[len(lonLatRing)-1]
	if first != last {
		flat = append(flat, first[0], first[1])
	}

	g := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
	return &Polygon{ring: g}, nil
}

// Contains reports whether p lies inside the polygon using the standard
// ray-casting (even-odd rule) point-in-polygon test. go-geom supplies the
// geometry container; it does not supply spatial predicates, so the test
// itself is implemented here.
func (pg *Polygon) Contains(p Point) bool {
	coords := pg.ring.FlatCoords()
	inside := false
	n := len(coords) / 2
	if n < 3 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := coords[i*2], coords[i*2+1]
		xj, yj := coords[j*2], coords[j*2+1]

		intersects := (yi > p.Lat) != (yj > p.Lat)
		if intersects {
			xIntersect := (xj-xi)*(p.Lat-yi)/(yj-yi) + xi
			if p.Lon < xIntersect {
				inside = !inside
			}
		}
	}
	return inside
}
