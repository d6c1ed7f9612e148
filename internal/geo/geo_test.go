package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineKm(t *testing.T) {
	cases := []struct {
		name     string
		a, b     *Point
		expected float64
		delta    float64
	}{
		{"same point", &Point{40.0, -75.0}, &Point{40.0, -75.0}, 0.0, 0.001},
		{"one degree longitude at equator", &Point{0, 0}, &Point{0, 1}, 111.3, 0.2},
		{"one degree latitude", &Point{40, -75}, &Point{41, -75}, 111.0, 0.5},
		{"nil first point", nil, &Point{0, 0}, 0.0, 0.001},
		{"nil second point", &Point{0, 0}, nil, 0.0, 0.001},
		{"both nil", nil, nil, 0.0, 0.001},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := HaversineKm(tc.a, tc.b)
			assert.InDelta(t, tc.expected, got, tc.delta)
		})
	}
}

func TestPolygonContains(t *testing.T) {
	square := [][2]float64{
		{-74.01, 40.70},
		{-74.01, 40.72},
		{-73.99, 40.72},
		{-73.99, 40.70},
	}
	poly, err := NewPolygon(square)
	require.NoError(t, err)

	assert.True(t, poly.Contains(Point{Lat: 40.71, Lon: -74.0}))
	assert.False(t, poly.Contains(Point{Lat: 41.0, Lon: -74.0}))
}

func TestNewPolygonRejectsTooFewPoints(t *testing.T) {
	_, err := NewPolygon([][2]float64{{0, 0}, {1, 1}})
	assert.ErrorIs(t, err, ErrInvalidPolygon)
}

func TestNewPolygonRejectsNaN(t *testing.T) {
	_, err := NewPolygon([][2]float64{{0, 0}, {1, 1}, {math.NaN(), 2}})
	assert.ErrorIs(t, err, ErrInvalidPolygon)
}
