package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// TestTollAmountUsesDecimalHalfUpNotBinaryFloat pins the exact test
// vector from spec §9: a 1.5 km sojourn at 0.15 $/km rounds to 0.23
// under half-up decimal rounding, not the 0.22 that naive float64
// multiplication produces.
func TestTollAmountUsesDecimalHalfUpNotBinaryFloat(t *testing.T) {
	got := TollAmount(1.5, 0.15)
	assert.True(t, decimal.NewFromFloat(0.23).Equal(got), "want 0.23, got %s", got.String())

	naiveFloat := 1.5 * 0.15
	assert.NotEqual(t, 0.23, naiveFloat, "this test vector only matters because float64 multiplication drifts")
}

func TestTollAmountRoundsHalfUpAtTwoDecimals(t *testing.T) {
	cases := []struct {
		name       string
		distanceKm float64
		ratePerKm  float64
		want       string
	}{
		{"exact two decimals", 10, 0.1, "1.00"},
		{"rounds up at the half", 1, 0.125, "0.13"},
		{"rounds down below the half", 1, 0.124, "0.12"},
		{"zero distance", 0, 0.5, "0.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TollAmount(tc.distanceKm, tc.ratePerKm)
			assert.Equal(t, tc.want, got.StringFixed(2))
		})
	}
}

func TestRoundHalfUp2(t *testing.T) {
	got := RoundHalfUp2(decimal.NewFromFloat(12.345))
	assert.Equal(t, "12.35", got.StringFixed(2))
}
