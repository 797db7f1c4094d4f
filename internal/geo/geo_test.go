package geo

import (
	"math"
	"testing"
)

func TestDistanceZeroAtSamePoint(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{12.9716, 77.5946},
		{-33.8688, 151.2093},
		{89.9, -179.9},
	}
	for _, p := range points {
		if d := Distance(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("Distance(%v,%v -> same) = %g, want 0", p[0], p[1], d)
		}
	}
}

func TestDistanceSymmetry(t *testing.T) {
	cases := [][4]float64{
		{0, 0, 0, 1},
		{12.9716, 77.5946, 12.9352, 77.6245},
		{51.5074, -0.1278, 40.7128, -74.0060},
	}
	for _, c := range cases {
		ab := Distance(c[0], c[1], c[2], c[3])
		ba := Distance(c[2], c[3], c[0], c[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("Distance not symmetric: %g vs %g for %v", ab, ba, c)
		}
	}
}

func TestDistanceReferenceValues(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{"one degree longitude at equator", 0, 0, 0, 1, 111195, 5},
		{"one degree latitude", 0, 0, 1, 0, 111195, 5},
		{"antipodal", 0, 0, 0, 180, math.Pi * 6371000, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Distance(c.lat1, c.lon1, c.lat2, c.lon2)
			if math.Abs(got-c.want) > c.tolerance {
				t.Errorf("Distance = %g, want %g ± %g", got, c.want, c.tolerance)
			}
		})
	}
}
