package geo

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Location
		want float64 // km
		tol  float64
	}{
		{"same point", Location{Latitude: 45, Longitude: 9}, Location{Latitude: 45, Longitude: 9}, 0, 1e-12},
		{"one degree of latitude", Location{Latitude: 0, Longitude: 0}, Location{Latitude: 1, Longitude: 0}, EarthRadiusKm * math.Pi / 180, 1e-9},
		{"quarter meridian", Location{Latitude: 0, Longitude: 0}, Location{Latitude: 90, Longitude: 0}, EarthRadiusKm * math.Pi / 2, 1e-9},
		{"antipodal", Location{Latitude: 0, Longitude: 0}, Location{Latitude: 0, Longitude: 180}, EarthRadiusKm * math.Pi, 1e-6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("expected %.9f km, got %.9f km", tt.want, got)
			}
			if back := Distance(tt.b, tt.a); math.Abs(back-got) > 1e-9 {
				t.Errorf("distance not symmetric: %.9f vs %.9f", got, back)
			}
		})
	}
}

func TestDistanceMeters(t *testing.T) {
	a := Location{Latitude: -34.6037, Longitude: -58.3816}
	b := Location{Latitude: -34.6040, Longitude: -58.3810}

	km := Distance(a, b)
	m := DistanceMeters(a, b)
	if math.Abs(m-km*1000) > 1e-9 {
		t.Fatalf("expected %f m, got %f m", km*1000, m)
	}
	if m < 50 || m > 70 {
		t.Errorf("expected roughly 60 m between nearby points, got %.1f m", m)
	}
}

func TestValidate(t *testing.T) {
	valid := []Location{{}, {Latitude: 90, Longitude: 180}, {Latitude: -90, Longitude: -180}}
	for _, l := range valid {
		if err := l.Validate(); err != nil {
			t.Errorf("%v: unexpected error: %v", l, err)
		}
	}

	invalid := []Location{{Latitude: 91}, {Longitude: -181}, {Latitude: math.NaN()}}
	for _, l := range invalid {
		if err := l.Validate(); err == nil {
			t.Errorf("%v: expected error", l)
		}
	}
}
