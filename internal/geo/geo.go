// Package geo provides geographic coordinates and great-circle distances
// between capture sites
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the approximate Earth radius used for distance estimates
const EarthRadiusKm = 6373.0

// Location represents a geographic coordinate
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Altitude  float64 `json:"altitude,omitempty" yaml:"altitude"`
}

// Validate checks that the coordinate lies within valid latitude/longitude ranges
func (l Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 || math.IsNaN(l.Latitude) {
		return fmt.Errorf("invalid latitude: %.8f (must be between -90 and 90 degrees)", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 || math.IsNaN(l.Longitude) {
		return fmt.Errorf("invalid longitude: %.8f (must be between -180 and 180 degrees)", l.Longitude)
	}
	return nil
}

// IsZero reports whether both coordinates are unset
func (l Location) IsZero() bool {
	return l.Latitude == 0 && l.Longitude == 0
}

func (l Location) String() string {
	return fmt.Sprintf("%.6f°, %.6f°", l.Latitude, l.Longitude)
}

// Distance returns the haversine distance between two locations in kilometers
func Distance(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// DistanceMeters returns the haversine distance between two locations in meters
func DistanceMeters(a, b Location) float64 {
	return Distance(a, b) * 1000
}
