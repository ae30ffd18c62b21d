package gps

import (
	"context"
	"time"

	"esp32-csi/internal/geo"
)

// manualFixQuality is the NMEA fix quality for manual input
const manualFixQuality = 7

// Manual is a Source reporting fixed coordinates
type Manual struct {
	position Position
}

// NewManual creates a source that always reports loc
func NewManual(loc geo.Location) *Manual {
	return &Manual{position: Position{
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Altitude:   loc.Altitude,
		FixQuality: manualFixQuality,
	}}
}

func (m *Manual) Start(ctx context.Context) error { return nil }

func (m *Manual) WaitForFix(ctx context.Context) (*Position, error) {
	return m.Current()
}

func (m *Manual) Current() (*Position, error) {
	pos := m.position
	pos.Timestamp = time.Now()
	return &pos, nil
}

func (m *Manual) IsFixValid() bool { return true }

func (m *Manual) FixQualityString() string { return fixQualityString(manualFixQuality) }

func (m *Manual) Close() error { return nil }
