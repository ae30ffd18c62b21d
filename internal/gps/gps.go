// Package gps tracks the receiver position from an NMEA stream, gpsd or
// fixed manual coordinates
package gps

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"esp32-csi/internal/geo"
)

// Receiver position modes
const (
	ModeNMEA   = "nmea"
	ModeGPSD   = "gpsd"
	ModeManual = "manual"
)

// Position is one receiver fix
type Position struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Timestamp  time.Time
	FixQuality int
	Satellites int
}

// Location returns the fix as a geo.Location
func (p Position) Location() geo.Location {
	return geo.Location{Latitude: p.Latitude, Longitude: p.Longitude, Altitude: p.Altitude}
}

// Source defines the common interface for position providers
type Source interface {
	Start(ctx context.Context) error
	WaitForFix(ctx context.Context) (*Position, error)
	Current() (*Position, error)
	IsFixValid() bool
	FixQualityString() string
	Close() error
}

// Options selects and configures a Source
type Options struct {
	Mode     string       // nmea, gpsd or manual
	Port     string       // serial device for nmea mode
	BaudRate int          // serial speed for nmea mode
	GPSDHost string       // gpsd host for gpsd mode
	GPSDPort string       // gpsd port for gpsd mode
	Manual   geo.Location // fixed receiver position for manual mode
}

// New creates the Source selected by opts. The source is not started.
func New(opts Options, logger logrus.FieldLogger) (Source, error) {
	switch opts.Mode {
	case ModeNMEA:
		return OpenSerial(opts.Port, opts.BaudRate, logger)
	case ModeGPSD:
		return NewGPSDClient(opts.GPSDHost, opts.GPSDPort, logger), nil
	case ModeManual:
		if err := opts.Manual.Validate(); err != nil {
			return nil, fmt.Errorf("invalid manual position: %w", err)
		}
		return NewManual(opts.Manual), nil
	default:
		return nil, fmt.Errorf("invalid GPS mode %q (must be 'nmea', 'gpsd', or 'manual')", opts.Mode)
	}
}

func fixQualityString(quality int) string {
	switch quality {
	case 0:
		return "Invalid"
	case 1:
		return "GPS fix (SPS)"
	case 2:
		return "DGPS fix"
	case 3:
		return "PPS fix"
	case 4:
		return "Real Time Kinematic"
	case 5:
		return "Float RTK"
	case 6:
		return "estimated (dead reckoning)"
	case 7:
		return "Manual input mode"
	case 8:
		return "Simulation mode"
	default:
		return "Unknown"
	}
}
