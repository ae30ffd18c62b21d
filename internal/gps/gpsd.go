package gps

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/stratoberry/go-gpsd"

	"esp32-csi/internal/logging"
)

// GPSDClient follows the receiver position reported by a gpsd daemon
type GPSDClient struct {
	address string
	session *gpsd.Session
	log     logrus.FieldLogger

	mu       sync.RWMutex
	position Position

	fixChan chan Position
}

// NewGPSDClient creates a gpsd client; empty host and port use gpsd's default address
func NewGPSDClient(host, port string, logger logrus.FieldLogger) *GPSDClient {
	address := gpsd.DefaultAddress
	if host != "" && port != "" {
		address = net.JoinHostPort(host, port)
	}
	return &GPSDClient{
		address: address,
		log:     logging.OrDiscard(logger).WithField("component", "gpsd"),
		fixChan: make(chan Position, 10),
	}
}

// Start connects to gpsd and starts watching TPV and SKY reports
func (g *GPSDClient) Start(ctx context.Context) error {
	session, err := gpsd.Dial(g.address)
	if err != nil {
		return fmt.Errorf("failed to connect to gpsd at %s: %w", g.address, err)
	}
	g.session = session

	g.session.AddFilter("TPV", g.handleTPV)
	g.session.AddFilter("SKY", g.handleSKY)
	g.session.Watch()

	g.log.WithField("address", g.address).Info("watching gpsd")
	return nil
}

func (g *GPSDClient) handleTPV(r interface{}) {
	tpv, ok := r.(*gpsd.TPVReport)
	if !ok {
		return
	}

	// gpsd modes 2 (2D) and 3 (3D) are usable fixes
	if tpv.Mode < 2 || (tpv.Lat == 0 && tpv.Lon == 0) {
		return
	}

	g.mu.Lock()
	g.position = Position{
		Latitude:   tpv.Lat,
		Longitude:  tpv.Lon,
		Altitude:   tpv.Alt,
		Timestamp:  tpv.Time,
		FixQuality: 1,
		Satellites: g.position.Satellites, // kept from SKY reports
	}
	pos := g.position
	g.mu.Unlock()

	select {
	case g.fixChan <- pos:
	default:
	}
}

func (g *GPSDClient) handleSKY(r interface{}) {
	sky, ok := r.(*gpsd.SKYReport)
	if !ok {
		return
	}

	g.mu.Lock()
	g.position.Satellites = len(sky.Satellites)
	g.mu.Unlock()
}

// WaitForFix blocks until gpsd reports a fix or ctx is done
func (g *GPSDClient) WaitForFix(ctx context.Context) (*Position, error) {
	if pos, err := g.Current(); err == nil {
		return pos, nil
	}

	for {
		select {
		case pos := <-g.fixChan:
			if pos.FixQuality > 0 {
				return &pos, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("GPS fix not acquired from gpsd: %w", ctx.Err())
		}
	}
}

func (g *GPSDClient) Current() (*Position, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.position.FixQuality == 0 {
		return nil, fmt.Errorf("no GPS fix available")
	}

	pos := g.position
	return &pos, nil
}

func (g *GPSDClient) IsFixValid() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.position.FixQuality > 0
}

func (g *GPSDClient) FixQualityString() string {
	g.mu.RLock()
	quality := g.position.FixQuality
	g.mu.RUnlock()
	return fixQualityString(quality) + " (via gpsd)"
}

func (g *GPSDClient) Close() error {
	if g.session != nil {
		g.session.Close()
	}
	return nil
}
