package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"esp32-csi/internal/logging"
)

// ErrStreamEnded is returned by WaitForFix when the NMEA stream closed before a fix
var ErrStreamEnded = errors.New("gps: NMEA stream ended")

// Tracker follows the receiver position from NMEA sentences read from any
// io.Reader, typically a serial GPS
type Tracker struct {
	r      io.Reader
	closer io.Closer
	log    logrus.FieldLogger
	now    func() time.Time

	mu       sync.RWMutex
	position Position

	fixChan chan Position
	done    chan struct{}
}

// NewTracker creates a tracker reading NMEA sentences from r
func NewTracker(r io.Reader, logger logrus.FieldLogger) *Tracker {
	t := &Tracker{
		r:       r,
		log:     logging.OrDiscard(logger).WithField("component", "gps"),
		now:     time.Now,
		fixChan: make(chan Position, 10),
		done:    make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// OpenSerial opens a serial NMEA receiver and asks u-blox modules for GGA/RMC output
func OpenSerial(portName string, baudRate int, logger logrus.FieldLogger) (*Tracker, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPS port %s: %w", portName, err)
	}

	t := NewTracker(port, logger)
	t.configureUbloxNMEA(port)
	return t, nil
}

// configureUbloxNMEA sends UBX-CFG-MSG commands enabling GGA and RMC on UART1
func (t *Tracker) configureUbloxNMEA(w io.Writer) {
	ggaCmd := []byte{0xB5, 0x62, 0x06, 0x01, 0x08, 0x00, 0xF0, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x01, 0x31}
	rmcCmd := []byte{0xB5, 0x62, 0x06, 0x01, 0x08, 0x00, 0xF0, 0x04, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x05, 0x3B}

	for _, cmd := range [][]byte{ggaCmd, rmcCmd} {
		if _, err := w.Write(cmd); err != nil {
			t.log.WithError(err).Warn("failed to send u-blox configuration")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.log.Debug("sent u-blox configuration commands to enable NMEA GGA/RMC output")
}

// Start begins reading sentences in the background until EOF or ctx is cancelled
func (t *Tracker) Start(ctx context.Context) error {
	go t.readLoop(ctx)
	return nil
}

func (t *Tracker) readLoop(ctx context.Context) {
	defer close(t.done)

	scanner := bufio.NewScanner(t.r)
	t.log.Debug("starting NMEA read loop")

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		t.Feed(scanner.Text())
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		t.log.WithError(err).Warn("NMEA read loop failed")
	}
	t.log.Debug("NMEA read loop ended")
}

// Feed processes one NMEA sentence. Lines that are not printable NMEA are ignored.
func (t *Tracker) Feed(line string) {
	if len(line) == 0 || line[0] != '$' {
		return
	}
	// Filter out binary UBX data sharing the port
	for _, r := range line {
		if r < 32 || r > 126 {
			return
		}
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		t.log.WithError(err).WithField("line", line).Debug("NMEA parse error")
		return
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		t.processGGA(s)
	case nmea.RMC:
		t.processRMC(s)
	default:
		t.log.Debugf("ignoring %T sentence", s)
	}
}

func (t *Tracker) processGGA(s nmea.GGA) {
	var fixQuality int
	switch s.FixQuality {
	case nmea.GPS:
		fixQuality = 1
	case nmea.DGPS:
		fixQuality = 2
	case nmea.PPS:
		fixQuality = 3
	case nmea.RTK:
		fixQuality = 4
	case nmea.FRTK:
		fixQuality = 5
	case nmea.Manual:
		fixQuality = 7
	default:
		return
	}

	pos := Position{
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Altitude:   s.Altitude,
		Timestamp:  t.now(),
		FixQuality: fixQuality,
		Satellites: int(s.NumSatellites),
	}

	t.mu.Lock()
	t.position = pos
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{
		"lat":  fmt.Sprintf("%.6f", pos.Latitude),
		"lon":  fmt.Sprintf("%.6f", pos.Longitude),
		"alt":  pos.Altitude,
		"sats": pos.Satellites,
	}).Debug("position updated")

	select {
	case t.fixChan <- pos:
	default:
	}
}

// processRMC refreshes an existing fix; RMC carries no altitude or quality
func (t *Tracker) processRMC(s nmea.RMC) {
	if s.Validity != "A" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.position.FixQuality == 0 {
		return
	}

	ts := t.now().UTC()
	if s.Time.Valid {
		year, month, day := ts.Date()
		if s.Date.Valid {
			year, month, day = s.Date.YY+2000, time.Month(s.Date.MM), s.Date.DD
			if s.Date.YY >= 80 {
				year -= 100
			}
		}
		ts = time.Date(year, month, day,
			s.Time.Hour, s.Time.Minute, s.Time.Second,
			s.Time.Millisecond*int(time.Millisecond), time.UTC)
	}

	t.position.Latitude = s.Latitude
	t.position.Longitude = s.Longitude
	t.position.Timestamp = ts
}

// WaitForFix blocks until a fix arrives, ctx is done or the stream ends
func (t *Tracker) WaitForFix(ctx context.Context) (*Position, error) {
	if pos, err := t.Current(); err == nil {
		return pos, nil
	}

	for {
		select {
		case pos := <-t.fixChan:
			if pos.FixQuality > 0 {
				return &pos, nil
			}
		case <-t.done:
			if pos, err := t.Current(); err == nil {
				return pos, nil
			}
			return nil, ErrStreamEnded
		case <-ctx.Done():
			return nil, fmt.Errorf("GPS fix not acquired: %w. The receiver may be configured for UBX binary output; consider --gps-mode=gpsd or enable NMEA GGA/RMC", ctx.Err())
		}
	}
}

// Current returns the latest fix
func (t *Tracker) Current() (*Position, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.position.FixQuality == 0 {
		return nil, fmt.Errorf("no GPS fix available")
	}

	pos := t.position
	return &pos, nil
}

func (t *Tracker) IsFixValid() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position.FixQuality > 0
}

func (t *Tracker) FixQualityString() string {
	t.mu.RLock()
	quality := t.position.FixQuality
	t.mu.RUnlock()
	return fixQualityString(quality)
}

// Close closes the underlying reader when it is closable
func (t *Tracker) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
