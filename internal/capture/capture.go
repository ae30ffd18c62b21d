// Package capture records ESP32 CSI frames as dataset rows stamped with the
// receiver and transmitter positions
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"esp32-csi/internal/config"
	"esp32-csi/internal/dataset"
	"esp32-csi/internal/esp32"
	"esp32-csi/internal/gps"
	"esp32-csi/internal/logging"
	"esp32-csi/internal/metrics"
)

// frameBuffer decouples serial reads from dataset writes
const frameBuffer = 64

// Summary describes one finished capture session
type Summary struct {
	SessionID string
	Path      string // dataset file, empty when written to a caller's writer
	Started   time.Time
	Ended     time.Time
	Rows      int
	Lines     esp32.Stats
	Widths    map[int]int // rows per raw CSI width
	Receiver  gps.Position
}

// Duration returns how long the capture ran
func (s *Summary) Duration() time.Duration {
	return s.Ended.Sub(s.Started)
}

// Capture reads frames from an ESP32 stream and writes them as dataset rows
type Capture struct {
	cfg      *config.Config
	source   io.Reader
	position gps.Source
	log      logrus.FieldLogger
	metrics  *metrics.Metrics

	sessionID string
	now       func() time.Time
}

// New creates a capture over source. position supplies the receiver fix and
// must already be started. logger and m may be nil.
func New(cfg *config.Config, source io.Reader, position gps.Source, logger logrus.FieldLogger, m *metrics.Metrics) (*Capture, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("CSI source cannot be nil")
	}
	if position == nil {
		return nil, fmt.Errorf("position source cannot be nil")
	}
	if err := cfg.ValidateCapture(); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	return &Capture{
		cfg:       cfg,
		source:    source,
		position:  position,
		log:       logging.OrDiscard(logger).WithField("session", sessionID),
		metrics:   m,
		sessionID: sessionID,
		now:       time.Now,
	}, nil
}

// SessionID returns the unique id of this capture
func (c *Capture) SessionID() string {
	return c.sessionID
}

// Filename returns the dataset file name for a capture started at t
func (c *Capture) Filename(t time.Time) string {
	receiver := strings.ReplaceAll(c.cfg.Capture.ReceiverID, " ", "")
	name := fmt.Sprintf("%s-%s-%s_%d.csv", c.cfg.Capture.FilePrefix, receiver, c.sessionID[:8], t.Unix())
	if c.cfg.Capture.Compress {
		name += ".gz"
	}
	return name
}

// WaitForFix blocks until the receiver position is known or the GPS timeout expires
func (c *Capture) WaitForFix(ctx context.Context) (*gps.Position, error) {
	if c.cfg.GPS.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.GPS.Timeout)
		defer cancel()
	}

	c.log.WithField("mode", c.cfg.GPS.Mode).Info("waiting for receiver position")
	pos, err := c.position.WaitForFix(ctx)
	if err != nil {
		return nil, fmt.Errorf("GPS fix failed: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"lat":        fmt.Sprintf("%.6f", pos.Latitude),
		"lon":        fmt.Sprintf("%.6f", pos.Longitude),
		"quality":    c.position.FixQualityString(),
		"satellites": pos.Satellites,
	}).Info("receiver position acquired")
	return pos, nil
}

// RunToFile creates the output directory and captures into a new dataset file
func (c *Capture) RunToFile(ctx context.Context) (*Summary, error) {
	if err := os.MkdirAll(c.cfg.Capture.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(c.cfg.Capture.OutputDir, c.Filename(c.now()))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset %s: %w", path, err)
	}
	defer f.Close()

	w, err := dataset.NewWriter(f, c.cfg.Capture.Compress)
	if err != nil {
		return nil, err
	}

	summary, runErr := c.Run(ctx, w)
	if err := w.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to finish dataset %s: %w", path, err)
	}
	if err := f.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close dataset %s: %w", path, err)
	}
	if summary != nil {
		summary.Path = path
	}
	return summary, runErr
}

// Run waits for a receiver fix and then writes one row per frame until the
// configured duration elapses, ctx is cancelled or the source ends. Reaching
// the duration and cancellation both end the capture without error. The
// writer is flushed but not closed.
func (c *Capture) Run(ctx context.Context, w *dataset.Writer) (*Summary, error) {
	fix, err := c.WaitForFix(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		SessionID: c.sessionID,
		Started:   c.now(),
		Widths:    make(map[int]int),
		Receiver:  *fix,
	}

	runCtx := ctx
	if c.cfg.Capture.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.Capture.Duration)
		defer cancel()
	}

	scanner := esp32.NewScanner(c.source, c.log, c.metrics)
	frames := make(chan *esp32.Frame, frameBuffer)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- scanner.Run(runCtx, frames)
		close(frames)
	}()

	tx := c.cfg.Transmitter.Location()
	c.log.WithFields(logrus.Fields{
		"receiver":    c.cfg.Capture.ReceiverID,
		"transmitter": tx.String(),
		"duration":    c.cfg.Capture.Duration,
	}).Info("capture started")

	var writeErr error
	for frame := range frames {
		if writeErr != nil {
			continue
		}

		if pos, err := c.position.Current(); err == nil {
			summary.Receiver = *pos
		} else {
			c.log.WithError(err).Debug("receiver fix lost, using last known position")
		}

		row := dataset.Row{
			Timestamp:   frame.Received,
			ReceiverID:  c.cfg.Capture.ReceiverID,
			MAC:         frame.MAC,
			Transmitter: tx,
			Receiver:    summary.Receiver.Location(),
			RSSI:        frame.RSSI,
			SigMode:     frame.SigMode,
			CSI:         frame.RawCSI(),
		}
		if err := w.Write(row); err != nil {
			writeErr = fmt.Errorf("failed to write row: %w", err)
			continue
		}
		summary.Rows++
		summary.Widths[frame.Width()]++
		c.metrics.RowWritten()
	}

	err = <-scanErr
	summary.Ended = c.now()
	summary.Lines = scanner.Stats()

	if ferr := w.Flush(); ferr != nil && writeErr == nil {
		writeErr = fmt.Errorf("failed to flush dataset: %w", ferr)
	}

	c.log.WithFields(logrus.Fields{
		"rows":    summary.Rows,
		"ignored": summary.Lines.Ignored,
		"invalid": summary.Lines.Invalid,
		"elapsed": summary.Duration().Round(time.Millisecond),
	}).Info("capture finished")

	if writeErr != nil {
		return summary, writeErr
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return summary, err
	}
	return summary, nil
}
