package esp32

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"esp32-csi/internal/logging"
	"esp32-csi/internal/metrics"
)

// maxLineSize bounds one firmware line; a 384 sample frame is under 3 KiB
const maxLineSize = 64 * 1024

// Stats counts the lines seen by a Scanner
type Stats struct {
	Frames  int64
	Ignored int64
	Invalid int64
}

// Scanner turns a stream of firmware output into frames
type Scanner struct {
	r       io.Reader
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time

	frames  atomic.Int64
	ignored atomic.Int64
	invalid atomic.Int64
}

// NewScanner creates a scanner over r. logger and m may be nil.
func NewScanner(r io.Reader, logger logrus.FieldLogger, m *metrics.Metrics) *Scanner {
	return &Scanner{
		r:       r,
		log:     logging.OrDiscard(logger),
		metrics: m,
		now:     time.Now,
	}
}

// Run reads lines until EOF, a read error or ctx is cancelled, sending every
// parsed frame on out. Non-CSI lines are skipped and malformed CSI lines are
// logged and skipped. If the reader is an io.Closer it is closed on
// cancellation so a blocked read returns. Run does not close out.
func (s *Scanner) Run(ctx context.Context, out chan<- *Frame) error {
	stop := make(chan struct{})
	defer close(stop)
	if c, ok := s.r.(io.Closer); ok {
		go func() {
			select {
			case <-ctx.Done():
				c.Close()
			case <-stop:
			}
		}()
	}

	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 4096), maxLineSize)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := ParseLine(sc.Text())
		switch {
		case errors.Is(err, ErrNotCSI):
			s.ignored.Add(1)
			s.metrics.CaptureLine(metrics.LineIgnored)
			continue
		case err != nil:
			s.invalid.Add(1)
			s.metrics.CaptureLine(metrics.LineInvalid)
			s.log.WithError(err).Debug("skipping malformed CSI line")
			continue
		}

		frame.Received = s.now()
		s.frames.Add(1)
		s.metrics.CaptureLine(metrics.LineFrame)

		select {
		case out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading ESP32 stream: %w", err)
	}
	return nil
}

// Stats returns the line counts so far
func (s *Scanner) Stats() Stats {
	return Stats{
		Frames:  s.frames.Load(),
		Ignored: s.ignored.Load(),
		Invalid: s.invalid.Load(),
	}
}
