package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Writer appends capture rows to a tab-separated table. It is safe for
// concurrent use.
type Writer struct {
	mu   sync.Mutex
	buf  *bufio.Writer
	gz   *gzip.Writer
	csv  *csv.Writer
	rows uint64
}

// NewWriter writes the table header to w and returns a row writer. When
// compress is set the table is gzip compressed.
func NewWriter(w io.Writer, compress bool) (*Writer, error) {
	out := &Writer{}

	var dst io.Writer = w
	if compress {
		out.gz = gzip.NewWriter(w)
		dst = out.gz
	}
	out.buf = bufio.NewWriterSize(dst, 64*1024)
	out.csv = csv.NewWriter(out.buf)
	out.csv.Comma = '\t'

	if err := out.csv.Write(Header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return out, nil
}

// Write appends one row
func (w *Writer) Write(r Row) error {
	ts := ""
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	record := []string{
		ts,
		r.ReceiverID,
		r.MAC,
		formatCoord(r.Transmitter.Latitude),
		formatCoord(r.Transmitter.Longitude),
		formatCoord(r.Receiver.Latitude),
		formatCoord(r.Receiver.Longitude),
		strconv.Itoa(r.RSSI),
		strconv.Itoa(int(r.SigMode)),
		r.CSI,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.csv.Write(record); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	w.rows++
	return nil
}

// Rows returns the number of rows written so far
func (w *Writer) Rows() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Flush pushes buffered rows to the underlying writer
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

func (w *Writer) flush() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.gz != nil {
		return w.gz.Flush()
	}
	return nil
}

// Close flushes remaining rows and terminates the gzip stream. The underlying
// writer is not closed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flush(); err != nil {
		return err
	}
	if w.gz != nil {
		return w.gz.Close()
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
