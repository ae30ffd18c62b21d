package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"esp32-csi/internal/csi"
)

// RowError reports a table row that could not be converted; the row is
// skipped and reading continues
type RowError struct {
	Line   int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("line %d: column %s: %v", e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Reader reads capture rows from a tab-separated table, gzip compressed or not
type Reader struct {
	csv  *csv.Reader
	gz   *gzip.Reader
	cols map[string]int
}

// NewReader reads the header of a capture table and prepares to read rows
func NewReader(src io.Reader) (*Reader, error) {
	br := bufio.NewReader(src)
	r := &Reader{}

	var in io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		r.gz = gz
		in = gz
	}

	r.csv = csv.NewReader(in)
	r.csv.Comma = '\t'
	r.csv.LazyQuotes = true

	header, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty capture table")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	r.cols = make(map[string]int, len(header))
	for i, name := range header {
		r.cols[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := r.cols[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	return r, nil
}

// Read returns the next row. A *RowError means the row was skipped and the
// caller may keep reading; io.EOF marks the end of the table.
func (r *Reader) Read() (Row, error) {
	fields, err := r.csv.Read()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return Row{}, &RowError{Line: perr.StartLine, Err: perr.Err}
		}
		return Row{}, err
	}

	line, _ := r.csv.FieldPos(0)
	row := Row{Line: line}

	get := func(name string) string {
		i, ok := r.cols[name]
		if !ok || i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}
	float := func(name string, dst *float64) error {
		v, err := strconv.ParseFloat(get(name), 64)
		if err != nil {
			return &RowError{Line: line, Column: name, Err: err}
		}
		*dst = v
		return nil
	}
	integer := func(name string, dst *int) error {
		v, err := strconv.Atoi(get(name))
		if err != nil {
			return &RowError{Line: line, Column: name, Err: err}
		}
		*dst = v
		return nil
	}

	row.ReceiverID = get(ColReceiverID)
	row.MAC = get(ColMAC)
	row.CSI = get(ColCSI)

	if err := float(ColTxLatitude, &row.Transmitter.Latitude); err != nil {
		return Row{}, err
	}
	if err := float(ColTxLongitude, &row.Transmitter.Longitude); err != nil {
		return Row{}, err
	}
	if err := float(ColRxLatitude, &row.Receiver.Latitude); err != nil {
		return Row{}, err
	}
	if err := float(ColRxLongitude, &row.Receiver.Longitude); err != nil {
		return Row{}, err
	}
	if err := integer(ColRSSI, &row.RSSI); err != nil {
		return Row{}, err
	}

	var mode int
	if err := integer(ColSigMode, &mode); err != nil {
		return Row{}, err
	}
	row.SigMode = csi.SigMode(mode)

	if ts := get(ColTimestamp); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Row{}, &RowError{Line: line, Column: ColTimestamp, Err: err}
		}
		row.Timestamp = t
	}

	return row, nil
}

// Close releases the gzip stream, if any. The underlying source is not closed.
func (r *Reader) Close() error {
	if r.gz != nil {
		return r.gz.Close()
	}
	return nil
}

// ReadAll reads every row of a capture table. Malformed rows are skipped and
// returned alongside the good ones.
func ReadAll(src io.Reader) ([]Row, []*RowError, error) {
	r, err := NewReader(src)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	var rows []Row
	var skipped []*RowError
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var rerr *RowError
			if errors.As(err, &rerr) {
				skipped = append(skipped, rerr)
				continue
			}
			return rows, skipped, fmt.Errorf("failed to read capture table: %w", err)
		}
		rows = append(rows, row)
	}

	return rows, skipped, nil
}
