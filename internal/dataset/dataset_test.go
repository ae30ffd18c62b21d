package dataset

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"esp32-csi/internal/csi"
	"esp32-csi/internal/geo"
)

const table = "se\tma_lon\tma_lat\tse_lon\tse_lat\trssi\tsig_mode\tcsi\textra\n" +
	"ca04\t-58.1\t-34.5\t-58.2\t-34.6\t-60\t1\t1,2,3,4\tx\n" +
	"ca04\t-58.1\t-34.5\t-58.2\t-34.6\t-61\t0\t5,6,7,8\tx\n" +
	"ca05\t-58.1\t-34.5\t-58.3\t-34.7\t-70\t1\t[1,2]\tx\n" +
	"ca04\t-58.1\t-34.5\t-58.2\t-34.6\tbad\t1\t1,2\tx\n" +
	"ca04\t-58.1\t-34.5\n" +
	"ca04\t-58.1\t-34.5\t-58.2\t-34.6\t-62\t1\t9,9\tx\n"

func TestReadAll(t *testing.T) {
	rows, skipped, err := ReadAll(strings.NewReader(table))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped rows, got %d", len(skipped))
	}
	if skipped[0].Column != ColRSSI || skipped[0].Line != 5 {
		t.Errorf("unexpected first skipped row: %v", skipped[0])
	}
	if skipped[1].Line != 6 {
		t.Errorf("expected short row on line 6, got %d", skipped[1].Line)
	}

	r := rows[0]
	if r.ReceiverID != "ca04" || r.RSSI != -60 || r.SigMode != csi.HT || r.CSI != "1,2,3,4" {
		t.Errorf("unexpected row: %+v", r)
	}
	if r.Transmitter.Latitude != -34.5 || r.Transmitter.Longitude != -58.1 {
		t.Errorf("unexpected transmitter: %+v", r.Transmitter)
	}
	if r.Receiver.Latitude != -34.6 || r.Receiver.Longitude != -58.2 {
		t.Errorf("unexpected receiver: %+v", r.Receiver)
	}
	if r.Line != 2 {
		t.Errorf("expected line 2, got %d", r.Line)
	}
}

func TestNewReaderMissingColumn(t *testing.T) {
	_, err := NewReader(strings.NewReader("se\tma_lon\n"))
	if err == nil || !strings.Contains(err.Error(), "missing required column") {
		t.Fatalf("expected missing column error, got %v", err)
	}

	if _, err := NewReader(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestSplit(t *testing.T) {
	rows, _, err := ReadAll(strings.NewReader(table))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parts := Split(rows)
	if len(parts) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(parts))
	}
	if parts[0].Key.ReceiverID != "ca04" || len(parts[0].Rows) != 3 {
		t.Errorf("unexpected first partition: %s with %d rows", parts[0].Key, len(parts[0].Rows))
	}
	if parts[1].Key.ReceiverID != "ca05" || len(parts[1].Rows) != 1 {
		t.Errorf("unexpected second partition: %s with %d rows", parts[1].Key, len(parts[1].Rows))
	}

	records := parts[0].Records()
	if len(records) != 3 || records[1].SigMode != csi.NonHT || records[2].RawCSI != "9,9" {
		t.Errorf("unexpected records: %+v", records)
	}

	want := geo.Distance(parts[0].Key.Receiver, parts[0].Key.Transmitter)
	if math.Abs(parts[0].Key.Distance()-want) > 1e-12 {
		t.Errorf("expected distance %f, got %f", want, parts[0].Key.Distance())
	}
}

func TestSplitIgnoresAltitude(t *testing.T) {
	a := Row{ReceiverID: "r", Receiver: geo.Location{Latitude: 1, Longitude: 2, Altitude: 10}}
	b := Row{ReceiverID: "r", Receiver: geo.Location{Latitude: 1, Longitude: 2, Altitude: 20}}
	if parts := Split([]Row{a, b}); len(parts) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(parts))
	}
}

func TestWriterRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, compress)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		in := Row{
			Timestamp:   time.Date(2023, 2, 17, 10, 30, 0, 500, time.UTC),
			ReceiverID:  "ca04",
			MAC:         "24:0a:c4:00:00:01",
			Transmitter: geo.Location{Latitude: -34.5, Longitude: -58.1},
			Receiver:    geo.Location{Latitude: -34.6123456, Longitude: -58.2},
			RSSI:        -55,
			SigMode:     csi.HT,
			CSI:         "1,-2,3,4",
		}
		if err := w.Write(in); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if w.Rows() != 1 {
			t.Errorf("expected 1 row written, got %d", w.Rows())
		}

		rows, skipped, err := ReadAll(&buf)
		if err != nil {
			t.Fatalf("compress=%v: read failed: %v", compress, err)
		}
		if len(rows) != 1 || len(skipped) != 0 {
			t.Fatalf("compress=%v: expected 1 row, got %d (%d skipped)", compress, len(rows), len(skipped))
		}
		out := rows[0]
		if !out.Timestamp.Equal(in.Timestamp) {
			t.Errorf("compress=%v: expected timestamp %v, got %v", compress, in.Timestamp, out.Timestamp)
		}
		out.Line = 0
		out.Timestamp = in.Timestamp
		if out != in {
			t.Errorf("compress=%v: expected %+v, got %+v", compress, in, out)
		}
	}
}

func TestRowErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &RowError{Line: 3, Column: ColCSI, Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("expected RowError to unwrap")
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
