package esp32

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"esp32-csi/internal/csi"
	"esp32-csi/internal/metrics"
)

const toolLine = "CSI_DATA,STA,24:0A:C4:01:02:03,-57,11,1,7,1,0,1,0,0,0,0,-93,0,6,1,18446744,0,36,0,0,0.0,8,[4 -2 0 0 3 5 -1 7 ]"

func TestParseLine(t *testing.T) {
	f, err := ParseLine(toolLine)
	if err != nil {
		t.Fatalf("ParseLine failed: %v", err)
	}

	if f.Role != "STA" || f.MAC != "24:0A:C4:01:02:03" {
		t.Errorf("unexpected role/mac: %s %s", f.Role, f.MAC)
	}
	if f.RSSI != -57 || f.Rate != 11 || f.SigMode != csi.HT {
		t.Errorf("unexpected rssi/rate/sig_mode: %d %d %v", f.RSSI, f.Rate, f.SigMode)
	}
	if f.MCS != 7 || f.Bandwidth != 1 || f.NoiseFloor != -93 || f.Channel != 6 {
		t.Errorf("unexpected radio fields: %+v", f)
	}
	if f.LocalTimestamp != 18446744 {
		t.Errorf("unexpected local timestamp: %d", f.LocalTimestamp)
	}
	if f.Width() != 8 {
		t.Fatalf("expected 8 samples, got %d", f.Width())
	}
	if got := f.RawCSI(); got != "4,-2,0,0,3,5,-1,7" {
		t.Errorf("unexpected raw CSI: %s", got)
	}

	samples, err := csi.Decode(f.RawCSI())
	if err != nil {
		t.Fatalf("RawCSI did not decode: %v", err)
	}
	if len(samples) != 8 || samples[7] != 7 {
		t.Errorf("unexpected decoded samples: %v", samples)
	}
}

func TestParseLineVariants(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    error
		samples int
	}{
		{"short form", "CSI_DATA,AP,aa:bb,-40,11,0,4,[1 2 3 4]", nil, 4},
		{"comma array", "CSI_DATA,AP,aa:bb,-40,11,0,4,[1,2,3,4]", nil, 4},
		{"quoted array", "CSI_DATA,AP,aa:bb,-40,11,0,4,\"[1,2,3,4]\"", nil, 4},
		{"trailing CR", "CSI_DATA,AP,aa:bb,-40,11,0,2,[1 2 ]\r", nil, 2},
		{"boot log", "I (312) wifi: mode : sta", ErrNotCSI, 0},
		{"header", "type,role,mac,rssi,rate,sig_mode,len,CSI_DATA", ErrNotCSI, 0},
		{"blank", "", ErrNotCSI, 0},
		{"truncated", "CSI_DATA,AP,aa:bb,-40,11,0,4,[1 2 3", ErrMalformed, 0},
		{"no array", "CSI_DATA,AP,aa:bb,-40,11,0,4", ErrMalformed, 0},
		{"length mismatch", "CSI_DATA,AP,aa:bb,-40,11,0,6,[1 2 3 4]", ErrMalformed, 0},
		{"bad rssi", "CSI_DATA,AP,aa:bb,x,11,0,2,[1 2]", ErrMalformed, 0},
		{"bad sample", "CSI_DATA,AP,aa:bb,-40,11,0,2,[1 z]", ErrMalformed, 0},
		{"too few fields", "CSI_DATA,AP,2,[1 2]", ErrMalformed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseLine(tt.line)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Width() != tt.samples {
				t.Errorf("expected %d samples, got %d", tt.samples, f.Width())
			}
		})
	}
}

func TestFrameLineRoundTrip(t *testing.T) {
	in := &Frame{
		Role:           "STA",
		MAC:            "24:0a:c4:00:00:01",
		RSSI:           -61,
		Rate:           11,
		SigMode:        csi.NonHT,
		MCS:            0,
		Bandwidth:      0,
		NoiseFloor:     -95,
		Channel:        11,
		LocalTimestamp: 123456,
		Samples:        []int{0, 0, 1, -1, 12, 9},
	}

	out, err := ParseLine(in.Line())
	if err != nil {
		t.Fatalf("ParseLine(Line()) failed: %v", err)
	}
	if out.RawCSI() != in.RawCSI() || out.RSSI != in.RSSI || out.Channel != in.Channel || out.LocalTimestamp != in.LocalTimestamp {
		t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestScannerRun(t *testing.T) {
	input := strings.Join([]string{
		"ets Jun  8 2016 00:22:57",
		"type,role,mac,rssi,rate,sig_mode,len,CSI_DATA",
		"CSI_DATA,AP,aa:bb,-40,11,1,4,[1 2 3 4]",
		"CSI_DATA,AP,aa:bb,-40,11,1,4,[1 2",
		"CSI_DATA,AP,aa:bb,-41,11,0,2,[5 6]",
	}, "\n") + "\n"

	m := metrics.New()
	s := NewScanner(strings.NewReader(input), nil, m)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	out := make(chan *Frame, 10)
	if err := s.Run(context.Background(), out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	close(out)

	var frames []*Frame
	for f := range out {
		frames = append(frames, f)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].SigMode != csi.HT || frames[1].RSSI != -41 {
		t.Errorf("unexpected frames: %+v %+v", frames[0], frames[1])
	}
	if !frames[0].Received.Equal(fixed) {
		t.Errorf("expected received time to be stamped, got %v", frames[0].Received)
	}

	stats := s.Stats()
	if stats.Frames != 2 || stats.Ignored != 2 || stats.Invalid != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestScannerCancel(t *testing.T) {
	sim, err := NewSimulator(SimulatorConfig{Width: 128, Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("NewSimulator failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *Frame)
	errCh := make(chan error, 1)
	go func() { errCh <- NewScanner(sim, nil, nil).Run(ctx, out) }()

	<-out
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop after cancel")
	}
}

func TestSimulator(t *testing.T) {
	for _, width := range csi.SupportedWidths() {
		sim, err := NewSimulator(SimulatorConfig{Width: width, SigMode: csi.HT, Count: 3, Seed: 1})
		if err != nil {
			t.Fatalf("NewSimulator(%d) failed: %v", width, err)
		}

		data, err := io.ReadAll(sim)
		if err != nil {
			t.Fatalf("ReadAll failed: %v", err)
		}

		var frames int
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			f, err := ParseLine(line)
			if errors.Is(err, ErrNotCSI) {
				continue
			}
			if err != nil {
				t.Fatalf("simulator produced bad line: %v", err)
			}
			frames++
			if f.Width() != width || f.SigMode != csi.HT {
				t.Errorf("unexpected frame width %d mode %v", f.Width(), f.SigMode)
			}
			for _, n := range csi.LayoutFor(width).Nulls() {
				if f.Samples[n] != 0 {
					t.Errorf("width %d: null position %d is %d", width, n, f.Samples[n])
					break
				}
			}
		}
		if frames != 3 {
			t.Errorf("width %d: expected 3 frames, got %d", width, frames)
		}
	}

	if _, err := NewSimulator(SimulatorConfig{Width: 7}); err == nil {
		t.Error("expected error for odd width")
	}
}

func TestSimulatorClose(t *testing.T) {
	sim, err := NewSimulator(SimulatorConfig{Width: 128, Interval: time.Hour})
	if err != nil {
		t.Fatalf("NewSimulator failed: %v", err)
	}

	buf := make([]byte, 1<<16)
	for i := 0; i < 2; i++ {
		// banner and header, then the first frame, are served without waiting
		if _, err := sim.Read(buf); err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		sim.Close()
	}()
	if _, err := sim.Read(buf); err != io.EOF {
		t.Errorf("expected io.EOF after Close, got %v", err)
	}
}
