package capture

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"esp32-csi/internal/config"
	"esp32-csi/internal/csi"
	"esp32-csi/internal/dataset"
	"esp32-csi/internal/esp32"
	"esp32-csi/internal/geo"
	"esp32-csi/internal/gps"
	"esp32-csi/internal/metrics"
	"esp32-csi/internal/processor"
)

var receiverSite = geo.Location{Latitude: 35.533, Longitude: -97.621, Altitude: 365.0}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Capture.ReceiverID = "rx01"
	cfg.Capture.FilePrefix = "test"
	cfg.Capture.OutputDir = t.TempDir()
	cfg.Transmitter = config.TransmitterConfig{Latitude: 35.540, Longitude: -97.600}
	cfg.GPS.ManualLatitude = receiverSite.Latitude
	cfg.GPS.ManualLongitude = receiverSite.Longitude
	cfg.GPS.ManualAltitude = receiverSite.Altitude
	cfg.ESP32.Simulate = true
	return cfg
}

func newSimulator(t *testing.T, cfg esp32.SimulatorConfig) *esp32.Simulator {
	t.Helper()
	sim, err := esp32.NewSimulator(cfg)
	if err != nil {
		t.Fatalf("Failed to create simulator: %v", err)
	}
	return sim
}

func TestCaptureUntilSourceEnds(t *testing.T) {
	cfg := testConfig(t)
	sim := newSimulator(t, esp32.SimulatorConfig{Width: 256, SigMode: csi.HT, Count: 5, Seed: 7})

	c, err := New(cfg, sim, gps.NewManual(receiverSite), nil, metrics.New())
	if err != nil {
		t.Fatalf("Failed to create capture: %v", err)
	}
	if len(c.SessionID()) != 36 {
		t.Errorf("expected uuid session id, got %q", c.SessionID())
	}

	var buf bytes.Buffer
	w, err := dataset.NewWriter(&buf, false)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	summary, err := c.Run(context.Background(), w)
	if err != nil {
		t.Fatalf("Expected capture to succeed but got error: %v", err)
	}
	if summary.Rows != 5 || summary.Widths[256] != 5 {
		t.Errorf("unexpected summary: rows=%d widths=%v", summary.Rows, summary.Widths)
	}
	if summary.Lines.Ignored != 2 {
		t.Errorf("expected banner and header ignored, got %d", summary.Lines.Ignored)
	}

	rows, skipped, err := dataset.ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(rows) != 5 || len(skipped) != 0 {
		t.Fatalf("expected 5 clean rows, got %d (%d skipped)", len(rows), len(skipped))
	}
	r := rows[0]
	if r.ReceiverID != "rx01" || r.SigMode != csi.HT || r.Timestamp.IsZero() {
		t.Errorf("unexpected row: %+v", r)
	}
	if r.Receiver.Latitude != receiverSite.Latitude || r.Transmitter.Longitude != -97.600 {
		t.Errorf("unexpected positions: rx %+v tx %+v", r.Receiver, r.Transmitter)
	}

	// captured rows feed straight into processing
	p, err := processor.NewProcessor(&processor.Config{TargetSigMode: int(csi.HT)}, nil, nil)
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	result, err := p.ProcessRows(context.Background(), rows)
	if err != nil {
		t.Fatalf("ProcessRows failed: %v", err)
	}
	grp := result.Transmissions[0].CSI.Groups[0]
	if grp.Records() != 5 || grp.Subcarriers() != 104 || grp.Degraded() {
		t.Errorf("unexpected group: %dx%d degraded=%v", grp.Records(), grp.Subcarriers(), grp.Degraded())
	}
}

func TestCaptureDuration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Duration = 150 * time.Millisecond
	sim := newSimulator(t, esp32.SimulatorConfig{Width: 128, Interval: 5 * time.Millisecond})

	c, err := New(cfg, sim, gps.NewManual(receiverSite), nil, nil)
	if err != nil {
		t.Fatalf("Failed to create capture: %v", err)
	}

	var buf bytes.Buffer
	w, _ := dataset.NewWriter(&buf, false)

	startTime := time.Now()
	summary, err := c.Run(context.Background(), w)
	elapsedTime := time.Since(startTime)

	if err != nil {
		t.Fatalf("Expected capture to stop cleanly but got error: %v", err)
	}
	if elapsedTime < cfg.Capture.Duration {
		t.Fatalf("Capture completed too quickly. Expected at least %v, got %v", cfg.Capture.Duration, elapsedTime)
	}
	if elapsedTime > cfg.Capture.Duration+2*time.Second {
		t.Fatalf("Capture took too long: %v", elapsedTime)
	}
	if summary.Rows == 0 {
		t.Error("expected rows to be captured")
	}
}

func TestCaptureCancelled(t *testing.T) {
	cfg := testConfig(t)
	sim := newSimulator(t, esp32.SimulatorConfig{Width: 128, Interval: 5 * time.Millisecond})

	c, err := New(cfg, sim, gps.NewManual(receiverSite), nil, nil)
	if err != nil {
		t.Fatalf("Failed to create capture: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	var buf bytes.Buffer
	w, _ := dataset.NewWriter(&buf, false)
	if _, err := c.Run(ctx, w); err != nil {
		t.Errorf("cancellation should end the capture cleanly, got %v", err)
	}
}

func TestCaptureGPSTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.GPS.Mode = gps.ModeNMEA
	cfg.GPS.Timeout = 20 * time.Millisecond
	sim := newSimulator(t, esp32.SimulatorConfig{Width: 128, Count: 1})

	// tracker that never sees a sentence
	tracker := gps.NewTracker(strings.NewReader(""), nil)

	c, err := New(cfg, sim, tracker, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create capture: %v", err)
	}

	var buf bytes.Buffer
	w, _ := dataset.NewWriter(&buf, false)
	if _, err := c.Run(context.Background(), w); err == nil || !strings.Contains(err.Error(), "GPS fix failed") {
		t.Errorf("expected GPS fix failure, got %v", err)
	}
}

func TestRunToFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Compress = true
	sim := newSimulator(t, esp32.SimulatorConfig{Width: 384, SigMode: csi.HT, Count: 3})

	c, err := New(cfg, sim, gps.NewManual(receiverSite), nil, nil)
	if err != nil {
		t.Fatalf("Failed to create capture: %v", err)
	}

	summary, err := c.RunToFile(context.Background())
	if err != nil {
		t.Fatalf("RunToFile failed: %v", err)
	}

	base := filepath.Base(summary.Path)
	if !strings.HasPrefix(base, "test-rx01-") || !strings.HasSuffix(base, ".csv.gz") {
		t.Errorf("unexpected file name %s", base)
	}

	f, err := os.Open(summary.Path)
	if err != nil {
		t.Fatalf("Failed to open dataset: %v", err)
	}
	defer f.Close()

	rows, _, err := dataset.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 rows, got %d", len(rows))
	}
}

func TestNewValidates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.ReceiverID = ""
	sim := newSimulator(t, esp32.SimulatorConfig{Width: 128})

	if _, err := New(cfg, sim, gps.NewManual(receiverSite), nil, nil); err == nil {
		t.Error("expected error for missing receiver id")
	}
	if _, err := New(testConfig(t), nil, gps.NewManual(receiverSite), nil, nil); err == nil {
		t.Error("expected error for nil source")
	}
}
