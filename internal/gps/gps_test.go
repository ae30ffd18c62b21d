package gps

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stratoberry/go-gpsd"

	"esp32-csi/internal/geo"
)

const (
	ggaFix   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	ggaNoFix = "$GPGGA,123519,,,,,0,00,,,M,,M,,*6B"
	rmcValid = "$GPRMC,123520,A,4807.100,N,01131.200,E,022.4,084.4,150624,003.1,W*63"
	rmcVoid  = "$GPRMC,123520,V,4807.100,N,01131.200,E,022.4,084.4,230394,003.1,W*7F"
	gsa      = "$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1*39"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestTrackerGGA(t *testing.T) {
	tr := NewTracker(strings.NewReader(""), nil)

	tr.Feed(ggaNoFix)
	if tr.IsFixValid() {
		t.Fatal("expected no fix from quality 0 GGA")
	}
	if _, err := tr.Current(); err == nil {
		t.Error("expected error without fix")
	}

	tr.Feed(gsa)
	tr.Feed("garbage")
	tr.Feed("$GPGGA,bad*00")
	tr.Feed(ggaFix)

	pos, err := tr.Current()
	if err != nil {
		t.Fatalf("expected fix: %v", err)
	}
	if !near(pos.Latitude, 48.1173) || !near(pos.Longitude, 11.516666666) {
		t.Errorf("unexpected position: %f, %f", pos.Latitude, pos.Longitude)
	}
	if pos.Altitude != 545.4 || pos.Satellites != 8 || pos.FixQuality != 1 {
		t.Errorf("unexpected fix details: %+v", pos)
	}
	if got := tr.FixQualityString(); got != "GPS fix (SPS)" {
		t.Errorf("unexpected quality string: %s", got)
	}

	loc := pos.Location()
	if loc.Altitude != 545.4 || loc.Latitude != pos.Latitude {
		t.Errorf("unexpected location: %+v", loc)
	}
}

func TestTrackerRMC(t *testing.T) {
	tr := NewTracker(strings.NewReader(""), nil)

	// RMC alone never creates a fix
	tr.Feed(rmcValid)
	if tr.IsFixValid() {
		t.Fatal("RMC without GGA should not produce a fix")
	}

	tr.Feed(ggaFix)
	tr.Feed(rmcVoid)
	pos, _ := tr.Current()
	if !near(pos.Latitude, 48.1173) {
		t.Errorf("void RMC should not move the fix, got %f", pos.Latitude)
	}

	tr.Feed(rmcValid)
	pos, _ = tr.Current()
	if !near(pos.Latitude, 48.118333333) || !near(pos.Longitude, 11.52) {
		t.Errorf("unexpected RMC position: %f, %f", pos.Latitude, pos.Longitude)
	}
	if pos.Altitude != 545.4 || pos.Satellites != 8 {
		t.Errorf("RMC should keep altitude and satellites: %+v", pos)
	}
	want := time.Date(2024, time.June, 15, 12, 35, 20, 0, time.UTC)
	if !pos.Timestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, pos.Timestamp)
	}
}

func TestTrackerWaitForFix(t *testing.T) {
	stream := strings.Join([]string{ggaNoFix, gsa, ggaFix}, "\r\n") + "\r\n"
	tr := NewTracker(strings.NewReader(stream), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pos, err := tr.WaitForFix(ctx)
	if err != nil {
		t.Fatalf("WaitForFix failed: %v", err)
	}
	if pos.Satellites != 8 {
		t.Errorf("expected 8 satellites, got %d", pos.Satellites)
	}
}

func TestTrackerStreamEndsWithoutFix(t *testing.T) {
	tr := NewTracker(strings.NewReader(ggaNoFix+"\n"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr.Start(ctx)
	if _, err := tr.WaitForFix(ctx); !errors.Is(err, ErrStreamEnded) {
		t.Errorf("expected ErrStreamEnded, got %v", err)
	}
}

func TestTrackerWaitForFixTimeout(t *testing.T) {
	tr := NewTracker(strings.NewReader(""), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// not started: only the context can end the wait
	if _, err := tr.WaitForFix(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestGPSDSatelliteCountPreservation(t *testing.T) {
	g := NewGPSDClient("localhost", "2947", nil)
	if g.address != "localhost:2947" {
		t.Errorf("unexpected address %s", g.address)
	}

	// SKY report arriving first
	g.handleSKY(&gpsd.SKYReport{Satellites: make([]gpsd.Satellite, 4)})
	if g.IsFixValid() {
		t.Fatal("SKY report alone should not produce a fix")
	}

	g.handleTPV(&gpsd.TPVReport{
		Mode: 3,
		Lat:  33.349,
		Lon:  -111.758,
		Alt:  359.84,
		Time: time.Now(),
	})

	pos, err := g.Current()
	if err != nil {
		t.Fatalf("expected fix: %v", err)
	}
	if pos.FixQuality != 1 {
		t.Errorf("Expected fix quality 1, got %d", pos.FixQuality)
	}
	if pos.Satellites != 4 {
		t.Errorf("Expected 4 satellites to be preserved, got %d", pos.Satellites)
	}
	if pos.Latitude != 33.349 || pos.Longitude != -111.758 {
		t.Errorf("unexpected position: %f, %f", pos.Latitude, pos.Longitude)
	}

	// later SKY report updates the count and keeps the fix
	g.handleSKY(&gpsd.SKYReport{Satellites: make([]gpsd.Satellite, 6)})
	pos, _ = g.Current()
	if pos.Satellites != 6 || pos.Latitude != 33.349 {
		t.Errorf("unexpected position after SKY update: %+v", pos)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := g.WaitForFix(ctx); err != nil {
		t.Errorf("WaitForFix with existing fix failed: %v", err)
	}
}

func TestGPSDIgnoresNoFix(t *testing.T) {
	g := NewGPSDClient("", "", nil)
	if g.address != gpsd.DefaultAddress {
		t.Errorf("expected default address, got %s", g.address)
	}

	g.handleTPV(&gpsd.TPVReport{Mode: 1, Lat: 33.3, Lon: -111.7})
	g.handleTPV(&gpsd.TPVReport{Mode: 3})
	if g.IsFixValid() {
		t.Error("expected no fix from mode 1 or zero coordinates")
	}
}

func TestNew(t *testing.T) {
	src, err := New(Options{Mode: ModeManual, Manual: geo.Location{Latitude: -34.6, Longitude: -58.4, Altitude: 25}}, nil)
	if err != nil {
		t.Fatalf("New(manual) failed: %v", err)
	}
	pos, err := src.WaitForFix(context.Background())
	if err != nil {
		t.Fatalf("manual WaitForFix failed: %v", err)
	}
	if pos.Latitude != -34.6 || pos.Longitude != -58.4 || pos.Altitude != 25 {
		t.Errorf("unexpected manual position: %+v", pos)
	}
	if src.FixQualityString() != "Manual input mode" {
		t.Errorf("unexpected manual quality: %s", src.FixQualityString())
	}

	if _, err := New(Options{Mode: ModeManual, Manual: geo.Location{Latitude: 91}}, nil); err == nil {
		t.Error("expected error for invalid manual latitude")
	}
	if _, err := New(Options{Mode: "rtk"}, nil); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := New(Options{Mode: ModeGPSD}, nil); err != nil {
		t.Errorf("New(gpsd) should not connect before Start: %v", err)
	}
}
