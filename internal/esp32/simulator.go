package esp32

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"esp32-csi/internal/csi"
)

// SimulatorConfig controls the synthetic firmware output
type SimulatorConfig struct {
	Width    int           // raw sample count per frame: 128, 256 or 384
	SigMode  csi.SigMode   // signal mode reported on every frame
	MAC      string        // transmitter MAC
	Interval time.Duration // delay between frames, 0 for none
	Count    int           // frames to emit before EOF, 0 for unlimited
	Seed     int64
}

// Simulator is an io.ReadCloser producing firmware-formatted CSI lines. It
// stands in for a Port when no ESP32 is attached.
type Simulator struct {
	cfg  SimulatorConfig
	rng  *rand.Rand
	buf  bytes.Buffer
	sent int
	ts   uint64
	// null slots of the layout, zeroed like the radio does
	nulls map[int]bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewSimulator validates cfg and creates a simulator
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Width <= 0 || cfg.Width%2 != 0 {
		return nil, fmt.Errorf("simulator width must be a positive even number, got %d", cfg.Width)
	}
	if cfg.Count < 0 {
		return nil, fmt.Errorf("simulator count cannot be negative")
	}
	if cfg.MAC == "" {
		cfg.MAC = "24:0a:c4:00:00:01"
	}

	nulls := make(map[int]bool)
	for _, i := range csi.LayoutFor(cfg.Width).Nulls() {
		nulls[i] = true
	}

	s := &Simulator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		nulls: nulls,
		done:  make(chan struct{}),
	}
	// Firmware prints a banner and a column header before data
	s.buf.WriteString("I (312) wifi: mode : sta (24:0a:c4:00:00:02)\n")
	s.buf.WriteString("type,role,mac,rssi,rate,sig_mode,mcs,bandwidth,smoothing,not_sounding,aggregation,stbc,fec_coding,sgi,noise_floor,ampdu_cnt,channel,secondary_channel,local_timestamp,ant,sig_len,rx_state,real_time_set,real_timestamp,len,CSI_DATA\n")
	return s, nil
}

// Read implements io.Reader
func (s *Simulator) Read(p []byte) (int, error) {
	for s.buf.Len() == 0 {
		if s.cfg.Count > 0 && s.sent >= s.cfg.Count {
			return 0, io.EOF
		}
		if s.sent > 0 && s.cfg.Interval > 0 {
			select {
			case <-time.After(s.cfg.Interval):
			case <-s.done:
				return 0, io.EOF
			}
		}
		select {
		case <-s.done:
			return 0, io.EOF
		default:
		}

		s.buf.WriteString(s.Next().Line())
		s.buf.WriteByte('\n')
	}
	return s.buf.Read(p)
}

// Next generates one frame. A slowly drifting multipath channel is modelled
// as two taps so amplitude and phase vary across subcarriers.
func (s *Simulator) Next() *Frame {
	s.sent++
	s.ts += 100000 + uint64(s.rng.Intn(1000))

	pairs := s.cfg.Width / 2
	delay := 0.05 + 0.01*s.rng.Float64()
	echo := 0.3 + 0.2*s.rng.Float64()
	gain := 20 + 5*s.rng.Float64()

	samples := make([]int, s.cfg.Width)
	for k := 0; k < pairs; k++ {
		if s.nulls[2*k] {
			continue
		}
		theta := -2 * math.Pi * delay * float64(k)
		re := gain * (1 + echo*math.Cos(theta))
		im := gain * echo * math.Sin(theta)
		samples[2*k] = int(math.Round(im + s.rng.NormFloat64()))
		samples[2*k+1] = int(math.Round(re + s.rng.NormFloat64()))
	}

	return &Frame{
		Role:           "STA",
		MAC:            s.cfg.MAC,
		RSSI:           -40 - s.rng.Intn(40),
		Rate:           11,
		SigMode:        s.cfg.SigMode,
		Bandwidth:      boolInt(s.cfg.Width > 128),
		NoiseFloor:     -95,
		Channel:        6,
		LocalTimestamp: s.ts,
		Samples:        samples,
	}
}

// Close makes pending and future reads return io.EOF
func (s *Simulator) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Simulator) String() string {
	return fmt.Sprintf("simulator:%d", s.cfg.Width)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
