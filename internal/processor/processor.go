// Package processor turns partitioned CSI capture tables into per-transmission
// amplitude, phase and channel estimates
package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"esp32-csi/internal/channel"
	"esp32-csi/internal/csi"
	"esp32-csi/internal/dataset"
	"esp32-csi/internal/logging"
	"esp32-csi/internal/metrics"
)

// ErrNothingToProcess is returned when no partition has a decodable record
var ErrNothingToProcess = errors.New("processor: nothing to process")

// Config holds the configuration for CSI processing
type Config struct {
	TargetSigMode        int     // signal mode kept for decoding (0 non-HT, 1 HT)
	Workers              int     // partitions processed concurrently, 0 for GOMAXPROCS
	SubcarrierSpacingKHz float64 // used for the delay axis of channel estimates
	WithChannel          bool    // compute impulse response and power delay profile per record
}

// Transmission is the processed view of one partition: one receiver at one
// place hearing one transmitter at one place
type Transmission struct {
	Key        dataset.Key
	DistanceKm float64
	Rows       int                  // rows in the partition
	Filtered   int                  // rows excluded by signal mode
	Failures   []*csi.ParseError    // rows dropped because their CSI did not decode
	CSI        *csi.Result          // nil when Err is set
	Channel    [][]channel.Estimate // per width group, per record; nil unless enabled
	RSSI       [][]int              // per width group, per record
	Err        error                // wraps csi.ErrEmptyBatch when the partition was skipped
}

// Skipped reports whether the partition produced no output
func (t *Transmission) Skipped() bool {
	return t.Err != nil
}

// Description returns a human readable label for the transmission
func (t *Transmission) Description() string {
	return t.Key.String()
}

// Result holds the complete processing results
type Result struct {
	Transmissions  []*Transmission // in input order, skipped partitions included
	TargetSigMode  csi.SigMode
	ProcessingTime time.Time
}

// Processed returns the transmissions that produced output
func (r *Result) Processed() []*Transmission {
	var out []*Transmission
	for _, t := range r.Transmissions {
		if !t.Skipped() {
			out = append(out, t)
		}
	}
	return out
}

// Processor handles CSI processing for partitioned capture tables
type Processor struct {
	config  *Config
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewProcessor creates a new CSI processor with the given configuration.
// logger and m may be nil.
func NewProcessor(config *Config, logger logrus.FieldLogger, m *metrics.Metrics) (*Processor, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if config.TargetSigMode != int(csi.NonHT) && config.TargetSigMode != int(csi.HT) {
		return nil, fmt.Errorf("target signal mode must be 0 (non-HT) or 1 (HT), got %d", config.TargetSigMode)
	}

	if config.Workers < 0 {
		return nil, fmt.Errorf("workers cannot be negative")
	}
	if config.Workers == 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}

	if config.SubcarrierSpacingKHz < 0 {
		return nil, fmt.Errorf("subcarrier spacing must be positive")
	}
	if config.SubcarrierSpacingKHz == 0 {
		config.SubcarrierSpacingKHz = channel.SubcarrierSpacingKHz
	}

	return &Processor{
		config:  config,
		log:     logging.OrDiscard(logger),
		metrics: m,
	}, nil
}

// ProcessRows partitions rows by receiver/transmitter key and processes every partition
func (p *Processor) ProcessRows(ctx context.Context, rows []dataset.Row) (*Result, error) {
	return p.ProcessAll(ctx, dataset.Split(rows))
}

// ProcessAll processes partitions concurrently. Partitions without decodable
// records are kept in the result with Err set; ErrNothingToProcess is
// returned when that is true for all of them.
func (p *Processor) ProcessAll(ctx context.Context, parts []dataset.Partition) (*Result, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no partitions: %w", ErrNothingToProcess)
	}

	result := &Result{
		Transmissions: make([]*Transmission, len(parts)),
		TargetSigMode: csi.SigMode(p.config.TargetSigMode),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)

	for i := range parts {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result.Transmissions[i] = p.ProcessPartition(parts[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("processing cancelled: %w", err)
	}
	result.ProcessingTime = time.Now()

	if len(result.Processed()) == 0 {
		return result, fmt.Errorf("all %d partitions empty after filtering: %w", len(parts), ErrNothingToProcess)
	}
	return result, nil
}

// ProcessPartition decodes, cleans and converts one partition. It never
// fails; a partition without decodable records comes back with Err set.
func (p *Processor) ProcessPartition(part dataset.Partition) *Transmission {
	t := &Transmission{
		Key:        part.Key,
		DistanceKm: part.Key.Distance(),
		Rows:       len(part.Rows),
	}
	log := p.log.WithFields(logrus.Fields{
		"receiver":    part.Key.ReceiverID,
		"distance_km": fmt.Sprintf("%.4f", t.DistanceKm),
	})

	batch, err := csi.DecodeBatch(part.Records(), csi.SigMode(p.config.TargetSigMode))
	if batch != nil {
		t.Filtered = batch.Filtered
		t.Failures = batch.Failures
		p.metrics.RecordDropped(metrics.ReasonSigMode, batch.Filtered)
		p.metrics.RecordDropped(metrics.ReasonParse, len(batch.Failures))
		for _, f := range batch.Failures {
			log.WithField("line", part.Rows[f.Index].Line).Debugf("dropping record: %v", f)
		}
	}
	if err != nil {
		t.Err = fmt.Errorf("%s: %w", part.Key, err)
		log.WithField("rows", t.Rows).Info("skipping partition with nothing to process")
		return t
	}
	p.metrics.RecordDecoded(len(batch.Records))

	t.CSI = csi.Process(batch.Records)

	for _, grp := range t.CSI.Groups {
		p.metrics.GroupProcessed(grp.Layout.Width, grp.Degraded())
		if grp.Warning != nil {
			log.WithFields(logrus.Fields{
				"width":   grp.Layout.Width,
				"records": grp.Records(),
			}).Warnf("unsupported CSI format, null subcarriers not removed: %v", grp.Warning)
		}

		rssi := make([]int, len(grp.Indices))
		for j, idx := range grp.Indices {
			rssi[j] = part.Rows[idx].RSSI
		}
		t.RSSI = append(t.RSSI, rssi)

		if p.config.WithChannel {
			t.Channel = append(t.Channel, analyzeGroup(grp))
		}
	}

	log.WithFields(logrus.Fields{
		"records":  t.CSI.Records(),
		"groups":   len(t.CSI.Groups),
		"filtered": t.Filtered,
		"failures": len(t.Failures),
	}).Info("processed partition")

	return t
}

// DelayAxis returns the delay axis in microseconds for a group's channel estimates
func (p *Processor) DelayAxis(grp *csi.Group) []float64 {
	return channel.DelayAxis(grp.Subcarriers(), p.config.SubcarrierSpacingKHz)
}

func analyzeGroup(grp *csi.Group) []channel.Estimate {
	rows := grp.Records()
	out := make([]channel.Estimate, rows)
	for r := 0; r < rows; r++ {
		out[r] = channel.Analyze(grp.Amplitude.RawRowView(r), grp.Phase.RawRowView(r))
	}
	return out
}
