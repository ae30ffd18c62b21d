// Package dataset reads, writes and partitions tab-separated ESP32 CSI capture tables
package dataset

import (
	"time"

	"esp32-csi/internal/csi"
	"esp32-csi/internal/geo"
)

// Column names of the capture table
const (
	ColReceiverID  = "se"
	ColTxLatitude  = "ma_lat"
	ColTxLongitude = "ma_lon"
	ColRxLatitude  = "se_lat"
	ColRxLongitude = "se_lon"
	ColRSSI        = "rssi"
	ColSigMode     = "sig_mode"
	ColCSI         = "csi"
	ColMAC         = "mac"
	ColTimestamp   = "timestamp"
)

// requiredColumns must be present in every capture table header
var requiredColumns = []string{
	ColReceiverID,
	ColTxLongitude,
	ColTxLatitude,
	ColRxLongitude,
	ColRxLatitude,
	ColRSSI,
	ColSigMode,
	ColCSI,
}

// Header is the column order written by Writer
var Header = []string{
	ColTimestamp,
	ColReceiverID,
	ColMAC,
	ColTxLatitude,
	ColTxLongitude,
	ColRxLatitude,
	ColRxLongitude,
	ColRSSI,
	ColSigMode,
	ColCSI,
}

// Row is one CSI capture in the table
type Row struct {
	Line        int       // 1-based line number in the source, 0 when not read from a table
	Timestamp   time.Time // zero when the column is absent
	ReceiverID  string
	MAC         string
	Transmitter geo.Location
	Receiver    geo.Location
	RSSI        int
	SigMode     csi.SigMode
	CSI         string
}

// Record returns the decoder view of the row
func (r Row) Record() csi.Record {
	return csi.Record{SigMode: r.SigMode, RawCSI: r.CSI}
}

// Key returns the partitioning key of the row
func (r Row) Key() Key {
	return Key{
		ReceiverID:  r.ReceiverID,
		Transmitter: geo.Location{Latitude: r.Transmitter.Latitude, Longitude: r.Transmitter.Longitude},
		Receiver:    geo.Location{Latitude: r.Receiver.Latitude, Longitude: r.Receiver.Longitude},
	}
}
