package dataset

import (
	"fmt"

	"esp32-csi/internal/csi"
	"esp32-csi/internal/geo"
)

// Key identifies a homogeneous group of captures: one receiver at one place
// hearing one transmitter at one place
type Key struct {
	ReceiverID  string
	Transmitter geo.Location
	Receiver    geo.Location
}

func (k Key) String() string {
	return fmt.Sprintf("rx %s at (%.6f,%.6f) tx at (%.6f,%.6f)",
		k.ReceiverID, k.Receiver.Latitude, k.Receiver.Longitude,
		k.Transmitter.Latitude, k.Transmitter.Longitude)
}

// Distance returns the great-circle distance between receiver and transmitter in km
func (k Key) Distance() float64 {
	return geo.Distance(k.Receiver, k.Transmitter)
}

// Partition is the set of rows sharing a Key
type Partition struct {
	Key  Key
	Rows []Row
}

// Records returns the decoder input for every row of the partition
func (p Partition) Records() []csi.Record {
	records := make([]csi.Record, len(p.Rows))
	for i, r := range p.Rows {
		records[i] = r.Record()
	}
	return records
}

// Split groups rows by Key. Partitions are returned in order of first
// appearance and are never empty.
func Split(rows []Row) []Partition {
	index := make(map[Key]int)
	var parts []Partition

	for _, r := range rows {
		k := r.Key()
		i, ok := index[k]
		if !ok {
			i = len(parts)
			index[k] = i
			parts = append(parts, Partition{Key: k})
		}
		parts[i].Rows = append(parts[i].Rows, r)
	}
	return parts
}
