// Package processor - Export functions for CSI processing results
package processor

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"esp32-csi/internal/geo"
)

// Export writes the result in the named format: csv, json, geojson or kml
func (r *Result) Export(w io.Writer, format string) error {
	switch format {
	case "csv":
		return r.ExportCSV(w)
	case "json":
		return r.ExportJSON(w)
	case "geojson":
		return r.ExportGeoJSON(w)
	case "kml":
		return r.ExportKML(w)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// ExportCSV writes one row per transmission, record and subcarrier
func (r *Result) ExportCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	writer.Write([]string{"# CSI Amplitude/Phase Export"})
	writer.Write([]string{"# Processing Time", r.ProcessingTime.Format("2006-01-02 15:04:05")})
	writer.Write([]string{"# Signal Mode", r.TargetSigMode.String()})
	writer.Write([]string{
		"Transmission", "Receiver_ID", "Distance_m", "Record", "Width", "Degraded",
		"RSSI", "Subcarrier", "Amplitude", "Phase_rad",
	})

	for ti, t := range r.Processed() {
		for gi, grp := range t.CSI.Groups {
			rows, cols := grp.Amplitude.Dims()
			for rec := 0; rec < rows; rec++ {
				for k := 0; k < cols; k++ {
					writer.Write([]string{
						strconv.Itoa(ti),
						t.Key.ReceiverID,
						fmt.Sprintf("%.2f", t.DistanceKm*1000),
						strconv.Itoa(grp.Indices[rec]),
						strconv.Itoa(grp.Layout.Width),
						strconv.FormatBool(grp.Degraded()),
						strconv.Itoa(t.RSSI[gi][rec]),
						strconv.Itoa(k),
						strconv.FormatFloat(grp.Amplitude.At(rec, k), 'f', 6, 64),
						strconv.FormatFloat(grp.Phase.At(rec, k), 'f', 6, 64),
					})
				}
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// jsonGroup is the JSON form of one width group
type jsonGroup struct {
	Width           int         `json:"width"`
	Subcarriers     int         `json:"subcarriers"`
	Degraded        bool        `json:"degraded"`
	Records         []int       `json:"records"`
	RSSI            []int       `json:"rssi"`
	Amplitude       [][]float64 `json:"amplitude"`
	Phase           [][]float64 `json:"phase"`
	DirectPathPower []float64   `json:"direct_path_power_db,omitempty"`
}

// jsonTransmission is the JSON form of one transmission
type jsonTransmission struct {
	ReceiverID  string       `json:"receiver_id"`
	Receiver    geo.Location `json:"receiver"`
	Transmitter geo.Location `json:"transmitter"`
	DistanceM   float64      `json:"distance_m"`
	Rows        int          `json:"rows"`
	Filtered    int          `json:"filtered"`
	Failures    []string     `json:"failures,omitempty"`
	Skipped     string       `json:"skipped,omitempty"`
	Groups      []jsonGroup  `json:"groups,omitempty"`
}

// ExportJSON writes the full result, matrices included, as indented JSON
func (r *Result) ExportJSON(w io.Writer) error {
	doc := struct {
		ProcessingTime string             `json:"processing_time"`
		SignalMode     string             `json:"signal_mode"`
		Transmissions  []jsonTransmission `json:"transmissions"`
	}{
		ProcessingTime: r.ProcessingTime.Format("2006-01-02T15:04:05Z07:00"),
		SignalMode:     r.TargetSigMode.String(),
	}

	for _, t := range r.Transmissions {
		jt := jsonTransmission{
			ReceiverID:  t.Key.ReceiverID,
			Receiver:    t.Key.Receiver,
			Transmitter: t.Key.Transmitter,
			DistanceM:   t.DistanceKm * 1000,
			Rows:        t.Rows,
			Filtered:    t.Filtered,
		}
		for _, f := range t.Failures {
			jt.Failures = append(jt.Failures, f.Error())
		}
		if t.Skipped() {
			jt.Skipped = t.Err.Error()
			doc.Transmissions = append(doc.Transmissions, jt)
			continue
		}

		for gi, grp := range t.CSI.Groups {
			jg := jsonGroup{
				Width:       grp.Layout.Width,
				Subcarriers: grp.Subcarriers(),
				Degraded:    grp.Degraded(),
				Records:     grp.Indices,
				RSSI:        t.RSSI[gi],
				Amplitude:   denseRows(grp.Amplitude),
				Phase:       denseRows(grp.Phase),
			}
			if gi < len(t.Channel) {
				for _, est := range t.Channel[gi] {
					jg.DirectPathPower = append(jg.DirectPathPower, finite(est.DirectPathPower))
				}
			}
			jt.Groups = append(jt.Groups, jg)
		}
		doc.Transmissions = append(doc.Transmissions, jt)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportGeoJSON writes receiver and transmitter sites and the link between
// them for every processed transmission
func (r *Result) ExportGeoJSON(w io.Writer) error {
	geojson := map[string]interface{}{
		"type": "FeatureCollection",
		"properties": map[string]interface{}{
			"title":           "ESP32 CSI Capture Sites",
			"signal_mode":     r.TargetSigMode.String(),
			"processing_time": r.ProcessingTime.Format("2006-01-02T15:04:05Z"),
		},
	}

	features := []map[string]interface{}{}
	seenTx := map[geo.Location]bool{}

	for _, t := range r.Processed() {
		tx, rx := t.Key.Transmitter, t.Key.Receiver

		if !seenTx[tx] {
			seenTx[tx] = true
			features = append(features, pointFeature(tx, map[string]interface{}{
				"name": "Transmitter",
				"type": "transmitter",
			}))
		}

		features = append(features, pointFeature(rx, map[string]interface{}{
			"name":    t.Key.ReceiverID,
			"type":    "receiver",
			"records": t.CSI.Records(),
		}))

		features = append(features, map[string]interface{}{
			"type": "Feature",
			"geometry": map[string]interface{}{
				"type": "LineString",
				"coordinates": [][]float64{
					{tx.Longitude, tx.Latitude},
					{rx.Longitude, rx.Latitude},
				},
			},
			"properties": map[string]interface{}{
				"name":       fmt.Sprintf("%s link", t.Key.ReceiverID),
				"type":       "link",
				"distance_m": t.DistanceKm * 1000,
				"records":    t.CSI.Records(),
				"filtered":   t.Filtered,
				"failures":   len(t.Failures),
				"mean_rssi":  meanRSSI(t.RSSI),
			},
		})
	}

	geojson["features"] = features

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(geojson); err != nil {
		return fmt.Errorf("failed to encode GeoJSON: %w", err)
	}
	return nil
}

// ExportKML writes receiver and transmitter placemarks, the links between
// them and a range ring around the transmitter for each link distance
func (r *Result) ExportKML(w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf(`<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <name>ESP32 CSI Capture Sites</name>
    <description>Signal mode: %s</description>
    <Style id="transmitterStyle">
      <IconStyle>
        <Icon>
          <href>http://maps.google.com/mapfiles/kml/shapes/target.png</href>
        </Icon>
        <color>ff0000ff</color>
      </IconStyle>
    </Style>
    <Style id="receiverStyle">
      <IconStyle>
        <Icon>
          <href>http://maps.google.com/mapfiles/kml/shapes/placemark_circle.png</href>
        </Icon>
        <color>ff00ff00</color>
      </IconStyle>
    </Style>
    <Style id="linkStyle">
      <LineStyle>
        <color>ff00ffff</color>
        <width>2</width>
      </LineStyle>
    </Style>
    <Style id="rangeStyle">
      <LineStyle>
        <color>7f0000ff</color>
        <width>1</width>
      </LineStyle>
    </Style>
`, r.TargetSigMode)

	seenTx := map[geo.Location]bool{}
	for _, t := range r.Processed() {
		tx, rx := t.Key.Transmitter, t.Key.Receiver

		if !seenTx[tx] {
			seenTx[tx] = true
			ew.printf(`    <Placemark>
      <name>Transmitter</name>
      <styleUrl>#transmitterStyle</styleUrl>
      <Point>
        <coordinates>%.8f,%.8f,%.1f</coordinates>
      </Point>
    </Placemark>
`, tx.Longitude, tx.Latitude, tx.Altitude)
		}

		ew.printf(`    <Placemark>
      <name>%s</name>
      <description>Records: %d, Distance: %.1f m</description>
      <styleUrl>#receiverStyle</styleUrl>
      <Point>
        <coordinates>%.8f,%.8f,%.1f</coordinates>
      </Point>
    </Placemark>
    <Placemark>
      <name>%s link</name>
      <styleUrl>#linkStyle</styleUrl>
      <LineString>
        <coordinates>%.8f,%.8f,%.1f %.8f,%.8f,%.1f</coordinates>
      </LineString>
    </Placemark>
    <Placemark>
      <name>%s range</name>
      <styleUrl>#rangeStyle</styleUrl>
      <LineString>
        <coordinates>
`, t.Key.ReceiverID, t.CSI.Records(), t.DistanceKm*1000,
			rx.Longitude, rx.Latitude, rx.Altitude,
			t.Key.ReceiverID,
			tx.Longitude, tx.Latitude, tx.Altitude, rx.Longitude, rx.Latitude, rx.Altitude,
			t.Key.ReceiverID)

		ring := generateCirclePoints(tx, t.DistanceKm*1000, 36)
		for _, p := range append(ring, ring[0]) {
			ew.printf("%.8f,%.8f,%.1f ", p.Longitude, p.Latitude, p.Altitude)
		}

		ew.printf(`
        </coordinates>
      </LineString>
    </Placemark>
`)
	}

	ew.printf(`  </Document>
</kml>
`)

	if ew.err != nil {
		return fmt.Errorf("failed to write KML: %w", ew.err)
	}
	return nil
}

func pointFeature(loc geo.Location, props map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type": "Feature",
		"geometry": map[string]interface{}{
			"type":        "Point",
			"coordinates": []float64{loc.Longitude, loc.Latitude},
		},
		"properties": props,
	}
}

// generateCirclePoints generates points around a circle for a given center and radius
func generateCirclePoints(center geo.Location, radiusMeters float64, numPoints int) []geo.Location {
	points := make([]geo.Location, numPoints)

	// Convert radius from meters to degrees (approximate)
	latRadiusDeg := radiusMeters / 111000.0
	lonRadiusDeg := radiusMeters / (111000.0 * math.Cos(center.Latitude*math.Pi/180))

	for i := 0; i < numPoints; i++ {
		angle := 2 * math.Pi * float64(i) / float64(numPoints)
		points[i] = geo.Location{
			Latitude:  center.Latitude + latRadiusDeg*math.Sin(angle),
			Longitude: center.Longitude + lonRadiusDeg*math.Cos(angle),
			Altitude:  center.Altitude,
		}
	}

	return points
}

func denseRows(m *mat.Dense) [][]float64 {
	rows, cols := m.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		copy(out[i], m.RawRowView(i))
	}
	return out
}

// meanRSSI averages the RSSI of one link's records for map labels
func meanRSSI(rssi [][]int) float64 {
	sum, n := 0, 0
	for _, g := range rssi {
		for _, v := range g {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// finite maps ±Inf (silent channels) to the lowest float so JSON stays valid
func finite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return -math.MaxFloat64
	}
	return v
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
