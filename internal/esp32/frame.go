// Package esp32 reads CSI frames printed by ESP32 CSI firmware over a serial link
package esp32

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"esp32-csi/internal/csi"
)

// LinePrefix starts every CSI line printed by the firmware
const LinePrefix = "CSI_DATA"

var (
	// ErrNotCSI is returned for lines that are not CSI records (boot log, header, blank)
	ErrNotCSI = errors.New("esp32: not a CSI line")

	// ErrMalformed is returned for CSI lines that cannot be parsed
	ErrMalformed = errors.New("esp32: malformed CSI line")
)

// Metadata field positions in a full firmware line. Short lines carry only
// type, role, mac, rssi, rate, sig_mode and the trailing len.
const (
	fieldType = iota
	fieldRole
	fieldMAC
	fieldRSSI
	fieldRate
	fieldSigMode
	fieldMCS
	fieldBandwidth
	fieldSmoothing
	fieldNotSounding
	fieldAggregation
	fieldSTBC
	fieldFECCoding
	fieldSGI
	fieldNoiseFloor
	fieldAMPDUCount
	fieldChannel
	fieldSecondaryChannel
	fieldLocalTimestamp
	fieldAntenna
	fieldSigLen
	fieldRxState
	fieldRealTimeSet
	fieldRealTimestamp
	fieldLen

	fullFields  = fieldLen + 1
	shortFields = fieldSigMode + 2
)

// Frame is one CSI capture received from the ESP32
type Frame struct {
	Role           string // AP or STA
	MAC            string // transmitter MAC
	RSSI           int
	Rate           int
	SigMode        csi.SigMode
	MCS            int
	Bandwidth      int
	NoiseFloor     int
	Channel        int
	LocalTimestamp uint64 // microseconds since ESP32 boot
	Samples        []int  // interleaved imaginary, real
	Received       time.Time
}

// Width returns the raw sample count
func (f *Frame) Width() int {
	return len(f.Samples)
}

// RawCSI renders the samples as the comma separated form read by csi.Decode
func (f *Frame) RawCSI() string {
	var b strings.Builder
	for i, v := range f.Samples {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

// Line renders the frame the way the firmware prints it, without a newline
func (f *Frame) Line() string {
	meta := make([]string, fullFields)
	for i := range meta {
		meta[i] = "0"
	}
	meta[fieldType] = LinePrefix
	meta[fieldRole] = f.Role
	meta[fieldMAC] = f.MAC
	meta[fieldRSSI] = strconv.Itoa(f.RSSI)
	meta[fieldRate] = strconv.Itoa(f.Rate)
	meta[fieldSigMode] = strconv.Itoa(int(f.SigMode))
	meta[fieldMCS] = strconv.Itoa(f.MCS)
	meta[fieldBandwidth] = strconv.Itoa(f.Bandwidth)
	meta[fieldNoiseFloor] = strconv.Itoa(f.NoiseFloor)
	meta[fieldChannel] = strconv.Itoa(f.Channel)
	meta[fieldLocalTimestamp] = strconv.FormatUint(f.LocalTimestamp, 10)
	meta[fieldLen] = strconv.Itoa(len(f.Samples))

	var b strings.Builder
	b.WriteString(strings.Join(meta, ","))
	b.WriteString(",[")
	for _, v := range f.Samples {
		b.WriteString(strconv.Itoa(v))
		b.WriteByte(' ')
	}
	b.WriteByte(']')
	return b.String()
}

type intField struct {
	name string
	pos  int
	dst  *int
}

// ParseLine parses one firmware line. Lines not starting with CSI_DATA return
// ErrNotCSI; truncated or inconsistent lines return an error wrapping
// ErrMalformed. The CSI array may be space or comma separated.
func ParseLine(line string) (*Frame, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, LinePrefix+",") {
		return nil, ErrNotCSI
	}

	open := strings.IndexByte(line, '[')
	if open < 0 {
		return nil, fmt.Errorf("%w: missing CSI array", ErrMalformed)
	}
	end := strings.LastIndexByte(line, ']')
	if end < open {
		return nil, fmt.Errorf("%w: unterminated CSI array", ErrMalformed)
	}

	head := strings.TrimSuffix(strings.TrimSpace(line[:open]), ",")
	head = strings.TrimSuffix(head, "\"")
	head = strings.TrimSuffix(head, ",")
	meta := strings.Split(head, ",")
	if len(meta) < shortFields {
		return nil, fmt.Errorf("%w: %d metadata fields, need at least %d", ErrMalformed, len(meta), shortFields)
	}

	f := &Frame{
		Role: meta[fieldRole],
		MAC:  meta[fieldMAC],
	}

	ints := []intField{
		{"rssi", fieldRSSI, &f.RSSI},
		{"rate", fieldRate, &f.Rate},
	}
	if len(meta) >= fullFields {
		ints = append(ints,
			intField{"mcs", fieldMCS, &f.MCS},
			intField{"bandwidth", fieldBandwidth, &f.Bandwidth},
			intField{"noise_floor", fieldNoiseFloor, &f.NoiseFloor},
			intField{"channel", fieldChannel, &f.Channel},
		)
	}
	for _, field := range ints {
		v, err := strconv.Atoi(strings.TrimSpace(meta[field.pos]))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, field.name, err)
		}
		*field.dst = v
	}

	mode, err := strconv.Atoi(strings.TrimSpace(meta[fieldSigMode]))
	if err != nil {
		return nil, fmt.Errorf("%w: sig_mode: %v", ErrMalformed, err)
	}
	f.SigMode = csi.SigMode(mode)

	if len(meta) >= fullFields {
		ts, err := strconv.ParseUint(strings.TrimSpace(meta[fieldLocalTimestamp]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: local_timestamp: %v", ErrMalformed, err)
		}
		f.LocalTimestamp = ts
	}

	length, err := strconv.Atoi(strings.TrimSpace(meta[len(meta)-1]))
	if err != nil {
		return nil, fmt.Errorf("%w: len: %v", ErrMalformed, err)
	}

	tokens := strings.Fields(strings.ReplaceAll(line[open+1:end], ",", " "))
	if len(tokens) != length {
		return nil, fmt.Errorf("%w: len says %d samples, got %d", ErrMalformed, length, len(tokens))
	}
	f.Samples = make([]int, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", ErrMalformed, i, err)
		}
		f.Samples[i] = v
	}

	return f, nil
}
