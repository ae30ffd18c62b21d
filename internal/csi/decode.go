package csi

import (
	"fmt"
	"strconv"
	"strings"
)

// SigMode is the PHY signal mode reported by the ESP32 for a capture
type SigMode int

const (
	NonHT SigMode = 0 // legacy 802.11a/g
	HT    SigMode = 1 // 802.11n high throughput
)

func (m SigMode) String() string {
	switch m {
	case NonHT:
		return "non-HT"
	case HT:
		return "HT"
	default:
		return fmt.Sprintf("sig_mode(%d)", int(m))
	}
}

// Record is one CSI capture as delivered by the ingestion layer
type Record struct {
	SigMode SigMode
	RawCSI  string // comma separated (imaginary, real) integers
}

// Decoded is a record whose CSI field parsed successfully
type Decoded struct {
	Index   int   // position of the record in the batch handed to DecodeBatch
	Samples []int // interleaved imaginary, real
}

// Width returns the raw sample count of the record
func (d Decoded) Width() int {
	return len(d.Samples)
}

// Batch is the decoder output for one homogeneous group of records
type Batch struct {
	Records  []Decoded
	Filtered int           // records excluded by signal mode
	Failures []*ParseError // records dropped because they failed to decode
}

// Decode parses a raw CSI string into interleaved imaginary/real integers.
// Surrounding whitespace and an enclosing pair of brackets are tolerated.
func Decode(raw string) ([]int, error) {
	return decode(raw, -1)
}

func decode(raw string, index int) ([]int, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if s == "" {
		return nil, &ParseError{Index: index, Position: -1, Err: errEmptySequence}
	}

	tokens := strings.Split(s, ",")
	if strings.TrimSpace(tokens[len(tokens)-1]) == "" {
		// trailing separator
		tokens = tokens[:len(tokens)-1]
	}

	samples := make([]int, len(tokens))
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, &ParseError{Index: index, Position: i, Token: tok, Err: err}
		}
		samples[i] = v
	}

	if len(samples)%2 != 0 {
		return nil, &ParseError{Index: index, Position: -1, Err: fmt.Errorf("%w: %d", errOddLength, len(samples))}
	}
	return samples, nil
}

// Filter keeps the records captured with the given signal mode
func Filter(records []Record, mode SigMode) []Record {
	var kept []Record
	for _, r := range records {
		if r.SigMode == mode {
			kept = append(kept, r)
		}
	}
	return kept
}

// DecodeBatch filters records by signal mode and decodes the survivors.
// A record that fails to decode is reported in Failures and does not affect
// the others. ErrEmptyBatch is returned when nothing decodable remains.
func DecodeBatch(records []Record, mode SigMode) (*Batch, error) {
	batch := &Batch{}

	for i, r := range records {
		if r.SigMode != mode {
			batch.Filtered++
			continue
		}

		samples, err := decode(r.RawCSI, i)
		if err != nil {
			batch.Failures = append(batch.Failures, err.(*ParseError))
			continue
		}
		batch.Records = append(batch.Records, Decoded{Index: i, Samples: samples})
	}

	if len(batch.Records) == 0 {
		if len(batch.Failures) > 0 {
			return batch, fmt.Errorf("all %d %s records failed to decode: %w", len(batch.Failures), mode, ErrEmptyBatch)
		}
		return batch, fmt.Errorf("no %s records among %d: %w", mode, len(records), ErrEmptyBatch)
	}
	return batch, nil
}
